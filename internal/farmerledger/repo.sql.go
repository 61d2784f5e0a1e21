package farmerledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dairyledger/dairyledger/internal/advance"
	"github.com/dairyledger/dairyledger/internal/farmer"
	"github.com/dairyledger/dairyledger/internal/loan"
	"github.com/dairyledger/dairyledger/internal/recovery"
)

// Repository reads the four streams directly. All queries exclude
// Cancelled records.
type Repository struct {
	pool    *pgxpool.Pool
	farmers *farmer.Repository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, farmers: farmer.NewRepository(pool)}
}

// MilkPayments implements ReadPort via the farmer repository.
func (r *Repository) MilkPayments(ctx context.Context, companyID, farmerID int64, from, to *time.Time) ([]farmer.MilkPayment, error) {
	return r.farmers.ListMilkPayments(ctx, companyID, farmerID, from, to)
}

func dateWindow(query string, args []any, from, to *time.Time) (string, []any) {
	if from != nil {
		args = append(args, *from)
		query += ` AND date >= $3`
	}
	if to != nil {
		args = append(args, *to)
		if from != nil {
			query += ` AND date <= $4`
		} else {
			query += ` AND date <= $3`
		}
	}
	return query + ` ORDER BY date, id`, args
}

// Advances implements ReadPort.
func (r *Repository) Advances(ctx context.Context, companyID, farmerID int64, from, to *time.Time) ([]advance.Advance, error) {
	query, args := dateWindow(`SELECT id, number, category, date, advance_amount FROM advances
WHERE company_id = $1 AND farmer_id = $2 AND status <> 'CANCELLED'`, []any{companyID, farmerID}, from, to)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var advances []advance.Advance
	for rows.Next() {
		var a advance.Advance
		if err := rows.Scan(&a.ID, &a.Number, &a.Category, &a.Date, &a.AdvanceAmount); err != nil {
			return nil, err
		}
		advances = append(advances, a)
	}
	return advances, rows.Err()
}

// Loans implements ReadPort.
func (r *Repository) Loans(ctx context.Context, companyID, farmerID int64, from, to *time.Time) ([]loan.ProducerLoan, error) {
	query, args := dateWindow(`SELECT id, number, type, date, principal_amount FROM producer_loans
WHERE company_id = $1 AND farmer_id = $2 AND status <> 'CANCELLED'`, []any{companyID, farmerID}, from, to)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var loans []loan.ProducerLoan
	for rows.Next() {
		var l loan.ProducerLoan
		if err := rows.Scan(&l.ID, &l.Number, &l.Type, &l.Date, &l.PrincipalAmount); err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// Receipts implements ReadPort.
func (r *Repository) Receipts(ctx context.Context, companyID, farmerID int64, from, to *time.Time) ([]recovery.ProducerReceipt, error) {
	query, args := dateWindow(`SELECT id, number, reference_type, date, amount FROM producer_receipts
WHERE company_id = $1 AND farmer_id = $2 AND status <> 'CANCELLED'`, []any{companyID, farmerID}, from, to)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var receipts []recovery.ProducerReceipt
	for rows.Next() {
		var p recovery.ProducerReceipt
		if err := rows.Scan(&p.ID, &p.Number, &p.ReferenceType, &p.Date, &p.Amount); err != nil {
			return nil, err
		}
		receipts = append(receipts, p)
	}
	return receipts, rows.Err()
}

// PaymentTotalsBefore implements ReadPort.
func (r *Repository) PaymentTotalsBefore(ctx context.Context, companyID, farmerID int64, before time.Time) (farmer.PaymentTotals, error) {
	return r.farmers.MilkPaymentTotalsBefore(ctx, companyID, farmerID, before)
}

// AdvanceTotalsBefore implements ReadPort.
func (r *Repository) AdvanceTotalsBefore(ctx context.Context, companyID, farmerID int64, before time.Time) (float64, float64, error) {
	row := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(advance_amount),0), COALESCE(SUM(adjusted_amount),0)
FROM advances WHERE company_id = $1 AND farmer_id = $2 AND status <> 'CANCELLED' AND date < $3`, companyID, farmerID, before)
	var total, adjusted float64
	if err := row.Scan(&total, &adjusted); err != nil {
		return 0, 0, err
	}
	return total, adjusted, nil
}

// LoanPrincipalBefore implements ReadPort.
func (r *Repository) LoanPrincipalBefore(ctx context.Context, companyID, farmerID int64, before time.Time) (float64, error) {
	row := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(principal_amount),0)
FROM producer_loans WHERE company_id = $1 AND farmer_id = $2 AND status <> 'CANCELLED' AND date < $3`, companyID, farmerID, before)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// ReceiptTotalBefore implements ReadPort.
func (r *Repository) ReceiptTotalBefore(ctx context.Context, companyID, farmerID int64, before time.Time) (float64, error) {
	row := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount),0)
FROM producer_receipts WHERE company_id = $1 AND farmer_id = $2 AND status <> 'CANCELLED' AND date < $3`, companyID, farmerID, before)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// OpenAdvances implements ReadPort, oldest first.
func (r *Repository) OpenAdvances(ctx context.Context, companyID, farmerID int64) ([]advance.Advance, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, category, date, balance_amount FROM advances
WHERE company_id = $1 AND farmer_id = $2 AND status IN ('ACTIVE','PARTIALLY_ADJUSTED') ORDER BY date, id`, companyID, farmerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var advances []advance.Advance
	for rows.Next() {
		var a advance.Advance
		if err := rows.Scan(&a.ID, &a.Number, &a.Category, &a.Date, &a.BalanceAmount); err != nil {
			return nil, err
		}
		advances = append(advances, a)
	}
	return advances, rows.Err()
}

// OpenLoans implements ReadPort, oldest first.
func (r *Repository) OpenLoans(ctx context.Context, companyID, farmerID int64) ([]loan.ProducerLoan, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, type, date, outstanding_amount FROM producer_loans
WHERE company_id = $1 AND farmer_id = $2 AND status IN ('ACTIVE','DEFAULTED') ORDER BY date, id`, companyID, farmerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var loans []loan.ProducerLoan
	for rows.Next() {
		var l loan.ProducerLoan
		if err := rows.Scan(&l.ID, &l.Number, &l.Type, &l.Date, &l.OutstandingAmount); err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}
