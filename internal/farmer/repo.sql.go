package farmer

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads farmers and milk payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const farmerColumns = `id, company_id, code, name, village, phone, active, created_at`

// GetFarmer returns one farmer by id.
func (r *Repository) GetFarmer(ctx context.Context, companyID, id int64) (Farmer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+farmerColumns+` FROM farmers WHERE company_id = $1 AND id = $2`, companyID, id)
	var f Farmer
	err := row.Scan(&f.ID, &f.CompanyID, &f.Code, &f.Name, &f.Village, &f.Phone, &f.Active, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Farmer{}, ErrNotFound
	}
	if err != nil {
		return Farmer{}, err
	}
	return f, nil
}

// ListFarmers returns the company's farmers ordered by code.
func (r *Repository) ListFarmers(ctx context.Context, companyID int64) ([]Farmer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+farmerColumns+` FROM farmers WHERE company_id = $1 ORDER BY code`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var farmers []Farmer
	for rows.Next() {
		var f Farmer
		if err := rows.Scan(&f.ID, &f.CompanyID, &f.Code, &f.Name, &f.Village, &f.Phone, &f.Active, &f.CreatedAt); err != nil {
			return nil, err
		}
		farmers = append(farmers, f)
	}
	return farmers, rows.Err()
}

const paymentColumns = `id, company_id, farmer_id, number, period_start, period_end, date, total_amount, total_deduction, paid_amount, net_payable, created_at`

// ListMilkPayments returns the farmer's payment cycles within the
// window, date ascending. Nil bounds leave that side open.
func (r *Repository) ListMilkPayments(ctx context.Context, companyID, farmerID int64, from, to *time.Time) ([]MilkPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM milk_payments WHERE company_id = $1 AND farmer_id = $2`
	args := []any{companyID, farmerID}
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
	query += ` ORDER BY date, id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []MilkPayment
	for rows.Next() {
		var p MilkPayment
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.FarmerID, &p.Number, &p.PeriodStart, &p.PeriodEnd, &p.Date, &p.TotalAmount, &p.TotalDeduction, &p.PaidAmount, &p.NetPayable, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// MilkPaymentTotalsBefore aggregates the payment stream strictly
// before a date.
func (r *Repository) MilkPaymentTotalsBefore(ctx context.Context, companyID, farmerID int64, before time.Time) (PaymentTotals, error) {
	row := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(total_amount),0), COALESCE(SUM(total_deduction),0), COALESCE(SUM(paid_amount),0)
FROM milk_payments WHERE company_id = $1 AND farmer_id = $2 AND date < $3`, companyID, farmerID, before)
	var t PaymentTotals
	if err := row.Scan(&t.TotalAmount, &t.TotalDeduction, &t.TotalPaid); err != nil {
		return PaymentTotals{}, err
	}
	return t, nil
}
