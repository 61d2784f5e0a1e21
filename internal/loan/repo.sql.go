package loan

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/platform/db"
)

// Repository persists producer loans and their EMI schedules.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("loan repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	tx       pgx.Tx
	ledgerTx ledger.TxRepository
}

// NewTxRepository binds loan persistence to an existing transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx, ledgerTx: ledger.NewTxRepository(tx)}
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return r.ledgerTx
}

const loanColumns = `id, company_id, farmer_id, number, loan_type, scheme, date, principal_amount, interest_type, interest_rate, interest_amount, total_loan_amount, total_emi, emi_amount, disbursed_amount, recovered_amount, outstanding_amount, payment_mode, status, voucher_id, closed_at, cancel_reason, cancelled_at, created_by, created_at, updated_at`

func (r *txRepository) InsertLoan(ctx context.Context, l ProducerLoan) (ProducerLoan, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO producer_loans (company_id, farmer_id, number, loan_type, scheme, date, principal_amount, interest_type, interest_rate, interest_amount, total_loan_amount, total_emi, emi_amount, disbursed_amount, recovered_amount, outstanding_amount, payment_mode, status, voucher_id, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
RETURNING id, created_at, updated_at`, l.CompanyID, l.FarmerID, l.Number, l.Type, l.Scheme, l.Date, l.PrincipalAmount, l.InterestType, l.InterestRate, l.InterestAmount, l.TotalLoanAmount, l.TotalEMI, l.EMIAmount, l.DisbursedAmount, l.RecoveredAmount, l.OutstandingAmount, l.PaymentMode, l.Status, l.VoucherID, l.CreatedBy)
	if err := row.Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return ProducerLoan{}, err
	}
	return l, nil
}

func (r *txRepository) InsertInstallments(ctx context.Context, loanID int64, rows []Installment) error {
	for _, inst := range rows {
		if _, err := r.tx.Exec(ctx, `INSERT INTO loan_installments (loan_id, emi_number, due_date, amount, paid_amount, status)
VALUES ($1,$2,$3,$4,$5,$6)`, loanID, inst.EmiNumber, inst.DueDate, inst.Amount, inst.PaidAmount, inst.Status); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetLoan(ctx context.Context, companyID, id int64) (ProducerLoan, error) {
	return r.getLoan(ctx, companyID, id, "")
}

func (r *txRepository) GetLoanForUpdate(ctx context.Context, companyID, id int64) (ProducerLoan, error) {
	return r.getLoan(ctx, companyID, id, " FOR UPDATE")
}

func (r *txRepository) getLoan(ctx context.Context, companyID, id int64, suffix string) (ProducerLoan, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+loanColumns+` FROM producer_loans WHERE company_id = $1 AND id = $2`+suffix, companyID, id)
	l, err := scanLoan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProducerLoan{}, ErrNotFound
	}
	if err != nil {
		return ProducerLoan{}, err
	}
	schedule, err := r.listInstallments(ctx, l.ID)
	if err != nil {
		return ProducerLoan{}, err
	}
	l.Schedule = schedule
	return l, nil
}

func (r *txRepository) UpdateLoan(ctx context.Context, l ProducerLoan) error {
	tag, err := r.tx.Exec(ctx, `UPDATE producer_loans SET recovered_amount = $3, outstanding_amount = $4, status = $5, closed_at = $6, cancel_reason = $7, cancelled_at = $8, updated_at = NOW()
WHERE company_id = $1 AND id = $2`, l.CompanyID, l.ID, l.RecoveredAmount, l.OutstandingAmount, l.Status, l.ClosedAt, l.CancelReason, l.CancelledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) UpdateInstallment(ctx context.Context, inst Installment) error {
	tag, err := r.tx.Exec(ctx, `UPDATE loan_installments SET paid_amount = $2, status = $3 WHERE id = $1`, inst.ID, inst.PaidAmount, inst.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInstallmentNotFound
	}
	return nil
}

func (r *txRepository) ListLoansByFarmer(ctx context.Context, companyID, farmerID int64) ([]ProducerLoan, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+loanColumns+` FROM producer_loans WHERE company_id = $1 AND farmer_id = $2 ORDER BY date, id`, companyID, farmerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var loans []ProducerLoan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// ListLoanIDsDueBefore returns loans holding pending installments due
// before asOf, across all tenants, for the overdue sweep.
func (r *txRepository) ListLoanIDsDueBefore(ctx context.Context, asOf time.Time, limit int) ([]LoanRef, error) {
	rows, err := r.tx.Query(ctx, `SELECT DISTINCT l.company_id, l.id
FROM producer_loans l
JOIN loan_installments i ON i.loan_id = l.id
WHERE l.status IN ('ACTIVE','DEFAULTED') AND i.status = 'PENDING' AND i.due_date < $1
ORDER BY l.id LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []LoanRef
	for rows.Next() {
		var ref LoanRef
		if err := rows.Scan(&ref.CompanyID, &ref.LoanID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *txRepository) listInstallments(ctx context.Context, loanID int64) ([]Installment, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, loan_id, emi_number, due_date, amount, paid_amount, status
FROM loan_installments WHERE loan_id = $1 ORDER BY emi_number`, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var schedule []Installment
	for rows.Next() {
		var inst Installment
		if err := rows.Scan(&inst.ID, &inst.LoanID, &inst.EmiNumber, &inst.DueDate, &inst.Amount, &inst.PaidAmount, &inst.Status); err != nil {
			return nil, err
		}
		schedule = append(schedule, inst)
	}
	return schedule, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (ProducerLoan, error) {
	var l ProducerLoan
	err := row.Scan(&l.ID, &l.CompanyID, &l.FarmerID, &l.Number, &l.Type, &l.Scheme, &l.Date, &l.PrincipalAmount, &l.InterestType, &l.InterestRate, &l.InterestAmount, &l.TotalLoanAmount, &l.TotalEMI, &l.EMIAmount, &l.DisbursedAmount, &l.RecoveredAmount, &l.OutstandingAmount, &l.PaymentMode, &l.Status, &l.VoucherID, &l.ClosedAt, &l.CancelReason, &l.CancelledAt, &l.CreatedBy, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}
