package advance

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/platform/db"
)

// Repository persists advances and their adjustments.
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
		return errors.New("advance repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	tx       pgx.Tx
	ledgerTx ledger.TxRepository
}

// NewTxRepository binds advance persistence to an existing transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx, ledgerTx: ledger.NewTxRepository(tx)}
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return r.ledgerTx
}

const advanceColumns = `id, company_id, farmer_id, number, category, date, advance_amount, adjusted_amount, balance_amount, payment_mode, narration, status, voucher_id, cancel_reason, cancelled_at, created_by, created_at, updated_at`

func (r *txRepository) InsertAdvance(ctx context.Context, a Advance) (Advance, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO advances (company_id, farmer_id, number, category, date, advance_amount, adjusted_amount, balance_amount, payment_mode, narration, status, voucher_id, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING id, created_at, updated_at`, a.CompanyID, a.FarmerID, a.Number, a.Category, a.Date, a.AdvanceAmount, a.AdjustedAmount, a.BalanceAmount, a.PaymentMode, a.Narration, a.Status, a.VoucherID, a.CreatedBy)
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Advance{}, err
	}
	return a, nil
}

func (r *txRepository) GetAdvance(ctx context.Context, companyID, id int64) (Advance, error) {
	return r.getAdvance(ctx, companyID, id, "")
}

func (r *txRepository) GetAdvanceForUpdate(ctx context.Context, companyID, id int64) (Advance, error) {
	return r.getAdvance(ctx, companyID, id, " FOR UPDATE")
}

func (r *txRepository) getAdvance(ctx context.Context, companyID, id int64, suffix string) (Advance, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+advanceColumns+` FROM advances WHERE company_id = $1 AND id = $2`+suffix, companyID, id)
	a, err := scanAdvance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Advance{}, ErrNotFound
	}
	if err != nil {
		return Advance{}, err
	}
	adjustments, err := r.listAdjustments(ctx, a.ID)
	if err != nil {
		return Advance{}, err
	}
	a.Adjustments = adjustments
	return a, nil
}

func (r *txRepository) UpdateAdvance(ctx context.Context, a Advance) error {
	tag, err := r.tx.Exec(ctx, `UPDATE advances SET adjusted_amount = $3, balance_amount = $4, status = $5, cancel_reason = $6, cancelled_at = $7, updated_at = NOW()
WHERE company_id = $1 AND id = $2`, a.CompanyID, a.ID, a.AdjustedAmount, a.BalanceAmount, a.Status, a.CancelReason, a.CancelledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) InsertAdjustment(ctx context.Context, adj Adjustment) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO advance_adjustments (advance_id, receipt_id, amount, occurred_at)
VALUES ($1,$2,$3,$4)`, adj.AdvanceID, adj.ReceiptID, adj.Amount, adj.At)
	return err
}

func (r *txRepository) DeleteAdjustment(ctx context.Context, advanceID, receiptID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM advance_adjustments WHERE advance_id = $1 AND receipt_id = $2`, advanceID, receiptID)
	return err
}

func (r *txRepository) ListAdvancesByFarmer(ctx context.Context, companyID, farmerID int64) ([]Advance, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+advanceColumns+` FROM advances WHERE company_id = $1 AND farmer_id = $2 ORDER BY date, id`, companyID, farmerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var advances []Advance
	for rows.Next() {
		a, err := scanAdvance(rows)
		if err != nil {
			return nil, err
		}
		advances = append(advances, a)
	}
	return advances, rows.Err()
}

func (r *txRepository) listAdjustments(ctx context.Context, advanceID int64) ([]Adjustment, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, advance_id, receipt_id, amount, occurred_at FROM advance_adjustments WHERE advance_id = $1 ORDER BY id`, advanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var adjustments []Adjustment
	for rows.Next() {
		var adj Adjustment
		if err := rows.Scan(&adj.ID, &adj.AdvanceID, &adj.ReceiptID, &adj.Amount, &adj.At); err != nil {
			return nil, err
		}
		adjustments = append(adjustments, adj)
	}
	return adjustments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAdvance(row rowScanner) (Advance, error) {
	var a Advance
	err := row.Scan(&a.ID, &a.CompanyID, &a.FarmerID, &a.Number, &a.Category, &a.Date, &a.AdvanceAmount, &a.AdjustedAmount, &a.BalanceAmount, &a.PaymentMode, &a.Narration, &a.Status, &a.VoucherID, &a.CancelReason, &a.CancelledAt, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}
