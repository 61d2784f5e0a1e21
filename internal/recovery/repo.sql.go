package recovery

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dairyledger/dairyledger/internal/advance"
	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/loan"
	"github.com/dairyledger/dairyledger/internal/platform/db"
)

// Repository persists producer receipts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction shared by
// the receipt, obligation and ledger repositories.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("recovery repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	tx        pgx.Tx
	ledgerTx  ledger.TxRepository
	advanceTx advance.TxRepository
	loanTx    loan.TxRepository
}

// NewTxRepository binds receipt persistence to an existing transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{
		tx:        tx,
		ledgerTx:  ledger.NewTxRepository(tx),
		advanceTx: advance.NewTxRepository(tx),
		loanTx:    loan.NewTxRepository(tx),
	}
}

func (r *txRepository) Ledger() ledger.TxRepository    { return r.ledgerTx }
func (r *txRepository) Advances() advance.TxRepository { return r.advanceTx }
func (r *txRepository) Loans() loan.TxRepository       { return r.loanTx }

const receiptColumns = `id, company_id, farmer_id, number, reference_type, reference_id, date, amount, previous_balance, new_balance, payment_mode, narration, status, voucher_id, cancel_reason, cancelled_at, created_by, created_at, updated_at`

func (r *txRepository) InsertReceipt(ctx context.Context, p ProducerReceipt) (ProducerReceipt, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO producer_receipts (company_id, farmer_id, number, reference_type, reference_id, date, amount, previous_balance, new_balance, payment_mode, narration, status, voucher_id, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING id, created_at, updated_at`, p.CompanyID, p.FarmerID, p.Number, p.ReferenceType, p.ReferenceID, p.Date, p.Amount, p.PreviousBalance, p.NewBalance, p.PaymentMode, p.Narration, p.Status, p.VoucherID, p.CreatedBy)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return ProducerReceipt{}, err
	}
	return p, nil
}

func (r *txRepository) GetReceipt(ctx context.Context, companyID, id int64) (ProducerReceipt, error) {
	return r.getReceipt(ctx, companyID, id, "")
}

func (r *txRepository) GetReceiptForUpdate(ctx context.Context, companyID, id int64) (ProducerReceipt, error) {
	return r.getReceipt(ctx, companyID, id, " FOR UPDATE")
}

func (r *txRepository) getReceipt(ctx context.Context, companyID, id int64, suffix string) (ProducerReceipt, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM producer_receipts WHERE company_id = $1 AND id = $2`+suffix, companyID, id)
	p, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProducerReceipt{}, ErrNotFound
	}
	if err != nil {
		return ProducerReceipt{}, err
	}
	return p, nil
}

func (r *txRepository) UpdateReceipt(ctx context.Context, p ProducerReceipt) error {
	tag, err := r.tx.Exec(ctx, `UPDATE producer_receipts SET status = $3, cancel_reason = $4, cancelled_at = $5, updated_at = NOW()
WHERE company_id = $1 AND id = $2`, p.CompanyID, p.ID, p.Status, p.CancelReason, p.CancelledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) ListReceiptsByFarmer(ctx context.Context, companyID, farmerID int64) ([]ProducerReceipt, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+receiptColumns+` FROM producer_receipts WHERE company_id = $1 AND farmer_id = $2 ORDER BY date, id`, companyID, farmerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var receipts []ProducerReceipt
	for rows.Next() {
		p, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, p)
	}
	return receipts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (ProducerReceipt, error) {
	var p ProducerReceipt
	err := row.Scan(&p.ID, &p.CompanyID, &p.FarmerID, &p.Number, &p.ReferenceType, &p.ReferenceID, &p.Date, &p.Amount, &p.PreviousBalance, &p.NewBalance, &p.PaymentMode, &p.Narration, &p.Status, &p.VoucherID, &p.CancelReason, &p.CancelledAt, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
