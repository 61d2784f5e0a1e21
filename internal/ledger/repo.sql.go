package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dairyledger/dairyledger/internal/platform/db"
)

// Repository persists ledgers, vouchers and document sequences.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ErrDuplicateNumber indicates a voucher number collision; unreachable
// while numbers come from the doc_sequences counter.
var ErrDuplicateNumber = errors.New("ledger: duplicate voucher number")

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds the posting engine to an existing transaction
// owned by another engine.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) GetOrCreateLedger(ctx context.Context, companyID int64, name string, group Group) (Ledger, error) {
	if group == "" {
		group = GroupParty
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO ledgers (company_id, name, ledger_group)
VALUES ($1, $2, $3)
ON CONFLICT (company_id, name) DO UPDATE SET updated_at = NOW()
RETURNING id, company_id, name, ledger_group, opening_balance, current_balance, is_active, created_at, updated_at`, companyID, name, group)
	return scanLedger(row)
}

func (r *txRepository) GetLedger(ctx context.Context, companyID, id int64) (Ledger, error) {
	row := r.tx.QueryRow(ctx, `SELECT id, company_id, name, ledger_group, opening_balance, current_balance, is_active, created_at, updated_at
FROM ledgers WHERE company_id = $1 AND id = $2`, companyID, id)
	account, err := scanLedger(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Ledger{}, ErrLedgerNotFound
	}
	return account, err
}

func (r *txRepository) ListLedgers(ctx context.Context, companyID int64) ([]Ledger, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, company_id, name, ledger_group, opening_balance, current_balance, is_active, created_at, updated_at
FROM ledgers WHERE company_id = $1 ORDER BY name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Ledger
	for rows.Next() {
		account, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (r *txRepository) SetLedgerActive(ctx context.Context, companyID, id int64, active bool) error {
	tag, err := r.tx.Exec(ctx, `UPDATE ledgers SET is_active = $3, updated_at = NOW() WHERE company_id = $1 AND id = $2`, companyID, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLedgerNotFound
	}
	return nil
}

// AddLedgerBalance applies a signed delta as a single atomic UPDATE so
// concurrent postings to the same ledger never lose increments.
func (r *txRepository) AddLedgerBalance(ctx context.Context, ledgerID int64, delta float64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE ledgers SET current_balance = current_balance + $2, updated_at = NOW() WHERE id = $1`, ledgerID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLedgerNotFound
	}
	return nil
}

// NextDocNumber returns the next value of the (company, doc type)
// counter via an atomic upsert-and-return; never a count of rows.
func (r *txRepository) NextDocNumber(ctx context.Context, companyID int64, docType string) (int64, error) {
	var value int64
	err := r.tx.QueryRow(ctx, `INSERT INTO doc_sequences (company_id, doc_type, value)
VALUES ($1, $2, 1)
ON CONFLICT (company_id, doc_type) DO UPDATE SET value = doc_sequences.value + 1
RETURNING value`, companyID, docType).Scan(&value)
	return value, err
}

func (r *txRepository) InsertVoucher(ctx context.Context, v Voucher) (Voucher, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO vouchers (company_id, number, type, date, narration, source_module, source_id, total_debit, total_credit, status, posted_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id, created_at, updated_at`, v.CompanyID, v.Number, v.Type, v.Date, v.Narration, v.SourceModule, v.SourceID, v.TotalDebit, v.TotalCredit, v.Status, nullInt(v.PostedBy))
	if err := row.Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt); err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.ConstraintName == "uq_vouchers_company_number" {
			return Voucher{}, ErrDuplicateNumber
		}
		return Voucher{}, err
	}
	return v, nil
}

func (r *txRepository) InsertEntries(ctx context.Context, voucherID int64, entries []Entry) error {
	for _, entry := range entries {
		if _, err := r.tx.Exec(ctx, `INSERT INTO voucher_entries (voucher_id, ledger_id, debit, credit)
VALUES ($1,$2,$3,$4)`, voucherID, entry.LedgerID, entry.Debit, entry.Credit); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetVoucherWithEntries(ctx context.Context, companyID, voucherID int64) (Voucher, error) {
	row := r.tx.QueryRow(ctx, `SELECT id, company_id, number, type, date, narration, source_module, source_id, total_debit, total_credit, status, COALESCE(posted_by, 0), created_at, updated_at
FROM vouchers WHERE company_id = $1 AND id = $2`, companyID, voucherID)
	var v Voucher
	err := row.Scan(&v.ID, &v.CompanyID, &v.Number, &v.Type, &v.Date, &v.Narration, &v.SourceModule, &v.SourceID, &v.TotalDebit, &v.TotalCredit, &v.Status, &v.PostedBy, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Voucher{}, ErrVoucherNotFound
	}
	if err != nil {
		return Voucher{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT e.id, e.voucher_id, e.ledger_id, l.name, e.debit, e.credit
FROM voucher_entries e JOIN ledgers l ON l.id = e.ledger_id
WHERE e.voucher_id = $1 ORDER BY e.id`, voucherID)
	if err != nil {
		return Voucher{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.ID, &entry.VoucherID, &entry.LedgerID, &entry.LedgerName, &entry.Debit, &entry.Credit); err != nil {
			return Voucher{}, err
		}
		v.Entries = append(v.Entries, entry)
	}
	return v, rows.Err()
}

func (r *txRepository) ListVouchers(ctx context.Context, companyID int64, filter VoucherFilter) ([]Voucher, error) {
	query := `SELECT id, company_id, number, type, date, narration, source_module, source_id, total_debit, total_credit, status, COALESCE(posted_by, 0), created_at, updated_at
FROM vouchers WHERE company_id = $1`
	args := []any{companyID}
	var conds []string
	if filter.Type != "" {
		args = append(args, filter.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if !filter.DateFrom.IsZero() {
		args = append(args, filter.DateFrom)
		conds = append(conds, fmt.Sprintf("date >= $%d", len(args)))
	}
	if !filter.DateTo.IsZero() {
		args = append(args, filter.DateTo)
		conds = append(conds, fmt.Sprintf("date <= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " AND " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var vouchers []Voucher
	for rows.Next() {
		var v Voucher
		if err := rows.Scan(&v.ID, &v.CompanyID, &v.Number, &v.Type, &v.Date, &v.Narration, &v.SourceModule, &v.SourceID, &v.TotalDebit, &v.TotalCredit, &v.Status, &v.PostedBy, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, rows.Err()
}

func (r *txRepository) UpdateVoucherStatus(ctx context.Context, voucherID int64, status VoucherStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE vouchers SET status = $2, updated_at = NOW() WHERE id = $1`, voucherID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVoucherNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedger(row rowScanner) (Ledger, error) {
	var l Ledger
	err := row.Scan(&l.ID, &l.CompanyID, &l.Name, &l.Group, &l.OpeningBalance, &l.CurrentBalance, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
