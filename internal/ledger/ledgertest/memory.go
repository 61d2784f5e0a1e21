// Package ledgertest provides an in-memory posting repository for
// service tests across the engines that post vouchers.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dairyledger/dairyledger/internal/ledger"
)

// Memory implements ledger.RepositoryPort and ledger.TxRepository over
// maps. It is not safe for concurrent use.
type Memory struct {
	Ledgers  map[int64]ledger.Ledger
	Vouchers map[int64]ledger.Voucher
	Entries  map[int64][]ledger.Entry

	byName        map[string]int64
	sequences     map[string]int64
	nextLedgerID  int64
	nextVoucherID int64
	nextEntryID   int64

	// FailNextInsert forces the next InsertVoucher to fail, for
	// atomicity tests.
	FailNextInsert error
}

// NewMemory constructs an empty Memory repository.
func NewMemory() *Memory {
	return &Memory{
		Ledgers:   make(map[int64]ledger.Ledger),
		Vouchers:  make(map[int64]ledger.Voucher),
		Entries:   make(map[int64][]ledger.Entry),
		byName:    make(map[string]int64),
		sequences: make(map[string]int64),
	}
}

// WithTx satisfies ledger.RepositoryPort. The fake has no transaction
// semantics; callers asserting rollback behaviour use FailNextInsert
// before any writes occur.
func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return fn(ctx, m)
}

func nameKey(companyID int64, name string) string {
	return fmt.Sprintf("%d|%s", companyID, name)
}

// GetOrCreateLedger implements ledger.TxRepository.
func (m *Memory) GetOrCreateLedger(ctx context.Context, companyID int64, name string, group ledger.Group) (ledger.Ledger, error) {
	if id, ok := m.byName[nameKey(companyID, name)]; ok {
		return m.Ledgers[id], nil
	}
	if group == "" {
		group = ledger.GroupParty
	}
	m.nextLedgerID++
	account := ledger.Ledger{
		ID:        m.nextLedgerID,
		CompanyID: companyID,
		Name:      name,
		Group:     group,
		IsActive:  true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.Ledgers[account.ID] = account
	m.byName[nameKey(companyID, name)] = account.ID
	return account, nil
}

// GetLedger implements ledger.TxRepository.
func (m *Memory) GetLedger(ctx context.Context, companyID, id int64) (ledger.Ledger, error) {
	account, ok := m.Ledgers[id]
	if !ok || account.CompanyID != companyID {
		return ledger.Ledger{}, ledger.ErrLedgerNotFound
	}
	return account, nil
}

// ListLedgers implements ledger.TxRepository.
func (m *Memory) ListLedgers(ctx context.Context, companyID int64) ([]ledger.Ledger, error) {
	var out []ledger.Ledger
	for _, account := range m.Ledgers {
		if account.CompanyID == companyID {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetLedgerActive implements ledger.TxRepository.
func (m *Memory) SetLedgerActive(ctx context.Context, companyID, id int64, active bool) error {
	account, ok := m.Ledgers[id]
	if !ok || account.CompanyID != companyID {
		return ledger.ErrLedgerNotFound
	}
	account.IsActive = active
	m.Ledgers[id] = account
	return nil
}

// AddLedgerBalance implements ledger.TxRepository.
func (m *Memory) AddLedgerBalance(ctx context.Context, ledgerID int64, delta float64) error {
	account, ok := m.Ledgers[ledgerID]
	if !ok {
		return ledger.ErrLedgerNotFound
	}
	account.CurrentBalance = ledger.Round2(account.CurrentBalance + delta)
	m.Ledgers[ledgerID] = account
	return nil
}

// NextDocNumber implements ledger.TxRepository.
func (m *Memory) NextDocNumber(ctx context.Context, companyID int64, docType string) (int64, error) {
	key := fmt.Sprintf("%d|%s", companyID, docType)
	m.sequences[key]++
	return m.sequences[key], nil
}

// InsertVoucher implements ledger.TxRepository.
func (m *Memory) InsertVoucher(ctx context.Context, v ledger.Voucher) (ledger.Voucher, error) {
	if m.FailNextInsert != nil {
		err := m.FailNextInsert
		m.FailNextInsert = nil
		return ledger.Voucher{}, err
	}
	m.nextVoucherID++
	v.ID = m.nextVoucherID
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	m.Vouchers[v.ID] = v
	return v, nil
}

// InsertEntries implements ledger.TxRepository.
func (m *Memory) InsertEntries(ctx context.Context, voucherID int64, entries []ledger.Entry) error {
	for _, entry := range entries {
		m.nextEntryID++
		entry.ID = m.nextEntryID
		entry.VoucherID = voucherID
		m.Entries[voucherID] = append(m.Entries[voucherID], entry)
	}
	return nil
}

// GetVoucherWithEntries implements ledger.TxRepository.
func (m *Memory) GetVoucherWithEntries(ctx context.Context, companyID, voucherID int64) (ledger.Voucher, error) {
	v, ok := m.Vouchers[voucherID]
	if !ok || v.CompanyID != companyID {
		return ledger.Voucher{}, ledger.ErrVoucherNotFound
	}
	v.Entries = append([]ledger.Entry(nil), m.Entries[voucherID]...)
	for i := range v.Entries {
		if account, ok := m.Ledgers[v.Entries[i].LedgerID]; ok {
			v.Entries[i].LedgerName = account.Name
		}
	}
	return v, nil
}

// ListVouchers implements ledger.TxRepository.
func (m *Memory) ListVouchers(ctx context.Context, companyID int64, filter ledger.VoucherFilter) ([]ledger.Voucher, error) {
	var out []ledger.Voucher
	for _, v := range m.Vouchers {
		if v.CompanyID != companyID {
			continue
		}
		if filter.Type != "" && v.Type != filter.Type {
			continue
		}
		if !filter.DateFrom.IsZero() && v.Date.Before(filter.DateFrom) {
			continue
		}
		if !filter.DateTo.IsZero() && v.Date.After(filter.DateTo) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateVoucherStatus implements ledger.TxRepository.
func (m *Memory) UpdateVoucherStatus(ctx context.Context, voucherID int64, status ledger.VoucherStatus) error {
	v, ok := m.Vouchers[voucherID]
	if !ok {
		return ledger.ErrVoucherNotFound
	}
	v.Status = status
	m.Vouchers[voucherID] = v
	return nil
}

// Balance returns the current balance of a named ledger, zero when the
// ledger was never provisioned.
func (m *Memory) Balance(companyID int64, name string) float64 {
	id, ok := m.byName[nameKey(companyID, name)]
	if !ok {
		return 0
	}
	return m.Ledgers[id].CurrentBalance
}
