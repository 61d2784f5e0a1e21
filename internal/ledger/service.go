package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dairyledger/dairyledger/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records posting events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates voucher posting and cancellation.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the posting service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Post creates a balanced voucher and applies its ledger effects in one
// transaction.
func (s *Service) Post(ctx context.Context, input PostingInput) (Voucher, error) {
	if err := input.Validate(); err != nil {
		return Voucher{}, err
	}
	var voucher Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		voucher, err = PostTx(ctx, tx, input, s.now())
		return err
	})
	if err != nil {
		return Voucher{}, err
	}
	s.recordAudit(ctx, input.CompanyID, input.ActorID, "voucher.post", voucher.ID, map[string]any{
		"number": voucher.Number,
		"type":   string(voucher.Type),
		"total":  voucher.TotalDebit,
	})
	return voucher, nil
}

// Cancel posts a mirror voucher and marks the original Cancelled.
func (s *Service) Cancel(ctx context.Context, companyID, voucherID, actorID int64) (Voucher, error) {
	if voucherID == 0 {
		return Voucher{}, errors.New("ledger: voucher id required")
	}
	var reversal Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		reversal, err = CancelTx(ctx, tx, companyID, voucherID, actorID, s.now())
		return err
	})
	if err != nil {
		return Voucher{}, err
	}
	s.recordAudit(ctx, companyID, actorID, "voucher.cancel", voucherID, map[string]any{
		"reversal_number": reversal.Number,
	})
	return reversal, nil
}

// GetVoucher returns one voucher with its entries.
func (s *Service) GetVoucher(ctx context.Context, companyID, voucherID int64) (Voucher, error) {
	var voucher Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		voucher, err = tx.GetVoucherWithEntries(ctx, companyID, voucherID)
		return err
	})
	return voucher, err
}

// ListVouchers returns vouchers matching the filter.
func (s *Service) ListVouchers(ctx context.Context, companyID int64, filter VoucherFilter) ([]Voucher, error) {
	var vouchers []Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		vouchers, err = tx.ListVouchers(ctx, companyID, filter)
		return err
	})
	return vouchers, err
}

// GetLedger returns a single ledger account.
func (s *Service) GetLedger(ctx context.Context, companyID, ledgerID int64) (Ledger, error) {
	var account Ledger
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.GetLedger(ctx, companyID, ledgerID)
		return err
	})
	return account, err
}

// ListLedgers returns all ledger accounts for a company.
func (s *Service) ListLedgers(ctx context.Context, companyID int64) ([]Ledger, error) {
	var accounts []Ledger
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListLedgers(ctx, companyID)
		return err
	})
	return accounts, err
}

// DeactivateLedger soft-deactivates an account. Accounts are never
// deleted.
func (s *Service) DeactivateLedger(ctx context.Context, companyID, ledgerID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetLedger(ctx, companyID, ledgerID); err != nil {
			return err
		}
		return tx.SetLedgerActive(ctx, companyID, ledgerID, false)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, companyID, actorID, "ledger.deactivate", ledgerID, nil)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, companyID, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "voucher",
		EntityID:  fmt.Sprintf("%d", entityID),
		Meta:      meta,
		At:        s.now(),
	})
}
