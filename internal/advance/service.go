package advance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/shared"
)

// TxRepository exposes transactional advance operations. Ledger returns
// the posting engine bound to the same transaction.
type TxRepository interface {
	Ledger() ledger.TxRepository
	InsertAdvance(ctx context.Context, a Advance) (Advance, error)
	GetAdvance(ctx context.Context, companyID, id int64) (Advance, error)
	GetAdvanceForUpdate(ctx context.Context, companyID, id int64) (Advance, error)
	UpdateAdvance(ctx context.Context, a Advance) error
	InsertAdjustment(ctx context.Context, adj Adjustment) error
	DeleteAdjustment(ctx context.Context, advanceID, receiptID int64) error
	ListAdvancesByFarmer(ctx context.Context, companyID, farmerID int64) ([]Advance, error)
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records advance events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the advance lifecycle.
type Service struct {
	repo       RepositoryPort
	audit      AuditPort
	invalidate shared.OutstandingInvalidator
	now        func() time.Time
}

// NewService constructs the advance service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithInvalidator registers the cache invalidator called after writes.
func (s *Service) WithInvalidator(inv shared.OutstandingInvalidator) {
	s.invalidate = inv
}

// Issue creates an Active advance and posts its disbursement voucher
// (debit category receivable, credit Cash/Bank) in the same
// transaction. A posting failure aborts the whole unit.
func (s *Service) Issue(ctx context.Context, input IssueInput) (Advance, error) {
	if err := input.Validate(); err != nil {
		return Advance{}, err
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}
	var created Advance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.Ledger().NextDocNumber(ctx, input.CompanyID, "ADVANCE")
		if err != nil {
			return err
		}
		moneyLedger, moneyGroup := input.PaymentMode.MoneyLedger()
		voucher, err := ledger.PostTx(ctx, tx.Ledger(), ledger.PostingInput{
			CompanyID:    input.CompanyID,
			ActorID:      input.ActorID,
			Type:         ledger.VoucherTypePayment,
			Date:         date,
			Narration:    fmt.Sprintf("Advance disbursed to farmer %d", input.FarmerID),
			SourceModule: "advance",
			SourceID:     uuid.New(),
			Entries: []ledger.EntryInput{
				{LedgerName: input.Category.LedgerName(), Group: ledger.GroupReceivable, Debit: input.Amount},
				{LedgerName: moneyLedger, Group: moneyGroup, Credit: input.Amount},
			},
		}, s.now())
		if err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrPostingFailed, err)
		}
		created, err = tx.InsertAdvance(ctx, Advance{
			CompanyID:     input.CompanyID,
			FarmerID:      input.FarmerID,
			Number:        ledger.FormatDocNumber("AD", seq),
			Category:      input.Category,
			Date:          date,
			AdvanceAmount: input.Amount,
			BalanceAmount: input.Amount,
			PaymentMode:   input.PaymentMode,
			Narration:     input.Narration,
			Status:        StatusActive,
			VoucherID:     &voucher.ID,
			CreatedBy:     input.ActorID,
		})
		return err
	})
	if err != nil {
		return Advance{}, err
	}
	s.recordAudit(ctx, input.CompanyID, input.ActorID, "advance.issue", created.ID, map[string]any{
		"number": created.Number,
		"amount": created.AdvanceAmount,
	})
	s.dropCache(ctx, created.CompanyID, created.FarmerID)
	return created, nil
}

// Cancel voids an unserviced advance and cancels its voucher.
func (s *Service) Cancel(ctx context.Context, companyID, advanceID, actorID int64, reason string) (Advance, error) {
	if advanceID == 0 {
		return Advance{}, errors.New("advance: id required")
	}
	var cancelled Advance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetAdvanceForUpdate(ctx, companyID, advanceID)
		if err != nil {
			return err
		}
		if current.Status == StatusCancelled {
			return ErrCancelled
		}
		if current.AdjustedAmount > 0 {
			return ErrPartlyAdjusted
		}
		now := s.now()
		current.Status = StatusCancelled
		current.CancelReason = reason
		current.CancelledAt = &now
		if err := tx.UpdateAdvance(ctx, current); err != nil {
			return err
		}
		if current.VoucherID != nil {
			if _, err := ledger.CancelTx(ctx, tx.Ledger(), companyID, *current.VoucherID, actorID, now); err != nil {
				return fmt.Errorf("%w: %v", ledger.ErrPostingFailed, err)
			}
		}
		cancelled = current
		return nil
	})
	if err != nil {
		return Advance{}, err
	}
	s.recordAudit(ctx, companyID, actorID, "advance.cancel", advanceID, map[string]any{"reason": reason})
	s.dropCache(ctx, companyID, cancelled.FarmerID)
	return cancelled, nil
}

// Get returns one advance with its adjustments.
func (s *Service) Get(ctx context.Context, companyID, advanceID int64) (Advance, error) {
	var out Advance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.GetAdvance(ctx, companyID, advanceID)
		return err
	})
	return out, err
}

// ListByFarmer returns a farmer's advances, oldest first.
func (s *Service) ListByFarmer(ctx context.Context, companyID, farmerID int64) ([]Advance, error) {
	var out []Advance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListAdvancesByFarmer(ctx, companyID, farmerID)
		return err
	})
	return out, err
}

func (s *Service) dropCache(ctx context.Context, companyID, farmerID int64) {
	if s.invalidate != nil {
		s.invalidate.InvalidateFarmer(ctx, companyID, farmerID)
	}
}

func (s *Service) recordAudit(ctx context.Context, companyID, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "advance",
		EntityID:  fmt.Sprintf("%d", entityID),
		Meta:      meta,
		At:        s.now(),
	})
}
