package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dairyledger/dairyledger/internal/advance"
	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/loan"
	"github.com/dairyledger/dairyledger/internal/shared"
)

// TxRepository exposes receipt persistence plus the obligation and
// ledger repositories bound to the same transaction, so a receipt, its
// obligation mutation and its voucher commit or roll back together.
type TxRepository interface {
	Ledger() ledger.TxRepository
	Advances() advance.TxRepository
	Loans() loan.TxRepository

	InsertReceipt(ctx context.Context, r ProducerReceipt) (ProducerReceipt, error)
	GetReceipt(ctx context.Context, companyID, id int64) (ProducerReceipt, error)
	GetReceiptForUpdate(ctx context.Context, companyID, id int64) (ProducerReceipt, error)
	UpdateReceipt(ctx context.Context, r ProducerReceipt) error
	ListReceiptsByFarmer(ctx context.Context, companyID, farmerID int64) ([]ProducerReceipt, error)
}

// RepositoryPort runs a function within one transaction.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements the recovery engine.
type Service struct {
	repo       RepositoryPort
	audit      AuditPort
	invalidate shared.OutstandingInvalidator
	now        func() time.Time
}

// NewService constructs Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithInvalidator registers the cache invalidator called after writes.
func (s *Service) WithInvalidator(inv shared.OutstandingInvalidator) {
	s.invalidate = inv
}

// CreateReceipt settles part of one obligation. The obligation
// mutation, the receipt row and the money-in voucher happen in a
// single transaction; over-recovery is rejected before anything
// changes.
func (s *Service) CreateReceipt(ctx context.Context, input CreateReceiptInput) (ProducerReceipt, error) {
	if err := input.Validate(); err != nil {
		return ProducerReceipt{}, err
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}
	var created ProducerReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		var (
			previousBalance float64
			creditLedger    string
			settle          func(receiptID int64) error
		)
		switch input.ReferenceType {
		case ReferenceAdvance:
			adv, err := tx.Advances().GetAdvanceForUpdate(ctx, input.CompanyID, input.ReferenceID)
			if err != nil {
				return err
			}
			if adv.FarmerID != input.FarmerID {
				return advance.ErrNotFound
			}
			previousBalance = adv.BalanceAmount
			if err := advance.ApplyRecovery(&adv, input.Amount); err != nil {
				return err
			}
			if err := tx.Advances().UpdateAdvance(ctx, adv); err != nil {
				return err
			}
			creditLedger = adv.Category.LedgerName()
			settle = func(receiptID int64) error {
				return tx.Advances().InsertAdjustment(ctx, advance.Adjustment{
					AdvanceID: adv.ID,
					ReceiptID: receiptID,
					Amount:    input.Amount,
					At:        now,
				})
			}
		case ReferenceLoan:
			l, err := tx.Loans().GetLoanForUpdate(ctx, input.CompanyID, input.ReferenceID)
			if err != nil {
				return err
			}
			if l.FarmerID != input.FarmerID {
				return loan.ErrNotFound
			}
			previousBalance = l.OutstandingAmount
			if err := loan.ApplyRecovery(&l, input.Amount, now); err != nil {
				return err
			}
			if err := tx.Loans().UpdateLoan(ctx, l); err != nil {
				return err
			}
			creditLedger = l.Type.LedgerName()
		default:
			return errors.New("recovery: unknown reference type")
		}

		seq, err := tx.Ledger().NextDocNumber(ctx, input.CompanyID, "RECEIPT")
		if err != nil {
			return err
		}
		moneyLedger, moneyGroup := input.PaymentMode.MoneyLedger()
		voucher, err := ledger.PostTx(ctx, tx.Ledger(), ledger.PostingInput{
			CompanyID:    input.CompanyID,
			ActorID:      input.ActorID,
			Type:         ledger.VoucherTypeReceipt,
			Date:         date,
			Narration:    fmt.Sprintf("Recovery from farmer %d", input.FarmerID),
			SourceModule: "recovery",
			SourceID:     uuid.New(),
			Entries: []ledger.EntryInput{
				{LedgerName: moneyLedger, Group: moneyGroup, Debit: input.Amount},
				{LedgerName: creditLedger, Group: ledger.GroupReceivable, Credit: input.Amount},
			},
		}, now)
		if err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrPostingFailed, err)
		}

		created, err = tx.InsertReceipt(ctx, ProducerReceipt{
			CompanyID:       input.CompanyID,
			FarmerID:        input.FarmerID,
			Number:          ledger.FormatDocNumber("RC", seq),
			ReferenceType:   input.ReferenceType,
			ReferenceID:     input.ReferenceID,
			Date:            date,
			Amount:          input.Amount,
			PreviousBalance: previousBalance,
			NewBalance:      ledger.Round2(previousBalance - input.Amount),
			PaymentMode:     input.PaymentMode,
			Narration:       input.Narration,
			Status:          StatusActive,
			VoucherID:       &voucher.ID,
			CreatedBy:       input.ActorID,
		})
		if err != nil {
			return err
		}
		if settle != nil {
			return settle(created.ID)
		}
		return nil
	})
	if err != nil {
		return ProducerReceipt{}, err
	}
	s.recordAudit(ctx, input.CompanyID, input.ActorID, "receipt.create", created.ID, map[string]any{
		"number":    created.Number,
		"reference": string(created.ReferenceType),
		"amount":    created.Amount,
	})
	s.dropCache(ctx, created.CompanyID, created.FarmerID)
	return created, nil
}

// Cancel reverses a receipt exactly: the obligation balance and status
// are restored, an auto-closed loan reopens, the adjustment record is
// removed and the voucher is cancelled.
func (s *Service) Cancel(ctx context.Context, companyID, receiptID, actorID int64, reason string) (ProducerReceipt, error) {
	var cancelled ProducerReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetReceiptForUpdate(ctx, companyID, receiptID)
		if err != nil {
			return err
		}
		if current.Status == StatusCancelled {
			return ErrAlreadyCancelled
		}
		switch current.ReferenceType {
		case ReferenceAdvance:
			adv, err := tx.Advances().GetAdvanceForUpdate(ctx, companyID, current.ReferenceID)
			if err != nil {
				return err
			}
			if err := advance.ReverseRecovery(&adv, current.Amount); err != nil {
				return err
			}
			if err := tx.Advances().UpdateAdvance(ctx, adv); err != nil {
				return err
			}
			if err := tx.Advances().DeleteAdjustment(ctx, adv.ID, current.ID); err != nil {
				return err
			}
		case ReferenceLoan:
			l, err := tx.Loans().GetLoanForUpdate(ctx, companyID, current.ReferenceID)
			if err != nil {
				return err
			}
			if err := loan.ReverseRecovery(&l, current.Amount); err != nil {
				return err
			}
			if err := tx.Loans().UpdateLoan(ctx, l); err != nil {
				return err
			}
		}
		now := s.now()
		current.Status = StatusCancelled
		current.CancelReason = reason
		current.CancelledAt = &now
		if err := tx.UpdateReceipt(ctx, current); err != nil {
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
		return ProducerReceipt{}, err
	}
	s.recordAudit(ctx, companyID, actorID, "receipt.cancel", receiptID, map[string]any{"reason": reason})
	s.dropCache(ctx, companyID, cancelled.FarmerID)
	return cancelled, nil
}

// Get returns one receipt.
func (s *Service) Get(ctx context.Context, companyID, receiptID int64) (ProducerReceipt, error) {
	var receipt ProducerReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		receipt, err = tx.GetReceipt(ctx, companyID, receiptID)
		return err
	})
	return receipt, err
}

// ListByFarmer returns the farmer's receipts ordered by date.
func (s *Service) ListByFarmer(ctx context.Context, companyID, farmerID int64) ([]ProducerReceipt, error) {
	var receipts []ProducerReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		receipts, err = tx.ListReceiptsByFarmer(ctx, companyID, farmerID)
		return err
	})
	return receipts, err
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
		Entity:    "producer_receipt",
		EntityID:  fmt.Sprintf("%d", entityID),
		Meta:      meta,
		At:        s.now(),
	})
}
