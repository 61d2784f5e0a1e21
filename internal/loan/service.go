package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/shared"
)

// TxRepository exposes transactional loan operations. Ledger returns
// the posting engine bound to the same transaction.
type TxRepository interface {
	Ledger() ledger.TxRepository
	InsertLoan(ctx context.Context, l ProducerLoan) (ProducerLoan, error)
	InsertInstallments(ctx context.Context, loanID int64, rows []Installment) error
	GetLoan(ctx context.Context, companyID, id int64) (ProducerLoan, error)
	GetLoanForUpdate(ctx context.Context, companyID, id int64) (ProducerLoan, error)
	UpdateLoan(ctx context.Context, l ProducerLoan) error
	UpdateInstallment(ctx context.Context, inst Installment) error
	ListLoansByFarmer(ctx context.Context, companyID, farmerID int64) ([]ProducerLoan, error)
	ListLoanIDsDueBefore(ctx context.Context, asOf time.Time, limit int) ([]LoanRef, error)
}

// LoanRef identifies a loan within its tenant.
type LoanRef struct {
	CompanyID int64
	LoanID    int64
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records loan events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the producer loan lifecycle.
type Service struct {
	repo       RepositoryPort
	audit      AuditPort
	invalidate shared.OutstandingInvalidator
	now        func() time.Time
}

// NewService constructs the loan service.
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

// Disburse creates a loan with its EMI schedule and posts the
// disbursement voucher for the principal in the same transaction.
func (s *Service) Disburse(ctx context.Context, input DisburseInput) (ProducerLoan, error) {
	if err := input.Validate(); err != nil {
		return ProducerLoan{}, err
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}
	interest := input.ComputeInterest()
	total := ledger.Round2(input.Principal + interest)
	emiAmount, schedule := BuildSchedule(total, input.TotalEMI, input.Scheme, date)

	var created ProducerLoan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.Ledger().NextDocNumber(ctx, input.CompanyID, "LOAN")
		if err != nil {
			return err
		}
		moneyLedger, moneyGroup := input.PaymentMode.MoneyLedger()
		voucher, err := ledger.PostTx(ctx, tx.Ledger(), ledger.PostingInput{
			CompanyID:    input.CompanyID,
			ActorID:      input.ActorID,
			Type:         ledger.VoucherTypePayment,
			Date:         date,
			Narration:    fmt.Sprintf("Loan disbursed to farmer %d", input.FarmerID),
			SourceModule: "loan",
			SourceID:     uuid.New(),
			Entries: []ledger.EntryInput{
				{LedgerName: input.Type.LedgerName(), Group: ledger.GroupReceivable, Debit: input.Principal},
				{LedgerName: moneyLedger, Group: moneyGroup, Credit: input.Principal},
			},
		}, s.now())
		if err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrPostingFailed, err)
		}
		created, err = tx.InsertLoan(ctx, ProducerLoan{
			CompanyID:         input.CompanyID,
			FarmerID:          input.FarmerID,
			Number:            ledger.FormatDocNumber("LN", seq),
			Type:              input.Type,
			Scheme:            input.Scheme,
			Date:              date,
			PrincipalAmount:   input.Principal,
			InterestType:      input.InterestType,
			InterestRate:      input.InterestRate,
			InterestAmount:    interest,
			TotalLoanAmount:   total,
			TotalEMI:          input.TotalEMI,
			EMIAmount:         emiAmount,
			DisbursedAmount:   input.Principal,
			OutstandingAmount: total,
			PaymentMode:       input.PaymentMode,
			Status:            StatusActive,
			VoucherID:         &voucher.ID,
			CreatedBy:         input.ActorID,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertInstallments(ctx, created.ID, schedule); err != nil {
			return err
		}
		created.Schedule = schedule
		return nil
	})
	if err != nil {
		return ProducerLoan{}, err
	}
	s.recordAudit(ctx, input.CompanyID, input.ActorID, "loan.disburse", created.ID, map[string]any{
		"number": created.Number,
		"total":  created.TotalLoanAmount,
	})
	s.dropCache(ctx, created.CompanyID, created.FarmerID)
	return created, nil
}

// RecordEMIPayment applies a payment to one installment and updates the
// loan totals, closing the loan when outstanding reaches zero.
func (s *Service) RecordEMIPayment(ctx context.Context, companyID, loanID int64, emiNumber int, amount float64, actorID int64) (ProducerLoan, error) {
	var updated ProducerLoan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetLoanForUpdate(ctx, companyID, loanID)
		if err != nil {
			return err
		}
		if err := ApplyEMIPayment(&current, emiNumber, amount, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateLoan(ctx, current); err != nil {
			return err
		}
		for _, inst := range current.Schedule {
			if inst.EmiNumber == emiNumber {
				if err := tx.UpdateInstallment(ctx, inst); err != nil {
					return err
				}
				break
			}
		}
		updated = current
		return nil
	})
	if err != nil {
		return ProducerLoan{}, err
	}
	s.recordAudit(ctx, companyID, actorID, "loan.emi_payment", loanID, map[string]any{
		"emi_number": emiNumber,
		"amount":     amount,
	})
	s.dropCache(ctx, companyID, updated.FarmerID)
	return updated, nil
}

// Cancel voids an unserviced loan and cancels its voucher.
func (s *Service) Cancel(ctx context.Context, companyID, loanID, actorID int64, reason string) (ProducerLoan, error) {
	if loanID == 0 {
		return ProducerLoan{}, errors.New("loan: id required")
	}
	var cancelled ProducerLoan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetLoanForUpdate(ctx, companyID, loanID)
		if err != nil {
			return err
		}
		if current.Status == StatusCancelled {
			return ErrAlreadyCancelled
		}
		if current.Status == StatusClosed || current.RecoveredAmount > 0 {
			return ErrServiced
		}
		for _, inst := range current.Schedule {
			if inst.PaidAmount > 0 {
				return ErrServiced
			}
		}
		now := s.now()
		current.Status = StatusCancelled
		current.CancelReason = reason
		current.CancelledAt = &now
		if err := tx.UpdateLoan(ctx, current); err != nil {
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
		return ProducerLoan{}, err
	}
	s.recordAudit(ctx, companyID, actorID, "loan.cancel", loanID, map[string]any{"reason": reason})
	s.dropCache(ctx, companyID, cancelled.FarmerID)
	return cancelled, nil
}

// CheckOverdue lazily materialises overdue installments as of a date
// and defaults the loan when any are found. Reports whether the loan
// changed.
func (s *Service) CheckOverdue(ctx context.Context, companyID, loanID int64, asOf time.Time) (bool, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	var changed bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetLoanForUpdate(ctx, companyID, loanID)
		if err != nil {
			return err
		}
		if !MarkOverdue(&current, asOf) {
			return nil
		}
		if err := tx.UpdateLoan(ctx, current); err != nil {
			return err
		}
		for _, inst := range current.Schedule {
			if inst.Status == InstallmentOverdue {
				if err := tx.UpdateInstallment(ctx, inst); err != nil {
					return err
				}
			}
		}
		changed = true
		return nil
	})
	return changed, err
}

// SweepOverdue runs CheckOverdue across loans with installments due
// before asOf. Invoked from the background worker, never inline.
func (s *Service) SweepOverdue(ctx context.Context, asOf time.Time) (int, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	var refs []LoanRef
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		refs, err = tx.ListLoanIDsDueBefore(ctx, asOf, 500)
		return err
	})
	if err != nil {
		return 0, err
	}
	flipped := 0
	for _, ref := range refs {
		changed, err := s.CheckOverdue(ctx, ref.CompanyID, ref.LoanID, asOf)
		if err != nil {
			return flipped, err
		}
		if changed {
			flipped++
		}
	}
	return flipped, nil
}

// Get returns one loan with its schedule.
func (s *Service) Get(ctx context.Context, companyID, loanID int64) (ProducerLoan, error) {
	var out ProducerLoan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.GetLoan(ctx, companyID, loanID)
		return err
	})
	return out, err
}

// ListByFarmer returns a farmer's loans, oldest first.
func (s *Service) ListByFarmer(ctx context.Context, companyID, farmerID int64) ([]ProducerLoan, error) {
	var out []ProducerLoan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListLoansByFarmer(ctx, companyID, farmerID)
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
		Entity:    "loan",
		EntityID:  fmt.Sprintf("%d", entityID),
		Meta:      meta,
		At:        s.now(),
	})
}
