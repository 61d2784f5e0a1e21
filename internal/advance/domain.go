// Package advance manages unscheduled farmer obligations repayable on
// demand. Recoveries against an advance arrive through the recovery
// engine inside its transaction.
package advance

import (
	"errors"
	"time"

	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/shared"
)

// Category enumerates advance kinds. Each maps to its own receivable
// ledger account.
type Category string

const (
	CategoryCash Category = "CASH_ADVANCE"
	CategoryCF   Category = "CF_ADVANCE"
	CategoryLoan Category = "LOAN_ADVANCE"
)

// LedgerName returns the receivable ledger account for the category.
func (c Category) LedgerName() string {
	switch c {
	case CategoryCF:
		return "CF Advance"
	case CategoryLoan:
		return "Loan Advance"
	default:
		return "Cash Advance"
	}
}

// Valid reports whether the category is a known value.
func (c Category) Valid() bool {
	return c == CategoryCash || c == CategoryCF || c == CategoryLoan
}

// Status enumerates advance lifecycle values.
type Status string

const (
	StatusActive            Status = "ACTIVE"
	StatusPartiallyAdjusted Status = "PARTIALLY_ADJUSTED"
	StatusAdjusted          Status = "ADJUSTED"
	StatusCancelled         Status = "CANCELLED"
)

// Adjustment records one recovery applied to an advance, tagged with
// the receipt that caused it.
type Adjustment struct {
	ID        int64
	AdvanceID int64
	ReceiptID int64
	Amount    float64
	At        time.Time
}

// Advance is an obligation with no fixed schedule. Invariant:
// BalanceAmount == AdvanceAmount − AdjustedAmount, never negative.
type Advance struct {
	ID             int64
	CompanyID      int64
	FarmerID       int64
	Number         string
	Category       Category
	Date           time.Time
	AdvanceAmount  float64
	AdjustedAmount float64
	BalanceAmount  float64
	PaymentMode    ledger.PaymentMode
	Narration      string
	Status         Status
	VoucherID      *int64
	CancelReason   string
	CancelledAt    *time.Time
	CreatedBy      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Adjustments    []Adjustment
}

var (
	// ErrNotFound indicates a missing advance.
	ErrNotFound = errors.New("advance: not found")
	// ErrCancelled indicates an operation on a cancelled advance.
	ErrCancelled = errors.New("advance: already cancelled")
	// ErrPartlyAdjusted indicates cancellation of a serviced advance.
	ErrPartlyAdjusted = errors.New("advance: cannot cancel after adjustments")
)

// IssueInput groups fields required to issue an advance.
type IssueInput struct {
	CompanyID   int64
	ActorID     int64
	FarmerID    int64
	Category    Category
	Amount      float64
	PaymentMode ledger.PaymentMode
	Date        time.Time
	Narration   string
}

// Validate checks issue input.
func (in IssueInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("advance: company required")
	}
	if in.FarmerID == 0 {
		return errors.New("advance: farmer required")
	}
	if in.Amount <= 0 {
		return errors.New("advance: amount must be positive")
	}
	if !in.Category.Valid() {
		return errors.New("advance: unknown category")
	}
	if !in.PaymentMode.Valid() {
		return errors.New("advance: unknown payment mode")
	}
	return nil
}

// ApplyRecovery increases the adjusted amount and derives the status.
// Rejects over-recovery; the advance is left untouched on error.
func ApplyRecovery(a *Advance, amount float64) error {
	if a.Status == StatusCancelled {
		return ErrCancelled
	}
	if amount <= 0 {
		return errors.New("advance: recovery amount must be positive")
	}
	if amount > a.BalanceAmount {
		return &shared.BalanceExceededError{Attempted: amount, Remaining: a.BalanceAmount}
	}
	a.AdjustedAmount = ledger.Round2(a.AdjustedAmount + amount)
	a.BalanceAmount = ledger.Round2(a.AdvanceAmount - a.AdjustedAmount)
	if a.BalanceAmount <= 0 {
		a.BalanceAmount = 0
		a.Status = StatusAdjusted
	} else {
		a.Status = StatusPartiallyAdjusted
	}
	return nil
}

// ReverseRecovery undoes a recovery applied earlier, restoring the
// balance and status exactly.
func ReverseRecovery(a *Advance, amount float64) error {
	if amount <= 0 || amount > a.AdjustedAmount {
		return errors.New("advance: invalid reversal amount")
	}
	a.AdjustedAmount = ledger.Round2(a.AdjustedAmount - amount)
	a.BalanceAmount = ledger.Round2(a.AdvanceAmount - a.AdjustedAmount)
	if a.AdjustedAmount == 0 {
		a.Status = StatusActive
	} else {
		a.Status = StatusPartiallyAdjusted
	}
	return nil
}
