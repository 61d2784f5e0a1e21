// Package loan owns the producer loan lifecycle: interest computation,
// EMI schedule generation, payment application, overdue detection and
// cancellation with voucher reversal.
package loan

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/shared"
)

// InterestType enumerates how interest is supplied.
type InterestType string

const (
	InterestPercentage InterestType = "PERCENTAGE"
	InterestFlat       InterestType = "FLAT"
)

// Scheme enumerates repayment period schemes. Custom falls back to
// monthly due dates.
type Scheme string

const (
	SchemeMonthly Scheme = "MONTHLY"
	SchemeWeekly  Scheme = "WEEKLY"
	SchemeCustom  Scheme = "CUSTOM"
)

// Type enumerates loan kinds; each maps to its receivable ledger and
// outstanding bucket.
type Type string

const (
	TypeCash Type = "CASH_ADVANCE"
	TypeCF   Type = "CF_ADVANCE"
	TypeLoan Type = "LOAN_ADVANCE"
)

// LedgerName returns the receivable ledger account for the loan type.
func (t Type) LedgerName() string {
	switch t {
	case TypeCash:
		return "Cash Advance"
	case TypeCF:
		return "CF Advance"
	default:
		return "Loan Advance"
	}
}

// Valid reports whether the type is a known value.
func (t Type) Valid() bool {
	return t == TypeCash || t == TypeCF || t == TypeLoan
}

// Status enumerates the loan state machine. Closed and Cancelled are
// terminal; Defaulted can still reach Closed through full recovery.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusClosed    Status = "CLOSED"
	StatusDefaulted Status = "DEFAULTED"
	StatusCancelled Status = "CANCELLED"
)

// InstallmentStatus enumerates EMI schedule row states.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPartial InstallmentStatus = "PARTIAL"
	InstallmentPaid    InstallmentStatus = "PAID"
	InstallmentOverdue InstallmentStatus = "OVERDUE"
)

// Installment is one EMI schedule row.
type Installment struct {
	ID         int64
	LoanID     int64
	EmiNumber  int
	DueDate    time.Time
	Amount     float64
	PaidAmount float64
	Status     InstallmentStatus
}

// Remaining returns the unpaid portion of the installment.
func (i Installment) Remaining() float64 {
	return ledger.Round2(i.Amount - i.PaidAmount)
}

// ProducerLoan is a scheduled obligation. Invariants:
// OutstandingAmount == TotalLoanAmount − RecoveredAmount clamped to ≥0,
// and the schedule amounts sum exactly to TotalLoanAmount.
type ProducerLoan struct {
	ID                int64
	CompanyID         int64
	FarmerID          int64
	Number            string
	Type              Type
	Scheme            Scheme
	Date              time.Time
	PrincipalAmount   float64
	InterestType      InterestType
	InterestRate      float64
	InterestAmount    float64
	TotalLoanAmount   float64
	TotalEMI          int
	EMIAmount         float64
	DisbursedAmount   float64
	RecoveredAmount   float64
	OutstandingAmount float64
	PaymentMode       ledger.PaymentMode
	Status            Status
	VoucherID         *int64
	ClosedAt          *time.Time
	CancelReason      string
	CancelledAt       *time.Time
	CreatedBy         int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Schedule          []Installment
}

var (
	// ErrNotFound indicates a missing loan.
	ErrNotFound = errors.New("loan: not found")
	// ErrInstallmentNotFound indicates an unknown EMI number.
	ErrInstallmentNotFound = errors.New("loan: installment not found")
	// ErrTerminal indicates an operation on a Closed or Cancelled loan.
	ErrTerminal = errors.New("loan: loan is closed or cancelled")
	// ErrAlreadyCancelled indicates a repeated cancellation.
	ErrAlreadyCancelled = errors.New("loan: already cancelled")
	// ErrServiced indicates cancellation of a partly-serviced loan.
	ErrServiced = errors.New("loan: cannot cancel after payments")
)

// DisburseInput groups fields required to disburse a loan.
type DisburseInput struct {
	CompanyID      int64
	ActorID        int64
	FarmerID       int64
	Type           Type
	Scheme         Scheme
	Principal      float64
	InterestType   InterestType
	InterestRate   float64
	InterestAmount float64
	TotalEMI       int
	PaymentMode    ledger.PaymentMode
	Date           time.Time
	Narration      string
}

// Validate checks disbursement input.
func (in DisburseInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("loan: company required")
	}
	if in.FarmerID == 0 {
		return errors.New("loan: farmer required")
	}
	if in.Principal <= 0 {
		return errors.New("loan: principal must be positive")
	}
	if in.TotalEMI < 1 {
		return errors.New("loan: at least one installment required")
	}
	if !in.Type.Valid() {
		return errors.New("loan: unknown loan type")
	}
	if !in.PaymentMode.Valid() {
		return errors.New("loan: unknown payment mode")
	}
	switch in.InterestType {
	case InterestPercentage:
		if in.InterestRate < 0 {
			return errors.New("loan: interest rate cannot be negative")
		}
	case InterestFlat:
		if in.InterestAmount < 0 {
			return errors.New("loan: interest amount cannot be negative")
		}
	default:
		return fmt.Errorf("loan: unknown interest type %q", in.InterestType)
	}
	// The ceil-rounded EMI must leave a positive final installment, or
	// the schedule would need a negative row to sum exactly.
	total := ledger.Round2(in.Principal + in.ComputeInterest())
	emi := math.Ceil(total / float64(in.TotalEMI))
	if ledger.Round2(total-emi*float64(in.TotalEMI-1)) <= 0 {
		return errors.New("loan: too many installments for the loan amount")
	}
	return nil
}

// ComputeInterest resolves the interest amount for the input.
func (in DisburseInput) ComputeInterest() float64 {
	if in.InterestType == InterestPercentage {
		return ledger.Round2(in.Principal * in.InterestRate / 100)
	}
	return ledger.Round2(in.InterestAmount)
}

// BuildSchedule generates the EMI schedule. The per-installment amount
// is ceil(total/totalEMI); the final row absorbs rounding so the rows
// sum exactly to total.
func BuildSchedule(total float64, totalEMI int, scheme Scheme, start time.Time) (float64, []Installment) {
	emi := math.Ceil(total / float64(totalEMI))
	rows := make([]Installment, 0, totalEMI)
	for n := 1; n <= totalEMI; n++ {
		amount := emi
		if n == totalEMI {
			amount = ledger.Round2(total - emi*float64(totalEMI-1))
		}
		rows = append(rows, Installment{
			EmiNumber: n,
			DueDate:   dueDate(start, scheme, n),
			Amount:    amount,
			Status:    InstallmentPending,
		})
	}
	return emi, rows
}

func dueDate(start time.Time, scheme Scheme, n int) time.Time {
	if scheme == SchemeWeekly {
		return start.AddDate(0, 0, 7*n)
	}
	return start.AddDate(0, n, 0)
}

// ApplyEMIPayment records a payment against one installment. The loan
// is left untouched on any rejection.
func ApplyEMIPayment(l *ProducerLoan, emiNumber int, amount float64, now time.Time) error {
	if l.Status == StatusClosed || l.Status == StatusCancelled {
		return ErrTerminal
	}
	if amount <= 0 {
		return errors.New("loan: payment amount must be positive")
	}
	idx := -1
	for i := range l.Schedule {
		if l.Schedule[i].EmiNumber == emiNumber {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrInstallmentNotFound
	}
	remaining := l.Schedule[idx].Remaining()
	if amount > remaining {
		return &shared.BalanceExceededError{Attempted: amount, Remaining: remaining}
	}
	inst := &l.Schedule[idx]
	inst.PaidAmount = ledger.Round2(inst.PaidAmount + amount)
	if inst.Remaining() <= 0 {
		inst.Status = InstallmentPaid
	} else {
		inst.Status = InstallmentPartial
	}
	applyRecoveredDelta(l, amount, now)
	return nil
}

// ApplyRecovery applies an untargeted recovery (a receipt) to the loan
// totals without touching a specific installment.
func ApplyRecovery(l *ProducerLoan, amount float64, now time.Time) error {
	if l.Status == StatusCancelled {
		return ErrTerminal
	}
	if amount <= 0 {
		return errors.New("loan: recovery amount must be positive")
	}
	if amount > l.OutstandingAmount {
		return &shared.BalanceExceededError{Attempted: amount, Remaining: l.OutstandingAmount}
	}
	applyRecoveredDelta(l, amount, now)
	return nil
}

func applyRecoveredDelta(l *ProducerLoan, amount float64, now time.Time) {
	l.RecoveredAmount = ledger.Round2(l.RecoveredAmount + amount)
	l.OutstandingAmount = ledger.Round2(l.TotalLoanAmount - l.RecoveredAmount)
	if l.OutstandingAmount <= 0 {
		l.OutstandingAmount = 0
		l.Status = StatusClosed
		closedAt := now
		l.ClosedAt = &closedAt
	}
}

// ReverseRecovery undoes a recovery. A loan the recovery had
// auto-closed reopens to Active with ClosedAt cleared.
func ReverseRecovery(l *ProducerLoan, amount float64) error {
	if amount <= 0 || amount > l.RecoveredAmount {
		return errors.New("loan: invalid reversal amount")
	}
	wasClosed := l.Status == StatusClosed
	l.RecoveredAmount = ledger.Round2(l.RecoveredAmount - amount)
	l.OutstandingAmount = ledger.Round2(l.TotalLoanAmount - l.RecoveredAmount)
	if wasClosed && l.OutstandingAmount > 0 {
		l.Status = StatusActive
		l.ClosedAt = nil
	}
	return nil
}

// MarkOverdue flips Pending installments past asOf to Overdue and the
// loan to Defaulted when any flipped. Returns true when anything
// changed. Transitions stay lazy; callers decide when to persist.
func MarkOverdue(l *ProducerLoan, asOf time.Time) bool {
	if l.Status == StatusClosed || l.Status == StatusCancelled {
		return false
	}
	changed := false
	for i := range l.Schedule {
		inst := &l.Schedule[i]
		if inst.Status == InstallmentPending && inst.DueDate.Before(asOf) {
			inst.Status = InstallmentOverdue
			changed = true
		}
	}
	if changed && l.Status == StatusActive {
		l.Status = StatusDefaulted
	}
	return changed
}
