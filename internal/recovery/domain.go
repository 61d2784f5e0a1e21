// Package recovery settles farmer obligations. A receipt targets
// exactly one advance or loan, reduces its balance, and posts the
// money-in voucher in the same transaction.
package recovery

import (
	"errors"
	"time"

	"github.com/dairyledger/dairyledger/internal/ledger"
)

// ReferenceType tags which obligation kind a receipt settles.
type ReferenceType string

const (
	ReferenceAdvance ReferenceType = "ADVANCE"
	ReferenceLoan    ReferenceType = "LOAN"
)

// Valid reports whether the reference type is a known value.
func (t ReferenceType) Valid() bool {
	return t == ReferenceAdvance || t == ReferenceLoan
}

// Status enumerates receipt lifecycle values.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCancelled Status = "CANCELLED"
)

// ProducerReceipt records one recovery against an obligation.
// Invariant: NewBalance == PreviousBalance − Amount.
type ProducerReceipt struct {
	ID              int64
	CompanyID       int64
	FarmerID        int64
	Number          string
	ReferenceType   ReferenceType
	ReferenceID     int64
	Date            time.Time
	Amount          float64
	PreviousBalance float64
	NewBalance      float64
	PaymentMode     ledger.PaymentMode
	Narration       string
	Status          Status
	VoucherID       *int64
	CancelReason    string
	CancelledAt     *time.Time
	CreatedBy       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var (
	// ErrNotFound indicates a missing receipt.
	ErrNotFound = errors.New("recovery: receipt not found")
	// ErrAlreadyCancelled indicates a repeat cancellation.
	ErrAlreadyCancelled = errors.New("recovery: receipt already cancelled")
)

// CreateReceiptInput groups fields required to record a recovery.
type CreateReceiptInput struct {
	CompanyID     int64
	ActorID       int64
	FarmerID      int64
	ReferenceType ReferenceType
	ReferenceID   int64
	Amount        float64
	PaymentMode   ledger.PaymentMode
	Date          time.Time
	Narration     string
}

// Validate checks create input.
func (in CreateReceiptInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("recovery: company required")
	}
	if in.FarmerID == 0 {
		return errors.New("recovery: farmer required")
	}
	if in.ReferenceID == 0 {
		return errors.New("recovery: reference required")
	}
	if !in.ReferenceType.Valid() {
		return errors.New("recovery: unknown reference type")
	}
	if in.Amount <= 0 {
		return errors.New("recovery: amount must be positive")
	}
	if !in.PaymentMode.Valid() {
		return errors.New("recovery: unknown payment mode")
	}
	return nil
}
