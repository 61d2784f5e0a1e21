// Package farmer exposes the farmer directory and the milk payment
// stream. The accounting engines treat both as read-only inputs.
package farmer

import (
	"errors"
	"time"

	"github.com/dairyledger/dairyledger/internal/ledger"
)

// Farmer is a milk-supplying member of the cooperative.
type Farmer struct {
	ID        int64
	CompanyID int64
	Code      string
	Name      string
	Village   string
	Phone     string
	Active    bool
	CreatedAt time.Time
}

// MilkPayment is one settled payout cycle for a farmer. NetPayable is
// what the cycle owes the farmer after deductions; PaidAmount is what
// has actually been handed over.
type MilkPayment struct {
	ID             int64
	CompanyID      int64
	FarmerID       int64
	Number         string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Date           time.Time
	TotalAmount    float64
	TotalDeduction float64
	PaidAmount     float64
	NetPayable     float64
	CreatedAt      time.Time
}

// PaymentTotals aggregates the milk payment stream over a window.
type PaymentTotals struct {
	TotalAmount    float64
	TotalDeduction float64
	TotalPaid      float64
}

// Net is what the cooperative still owes the farmer from the
// aggregated cycles.
func (t PaymentTotals) Net() float64 {
	return ledger.Round2(t.TotalAmount - t.TotalDeduction - t.TotalPaid)
}

// ErrNotFound indicates a missing farmer.
var ErrNotFound = errors.New("farmer: not found")
