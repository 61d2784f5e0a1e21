// Package farmerledger reconstructs a farmer's chronological account
// from the milk payment, advance, loan and receipt streams. It reads
// the other engines' data and never mutates it.
package farmerledger

import "time"

// Source identifies which stream produced a statement entry.
type Source string

const (
	SourcePayment Source = "MILK_PAYMENT"
	SourceAdvance Source = "ADVANCE"
	SourceLoan    Source = "LOAN"
	SourceReceipt Source = "RECEIPT"
)

// rank orders same-day entries. Statement rows are sorted by date
// first, then by source in stream priority (payments, advances,
// loans, receipts), then by per-source insertion order.
func (s Source) rank() int {
	switch s {
	case SourcePayment:
		return 0
	case SourceAdvance:
		return 1
	case SourceLoan:
		return 2
	default:
		return 3
	}
}

// StatementEntry is one row of the merged farmer statement.
type StatementEntry struct {
	Date        time.Time `json:"date"`
	Source      Source    `json:"source"`
	Number      string    `json:"number"`
	Description string    `json:"description"`
	Debit       float64   `json:"debit"`
	Credit      float64   `json:"credit"`
	Balance     float64   `json:"balance"`
}

// Statement is the farmer's account over a window. Debits are what
// the farmer owes the cooperative, credits what the cooperative owes
// the farmer.
type Statement struct {
	FarmerID       int64            `json:"farmer_id"`
	From           *time.Time       `json:"from,omitempty"`
	To             *time.Time       `json:"to,omitempty"`
	OpeningBalance float64          `json:"opening_balance"`
	TotalDebit     float64          `json:"total_debit"`
	TotalCredit    float64          `json:"total_credit"`
	ClosingBalance float64          `json:"closing_balance"`
	Entries        []StatementEntry `json:"entries"`
}

// OutstandingItem is one open obligation inside a bucket.
type OutstandingItem struct {
	ID        int64     `json:"id"`
	Source    Source    `json:"source"`
	Number    string    `json:"number"`
	Date      time.Time `json:"date"`
	Remaining float64   `json:"remaining"`
}

// Bucket groups open obligations of one canonical category, oldest
// first so recovery deducts from the oldest obligation.
type Bucket struct {
	Category string            `json:"category"`
	Total    float64           `json:"total"`
	Items    []OutstandingItem `json:"items"`
}

// Outstanding is the farmer's open obligations in the three canonical
// buckets.
type Outstanding struct {
	CashAdvance Bucket `json:"cash_advance"`
	CFAdvance   Bucket `json:"cf_advance"`
	LoanAdvance Bucket `json:"loan_advance"`
}
