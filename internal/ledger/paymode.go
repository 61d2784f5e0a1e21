package ledger

import "errors"

// PaymentMode selects the counterparty money ledger for a posting.
type PaymentMode string

const (
	PaymentModeCash PaymentMode = "CASH"
	PaymentModeBank PaymentMode = "BANK"
)

// ErrPostingFailed wraps voucher-posting failures inside a business
// transaction so the whole unit aborts instead of committing an
// unaccounted obligation.
var ErrPostingFailed = errors.New("ledger: posting failed")

// MoneyLedger returns the ledger name and group for a payment mode.
func (m PaymentMode) MoneyLedger() (string, Group) {
	if m == PaymentModeBank {
		return "Bank", GroupBank
	}
	return "Cash", GroupCash
}

// Valid reports whether the mode is a known value.
func (m PaymentMode) Valid() bool {
	return m == PaymentModeCash || m == PaymentModeBank
}
