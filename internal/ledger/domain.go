package ledger

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Group enumerates ledger account classifications.
type Group string

const (
	GroupParty      Group = "PARTY"
	GroupCash       Group = "CASH"
	GroupBank       Group = "BANK"
	GroupReceivable Group = "RECEIVABLE"
	GroupPayable    Group = "PAYABLE"
)

// VoucherType enumerates voucher kinds. Numbering is sequential per
// (company, type).
type VoucherType string

const (
	VoucherTypePayment VoucherType = "PAYMENT"
	VoucherTypeReceipt VoucherType = "RECEIPT"
)

// VoucherStatus enumerates voucher lifecycle values.
type VoucherStatus string

const (
	VoucherStatusPosted    VoucherStatus = "POSTED"
	VoucherStatusCancelled VoucherStatus = "CANCELLED"
)

// BalanceType reports which side a ledger balance sits on.
type BalanceType string

const (
	BalanceTypeDebit  BalanceType = "DR"
	BalanceTypeCredit BalanceType = "CR"
)

// Ledger models a named account with a running signed balance. The
// balance is stored signed (debit positive); BalanceType derives the
// side for display. Ledgers are auto-provisioned on first reference and
// soft-deactivated, never deleted.
type Ledger struct {
	ID             int64
	CompanyID      int64
	Name           string
	Group          Group
	OpeningBalance float64
	CurrentBalance float64
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BalanceType returns the side of the current balance.
func (l Ledger) BalanceType() BalanceType {
	if l.CurrentBalance < 0 {
		return BalanceTypeCredit
	}
	return BalanceTypeDebit
}

// Entry is one debit or credit line of a voucher.
type Entry struct {
	ID         int64
	VoucherID  int64
	LedgerID   int64
	LedgerName string
	Debit      float64
	Credit     float64
}

// Voucher is a balanced double-entry record. Immutable once posted
// except for the status flip to Cancelled, which is always paired with
// a mirror voucher.
type Voucher struct {
	ID           int64
	CompanyID    int64
	Number       string
	Type         VoucherType
	Date         time.Time
	Narration    string
	SourceModule string
	SourceID     uuid.UUID
	TotalDebit   float64
	TotalCredit  float64
	Status       VoucherStatus
	PostedBy     int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Entries      []Entry
}

// EntryInput describes a voucher line. Ledgers are referenced by name;
// a missing ledger is created with zero opening balance under Group.
type EntryInput struct {
	LedgerName string
	Group      Group
	Debit      float64
	Credit     float64
}

// PostingInput groups fields required to post a voucher.
type PostingInput struct {
	CompanyID    int64
	ActorID      int64
	Type         VoucherType
	Date         time.Time
	Narration    string
	SourceModule string
	SourceID     uuid.UUID
	Entries      []EntryInput
}

var (
	// ErrImbalanced indicates total debit != total credit.
	ErrImbalanced = errors.New("ledger: voucher entries must balance")
	// ErrNoEntries indicates a posting without entries.
	ErrNoEntries = errors.New("ledger: voucher requires at least one entry")
	// ErrVoucherNotFound indicates a missing voucher.
	ErrVoucherNotFound = errors.New("ledger: voucher not found")
	// ErrLedgerNotFound indicates a missing ledger account.
	ErrLedgerNotFound = errors.New("ledger: account not found")
	// ErrAlreadyCancelled indicates a repeated cancellation.
	ErrAlreadyCancelled = errors.New("ledger: voucher already cancelled")
)

// Round2 normalises a monetary amount to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Validate ensures posting input meets the double-entry law.
func (in PostingInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("ledger: company required")
	}
	if in.Type != VoucherTypePayment && in.Type != VoucherTypeReceipt {
		return fmt.Errorf("ledger: unknown voucher type %q", in.Type)
	}
	if len(in.Entries) == 0 {
		return ErrNoEntries
	}
	var debit, credit float64
	for idx, entry := range in.Entries {
		if entry.LedgerName == "" {
			return fmt.Errorf("ledger: entry %d missing ledger name", idx)
		}
		if entry.Debit < 0 || entry.Credit < 0 {
			return fmt.Errorf("ledger: entry %d negative amount", idx)
		}
		if entry.Debit > 0 && entry.Credit > 0 {
			return fmt.Errorf("ledger: entry %d cannot be both debit and credit", idx)
		}
		debit += entry.Debit
		credit += entry.Credit
	}
	if Round2(debit) != Round2(credit) {
		return ErrImbalanced
	}
	return nil
}

// FormatDocNumber renders a sequence value as a document number.
func FormatDocNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s-%06d", prefix, n)
}

func numberPrefix(t VoucherType) string {
	if t == VoucherTypeReceipt {
		return "RV"
	}
	return "PV"
}
