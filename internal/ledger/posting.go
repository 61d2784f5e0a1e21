package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TxRepository exposes the transactional operations of the posting
// engine. Other engines posting vouchers inside their own transaction
// obtain an instance bound to that transaction via NewTxRepository.
type TxRepository interface {
	GetOrCreateLedger(ctx context.Context, companyID int64, name string, group Group) (Ledger, error)
	GetLedger(ctx context.Context, companyID, id int64) (Ledger, error)
	ListLedgers(ctx context.Context, companyID int64) ([]Ledger, error)
	SetLedgerActive(ctx context.Context, companyID, id int64, active bool) error
	AddLedgerBalance(ctx context.Context, ledgerID int64, delta float64) error
	NextDocNumber(ctx context.Context, companyID int64, docType string) (int64, error)
	InsertVoucher(ctx context.Context, v Voucher) (Voucher, error)
	InsertEntries(ctx context.Context, voucherID int64, entries []Entry) error
	GetVoucherWithEntries(ctx context.Context, companyID, voucherID int64) (Voucher, error)
	ListVouchers(ctx context.Context, companyID int64, filter VoucherFilter) ([]Voucher, error)
	UpdateVoucherStatus(ctx context.Context, voucherID int64, status VoucherStatus) error
}

// VoucherFilter narrows voucher listings.
type VoucherFilter struct {
	Type     VoucherType
	DateFrom time.Time
	DateTo   time.Time
	Limit    int
}

func docTypeVoucher(t VoucherType) string {
	return "VOUCHER_" + string(t)
}

// PostTx validates and posts a voucher inside an existing transaction:
// it allocates the next sequential number for (company, type), creates
// any missing ledgers, applies debit−credit to each ledger balance and
// inserts the voucher with its entries. The caller owns the transaction
// boundary; any error here must abort the whole unit.
func PostTx(ctx context.Context, tx TxRepository, in PostingInput, now time.Time) (Voucher, error) {
	if err := in.Validate(); err != nil {
		return Voucher{}, err
	}

	seq, err := tx.NextDocNumber(ctx, in.CompanyID, docTypeVoucher(in.Type))
	if err != nil {
		return Voucher{}, fmt.Errorf("ledger: allocate voucher number: %w", err)
	}

	voucher := Voucher{
		CompanyID:    in.CompanyID,
		Number:       FormatDocNumber(numberPrefix(in.Type), seq),
		Type:         in.Type,
		Date:         in.Date,
		Narration:    in.Narration,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		Status:       VoucherStatusPosted,
		PostedBy:     in.ActorID,
	}

	entries := make([]Entry, 0, len(in.Entries))
	for _, line := range in.Entries {
		account, err := tx.GetOrCreateLedger(ctx, in.CompanyID, line.LedgerName, line.Group)
		if err != nil {
			return Voucher{}, err
		}
		delta := Round2(line.Debit - line.Credit)
		if err := tx.AddLedgerBalance(ctx, account.ID, delta); err != nil {
			return Voucher{}, err
		}
		entries = append(entries, Entry{
			LedgerID:   account.ID,
			LedgerName: account.Name,
			Debit:      line.Debit,
			Credit:     line.Credit,
		})
		voucher.TotalDebit = Round2(voucher.TotalDebit + line.Debit)
		voucher.TotalCredit = Round2(voucher.TotalCredit + line.Credit)
	}

	inserted, err := tx.InsertVoucher(ctx, voucher)
	if err != nil {
		return Voucher{}, err
	}
	if err := tx.InsertEntries(ctx, inserted.ID, entries); err != nil {
		return Voucher{}, err
	}
	for i := range entries {
		entries[i].VoucherID = inserted.ID
	}
	inserted.Entries = entries
	return inserted, nil
}

// CancelTx posts an exactly-reversing voucher for the original and
// flips the original to Cancelled. Entries are never edited in place.
func CancelTx(ctx context.Context, tx TxRepository, companyID, voucherID, actorID int64, now time.Time) (Voucher, error) {
	original, err := tx.GetVoucherWithEntries(ctx, companyID, voucherID)
	if err != nil {
		return Voucher{}, err
	}
	if original.Status == VoucherStatusCancelled {
		return Voucher{}, ErrAlreadyCancelled
	}

	mirror := PostingInput{
		CompanyID:    companyID,
		ActorID:      actorID,
		Type:         original.Type,
		Date:         now,
		Narration:    fmt.Sprintf("Reversal of %s", original.Number),
		SourceModule: original.SourceModule + ":REVERSAL",
		SourceID:     uuid.New(),
		Entries:      reverseEntries(original.Entries),
	}
	reversal, err := PostTx(ctx, tx, mirror, now)
	if err != nil {
		return Voucher{}, err
	}
	if err := tx.UpdateVoucherStatus(ctx, original.ID, VoucherStatusCancelled); err != nil {
		return Voucher{}, err
	}
	return reversal, nil
}

func reverseEntries(entries []Entry) []EntryInput {
	out := make([]EntryInput, 0, len(entries))
	for _, entry := range entries {
		out = append(out, EntryInput{
			LedgerName: entry.LedgerName,
			Debit:      entry.Credit,
			Credit:     entry.Debit,
		})
	}
	return out
}
