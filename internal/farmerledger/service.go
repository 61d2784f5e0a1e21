package farmerledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dairyledger/dairyledger/internal/advance"
	"github.com/dairyledger/dairyledger/internal/farmer"
	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/loan"
	"github.com/dairyledger/dairyledger/internal/recovery"
)

// ReadPort supplies the four transaction streams and their historical
// aggregates. Implementations exclude Cancelled records everywhere.
type ReadPort interface {
	MilkPayments(ctx context.Context, companyID, farmerID int64, from, to *time.Time) ([]farmer.MilkPayment, error)
	Advances(ctx context.Context, companyID, farmerID int64, from, to *time.Time) ([]advance.Advance, error)
	Loans(ctx context.Context, companyID, farmerID int64, from, to *time.Time) ([]loan.ProducerLoan, error)
	Receipts(ctx context.Context, companyID, farmerID int64, from, to *time.Time) ([]recovery.ProducerReceipt, error)

	PaymentTotalsBefore(ctx context.Context, companyID, farmerID int64, before time.Time) (farmer.PaymentTotals, error)
	AdvanceTotalsBefore(ctx context.Context, companyID, farmerID int64, before time.Time) (total, adjusted float64, err error)
	LoanPrincipalBefore(ctx context.Context, companyID, farmerID int64, before time.Time) (float64, error)
	ReceiptTotalBefore(ctx context.Context, companyID, farmerID int64, before time.Time) (float64, error)

	OpenAdvances(ctx context.Context, companyID, farmerID int64) ([]advance.Advance, error)
	OpenLoans(ctx context.Context, companyID, farmerID int64) ([]loan.ProducerLoan, error)
}

// CachePort caches the per-farmer outstanding view.
type CachePort interface {
	GetOutstanding(ctx context.Context, companyID, farmerID int64) (Outstanding, bool)
	SetOutstanding(ctx context.Context, companyID, farmerID int64, out Outstanding)
}

// Service is the read-only farmer ledger aggregator.
type Service struct {
	reader ReadPort
	cache  CachePort
}

// NewService constructs Service. cache may be nil.
func NewService(reader ReadPort, cache CachePort) *Service {
	return &Service{reader: reader, cache: cache}
}

// GetStatement merges the four streams into one chronological
// statement with a running balance. The opening balance is computed
// only when from is given, by replaying the aggregates before it.
func (s *Service) GetStatement(ctx context.Context, companyID, farmerID int64, from, to *time.Time) (Statement, error) {
	var (
		payments []farmer.MilkPayment
		advances []advance.Advance
		loans    []loan.ProducerLoan
		receipts []recovery.ProducerReceipt

		payTotals    farmer.PaymentTotals
		advTotal     float64
		advAdjusted  float64
		loanTotal    float64
		receiptTotal float64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		payments, err = s.reader.MilkPayments(gctx, companyID, farmerID, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		advances, err = s.reader.Advances(gctx, companyID, farmerID, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		loans, err = s.reader.Loans(gctx, companyID, farmerID, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		receipts, err = s.reader.Receipts(gctx, companyID, farmerID, from, to)
		return err
	})
	if from != nil {
		before := *from
		g.Go(func() error {
			var err error
			payTotals, err = s.reader.PaymentTotalsBefore(gctx, companyID, farmerID, before)
			return err
		})
		g.Go(func() error {
			var err error
			advTotal, advAdjusted, err = s.reader.AdvanceTotalsBefore(gctx, companyID, farmerID, before)
			return err
		})
		g.Go(func() error {
			var err error
			loanTotal, err = s.reader.LoanPrincipalBefore(gctx, companyID, farmerID, before)
			return err
		})
		g.Go(func() error {
			var err error
			receiptTotal, err = s.reader.ReceiptTotalBefore(gctx, companyID, farmerID, before)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Statement{}, err
	}

	var opening float64
	if from != nil {
		opening = ledger.Round2((advTotal - advAdjusted) + loanTotal - payTotals.Net() - receiptTotal)
	}

	entries := make([]StatementEntry, 0, len(payments)+len(advances)+len(loans)+len(receipts))
	for _, p := range payments {
		entries = append(entries, StatementEntry{
			Date:        p.Date,
			Source:      SourcePayment,
			Number:      p.Number,
			Description: fmt.Sprintf("Milk payment %s to %s", p.PeriodStart.Format("02-01-2006"), p.PeriodEnd.Format("02-01-2006")),
			Credit:      p.NetPayable,
		})
	}
	for _, a := range advances {
		entries = append(entries, StatementEntry{
			Date:        a.Date,
			Source:      SourceAdvance,
			Number:      a.Number,
			Description: fmt.Sprintf("Advance given (%s)", a.Category),
			Debit:       a.AdvanceAmount,
		})
	}
	for _, l := range loans {
		entries = append(entries, StatementEntry{
			Date:        l.Date,
			Source:      SourceLoan,
			Number:      l.Number,
			Description: fmt.Sprintf("Loan disbursed (%s)", l.Type),
			Debit:       l.PrincipalAmount,
		})
	}
	for _, r := range receipts {
		entries = append(entries, StatementEntry{
			Date:        r.Date,
			Source:      SourceReceipt,
			Number:      r.Number,
			Description: fmt.Sprintf("Recovery against %s", r.ReferenceType),
			Credit:      r.Amount,
		})
	}

	// Stable sort keeps per-source insertion order for full ties.
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].Source.rank() < entries[j].Source.rank()
	})

	st := Statement{
		FarmerID:       farmerID,
		From:           from,
		To:             to,
		OpeningBalance: opening,
	}
	balance := opening
	for i := range entries {
		balance = ledger.Round2(balance + entries[i].Debit - entries[i].Credit)
		entries[i].Balance = balance
		st.TotalDebit = ledger.Round2(st.TotalDebit + entries[i].Debit)
		st.TotalCredit = ledger.Round2(st.TotalCredit + entries[i].Credit)
	}
	st.Entries = entries
	st.ClosingBalance = balance
	return st, nil
}

// GetOutstandingByType groups the farmer's open obligations into the
// three canonical buckets, oldest first within each.
func (s *Service) GetOutstandingByType(ctx context.Context, companyID, farmerID int64) (Outstanding, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetOutstanding(ctx, companyID, farmerID); ok {
			return cached, nil
		}
	}

	var (
		advances []advance.Advance
		loans    []loan.ProducerLoan
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		advances, err = s.reader.OpenAdvances(gctx, companyID, farmerID)
		return err
	})
	g.Go(func() error {
		var err error
		loans, err = s.reader.OpenLoans(gctx, companyID, farmerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Outstanding{}, err
	}

	out := Outstanding{
		CashAdvance: Bucket{Category: string(advance.CategoryCash)},
		CFAdvance:   Bucket{Category: string(advance.CategoryCF)},
		LoanAdvance: Bucket{Category: string(advance.CategoryLoan)},
	}
	for _, a := range advances {
		out.bucket(string(a.Category)).add(OutstandingItem{
			ID:        a.ID,
			Source:    SourceAdvance,
			Number:    a.Number,
			Date:      a.Date,
			Remaining: a.BalanceAmount,
		})
	}
	for _, l := range loans {
		out.bucket(string(l.Type)).add(OutstandingItem{
			ID:        l.ID,
			Source:    SourceLoan,
			Number:    l.Number,
			Date:      l.Date,
			Remaining: l.OutstandingAmount,
		})
	}
	for _, b := range []*Bucket{&out.CashAdvance, &out.CFAdvance, &out.LoanAdvance} {
		sort.SliceStable(b.Items, func(i, j int) bool {
			return b.Items[i].Date.Before(b.Items[j].Date)
		})
	}

	if s.cache != nil {
		s.cache.SetOutstanding(ctx, companyID, farmerID, out)
	}
	return out, nil
}

func (o *Outstanding) bucket(category string) *Bucket {
	switch category {
	case string(advance.CategoryCF):
		return &o.CFAdvance
	case string(advance.CategoryLoan):
		return &o.LoanAdvance
	default:
		return &o.CashAdvance
	}
}

func (b *Bucket) add(item OutstandingItem) {
	b.Items = append(b.Items, item)
	b.Total = ledger.Round2(b.Total + item.Remaining)
}
