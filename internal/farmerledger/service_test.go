package farmerledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dairyledger/dairyledger/internal/advance"
	"github.com/dairyledger/dairyledger/internal/farmer"
	"github.com/dairyledger/dairyledger/internal/farmerledger"
	"github.com/dairyledger/dairyledger/internal/loan"
	"github.com/dairyledger/dairyledger/internal/recovery"
)

const testCompany = int64(1)

type fakeReader struct {
	payments []farmer.MilkPayment
	advances []advance.Advance
	loans    []loan.ProducerLoan
	receipts []recovery.ProducerReceipt

	payTotals    farmer.PaymentTotals
	advTotal     float64
	advAdjusted  float64
	loanTotal    float64
	receiptTotal float64

	openAdvances []advance.Advance
	openLoans    []loan.ProducerLoan
	openCalls    int
}

func (f *fakeReader) MilkPayments(ctx context.Context, companyID, farmerID int64, from, to *time.Time) ([]farmer.MilkPayment, error) {
	return f.payments, nil
}

func (f *fakeReader) Advances(ctx context.Context, companyID, farmerID int64, from, to *time.Time) ([]advance.Advance, error) {
	return f.advances, nil
}

func (f *fakeReader) Loans(ctx context.Context, companyID, farmerID int64, from, to *time.Time) ([]loan.ProducerLoan, error) {
	return f.loans, nil
}

func (f *fakeReader) Receipts(ctx context.Context, companyID, farmerID int64, from, to *time.Time) ([]recovery.ProducerReceipt, error) {
	return f.receipts, nil
}

func (f *fakeReader) PaymentTotalsBefore(ctx context.Context, companyID, farmerID int64, before time.Time) (farmer.PaymentTotals, error) {
	return f.payTotals, nil
}

func (f *fakeReader) AdvanceTotalsBefore(ctx context.Context, companyID, farmerID int64, before time.Time) (float64, float64, error) {
	return f.advTotal, f.advAdjusted, nil
}

func (f *fakeReader) LoanPrincipalBefore(ctx context.Context, companyID, farmerID int64, before time.Time) (float64, error) {
	return f.loanTotal, nil
}

func (f *fakeReader) ReceiptTotalBefore(ctx context.Context, companyID, farmerID int64, before time.Time) (float64, error) {
	return f.receiptTotal, nil
}

func (f *fakeReader) OpenAdvances(ctx context.Context, companyID, farmerID int64) ([]advance.Advance, error) {
	f.openCalls++
	return f.openAdvances, nil
}

func (f *fakeReader) OpenLoans(ctx context.Context, companyID, farmerID int64) ([]loan.ProducerLoan, error) {
	return f.openLoans, nil
}

func day(d int) time.Time {
	return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
}

func TestStatementMergesByDateThenSource(t *testing.T) {
	reader := &fakeReader{
		payments: []farmer.MilkPayment{
			{Number: "MP-000001", Date: day(10), NetPayable: 2000},
		},
		advances: []advance.Advance{
			{Number: "AD-000001", Date: day(5), Category: advance.CategoryCash, AdvanceAmount: 1000},
		},
		loans: []loan.ProducerLoan{
			{Number: "LN-000001", Date: day(10), Type: loan.TypeLoan, PrincipalAmount: 3000},
		},
		receipts: []recovery.ProducerReceipt{
			{Number: "RC-000001", Date: day(10), ReferenceType: recovery.ReferenceAdvance, Amount: 500},
		},
	}
	svc := farmerledger.NewService(reader, nil)

	st, err := svc.GetStatement(context.Background(), testCompany, 42, nil, nil)
	require.NoError(t, err)
	require.Len(t, st.Entries, 4)

	// Day 5 advance first, then day 10 in source priority:
	// payment, loan, receipt.
	require.Equal(t, "AD-000001", st.Entries[0].Number)
	require.Equal(t, "MP-000001", st.Entries[1].Number)
	require.Equal(t, "LN-000001", st.Entries[2].Number)
	require.Equal(t, "RC-000001", st.Entries[3].Number)

	require.Equal(t, 1000.0, st.Entries[0].Balance)
	require.Equal(t, -1000.0, st.Entries[1].Balance)
	require.Equal(t, 2000.0, st.Entries[2].Balance)
	require.Equal(t, 1500.0, st.Entries[3].Balance)

	require.Equal(t, 0.0, st.OpeningBalance)
	require.Equal(t, 4000.0, st.TotalDebit)
	require.Equal(t, 2500.0, st.TotalCredit)
	require.Equal(t, 1500.0, st.ClosingBalance)
}

func TestStatementOpeningBalanceReconciliation(t *testing.T) {
	reader := &fakeReader{
		payTotals:    farmer.PaymentTotals{TotalAmount: 5000, TotalDeduction: 500, TotalPaid: 4000},
		advTotal:     1000,
		advAdjusted:  200,
		receiptTotal: 300,
	}
	svc := farmerledger.NewService(reader, nil)

	from := day(1)
	st, err := svc.GetStatement(context.Background(), testCompany, 42, &from, nil)
	require.NoError(t, err)
	require.Equal(t, 0.0, st.OpeningBalance)
	require.Equal(t, 0.0, st.ClosingBalance)
}

func TestStatementSeedsRunningBalanceFromOpening(t *testing.T) {
	reader := &fakeReader{
		advTotal: 750,
		receipts: []recovery.ProducerReceipt{
			{Number: "RC-000001", Date: day(12), ReferenceType: recovery.ReferenceAdvance, Amount: 250},
		},
	}
	svc := farmerledger.NewService(reader, nil)

	from := day(1)
	st, err := svc.GetStatement(context.Background(), testCompany, 42, &from, nil)
	require.NoError(t, err)
	require.Equal(t, 750.0, st.OpeningBalance)
	require.Equal(t, 500.0, st.Entries[0].Balance)
	require.Equal(t, 500.0, st.ClosingBalance)
}

func TestOutstandingBucketsAreFIFO(t *testing.T) {
	reader := &fakeReader{
		openAdvances: []advance.Advance{
			{ID: 2, Number: "AD-000002", Category: advance.CategoryCash, Date: day(8), BalanceAmount: 400},
			{ID: 1, Number: "AD-000001", Category: advance.CategoryCash, Date: day(3), BalanceAmount: 600},
			{ID: 3, Number: "AD-000003", Category: advance.CategoryCF, Date: day(4), BalanceAmount: 150},
		},
		openLoans: []loan.ProducerLoan{
			{ID: 7, Number: "LN-000001", Type: loan.TypeLoan, Date: day(2), OutstandingAmount: 5000},
			{ID: 8, Number: "LN-000002", Type: loan.TypeCash, Date: day(9), OutstandingAmount: 900},
		},
	}
	svc := farmerledger.NewService(reader, nil)

	out, err := svc.GetOutstandingByType(context.Background(), testCompany, 42)
	require.NoError(t, err)

	require.Equal(t, 1900.0, out.CashAdvance.Total)
	require.Len(t, out.CashAdvance.Items, 3)
	require.Equal(t, "AD-000001", out.CashAdvance.Items[0].Number)
	require.Equal(t, "AD-000002", out.CashAdvance.Items[1].Number)
	require.Equal(t, "LN-000002", out.CashAdvance.Items[2].Number)

	require.Equal(t, 150.0, out.CFAdvance.Total)
	require.Equal(t, 5000.0, out.LoanAdvance.Total)
	require.Equal(t, "LN-000001", out.LoanAdvance.Items[0].Number)
}

func TestOutstandingCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := farmerledger.NewRedisCache(client)

	reader := &fakeReader{
		openAdvances: []advance.Advance{
			{ID: 1, Number: "AD-000001", Category: advance.CategoryCash, Date: day(3), BalanceAmount: 600},
		},
	}
	svc := farmerledger.NewService(reader, cache)

	first, err := svc.GetOutstandingByType(context.Background(), testCompany, 42)
	require.NoError(t, err)
	require.Equal(t, 1, reader.openCalls)

	second, err := svc.GetOutstandingByType(context.Background(), testCompany, 42)
	require.NoError(t, err)
	require.Equal(t, 1, reader.openCalls)
	require.Equal(t, first, second)

	cache.InvalidateFarmer(context.Background(), testCompany, 42)
	_, err = svc.GetOutstandingByType(context.Background(), testCompany, 42)
	require.NoError(t, err)
	require.Equal(t, 2, reader.openCalls)
}
