package loan_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/ledger/ledgertest"
	"github.com/dairyledger/dairyledger/internal/loan"
	"github.com/dairyledger/dairyledger/internal/shared"
)

const testCompany = int64(1)

type memoryRepo struct {
	ledgers      *ledgertest.Memory
	loans        map[int64]loan.ProducerLoan
	installments map[int64][]loan.Installment
	nextID       int64
	nextInstID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		ledgers:      ledgertest.NewMemory(),
		loans:        make(map[int64]loan.ProducerLoan),
		installments: make(map[int64][]loan.Installment),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, loan.TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) Ledger() ledger.TxRepository { return r.ledgers }

func (r *memoryRepo) InsertLoan(ctx context.Context, l loan.ProducerLoan) (loan.ProducerLoan, error) {
	r.nextID++
	l.ID = r.nextID
	l.CreatedAt = time.Now()
	l.UpdatedAt = l.CreatedAt
	r.loans[l.ID] = l
	return l, nil
}

func (r *memoryRepo) InsertInstallments(ctx context.Context, loanID int64, rows []loan.Installment) error {
	for _, inst := range rows {
		r.nextInstID++
		inst.ID = r.nextInstID
		inst.LoanID = loanID
		r.installments[loanID] = append(r.installments[loanID], inst)
	}
	return nil
}

func (r *memoryRepo) GetLoan(ctx context.Context, companyID, id int64) (loan.ProducerLoan, error) {
	l, ok := r.loans[id]
	if !ok || l.CompanyID != companyID {
		return loan.ProducerLoan{}, loan.ErrNotFound
	}
	l.Schedule = append([]loan.Installment(nil), r.installments[id]...)
	return l, nil
}

func (r *memoryRepo) GetLoanForUpdate(ctx context.Context, companyID, id int64) (loan.ProducerLoan, error) {
	return r.GetLoan(ctx, companyID, id)
}

func (r *memoryRepo) UpdateLoan(ctx context.Context, l loan.ProducerLoan) error {
	if _, ok := r.loans[l.ID]; !ok {
		return loan.ErrNotFound
	}
	l.Schedule = nil
	r.loans[l.ID] = l
	return nil
}

func (r *memoryRepo) UpdateInstallment(ctx context.Context, inst loan.Installment) error {
	rows := r.installments[inst.LoanID]
	for i := range rows {
		if rows[i].ID == inst.ID {
			rows[i] = inst
			return nil
		}
	}
	return loan.ErrInstallmentNotFound
}

func (r *memoryRepo) ListLoansByFarmer(ctx context.Context, companyID, farmerID int64) ([]loan.ProducerLoan, error) {
	var out []loan.ProducerLoan
	for _, l := range r.loans {
		if l.CompanyID == companyID && l.FarmerID == farmerID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListLoanIDsDueBefore(ctx context.Context, asOf time.Time, limit int) ([]loan.LoanRef, error) {
	var refs []loan.LoanRef
	for id, l := range r.loans {
		if l.Status != loan.StatusActive && l.Status != loan.StatusDefaulted {
			continue
		}
		for _, inst := range r.installments[id] {
			if inst.Status == loan.InstallmentPending && inst.DueDate.Before(asOf) {
				refs = append(refs, loan.LoanRef{CompanyID: l.CompanyID, LoanID: id})
				break
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].LoanID < refs[j].LoanID })
	return refs, nil
}

func disburseInput() loan.DisburseInput {
	return loan.DisburseInput{
		CompanyID:    testCompany,
		ActorID:      5,
		FarmerID:     42,
		Type:         loan.TypeLoan,
		Scheme:       loan.SchemeMonthly,
		Principal:    10000,
		InterestType: loan.InterestPercentage,
		InterestRate: 12,
		TotalEMI:     4,
		PaymentMode:  ledger.PaymentModeBank,
		Date:         time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestBuildScheduleSumsExactly(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	emi, rows := loan.BuildSchedule(1000, 3, loan.SchemeMonthly, start)
	require.Equal(t, 334.0, emi)
	require.Len(t, rows, 3)
	require.Equal(t, 334.0, rows[0].Amount)
	require.Equal(t, 334.0, rows[1].Amount)
	require.Equal(t, 332.0, rows[2].Amount)

	var sum float64
	for _, row := range rows {
		sum += row.Amount
	}
	require.Equal(t, 1000.0, sum)

	require.Equal(t, start.AddDate(0, 1, 0), rows[0].DueDate)
	require.Equal(t, start.AddDate(0, 3, 0), rows[2].DueDate)
}

func TestBuildScheduleWeeklyDueDates(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	_, rows := loan.BuildSchedule(700, 7, loan.SchemeWeekly, start)
	require.Equal(t, start.AddDate(0, 0, 7), rows[0].DueDate)
	require.Equal(t, start.AddDate(0, 0, 49), rows[6].DueDate)
}

func TestDisburseComputesInterestAndPosts(t *testing.T) {
	repo := newMemoryRepo()
	svc := loan.NewService(repo, nil)

	created, err := svc.Disburse(context.Background(), disburseInput())
	require.NoError(t, err)
	require.Equal(t, "LN-000001", created.Number)
	require.Equal(t, 1200.0, created.InterestAmount)
	require.Equal(t, 11200.0, created.TotalLoanAmount)
	require.Equal(t, 2800.0, created.EMIAmount)
	require.Equal(t, 11200.0, created.OutstandingAmount)
	require.Equal(t, 10000.0, created.DisbursedAmount)
	require.Equal(t, loan.StatusActive, created.Status)
	require.Len(t, created.Schedule, 4)
	require.NotNil(t, created.VoucherID)

	require.Equal(t, 10000.0, repo.ledgers.Balance(testCompany, "Loan Advance"))
	require.Equal(t, -10000.0, repo.ledgers.Balance(testCompany, "Bank"))
}

func TestDisburseFlatInterest(t *testing.T) {
	repo := newMemoryRepo()
	svc := loan.NewService(repo, nil)

	input := disburseInput()
	input.InterestType = loan.InterestFlat
	input.InterestRate = 0
	input.InterestAmount = 500
	created, err := svc.Disburse(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 500.0, created.InterestAmount)
	require.Equal(t, 10500.0, created.TotalLoanAmount)
}

func TestDisburseAbortsWhenPostingFails(t *testing.T) {
	repo := newMemoryRepo()
	repo.ledgers.FailNextInsert = context.DeadlineExceeded
	svc := loan.NewService(repo, nil)

	_, err := svc.Disburse(context.Background(), disburseInput())
	require.ErrorIs(t, err, ledger.ErrPostingFailed)
	require.Empty(t, repo.loans)
}

func TestDisburseRejectsExcessiveInstallments(t *testing.T) {
	repo := newMemoryRepo()
	svc := loan.NewService(repo, nil)

	input := disburseInput()
	input.Principal = 100
	input.InterestType = loan.InterestFlat
	input.InterestAmount = 0
	input.TotalEMI = 30

	_, err := svc.Disburse(context.Background(), input)
	require.Error(t, err)
	require.Empty(t, repo.loans)

	// The largest installment count that still leaves a positive final row.
	input.TotalEMI = 25
	created, err := svc.Disburse(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, created.Schedule, 25)
	require.Greater(t, created.Schedule[24].Amount, 0.0)
}

func TestRecordEMIPayment(t *testing.T) {
	repo := newMemoryRepo()
	svc := loan.NewService(repo, nil)

	created, err := svc.Disburse(context.Background(), disburseInput())
	require.NoError(t, err)

	partial, err := svc.RecordEMIPayment(context.Background(), testCompany, created.ID, 1, 1000, 5)
	require.NoError(t, err)
	require.Equal(t, loan.InstallmentPartial, partial.Schedule[0].Status)
	require.Equal(t, 1000.0, partial.RecoveredAmount)
	require.Equal(t, 10200.0, partial.OutstandingAmount)
	require.Equal(t, loan.StatusActive, partial.Status)

	full, err := svc.RecordEMIPayment(context.Background(), testCompany, created.ID, 1, 1800, 5)
	require.NoError(t, err)
	require.Equal(t, loan.InstallmentPaid, full.Schedule[0].Status)
	require.Equal(t, 2800.0, full.RecoveredAmount)
}

func TestRecordEMIPaymentRejectsOverpayment(t *testing.T) {
	repo := newMemoryRepo()
	svc := loan.NewService(repo, nil)

	created, err := svc.Disburse(context.Background(), disburseInput())
	require.NoError(t, err)

	_, err = svc.RecordEMIPayment(context.Background(), testCompany, created.ID, 1, 3000, 5)
	require.True(t, shared.IsBalanceExceeded(err))

	untouched, err := svc.Get(context.Background(), testCompany, created.ID)
	require.NoError(t, err)
	require.Equal(t, 0.0, untouched.RecoveredAmount)
	require.Equal(t, 11200.0, untouched.OutstandingAmount)
	require.Equal(t, loan.InstallmentPending, untouched.Schedule[0].Status)
}

func TestFullRepaymentClosesLoan(t *testing.T) {
	repo := newMemoryRepo()
	svc := loan.NewService(repo, nil)

	created, err := svc.Disburse(context.Background(), disburseInput())
	require.NoError(t, err)

	var updated loan.ProducerLoan
	for _, inst := range created.Schedule {
		updated, err = svc.RecordEMIPayment(context.Background(), testCompany, created.ID, inst.EmiNumber, inst.Amount, 5)
		require.NoError(t, err)
	}
	require.Equal(t, loan.StatusClosed, updated.Status)
	require.Equal(t, 0.0, updated.OutstandingAmount)
	require.NotNil(t, updated.ClosedAt)

	_, err = svc.RecordEMIPayment(context.Background(), testCompany, created.ID, 1, 1, 5)
	require.ErrorIs(t, err, loan.ErrTerminal)
}

func TestCancelUnservicedLoan(t *testing.T) {
	repo := newMemoryRepo()
	svc := loan.NewService(repo, nil)

	created, err := svc.Disburse(context.Background(), disburseInput())
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), testCompany, created.ID, 5, "duplicate entry")
	require.NoError(t, err)
	require.Equal(t, loan.StatusCancelled, cancelled.Status)

	require.Equal(t, 0.0, repo.ledgers.Balance(testCompany, "Loan Advance"))
	require.Equal(t, 0.0, repo.ledgers.Balance(testCompany, "Bank"))

	_, err = svc.Cancel(context.Background(), testCompany, created.ID, 5, "again")
	require.ErrorIs(t, err, loan.ErrAlreadyCancelled)
}

func TestCancelRejectsServicedLoan(t *testing.T) {
	repo := newMemoryRepo()
	svc := loan.NewService(repo, nil)

	created, err := svc.Disburse(context.Background(), disburseInput())
	require.NoError(t, err)

	_, err = svc.RecordEMIPayment(context.Background(), testCompany, created.ID, 1, 100, 5)
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), testCompany, created.ID, 5, "too late")
	require.ErrorIs(t, err, loan.ErrServiced)
}

func TestCancelRejectsRecoveredLoan(t *testing.T) {
	repo := newMemoryRepo()
	svc := loan.NewService(repo, nil)

	created, err := svc.Disburse(context.Background(), disburseInput())
	require.NoError(t, err)

	// Recover the full amount through the receipt path: the loan closes
	// while every installment still shows zero paid.
	recovered, err := svc.Get(context.Background(), testCompany, created.ID)
	require.NoError(t, err)
	require.NoError(t, loan.ApplyRecovery(&recovered, recovered.OutstandingAmount, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, loan.StatusClosed, recovered.Status)
	require.NoError(t, repo.UpdateLoan(context.Background(), recovered))

	_, err = svc.Cancel(context.Background(), testCompany, created.ID, 5, "mistake")
	require.ErrorIs(t, err, loan.ErrServiced)

	after, err := svc.Get(context.Background(), testCompany, created.ID)
	require.NoError(t, err)
	require.Equal(t, loan.StatusClosed, after.Status)
	require.InDelta(t, 11200.00, after.RecoveredAmount, 0.001)

	// Partial receipt recovery on a still-active loan blocks cancellation too.
	second, err := svc.Disburse(context.Background(), disburseInput())
	require.NoError(t, err)
	partial, err := svc.Get(context.Background(), testCompany, second.ID)
	require.NoError(t, err)
	require.NoError(t, loan.ApplyRecovery(&partial, 500, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, loan.StatusActive, partial.Status)
	require.NoError(t, repo.UpdateLoan(context.Background(), partial))

	_, err = svc.Cancel(context.Background(), testCompany, second.ID, 5, "mistake")
	require.ErrorIs(t, err, loan.ErrServiced)
}

func TestCheckOverdueDefaultsLoan(t *testing.T) {
	repo := newMemoryRepo()
	svc := loan.NewService(repo, nil)

	created, err := svc.Disburse(context.Background(), disburseInput())
	require.NoError(t, err)

	changed, err := svc.CheckOverdue(context.Background(), testCompany, created.ID, created.Date.AddDate(0, 2, 1))
	require.NoError(t, err)
	require.True(t, changed)

	defaulted, err := svc.Get(context.Background(), testCompany, created.ID)
	require.NoError(t, err)
	require.Equal(t, loan.StatusDefaulted, defaulted.Status)
	require.Equal(t, loan.InstallmentOverdue, defaulted.Schedule[0].Status)
	require.Equal(t, loan.InstallmentOverdue, defaulted.Schedule[1].Status)
	require.Equal(t, loan.InstallmentPending, defaulted.Schedule[2].Status)

	// Idempotent when nothing else falls due.
	changed, err = svc.CheckOverdue(context.Background(), testCompany, created.ID, created.Date.AddDate(0, 2, 1))
	require.NoError(t, err)
	require.False(t, changed)
}

func TestDefaultedLoanClosesOnFullRecovery(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	l := loan.ProducerLoan{TotalLoanAmount: 900, RecoveredAmount: 600, OutstandingAmount: 300, Status: loan.StatusDefaulted}

	require.NoError(t, loan.ApplyRecovery(&l, 300, now))
	require.Equal(t, loan.StatusClosed, l.Status)
	require.NotNil(t, l.ClosedAt)
}

func TestSweepOverdue(t *testing.T) {
	repo := newMemoryRepo()
	svc := loan.NewService(repo, nil)

	first, err := svc.Disburse(context.Background(), disburseInput())
	require.NoError(t, err)
	input := disburseInput()
	input.Date = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.Disburse(context.Background(), input)
	require.NoError(t, err)

	flipped, err := svc.SweepOverdue(context.Background(), first.Date.AddDate(0, 1, 1))
	require.NoError(t, err)
	require.Equal(t, 1, flipped)
}
