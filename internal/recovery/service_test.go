package recovery_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dairyledger/dairyledger/internal/advance"
	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/ledger/ledgertest"
	"github.com/dairyledger/dairyledger/internal/loan"
	"github.com/dairyledger/dairyledger/internal/recovery"
	"github.com/dairyledger/dairyledger/internal/shared"
)

const testCompany = int64(1)

type advanceStore struct {
	ledgers     *ledgertest.Memory
	advances    map[int64]advance.Advance
	adjustments []advance.Adjustment
	nextID      int64
}

func (s *advanceStore) Ledger() ledger.TxRepository { return s.ledgers }

func (s *advanceStore) InsertAdvance(ctx context.Context, a advance.Advance) (advance.Advance, error) {
	s.nextID++
	a.ID = s.nextID
	s.advances[a.ID] = a
	return a, nil
}

func (s *advanceStore) GetAdvance(ctx context.Context, companyID, id int64) (advance.Advance, error) {
	a, ok := s.advances[id]
	if !ok || a.CompanyID != companyID {
		return advance.Advance{}, advance.ErrNotFound
	}
	for _, adj := range s.adjustments {
		if adj.AdvanceID == id {
			a.Adjustments = append(a.Adjustments, adj)
		}
	}
	return a, nil
}

func (s *advanceStore) GetAdvanceForUpdate(ctx context.Context, companyID, id int64) (advance.Advance, error) {
	return s.GetAdvance(ctx, companyID, id)
}

func (s *advanceStore) UpdateAdvance(ctx context.Context, a advance.Advance) error {
	if _, ok := s.advances[a.ID]; !ok {
		return advance.ErrNotFound
	}
	a.Adjustments = nil
	s.advances[a.ID] = a
	return nil
}

func (s *advanceStore) InsertAdjustment(ctx context.Context, adj advance.Adjustment) error {
	s.adjustments = append(s.adjustments, adj)
	return nil
}

func (s *advanceStore) DeleteAdjustment(ctx context.Context, advanceID, receiptID int64) error {
	kept := s.adjustments[:0]
	for _, adj := range s.adjustments {
		if adj.AdvanceID != advanceID || adj.ReceiptID != receiptID {
			kept = append(kept, adj)
		}
	}
	s.adjustments = kept
	return nil
}

func (s *advanceStore) ListAdvancesByFarmer(ctx context.Context, companyID, farmerID int64) ([]advance.Advance, error) {
	var out []advance.Advance
	for _, a := range s.advances {
		if a.CompanyID == companyID && a.FarmerID == farmerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type loanStore struct {
	ledgers *ledgertest.Memory
	loans   map[int64]loan.ProducerLoan
	nextID  int64
}

func (s *loanStore) Ledger() ledger.TxRepository { return s.ledgers }

func (s *loanStore) InsertLoan(ctx context.Context, l loan.ProducerLoan) (loan.ProducerLoan, error) {
	s.nextID++
	l.ID = s.nextID
	s.loans[l.ID] = l
	return l, nil
}

func (s *loanStore) InsertInstallments(ctx context.Context, loanID int64, rows []loan.Installment) error {
	return nil
}

func (s *loanStore) GetLoan(ctx context.Context, companyID, id int64) (loan.ProducerLoan, error) {
	l, ok := s.loans[id]
	if !ok || l.CompanyID != companyID {
		return loan.ProducerLoan{}, loan.ErrNotFound
	}
	return l, nil
}

func (s *loanStore) GetLoanForUpdate(ctx context.Context, companyID, id int64) (loan.ProducerLoan, error) {
	return s.GetLoan(ctx, companyID, id)
}

func (s *loanStore) UpdateLoan(ctx context.Context, l loan.ProducerLoan) error {
	if _, ok := s.loans[l.ID]; !ok {
		return loan.ErrNotFound
	}
	s.loans[l.ID] = l
	return nil
}

func (s *loanStore) UpdateInstallment(ctx context.Context, inst loan.Installment) error {
	return nil
}

func (s *loanStore) ListLoansByFarmer(ctx context.Context, companyID, farmerID int64) ([]loan.ProducerLoan, error) {
	return nil, nil
}

func (s *loanStore) ListLoanIDsDueBefore(ctx context.Context, asOf time.Time, limit int) ([]loan.LoanRef, error) {
	return nil, nil
}

type memoryRepo struct {
	ledgers  *ledgertest.Memory
	advances *advanceStore
	loans    *loanStore
	receipts map[int64]recovery.ProducerReceipt
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	ledgers := ledgertest.NewMemory()
	return &memoryRepo{
		ledgers:  ledgers,
		advances: &advanceStore{ledgers: ledgers, advances: make(map[int64]advance.Advance)},
		loans:    &loanStore{ledgers: ledgers, loans: make(map[int64]loan.ProducerLoan)},
		receipts: make(map[int64]recovery.ProducerReceipt),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, recovery.TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) Ledger() ledger.TxRepository    { return r.ledgers }
func (r *memoryRepo) Advances() advance.TxRepository { return r.advances }
func (r *memoryRepo) Loans() loan.TxRepository       { return r.loans }

func (r *memoryRepo) InsertReceipt(ctx context.Context, p recovery.ProducerReceipt) (recovery.ProducerReceipt, error) {
	r.nextID++
	p.ID = r.nextID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.receipts[p.ID] = p
	return p, nil
}

func (r *memoryRepo) GetReceipt(ctx context.Context, companyID, id int64) (recovery.ProducerReceipt, error) {
	p, ok := r.receipts[id]
	if !ok || p.CompanyID != companyID {
		return recovery.ProducerReceipt{}, recovery.ErrNotFound
	}
	return p, nil
}

func (r *memoryRepo) GetReceiptForUpdate(ctx context.Context, companyID, id int64) (recovery.ProducerReceipt, error) {
	return r.GetReceipt(ctx, companyID, id)
}

func (r *memoryRepo) UpdateReceipt(ctx context.Context, p recovery.ProducerReceipt) error {
	if _, ok := r.receipts[p.ID]; !ok {
		return recovery.ErrNotFound
	}
	r.receipts[p.ID] = p
	return nil
}

func (r *memoryRepo) ListReceiptsByFarmer(ctx context.Context, companyID, farmerID int64) ([]recovery.ProducerReceipt, error) {
	var out []recovery.ProducerReceipt
	for _, p := range r.receipts {
		if p.CompanyID == companyID && p.FarmerID == farmerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func seedAdvance(r *memoryRepo, amount float64) advance.Advance {
	a, _ := r.advances.InsertAdvance(context.Background(), advance.Advance{
		CompanyID:     testCompany,
		FarmerID:      42,
		Number:        "AD-000001",
		Category:      advance.CategoryCash,
		Date:          time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		AdvanceAmount: amount,
		BalanceAmount: amount,
		PaymentMode:   ledger.PaymentModeCash,
		Status:        advance.StatusActive,
	})
	return a
}

func seedLoan(r *memoryRepo, total float64) loan.ProducerLoan {
	l, _ := r.loans.InsertLoan(context.Background(), loan.ProducerLoan{
		CompanyID:         testCompany,
		FarmerID:          42,
		Number:            "LN-000001",
		Type:              loan.TypeLoan,
		TotalLoanAmount:   total,
		OutstandingAmount: total,
		Status:            loan.StatusActive,
	})
	return l
}

func receiptInput(refType recovery.ReferenceType, refID int64, amount float64) recovery.CreateReceiptInput {
	return recovery.CreateReceiptInput{
		CompanyID:     testCompany,
		ActorID:       5,
		FarmerID:      42,
		ReferenceType: refType,
		ReferenceID:   refID,
		Amount:        amount,
		PaymentMode:   ledger.PaymentModeCash,
		Date:          time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateReceiptAgainstAdvance(t *testing.T) {
	repo := newMemoryRepo()
	svc := recovery.NewService(repo, nil)
	adv := seedAdvance(repo, 1000)

	created, err := svc.CreateReceipt(context.Background(), receiptInput(recovery.ReferenceAdvance, adv.ID, 300))
	require.NoError(t, err)
	require.Equal(t, "RC-000001", created.Number)
	require.Equal(t, 1000.0, created.PreviousBalance)
	require.Equal(t, 700.0, created.NewBalance)
	require.Equal(t, recovery.StatusActive, created.Status)
	require.NotNil(t, created.VoucherID)

	updated, err := repo.advances.GetAdvance(context.Background(), testCompany, adv.ID)
	require.NoError(t, err)
	require.Equal(t, 300.0, updated.AdjustedAmount)
	require.Equal(t, 700.0, updated.BalanceAmount)
	require.Equal(t, advance.StatusPartiallyAdjusted, updated.Status)
	require.Len(t, updated.Adjustments, 1)
	require.Equal(t, created.ID, updated.Adjustments[0].ReceiptID)
	require.Equal(t, 300.0, updated.Adjustments[0].Amount)

	require.Equal(t, 300.0, repo.ledgers.Balance(testCompany, "Cash"))
	require.Equal(t, -300.0, repo.ledgers.Balance(testCompany, "Cash Advance"))
}

func TestCreateReceiptSettlesAdvanceExactly(t *testing.T) {
	repo := newMemoryRepo()
	svc := recovery.NewService(repo, nil)
	adv := seedAdvance(repo, 300)

	created, err := svc.CreateReceipt(context.Background(), receiptInput(recovery.ReferenceAdvance, adv.ID, 300))
	require.NoError(t, err)
	require.Equal(t, 0.0, created.NewBalance)

	updated, err := repo.advances.GetAdvance(context.Background(), testCompany, adv.ID)
	require.NoError(t, err)
	require.Equal(t, advance.StatusAdjusted, updated.Status)
	require.Equal(t, 0.0, updated.BalanceAmount)
}

func TestCreateReceiptRejectsOverRecovery(t *testing.T) {
	repo := newMemoryRepo()
	svc := recovery.NewService(repo, nil)
	adv := seedAdvance(repo, 1000)

	_, err := svc.CreateReceipt(context.Background(), receiptInput(recovery.ReferenceAdvance, adv.ID, 1200))
	require.True(t, shared.IsBalanceExceeded(err))

	untouched, err := repo.advances.GetAdvance(context.Background(), testCompany, adv.ID)
	require.NoError(t, err)
	require.Equal(t, 1000.0, untouched.BalanceAmount)
	require.Equal(t, advance.StatusActive, untouched.Status)
	require.Empty(t, repo.receipts)
}

func TestCreateReceiptClosesLoanAtZero(t *testing.T) {
	repo := newMemoryRepo()
	svc := recovery.NewService(repo, nil)
	l := seedLoan(repo, 11200)

	created, err := svc.CreateReceipt(context.Background(), receiptInput(recovery.ReferenceLoan, l.ID, 11200))
	require.NoError(t, err)
	require.Equal(t, 0.0, created.NewBalance)

	closed, err := repo.loans.GetLoan(context.Background(), testCompany, l.ID)
	require.NoError(t, err)
	require.Equal(t, loan.StatusClosed, closed.Status)
	require.Equal(t, 0.0, closed.OutstandingAmount)
	require.NotNil(t, closed.ClosedAt)
}

func TestCreateReceiptRejectsForeignFarmer(t *testing.T) {
	repo := newMemoryRepo()
	svc := recovery.NewService(repo, nil)
	adv := seedAdvance(repo, 1000)

	input := receiptInput(recovery.ReferenceAdvance, adv.ID, 100)
	input.FarmerID = 99
	_, err := svc.CreateReceipt(context.Background(), input)
	require.ErrorIs(t, err, advance.ErrNotFound)
}

func TestCreateReceiptAbortsWhenPostingFails(t *testing.T) {
	repo := newMemoryRepo()
	repo.ledgers.FailNextInsert = context.DeadlineExceeded
	svc := recovery.NewService(repo, nil)
	adv := seedAdvance(repo, 1000)

	_, err := svc.CreateReceipt(context.Background(), receiptInput(recovery.ReferenceAdvance, adv.ID, 300))
	require.ErrorIs(t, err, ledger.ErrPostingFailed)
	require.Empty(t, repo.receipts)
}

func TestCancelRestoresAdvanceExactly(t *testing.T) {
	repo := newMemoryRepo()
	svc := recovery.NewService(repo, nil)
	adv := seedAdvance(repo, 1000)

	created, err := svc.CreateReceipt(context.Background(), receiptInput(recovery.ReferenceAdvance, adv.ID, 300))
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), testCompany, created.ID, 5, "wrong farmer")
	require.NoError(t, err)
	require.Equal(t, recovery.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	restored, err := repo.advances.GetAdvance(context.Background(), testCompany, adv.ID)
	require.NoError(t, err)
	require.Equal(t, 0.0, restored.AdjustedAmount)
	require.Equal(t, 1000.0, restored.BalanceAmount)
	require.Equal(t, advance.StatusActive, restored.Status)
	require.Empty(t, restored.Adjustments)

	require.Equal(t, 0.0, repo.ledgers.Balance(testCompany, "Cash"))
	require.Equal(t, 0.0, repo.ledgers.Balance(testCompany, "Cash Advance"))

	_, err = svc.Cancel(context.Background(), testCompany, created.ID, 5, "again")
	require.ErrorIs(t, err, recovery.ErrAlreadyCancelled)
}

func TestCancelReopensAutoClosedLoan(t *testing.T) {
	repo := newMemoryRepo()
	svc := recovery.NewService(repo, nil)
	l := seedLoan(repo, 5000)

	created, err := svc.CreateReceipt(context.Background(), receiptInput(recovery.ReferenceLoan, l.ID, 5000))
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), testCompany, created.ID, 5, "posted twice")
	require.NoError(t, err)

	reopened, err := repo.loans.GetLoan(context.Background(), testCompany, l.ID)
	require.NoError(t, err)
	require.Equal(t, loan.StatusActive, reopened.Status)
	require.Equal(t, 5000.0, reopened.OutstandingAmount)
	require.Nil(t, reopened.ClosedAt)
}

func TestCancelThenRecreateRoundTrips(t *testing.T) {
	repo := newMemoryRepo()
	svc := recovery.NewService(repo, nil)
	adv := seedAdvance(repo, 1000)

	first, err := svc.CreateReceipt(context.Background(), receiptInput(recovery.ReferenceAdvance, adv.ID, 300))
	require.NoError(t, err)
	afterFirst, err := repo.advances.GetAdvance(context.Background(), testCompany, adv.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), testCompany, first.ID, 5, "redo")
	require.NoError(t, err)

	second, err := svc.CreateReceipt(context.Background(), receiptInput(recovery.ReferenceAdvance, adv.ID, 300))
	require.NoError(t, err)
	afterSecond, err := repo.advances.GetAdvance(context.Background(), testCompany, adv.ID)
	require.NoError(t, err)

	require.Equal(t, first.PreviousBalance, second.PreviousBalance)
	require.Equal(t, first.NewBalance, second.NewBalance)
	require.Equal(t, afterFirst.AdjustedAmount, afterSecond.AdjustedAmount)
	require.Equal(t, afterFirst.BalanceAmount, afterSecond.BalanceAmount)
	require.Equal(t, afterFirst.Status, afterSecond.Status)
}
