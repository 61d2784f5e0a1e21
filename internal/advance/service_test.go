package advance_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dairyledger/dairyledger/internal/advance"
	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/ledger/ledgertest"
	"github.com/dairyledger/dairyledger/internal/shared"
)

const testCompany = int64(1)

type memoryRepo struct {
	ledgers     *ledgertest.Memory
	advances    map[int64]advance.Advance
	adjustments map[int64][]advance.Adjustment
	nextID      int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		ledgers:     ledgertest.NewMemory(),
		advances:    make(map[int64]advance.Advance),
		adjustments: make(map[int64][]advance.Adjustment),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, advance.TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) Ledger() ledger.TxRepository { return r.ledgers }

func (r *memoryRepo) InsertAdvance(ctx context.Context, a advance.Advance) (advance.Advance, error) {
	r.nextID++
	a.ID = r.nextID
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	r.advances[a.ID] = a
	return a, nil
}

func (r *memoryRepo) GetAdvance(ctx context.Context, companyID, id int64) (advance.Advance, error) {
	a, ok := r.advances[id]
	if !ok || a.CompanyID != companyID {
		return advance.Advance{}, advance.ErrNotFound
	}
	a.Adjustments = append([]advance.Adjustment(nil), r.adjustments[id]...)
	return a, nil
}

func (r *memoryRepo) GetAdvanceForUpdate(ctx context.Context, companyID, id int64) (advance.Advance, error) {
	return r.GetAdvance(ctx, companyID, id)
}

func (r *memoryRepo) UpdateAdvance(ctx context.Context, a advance.Advance) error {
	if _, ok := r.advances[a.ID]; !ok {
		return advance.ErrNotFound
	}
	a.Adjustments = nil
	r.advances[a.ID] = a
	return nil
}

func (r *memoryRepo) InsertAdjustment(ctx context.Context, adj advance.Adjustment) error {
	r.adjustments[adj.AdvanceID] = append(r.adjustments[adj.AdvanceID], adj)
	return nil
}

func (r *memoryRepo) DeleteAdjustment(ctx context.Context, advanceID, receiptID int64) error {
	kept := r.adjustments[advanceID][:0]
	for _, adj := range r.adjustments[advanceID] {
		if adj.ReceiptID != receiptID {
			kept = append(kept, adj)
		}
	}
	r.adjustments[advanceID] = kept
	return nil
}

func (r *memoryRepo) ListAdvancesByFarmer(ctx context.Context, companyID, farmerID int64) ([]advance.Advance, error) {
	var out []advance.Advance
	for _, a := range r.advances {
		if a.CompanyID == companyID && a.FarmerID == farmerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func issueInput() advance.IssueInput {
	return advance.IssueInput{
		CompanyID:   testCompany,
		ActorID:     3,
		FarmerID:    42,
		Category:    advance.CategoryCash,
		Amount:      1000,
		PaymentMode: ledger.PaymentModeCash,
		Date:        time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestIssuePostsDisbursementVoucher(t *testing.T) {
	repo := newMemoryRepo()
	svc := advance.NewService(repo, nil)

	created, err := svc.Issue(context.Background(), issueInput())
	require.NoError(t, err)
	require.Equal(t, "AD-000001", created.Number)
	require.Equal(t, advance.StatusActive, created.Status)
	require.Equal(t, 1000.0, created.BalanceAmount)
	require.NotNil(t, created.VoucherID)

	require.Equal(t, 1000.0, repo.ledgers.Balance(testCompany, "Cash Advance"))
	require.Equal(t, -1000.0, repo.ledgers.Balance(testCompany, "Cash"))
}

func TestIssueRejectsInvalidInput(t *testing.T) {
	svc := advance.NewService(newMemoryRepo(), nil)

	bad := issueInput()
	bad.Amount = 0
	_, err := svc.Issue(context.Background(), bad)
	require.Error(t, err)

	bad = issueInput()
	bad.Category = "SEED_ADVANCE"
	_, err = svc.Issue(context.Background(), bad)
	require.Error(t, err)
}

func TestIssueAbortsWhenPostingFails(t *testing.T) {
	repo := newMemoryRepo()
	repo.ledgers.FailNextInsert = context.DeadlineExceeded
	svc := advance.NewService(repo, nil)

	_, err := svc.Issue(context.Background(), issueInput())
	require.ErrorIs(t, err, ledger.ErrPostingFailed)
	require.Empty(t, repo.advances)
}

func TestApplyRecoveryDerivesStatus(t *testing.T) {
	a := advance.Advance{AdvanceAmount: 1000, BalanceAmount: 1000, Status: advance.StatusActive}

	require.NoError(t, advance.ApplyRecovery(&a, 300))
	require.Equal(t, 300.0, a.AdjustedAmount)
	require.Equal(t, 700.0, a.BalanceAmount)
	require.Equal(t, advance.StatusPartiallyAdjusted, a.Status)

	require.NoError(t, advance.ApplyRecovery(&a, 700))
	require.Equal(t, 0.0, a.BalanceAmount)
	require.Equal(t, advance.StatusAdjusted, a.Status)
}

func TestApplyRecoveryRejectsOverpayment(t *testing.T) {
	a := advance.Advance{AdvanceAmount: 500, BalanceAmount: 200, AdjustedAmount: 300, Status: advance.StatusPartiallyAdjusted}

	err := advance.ApplyRecovery(&a, 250)
	require.True(t, shared.IsBalanceExceeded(err))
	require.Equal(t, 200.0, a.BalanceAmount)
	require.Equal(t, 300.0, a.AdjustedAmount)
}

func TestReverseRecoveryRestoresState(t *testing.T) {
	a := advance.Advance{AdvanceAmount: 1000, BalanceAmount: 1000, Status: advance.StatusActive}
	require.NoError(t, advance.ApplyRecovery(&a, 400))
	require.NoError(t, advance.ReverseRecovery(&a, 400))
	require.Equal(t, 1000.0, a.BalanceAmount)
	require.Equal(t, 0.0, a.AdjustedAmount)
	require.Equal(t, advance.StatusActive, a.Status)
}

func TestCancelReversesVoucher(t *testing.T) {
	repo := newMemoryRepo()
	svc := advance.NewService(repo, nil)

	created, err := svc.Issue(context.Background(), issueInput())
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), testCompany, created.ID, 3, "issued in error")
	require.NoError(t, err)
	require.Equal(t, advance.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	require.Equal(t, 0.0, repo.ledgers.Balance(testCompany, "Cash Advance"))
	require.Equal(t, 0.0, repo.ledgers.Balance(testCompany, "Cash"))

	_, err = svc.Cancel(context.Background(), testCompany, created.ID, 3, "again")
	require.ErrorIs(t, err, advance.ErrCancelled)
}

func TestCancelRejectsServicedAdvance(t *testing.T) {
	repo := newMemoryRepo()
	svc := advance.NewService(repo, nil)

	created, err := svc.Issue(context.Background(), issueInput())
	require.NoError(t, err)

	serviced := repo.advances[created.ID]
	require.NoError(t, advance.ApplyRecovery(&serviced, 100))
	repo.advances[created.ID] = serviced

	_, err = svc.Cancel(context.Background(), testCompany, created.ID, 3, "too late")
	require.ErrorIs(t, err, advance.ErrPartlyAdjusted)
}
