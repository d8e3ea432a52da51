package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/dalepay/wallet-movements/internal/fee"
	"github.com/dalepay/wallet-movements/internal/instrument"
	"github.com/dalepay/wallet-movements/internal/limits"
	"github.com/dalepay/wallet-movements/internal/lock"
	"github.com/dalepay/wallet-movements/internal/pipeline"
	"github.com/dalepay/wallet-movements/internal/snapshot"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, req domain.TransferRequest) (domain.SettlementReceipt, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.SettlementReceipt), args.Error(1)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordOutcome(ctx context.Context, req domain.TransferRequest, reference string) error {
	return m.Called(req.Status, reference).Error(0)
}

type staticIdentities map[string][]string

func (s staticIdentities) Identifiers(_ context.Context, accountID string) ([]string, error) {
	ids, ok := s[accountID]
	if !ok {
		return nil, errors.New("unknown account")
	}
	return ids, nil
}

func newTestService(t *testing.T, exec *mockExecutor) *MovementService {
	t.Helper()
	source := snapshot.SourceFunc(func(_ context.Context, accountID string) (domain.AccountSnapshot, error) {
		return domain.AccountSnapshot{
			AccountID:        accountID,
			Balance:          domain.Dollars(500),
			DailyRemaining:   domain.Dollars(1_000),
			MonthlyRemaining: domain.Dollars(5_000),
			IdentityVerified: true,
		}, nil
	})
	lim, err := limits.NewValidator(limits.DefaultPolicies(domain.Dollars(1), domain.Dollars(10_000)))
	require.NoError(t, err)

	p := pipeline.New(
		fee.MustResolver(fee.DefaultSchedule(), domain.RoundHalfUp),
		lim,
		instrument.NewValidator(),
		snapshot.NewCache(source, nil, time.Minute, nil),
		lock.NewLocalLocker(),
		exec,
		nil,
	)
	return NewMovementService(p, nil).WithIdentityLookup(staticIdentities{"acc-1": {"me@example.com"}})
}

func ptr(s string) *string { return &s }

func TestMovementService_FullFlowRecordsOutcome(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, mock.Anything).
		Return(domain.SettlementReceipt{Reference: "TX-9", Status: "completed"}, nil).Once()
	rec := &mockRecorder{}
	rec.On("RecordOutcome", domain.StatusSettled, "TX-9").Return(nil).Once()

	svc := newTestService(t, exec).WithRecorder(rec)
	ctx := context.Background()

	view, err := svc.Open(ctx, "acc-1", domain.KindPeerTransfer)
	require.NoError(t, err)
	id := view.ID

	view, err = svc.Update("acc-1", id, pipeline.Input{Amount: ptr("20"), Speed: ptr("instant"), Recipient: ptr("me@example.com")})
	require.NoError(t, err)
	assert.True(t, view.Violations.Has(instrument.CodeRecipientSelf))

	view, err = svc.Update("acc-1", id, pipeline.Input{Recipient: ptr("friend@example.com")})
	require.NoError(t, err)
	assert.Empty(t, view.Violations)
	assert.Equal(t, "20.30", view.Total.Fixed())

	view, err = svc.Review(ctx, "acc-1", id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusReview, view.Status)

	view, err = svc.Confirm(ctx, "acc-1", id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettled, view.Status)

	exec.AssertExpectations(t)
	rec.AssertExpectations(t)
}

func TestMovementService_OneOpenMovementPerAccount(t *testing.T) {
	svc := newTestService(t, &mockExecutor{})
	ctx := context.Background()

	first, err := svc.Open(ctx, "acc-1", domain.KindPeerTransfer)
	require.NoError(t, err)

	existing, err := svc.Open(ctx, "acc-1", domain.KindBankCashOut)
	assert.ErrorIs(t, err, ErrMovementOpen)
	assert.Equal(t, first.ID, existing.ID)

	_, err = svc.Open(ctx, "acc-2", domain.KindCardFunding)
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Count())

	require.NoError(t, svc.Discard("acc-1", first.ID))
	_, err = svc.Open(ctx, "acc-1", domain.KindBankCashOut)
	assert.NoError(t, err)
}

func TestMovementService_ConcurrentOpenKeepsOne(t *testing.T) {
	svc := newTestService(t, &mockExecutor{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	opened := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Open(context.Background(), "acc-1", domain.KindPeerTransfer); err == nil {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, svc.Count())
}

func TestMovementService_FinishedMovementIsReplaced(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, mock.Anything).
		Return(domain.SettlementReceipt{}, &domain.ExecutionError{Kind: domain.ExecRejected, Reason: "Recipient not found"})
	svc := newTestService(t, exec)
	ctx := context.Background()

	view, err := svc.Open(ctx, "acc-1", domain.KindPeerTransfer)
	require.NoError(t, err)
	_, err = svc.Update("acc-1", view.ID, pipeline.Input{Amount: ptr("5"), Recipient: ptr("ghost@example.com")})
	require.NoError(t, err)
	_, err = svc.Review(ctx, "acc-1", view.ID)
	require.NoError(t, err)
	view, err = svc.Confirm(ctx, "acc-1", view.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, view.Status)
	assert.Equal(t, "Recipient not found", view.Failure.Message)

	next, err := svc.Open(ctx, "acc-1", domain.KindCardFunding)
	require.NoError(t, err)
	assert.NotEqual(t, view.ID, next.ID)
}

func TestMovementService_OwnershipAndUnknownIDs(t *testing.T) {
	svc := newTestService(t, &mockExecutor{})
	view, err := svc.Open(context.Background(), "acc-1", domain.KindPeerTransfer)
	require.NoError(t, err)

	_, err = svc.Get("acc-2", view.ID)
	assert.ErrorIs(t, err, ErrMovementNotFound)
	_, err = svc.Get("acc-1", uuid.New())
	assert.ErrorIs(t, err, ErrMovementNotFound)
	assert.ErrorIs(t, svc.Discard("acc-2", view.ID), ErrMovementNotFound)

	got, err := svc.Get("acc-1", view.ID)
	require.NoError(t, err)
	assert.Equal(t, view.ID, got.ID)

	current, err := svc.Current("acc-1")
	require.NoError(t, err)
	assert.Equal(t, view.ID, current.ID)
}

func TestMovementService_SweepExpired(t *testing.T) {
	svc := newTestService(t, &mockExecutor{}).WithTTL(time.Minute)
	_, err := svc.Open(context.Background(), "acc-1", domain.KindPeerTransfer)
	require.NoError(t, err)

	assert.Equal(t, 0, svc.SweepExpired(time.Now()))
	assert.Equal(t, 1, svc.SweepExpired(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, svc.Count())
}

func TestQuoteService(t *testing.T) {
	svc := NewQuoteService(fee.MustResolver(fee.DefaultSchedule(), domain.RoundHalfUp))

	q, err := svc.Quote("bank_cash_out", "instant", "$1,000")
	require.NoError(t, err)
	assert.Equal(t, "14.00", q.Fee.Fixed())
	assert.Equal(t, "9.50", q.Breakdown.Processor.Fixed())
	assert.Equal(t, "4.50", q.Breakdown.Platform.Fixed())

	_, err = svc.Quote("wire", "warp", "-5")
	var v domain.Violations
	require.True(t, errors.As(err, &v))
	assert.Len(t, v, 3)
}

func TestMovementService_CallerIdentifiersBlockSelfTransfer(t *testing.T) {
	svc := newTestService(t, &mockExecutor{})
	view, err := svc.Open(context.Background(), "acc-1", domain.KindPeerTransfer, "+1 (555) 010-2000")
	require.NoError(t, err)

	view, err = svc.Update("acc-1", view.ID, pipeline.Input{Recipient: ptr("+15550102000")})
	require.NoError(t, err)
	assert.True(t, view.Violations.Has(instrument.CodeRecipientSelf))

	// the looked-up e-mail still applies alongside caller identifiers
	view, err = svc.Update("acc-1", view.ID, pipeline.Input{Recipient: ptr("ME@example.com")})
	require.NoError(t, err)
	assert.True(t, view.Violations.Has(instrument.CodeRecipientSelf))
}
