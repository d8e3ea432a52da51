package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/dalepay/wallet-movements/internal/domain"
)

// Executor is the port to the payments backend that actually moves money.
// Failures are returned as *domain.ExecutionError.
type Executor interface {
	// Execute submits one movement. The request's IdempotencyKey must be forwarded
	// so a retried submission is never applied twice.
	Execute(ctx context.Context, req domain.TransferRequest) (domain.SettlementReceipt, error)
}

// MockExecutor simulates the payments backend for local development.
// It introduces a random delay and fails FailureRate of the time.
type MockExecutor struct {
	// FailureRate is the probability of failure (0.0 to 1.0). Default: 0.1 (10%)
	FailureRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
	now         func() time.Time
}

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		FailureRate: 0.1,
		MinDelay:    300 * time.Millisecond,
		MaxDelay:    1500 * time.Millisecond,
		now:         time.Now,
	}
}

// Execute sleeps to simulate network latency, then randomly fails based on
// FailureRate. Returns a fake receipt on success.
func (g *MockExecutor) Execute(ctx context.Context, req domain.TransferRequest) (domain.SettlementReceipt, error) {
	delay := g.MinDelay
	if span := g.MaxDelay - g.MinDelay; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return domain.SettlementReceipt{}, &domain.ExecutionError{
			Kind:           domain.ExecTimeout,
			Reason:         fmt.Sprintf("payments backend did not answer: %v", ctx.Err()),
			OutcomeUnknown: true,
		}
	}

	if rand.Float64() < g.FailureRate {
		return domain.SettlementReceipt{}, &domain.ExecutionError{
			Kind:   domain.ExecUnavailable,
			Code:   "gateway_unavailable",
			Reason: "payments backend temporarily unavailable",
			Status: 503,
		}
	}

	now := g.now()
	// Format: MOCK-YYYYMMDD-HHMMSS-XXXXX
	ref := fmt.Sprintf("MOCK-%s-%05d", now.Format("20060102-150405"), rand.Intn(100000))
	return domain.SettlementReceipt{
		Reference:        ref,
		RequestID:        req.ID,
		Amount:           req.Amount,
		Fee:              req.Fee,
		NetAmount:        req.Amount,
		Status:           "completed",
		EstimatedArrival: EstimatedArrival(req.Kind, req.Speed),
		SettledAt:        now,
	}, nil
}

// EstimatedArrival is the user-facing settlement window for a kind and speed.
func EstimatedArrival(kind domain.OperationKind, speed domain.TransferSpeed) string {
	switch {
	case kind == domain.KindCardFunding, speed == domain.SpeedInstant:
		return "Instantly"
	default:
		return "1-3 business days"
	}
}
