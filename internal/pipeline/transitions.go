package pipeline

import (
	"fmt"

	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/dalepay/wallet-movements/internal/observability"
)

var movementTransitions = map[domain.TransferStatus]map[domain.TransferStatus]struct{}{
	domain.StatusDraft: {
		domain.StatusReview: {},
	},
	domain.StatusReview: {
		domain.StatusDraft:      {},
		domain.StatusSubmitting: {},
	},
	domain.StatusSubmitting: {
		domain.StatusSettled: {},
		domain.StatusFailed:  {},
	},
	domain.StatusSettled: {},
	domain.StatusFailed: {
		domain.StatusDraft: {},
	},
}

func canTransition(current, next domain.TransferStatus) bool {
	nextStates, ok := movementTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// transition moves the request to next. Callers hold the movement's mutex.
func (m *Movement) transition(next domain.TransferStatus) error {
	current := m.req.Status
	if !canTransition(current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	m.req.Status = next
	m.updatedAt = m.clock()
	observability.IncrementTransition(string(m.req.Kind), string(current), string(next))
	return nil
}
