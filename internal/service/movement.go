package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/dalepay/wallet-movements/internal/observability"
	"github.com/dalepay/wallet-movements/internal/pipeline"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrMovementNotFound = errors.New("movement not found")
	ErrMovementOpen     = errors.New("account already has a movement in progress")
)

// Recorder journals finished movements.
type Recorder interface {
	RecordOutcome(ctx context.Context, req domain.TransferRequest, reference string) error
}

// IdentityLookup returns the identifiers an account may not send money to.
type IdentityLookup interface {
	Identifiers(ctx context.Context, accountID string) ([]string, error)
}

// MovementService holds the open movement of each account and routes
// requests to the pipeline. An account has at most one unfinished movement.
type MovementService struct {
	pipeline   *pipeline.Pipeline
	recorder   Recorder
	identities IdentityLookup
	ttl        time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	byAccount map[string]*pipeline.Movement
}

func NewMovementService(p *pipeline.Pipeline, logger *zap.Logger) *MovementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MovementService{
		pipeline:  p,
		ttl:       30 * time.Minute,
		logger:    logger,
		byAccount: make(map[string]*pipeline.Movement),
	}
}

// WithRecorder journals settled and failed movements.
func (s *MovementService) WithRecorder(r Recorder) *MovementService {
	s.recorder = r
	return s
}

// WithIdentityLookup enables the self-transfer check against account e-mail and phone.
func (s *MovementService) WithIdentityLookup(l IdentityLookup) *MovementService {
	s.identities = l
	return s
}

// WithTTL sets how long an untouched movement is kept.
func (s *MovementService) WithTTL(ttl time.Duration) *MovementService {
	s.ttl = ttl
	return s
}

// Open starts a new draft. A finished movement of the same account is replaced;
// an unfinished one must be cancelled or discarded first. self adds caller
// supplied identifiers, such as token claims, to the self-transfer check.
func (s *MovementService) Open(ctx context.Context, accountID string, kind domain.OperationKind, self ...string) (pipeline.View, error) {
	s.mu.Lock()
	if existing, ok := s.byAccount[accountID]; ok && !existing.Status().Terminal() {
		s.mu.Unlock()
		return existing.View(), ErrMovementOpen
	}
	s.mu.Unlock()

	if s.identities != nil {
		ids, err := s.identities.Identifiers(ctx, accountID)
		if err != nil {
			s.logger.Warn("identifier lookup failed", zap.String("account_id", accountID), zap.Error(err))
		}
		self = append(self, ids...)
	}

	m, err := s.pipeline.Start(ctx, accountID, kind, self...)
	if err != nil {
		return pipeline.View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// another request may have opened one while the snapshot loaded
	if existing, ok := s.byAccount[accountID]; ok && !existing.Status().Terminal() {
		return existing.View(), ErrMovementOpen
	}
	s.byAccount[accountID] = m
	observability.SetOpenMovements(len(s.byAccount))
	return m.View(), nil
}

func (s *MovementService) Get(accountID string, id uuid.UUID) (pipeline.View, error) {
	m, err := s.lookup(accountID, id)
	if err != nil {
		return pipeline.View{}, err
	}
	return m.View(), nil
}

func (s *MovementService) Update(accountID string, id uuid.UUID, in pipeline.Input) (pipeline.View, error) {
	m, err := s.lookup(accountID, id)
	if err != nil {
		return pipeline.View{}, err
	}
	return s.pipeline.Update(m, in)
}

func (s *MovementService) Review(ctx context.Context, accountID string, id uuid.UUID) (pipeline.View, error) {
	m, err := s.lookup(accountID, id)
	if err != nil {
		return pipeline.View{}, err
	}
	return s.pipeline.Review(ctx, m)
}

func (s *MovementService) Confirm(ctx context.Context, accountID string, id uuid.UUID) (pipeline.View, error) {
	m, err := s.lookup(accountID, id)
	if err != nil {
		return pipeline.View{}, err
	}
	view, err := s.pipeline.Confirm(ctx, m)
	if err != nil {
		return view, err
	}
	if view.Status.Terminal() && s.recorder != nil {
		reference := ""
		if view.Receipt != nil {
			reference = view.Receipt.Reference
		}
		if recErr := s.recorder.RecordOutcome(context.WithoutCancel(ctx), m.Request(), reference); recErr != nil {
			s.logger.Error("record movement outcome failed",
				zap.String("movement_id", view.ID.String()),
				zap.String("account_id", accountID),
				zap.Error(recErr),
			)
		}
	}
	return view, nil
}

func (s *MovementService) Cancel(ctx context.Context, accountID string, id uuid.UUID) (pipeline.View, error) {
	m, err := s.lookup(accountID, id)
	if err != nil {
		return pipeline.View{}, err
	}
	return s.pipeline.Cancel(ctx, m)
}

func (s *MovementService) Retry(ctx context.Context, accountID string, id uuid.UUID) (pipeline.View, error) {
	m, err := s.lookup(accountID, id)
	if err != nil {
		return pipeline.View{}, err
	}
	return s.pipeline.Retry(ctx, m)
}

// Discard drops a movement that is not being submitted.
func (s *MovementService) Discard(accountID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byAccount[accountID]
	if !ok || m.ID() != id {
		return ErrMovementNotFound
	}
	if m.Submitting() {
		return pipeline.ErrNotCancellable
	}
	delete(s.byAccount, accountID)
	observability.SetOpenMovements(len(s.byAccount))
	s.logger.Info("movement discarded", zap.String("movement_id", id.String()), zap.String("account_id", accountID))
	return nil
}

// SweepExpired removes movements untouched for longer than the TTL.
// Movements being submitted are never removed.
func (s *MovementService) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for accountID, m := range s.byAccount {
		if m.Submitting() || now.Sub(m.UpdatedAt()) < s.ttl {
			continue
		}
		delete(s.byAccount, accountID)
		removed++
	}
	observability.SetOpenMovements(len(s.byAccount))
	return removed
}

// Count returns the number of movements held.
func (s *MovementService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byAccount)
}

// Current returns the account's movement, if any.
func (s *MovementService) Current(accountID string) (pipeline.View, error) {
	s.mu.Lock()
	m, ok := s.byAccount[accountID]
	s.mu.Unlock()
	if !ok {
		return pipeline.View{}, ErrMovementNotFound
	}
	return m.View(), nil
}

func (s *MovementService) lookup(accountID string, id uuid.UUID) (*pipeline.Movement, error) {
	s.mu.Lock()
	m, ok := s.byAccount[accountID]
	s.mu.Unlock()
	if !ok || m.ID() != id {
		return nil, fmt.Errorf("%w: %s", ErrMovementNotFound, id)
	}
	return m, nil
}
