// Package pipeline drives a money movement from draft through review and
// confirmation to a settled or failed outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/dalepay/wallet-movements/internal/fee"
	"github.com/dalepay/wallet-movements/internal/gateway"
	"github.com/dalepay/wallet-movements/internal/instrument"
	"github.com/dalepay/wallet-movements/internal/limits"
	"github.com/dalepay/wallet-movements/internal/lock"
	"github.com/dalepay/wallet-movements/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrImmutable            = errors.New("movement can only be edited while in draft")
	ErrSubmissionInProgress = errors.New("movement is already being submitted")
	ErrNotCancellable       = errors.New("movement cannot be cancelled while it is being submitted")
	ErrInvalidTransition    = errors.New("invalid movement state transition")
)

// Violation codes raised by the pipeline itself.
const (
	CodeInstrumentRequired = "instrument_required"
	CodeNotApplicable      = "field_not_applicable"
	CodeAmountInvalid      = "amount_invalid"
	CodeSpeedInvalid       = "speed_invalid"
)

// SnapshotCache is the subset of the snapshot cache the pipeline needs.
type SnapshotCache interface {
	Get(ctx context.Context, accountID string) (domain.AccountSnapshot, error)
	Refresh(ctx context.Context, accountID string) (domain.AccountSnapshot, error)
	Invalidate(ctx context.Context, accountID string)
}

// Pipeline owns the rules that move a Movement between states.
// It is safe for concurrent use; each Movement carries its own lock.
type Pipeline struct {
	fees          *fee.Resolver
	limits        *limits.Validator
	instruments   *instrument.Validator
	snapshots     SnapshotCache
	locker        lock.Locker
	executor      gateway.Executor
	logger        *zap.Logger
	submitTimeout time.Duration
	now           func() time.Time
}

func New(fees *fee.Resolver, lim *limits.Validator, instruments *instrument.Validator, snapshots SnapshotCache, locker lock.Locker, executor gateway.Executor, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fees:          fees,
		limits:        lim,
		instruments:   instruments,
		snapshots:     snapshots,
		locker:        locker,
		executor:      executor,
		logger:        logger,
		submitTimeout: 30 * time.Second,
		now:           time.Now,
	}
}

// WithSubmitTimeout bounds a single call to the payments backend.
func (p *Pipeline) WithSubmitTimeout(d time.Duration) *Pipeline {
	p.submitTimeout = d
	return p
}

// WithClock overrides the clock for timestamps.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Start opens a new draft with its own copy of the account snapshot.
// self lists the sender's identifiers for the self-transfer check; the
// account ID is always included.
func (p *Pipeline) Start(ctx context.Context, accountID string, kind domain.OperationKind, self ...string) (*Movement, error) {
	if _, err := domain.ParseOperationKind(string(kind)); err != nil {
		return nil, err
	}
	snap, err := p.snapshots.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("start movement: %w", err)
	}

	now := p.now()
	m := &Movement{
		req: domain.TransferRequest{
			ID:             uuid.New(),
			AccountID:      accountID,
			Kind:           kind,
			Speed:          domain.SpeedStandard,
			Status:         domain.StatusDraft,
			IdempotencyKey: uuid.NewString(),
			CreatedAt:      now,
		},
		snapshot:  snap,
		self:      append([]string{accountID}, self...),
		fieldErrs: make(map[string]domain.Violations),
		clock:     p.now,
		updatedAt: now,
	}
	m.recomputeFee(p.fees)

	p.logger.Info("movement started",
		zap.String("movement_id", m.req.ID.String()),
		zap.String("account_id", accountID),
		zap.String("kind", string(kind)),
	)
	return m, nil
}

// Update applies a partial edit to a draft and recomputes the fee.
// Instruments are validated right away and only the normalized form is kept.
// Fields the kind does not use are ignored; they are reported in the returned
// View only and never block Review.
func (p *Pipeline) Update(m *Movement, in Input) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.busy || m.req.Status != domain.StatusDraft {
		return m.view(), ErrImmutable
	}

	var ignored domain.Violations

	if in.Amount != nil {
		amount, err := domain.ParseMoney(*in.Amount)
		if err != nil {
			m.req.Amount = domain.Money{}
			m.setFieldErr("amount", domain.Violations{{Field: "amount", Code: CodeAmountInvalid, Message: err.Error()}})
		} else {
			m.req.Amount = amount
			m.setFieldErr("amount", nil)
		}
	}

	if in.Speed != nil {
		switch speed, err := domain.ParseTransferSpeed(*in.Speed); {
		case !m.req.Kind.UsesSpeed():
			m.setFieldErr("speed", nil)
		case err != nil:
			m.setFieldErr("speed", domain.Violations{{Field: "speed", Code: CodeSpeedInvalid, Message: err.Error()}})
		default:
			m.req.Speed = speed
			m.setFieldErr("speed", nil)
		}
	}

	if in.Recipient != nil {
		if !m.req.Kind.UsesRecipient() {
			ignored = append(ignored, notApplicable("recipient", m.req.Kind)...)
		} else if recipient, err := instrument.ValidateRecipient(*in.Recipient, m.self...); err != nil {
			m.req.Recipient = ""
			m.setFieldErr("recipient", asViolations(err))
		} else {
			m.req.Recipient = recipient
			m.setFieldErr("recipient", nil)
		}
	}

	if in.Card != nil {
		ignored = append(ignored, p.applyInstrument(m, domain.InstrumentCard, func() (domain.FundingInstrument, error) {
			return p.instruments.ValidateCard(*in.Card)
		})...)
	}
	if in.BankAccount != nil {
		ignored = append(ignored, p.applyInstrument(m, domain.InstrumentBankAccount, func() (domain.FundingInstrument, error) {
			return p.instruments.ValidateBankAccount(*in.BankAccount)
		})...)
	}

	if m.carriedKey && (in.Amount != nil || in.Speed != nil || in.Recipient != nil || in.Card != nil || in.BankAccount != nil) {
		m.rotateIdentity()
	}
	m.clearOutcome()
	m.recomputeFee(p.fees)
	m.updatedAt = p.now()
	view := m.view()
	view.Violations = append(view.Violations, ignored...)
	return view, nil
}

// applyInstrument validates and stores an instrument of type typ. An
// instrument the kind does not take is left out and returned as a violation.
func (p *Pipeline) applyInstrument(m *Movement, typ domain.InstrumentType, validate func() (domain.FundingInstrument, error)) domain.Violations {
	want, needs := m.req.Kind.InstrumentType()
	if !needs || want != typ {
		return notApplicable(string(typ), m.req.Kind)
	}
	inst, err := validate()
	if err != nil {
		m.req.Instrument = nil
		m.setFieldErr("instrument", asViolations(err))
		return nil
	}
	m.req.Instrument = &inst
	m.setFieldErr("instrument", nil)
	return nil
}

// Review moves a complete, locally authorized draft to review. Input
// violations and limit rejections leave it in draft and show up in the View.
func (p *Pipeline) Review(ctx context.Context, m *Movement) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.busy {
		return m.view(), ErrSubmissionInProgress
	}
	switch m.req.Status {
	case domain.StatusReview:
		return m.view(), nil
	case domain.StatusDraft:
	default:
		return m.view(), fmt.Errorf("%w: cannot review a %s movement", ErrInvalidTransition, m.req.Status)
	}

	m.clearOutcome()
	m.missing = m.requiredMissing()
	if len(m.violations()) > 0 {
		return m.view(), nil
	}

	decision := p.limits.Authorize(m.req.Amount, m.req.Fee, m.snapshot, m.req.Kind)
	if !decision.Accepted() {
		m.rejection = &decision
		recordRejection(m.req.Kind, decision, "review")
		p.logger.Info("movement rejected at review",
			zap.String("movement_id", m.req.ID.String()),
			zap.String("account_id", m.req.AccountID),
			zap.String("reason", string(decision.Reason)),
		)
		return m.view(), nil
	}

	if err := m.transition(domain.StatusReview); err != nil {
		return m.view(), err
	}
	return m.view(), nil
}

// Confirm submits a reviewed movement. At most one confirmation per movement
// reaches the payments backend; a concurrent second call gets
// ErrSubmissionInProgress. Submissions on the same account are serialized
// and each re-checks the current snapshot before it is sent.
func (p *Pipeline) Confirm(ctx context.Context, m *Movement) (View, error) {
	m.mu.Lock()
	if m.busy || m.req.Status == domain.StatusSubmitting {
		defer m.mu.Unlock()
		return m.view(), ErrSubmissionInProgress
	}
	if m.req.Status != domain.StatusReview {
		defer m.mu.Unlock()
		return m.view(), fmt.Errorf("%w: cannot confirm a %s movement", ErrInvalidTransition, m.req.Status)
	}
	m.busy = true
	accountID := m.req.AccountID
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
	}()

	logger := p.logger.With(
		zap.String("movement_id", m.ID().String()),
		zap.String("account_id", accountID),
		zap.String("kind", string(m.req.Kind)),
	)

	release, err := p.locker.Acquire(ctx, accountID)
	if err != nil {
		return m.View(), fmt.Errorf("confirm movement: %w", err)
	}
	defer release()

	snap, err := p.snapshots.Get(ctx, accountID)
	if err != nil {
		return m.View(), fmt.Errorf("confirm movement: %w", err)
	}

	m.mu.Lock()
	m.snapshot = snap
	decision := p.limits.Authorize(m.req.Amount, m.req.Fee, snap, m.req.Kind)
	if !decision.Accepted() {
		m.rejection = &decision
		m.updatedAt = p.now()
		view := m.view()
		m.mu.Unlock()
		recordRejection(m.req.Kind, decision, "confirm")
		logger.Info("movement rejected against current snapshot", zap.String("reason", string(decision.Reason)))
		return view, nil
	}
	m.rejection = nil
	if err := m.transition(domain.StatusSubmitting); err != nil {
		view := m.view()
		m.mu.Unlock()
		return view, err
	}
	req := m.copyRequest()
	m.mu.Unlock()

	// a dropped client connection must not abort a submission already under way
	started := p.now()
	receipt, execErr := p.execute(context.WithoutCancel(ctx), req)
	elapsed := p.now().Sub(started)

	m.mu.Lock()
	if execErr != nil {
		m.failure = newFailure(execErr)
		_ = m.transition(domain.StatusFailed)
		observability.ObserveExecution(string(req.Kind), string(execErr.Kind), elapsed)
		logger.Warn("movement failed",
			zap.String("failure_kind", string(execErr.Kind)),
			zap.String("code", execErr.Code),
			zap.Bool("outcome_unknown", execErr.OutcomeUnknown),
			zap.Error(execErr),
		)
	} else {
		m.receipt = &receipt
		_ = m.transition(domain.StatusSettled)
		observability.ObserveExecution(string(req.Kind), "settled", elapsed)
		logger.Info("movement settled", zap.String("reference", receipt.Reference))
	}
	view := m.view()
	m.mu.Unlock()

	p.snapshots.Invalidate(context.WithoutCancel(ctx), accountID)
	return view, nil
}

// execute calls the executor once, bounded by the submit timeout. Panics and
// untyped errors come back as unexpected failures.
func (p *Pipeline) execute(ctx context.Context, req domain.TransferRequest) (domain.SettlementReceipt, *domain.ExecutionError) {
	ctx, cancel := context.WithTimeout(ctx, p.submitTimeout)
	defer cancel()

	type result struct {
		receipt domain.SettlementReceipt
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("executor panicked", zap.String("movement_id", req.ID.String()), zap.Any("panic", r))
				done <- result{err: &domain.ExecutionError{
					Kind:           domain.ExecUnexpected,
					Reason:         fmt.Sprintf("payments backend call failed unexpectedly: %v", r),
					OutcomeUnknown: true,
				}}
			}
		}()
		receipt, err := p.executor.Execute(ctx, req)
		done <- result{receipt: receipt, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.receipt, nil
		}
		var execErr *domain.ExecutionError
		if errors.As(res.err, &execErr) {
			return domain.SettlementReceipt{}, execErr
		}
		return domain.SettlementReceipt{}, &domain.ExecutionError{
			Kind:           domain.ExecUnexpected,
			Reason:         res.err.Error(),
			OutcomeUnknown: true,
		}
	case <-ctx.Done():
		return domain.SettlementReceipt{}, &domain.ExecutionError{
			Kind:           domain.ExecTimeout,
			Reason:         fmt.Sprintf("no response from the payments backend after %s", p.submitTimeout),
			OutcomeUnknown: true,
		}
	}
}

// Cancel abandons a reviewed movement and reopens a blank draft with a new
// identity and a freshly captured snapshot.
func (p *Pipeline) Cancel(ctx context.Context, m *Movement) (View, error) {
	if m.Submitting() {
		return m.View(), ErrNotCancellable
	}
	snap, snapErr := p.snapshots.Refresh(ctx, m.AccountID())

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy || m.req.Status == domain.StatusSubmitting {
		return m.view(), ErrNotCancellable
	}
	if m.req.Status != domain.StatusReview {
		return m.view(), fmt.Errorf("%w: cannot cancel a %s movement", ErrInvalidTransition, m.req.Status)
	}
	if err := m.transition(domain.StatusDraft); err != nil {
		return m.view(), err
	}
	if snapErr != nil {
		p.logger.Warn("snapshot refresh on cancel failed, keeping previous copy",
			zap.String("account_id", m.req.AccountID), zap.Error(snapErr))
	} else {
		m.snapshot = snap
	}
	m.clearInputs()
	m.rotateIdentity()
	m.recomputeFee(p.fees)
	return m.view(), nil
}

// Retry reopens a failed movement as a draft with its inputs kept and a fresh
// snapshot. When the earlier outcome is unknown the idempotency key is kept
// so a resubmission of the same request cannot move money twice.
func (p *Pipeline) Retry(ctx context.Context, m *Movement) (View, error) {
	if status := m.Status(); status != domain.StatusFailed {
		return m.View(), fmt.Errorf("%w: cannot retry a %s movement", ErrInvalidTransition, status)
	}
	snap, err := p.snapshots.Refresh(ctx, m.AccountID())
	if err != nil {
		return m.View(), fmt.Errorf("retry movement: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	unknown := m.failure != nil && m.failure.OutcomeUnknown
	if err := m.transition(domain.StatusDraft); err != nil {
		return m.view(), err
	}
	m.snapshot = snap
	m.clearOutcome()
	if unknown {
		m.carriedKey = true
	} else {
		m.rotateIdentity()
	}
	m.recomputeFee(p.fees)
	return m.view(), nil
}

// Quote exposes the fee resolver for live display outside a movement.
func (p *Pipeline) Quote(kind domain.OperationKind, speed domain.TransferSpeed, amount domain.Money) fee.Quote {
	return p.fees.Quote(kind, speed, amount)
}

func notApplicable(field string, kind domain.OperationKind) domain.Violations {
	return domain.Violations{{
		Field:   field,
		Code:    CodeNotApplicable,
		Message: fmt.Sprintf("%s does not apply to %s", strings.ReplaceAll(field, "_", " "), kind),
	}}
}

func asViolations(err error) domain.Violations {
	var v domain.Violations
	if errors.As(err, &v) {
		return v
	}
	return domain.Violations{{Message: err.Error()}}
}
