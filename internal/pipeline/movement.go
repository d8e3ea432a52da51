package pipeline

import (
	"sync"
	"time"

	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/dalepay/wallet-movements/internal/fee"
	"github.com/dalepay/wallet-movements/internal/instrument"
	"github.com/dalepay/wallet-movements/internal/limits"
	"github.com/dalepay/wallet-movements/internal/observability"
	"github.com/google/uuid"
)

// Input is a partial update of a draft. Nil fields are left unchanged.
type Input struct {
	Amount      *string                    `json:"amount,omitempty"`
	Speed       *string                    `json:"speed,omitempty"`
	Recipient   *string                    `json:"recipient,omitempty"`
	Card        *instrument.RawCard        `json:"card,omitempty"`
	BankAccount *instrument.RawBankAccount `json:"bank_account,omitempty"`
}

// Failure describes a failed execution attempt for display.
type Failure struct {
	Kind           domain.ExecutionErrorKind `json:"kind"`
	Code           string                    `json:"code,omitempty"`
	Reason         string                    `json:"reason"`
	Message        string                    `json:"message"`
	Stale          bool                      `json:"stale"`
	OutcomeUnknown bool                      `json:"outcome_unknown"`
}

func newFailure(err *domain.ExecutionError) *Failure {
	f := &Failure{
		Kind:           err.Kind,
		Code:           err.Code,
		Reason:         err.Reason,
		Stale:          err.Stale(),
		OutcomeUnknown: err.OutcomeUnknown,
	}
	switch {
	case f.Stale:
		f.Message = "Your balance or limits changed since you reviewed this movement: " + err.Reason
	case f.OutcomeUnknown:
		f.Message = "We could not confirm whether this movement went through. Check your activity before trying again."
	case err.Kind == domain.ExecRejected:
		f.Message = err.Reason
	case err.Kind == domain.ExecUnavailable, err.Kind == domain.ExecNetwork:
		f.Message = "The payments service is unavailable right now. Please try again."
	default:
		f.Message = "Something went wrong while submitting this movement."
	}
	return f
}

// View is a read-only copy of a movement's state for rendering.
type View struct {
	ID               uuid.UUID                 `json:"id"`
	AccountID        string                    `json:"account_id"`
	Kind             domain.OperationKind      `json:"kind"`
	Status           domain.TransferStatus     `json:"status"`
	Submitting       bool                      `json:"submitting"`
	Amount           domain.Money              `json:"amount"`
	Speed            domain.TransferSpeed      `json:"speed,omitempty"`
	Recipient        string                    `json:"recipient,omitempty"`
	Instrument       *domain.FundingInstrument `json:"instrument,omitempty"`
	Fee              domain.Money              `json:"fee"`
	Total            domain.Money              `json:"total"`
	Breakdown        fee.Breakdown             `json:"fee_breakdown"`
	Available        domain.Money              `json:"available_balance"`
	DailyRemaining   domain.Money              `json:"daily_remaining"`
	IdentityVerified bool                      `json:"identity_verified"`
	Violations       domain.Violations         `json:"violations,omitempty"`
	Rejection        *limits.Decision          `json:"rejection,omitempty"`
	Failure          *Failure                  `json:"failure,omitempty"`
	Receipt          *domain.SettlementReceipt `json:"receipt,omitempty"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

// field groups in display order
var fieldOrder = []string{"amount", "speed", "recipient", "instrument"}

// Movement is one money movement moving through confirmation.
// All access goes through the Pipeline; the zero value is not usable.
type Movement struct {
	mu   sync.Mutex
	busy bool

	req       domain.TransferRequest
	snapshot  domain.AccountSnapshot
	breakdown fee.Breakdown
	self      []string

	fieldErrs map[string]domain.Violations
	missing   domain.Violations
	rejection *limits.Decision
	failure   *Failure
	receipt   *domain.SettlementReceipt

	// carriedKey is set when a retry reuses the previous idempotency key
	// because the earlier outcome is unknown.
	carriedKey bool

	clock     func() time.Time
	updatedAt time.Time
}

func (m *Movement) ID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.req.ID
}

func (m *Movement) AccountID() string {
	return m.req.AccountID
}

func (m *Movement) Kind() domain.OperationKind {
	return m.req.Kind
}

func (m *Movement) Status() domain.TransferStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.req.Status
}

// Submitting reports whether a confirmation is in flight.
func (m *Movement) Submitting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy || m.req.Status == domain.StatusSubmitting
}

func (m *Movement) UpdatedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatedAt
}

// Request returns a copy of the underlying transfer request.
func (m *Movement) Request() domain.TransferRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyRequest()
}

func (m *Movement) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view()
}

func (m *Movement) view() View {
	req := m.copyRequest()
	v := View{
		ID:               req.ID,
		AccountID:        req.AccountID,
		Kind:             req.Kind,
		Status:           req.Status,
		Submitting:       m.busy || req.Status == domain.StatusSubmitting,
		Amount:           req.Amount,
		Speed:            req.Speed,
		Recipient:        req.Recipient,
		Instrument:       req.Instrument,
		Fee:              req.Fee,
		Total:            req.Total,
		Breakdown:        m.breakdown,
		Available:        m.snapshot.Balance,
		DailyRemaining:   m.snapshot.DailyRemaining,
		IdentityVerified: m.snapshot.IdentityVerified,
		Violations:       m.violations(),
		CreatedAt:        req.CreatedAt,
		UpdatedAt:        m.updatedAt,
	}
	if m.rejection != nil {
		d := *m.rejection
		v.Rejection = &d
	}
	if m.failure != nil {
		f := *m.failure
		v.Failure = &f
	}
	if m.receipt != nil {
		r := *m.receipt
		v.Receipt = &r
	}
	return v
}

func (m *Movement) copyRequest() domain.TransferRequest {
	req := m.req
	if req.Instrument != nil {
		inst := *req.Instrument
		req.Instrument = &inst
	}
	return req
}

func (m *Movement) violations() domain.Violations {
	var out domain.Violations
	for _, field := range fieldOrder {
		out = append(out, m.fieldErrs[field]...)
	}
	return append(out, m.missing...)
}

func (m *Movement) setFieldErr(field string, v domain.Violations) {
	if len(v) == 0 {
		delete(m.fieldErrs, field)
		return
	}
	m.fieldErrs[field] = v
}

// requiredMissing lists inputs the kind needs that were never supplied.
func (m *Movement) requiredMissing() domain.Violations {
	var out domain.Violations
	if m.req.Kind.UsesRecipient() && m.req.Recipient == "" && len(m.fieldErrs["recipient"]) == 0 {
		out = append(out, domain.Violation{Field: "recipient", Code: instrument.CodeRecipientRequired, Message: "recipient is required"})
	}
	if _, needs := m.req.Kind.InstrumentType(); needs && m.req.Instrument == nil && len(m.fieldErrs["instrument"]) == 0 {
		out = append(out, domain.Violation{Field: "instrument", Code: CodeInstrumentRequired, Message: "a funding instrument is required"})
	}
	return out
}

func (m *Movement) recomputeFee(fees *fee.Resolver) {
	m.breakdown = fees.Breakdown(m.req.Kind, m.req.Speed, m.req.Amount)
	m.req.Fee = m.breakdown.Total
	m.req.Total = m.req.Amount.Add(m.req.Fee)
}

// rotateIdentity gives the request a fresh ID and idempotency key.
func (m *Movement) rotateIdentity() {
	m.req.ID = uuid.New()
	m.req.IdempotencyKey = uuid.NewString()
	m.carriedKey = false
}

// clearInputs resets every user-supplied field.
func (m *Movement) clearInputs() {
	m.req.Amount = domain.Money{}
	m.req.Speed = domain.SpeedStandard
	m.req.Recipient = ""
	m.req.Instrument = nil
	m.fieldErrs = make(map[string]domain.Violations)
	m.clearOutcome()
}

func (m *Movement) clearOutcome() {
	m.missing = nil
	m.rejection = nil
	m.failure = nil
	m.receipt = nil
}

func recordRejection(kind domain.OperationKind, d limits.Decision, stage string) {
	observability.IncrementRejection(string(kind), string(d.Reason), stage)
}
