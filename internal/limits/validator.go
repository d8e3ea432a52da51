// Package limits decides whether a movement fits the account's balance and limits.
package limits

import (
	"fmt"

	"github.com/dalepay/wallet-movements/internal/domain"
)

// Reason is a machine-readable rejection cause.
type Reason string

const (
	ReasonInvalidAmount       Reason = "invalid_amount"
	ReasonAmountOutOfBounds   Reason = "amount_out_of_bounds"
	ReasonIdentityNotVerified Reason = "identity_not_verified"
	ReasonInsufficientFunds   Reason = "insufficient_funds"
	ReasonDailyLimitExceeded  Reason = "daily_limit_exceeded"
)

// Decision is the outcome of Authorize. An empty Reason means accepted.
type Decision struct {
	Reason    Reason        `json:"reason,omitempty"`
	Message   string        `json:"message,omitempty"`
	Required  *domain.Money `json:"required,omitempty"`
	Available *domain.Money `json:"available,omitempty"`
	Limit     *domain.Money `json:"limit,omitempty"`
}

func (d Decision) Accepted() bool {
	return d.Reason == ""
}

// Err returns the rejection as an error, or nil when accepted.
func (d Decision) Err() error {
	if d.Accepted() {
		return nil
	}
	return &Rejection{Decision: d}
}

// Rejection is a business rejection. It is a value to show, not a fault.
type Rejection struct {
	Decision Decision
}

func (r *Rejection) Error() string {
	return r.Decision.Message
}

// KindPolicy holds the rules that apply to one operation kind.
// SkipBalance drops the amount + fee <= balance check for the kind.
type KindPolicy struct {
	Min              *domain.Money
	Max              *domain.Money
	RequiresIdentity bool
	DailyLimited     bool
	SkipBalance      bool
}

type Policies map[domain.OperationKind]KindPolicy

// DefaultPolicies returns the product rules. Card funding is bounded by [cardMin, cardMax];
// peer transfers and cash-outs need a verified identity and count against the daily limit.
// Every kind is balance checked, card funding included.
func DefaultPolicies(cardMin, cardMax domain.Money) Policies {
	return Policies{
		domain.KindPeerTransfer: {RequiresIdentity: true, DailyLimited: true},
		domain.KindCardFunding:  {Min: &cardMin, Max: &cardMax},
		domain.KindBankCashOut:  {RequiresIdentity: true, DailyLimited: true},
	}
}

// Validator evaluates a movement against a snapshot. It is pure and idempotent.
type Validator struct {
	policies Policies
}

func NewValidator(policies Policies) (*Validator, error) {
	for _, kind := range domain.Kinds {
		p, ok := policies[kind]
		if !ok {
			return nil, fmt.Errorf("limit policy missing for %s", kind)
		}
		if p.Min != nil && p.Max != nil && p.Min.GreaterThan(*p.Max) {
			return nil, fmt.Errorf("limit policy for %s: min %s above max %s", kind, *p.Min, *p.Max)
		}
	}
	copied := make(Policies, len(policies))
	for k, p := range policies {
		copied[k] = p
	}
	return &Validator{policies: copied}, nil
}

// Authorize runs the checks in order and reports the first failure.
func (v *Validator) Authorize(amount, fee domain.Money, snap domain.AccountSnapshot, kind domain.OperationKind) Decision {
	if !amount.IsPositive() {
		return Decision{Reason: ReasonInvalidAmount, Message: "amount must be greater than zero"}
	}

	policy := v.policies[kind]
	if policy.Min != nil && amount.LessThan(*policy.Min) {
		return Decision{
			Reason:  ReasonAmountOutOfBounds,
			Message: fmt.Sprintf("amount must be between %s and %s", *policy.Min, boundOrAny(policy.Max)),
			Limit:   moneyPtr(*policy.Min),
		}
	}
	if policy.Max != nil && amount.GreaterThan(*policy.Max) {
		return Decision{
			Reason:  ReasonAmountOutOfBounds,
			Message: fmt.Sprintf("amount must be between %s and %s", boundOrZero(policy.Min), *policy.Max),
			Limit:   moneyPtr(*policy.Max),
		}
	}

	if policy.RequiresIdentity && !snap.IdentityVerified {
		return Decision{Reason: ReasonIdentityNotVerified, Message: "identity verification is required for this movement"}
	}

	required := amount.Add(fee)
	if !policy.SkipBalance && required.GreaterThan(snap.Balance) {
		return Decision{
			Reason:    ReasonInsufficientFunds,
			Message:   fmt.Sprintf("insufficient funds: need %s, have %s", required, snap.Balance),
			Required:  moneyPtr(required),
			Available: moneyPtr(snap.Balance),
		}
	}

	if policy.DailyLimited && amount.GreaterThan(snap.DailyRemaining) {
		return Decision{
			Reason:    ReasonDailyLimitExceeded,
			Message:   fmt.Sprintf("daily limit exceeded: %s remaining today", snap.DailyRemaining),
			Required:  moneyPtr(amount),
			Available: moneyPtr(snap.DailyRemaining),
		}
	}

	return Decision{}
}

func moneyPtr(m domain.Money) *domain.Money {
	return &m
}

func boundOrZero(m *domain.Money) domain.Money {
	if m == nil {
		return domain.Money{}
	}
	return *m
}

func boundOrAny(m *domain.Money) string {
	if m == nil {
		return "any amount"
	}
	return m.String()
}
