// Package fee resolves the fee charged for a money movement.
package fee

import (
	"fmt"

	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/shopspring/decimal"
)

// Rate is the fee percentage for one (kind, speed) pair, expressed as a fraction.
// Processor is the share passed on to the payment processor; the rest is platform revenue.
type Rate struct {
	Total     decimal.Decimal
	Processor decimal.Decimal
}

type key struct {
	kind  domain.OperationKind
	speed domain.TransferSpeed
}

// Schedule maps every (kind, speed) pair to its rate.
type Schedule map[domain.OperationKind]map[domain.TransferSpeed]Rate

// DefaultSchedule is the product fee policy:
// instant peer transfers 1.5%, instant cash-outs 1.40% (0.95% processor, 0.45% platform),
// everything else free. Card funding is always free.
func DefaultSchedule() Schedule {
	free := Rate{Total: decimal.Zero, Processor: decimal.Zero}
	return Schedule{
		domain.KindPeerTransfer: {
			domain.SpeedStandard: free,
			domain.SpeedInstant:  {Total: decimal.RequireFromString("0.015"), Processor: decimal.Zero},
		},
		domain.KindCardFunding: {
			domain.SpeedStandard: free,
		},
		domain.KindBankCashOut: {
			domain.SpeedStandard: free,
			domain.SpeedInstant: {
				Total:     decimal.RequireFromString("0.0140"),
				Processor: decimal.RequireFromString("0.0095"),
			},
		},
	}
}

// Breakdown splits a fee into the processor and platform shares.
type Breakdown struct {
	Total     domain.Money `json:"total"`
	Processor domain.Money `json:"processor"`
	Platform  domain.Money `json:"platform"`
}

// Quote is everything a screen shows while the user types an amount.
type Quote struct {
	Kind      domain.OperationKind `json:"kind"`
	Speed     domain.TransferSpeed `json:"speed"`
	Amount    domain.Money         `json:"amount"`
	Fee       domain.Money         `json:"fee"`
	Total     domain.Money         `json:"total"`
	Breakdown Breakdown            `json:"breakdown"`
}

// Resolver computes fees from a validated schedule. It has no side effects.
type Resolver struct {
	rates    map[key]Rate
	rounding domain.RoundingMode
}

// NewResolver validates the schedule so that Resolve can never meet an unknown pair.
func NewResolver(schedule Schedule, rounding domain.RoundingMode) (*Resolver, error) {
	if rounding == "" {
		rounding = domain.RoundHalfUp
	}
	one := decimal.NewFromInt(1)
	rates := make(map[key]Rate)
	for _, kind := range domain.Kinds {
		speeds := []domain.TransferSpeed{domain.SpeedStandard}
		if kind.UsesSpeed() {
			speeds = domain.Speeds
		}
		for _, speed := range speeds {
			rate, ok := schedule[kind][speed]
			if !ok {
				return nil, fmt.Errorf("fee schedule missing %s/%s", kind, speed)
			}
			if rate.Total.IsNegative() || rate.Total.GreaterThanOrEqual(one) {
				return nil, fmt.Errorf("fee rate for %s/%s must be in [0,1), got %s", kind, speed, rate.Total)
			}
			if rate.Processor.IsNegative() || rate.Processor.GreaterThan(rate.Total) {
				return nil, fmt.Errorf("processor share for %s/%s must be in [0,%s], got %s", kind, speed, rate.Total, rate.Processor)
			}
			rates[key{kind: kind, speed: speed}] = rate
		}
	}
	return &Resolver{rates: rates, rounding: rounding}, nil
}

// MustResolver is NewResolver for package-level defaults; it panics on an invalid schedule.
func MustResolver(schedule Schedule, rounding domain.RoundingMode) *Resolver {
	r, err := NewResolver(schedule, rounding)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the fee for moving amount with the given kind and speed.
func (r *Resolver) Resolve(kind domain.OperationKind, speed domain.TransferSpeed, amount domain.Money) domain.Money {
	return amount.Multiply(r.rate(kind, speed).Total, r.rounding)
}

// Breakdown returns the fee split into processor and platform shares.
func (r *Resolver) Breakdown(kind domain.OperationKind, speed domain.TransferSpeed, amount domain.Money) Breakdown {
	rate := r.rate(kind, speed)
	total := amount.Multiply(rate.Total, r.rounding)
	processor := amount.Multiply(rate.Processor, r.rounding)
	if processor.GreaterThan(total) {
		processor = total
	}
	return Breakdown{Total: total, Processor: processor, Platform: total.Sub(processor)}
}

// Quote returns amount, fee and total for live display.
func (r *Resolver) Quote(kind domain.OperationKind, speed domain.TransferSpeed, amount domain.Money) Quote {
	speed = normalizeSpeed(kind, speed)
	b := r.Breakdown(kind, speed, amount)
	return Quote{
		Kind:      kind,
		Speed:     speed,
		Amount:    amount,
		Fee:       b.Total,
		Total:     amount.Add(b.Total),
		Breakdown: b,
	}
}

// Rounding returns the rounding mode fees are computed with.
func (r *Resolver) Rounding() domain.RoundingMode {
	return r.rounding
}

func (r *Resolver) rate(kind domain.OperationKind, speed domain.TransferSpeed) Rate {
	// The constructor checked every (kind, speed) pair the domain can express.
	return r.rates[key{kind: kind, speed: normalizeSpeed(kind, speed)}]
}

func normalizeSpeed(kind domain.OperationKind, speed domain.TransferSpeed) domain.TransferSpeed {
	if !kind.UsesSpeed() || speed == "" {
		return domain.SpeedStandard
	}
	return speed
}
