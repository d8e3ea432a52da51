package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is the single currency every wallet amount is denominated in.
const Currency = "USD"

var (
	ErrInvalidAmountFormat = errors.New("amount must be a decimal number")
	ErrNegativeAmount      = errors.New("amount cannot be negative")
	ErrAmountPrecision     = errors.New("amount cannot have more than 2 decimal places")
	ErrAmountRequired      = errors.New("amount is required")
	ErrAmountTooLarge      = errors.New("amount is too large")
)

// MaxAmount is the largest amount ParseMoney accepts. Fees and totals derived
// from it stay far inside int64 cents.
var MaxAmount = Dollars(1_000_000_000_000)

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

// RoundingMode selects how fractional cents are resolved.
type RoundingMode string

const (
	RoundHalfUp   RoundingMode = "half_up"
	RoundHalfEven RoundingMode = "half_even"
)

// ParseRoundingMode maps a config value to a RoundingMode. Empty means half-up.
func ParseRoundingMode(s string) (RoundingMode, error) {
	switch RoundingMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoundHalfUp:
		return RoundHalfUp, nil
	case RoundHalfEven:
		return RoundHalfEven, nil
	default:
		return "", fmt.Errorf("unsupported rounding mode %q", s)
	}
}

// Money represents a non-negative wallet amount.
// Amount is stored as int64 cents so comparisons never see fractional cents.
type Money struct {
	Cents int64
}

// NewMoney creates a Money from cents.
func NewMoney(cents int64) Money {
	return Money{Cents: cents}
}

// Dollars is a shorthand for whole-dollar amounts.
func Dollars(d int64) Money {
	return Money{Cents: d * 100}
}

// ParseMoney parses user input such as "15000", "42.5" or "$1,234.50".
func ParseMoney(raw string) (Money, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "$")
	clean = strings.ReplaceAll(clean, ",", "")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return Money{}, ErrAmountRequired
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmountFormat, raw)
	}
	if d.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	if d.Exponent() < -2 && !d.Equal(d.Truncate(2)) {
		return Money{}, ErrAmountPrecision
	}
	if d.GreaterThan(MaxAmount.ToDecimal()) {
		return Money{}, fmt.Errorf("%w: maximum is %s", ErrAmountTooLarge, MaxAmount)
	}
	return FromDecimal(d, RoundHalfUp), nil
}

// FromDecimal converts a dollar-denominated decimal to Money, rounding to the cent.
// Negative inputs clamp to zero and values beyond int64 cents saturate.
func FromDecimal(d decimal.Decimal, mode RoundingMode) Money {
	if d.IsNegative() {
		return Money{}
	}
	var rounded decimal.Decimal
	switch mode {
	case RoundHalfEven:
		rounded = d.RoundBank(2)
	default:
		// Round is half away from zero, which is half-up for non-negative values.
		rounded = d.Round(2)
	}
	cents := rounded.Mul(hundred)
	if cents.GreaterThan(maxCents) {
		return Money{Cents: math.MaxInt64}
	}
	return Money{Cents: cents.IntPart()}
}

// ToDecimal returns the dollar value.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// Multiply scales the amount by a rate (e.g. a fee percentage) and rounds to the cent.
func (m Money) Multiply(rate decimal.Decimal, mode RoundingMode) Money {
	return FromDecimal(m.ToDecimal().Mul(rate), mode)
}

// Add sums two amounts, saturating instead of wrapping.
func (m Money) Add(o Money) Money {
	if o.Cents > math.MaxInt64-m.Cents {
		return Money{Cents: math.MaxInt64}
	}
	return Money{Cents: m.Cents + o.Cents}
}

// Sub subtracts o, flooring at zero.
func (m Money) Sub(o Money) Money {
	if o.Cents >= m.Cents {
		return Money{}
	}
	return Money{Cents: m.Cents - o.Cents}
}

func (m Money) IsZero() bool { return m.Cents == 0 }
func (m Money) IsPositive() bool { return m.Cents > 0 }
func (m Money) Equal(o Money) bool { return m.Cents == o.Cents }
func (m Money) GreaterThan(o Money) bool { return m.Cents > o.Cents }
func (m Money) LessThan(o Money) bool { return m.Cents < o.Cents }
func (m Money) LessThanOrEqual(o Money) bool { return m.Cents <= o.Cents }

// Fixed renders the amount with exactly two fraction digits, e.g. "42.50".
func (m Money) Fixed() string {
	return m.ToDecimal().StringFixed(2)
}

// String renders the amount for people, e.g. "$1,234.50".
func (m Money) String() string {
	whole := strconv.FormatInt(m.Cents/100, 10)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("$%s.%02d", b.String(), m.Cents%100)
}

// MarshalJSON encodes the amount as a fixed two-digit decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(m.Fixed())), nil
}

// UnmarshalJSON accepts either a quoted decimal string or a bare number.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*m = Money{}
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
