// Package instrument validates raw card, bank account and recipient input
// and turns it into normalized funding instruments.
package instrument

import (
	"strconv"
	"strings"
	"time"

	"github.com/dalepay/wallet-movements/internal/domain"
)

// Violation codes for cards.
const (
	CodeCardNumberInvalid  = "card_number_invalid"
	CodeCardChecksum       = "card_number_checksum"
	CodeExpiryMonthInvalid = "expiry_month_invalid"
	CodeExpiryYearInvalid  = "expiry_year_invalid"
	CodeCardExpired        = "card_expired"
	CodeCVVInvalid         = "cvv_invalid"
	CodeHolderRequired     = "holder_name_required"
)

// RawCard is card input as typed by the user.
type RawCard struct {
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiry_month"`
	ExpiryYear  string `json:"expiry_year"`
	CVV         string `json:"cvv"`
	HolderName  string `json:"holder_name"`
	Token       string `json:"token,omitempty"`
}

// Validator checks funding instruments locally. It performs no network call.
type Validator struct {
	now         func() time.Time
	requireLuhn bool
}

type Option func(*Validator)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithLuhn additionally rejects card numbers that fail the Luhn checksum.
func WithLuhn() Option {
	return func(v *Validator) { v.requireLuhn = true }
}

func NewValidator(opts ...Option) *Validator {
	v := &Validator{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateCard checks every card rule and reports all violations together.
// On success the returned instrument carries only last4, network and expiry.
func (v *Validator) ValidateCard(raw RawCard) (domain.FundingInstrument, error) {
	var errs domain.Violations

	number := stripSeparators(raw.Number)
	if !digitsOnly(number) || len(number) < 13 || len(number) > 19 {
		errs = append(errs, domain.Violation{Field: "number", Code: CodeCardNumberInvalid, Message: "card number must be 13 to 19 digits"})
	} else if v.requireLuhn && !luhnValid(number) {
		errs = append(errs, domain.Violation{Field: "number", Code: CodeCardChecksum, Message: "card number is not valid"})
	}

	month, monthOK := parseMonth(raw.ExpiryMonth)
	if !monthOK {
		errs = append(errs, domain.Violation{Field: "expiry_month", Code: CodeExpiryMonthInvalid, Message: "expiry month must be between 1 and 12"})
	}
	year, yearOK := parseYear(raw.ExpiryYear)
	if !yearOK {
		errs = append(errs, domain.Violation{Field: "expiry_year", Code: CodeExpiryYearInvalid, Message: "expiry year must be 2 or 4 digits"})
	}
	if monthOK && yearOK {
		now := v.now()
		if year < now.Year() || (year == now.Year() && month < int(now.Month())) {
			errs = append(errs, domain.Violation{Field: "expiry_year", Code: CodeCardExpired, Message: "card has expired"})
		}
	}

	cvv := strings.TrimSpace(raw.CVV)
	if !digitsOnly(cvv) || len(cvv) < 3 || len(cvv) > 4 {
		errs = append(errs, domain.Violation{Field: "cvv", Code: CodeCVVInvalid, Message: "CVV must be 3 or 4 digits"})
	}

	holder := strings.TrimSpace(raw.HolderName)
	if holder == "" {
		errs = append(errs, domain.Violation{Field: "holder_name", Code: CodeHolderRequired, Message: "cardholder name is required"})
	}

	if len(errs) > 0 {
		return domain.FundingInstrument{}, errs
	}

	return domain.FundingInstrument{
		Type:        domain.InstrumentCard,
		Last4:       number[len(number)-4:],
		HolderName:  holder,
		Network:     NetworkOf(number),
		ExpiryMonth: month,
		ExpiryYear:  year,
		Token:       strings.TrimSpace(raw.Token),
	}, nil
}

// NetworkOf infers the card brand from the leading digit. It is used for display only.
func NetworkOf(number string) domain.CardNetwork {
	number = stripSeparators(number)
	if number == "" {
		return domain.NetworkUnknown
	}
	switch number[0] {
	case '4':
		return domain.NetworkVisa
	case '5', '2':
		return domain.NetworkMastercard
	case '3':
		return domain.NetworkAmex
	case '6':
		return domain.NetworkDiscover
	default:
		return domain.NetworkUnknown
	}
}

func parseMonth(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	if !digitsOnly(s) || len(s) > 2 {
		return 0, false
	}
	m, err := strconv.Atoi(s)
	if err != nil || m < 1 || m > 12 {
		return 0, false
	}
	return m, true
}

func parseYear(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	if !digitsOnly(s) || (len(s) != 2 && len(s) != 4) {
		return 0, false
	}
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	if len(s) == 2 {
		y += 2000
	}
	return y, true
}

func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

func digitsOnly(value string) bool {
	if value == "" {
		return false
	}
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
