package instrument

import (
	"regexp"
	"strings"

	"github.com/dalepay/wallet-movements/internal/domain"
)

const (
	CodeRecipientRequired = "recipient_required"
	CodeRecipientInvalid  = "recipient_invalid"
	CodeRecipientSelf     = "recipient_self"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidateRecipient normalizes a peer-transfer recipient given as an e-mail or a phone number.
// self lists the sender's own identifiers; sending to any of them is rejected.
func ValidateRecipient(raw string, self ...string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", domain.Violations{{Field: "recipient", Code: CodeRecipientRequired, Message: "recipient is required"}}
	}

	normalized, ok := normalizeRecipient(value)
	if !ok {
		return "", domain.Violations{{Field: "recipient", Code: CodeRecipientInvalid, Message: "recipient must be a valid e-mail or phone number"}}
	}

	for _, own := range self {
		if ownNorm, ok := normalizeRecipient(own); ok && ownNorm == normalized {
			return "", domain.Violations{{Field: "recipient", Code: CodeRecipientSelf, Message: "you cannot send money to yourself"}}
		}
	}
	return normalized, nil
}

func normalizeRecipient(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if strings.Contains(value, "@") {
		if !emailPattern.MatchString(value) {
			return "", false
		}
		return strings.ToLower(value), true
	}

	plus := strings.HasPrefix(value, "+")
	digits := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.', '+':
			return -1
		}
		return r
	}, value)
	if !digitsOnly(digits) || len(digits) < 7 || len(digits) > 15 {
		return "", false
	}
	if plus {
		return "+" + digits, true
	}
	return digits, true
}
