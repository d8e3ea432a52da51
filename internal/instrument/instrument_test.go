package instrument

import (
	"errors"
	"testing"
	"time"

	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedValidator(opts ...Option) *Validator {
	now := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
	return NewValidator(append([]Option{WithClock(func() time.Time { return now })}, opts...)...)
}

func violationsOf(t *testing.T, err error) domain.Violations {
	t.Helper()
	var v domain.Violations
	require.True(t, errors.As(err, &v), "expected Violations, got %T", err)
	return v
}

func TestValidateCard_Valid(t *testing.T) {
	v := fixedValidator()

	inst, err := v.ValidateCard(RawCard{
		Number:      "4111 1111-1111 1111",
		ExpiryMonth: "12",
		ExpiryYear:  "27",
		CVV:         "123",
		HolderName:  "  Jane Doe ",
		Token:       "tok_123",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InstrumentCard, inst.Type)
	assert.Equal(t, "1111", inst.Last4)
	assert.Equal(t, domain.NetworkVisa, inst.Network)
	assert.Equal(t, 12, inst.ExpiryMonth)
	assert.Equal(t, 2027, inst.ExpiryYear)
	assert.Equal(t, "Jane Doe", inst.HolderName)
	assert.Equal(t, "tok_123", inst.Token)
}

func TestValidateCard_ExpiredCard(t *testing.T) {
	v := fixedValidator()

	_, err := v.ValidateCard(RawCard{
		Number:      "4111111111111111",
		ExpiryMonth: "01",
		ExpiryYear:  "2020",
		CVV:         "123",
		HolderName:  "Jane Doe",
	})
	errs := violationsOf(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, CodeCardExpired, errs[0].Code)
}

func TestValidateCard_CurrentMonthStillValid(t *testing.T) {
	v := fixedValidator()

	_, err := v.ValidateCard(RawCard{Number: "5555555555554444", ExpiryMonth: "6", ExpiryYear: "2025", CVV: "1234", HolderName: "A"})
	assert.NoError(t, err)

	_, err = v.ValidateCard(RawCard{Number: "5555555555554444", ExpiryMonth: "5", ExpiryYear: "2025", CVV: "1234", HolderName: "A"})
	assert.True(t, violationsOf(t, err).Has(CodeCardExpired))
}

func TestValidateCard_ReportsEveryViolation(t *testing.T) {
	v := fixedValidator()

	_, err := v.ValidateCard(RawCard{
		Number:      "4111-abc",
		ExpiryMonth: "13",
		ExpiryYear:  "202",
		CVV:         "12",
		HolderName:  "   ",
	})
	errs := violationsOf(t, err)
	assert.True(t, errs.Has(CodeCardNumberInvalid))
	assert.True(t, errs.Has(CodeExpiryMonthInvalid))
	assert.True(t, errs.Has(CodeExpiryYearInvalid))
	assert.True(t, errs.Has(CodeCVVInvalid))
	assert.True(t, errs.Has(CodeHolderRequired))
	assert.False(t, errs.Has(CodeCardExpired))
}

func TestValidateCard_NumberLengthBounds(t *testing.T) {
	v := fixedValidator()
	base := RawCard{ExpiryMonth: "12", ExpiryYear: "2030", CVV: "123", HolderName: "Jane"}

	for _, tc := range []struct {
		number string
		valid  bool
	}{
		{"411111111111", false},
		{"4111111111111", true},
		{"4111111111111111111", true},
		{"41111111111111111111", false},
	} {
		raw := base
		raw.Number = tc.number
		_, err := v.ValidateCard(raw)
		if tc.valid {
			assert.NoError(t, err, tc.number)
		} else {
			assert.True(t, violationsOf(t, err).Has(CodeCardNumberInvalid), tc.number)
		}
	}
}

func TestValidateCard_LuhnOptional(t *testing.T) {
	raw := RawCard{Number: "4111111111111112", ExpiryMonth: "12", ExpiryYear: "2030", CVV: "123", HolderName: "Jane"}

	_, err := fixedValidator().ValidateCard(raw)
	assert.NoError(t, err)

	_, err = fixedValidator(WithLuhn()).ValidateCard(raw)
	assert.True(t, violationsOf(t, err).Has(CodeCardChecksum))

	raw.Number = "4111111111111111"
	_, err = fixedValidator(WithLuhn()).ValidateCard(raw)
	assert.NoError(t, err)
}

func TestValidateCard_Idempotent(t *testing.T) {
	v := fixedValidator()
	raw := RawCard{Number: "12", ExpiryMonth: "0", ExpiryYear: "20", CVV: "x", HolderName: ""}

	_, first := v.ValidateCard(raw)
	_, second := v.ValidateCard(raw)
	assert.Equal(t, first, second)
}

func TestNetworkOf(t *testing.T) {
	assert.Equal(t, domain.NetworkVisa, NetworkOf("4242"))
	assert.Equal(t, domain.NetworkMastercard, NetworkOf("5105"))
	assert.Equal(t, domain.NetworkMastercard, NetworkOf("2221"))
	assert.Equal(t, domain.NetworkAmex, NetworkOf("3782"))
	assert.Equal(t, domain.NetworkDiscover, NetworkOf("6011"))
	assert.Equal(t, domain.NetworkUnknown, NetworkOf("9999"))
	assert.Equal(t, domain.NetworkUnknown, NetworkOf(""))
}

func TestValidateBankAccount(t *testing.T) {
	v := fixedValidator()

	inst, err := v.ValidateBankAccount(RawBankAccount{
		RoutingNumber:        "021000021",
		AccountNumber:        "12345678",
		ConfirmAccountNumber: "1234 5678",
		HolderName:           "Jane Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InstrumentBankAccount, inst.Type)
	assert.Equal(t, "5678", inst.Last4)
	assert.True(t, inst.RoutingNumberValid)
}

func TestValidateBankAccount_Violations(t *testing.T) {
	v := fixedValidator()

	_, err := v.ValidateBankAccount(RawBankAccount{
		RoutingNumber:        "12345678",
		AccountNumber:        "1234567",
		ConfirmAccountNumber: "7654321",
	})
	errs := violationsOf(t, err)
	assert.True(t, errs.Has(CodeRoutingInvalid))
	assert.True(t, errs.Has(CodeAccountInvalid))
	assert.True(t, errs.Has(CodeAccountMismatch))
	assert.True(t, errs.Has(CodeHolderRequired))

	_, err = v.ValidateBankAccount(RawBankAccount{
		RoutingNumber:        "021000021",
		AccountNumber:        "123456789",
		ConfirmAccountNumber: "123456780",
		HolderName:           "Jane",
	})
	errs = violationsOf(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, CodeAccountMismatch, errs[0].Code)
}

func TestValidateRecipient(t *testing.T) {
	got, err := ValidateRecipient("  Friend@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "friend@example.com", got)

	got, err = ValidateRecipient("+1 (555) 123-4567")
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", got)

	_, err = ValidateRecipient("")
	assert.True(t, violationsOf(t, err).Has(CodeRecipientRequired))

	_, err = ValidateRecipient("not-an-address")
	assert.True(t, violationsOf(t, err).Has(CodeRecipientInvalid))

	_, err = ValidateRecipient("12345")
	assert.True(t, violationsOf(t, err).Has(CodeRecipientInvalid))

	_, err = ValidateRecipient("ME@example.com", "me@example.com")
	assert.True(t, violationsOf(t, err).Has(CodeRecipientSelf))
}
