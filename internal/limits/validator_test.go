package limits

import (
	"errors"
	"testing"
	"time"

	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(DefaultPolicies(domain.Dollars(1), domain.Dollars(10_000)))
	require.NoError(t, err)
	return v
}

func snapshot(balance, daily domain.Money, verified bool) domain.AccountSnapshot {
	return domain.AccountSnapshot{
		AccountID:        "acc-1",
		Balance:          balance,
		DailyRemaining:   daily,
		MonthlyRemaining: domain.Dollars(5_000),
		IdentityVerified: verified,
		FetchedAt:        time.Now(),
	}
}

func TestAuthorize_PeerTransferAccepted(t *testing.T) {
	v := newValidator(t)
	d := v.Authorize(domain.Dollars(100), domain.NewMoney(150), snapshot(domain.Dollars(500), domain.Dollars(1_000), true), domain.KindPeerTransfer)

	assert.True(t, d.Accepted())
	assert.NoError(t, d.Err())
}

func TestAuthorize_InsufficientFundsIncludesFee(t *testing.T) {
	v := newValidator(t)
	d := v.Authorize(domain.Dollars(50), domain.NewMoney(75), snapshot(domain.Dollars(30), domain.Dollars(1_000), true), domain.KindPeerTransfer)

	require.False(t, d.Accepted())
	assert.Equal(t, ReasonInsufficientFunds, d.Reason)
	assert.Equal(t, "insufficient funds: need $50.75, have $30.00", d.Message)
	require.NotNil(t, d.Required)
	require.NotNil(t, d.Available)
	assert.Equal(t, int64(5075), d.Required.Cents)
	assert.Equal(t, int64(3000), d.Available.Cents)

	var rej *Rejection
	require.True(t, errors.As(d.Err(), &rej))
	assert.Equal(t, ReasonInsufficientFunds, rej.Decision.Reason)
}

func TestAuthorize_ExactBalanceIsEnough(t *testing.T) {
	v := newValidator(t)
	d := v.Authorize(domain.Dollars(100), domain.NewMoney(150), snapshot(domain.NewMoney(10_150), domain.Dollars(1_000), true), domain.KindPeerTransfer)
	assert.True(t, d.Accepted())
}

func TestAuthorize_CardFundingBounds(t *testing.T) {
	v := newValidator(t)
	snap := snapshot(domain.Dollars(1_000_000), domain.Money{}, false)

	d := v.Authorize(domain.Dollars(15_000), domain.Money{}, snap, domain.KindCardFunding)
	assert.Equal(t, ReasonAmountOutOfBounds, d.Reason)
	assert.Equal(t, "amount must be between $1.00 and $10,000.00", d.Message)

	d = v.Authorize(domain.NewMoney(50), domain.Money{}, snap, domain.KindCardFunding)
	assert.Equal(t, ReasonAmountOutOfBounds, d.Reason)

	// identity and daily limit do not apply to card funding
	d = v.Authorize(domain.Dollars(10_000), domain.Money{}, snap, domain.KindCardFunding)
	assert.True(t, d.Accepted())
	d = v.Authorize(domain.Dollars(1), domain.Money{}, snap, domain.KindCardFunding)
	assert.True(t, d.Accepted())
}

func TestAuthorize_CardFundingBalancePolicy(t *testing.T) {
	empty := snapshot(domain.Money{}, domain.Money{}, false)

	d := newValidator(t).Authorize(domain.Dollars(25), domain.Money{}, empty, domain.KindCardFunding)
	assert.Equal(t, ReasonInsufficientFunds, d.Reason)

	policies := DefaultPolicies(domain.Dollars(1), domain.Dollars(10_000))
	card := policies[domain.KindCardFunding]
	card.SkipBalance = true
	policies[domain.KindCardFunding] = card
	v, err := NewValidator(policies)
	require.NoError(t, err)

	assert.True(t, v.Authorize(domain.Dollars(25), domain.Money{}, empty, domain.KindCardFunding).Accepted())
	// bounds still apply without the balance check
	assert.Equal(t, ReasonAmountOutOfBounds, v.Authorize(domain.Dollars(15_000), domain.Money{}, empty, domain.KindCardFunding).Reason)
	assert.Equal(t, ReasonInsufficientFunds, v.Authorize(domain.Dollars(25), domain.Money{}, empty, domain.KindPeerTransfer).Reason)
}

func TestAuthorize_IdentityRequired(t *testing.T) {
	v := newValidator(t)
	d := v.Authorize(domain.Dollars(10), domain.Money{}, snapshot(domain.Dollars(100), domain.Dollars(100), false), domain.KindBankCashOut)
	assert.Equal(t, ReasonIdentityNotVerified, d.Reason)
}

func TestAuthorize_DailyLimit(t *testing.T) {
	v := newValidator(t)
	d := v.Authorize(domain.Dollars(200), domain.Money{}, snapshot(domain.Dollars(1_000), domain.Dollars(150), true), domain.KindPeerTransfer)

	assert.Equal(t, ReasonDailyLimitExceeded, d.Reason)
	assert.Equal(t, int64(15_000), d.Available.Cents)
}

func TestAuthorize_ZeroAmount(t *testing.T) {
	v := newValidator(t)
	for _, kind := range domain.Kinds {
		d := v.Authorize(domain.Money{}, domain.Money{}, snapshot(domain.Dollars(1_000), domain.Dollars(1_000), true), kind)
		assert.Equal(t, ReasonInvalidAmount, d.Reason, kind)
	}
}

func TestAuthorize_FirstFailureWins(t *testing.T) {
	v := newValidator(t)
	// unverified, broke and over the limit: identity is checked first
	d := v.Authorize(domain.Dollars(500), domain.Money{}, snapshot(domain.Dollars(10), domain.Dollars(10), false), domain.KindPeerTransfer)
	assert.Equal(t, ReasonIdentityNotVerified, d.Reason)

	// funds before daily limit
	d = v.Authorize(domain.Dollars(500), domain.Money{}, snapshot(domain.Dollars(10), domain.Dollars(10), true), domain.KindPeerTransfer)
	assert.Equal(t, ReasonInsufficientFunds, d.Reason)
}

func TestAuthorize_Idempotent(t *testing.T) {
	v := newValidator(t)
	snap := snapshot(domain.Dollars(30), domain.Dollars(1_000), true)

	first := v.Authorize(domain.Dollars(50), domain.NewMoney(75), snap, domain.KindPeerTransfer)
	second := v.Authorize(domain.Dollars(50), domain.NewMoney(75), snap, domain.KindPeerTransfer)
	assert.Equal(t, first, second)
}

func TestNewValidator_RejectsBadPolicies(t *testing.T) {
	_, err := NewValidator(Policies{domain.KindPeerTransfer: {}})
	assert.Error(t, err)

	_, err = NewValidator(DefaultPolicies(domain.Dollars(100), domain.Dollars(10)))
	assert.Error(t, err)
}
