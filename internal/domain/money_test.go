package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_ToDecimal(t *testing.T) {
	m := NewMoney(1050) // 10.50 USD
	assert.Equal(t, "10.5", m.ToDecimal().String())
	assert.Equal(t, "10.50", m.Fixed())
}

func TestFromDecimal_HalfUp(t *testing.T) {
	assert.Equal(t, int64(1), FromDecimal(decimal.RequireFromString("0.005"), RoundHalfUp).Cents)
	assert.Equal(t, int64(3), FromDecimal(decimal.RequireFromString("0.025"), RoundHalfUp).Cents)
	assert.Equal(t, int64(2), FromDecimal(decimal.RequireFromString("0.024"), RoundHalfUp).Cents)
}

func TestFromDecimal_HalfEven(t *testing.T) {
	assert.Equal(t, int64(2), FromDecimal(decimal.RequireFromString("0.025"), RoundHalfEven).Cents)
	assert.Equal(t, int64(4), FromDecimal(decimal.RequireFromString("0.035"), RoundHalfEven).Cents)
}

func TestFromDecimal_NegativeClampsToZero(t *testing.T) {
	assert.True(t, FromDecimal(decimal.NewFromInt(-5), RoundHalfUp).IsZero())
}

func TestMoney_Multiply(t *testing.T) {
	// 1.5% of $100.00 is exactly $1.50
	fee := Dollars(100).Multiply(decimal.RequireFromString("0.015"), RoundHalfUp)
	assert.Equal(t, int64(150), fee.Cents)

	// 1.5% of $0.33 = 0.00495 -> $0.00
	fee = NewMoney(33).Multiply(decimal.RequireFromString("0.015"), RoundHalfUp)
	assert.True(t, fee.IsZero())
}

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in    string
		cents int64
	}{
		{"15000", 1_500_000},
		{"42.5", 4250},
		{"$1,234.50", 123_450},
		{" 0.01 ", 1},
		{"10.500", 1050},
	}
	for _, tc := range cases {
		m, err := ParseMoney(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.cents, m.Cents, tc.in)
	}
}

func TestParseMoney_Rejects(t *testing.T) {
	_, err := ParseMoney("")
	assert.ErrorIs(t, err, ErrAmountRequired)

	_, err = ParseMoney("abc")
	assert.ErrorIs(t, err, ErrInvalidAmountFormat)

	_, err = ParseMoney("-3")
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = ParseMoney("1.234")
	assert.ErrorIs(t, err, ErrAmountPrecision)

	for _, huge := range []string{"184467440737095526.16", "100000000000000000", "1000000000000.01"} {
		_, err = ParseMoney(huge)
		assert.ErrorIs(t, err, ErrAmountTooLarge, huge)
	}

	m, err := ParseMoney("1,000,000,000,000")
	require.NoError(t, err)
	assert.Equal(t, MaxAmount, m)
}

func TestMoney_UnmarshalJSONRejectsOverflow(t *testing.T) {
	var m Money
	err := json.Unmarshal([]byte(`"184467440737095526.16"`), &m)
	assert.ErrorIs(t, err, ErrAmountTooLarge)
	assert.True(t, m.IsZero())
}

func TestMoney_AddSaturates(t *testing.T) {
	assert.Equal(t, int64(math.MaxInt64), NewMoney(math.MaxInt64-1).Add(NewMoney(5)).Cents)
	assert.Equal(t, int64(30), NewMoney(10).Add(NewMoney(20)).Cents)
}

func TestFromDecimal_Saturates(t *testing.T) {
	m := FromDecimal(decimal.RequireFromString("184467440737095526.16"), RoundHalfUp)
	assert.Equal(t, int64(math.MaxInt64), m.Cents)
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "$42.50", NewMoney(4250).String())
	assert.Equal(t, "$0.05", NewMoney(5).String())
	assert.Equal(t, "$10,000.00", Dollars(10_000).String())
	assert.Equal(t, "$1,234,567.89", NewMoney(123_456_789).String())
}

func TestMoney_SubFloorsAtZero(t *testing.T) {
	assert.Equal(t, int64(50), Dollars(1).Sub(NewMoney(50)).Cents)
	assert.True(t, Dollars(1).Sub(Dollars(2)).IsZero())
}

func TestMoney_JSON(t *testing.T) {
	payload, err := json.Marshal(struct {
		Amount Money `json:"amount"`
	}{Amount: NewMoney(2030)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"20.30"}`, string(payload))

	var decoded struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"20.30","b":15}`), &decoded))
	assert.Equal(t, int64(2030), decoded.A.Cents)
	assert.Equal(t, int64(1500), decoded.B.Cents)
}

func TestParseRoundingMode(t *testing.T) {
	mode, err := ParseRoundingMode("")
	require.NoError(t, err)
	assert.Equal(t, RoundHalfUp, mode)

	mode, err = ParseRoundingMode("HALF_EVEN")
	require.NoError(t, err)
	assert.Equal(t, RoundHalfEven, mode)

	_, err = ParseRoundingMode("ceiling")
	assert.Error(t, err)
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, Dollars(5_000), TierFor("Enhanced").DailyLimit)
	assert.True(t, TierFor("").DailyLimit.IsZero())
}
