package util

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRoundBankHalfToEven(t *testing.T) {
	require.Equal(t, "2", RoundBank(decimal.NewFromFloat(2.5), 0).String())
	require.Equal(t, "4", RoundBank(decimal.NewFromFloat(3.5), 0).String())
	require.Equal(t, "0.12", RoundBank(decimal.NewFromFloat(0.125), 2).String())
}

func TestRoundDownTruncates(t *testing.T) {
	require.Equal(t, "1.239", RoundDown(decimal.NewFromFloat(1.2399), 3).String())
	require.Equal(t, "-1.239", RoundDown(decimal.NewFromFloat(-1.2399), 3).String())
}

func TestMinMax(t *testing.T) {
	a := decimal.NewFromInt(3)
	b := decimal.NewFromInt(5)
	require.True(t, Min(a, b).Equal(a))
	require.True(t, Max(a, b).Equal(b))
}

func TestIsPositiveNegative(t *testing.T) {
	require.True(t, IsPositive(decimal.NewFromInt(1)))
	require.False(t, IsPositive(decimal.Zero))
	require.True(t, IsNegative(decimal.NewFromInt(-1)))
	require.False(t, IsNegative(decimal.Zero))
}
