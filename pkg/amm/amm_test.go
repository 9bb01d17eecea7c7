package amm

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestPool() *Pool {
	return &Pool{
		ID: "0xpool", SymbolID: 1,
		ReserveBase: decimal.NewFromInt(10), ReserveQuote: decimal.NewFromInt(100000),
		FeeRate: decimal.NewFromFloat(0.003), TotalLPShares: decimal.Zero,
	}
}

func TestQuoteInputBuyStaysWithinReserve(t *testing.T) {
	p := newTestPool()
	q, err := QuoteInput(p, Buy, decimal.NewFromInt(1000))
	require.NoError(t, err)
	require.True(t, q.Output.GreaterThan(decimal.Zero))
	require.True(t, q.Output.LessThan(p.ReserveBase))
	require.True(t, q.FeeAmount.Equal(decimal.NewFromInt(1000).Mul(p.FeeRate)))
}

func TestQuoteInputRejectsNonPositiveAmount(t *testing.T) {
	p := newTestPool()
	_, err := QuoteInput(p, Buy, decimal.Zero)
	require.Error(t, err)
	_, err = QuoteInput(p, Buy, decimal.NewFromInt(-5))
	require.Error(t, err)
}

func TestQuoteInputRejectsEmptyPool(t *testing.T) {
	p := &Pool{ReserveBase: decimal.Zero, ReserveQuote: decimal.Zero, FeeRate: decimal.NewFromFloat(0.003)}
	_, err := QuoteInput(p, Buy, decimal.NewFromInt(10))
	require.Error(t, err)
}

func TestApplySwapDoesNotShrinkK(t *testing.T) {
	p := newTestPool()
	kBefore := p.K()

	q, err := QuoteInput(p, Buy, decimal.NewFromInt(1000))
	require.NoError(t, err)
	ApplySwap(p, q)

	require.True(t, p.K().GreaterThanOrEqual(kBefore), "k must not shrink after a fee-bearing swap")
	require.True(t, p.ReserveBase.Sign() > 0)
	require.True(t, p.ReserveQuote.Sign() > 0)
}

func TestQuoteOutputRoundTripsWithQuoteInput(t *testing.T) {
	p := newTestPool()
	forward, err := QuoteInput(p, Sell, decimal.NewFromInt(1))
	require.NoError(t, err)

	inverse, err := QuoteOutput(p, Sell, forward.Output)
	require.NoError(t, err)

	// solving for the same output should reproduce the same gross input
	// to within a small epsilon (both paths divide by (1 - fee_rate)).
	diff := inverse.InputGross.Sub(forward.InputGross).Abs()
	require.True(t, diff.LessThan(decimal.NewFromFloat(0.0000001)), "diff=%s", diff)
}

func TestAddLiquidityFirstDepositMintsFloorAdjustedShares(t *testing.T) {
	p := &Pool{ReserveBase: decimal.Zero, ReserveQuote: decimal.Zero, FeeRate: decimal.NewFromFloat(0.003), TotalLPShares: decimal.Zero}
	add, err := AddLiquidity(p, decimal.NewFromInt(10), decimal.NewFromInt(100000))
	require.NoError(t, err)
	require.True(t, add.SharesMinted.GreaterThan(decimal.Zero))
	require.True(t, add.RefundBase.IsZero())
	require.True(t, add.RefundQuote.IsZero())
	require.True(t, p.TotalLPShares.Equal(add.SharesMinted.Add(MinLPShares)))
}

func TestAddLiquidityRefundsDisproportionateSide(t *testing.T) {
	p := newTestPool()
	p.TotalLPShares = decimal.NewFromInt(1000) // pretend an initial deposit already happened

	// pool ratio is 10 base : 100000 quote; offer double the base for the same quote.
	add, err := AddLiquidity(p, decimal.NewFromInt(2), decimal.NewFromInt(10000))
	require.NoError(t, err)
	require.True(t, add.RefundBase.GreaterThan(decimal.Zero), "over-supplied base should be refunded, not consumed")
	require.True(t, add.RefundQuote.IsZero())
}

func TestRemoveLiquidityRejectsOverBurn(t *testing.T) {
	p := newTestPool()
	p.TotalLPShares = decimal.NewFromInt(100)
	_, err := RemoveLiquidity(p, decimal.NewFromInt(200))
	require.Error(t, err)
}

func TestRemoveLiquidityPayoutProportional(t *testing.T) {
	p := newTestPool()
	p.TotalLPShares = decimal.NewFromInt(100)

	out, err := RemoveLiquidity(p, decimal.NewFromInt(50))
	require.NoError(t, err)
	require.True(t, out.PayoutBase.Equal(decimal.NewFromInt(5)))
	require.True(t, out.PayoutQuote.Equal(decimal.NewFromInt(50000)))
	require.True(t, p.TotalLPShares.Equal(decimal.NewFromInt(50)))
}
