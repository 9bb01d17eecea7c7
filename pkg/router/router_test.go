package router

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidting0918/vegaexchange/pkg/amm"
	"github.com/davidting0918/vegaexchange/pkg/clob"
	"github.com/davidting0918/vegaexchange/pkg/ledger"
	"github.com/davidting0918/vegaexchange/pkg/market"
	"github.com/davidting0918/vegaexchange/pkg/storage"
	"github.com/davidting0918/vegaexchange/pkg/vegaerr"
)

func newTestStore(t *testing.T) *storage.Gateway {
	dbPath := fmt.Sprintf("./tmp_test_router_%s.db", t.Name())
	os.RemoveAll(dbPath)
	t.Cleanup(func() { os.RemoveAll(dbPath) })

	g, err := storage.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func ammSymbol() *market.Symbol {
	return &market.Symbol{
		ID: 1, Symbol: "BTC/USDT-USDT:SPOT", Base: "BTC", Quote: "USDT", Settle: "USDT",
		Class: market.ClassSpot, Engine: market.EngineAMM, Status: market.Active,
		PricePrec: 2, QtyPrec: 6,
		MinTrade: decimal.NewFromFloat(0.0001), MaxTrade: decimal.NewFromInt(100),
		FeeRate: decimal.NewFromFloat(0.003),
	}
}

func clobSymbol() *market.Symbol {
	return &market.Symbol{
		ID: 2, Symbol: "ETH/USDT-USDT:SPOT", Base: "ETH", Quote: "USDT", Settle: "USDT",
		Class: market.ClassSpot, Engine: market.EngineCLOB, Status: market.Active,
		PricePrec: 2, QtyPrec: 4,
		MinTrade: decimal.NewFromFloat(0.001), MaxTrade: decimal.NewFromInt(1000),
		FeeRate: decimal.NewFromFloat(0.001),
	}
}

// newTestRouter wires a registry carrying one AMM symbol and one CLOB
// symbol over a fresh temp-file gateway, mirroring the teacher's
// newTestAccountManager-style per-test wiring.
func newTestRouter(t *testing.T) *Router {
	store := newTestStore(t)
	reg := market.NewRegistry()
	require.NoError(t, reg.Register(ammSymbol()))
	require.NoError(t, reg.Register(clobSymbol()))
	led := ledger.New()
	return New(reg, store, led, nil, zap.NewNop())
}

func fundUser(t *testing.T, r *Router, userID, currency string, amount decimal.Decimal) {
	err := r.store.WithTx(context.Background(), func(tx *storage.Tx) error {
		return r.ledger.Credit(tx, userID, currency, amount)
	})
	require.NoError(t, err)
}

func TestBindingForLazilyCreatesAndCachesBinding(t *testing.T) {
	r := newTestRouter(t)

	b1, err := r.bindingFor("BTC/USDT-USDT:SPOT")
	require.NoError(t, err)
	require.NotNil(t, b1.pool)

	b2, err := r.bindingFor("BTC/USDT-USDT:SPOT")
	require.NoError(t, err)
	require.Same(t, b1, b2, "the same binding instance must be reused across calls")
}

func TestBindingForRejectsUnknownSymbol(t *testing.T) {
	r := newTestRouter(t)
	_, err := r.bindingFor("DOGE/USDT-USDT:SPOT")
	require.Error(t, err)
}

func TestBindingForRejectsQuarantinedSymbol(t *testing.T) {
	r := newTestRouter(t)
	r.quarantine("BTC/USDT-USDT:SPOT")

	_, err := r.bindingFor("BTC/USDT-USDT:SPOT")
	require.Error(t, err)
	ve, ok := vegaerr.As(err)
	require.True(t, ok)
	require.Equal(t, vegaerr.SymbolQuarantined("BTC/USDT-USDT:SPOT").Kind, ve.Kind)
}

func TestMaybeQuarantineOnlyActsOnFatalErrors(t *testing.T) {
	r := newTestRouter(t)

	r.maybeQuarantine("BTC/USDT-USDT:SPOT", vegaerr.InvalidAmount("not fatal"))
	require.False(t, r.IsQuarantined("BTC/USDT-USDT:SPOT"))

	r.maybeQuarantine("BTC/USDT-USDT:SPOT", vegaerr.IDCollisionExhausted())
	require.True(t, r.IsQuarantined("BTC/USDT-USDT:SPOT"))
}

func TestSwapEndToEndMovesLedgerAndGrowsPool(t *testing.T) {
	r := newTestRouter(t)

	b, err := r.bindingFor("BTC/USDT-USDT:SPOT")
	require.NoError(t, err)
	b.pool.ReserveBase = decimal.NewFromInt(10)
	b.pool.ReserveQuote = decimal.NewFromInt(500000)

	fundUser(t, r, "100001", "USDT", decimal.NewFromInt(1000))

	result, err := r.Swap(context.Background(), "100001", "BTC/USDT-USDT:SPOT", amm.Buy, decimal.NewFromInt(1000), nil)
	require.NoError(t, err)
	require.True(t, result.OutputAmount.IsPositive())

	err = r.store.WithTx(context.Background(), func(tx *storage.Tx) error {
		avail, _, err := r.ledger.GetBalance(tx, "100001", "USDT")
		require.NoError(t, err)
		require.True(t, avail.Equal(decimal.NewFromInt(1000).Sub(result.InputAmount)))
		baseAvail, _, err := r.ledger.GetBalance(tx, "100001", "BTC")
		require.NoError(t, err)
		require.True(t, baseAvail.Equal(result.OutputAmount))
		return nil
	})
	require.NoError(t, err)
}

func TestSwapRejectsWrongEngineBinding(t *testing.T) {
	r := newTestRouter(t)
	_, err := r.Swap(context.Background(), "100001", "ETH/USDT-USDT:SPOT", amm.Buy, decimal.NewFromInt(10), nil)
	require.Error(t, err)
	ve, ok := vegaerr.As(err)
	require.True(t, ok)
	require.Equal(t, vegaerr.SymbolBindingMismatch("").Kind, ve.Kind)
}

func TestSwapEnforcesSlippageGuard(t *testing.T) {
	r := newTestRouter(t)
	b, err := r.bindingFor("BTC/USDT-USDT:SPOT")
	require.NoError(t, err)
	b.pool.ReserveBase = decimal.NewFromInt(10)
	b.pool.ReserveQuote = decimal.NewFromInt(500000)

	fundUser(t, r, "100002", "USDT", decimal.NewFromInt(1000))

	impossible := decimal.NewFromInt(100)
	_, err = r.Swap(context.Background(), "100002", "BTC/USDT-USDT:SPOT", amm.Buy, decimal.NewFromInt(1000), &impossible)
	require.Error(t, err)
}

func TestPlaceOrderLocksFundsAndRestsLimitOrder(t *testing.T) {
	r := newTestRouter(t)
	fundUser(t, r, "100003", "USDT", decimal.NewFromInt(1000))

	result, err := r.PlaceOrder(context.Background(), "100003", "ETH/USDT-USDT:SPOT", clob.Buy, clob.Limit, decimal.NewFromInt(2), decimal.NewFromInt(100))
	require.NoError(t, err)
	require.Equal(t, clob.Open, result.Status)

	err = r.store.WithTx(context.Background(), func(tx *storage.Tx) error {
		avail, locked, err := r.ledger.GetBalance(tx, "100003", "USDT")
		require.NoError(t, err)
		require.True(t, avail.Equal(decimal.NewFromInt(800)))
		require.True(t, locked.Equal(decimal.NewFromInt(200)))
		return nil
	})
	require.NoError(t, err)

	bids, _, err := r.Depth("ETH/USDT-USDT:SPOT", 10)
	require.NoError(t, err)
	require.Len(t, bids, 1)
}

func TestPlaceOrderCrossMatchSettlesBothSides(t *testing.T) {
	r := newTestRouter(t)
	fundUser(t, r, "maker", "ETH", decimal.NewFromInt(5))
	fundUser(t, r, "taker", "USDT", decimal.NewFromInt(1000))

	_, err := r.PlaceOrder(context.Background(), "maker", "ETH/USDT-USDT:SPOT", clob.Sell, clob.Limit, decimal.NewFromInt(1), decimal.NewFromInt(100))
	require.NoError(t, err)

	result, err := r.PlaceOrder(context.Background(), "taker", "ETH/USDT-USDT:SPOT", clob.Buy, clob.Limit, decimal.NewFromInt(1), decimal.NewFromInt(100))
	require.NoError(t, err)
	require.Equal(t, clob.Filled, result.Status)
	require.Len(t, result.TradeIDs, 1)

	err = r.store.WithTx(context.Background(), func(tx *storage.Tx) error {
		base, _, err := r.ledger.GetBalance(tx, "taker", "ETH")
		require.NoError(t, err)
		require.True(t, base.IsPositive(), "taker should have received base")
		quote, _, err := r.ledger.GetBalance(tx, "maker", "USDT")
		require.NoError(t, err)
		require.True(t, quote.IsPositive(), "maker should have received quote")
		return nil
	})
	require.NoError(t, err)
}

func TestCancelOrderUnlocksRemainingFunds(t *testing.T) {
	r := newTestRouter(t)
	fundUser(t, r, "100004", "USDT", decimal.NewFromInt(1000))

	result, err := r.PlaceOrder(context.Background(), "100004", "ETH/USDT-USDT:SPOT", clob.Buy, clob.Limit, decimal.NewFromInt(2), decimal.NewFromInt(100))
	require.NoError(t, err)

	require.NoError(t, r.CancelOrder(context.Background(), "100004", "ETH/USDT-USDT:SPOT", result.OrderID))

	err = r.store.WithTx(context.Background(), func(tx *storage.Tx) error {
		avail, locked, err := r.ledger.GetBalance(tx, "100004", "USDT")
		require.NoError(t, err)
		require.True(t, avail.Equal(decimal.NewFromInt(1000)))
		require.True(t, locked.IsZero())
		return nil
	})
	require.NoError(t, err)
}

func TestCancelOrderRejectsNonOwner(t *testing.T) {
	r := newTestRouter(t)
	fundUser(t, r, "100005", "USDT", decimal.NewFromInt(1000))

	result, err := r.PlaceOrder(context.Background(), "100005", "ETH/USDT-USDT:SPOT", clob.Buy, clob.Limit, decimal.NewFromInt(2), decimal.NewFromInt(100))
	require.NoError(t, err)

	err = r.CancelOrder(context.Background(), "someone-else", "ETH/USDT-USDT:SPOT", result.OrderID)
	require.Error(t, err)
}

func TestMarketsAndMarketLookup(t *testing.T) {
	r := newTestRouter(t)
	require.Len(t, r.Markets(), 2)

	sym, err := r.Market("BTC/USDT-USDT:SPOT")
	require.NoError(t, err)
	require.Equal(t, "BTC", sym.Base)

	_, err = r.Market("DOGE/USDT-USDT:SPOT")
	require.Error(t, err)

	byID, err := r.MarketByID(2)
	require.NoError(t, err)
	require.Equal(t, "ETH/USDT-USDT:SPOT", byID.Symbol)
}

func TestUserTradesFiltersBySymbol(t *testing.T) {
	r := newTestRouter(t)
	b, err := r.bindingFor("BTC/USDT-USDT:SPOT")
	require.NoError(t, err)
	b.pool.ReserveBase = decimal.NewFromInt(10)
	b.pool.ReserveQuote = decimal.NewFromInt(500000)
	fundUser(t, r, "100006", "USDT", decimal.NewFromInt(1000))

	_, err = r.Swap(context.Background(), "100006", "BTC/USDT-USDT:SPOT", amm.Buy, decimal.NewFromInt(100), nil)
	require.NoError(t, err)

	trades, err := r.UserTrades("100006", "BTC/USDT-USDT:SPOT", nil, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	trades, err = r.UserTrades("100006", "ETH/USDT-USDT:SPOT", nil, 0)
	require.NoError(t, err)
	require.Empty(t, trades)
}

func TestLPPositionRequiresAMMBinding(t *testing.T) {
	r := newTestRouter(t)
	_, err := r.LPPosition("ETH/USDT-USDT:SPOT", "100007")
	require.Error(t, err)
}

func TestAddThenRemoveLiquidityRoundTrips(t *testing.T) {
	r := newTestRouter(t)
	fundUser(t, r, "100008", "BTC", decimal.NewFromInt(10))
	fundUser(t, r, "100008", "USDT", decimal.NewFromInt(500000))

	add, err := r.AddLiquidity(context.Background(), "100008", "BTC/USDT-USDT:SPOT", decimal.NewFromInt(10), decimal.NewFromInt(500000))
	require.NoError(t, err)
	require.True(t, add.SharesMinted.IsPositive())

	pos, err := r.LPPosition("BTC/USDT-USDT:SPOT", "100008")
	require.NoError(t, err)
	require.True(t, pos.LPShares.Equal(add.SharesMinted))

	remove, err := r.RemoveLiquidity(context.Background(), "100008", "BTC/USDT-USDT:SPOT", add.SharesMinted)
	require.NoError(t, err)
	require.True(t, remove.PayoutBase.IsPositive())
}
