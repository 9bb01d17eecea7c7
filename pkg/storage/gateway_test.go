package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) *Gateway {
	dbPath := fmt.Sprintf("./tmp_test_storage_%s.db", t.Name())
	os.RemoveAll(dbPath)
	t.Cleanup(func() { os.RemoveAll(dbPath) })

	g, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestUpsertSymbolIsIdempotentAndLoadSymbolsRoundTrips(t *testing.T) {
	g := newTestGateway(t)
	row := SymbolRow{
		Symbol: "BTC/USDT-USDT:SPOT", Base: "BTC", Quote: "USDT", Settle: "USDT",
		MarketClass: 0, EngineKind: 0, Status: 0, PricePrecision: 2, QtyPrecision: 6,
		MinTradeAmount: decimal.NewFromFloat(0.0001), MaxTradeAmount: decimal.NewFromInt(100),
		FeeRate: decimal.NewFromFloat(0.003),
	}

	id1, err := g.UpsertSymbol(row)
	require.NoError(t, err)
	id2, err := g.UpsertSymbol(row)
	require.NoError(t, err)
	require.Equal(t, id1, id2, "upserting the same symbol twice must not create a second row")

	rows, err := g.LoadSymbols()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "BTC/USDT-USDT:SPOT", rows[0].Symbol)
	require.True(t, rows[0].FeeRate.Equal(decimal.NewFromFloat(0.003)))
}

func TestUpsertPoolThenLoadPool(t *testing.T) {
	g := newTestGateway(t)
	symID, err := g.UpsertSymbol(SymbolRow{
		Symbol: "BTC/USDT-USDT:SPOT", Base: "BTC", Quote: "USDT", Settle: "USDT",
		MinTradeAmount: decimal.Zero, MaxTradeAmount: decimal.NewFromInt(100), FeeRate: decimal.NewFromFloat(0.003),
	})
	require.NoError(t, err)

	_, found, err := g.LoadPool(symID)
	require.NoError(t, err)
	require.False(t, found)

	pool := PoolRow{
		ID: "0xpool1", SymbolID: symID,
		ReserveBase: decimal.NewFromInt(10), ReserveQuote: decimal.NewFromInt(500000),
		K: decimal.NewFromInt(5000000), FeeRate: decimal.NewFromFloat(0.003), TotalLPShares: decimal.NewFromInt(100),
		CumulativeVolumeBase: decimal.Zero, CumulativeVolumeQuote: decimal.Zero, CumulativeFees: decimal.Zero,
	}
	err = g.WithTx(context.Background(), func(tx *Tx) error { return tx.UpsertPool(pool) })
	require.NoError(t, err)

	loaded, found, err := g.LoadPool(symID)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, loaded.ReserveBase.Equal(decimal.NewFromInt(10)))
	require.True(t, loaded.TotalLPShares.Equal(decimal.NewFromInt(100)))
}

func TestUpsertLPPositionPrunesZeroShares(t *testing.T) {
	g := newTestGateway(t)

	pos := LPPositionRow{
		PoolID: "0xpool1", UserID: "100001",
		LPShares: decimal.NewFromInt(50), InitialBase: decimal.NewFromInt(5), InitialQuote: decimal.NewFromInt(50000),
	}
	err := g.WithTx(context.Background(), func(tx *Tx) error { return tx.UpsertLPPosition(pos) })
	require.NoError(t, err)

	loaded, err := g.LoadLPPosition("0xpool1", "100001")
	require.NoError(t, err)
	require.True(t, loaded.LPShares.Equal(decimal.NewFromInt(50)))

	pos.LPShares = decimal.Zero
	err = g.WithTx(context.Background(), func(tx *Tx) error { return tx.UpsertLPPosition(pos) })
	require.NoError(t, err)

	loaded, err = g.LoadLPPosition("0xpool1", "100001")
	require.NoError(t, err)
	require.True(t, loaded.LPShares.IsZero(), "a zero-share upsert must delete the row, not persist a zero")
}

func TestUpsertOrderThenLoadOpenOrders(t *testing.T) {
	g := newTestGateway(t)
	symID, err := g.UpsertSymbol(SymbolRow{
		Symbol: "ETH/USDT-USDT:SPOT", Base: "ETH", Quote: "USDT", Settle: "USDT",
		MinTradeAmount: decimal.Zero, MaxTradeAmount: decimal.NewFromInt(1000), FeeRate: decimal.NewFromFloat(0.001),
	})
	require.NoError(t, err)

	order := OrderRow{
		ID: "o-1", SymbolID: symID, UserID: "100002", Side: 0, OrderType: 0,
		LimitPrice: sql.NullString{String: "100", Valid: true},
		Quantity:   decimal.NewFromInt(2), Filled: decimal.Zero, Status: 0,
		CreatedAt: 1000, UpdatedAt: 1000,
	}
	err = g.WithTx(context.Background(), func(tx *Tx) error { return tx.UpsertOrder(order) })
	require.NoError(t, err)

	var open []OrderRow
	err = g.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		open, err = tx.LoadOpenOrders(symID)
		return err
	})
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "o-1", open[0].ID)

	order.Status = 2 // Filled
	order.Filled = decimal.NewFromInt(2)
	err = g.WithTx(context.Background(), func(tx *Tx) error { return tx.UpsertOrder(order) })
	require.NoError(t, err)

	err = g.WithTx(context.Background(), func(tx *Tx) error {
		open, err = tx.LoadOpenOrders(symID)
		return err
	})
	require.NoError(t, err)
	require.Empty(t, open, "a filled order must no longer be returned as open")
}

func TestInsertTradeThenListUserTrades(t *testing.T) {
	g := newTestGateway(t)
	symID, err := g.UpsertSymbol(SymbolRow{
		Symbol: "BTC/USDT-USDT:SPOT", Base: "BTC", Quote: "USDT", Settle: "USDT",
		MinTradeAmount: decimal.Zero, MaxTradeAmount: decimal.NewFromInt(100), FeeRate: decimal.NewFromFloat(0.003),
	})
	require.NoError(t, err)

	trade := TradeRow{
		ID: "t-1", SymbolID: symID, UserID: "100003", Side: 0, EngineKind: 0,
		Price: decimal.NewFromInt(50000), Quantity: decimal.NewFromFloat(0.1), QuoteAmount: decimal.NewFromInt(5000),
		FeeAmount: decimal.NewFromInt(5), FeeAsset: "BTC", Status: 0, CreatedAt: 1000,
	}
	err = g.WithTx(context.Background(), func(tx *Tx) error { return tx.InsertTrade(trade) })
	require.NoError(t, err)

	trades, err := g.ListUserTrades("100003", &symID, nil, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.True(t, trades[0].Price.Equal(decimal.NewFromInt(50000)))

	otherSym := symID + 1
	trades, err = g.ListUserTrades("100003", &otherSym, nil, 10)
	require.NoError(t, err)
	require.Empty(t, trades)
}

func TestGetBalanceReturnsZeroWhenAbsent(t *testing.T) {
	g := newTestGateway(t)
	bal, err := g.GetBalance("100004", "USDT")
	require.NoError(t, err)
	require.True(t, bal.Available.IsZero())
	require.True(t, bal.Locked.IsZero())
}

func TestExistsFuncsReportPresenceCorrectly(t *testing.T) {
	g := newTestGateway(t)

	exists, err := g.OrderExistsFunc()("missing")
	require.NoError(t, err)
	require.False(t, exists)

	symID, err := g.UpsertSymbol(SymbolRow{
		Symbol: "BTC/USDT-USDT:SPOT", Base: "BTC", Quote: "USDT", Settle: "USDT",
		MinTradeAmount: decimal.Zero, MaxTradeAmount: decimal.NewFromInt(100), FeeRate: decimal.NewFromFloat(0.003),
	})
	require.NoError(t, err)

	err = g.WithTx(context.Background(), func(tx *Tx) error {
		return tx.UpsertOrder(OrderRow{
			ID: "o-exists", SymbolID: symID, UserID: "100005", Side: 0, OrderType: 1,
			Quantity: decimal.NewFromInt(1), Filled: decimal.Zero, Status: 0, CreatedAt: 1, UpdatedAt: 1,
		})
	})
	require.NoError(t, err)

	exists, err = g.OrderExistsFunc()("o-exists")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	g := newTestGateway(t)
	boom := fmt.Errorf("boom")

	err := g.WithTx(context.Background(), func(tx *Tx) error {
		if err := tx.UpsertBalance(BalanceRow{
			AccountType: "user", UserID: "100006", Currency: "USDT",
			Available: decimal.NewFromInt(500), Locked: decimal.Zero,
		}); err != nil {
			return err
		}
		return boom
	})
	require.Error(t, err)

	bal, err := g.GetBalance("100006", "USDT")
	require.NoError(t, err)
	require.True(t, bal.Available.IsZero(), "a failed transaction must not leave partial state visible")
}
