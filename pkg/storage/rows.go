package storage

import (
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/davidting0918/vegaexchange/pkg/vegaerr"
)

// BalanceRow is a (account_type, user_id, currency) ledger row.
type BalanceRow struct {
	AccountType string
	UserID      string
	Currency    string
	Available   decimal.Decimal
	Locked      decimal.Decimal
}

// GetBalance loads a balance row, returning zeroes if absent.
func (tx *Tx) GetBalance(accountType, userID, currency string) (BalanceRow, error) {
	row := tx.tx.QueryRow(
		`SELECT available, locked FROM balances WHERE account_type = ? AND user_id = ? AND currency = ?`,
		accountType, userID, currency,
	)
	var availS, lockedS string
	if err := row.Scan(&availS, &lockedS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BalanceRow{AccountType: accountType, UserID: userID, Currency: currency,
				Available: decimal.Zero, Locked: decimal.Zero}, nil
		}
		return BalanceRow{}, vegaerr.StorageError(err)
	}
	avail, err := decimal.NewFromString(availS)
	if err != nil {
		return BalanceRow{}, vegaerr.StorageError(err)
	}
	locked, err := decimal.NewFromString(lockedS)
	if err != nil {
		return BalanceRow{}, vegaerr.StorageError(err)
	}
	return BalanceRow{AccountType: accountType, UserID: userID, Currency: currency,
		Available: avail, Locked: locked}, nil
}

// UpsertBalance writes the current available/locked split for a row.
func (tx *Tx) UpsertBalance(b BalanceRow) error {
	_, err := tx.tx.Exec(
		`INSERT INTO balances (account_type, user_id, currency, available, locked)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(account_type, user_id, currency) DO UPDATE SET available = excluded.available, locked = excluded.locked`,
		b.AccountType, b.UserID, b.Currency, b.Available.String(), b.Locked.String(),
	)
	if err != nil {
		return vegaerr.StorageError(err)
	}
	return nil
}

// SymbolRow is a persisted symbol binding (spec.md §3). The registry
// seeds itself from these rows at startup so the symbol table, not the
// process's memory, remains the authoritative source.
type SymbolRow struct {
	ID             int64
	Symbol         string
	Base           string
	Quote          string
	Settle         string
	MarketClass    int
	EngineKind     int
	Status         int
	PricePrecision int32
	QtyPrecision   int32
	MinTradeAmount decimal.Decimal
	MaxTradeAmount decimal.Decimal
	FeeRate        decimal.Decimal
}

// UpsertSymbol inserts a symbol if its canonical string isn't already
// registered, returning the persisted row's id either way.
func (g *Gateway) UpsertSymbol(s SymbolRow) (int64, error) {
	_, err := g.db.Exec(
		`INSERT INTO symbols (symbol, base, quote, settle, market_class, engine_kind, status,
			price_precision, qty_precision, min_trade_amount, max_trade_amount, fee_rate)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(symbol) DO NOTHING`,
		s.Symbol, s.Base, s.Quote, s.Settle, s.MarketClass, s.EngineKind, s.Status,
		s.PricePrecision, s.QtyPrecision, s.MinTradeAmount.String(), s.MaxTradeAmount.String(), s.FeeRate.String(),
	)
	if err != nil {
		return 0, vegaerr.StorageError(err)
	}
	row := g.db.QueryRow(`SELECT id FROM symbols WHERE symbol = ?`, s.Symbol)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, vegaerr.StorageError(err)
	}
	return id, nil
}

// LoadSymbols returns every persisted symbol row, used once at startup
// to rebuild the in-memory registry.
func (g *Gateway) LoadSymbols() ([]SymbolRow, error) {
	rows, err := g.db.Query(
		`SELECT id, symbol, base, quote, settle, market_class, engine_kind, status,
			price_precision, qty_precision, min_trade_amount, max_trade_amount, fee_rate
		 FROM symbols`)
	if err != nil {
		return nil, vegaerr.StorageError(err)
	}
	defer rows.Close()

	var out []SymbolRow
	for rows.Next() {
		var s SymbolRow
		var minT, maxT, fee string
		if err := rows.Scan(&s.ID, &s.Symbol, &s.Base, &s.Quote, &s.Settle, &s.MarketClass, &s.EngineKind, &s.Status,
			&s.PricePrecision, &s.QtyPrecision, &minT, &maxT, &fee); err != nil {
			return nil, vegaerr.StorageError(err)
		}
		s.MinTradeAmount, err = decimal.NewFromString(minT)
		if err != nil {
			return nil, vegaerr.StorageError(err)
		}
		s.MaxTradeAmount, err = decimal.NewFromString(maxT)
		if err != nil {
			return nil, vegaerr.StorageError(err)
		}
		s.FeeRate, err = decimal.NewFromString(fee)
		if err != nil {
			return nil, vegaerr.StorageError(err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PoolRow is a persisted AMM pool snapshot.
type PoolRow struct {
	ID                    string
	SymbolID              int64
	ReserveBase           decimal.Decimal
	ReserveQuote          decimal.Decimal
	K                     decimal.Decimal
	FeeRate               decimal.Decimal
	TotalLPShares         decimal.Decimal
	CumulativeVolumeBase  decimal.Decimal
	CumulativeVolumeQuote decimal.Decimal
	CumulativeFees        decimal.Decimal
}

// UpsertPool writes a pool's full state.
func (tx *Tx) UpsertPool(p PoolRow) error {
	_, err := tx.tx.Exec(
		`INSERT INTO amm_pools (id, symbol_id, reserve_base, reserve_quote, k, fee_rate,
			total_lp_shares, cumulative_volume_base, cumulative_volume_quote, cumulative_fees)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			reserve_base = excluded.reserve_base, reserve_quote = excluded.reserve_quote,
			k = excluded.k, total_lp_shares = excluded.total_lp_shares,
			cumulative_volume_base = excluded.cumulative_volume_base,
			cumulative_volume_quote = excluded.cumulative_volume_quote,
			cumulative_fees = excluded.cumulative_fees`,
		p.ID, p.SymbolID, p.ReserveBase.String(), p.ReserveQuote.String(), p.K.String(), p.FeeRate.String(),
		p.TotalLPShares.String(), p.CumulativeVolumeBase.String(), p.CumulativeVolumeQuote.String(), p.CumulativeFees.String(),
	)
	if err != nil {
		return vegaerr.StorageError(err)
	}
	return nil
}

// LoadPool reads a pool's persisted state outside any transaction, used
// once by the router when lazily binding a symbol to its AMM handle.
func (g *Gateway) LoadPool(symbolID int64) (PoolRow, bool, error) {
	row := g.db.QueryRow(
		`SELECT id, symbol_id, reserve_base, reserve_quote, k, fee_rate, total_lp_shares,
			cumulative_volume_base, cumulative_volume_quote, cumulative_fees
		 FROM amm_pools WHERE symbol_id = ?`, symbolID,
	)
	var p PoolRow
	var rb, rq, k, fee, shares, cvb, cvq, cf string
	if err := row.Scan(&p.ID, &p.SymbolID, &rb, &rq, &k, &fee, &shares, &cvb, &cvq, &cf); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PoolRow{}, false, nil
		}
		return PoolRow{}, false, vegaerr.StorageError(err)
	}
	var err error
	if p.ReserveBase, err = decimal.NewFromString(rb); err != nil {
		return PoolRow{}, false, vegaerr.StorageError(err)
	}
	if p.ReserveQuote, err = decimal.NewFromString(rq); err != nil {
		return PoolRow{}, false, vegaerr.StorageError(err)
	}
	if p.K, err = decimal.NewFromString(k); err != nil {
		return PoolRow{}, false, vegaerr.StorageError(err)
	}
	if p.FeeRate, err = decimal.NewFromString(fee); err != nil {
		return PoolRow{}, false, vegaerr.StorageError(err)
	}
	if p.TotalLPShares, err = decimal.NewFromString(shares); err != nil {
		return PoolRow{}, false, vegaerr.StorageError(err)
	}
	if p.CumulativeVolumeBase, err = decimal.NewFromString(cvb); err != nil {
		return PoolRow{}, false, vegaerr.StorageError(err)
	}
	if p.CumulativeVolumeQuote, err = decimal.NewFromString(cvq); err != nil {
		return PoolRow{}, false, vegaerr.StorageError(err)
	}
	if p.CumulativeFees, err = decimal.NewFromString(cf); err != nil {
		return PoolRow{}, false, vegaerr.StorageError(err)
	}
	return p, true, nil
}

// LPPositionRow is a per-(pool, user) LP share balance.
type LPPositionRow struct {
	PoolID       string
	UserID       string
	LPShares     decimal.Decimal
	InitialBase  decimal.Decimal
	InitialQuote decimal.Decimal
}

// UpsertLPPosition writes an LP position, pruning rows whose shares fall to zero.
func (tx *Tx) UpsertLPPosition(p LPPositionRow) error {
	if p.LPShares.IsZero() {
		_, err := tx.tx.Exec(`DELETE FROM lp_positions WHERE pool_id = ? AND user_id = ?`, p.PoolID, p.UserID)
		if err != nil {
			return vegaerr.StorageError(err)
		}
		return nil
	}
	_, err := tx.tx.Exec(
		`INSERT INTO lp_positions (pool_id, user_id, lp_shares, initial_base, initial_quote)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(pool_id, user_id) DO UPDATE SET
			lp_shares = excluded.lp_shares, initial_base = excluded.initial_base, initial_quote = excluded.initial_quote`,
		p.PoolID, p.UserID, p.LPShares.String(), p.InitialBase.String(), p.InitialQuote.String(),
	)
	if err != nil {
		return vegaerr.StorageError(err)
	}
	return nil
}

// LoadLPPosition reads a single user's LP position outside any
// transaction, zero-valued if absent.
func (g *Gateway) LoadLPPosition(poolID, userID string) (LPPositionRow, error) {
	row := g.db.QueryRow(
		`SELECT lp_shares, initial_base, initial_quote FROM lp_positions WHERE pool_id = ? AND user_id = ?`,
		poolID, userID,
	)
	var sharesS, ibS, iqS string
	if err := row.Scan(&sharesS, &ibS, &iqS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LPPositionRow{PoolID: poolID, UserID: userID,
				LPShares: decimal.Zero, InitialBase: decimal.Zero, InitialQuote: decimal.Zero}, nil
		}
		return LPPositionRow{}, vegaerr.StorageError(err)
	}
	shares, err := decimal.NewFromString(sharesS)
	if err != nil {
		return LPPositionRow{}, vegaerr.StorageError(err)
	}
	ib, err := decimal.NewFromString(ibS)
	if err != nil {
		return LPPositionRow{}, vegaerr.StorageError(err)
	}
	iq, err := decimal.NewFromString(iqS)
	if err != nil {
		return LPPositionRow{}, vegaerr.StorageError(err)
	}
	return LPPositionRow{PoolID: poolID, UserID: userID, LPShares: shares, InitialBase: ib, InitialQuote: iq}, nil
}

// OrderRow is a persisted CLOB order.
type OrderRow struct {
	ID          string
	SymbolID    int64
	UserID      string
	Side        int
	OrderType   int
	LimitPrice  sql.NullString
	Quantity    decimal.Decimal
	Filled      decimal.Decimal
	Status      int
	CreatedAt   int64
	UpdatedAt   int64
	FilledAt    sql.NullInt64
	CancelledAt sql.NullInt64
}

// UpsertOrder writes an order's full lifecycle state.
func (tx *Tx) UpsertOrder(o OrderRow) error {
	_, err := tx.tx.Exec(
		`INSERT INTO orderbook_orders (id, symbol_id, user_id, side, order_type, limit_price,
			quantity, filled, status, created_at, updated_at, filled_at, cancelled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			filled = excluded.filled, status = excluded.status, updated_at = excluded.updated_at,
			filled_at = excluded.filled_at, cancelled_at = excluded.cancelled_at`,
		o.ID, o.SymbolID, o.UserID, o.Side, o.OrderType, o.LimitPrice,
		o.Quantity.String(), o.Filled.String(), o.Status, o.CreatedAt, o.UpdatedAt, o.FilledAt, o.CancelledAt,
	)
	if err != nil {
		return vegaerr.StorageError(err)
	}
	return nil
}

// TradeRow is an append-only fill record.
type TradeRow struct {
	ID                 string
	SymbolID           int64
	UserID             string
	Side               int
	EngineKind         int
	Price              decimal.Decimal
	Quantity           decimal.Decimal
	QuoteAmount        decimal.Decimal
	FeeAmount          decimal.Decimal
	FeeAsset           string
	Status             int
	CounterpartyUserID sql.NullString
	EngineData         sql.NullString
	CreatedAt          int64
}

// InsertTrade appends a trade row. Trades are never updated.
func (tx *Tx) InsertTrade(t TradeRow) error {
	_, err := tx.tx.Exec(
		`INSERT INTO trades (id, symbol_id, user_id, side, engine_kind, price, quantity, quote_amount,
			fee_amount, fee_asset, status, counterparty_user_id, engine_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SymbolID, t.UserID, t.Side, t.EngineKind, t.Price.String(), t.Quantity.String(), t.QuoteAmount.String(),
		t.FeeAmount.String(), t.FeeAsset, t.Status, t.CounterpartyUserID, t.EngineData, t.CreatedAt,
	)
	if err != nil {
		return vegaerr.StorageError(err)
	}
	return nil
}

// OrderExists reports whether an order id is already in use (id minting
// collision check per spec.md §4.1).
func (tx *Tx) OrderExists(id string) (bool, error) {
	var one int
	err := tx.tx.QueryRow(`SELECT 1 FROM orderbook_orders WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, vegaerr.StorageError(err)
	}
	return true, nil
}

// TradeExists reports whether a trade id is already in use.
func (tx *Tx) TradeExists(id string) (bool, error) {
	var one int
	err := tx.tx.QueryRow(`SELECT 1 FROM trades WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, vegaerr.StorageError(err)
	}
	return true, nil
}

// UserExists reports whether a user id is already in use.
func (tx *Tx) UserExists(id string) (bool, error) {
	var one int
	err := tx.tx.QueryRow(`SELECT 1 FROM users WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, vegaerr.StorageError(err)
	}
	return true, nil
}

// PoolExists reports whether a pool id is already in use.
func (tx *Tx) PoolExists(id string) (bool, error) {
	var one int
	err := tx.tx.QueryRow(`SELECT 1 FROM amm_pools WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, vegaerr.StorageError(err)
	}
	return true, nil
}

// existsFunc builds a util.ExistsFunc-shaped closure over a single-table
// lookup on the raw connection, for id minting calls that happen before
// the caller has opened a transaction (e.g. creating a pool's id on
// first lazy bind).
func (g *Gateway) existsFunc(query string) func(id string) (bool, error) {
	return func(id string) (bool, error) {
		var one int
		err := g.db.QueryRow(query, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, vegaerr.StorageError(err)
		}
		return true, nil
	}
}

// PoolExistsFunc returns an id-collision check for pool ids.
func (g *Gateway) PoolExistsFunc() func(id string) (bool, error) {
	return g.existsFunc(`SELECT 1 FROM amm_pools WHERE id = ?`)
}

// OrderExistsFunc returns an id-collision check for order ids.
func (g *Gateway) OrderExistsFunc() func(id string) (bool, error) {
	return g.existsFunc(`SELECT 1 FROM orderbook_orders WHERE id = ?`)
}

// TradeExistsFunc returns an id-collision check for trade ids.
func (g *Gateway) TradeExistsFunc() func(id string) (bool, error) {
	return g.existsFunc(`SELECT 1 FROM trades WHERE id = ?`)
}

// UserExistsFunc returns an id-collision check for user ids.
func (g *Gateway) UserExistsFunc() func(id string) (bool, error) {
	return g.existsFunc(`SELECT 1 FROM users WHERE id = ?`)
}

// ListUserTrades returns a user's trade history, most recent first,
// optionally filtered by symbol and engine kind (spec.md §6 GET
// /api/user/trades). Read outside any transaction: trades are
// append-only so no transactional snapshot is required.
func (g *Gateway) ListUserTrades(userID string, symbolID *int64, engineKind *int, limit int) ([]TradeRow, error) {
	query := `SELECT id, symbol_id, user_id, side, engine_kind, price, quantity, quote_amount,
		fee_amount, fee_asset, status, counterparty_user_id, engine_data, created_at
		FROM trades WHERE user_id = ?`
	args := []any{userID}
	if symbolID != nil {
		query += ` AND symbol_id = ?`
		args = append(args, *symbolID)
	}
	if engineKind != nil {
		query += ` AND engine_kind = ?`
		args = append(args, *engineKind)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := g.db.Query(query, args...)
	if err != nil {
		return nil, vegaerr.StorageError(err)
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var t TradeRow
		var priceS, qtyS, quoteS, feeS string
		if err := rows.Scan(&t.ID, &t.SymbolID, &t.UserID, &t.Side, &t.EngineKind, &priceS, &qtyS, &quoteS,
			&feeS, &t.FeeAsset, &t.Status, &t.CounterpartyUserID, &t.EngineData, &t.CreatedAt); err != nil {
			return nil, vegaerr.StorageError(err)
		}
		if t.Price, err = decimal.NewFromString(priceS); err != nil {
			return nil, vegaerr.StorageError(err)
		}
		if t.Quantity, err = decimal.NewFromString(qtyS); err != nil {
			return nil, vegaerr.StorageError(err)
		}
		if t.QuoteAmount, err = decimal.NewFromString(quoteS); err != nil {
			return nil, vegaerr.StorageError(err)
		}
		if t.FeeAmount, err = decimal.NewFromString(feeS); err != nil {
			return nil, vegaerr.StorageError(err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetBalance reads a user's available/locked split for a currency from
// the account_type 'user' row, outside any transaction.
func (g *Gateway) GetBalance(userID, currency string) (BalanceRow, error) {
	row := g.db.QueryRow(
		`SELECT available, locked FROM balances WHERE account_type = 'user' AND user_id = ? AND currency = ?`,
		userID, currency,
	)
	var availS, lockedS string
	if err := row.Scan(&availS, &lockedS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BalanceRow{AccountType: "user", UserID: userID, Currency: currency,
				Available: decimal.Zero, Locked: decimal.Zero}, nil
		}
		return BalanceRow{}, vegaerr.StorageError(err)
	}
	avail, err := decimal.NewFromString(availS)
	if err != nil {
		return BalanceRow{}, vegaerr.StorageError(err)
	}
	locked, err := decimal.NewFromString(lockedS)
	if err != nil {
		return BalanceRow{}, vegaerr.StorageError(err)
	}
	return BalanceRow{AccountType: "user", UserID: userID, Currency: currency, Available: avail, Locked: locked}, nil
}

// LoadOpenOrders returns every open/partial order for a symbol ordered
// by created_at, used to rehydrate the in-memory CLOB on process start
// (spec.md §9).
func (tx *Tx) LoadOpenOrders(symbolID int64) ([]OrderRow, error) {
	rows, err := tx.tx.Query(
		`SELECT id, symbol_id, user_id, side, order_type, limit_price, quantity, filled, status,
			created_at, updated_at, filled_at, cancelled_at
		 FROM orderbook_orders WHERE symbol_id = ? AND status IN (0, 1) ORDER BY created_at ASC`,
		symbolID,
	)
	if err != nil {
		return nil, vegaerr.StorageError(err)
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var o OrderRow
		var qtyS, filledS string
		if err := rows.Scan(&o.ID, &o.SymbolID, &o.UserID, &o.Side, &o.OrderType, &o.LimitPrice,
			&qtyS, &filledS, &o.Status, &o.CreatedAt, &o.UpdatedAt, &o.FilledAt, &o.CancelledAt); err != nil {
			return nil, vegaerr.StorageError(err)
		}
		o.Quantity, err = decimal.NewFromString(qtyS)
		if err != nil {
			return nil, vegaerr.StorageError(err)
		}
		o.Filled, err = decimal.NewFromString(filledS)
		if err != nil {
			return nil, vegaerr.StorageError(err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
