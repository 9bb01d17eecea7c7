package storage

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT,
	email TEXT UNIQUE,
	external_idp_id TEXT,
	active INTEGER NOT NULL DEFAULT 1,
	admin INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS balances (
	account_type TEXT NOT NULL,
	user_id TEXT NOT NULL,
	currency TEXT NOT NULL,
	available TEXT NOT NULL,
	locked TEXT NOT NULL,
	PRIMARY KEY (account_type, user_id, currency)
);

CREATE TABLE IF NOT EXISTS symbols (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT UNIQUE NOT NULL,
	base TEXT NOT NULL,
	quote TEXT NOT NULL,
	settle TEXT NOT NULL,
	market_class INTEGER NOT NULL,
	engine_kind INTEGER NOT NULL,
	status INTEGER NOT NULL DEFAULT 0,
	price_precision INTEGER NOT NULL,
	qty_precision INTEGER NOT NULL,
	min_trade_amount TEXT NOT NULL,
	max_trade_amount TEXT NOT NULL,
	fee_rate TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS amm_pools (
	id TEXT PRIMARY KEY,
	symbol_id INTEGER NOT NULL,
	reserve_base TEXT NOT NULL,
	reserve_quote TEXT NOT NULL,
	k TEXT NOT NULL,
	fee_rate TEXT NOT NULL,
	total_lp_shares TEXT NOT NULL,
	cumulative_volume_base TEXT NOT NULL,
	cumulative_volume_quote TEXT NOT NULL,
	cumulative_fees TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS lp_positions (
	pool_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	lp_shares TEXT NOT NULL,
	initial_base TEXT NOT NULL,
	initial_quote TEXT NOT NULL,
	PRIMARY KEY (pool_id, user_id)
);

CREATE TABLE IF NOT EXISTS orderbook_orders (
	id TEXT PRIMARY KEY,
	symbol_id INTEGER NOT NULL,
	user_id TEXT NOT NULL,
	side INTEGER NOT NULL,
	order_type INTEGER NOT NULL,
	limit_price TEXT,
	quantity TEXT NOT NULL,
	filled TEXT NOT NULL,
	status INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	filled_at INTEGER,
	cancelled_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_orders_symbol_status ON orderbook_orders(symbol_id, status);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orderbook_orders(user_id);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	symbol_id INTEGER NOT NULL,
	user_id TEXT NOT NULL,
	side INTEGER NOT NULL,
	engine_kind INTEGER NOT NULL,
	price TEXT NOT NULL,
	quantity TEXT NOT NULL,
	quote_amount TEXT NOT NULL,
	fee_amount TEXT NOT NULL,
	fee_asset TEXT NOT NULL,
	status INTEGER NOT NULL,
	counterparty_user_id TEXT,
	engine_data TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol_created ON trades(symbol_id, created_at);
CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id);

CREATE VIEW IF NOT EXISTS amm_prices AS
	SELECT p.symbol_id, s.symbol, p.reserve_quote, p.reserve_base,
	       CAST(p.reserve_quote AS REAL) / NULLIF(CAST(p.reserve_base AS REAL), 0) AS spot_price
	FROM amm_pools p JOIN symbols s ON s.id = p.symbol_id;

CREATE VIEW IF NOT EXISTS orderbook_summary AS
	SELECT symbol_id, side, COUNT(*) AS order_count, SUM(CAST(quantity AS REAL) - CAST(filled AS REAL)) AS total_remaining
	FROM orderbook_orders
	WHERE status IN (0, 1)
	GROUP BY symbol_id, side;
`
