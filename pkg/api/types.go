package api

// API response types for REST endpoints and WebSocket messages

// ==============================
// Envelope
// ==============================

// Response is the uniform envelope every REST endpoint returns
// (spec.md §6): success carries Data, failure carries Message.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ==============================
// REST Response Types
// ==============================

// MarketInfo is a symbol's static binding configuration.
type MarketInfo struct {
	Symbol    string `json:"symbol"` // canonical "BASE/QUOTE-SETTLE:MARKET" form
	Base      string `json:"base"`
	Quote     string `json:"quote"`
	Settle    string `json:"settle"`
	Class     string `json:"class"`  // "spot", "perp", "option", "future"
	Engine    string `json:"engine"` // "AMM" or "CLOB"
	Status    string `json:"status"` // "active", "paused", "settled"
	PricePrec int32  `json:"price_precision"`
	QtyPrec   int32  `json:"qty_precision"`
	MinTrade  string `json:"min_trade"`
	MaxTrade  string `json:"max_trade"`
	FeeRate   string `json:"fee_rate"`
}

// PriceLevel is an [price, quantity] aggregated book level.
type PriceLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// DepthResponse is the CLOB book snapshot for GET /api/orderbook/{symbol}.
type DepthResponse struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"` // sorted high to low
	Asks      []PriceLevel `json:"asks"` // sorted low to high
	Timestamp int64        `json:"timestamp"`
}

// QuoteResponse is the read-only AMM quote for GET /api/pool/{symbol}/quote.
type QuoteResponse struct {
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	InputAmount    string `json:"input_amount"`
	OutputAmount   string `json:"output_amount"`
	FeeAmount      string `json:"fee_amount"`
	ExecutionPrice string `json:"execution_price"`
	PriceImpact    string `json:"price_impact"`
}

// SwapResponse is a completed AMM swap (spec.md §4.4 operation 2).
type SwapResponse struct {
	TradeID        string `json:"trade_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	InputAmount    string `json:"input_amount"`
	OutputAmount   string `json:"output_amount"`
	FeeAmount      string `json:"fee_amount"`
	ExecutionPrice string `json:"execution_price"`
	PriceImpact    string `json:"price_impact"`
}

// LiquidityAddResponse reflects an AddLiquidity call's accepted amounts
// and minted shares, including any refund of the disproportionate side.
type LiquidityAddResponse struct {
	Symbol        string `json:"symbol"`
	AcceptedBase  string `json:"accepted_base"`
	AcceptedQuote string `json:"accepted_quote"`
	RefundedBase  string `json:"refunded_base"`
	RefundedQuote string `json:"refunded_quote"`
	SharesMinted  string `json:"shares_minted"`
}

// LiquidityRemoveResponse reflects a RemoveLiquidity call's payout.
type LiquidityRemoveResponse struct {
	Symbol       string `json:"symbol"`
	PayoutBase   string `json:"payout_base"`
	PayoutQuote  string `json:"payout_quote"`
	SharesBurned string `json:"shares_burned"`
}

// LPPositionResponse is a user's current LP share holding for a pool.
type LPPositionResponse struct {
	Symbol       string `json:"symbol"`
	LPShares     string `json:"lp_shares"`
	InitialBase  string `json:"initial_base"`
	InitialQuote string `json:"initial_quote"`
}

// OrderResponse reflects a CLOB order's post-place state.
type OrderResponse struct {
	OrderID  string   `json:"order_id"`
	Symbol   string   `json:"symbol"`
	Status   string   `json:"status"` // "open", "partial", "filled", "cancelled"
	Filled   string   `json:"filled"`
	Quantity string   `json:"quantity"`
	TradeIDs []string `json:"trade_ids,omitempty"`
}

// TradeResponse is one row of a user's trade history (spec.md §6 GET
// /api/user/trades).
type TradeResponse struct {
	ID           string `json:"id"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	EngineKind   string `json:"engine_kind"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	QuoteAmount  string `json:"quote_amount"`
	FeeAmount    string `json:"fee_amount"`
	FeeAsset     string `json:"fee_asset"`
	Counterparty string `json:"counterparty_user_id,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSClientFrame is sent by the client to (un)subscribe to a channel
// (spec.md §4.7). Channel is one of "pool:{symbol}", "orderbook:{symbol}",
// or "user".
type WSClientFrame struct {
	Action  string `json:"action"` // "subscribe" or "unsubscribe"
	Channel string `json:"channel"`
	Symbol  string `json:"symbol,omitempty"`
}

// WSServerFrame is the tagged event pushed to a subscribed client.
type WSServerFrame struct {
	Channel string      `json:"channel"`
	Symbol  string      `json:"symbol,omitempty"`
	Data    interface{} `json:"data"`
}

// ==============================
// REST Request Types
// ==============================

// SwapRequest is the payload for POST /api/pool/swap.
type SwapRequest struct {
	Symbol       string  `json:"symbol"`
	Side         int8    `json:"side"` // 0 = buy (quote in, base out), 1 = sell
	AmountIn     string  `json:"amount_in"`
	MinAmountOut *string `json:"min_amount_out,omitempty"`
}

// LiquidityAddRequest is the payload for POST /api/pool/liquidity/add.
type LiquidityAddRequest struct {
	Symbol      string `json:"symbol"`
	BaseAmount  string `json:"base_amount"`
	QuoteAmount string `json:"quote_amount"`
}

// LiquidityRemoveRequest is the payload for POST /api/pool/liquidity/remove.
type LiquidityRemoveRequest struct {
	Symbol   string `json:"symbol"`
	LPShares string `json:"lp_shares"`
}

// PlaceOrderRequest is the payload for the CLOB order placement endpoint.
type PlaceOrderRequest struct {
	Symbol     string  `json:"symbol"`
	Side       int8    `json:"side"` // 0 = buy, 1 = sell
	Type       int8    `json:"type"` // 0 = limit, 1 = market
	Quantity   string  `json:"quantity"`
	LimitPrice *string `json:"limit_price,omitempty"`
}

// CancelOrderRequest is the payload for the CLOB order cancel endpoint.
type CancelOrderRequest struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"order_id"`
}
