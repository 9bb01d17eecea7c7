package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/davidting0918/vegaexchange/pkg/amm"
	"github.com/davidting0918/vegaexchange/pkg/clob"
	"github.com/davidting0918/vegaexchange/pkg/eventbus"
	"github.com/davidting0918/vegaexchange/pkg/market"
	"github.com/davidting0918/vegaexchange/pkg/router"
	"github.com/davidting0918/vegaexchange/pkg/storage"
	"github.com/davidting0918/vegaexchange/pkg/vegaerr"
)

// AuthResolver resolves a bearer token to a user id. The production
// implementation is external (spec.md §6); DebugHeaderResolver below is
// the stand-in used until that's wired up.
type AuthResolver interface {
	Resolve(token string) (userID string, ok bool)
}

// DebugHeaderResolver treats the token itself as the user id, the way a
// dev environment without a real identity provider stands one up. Never
// wired for a deployment that has a real AuthResolver available.
type DebugHeaderResolver struct{}

func (DebugHeaderResolver) Resolve(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	return token, true
}

// Server handles the REST API and WebSocket connections for VegaExchange.
type Server struct {
	rt   *router.Router
	bus  *eventbus.Bus
	hub  *Hub
	auth AuthResolver
	log  *zap.Logger
	mux  *mux.Router
}

// NewServer wires a Server over an already-running Router and event bus.
func NewServer(rt *router.Router, bus *eventbus.Bus, auth AuthResolver, log *zap.Logger) *Server {
	if auth == nil {
		auth = DebugHeaderResolver{}
	}
	s := &Server{
		rt:   rt,
		bus:  bus,
		auth: auth,
		log:  log,
		mux:  mux.NewRouter(),
	}
	s.hub = NewHub(bus, auth, log)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.mux.PathPrefix("/api").Subrouter()

	api.HandleFunc("/pool/swap", s.handleSwap).Methods("POST")
	api.HandleFunc("/pool/{symbol_path:.+}/quote", s.handleQuote).Methods("GET")
	api.HandleFunc("/pool/liquidity/add", s.handleAddLiquidity).Methods("POST")
	api.HandleFunc("/pool/liquidity/remove", s.handleRemoveLiquidity).Methods("POST")
	api.HandleFunc("/pool/liquidity/position/{symbol_path:.+}", s.handleLPPosition).Methods("GET")
	api.HandleFunc("/pool/liquidity/history/{symbol_path:.+}", s.handleLPHistory).Methods("GET")

	api.HandleFunc("/orderbook/order", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orderbook/order/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orderbook/{symbol_path:.+}", s.handleDepth).Methods("GET")

	api.HandleFunc("/market", s.handleMarkets).Methods("GET")
	api.HandleFunc("/market/{symbol_path:.+}", s.handleMarket).Methods("GET")

	api.HandleFunc("/user/trades", s.handleUserTrades).Methods("GET")

	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start installs CORS and begins serving.
func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(s.mux)

	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, handler)
}

// ==============================
// Auth / symbol-path helpers
// ==============================

func (s *Server) authedUser(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token := strings.TrimPrefix(h, "Bearer ")
	if token == h && h == "" {
		return "", false
	}
	return s.auth.Resolve(token)
}

// parseSymbolPath canonicalizes a path segment into the registry's
// "BASE/QUOTE-SETTLE:MARKET" form, accepting the dashed
// BASE-QUOTE-SETTLE-MARKET path form, the slashed BASE/QUOTE/SETTLE/MARKET
// path form, or an already-canonical symbol string (spec.md §9 Open
// Question #2).
func parseSymbolPath(raw string) string {
	if strings.Contains(raw, ":") {
		return raw
	}
	sep := "-"
	if strings.Contains(raw, "/") {
		sep = "/"
	}
	parts := strings.Split(raw, sep)
	if len(parts) != 4 {
		return raw
	}
	return parts[0] + "/" + parts[1] + "-" + parts[2] + ":" + parts[3]
}

// ==============================
// Response helpers
// ==============================

func respondOK(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{Success: true, Data: data})
}

func respondErr(w http.ResponseWriter, err error) {
	status := 500
	msg := err.Error()
	if ve, ok := vegaerr.As(err); ok {
		status = ve.Kind.HTTPStatus()
		msg = ve.Message
		if ve.Kind == vegaerr.Transient {
			w.Header().Set("Retry-After", "1")
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{Success: false, Message: msg})
}

func marketInfoOf(sym *market.Symbol) MarketInfo {
	return MarketInfo{
		Symbol: sym.Symbol, Base: sym.Base, Quote: sym.Quote, Settle: sym.Settle,
		Class: sym.Class.String(), Engine: sym.Engine.String(), Status: sym.Status.String(),
		PricePrec: sym.PricePrec, QtyPrec: sym.QtyPrec,
		MinTrade: sym.MinTrade.String(), MaxTrade: sym.MaxTrade.String(), FeeRate: sym.FeeRate.String(),
	}
}

func priceLevelsOf(levels []clob.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.Price.String(), Quantity: l.Quantity.String()}
	}
	return out
}

// ==============================
// REST Handlers — AMM pool
// ==============================

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authedUser(r)
	if !ok {
		respondErr(w, vegaerr.MissingParameter("Authorization"))
		return
	}
	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, vegaerr.InvalidAmount("invalid request body"))
		return
	}
	amountIn, err := decimal.NewFromString(req.AmountIn)
	if err != nil {
		respondErr(w, vegaerr.InvalidAmount("amount_in must be a decimal string"))
		return
	}
	var minOut *decimal.Decimal
	if req.MinAmountOut != nil {
		v, err := decimal.NewFromString(*req.MinAmountOut)
		if err != nil {
			respondErr(w, vegaerr.InvalidAmount("min_amount_out must be a decimal string"))
			return
		}
		minOut = &v
	}

	result, err := s.rt.Swap(r.Context(), userID, req.Symbol, amm.Side(req.Side), amountIn, minOut)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, SwapResponse{
		TradeID: result.TradeID, Symbol: result.Symbol, Side: sideName(int8(result.Side)),
		InputAmount: result.InputAmount.String(), OutputAmount: result.OutputAmount.String(),
		FeeAmount: result.FeeAmount.String(), ExecutionPrice: result.ExecutionPrice.String(),
		PriceImpact: result.PriceImpact.String(),
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := parseSymbolPath(mux.Vars(r)["symbol_path"])
	q := r.URL.Query()
	side := amm.Buy
	if q.Get("side") == "1" {
		side = amm.Sell
	}

	if qty := q.Get("quantity"); qty != "" {
		amountIn, err := decimal.NewFromString(qty)
		if err != nil {
			respondErr(w, vegaerr.InvalidAmount("quantity must be a decimal string"))
			return
		}
		result, err := s.rt.Quote(symbol, side, amountIn)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondOK(w, quoteResponseOf(symbol, side, result))
		return
	}
	if qa := q.Get("quote_amount"); qa != "" {
		amountOut, err := decimal.NewFromString(qa)
		if err != nil {
			respondErr(w, vegaerr.InvalidAmount("quote_amount must be a decimal string"))
			return
		}
		result, err := s.rt.QuoteOutput(symbol, side, amountOut)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondOK(w, quoteResponseOf(symbol, side, result))
		return
	}
	respondErr(w, vegaerr.MissingParameter("quantity or quote_amount"))
}

func quoteResponseOf(symbol string, side amm.Side, q amm.Quote) QuoteResponse {
	return QuoteResponse{
		Symbol: symbol, Side: sideName(int8(side)),
		InputAmount: q.InputGross.String(), OutputAmount: q.Output.String(),
		FeeAmount: q.FeeAmount.String(), ExecutionPrice: q.ExecutionPrice.String(), PriceImpact: q.PriceImpact.String(),
	}
}

func (s *Server) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authedUser(r)
	if !ok {
		respondErr(w, vegaerr.MissingParameter("Authorization"))
		return
	}
	var req LiquidityAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, vegaerr.InvalidAmount("invalid request body"))
		return
	}
	baseAmount, err := decimal.NewFromString(req.BaseAmount)
	if err != nil {
		respondErr(w, vegaerr.InvalidAmount("base_amount must be a decimal string"))
		return
	}
	quoteAmount, err := decimal.NewFromString(req.QuoteAmount)
	if err != nil {
		respondErr(w, vegaerr.InvalidAmount("quote_amount must be a decimal string"))
		return
	}

	result, err := s.rt.AddLiquidity(r.Context(), userID, req.Symbol, baseAmount, quoteAmount)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, LiquidityAddResponse{
		Symbol: req.Symbol, AcceptedBase: result.AcceptedBase.String(), AcceptedQuote: result.AcceptedQuote.String(),
		RefundedBase: result.RefundBase.String(), RefundedQuote: result.RefundQuote.String(),
		SharesMinted: result.SharesMinted.String(),
	})
}

func (s *Server) handleRemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authedUser(r)
	if !ok {
		respondErr(w, vegaerr.MissingParameter("Authorization"))
		return
	}
	var req LiquidityRemoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, vegaerr.InvalidAmount("invalid request body"))
		return
	}
	lpShares, err := decimal.NewFromString(req.LPShares)
	if err != nil {
		respondErr(w, vegaerr.InvalidAmount("lp_shares must be a decimal string"))
		return
	}

	result, err := s.rt.RemoveLiquidity(r.Context(), userID, req.Symbol, lpShares)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, LiquidityRemoveResponse{
		Symbol: req.Symbol, PayoutBase: result.PayoutBase.String(), PayoutQuote: result.PayoutQuote.String(),
		SharesBurned: lpShares.String(),
	})
}

func (s *Server) handleLPPosition(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authedUser(r)
	if !ok {
		respondErr(w, vegaerr.MissingParameter("Authorization"))
		return
	}
	symbol := parseSymbolPath(mux.Vars(r)["symbol_path"])
	pos, err := s.rt.LPPosition(symbol, userID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, LPPositionResponse{
		Symbol: symbol, LPShares: pos.LPShares.String(),
		InitialBase: pos.InitialBase.String(), InitialQuote: pos.InitialQuote.String(),
	})
}

// handleLPHistory returns this user's AMM trades (swaps) on the pool's
// symbol, a filtered view over the same trade log the CLOB uses.
// Liquidity adds and removals write no trade rows and are not listed.
func (s *Server) handleLPHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authedUser(r)
	if !ok {
		respondErr(w, vegaerr.MissingParameter("Authorization"))
		return
	}
	symbol := parseSymbolPath(mux.Vars(r)["symbol_path"])
	kind := market.EngineAMM
	trades, err := s.rt.UserTrades(userID, symbol, &kind, 100)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, s.tradeResponsesOf(trades))
}

// ==============================
// REST Handlers — CLOB orderbook
// ==============================

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authedUser(r)
	if !ok {
		respondErr(w, vegaerr.MissingParameter("Authorization"))
		return
	}
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, vegaerr.InvalidAmount("invalid request body"))
		return
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		respondErr(w, vegaerr.InvalidAmount("quantity must be a decimal string"))
		return
	}
	limitPrice := decimal.Zero
	if req.LimitPrice != nil {
		limitPrice, err = decimal.NewFromString(*req.LimitPrice)
		if err != nil {
			respondErr(w, vegaerr.InvalidAmount("limit_price must be a decimal string"))
			return
		}
	}

	result, err := s.rt.PlaceOrder(r.Context(), userID, req.Symbol, clob.Side(req.Side), clob.Type(req.Type), quantity, limitPrice)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, OrderResponse{
		OrderID: result.OrderID, Symbol: result.Symbol, Status: result.Status.String(),
		Filled: result.Filled.String(), Quantity: result.Quantity.String(), TradeIDs: result.TradeIDs,
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authedUser(r)
	if !ok {
		respondErr(w, vegaerr.MissingParameter("Authorization"))
		return
	}
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, vegaerr.InvalidAmount("invalid request body"))
		return
	}
	if err := s.rt.CancelOrder(r.Context(), userID, req.Symbol, req.OrderID); err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, map[string]string{"order_id": req.OrderID, "status": "cancelled"})
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	symbol := parseSymbolPath(mux.Vars(r)["symbol_path"])
	n := 20
	if lv := r.URL.Query().Get("levels"); lv != "" {
		if parsed, err := strconv.Atoi(lv); err == nil && parsed > 0 {
			n = parsed
		}
	}
	bids, asks, err := s.rt.Depth(symbol, n)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, DepthResponse{Symbol: symbol, Bids: priceLevelsOf(bids), Asks: priceLevelsOf(asks)})
}

// ==============================
// REST Handlers — market metadata, trades, health
// ==============================

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	syms := s.rt.Markets()
	out := make([]MarketInfo, len(syms))
	for i, sym := range syms {
		out[i] = marketInfoOf(sym)
	}
	respondOK(w, out)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	symbol := parseSymbolPath(mux.Vars(r)["symbol_path"])
	sym, err := s.rt.Market(symbol)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, marketInfoOf(sym))
}

func (s *Server) handleUserTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authedUser(r)
	if !ok {
		respondErr(w, vegaerr.MissingParameter("Authorization"))
		return
	}
	q := r.URL.Query()
	symbol := q.Get("symbol")

	var kind *market.EngineKind
	if et := q.Get("engine_type"); et != "" {
		switch strings.ToUpper(et) {
		case "AMM":
			k := market.EngineAMM
			kind = &k
		case "CLOB":
			k := market.EngineCLOB
			kind = &k
		}
	}
	limit := 50
	if lv := q.Get("limit"); lv != "" {
		if parsed, err := strconv.Atoi(lv); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	trades, err := s.rt.UserTrades(userID, symbol, kind, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, s.tradeResponsesOf(trades))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, map[string]string{"status": "ok"})
}

func (s *Server) tradeResponsesOf(trades []storage.TradeRow) []TradeResponse {
	out := make([]TradeResponse, len(trades))
	for i, t := range trades {
		symbol := ""
		if sym, err := s.rt.MarketByID(t.SymbolID); err == nil {
			symbol = sym.Symbol
		}
		out[i] = TradeResponse{
			ID: t.ID, Symbol: symbol, EngineKind: market.EngineKind(t.EngineKind).String(),
			Side: sideName(int8(t.Side)), Price: t.Price.String(), Quantity: t.Quantity.String(),
			QuoteAmount: t.QuoteAmount.String(), FeeAmount: t.FeeAmount.String(), FeeAsset: t.FeeAsset,
			Counterparty: t.CounterpartyUserID.String, Timestamp: t.CreatedAt,
		}
	}
	return out
}

func sideName(side int8) string {
	if side == 0 {
		return "buy"
	}
	return "sell"
}
