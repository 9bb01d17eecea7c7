// Package router implements the engine router of spec.md §4.6: symbol
// resolution, a lazy engine-binding cache with per-symbol mutexes, and
// the uniform dispatch surface the API layer calls into. Generalized
// from the teacher's pkg/app/core/market.MarketRegistry, which this
// package wraps rather than replaces, adding the binding cache and
// engine-kind dispatch the teacher never needed (it has exactly one
// engine kind).
package router

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/davidting0918/vegaexchange/pkg/amm"
	"github.com/davidting0918/vegaexchange/pkg/clob"
	"github.com/davidting0918/vegaexchange/pkg/ledger"
	"github.com/davidting0918/vegaexchange/pkg/market"
	"github.com/davidting0918/vegaexchange/pkg/storage"
	"github.com/davidting0918/vegaexchange/pkg/util"
	"github.com/davidting0918/vegaexchange/pkg/vegaerr"
)

// Publisher receives router-originated events for fan-out over the
// event bus (component G). A nil Publisher is a valid, silent no-op —
// the router has no hard dependency on the bus being wired up.
type Publisher interface {
	Publish(channel string, payload any)
}

// binding is a singleton handle for one symbol's engine state. Handles
// are created once, on first use, and reused for the process lifetime
// so in-memory CLOB books and AMM pools are durable (spec.md §4.6).
type binding struct {
	mu     sync.Mutex
	symbol *market.Symbol
	pool   *amm.Pool  // non-nil iff symbol.Engine == market.EngineAMM
	book   *clob.Book // non-nil iff symbol.Engine == market.EngineCLOB
}

// Router dispatches mutating and read-only calls to the correct engine
// binding, serializing mutations per symbol and quarantining any symbol
// whose engine raises a Fatal error.
type Router struct {
	registry *market.Registry
	store    *storage.Gateway
	ledger   *ledger.Ledger
	pub      Publisher
	log      *zap.Logger
	clock    util.Clock

	bmu      sync.RWMutex
	bindings map[string]*binding

	qmu         sync.RWMutex
	quarantined map[string]bool
}

// New creates a router over an already-populated symbol registry.
func New(registry *market.Registry, store *storage.Gateway, led *ledger.Ledger, pub Publisher, log *zap.Logger) *Router {
	return &Router{
		registry:    registry,
		store:       store,
		ledger:      led,
		pub:         pub,
		log:         log,
		clock:       util.RealClock{},
		bindings:    make(map[string]*binding),
		quarantined: make(map[string]bool),
	}
}

// nowMillis is the router's single source of wall-clock time, injected
// so tests can pin order/trade timestamps instead of racing time.Now().
func (r *Router) nowMillis() int64 { return r.clock.Now().UnixMilli() }

func (r *Router) publish(channel string, payload any) {
	if r.pub != nil {
		r.pub.Publish(channel, payload)
	}
}

// IsQuarantined reports whether symbol has been quarantined after a
// Fatal engine error.
func (r *Router) IsQuarantined(symbol string) bool {
	r.qmu.RLock()
	defer r.qmu.RUnlock()
	return r.quarantined[symbol]
}

// Quarantine marks a symbol as quarantined, per spec.md §7's Fatal
// error handling — an admin operation clears it (not modeled here; the
// spec leaves clearing to an out-of-scope admin surface).
func (r *Router) quarantine(symbol string) {
	r.qmu.Lock()
	r.quarantined[symbol] = true
	r.qmu.Unlock()
	r.log.Warn("symbol quarantined after fatal engine error", zap.String("symbol", symbol))
	r.publish("trade", map[string]any{"type": "alert", "code": vegaerr.CodeSymbolQuarantined, "symbol": symbol})
}

// bindingFor resolves (and lazily creates) the engine binding for a
// symbol, rejecting unknown symbols, non-Active status, quarantined
// symbols, and non-spot classes (spec.md §9's Open Question on
// non-spot markets: rejected with EngineDisabled).
func (r *Router) bindingFor(symbolStr string) (*binding, error) {
	if r.IsQuarantined(symbolStr) {
		return nil, vegaerr.SymbolQuarantined(symbolStr)
	}

	r.bmu.RLock()
	b, ok := r.bindings[symbolStr]
	r.bmu.RUnlock()
	if ok {
		if b.symbol.Status != market.Active {
			return nil, vegaerr.EngineDisabled(fmt.Sprintf("symbol status %s is not tradable", b.symbol.Status))
		}
		return b, nil
	}

	sym, err := r.registry.Get(symbolStr)
	if err != nil {
		return nil, vegaerr.UnknownSymbol(symbolStr)
	}
	if sym.Status != market.Active {
		return nil, vegaerr.EngineDisabled(fmt.Sprintf("symbol status %s is not tradable", sym.Status))
	}
	if sym.Class != market.ClassSpot {
		return nil, vegaerr.EngineDisabled(fmt.Sprintf("market class %s is not tradable", sym.Class))
	}

	r.bmu.Lock()
	defer r.bmu.Unlock()
	if b, ok := r.bindings[symbolStr]; ok {
		return b, nil // another goroutine created it first
	}

	nb := &binding{symbol: sym}
	switch sym.Engine {
	case market.EngineAMM:
		nb.pool, err = r.loadOrCreatePool(sym)
	case market.EngineCLOB:
		nb.book, err = r.loadOrCreateBook(sym)
	}
	if err != nil {
		return nil, err
	}
	r.bindings[symbolStr] = nb
	return nb, nil
}

// Markets returns the static binding metadata for every registered
// symbol (spec.md §6 GET /api/market).
func (r *Router) Markets() []*market.Symbol {
	return r.registry.List()
}

// Market resolves one symbol's binding metadata (spec.md §6 GET
// /api/market/{symbol}).
func (r *Router) Market(symbol string) (*market.Symbol, error) {
	sym, err := r.registry.Get(symbol)
	if err != nil {
		return nil, vegaerr.UnknownSymbol(symbol)
	}
	return sym, nil
}

// MarketByID resolves a symbol's binding metadata by its numeric id,
// used to label trade rows (which persist symbol_id, not the string).
func (r *Router) MarketByID(id int64) (*market.Symbol, error) {
	return r.registry.GetByID(id)
}

// LPPosition reads a user's current LP share holding for an AMM symbol
// (spec.md §6 GET /api/pool/liquidity/position/{symbol_path}).
func (r *Router) LPPosition(symbol, userID string) (storage.LPPositionRow, error) {
	b, err := r.bindingFor(symbol)
	if err != nil {
		return storage.LPPositionRow{}, err
	}
	if b.pool == nil {
		return storage.LPPositionRow{}, vegaerr.SymbolBindingMismatch("symbol is not bound to the AMM engine")
	}
	return r.store.LoadLPPosition(b.pool.ID, userID)
}

// UserTrades returns a user's trade history, optionally scoped to one
// symbol and engine kind (spec.md §6 GET /api/user/trades).
func (r *Router) UserTrades(userID string, symbol string, engineKind *market.EngineKind, limit int) ([]storage.TradeRow, error) {
	var symbolID *int64
	if symbol != "" {
		sym, err := r.registry.Get(symbol)
		if err != nil {
			return nil, vegaerr.UnknownSymbol(symbol)
		}
		symbolID = &sym.ID
	}
	var kind *int
	if engineKind != nil {
		k := int(*engineKind)
		kind = &k
	}
	if limit <= 0 {
		limit = 50
	}
	return r.store.ListUserTrades(userID, symbolID, kind, limit)
}

func (r *Router) loadOrCreatePool(sym *market.Symbol) (*amm.Pool, error) {
	row, found, err := r.store.LoadPool(sym.ID)
	if err != nil {
		return nil, err
	}
	if found {
		return &amm.Pool{
			ID: row.ID, SymbolID: row.SymbolID,
			ReserveBase: row.ReserveBase, ReserveQuote: row.ReserveQuote,
			FeeRate: sym.FeeRate, TotalLPShares: row.TotalLPShares,
			CumulativeVolumeBase: row.CumulativeVolumeBase, CumulativeVolumeQuote: row.CumulativeVolumeQuote,
			CumulativeFees: row.CumulativeFees,
		}, nil
	}

	id, err := util.NewPoolID(r.store.PoolExistsFunc())
	if err != nil {
		return nil, err
	}
	pool := &amm.Pool{
		ID: id, SymbolID: sym.ID, FeeRate: sym.FeeRate,
		ReserveBase: util.Zero, ReserveQuote: util.Zero, TotalLPShares: util.Zero,
		CumulativeVolumeBase: util.Zero, CumulativeVolumeQuote: util.Zero, CumulativeFees: util.Zero,
	}
	return pool, nil
}

func (r *Router) loadOrCreateBook(sym *market.Symbol) (*clob.Book, error) {
	book := clob.NewBook(sym.ID, sym.PricePrec)

	var orders []storage.OrderRow
	if err := r.store.WithTx(context.Background(), func(tx *storage.Tx) error {
		var err error
		orders, err = tx.LoadOpenOrders(sym.ID)
		return err
	}); err != nil {
		return nil, err
	}

	for _, row := range orders {
		book.RestoreOrder(orderFromRow(row))
	}
	r.log.Info("rehydrated CLOB book", zap.String("symbol", sym.Symbol), zap.Int("open_orders", len(orders)))
	return book, nil
}
