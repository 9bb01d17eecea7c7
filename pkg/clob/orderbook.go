package clob

import (
	"container/heap"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidting0918/vegaexchange/pkg/market"
	"github.com/davidting0918/vegaexchange/pkg/vegaerr"
)

// Book is the price-time-priority order book for one symbol. Place is a
// pure matching function: it mutates only in-memory order/book state and
// returns the Fills it produced, with no ledger side effects, mirroring
// the teacher's orderbook.OrderBook.Place — the router applies ledger
// settlement over the returned fills inside the caller's transaction.
type Book struct {
	mu sync.RWMutex

	symbolID   int64
	pricePrec  int32

	bidHeap maxPriceHeap
	askHeap minPriceHeap

	bids map[string][]*Order // price key -> FIFO queue, best-first
	asks map[string][]*Order

	orderIndex map[string]orderLocation

	lastPrice decimal.Decimal
}

type orderLocation struct {
	side  Side
	price decimal.Decimal
}

// NewBook creates an empty book for the given symbol.
func NewBook(symbolID int64, pricePrecision int32) *Book {
	return &Book{
		symbolID:   symbolID,
		pricePrec:  pricePrecision,
		bids:       make(map[string][]*Order),
		asks:       make(map[string][]*Order),
		orderIndex: make(map[string]orderLocation),
	}
}

// RestoreOrder reinserts an open order into the book on startup
// rehydration (spec.md §9), without running it through matching.
func (b *Book) RestoreOrder(o *Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insert(o)
}

func (b *Book) priceKey(p decimal.Decimal) string {
	return p.Round(b.pricePrec).String()
}

func (b *Book) insert(o *Order) {
	key := b.priceKey(o.LimitPrice)
	switch o.Side {
	case Buy:
		if _, ok := b.bids[key]; !ok {
			heap.Push(&b.bidHeap, o.LimitPrice.Round(b.pricePrec))
		}
		b.bids[key] = append(b.bids[key], o)
	case Sell:
		if _, ok := b.asks[key]; !ok {
			heap.Push(&b.askHeap, o.LimitPrice.Round(b.pricePrec))
		}
		b.asks[key] = append(b.asks[key], o)
	}
	b.orderIndex[o.ID] = orderLocation{side: o.Side, price: o.LimitPrice.Round(b.pricePrec)}
}

// removeLevelIfEmpty drops a price level's map entry once its queue is
// drained. Its heap entry stays behind, so the heap may carry stale
// duplicate entries for a price that was pushed more than once across
// the level's lifetime; bestBidLevel/bestAskLevel pop heap entries whose
// level is no longer present in the map.
func (b *Book) removeLevelIfEmpty(side Side, key string) {
	switch side {
	case Buy:
		if len(b.bids[key]) == 0 {
			delete(b.bids, key)
		}
	case Sell:
		if len(b.asks[key]) == 0 {
			delete(b.asks, key)
		}
	}
}

func (b *Book) bestBidLevel() (string, []*Order, bool) {
	for b.bidHeap.Len() > 0 {
		top, _ := b.bidHeap.Peek()
		key := top.String()
		if q, ok := b.bids[key]; ok && len(q) > 0 {
			return key, q, true
		}
		heap.Pop(&b.bidHeap)
	}
	return "", nil, false
}

func (b *Book) bestAskLevel() (string, []*Order, bool) {
	for b.askHeap.Len() > 0 {
		top, _ := b.askHeap.Peek()
		key := top.String()
		if q, ok := b.asks[key]; ok && len(q) > 0 {
			return key, q, true
		}
		heap.Pop(&b.askHeap)
	}
	return "", nil, false
}

// Place validates and matches an incoming order against the resting
// book, returning the fills produced. A limit order's unfilled
// remainder rests on the book (unless it is immediately fully filled);
// a market order's unfilled remainder is discarded (IOC), per spec.md
// §4.5 operation 2.
func (b *Book) Place(o *Order, symbol *market.Symbol) ([]Fill, error) {
	if o.Type == Limit && !o.LimitPrice.IsPositive() {
		return nil, vegaerr.InvalidAmount("limit_price must be positive")
	}
	if err := symbol.ValidateQuantity(o.Quantity); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o.UpdatedAt = time.Now().UnixMilli()

	var fills []Fill
	switch o.Side {
	case Buy:
		fills = b.matchIncoming(o, b.bestAskLevel, func(restingPrice decimal.Decimal) bool {
			return o.Type == Market || o.LimitPrice.GreaterThanOrEqual(restingPrice)
		}, Sell)
	case Sell:
		fills = b.matchIncoming(o, b.bestBidLevel, func(restingPrice decimal.Decimal) bool {
			return o.Type == Market || o.LimitPrice.LessThanOrEqual(restingPrice)
		}, Buy)
	}

	if o.Remaining().IsPositive() {
		if o.Type == Limit {
			o.Status = Open
			if o.Filled.IsPositive() {
				o.Status = Partial
			}
			b.insert(o)
		} else {
			o.Status = Cancelled // unfilled IOC remainder is discarded
			o.CancelledAt = o.UpdatedAt
		}
	} else {
		o.Status = Filled
		o.FilledAt = o.UpdatedAt
	}

	return fills, nil
}

type levelFunc func() (key string, queue []*Order, ok bool)

func (b *Book) matchIncoming(taker *Order, bestLevel levelFunc, crosses func(decimal.Decimal) bool, restingSide Side) []Fill {
	var fills []Fill

	for taker.Remaining().IsPositive() {
		key, queue, ok := bestLevel()
		if !ok || len(queue) == 0 {
			break
		}
		restingPrice := queue[0].LimitPrice.Round(b.pricePrec)
		if !crosses(restingPrice) {
			break
		}

		maker := queue[0]
		qty := decimalMinQty(taker.Remaining(), maker.Remaining())
		now := time.Now().UnixMilli()

		taker.Filled = taker.Filled.Add(qty)
		maker.Filled = maker.Filled.Add(qty)
		maker.UpdatedAt = now
		b.lastPrice = restingPrice

		makerDone := !maker.Remaining().IsPositive()
		if makerDone {
			maker.Status = Filled
			maker.FilledAt = now
			queue = queue[1:]
			delete(b.orderIndex, maker.ID)
		} else {
			maker.Status = Partial
			queue[0] = maker
		}

		fills = append(fills, Fill{
			TakerID: taker.ID, MakerID: maker.ID,
			TakerUser: taker.UserID, MakerUser: maker.UserID,
			TakerSide: taker.Side,
			Price: restingPrice, Quantity: qty, MakerDone: makerDone,
			MakerFilled: maker.Filled, MakerQuantity: maker.Quantity,
			MakerStatus: maker.Status, MakerLimitPrice: maker.LimitPrice,
			MakerCreatedAt: maker.CreatedAt, MakerUpdatedAt: maker.UpdatedAt,
			MakerFilledAt: maker.FilledAt,
		})

		switch restingSide {
		case Buy:
			b.bids[key] = queue
			b.removeLevelIfEmpty(Buy, key)
		case Sell:
			b.asks[key] = queue
			b.removeLevelIfEmpty(Sell, key)
		}
	}

	return fills
}

func decimalMinQty(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Cancel removes a resting order from the book. Returns false if the
// order is not resting (already filled, cancelled, or unknown).
func (b *Book) Cancel(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	loc, ok := b.orderIndex[id]
	if !ok {
		return false
	}
	key := loc.price.String()

	var queue []*Order
	var side Side
	switch loc.side {
	case Buy:
		queue, side = b.bids[key], Buy
	case Sell:
		queue, side = b.asks[key], Sell
	}

	for i, o := range queue {
		if o.ID == id {
			o.Status = Cancelled
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}

	switch side {
	case Buy:
		b.bids[key] = queue
		b.removeLevelIfEmpty(Buy, key)
	case Sell:
		b.asks[key] = queue
		b.removeLevelIfEmpty(Sell, key)
	}
	delete(b.orderIndex, id)
	return true
}

// Depth returns the top n aggregated price levels per side, best first.
// n <= 0 means unlimited (every resting level).
func (b *Book) Depth(n int) (bids, asks []PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bidKeys := sortedHeapSnapshot(b.bidHeap, true)
	askKeys := sortedHeapSnapshot(b.askHeap, false)

	for _, p := range bidKeys {
		key := p.String()
		q, ok := b.bids[key]
		if !ok || len(q) == 0 {
			continue
		}
		bids = append(bids, PriceLevel{Price: p, Quantity: levelQty(q)})
		if n > 0 && len(bids) == n {
			break
		}
	}
	for _, p := range askKeys {
		key := p.String()
		q, ok := b.asks[key]
		if !ok || len(q) == 0 {
			continue
		}
		asks = append(asks, PriceLevel{Price: p, Quantity: levelQty(q)})
		if n > 0 && len(asks) == n {
			break
		}
	}
	return bids, asks
}

// EstimateCost walks the ask ladder to estimate the quote notional
// required to fill quantity as a market buy (side=Buy). For side=Sell it
// returns quantity itself without walking the bids, since a market sell
// locks base 1:1.
// Returns InsufficientLiquidity if the resting asks can't fill a buy.
func (b *Book) EstimateCost(side Side, quantity decimal.Decimal) (decimal.Decimal, error) {
	if side == Sell {
		return quantity, nil
	}
	_, asks := b.Depth(0)
	remaining := quantity
	total := decimal.Zero
	for _, lvl := range asks {
		if !remaining.IsPositive() {
			break
		}
		take := remaining
		if lvl.Quantity.LessThan(take) {
			take = lvl.Quantity
		}
		total = total.Add(take.Mul(lvl.Price))
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return decimal.Zero, vegaerr.InsufficientLiquidity("resting book cannot fill requested market quantity")
	}
	return total, nil
}

// Lookup returns the order for id without removing it from the book.
func (b *Book) Lookup(id string) (*Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	loc, ok := b.orderIndex[id]
	if !ok {
		return nil, false
	}
	key := loc.price.String()
	var queue []*Order
	switch loc.side {
	case Buy:
		queue = b.bids[key]
	case Sell:
		queue = b.asks[key]
	}
	for _, o := range queue {
		if o.ID == id {
			return o, true
		}
	}
	return nil, false
}

func levelQty(q []*Order) decimal.Decimal {
	total := decimal.Zero
	for _, o := range q {
		total = total.Add(o.Remaining())
	}
	return total
}

// sortedHeapSnapshot returns the heap's distinct prices in priority
// order without mutating it, used by Depth which only needs a
// read-only view.
func sortedHeapSnapshot(h interface{ Len() int }, _ bool) []decimal.Decimal {
	switch v := h.(type) {
	case maxPriceHeap:
		cp := append(maxPriceHeap{}, v...)
		heap.Init(&cp)
		out := make([]decimal.Decimal, 0, cp.Len())
		for cp.Len() > 0 {
			p := heap.Pop(&cp).(decimal.Decimal)
			if len(out) == 0 || !out[len(out)-1].Equal(p) {
				out = append(out, p)
			}
		}
		return out
	case minPriceHeap:
		cp := append(minPriceHeap{}, v...)
		heap.Init(&cp)
		out := make([]decimal.Decimal, 0, cp.Len())
		for cp.Len() > 0 {
			p := heap.Pop(&cp).(decimal.Decimal)
			if len(out) == 0 || !out[len(out)-1].Equal(p) {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// GetBestBid returns the best (highest) resting bid price. Uses the
// write lock because stale heap entries may be popped in the process.
func (b *Book) GetBestBid() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, q, ok := b.bestBidLevel()
	if !ok {
		return decimal.Zero, false
	}
	return q[0].LimitPrice.Round(b.pricePrec), true
}

// GetBestAsk returns the best (lowest) resting ask price. Uses the
// write lock for the same reason as GetBestBid.
func (b *Book) GetBestAsk() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, q, ok := b.bestAskLevel()
	if !ok {
		return decimal.Zero, false
	}
	return q[0].LimitPrice.Round(b.pricePrec), true
}

// GetMidPrice returns the midpoint of the best bid and ask, or false if
// either side is empty.
func (b *Book) GetMidPrice() (decimal.Decimal, bool) {
	bid, ok := b.GetBestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := b.GetBestAsk()
	if !ok {
		return decimal.Zero, false
	}
	two := decimal.New(2, 0)
	return bid.Add(ask).Div(two), true
}

// GetLastPrice returns the price of the most recent match.
func (b *Book) GetLastPrice() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPrice
}
