// Package clob implements the price-time-priority central limit order
// book of spec.md §4.5, generalized from the teacher's
// pkg/app/core/orderbook package: same heap-of-price-levels / FIFO
// queue-per-level structure and O(1) cancel, ticks widened to
// decimal.Decimal and the single hardcoded market replaced by a
// per-symbol Book.
package clob

import "github.com/shopspring/decimal"

// Side is the direction of an order.
type Side int8

const (
	Buy Side = iota
	Sell
)

// Type is the order's time-in-force family. Market orders are IOC;
// limit orders are GTC, per spec.md §4.5 operation 2.
type Type int8

const (
	Limit Type = iota
	Market
)

// Status is the order's lifecycle state (spec.md §3, §4.5 state machine).
type Status int8

const (
	Open Status = iota
	Partial
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Partial:
		return "partial"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order is a resting or incoming order on the book.
type Order struct {
	ID          string
	SymbolID    int64
	UserID      string
	Side        Side
	Type        Type
	LimitPrice  decimal.Decimal // zero for market orders
	Quantity    decimal.Decimal
	Filled      decimal.Decimal
	Status      Status
	CreatedAt   int64
	UpdatedAt   int64
	FilledAt    int64
	CancelledAt int64
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal { return o.Quantity.Sub(o.Filled) }

// IsClosed reports whether the order is in a terminal state.
func (o *Order) IsClosed() bool { return o.Status == Filled || o.Status == Cancelled }

// Fill is one match produced by Place. It carries a snapshot of the
// maker order's post-match state so callers can persist it without a
// second lookup into the book.
type Fill struct {
	TakerID        string
	MakerID        string
	TakerUser      string
	MakerUser      string
	TakerSide      Side
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	MakerDone      bool // true if the maker order is now fully filled
	MakerFilled    decimal.Decimal
	MakerQuantity  decimal.Decimal
	MakerStatus    Status
	MakerLimitPrice decimal.Decimal
	MakerCreatedAt int64
	MakerUpdatedAt int64
	MakerFilledAt  int64
}

// PriceLevel is an aggregated depth row.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}
