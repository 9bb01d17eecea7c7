// Package market holds the Symbol entity and the registry that resolves
// a symbol string to its static binding metadata (base/quote/settle,
// engine kind, precision, trade bounds).
package market

import (
	"github.com/shopspring/decimal"

	"github.com/davidting0918/vegaexchange/pkg/vegaerr"
)

// EngineKind is the matching engine a symbol is permanently bound to.
type EngineKind int8

const (
	EngineAMM EngineKind = iota
	EngineCLOB
)

func (k EngineKind) String() string {
	if k == EngineAMM {
		return "AMM"
	}
	return "CLOB"
}

// Class is the market instrument class. Only ClassSpot is matched by
// either engine today; see spec.md §9 on non-spot classes.
type Class int8

const (
	ClassSpot Class = iota
	ClassPerp
	ClassOption
	ClassFuture
)

func (c Class) String() string {
	switch c {
	case ClassSpot:
		return "spot"
	case ClassPerp:
		return "perp"
	case ClassOption:
		return "option"
	case ClassFuture:
		return "future"
	default:
		return "unknown"
	}
}

// Status is the trading status of a symbol.
type Status int8

const (
	Active Status = iota
	Paused
	Settled
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Paused:
		return "paused"
	case Settled:
		return "settled"
	default:
		return "unknown"
	}
}

// Symbol is the canonical binding between a tradable instrument and a
// matching engine, per spec.md §3.
type Symbol struct {
	ID         int64
	Symbol     string // canonical "BASE/QUOTE-SETTLE:MARKET" form
	Base       string
	Quote      string
	Settle     string
	Class      Class
	Engine     EngineKind
	Status     Status
	PricePrec  int32 // decimal places for price/quote_amount rounding
	QtyPrec    int32 // decimal places for quantity rounding
	MinTrade   decimal.Decimal
	MaxTrade   decimal.Decimal
	FeeRate    decimal.Decimal // applies to AMM swaps and CLOB fills alike
}

// ValidateQuantity checks a trade quantity against the symbol's bounds.
func (s *Symbol) ValidateQuantity(qty decimal.Decimal) error {
	if qty.Sign() <= 0 {
		return vegaerr.QuantityOutOfBounds("quantity must be positive")
	}
	if s.MinTrade.IsPositive() && qty.LessThan(s.MinTrade) {
		return vegaerr.QuantityOutOfBounds("quantity below minimum trade amount")
	}
	if s.MaxTrade.IsPositive() && qty.GreaterThan(s.MaxTrade) {
		return vegaerr.QuantityOutOfBounds("quantity above maximum trade amount")
	}
	return nil
}
