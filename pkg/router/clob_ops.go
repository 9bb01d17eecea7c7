package router

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/davidting0918/vegaexchange/pkg/clob"
	"github.com/davidting0918/vegaexchange/pkg/market"
	"github.com/davidting0918/vegaexchange/pkg/storage"
	"github.com/davidting0918/vegaexchange/pkg/util"
	"github.com/davidting0918/vegaexchange/pkg/vegaerr"
)

// OrderResult is the uniform Trade Result shape for CLOB order
// placement, covering both the order's final state and every fill it
// produced against resting orders.
type OrderResult struct {
	OrderID  string
	Symbol   string
	Status   clob.Status
	Filled   decimal.Decimal
	Quantity decimal.Decimal
	TradeIDs []string
}

func lockCurrencyAndAmount(sym *market.Symbol, book *clob.Book, side clob.Side, typ clob.Type, quantity, limitPrice decimal.Decimal) (currency string, amount decimal.Decimal, err error) {
	switch {
	case typ == clob.Limit && side == clob.Buy:
		return sym.Quote, limitPrice.Mul(quantity), nil
	case typ == clob.Limit && side == clob.Sell:
		return sym.Base, quantity, nil
	case typ == clob.Market && side == clob.Buy:
		cost, err := book.EstimateCost(clob.Buy, quantity)
		if err != nil {
			return "", decimal.Zero, err
		}
		return sym.Quote, cost, nil
	default: // market sell
		return sym.Base, quantity, nil
	}
}

// PlaceOrder validates, locks funds for, and matches an incoming order
// against the symbol's CLOB book, settling every produced fill in the
// ledger inside the same storage transaction as the book mutation
// (spec.md §4.5 operation 2).
func (r *Router) PlaceOrder(ctx context.Context, userID, symbol string, side clob.Side, typ clob.Type, quantity, limitPrice decimal.Decimal) (OrderResult, error) {
	b, err := r.bindingFor(symbol)
	if err != nil {
		return OrderResult{}, err
	}
	if b.book == nil {
		return OrderResult{}, vegaerr.SymbolBindingMismatch("symbol is not bound to the CLOB engine")
	}
	sym := b.symbol
	if err := sym.ValidateQuantity(quantity); err != nil {
		return OrderResult{}, err
	}
	if typ == clob.Limit && !limitPrice.IsPositive() {
		return OrderResult{}, vegaerr.InvalidAmount("limit_price must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	lockCurrency, lockAmount, err := lockCurrencyAndAmount(sym, b.book, side, typ, quantity, limitPrice)
	if err != nil {
		return OrderResult{}, err
	}

	var result OrderResult
	err = r.store.WithTx(ctx, func(tx *storage.Tx) error {
		orderID, err := util.NewOrderID(tx.OrderExists)
		if err != nil {
			return err
		}
		if err := r.ledger.Lock(tx, userID, lockCurrency, lockAmount); err != nil {
			return err
		}

		now := r.nowMillis()
		order := &clob.Order{
			ID: orderID, SymbolID: sym.ID, UserID: userID, Side: side, Type: typ,
			LimitPrice: limitPrice, Quantity: quantity, CreatedAt: now, UpdatedAt: now,
		}

		fills, err := b.book.Place(order, sym)
		if err != nil {
			return err
		}

		tradeIDs := make([]string, 0, len(fills))
		consumed := decimal.Zero
		for _, f := range fills {
			tradeID, err := r.settleFill(tx, sym, f)
			if err != nil {
				return err
			}
			tradeIDs = append(tradeIDs, tradeID)
			if side == clob.Buy {
				consumed = consumed.Add(f.Price.Mul(f.Quantity))
			} else {
				consumed = consumed.Add(f.Quantity)
			}

			makerRow := orderToRow(&clob.Order{
				ID: f.MakerID, SymbolID: sym.ID, UserID: f.MakerUser,
				Side: oppositeSide(side), Type: clob.Limit, LimitPrice: f.MakerLimitPrice,
				Quantity: f.MakerQuantity, Filled: f.MakerFilled, Status: f.MakerStatus,
				CreatedAt: f.MakerCreatedAt, UpdatedAt: f.MakerUpdatedAt, FilledAt: f.MakerFilledAt,
			})
			if err := tx.UpsertOrder(makerRow); err != nil {
				return err
			}
		}

		// A market order discards its unfilled remainder outright, and a
		// limit order that reaches Filled has no remaining quantity left
		// to back a future fill — either way, whatever the lock covered
		// beyond what was actually consumed (e.g. a limit buy crossing at
		// a better price than its own limit) must be returned now, since
		// a Filled order is terminal and CancelOrder refuses terminal
		// orders (no other code path will ever release it).
		if typ == clob.Market || order.Status == clob.Filled {
			unused := lockAmount.Sub(consumed)
			if unused.IsPositive() {
				if err := r.ledger.Unlock(tx, userID, lockCurrency, unused); err != nil {
					return err
				}
			}
		}

		if err := tx.UpsertOrder(orderToRow(order)); err != nil {
			return err
		}

		result = OrderResult{
			OrderID: order.ID, Symbol: symbol, Status: order.Status,
			Filled: order.Filled, Quantity: order.Quantity, TradeIDs: tradeIDs,
		}
		return nil
	})
	if err != nil {
		r.maybeQuarantine(symbol, err)
		return OrderResult{}, err
	}

	r.publish("orderbook:"+symbol, result)
	r.publish("user", map[string]any{"user_id": userID, "order": result})
	return result, nil
}

// settleFill applies the ledger transfer and fee deduction for one fill
// and appends the corresponding trade row, returning the trade id.
func (r *Router) settleFill(tx *storage.Tx, sym *market.Symbol, f clob.Fill) (string, error) {
	quoteAmt := util.RoundDown(f.Price.Mul(f.Quantity), sym.QtyPrec)

	var takerFee, makerFee decimal.Decimal
	if f.TakerSide == clob.Buy {
		// taker pays quote (locked), receives base; maker pays base (locked), receives quote.
		takerFee = util.RoundDown(f.Quantity.Mul(sym.FeeRate), sym.PricePrec)
		makerFee = util.RoundDown(quoteAmt.Mul(sym.FeeRate), sym.PricePrec)

		if err := r.ledger.Settle(tx, f.TakerUser, sym.Quote, quoteAmt); err != nil {
			return "", err
		}
		if err := r.ledger.Credit(tx, f.MakerUser, sym.Quote, quoteAmt.Sub(makerFee)); err != nil {
			return "", err
		}
		if err := r.ledger.Settle(tx, f.MakerUser, sym.Base, f.Quantity); err != nil {
			return "", err
		}
		if err := r.ledger.Credit(tx, f.TakerUser, sym.Base, f.Quantity.Sub(takerFee)); err != nil {
			return "", err
		}
	} else {
		// taker pays base (locked), receives quote; maker pays quote (locked), receives base.
		takerFee = util.RoundDown(quoteAmt.Mul(sym.FeeRate), sym.PricePrec)
		makerFee = util.RoundDown(f.Quantity.Mul(sym.FeeRate), sym.PricePrec)

		if err := r.ledger.Settle(tx, f.TakerUser, sym.Base, f.Quantity); err != nil {
			return "", err
		}
		if err := r.ledger.Credit(tx, f.MakerUser, sym.Base, f.Quantity.Sub(makerFee)); err != nil {
			return "", err
		}
		if err := r.ledger.Settle(tx, f.MakerUser, sym.Quote, quoteAmt); err != nil {
			return "", err
		}
		if err := r.ledger.Credit(tx, f.TakerUser, sym.Quote, quoteAmt.Sub(takerFee)); err != nil {
			return "", err
		}
	}

	tradeID, err := util.NewTradeID(tx.TradeExists)
	if err != nil {
		return "", err
	}
	if err := tx.InsertTrade(storage.TradeRow{
		ID: tradeID, SymbolID: sym.ID, UserID: f.TakerUser, Side: int(f.TakerSide),
		EngineKind: int(market.EngineCLOB), Price: f.Price, Quantity: f.Quantity,
		QuoteAmount: quoteAmt, FeeAmount: takerFee, FeeAsset: feeAssetForSide(sym, f.TakerSide),
		Status: 0, CounterpartyUserID: nullableString(f.MakerUser), CreatedAt: r.nowMillis(),
	}); err != nil {
		return "", err
	}
	return tradeID, nil
}

func feeAssetForSide(sym *market.Symbol, side clob.Side) string {
	if side == clob.Buy {
		return sym.Base
	}
	return sym.Quote
}

func oppositeSide(s clob.Side) clob.Side {
	if s == clob.Buy {
		return clob.Sell
	}
	return clob.Buy
}

// CancelOrder cancels a resting order, unlocking the funds reserved for
// its unfilled remainder. Only the owning user may cancel (spec.md §4.5
// operation 3).
func (r *Router) CancelOrder(ctx context.Context, userID, symbol, orderID string) error {
	b, err := r.bindingFor(symbol)
	if err != nil {
		return err
	}
	if b.book == nil {
		return vegaerr.SymbolBindingMismatch("symbol is not bound to the CLOB engine")
	}
	sym := b.symbol

	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.book.Lookup(orderID)
	if !ok {
		return vegaerr.OrderNotFound(orderID)
	}
	if o.UserID != userID {
		return vegaerr.OrderNotCancellable(orderID)
	}
	if o.IsClosed() {
		return vegaerr.OrderNotCancellable(orderID)
	}

	remaining := o.Remaining()
	var currency string
	if o.Side == clob.Buy {
		currency = sym.Quote
		remaining = o.LimitPrice.Mul(remaining)
	} else {
		currency = sym.Base
	}

	return r.store.WithTx(ctx, func(tx *storage.Tx) error {
		if !b.book.Cancel(orderID) {
			return vegaerr.OrderNotCancellable(orderID)
		}
		o.CancelledAt = r.nowMillis()
		if err := tx.UpsertOrder(orderToRow(o)); err != nil {
			return err
		}
		return r.ledger.Unlock(tx, userID, currency, remaining)
	})
}

// Depth returns the top n aggregated price levels per side for a CLOB symbol.
func (r *Router) Depth(symbol string, n int) (bids, asks []clob.PriceLevel, err error) {
	b, err := r.bindingFor(symbol)
	if err != nil {
		return nil, nil, err
	}
	if b.book == nil {
		return nil, nil, vegaerr.SymbolBindingMismatch("symbol is not bound to the CLOB engine")
	}
	bids, asks = b.book.Depth(n)
	return bids, asks, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
