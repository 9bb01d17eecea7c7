package router

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/davidting0918/vegaexchange/pkg/amm"
	"github.com/davidting0918/vegaexchange/pkg/market"
	"github.com/davidting0918/vegaexchange/pkg/storage"
	"github.com/davidting0918/vegaexchange/pkg/util"
	"github.com/davidting0918/vegaexchange/pkg/vegaerr"
)

// SwapResult is the uniform Trade Result shape for AMM swaps (spec.md §4.6).
type SwapResult struct {
	TradeID        string
	Symbol         string
	Side           amm.Side
	InputAmount    decimal.Decimal
	OutputAmount   decimal.Decimal
	FeeAmount      decimal.Decimal
	ExecutionPrice decimal.Decimal
	PriceImpact    decimal.Decimal
}

// Quote computes an AMM swap's achievable output without mutating any
// state. It holds the binding's mutex while quoting, so it reads the
// pool between, never during, mutations.
func (r *Router) Quote(symbol string, side amm.Side, amountIn decimal.Decimal) (amm.Quote, error) {
	b, err := r.bindingFor(symbol)
	if err != nil {
		return amm.Quote{}, err
	}
	if b.pool == nil {
		return amm.Quote{}, vegaerr.SymbolBindingMismatch("symbol is not bound to the AMM engine")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return amm.QuoteInput(b.pool, side, amountIn)
}

// QuoteOutput is the inverse-mode counterpart of Quote: solves for the
// input required to achieve a target output.
func (r *Router) QuoteOutput(symbol string, side amm.Side, amountOut decimal.Decimal) (amm.Quote, error) {
	b, err := r.bindingFor(symbol)
	if err != nil {
		return amm.Quote{}, err
	}
	if b.pool == nil {
		return amm.Quote{}, vegaerr.SymbolBindingMismatch("symbol is not bound to the AMM engine")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return amm.QuoteOutput(b.pool, side, amountOut)
}

// Swap executes a mutating AMM swap for userID under the symbol's lock
// and inside one storage transaction, per spec.md §4.4 operation 2.
func (r *Router) Swap(ctx context.Context, userID, symbol string, side amm.Side, amountIn decimal.Decimal, minAmountOut *decimal.Decimal) (SwapResult, error) {
	b, err := r.bindingFor(symbol)
	if err != nil {
		return SwapResult{}, err
	}
	if b.pool == nil {
		return SwapResult{}, vegaerr.SymbolBindingMismatch("symbol is not bound to the AMM engine")
	}
	sym := b.symbol

	b.mu.Lock()
	defer b.mu.Unlock()

	var result SwapResult
	err = r.store.WithTx(ctx, func(tx *storage.Tx) error {
		q, err := amm.QuoteInput(b.pool, side, amountIn)
		if err != nil {
			return err
		}
		if minAmountOut != nil && q.Output.LessThan(*minAmountOut) {
			return vegaerr.SlippageExceeded("output below min_amount_out")
		}

		inputCurrency, outputCurrency := currenciesForSide(sym, side)

		// Pool reserves keep q's full, unrounded precision (ApplySwap
		// below); quote_amount, fee_amount and output_amount round only
		// at this boundary, where the amount crosses into the ledger and
		// the persisted trade row (spec.md §4.1).
		roundedInput := roundForCurrency(sym, inputCurrency, q.InputGross)
		roundedOutput := roundForCurrency(sym, outputCurrency, q.Output)
		roundedFee := roundForCurrency(sym, inputCurrency, q.FeeAmount)

		if err := r.ledger.Debit(tx, userID, inputCurrency, roundedInput); err != nil {
			return err
		}
		if err := r.ledger.Credit(tx, userID, outputCurrency, roundedOutput); err != nil {
			return err
		}

		amm.ApplySwap(b.pool, q)
		if err := tx.UpsertPool(poolToRow(b.pool)); err != nil {
			return err
		}

		tradeID, err := util.NewTradeID(tx.TradeExists)
		if err != nil {
			return err
		}

		boundary := q
		boundary.InputGross, boundary.Output, boundary.FeeAmount = roundedInput, roundedOutput, roundedFee
		baseQty, quoteAmt, feeAsset := tradeLegsForSwap(boundary, side)
		price := util.Zero
		if baseQty.IsPositive() {
			price = quoteAmt.Div(baseQty)
		}

		if err := tx.InsertTrade(storage.TradeRow{
			ID: tradeID, SymbolID: sym.ID, UserID: userID, Side: int(side),
			EngineKind: int(market.EngineAMM), Price: price, Quantity: baseQty,
			QuoteAmount: quoteAmt, FeeAmount: roundedFee, FeeAsset: feeAsset,
			Status: 0, CreatedAt: r.nowMillis(),
		}); err != nil {
			return err
		}

		result = SwapResult{
			TradeID: tradeID, Symbol: symbol, Side: side,
			InputAmount: roundedInput, OutputAmount: roundedOutput,
			FeeAmount: roundedFee, ExecutionPrice: q.ExecutionPrice, PriceImpact: q.PriceImpact,
		}
		return nil
	})
	if err != nil {
		r.maybeQuarantine(symbol, err)
		return SwapResult{}, err
	}

	r.publish("pool:"+symbol, result)
	r.publish("user", map[string]any{"user_id": userID, "trade": result})
	r.publish("trade", map[string]any{"symbol": symbol, "price": result.ExecutionPrice, "quantity": result.OutputAmount})
	return result, nil
}

// AddLiquidity deposits base/quote into the pool and mints LP shares.
func (r *Router) AddLiquidity(ctx context.Context, userID, symbol string, baseAmount, quoteAmount decimal.Decimal) (amm.LiquidityAdd, error) {
	b, err := r.bindingFor(symbol)
	if err != nil {
		return amm.LiquidityAdd{}, err
	}
	if b.pool == nil {
		return amm.LiquidityAdd{}, vegaerr.SymbolBindingMismatch("symbol is not bound to the AMM engine")
	}
	sym := b.symbol

	b.mu.Lock()
	defer b.mu.Unlock()

	// Read before the transaction opens: the gateway's single connection
	// is held by the transaction until it ends.
	pos, err := r.store.LoadLPPosition(b.pool.ID, userID)
	if err != nil {
		return amm.LiquidityAdd{}, err
	}

	var result amm.LiquidityAdd
	err = r.store.WithTx(ctx, func(tx *storage.Tx) error {
		add, err := amm.AddLiquidity(b.pool, baseAmount, quoteAmount)
		if err != nil {
			return err
		}

		if err := r.ledger.Debit(tx, userID, sym.Base, add.AcceptedBase); err != nil {
			return err
		}
		if err := r.ledger.Debit(tx, userID, sym.Quote, add.AcceptedQuote); err != nil {
			return err
		}
		if err := tx.UpsertPool(poolToRow(b.pool)); err != nil {
			return err
		}

		pos.LPShares = pos.LPShares.Add(add.SharesMinted)
		pos.InitialBase = pos.InitialBase.Add(add.AcceptedBase)
		pos.InitialQuote = pos.InitialQuote.Add(add.AcceptedQuote)
		if err := tx.UpsertLPPosition(pos); err != nil {
			return err
		}

		result = add
		return nil
	})
	if err != nil {
		r.maybeQuarantine(symbol, err)
		return amm.LiquidityAdd{}, err
	}

	r.publish("pool:"+symbol, result)
	r.publish("user", map[string]any{"user_id": userID, "liquidity_add": result})
	return result, nil
}

// RemoveLiquidity burns lpShares and pays out the proportional base/quote.
func (r *Router) RemoveLiquidity(ctx context.Context, userID, symbol string, lpShares decimal.Decimal) (amm.LiquidityRemove, error) {
	b, err := r.bindingFor(symbol)
	if err != nil {
		return amm.LiquidityRemove{}, err
	}
	if b.pool == nil {
		return amm.LiquidityRemove{}, vegaerr.SymbolBindingMismatch("symbol is not bound to the AMM engine")
	}
	sym := b.symbol

	b.mu.Lock()
	defer b.mu.Unlock()

	// Read before the transaction opens: the gateway's single connection
	// is held by the transaction until it ends.
	pos, err := r.store.LoadLPPosition(b.pool.ID, userID)
	if err != nil {
		return amm.LiquidityRemove{}, err
	}

	var result amm.LiquidityRemove
	err = r.store.WithTx(ctx, func(tx *storage.Tx) error {
		if lpShares.GreaterThan(pos.LPShares) {
			return vegaerr.InsufficientFunds("lp_shares exceeds held position")
		}

		payout, err := amm.RemoveLiquidity(b.pool, lpShares)
		if err != nil {
			return err
		}

		if err := r.ledger.Credit(tx, userID, sym.Base, payout.PayoutBase); err != nil {
			return err
		}
		if err := r.ledger.Credit(tx, userID, sym.Quote, payout.PayoutQuote); err != nil {
			return err
		}
		if err := tx.UpsertPool(poolToRow(b.pool)); err != nil {
			return err
		}

		pos.LPShares = pos.LPShares.Sub(lpShares)
		if pos.LPShares.IsPositive() {
			ratio := pos.LPShares.Div(pos.LPShares.Add(lpShares))
			pos.InitialBase = pos.InitialBase.Mul(ratio)
			pos.InitialQuote = pos.InitialQuote.Mul(ratio)
		} else {
			pos.InitialBase, pos.InitialQuote = util.Zero, util.Zero
		}
		if err := tx.UpsertLPPosition(pos); err != nil {
			return err
		}

		result = payout
		return nil
	})
	if err != nil {
		r.maybeQuarantine(symbol, err)
		return amm.LiquidityRemove{}, err
	}

	r.publish("pool:"+symbol, result)
	r.publish("user", map[string]any{"user_id": userID, "liquidity_remove": result})
	return result, nil
}

func currenciesForSide(sym *market.Symbol, side amm.Side) (inputCurrency, outputCurrency string) {
	if side == amm.Buy {
		return sym.Quote, sym.Base
	}
	return sym.Base, sym.Quote
}

// roundForCurrency rounds amount at the precision proper to currency:
// base-denominated amounts at the symbol's quantity precision,
// quote-denominated ones at its price precision.
func roundForCurrency(sym *market.Symbol, currency string, amount decimal.Decimal) decimal.Decimal {
	if currency == sym.Base {
		return util.RoundBank(amount, sym.QtyPrec)
	}
	return util.RoundBank(amount, sym.PricePrec)
}

func tradeLegsForSwap(q amm.Quote, side amm.Side) (baseQty, quoteAmt decimal.Decimal, feeAsset string) {
	if side == amm.Buy {
		return q.Output, q.InputGross, "quote"
	}
	return q.InputGross, q.Output, "base"
}

func poolToRow(p *amm.Pool) storage.PoolRow {
	return storage.PoolRow{
		ID: p.ID, SymbolID: p.SymbolID,
		ReserveBase: p.ReserveBase, ReserveQuote: p.ReserveQuote, K: p.K(), FeeRate: p.FeeRate,
		TotalLPShares: p.TotalLPShares,
		CumulativeVolumeBase: p.CumulativeVolumeBase, CumulativeVolumeQuote: p.CumulativeVolumeQuote,
		CumulativeFees: p.CumulativeFees,
	}
}

func (r *Router) maybeQuarantine(symbol string, err error) {
	if ve, ok := vegaerr.As(err); ok && ve.Kind == vegaerr.Fatal {
		r.quarantine(symbol)
	}
}
