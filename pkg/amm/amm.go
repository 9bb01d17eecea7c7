// Package amm implements the constant-product automated market maker
// of spec.md §4.4: x·y=k swap math with fee-on-input, proportional LP
// mint/burn, and price-impact reporting. New package — the teacher has
// no AMM — grounded on the reserve/fee-rate pool model in
// other_examples' prediction-market AMM and on spec.md's formulas,
// written in the teacher's precondition-then-mutate idiom (see
// orderbook.OrderBook.Place's ValidateOrder-then-match shape).
package amm

import (
	"github.com/shopspring/decimal"

	"github.com/davidting0918/vegaexchange/pkg/vegaerr"
)

// MinLPShares is the permanent floor locked into a pool on first
// deposit, per spec.md §4.4 operation 3.
var MinLPShares = decimal.New(1, -9) // 1e-9

// Side is the direction of a swap from the caller's perspective.
type Side int8

const (
	Buy  Side = iota // caller pays quote, receives base
	Sell             // caller pays base, receives quote
)

// Pool is the in-memory AMM state for one symbol.
type Pool struct {
	ID                    string
	SymbolID              int64
	ReserveBase           decimal.Decimal
	ReserveQuote          decimal.Decimal
	FeeRate               decimal.Decimal
	TotalLPShares         decimal.Decimal
	CumulativeVolumeBase  decimal.Decimal
	CumulativeVolumeQuote decimal.Decimal
	CumulativeFees        decimal.Decimal
}

// K returns the current constant product of the pool's reserves.
func (p *Pool) K() decimal.Decimal {
	return p.ReserveBase.Mul(p.ReserveQuote)
}

// Quote is the pure, non-mutating result of computing a swap.
type Quote struct {
	Side          Side
	InputGross    decimal.Decimal
	InputNet      decimal.Decimal // after fee deduction
	Output        decimal.Decimal
	FeeAmount     decimal.Decimal
	ExecutionPrice decimal.Decimal
	PriceImpact   decimal.Decimal
}

func spotPrice(p *Pool) decimal.Decimal {
	if p.ReserveBase.IsZero() {
		return decimal.Zero
	}
	return p.ReserveQuote.Div(p.ReserveBase)
}

// QuoteInput computes the achievable output for a given input amount,
// without mutating the pool. side=Buy means the input is in quote,
// side=Sell means the input is in base, matching spec.md §4.4.
func QuoteInput(p *Pool, side Side, amountIn decimal.Decimal) (Quote, error) {
	if amountIn.Sign() <= 0 {
		return Quote{}, vegaerr.InvalidAmount("amount_in must be positive")
	}
	if p.ReserveBase.IsZero() || p.ReserveQuote.IsZero() {
		return Quote{}, vegaerr.InsufficientLiquidity("pool has no reserves")
	}

	fee := amountIn.Mul(p.FeeRate)
	netIn := amountIn.Sub(fee)
	spot := spotPrice(p)

	var output decimal.Decimal
	switch side {
	case Buy:
		// base_out = Rb * Qi_eff / (Rq + Qi_eff)
		output = p.ReserveBase.Mul(netIn).Div(p.ReserveQuote.Add(netIn))
		if output.GreaterThanOrEqual(p.ReserveBase) {
			return Quote{}, vegaerr.InsufficientLiquidity("swap would exhaust base reserve")
		}
	case Sell:
		// quote_out = Rq * Bi_eff / (Rb + Bi_eff)
		output = p.ReserveQuote.Mul(netIn).Div(p.ReserveBase.Add(netIn))
		if output.GreaterThanOrEqual(p.ReserveQuote) {
			return Quote{}, vegaerr.InsufficientLiquidity("swap would exhaust quote reserve")
		}
	}

	var execPrice decimal.Decimal
	if side == Buy {
		if output.IsZero() {
			execPrice = decimal.Zero
		} else {
			execPrice = amountIn.Div(output)
		}
	} else {
		if amountIn.IsZero() {
			execPrice = decimal.Zero
		} else {
			execPrice = output.Div(amountIn)
		}
	}

	var impact decimal.Decimal
	if spot.IsPositive() {
		impact = execPrice.Sub(spot).Abs().Div(spot)
	}

	return Quote{
		Side: side, InputGross: amountIn, InputNet: netIn, Output: output,
		FeeAmount: fee, ExecutionPrice: execPrice, PriceImpact: impact,
	}, nil
}

// QuoteOutput solves analytically for the input required to achieve a
// target output (the "inverse mode" of spec.md §4.4 operation 1),
// fee-grossing-up the raw input by dividing by (1 - fee_rate).
func QuoteOutput(p *Pool, side Side, amountOut decimal.Decimal) (Quote, error) {
	if amountOut.Sign() <= 0 {
		return Quote{}, vegaerr.InvalidAmount("amount_out must be positive")
	}
	if p.ReserveBase.IsZero() || p.ReserveQuote.IsZero() {
		return Quote{}, vegaerr.InsufficientLiquidity("pool has no reserves")
	}

	one := decimal.New(1, 0)
	var netIn decimal.Decimal
	switch side {
	case Buy:
		if amountOut.GreaterThanOrEqual(p.ReserveBase) {
			return Quote{}, vegaerr.InsufficientLiquidity("requested output exceeds base reserve")
		}
		// base_out = Rb*netIn/(Rq+netIn) => netIn = Rq*base_out/(Rb-base_out)
		netIn = p.ReserveQuote.Mul(amountOut).Div(p.ReserveBase.Sub(amountOut))
	case Sell:
		if amountOut.GreaterThanOrEqual(p.ReserveQuote) {
			return Quote{}, vegaerr.InsufficientLiquidity("requested output exceeds quote reserve")
		}
		netIn = p.ReserveBase.Mul(amountOut).Div(p.ReserveQuote.Sub(amountOut))
	}

	grossIn := netIn.Div(one.Sub(p.FeeRate))
	fee := grossIn.Sub(netIn)

	var execPrice decimal.Decimal
	if side == Buy {
		execPrice = grossIn.Div(amountOut)
	} else {
		execPrice = amountOut.Div(grossIn)
	}
	spot := spotPrice(p)
	var impact decimal.Decimal
	if spot.IsPositive() {
		impact = execPrice.Sub(spot).Abs().Div(spot)
	}

	return Quote{
		Side: side, InputGross: grossIn, InputNet: netIn, Output: amountOut,
		FeeAmount: fee, ExecutionPrice: execPrice, PriceImpact: impact,
	}, nil
}

// ApplySwap mutates the pool's reserves and cumulative counters after a
// quote has been accepted. The input reserve gains the net (post-fee)
// input and the output reserve loses the output, so k is unchanged apart
// from the rounding of the output's division; the fee is added to
// CumulativeFees only and does not stay in the reserve.
func ApplySwap(p *Pool, q Quote) {
	switch q.Side {
	case Buy:
		p.ReserveQuote = p.ReserveQuote.Add(q.InputNet)
		p.ReserveBase = p.ReserveBase.Sub(q.Output)
		p.CumulativeVolumeQuote = p.CumulativeVolumeQuote.Add(q.InputGross)
		p.CumulativeVolumeBase = p.CumulativeVolumeBase.Add(q.Output)
	case Sell:
		p.ReserveBase = p.ReserveBase.Add(q.InputNet)
		p.ReserveQuote = p.ReserveQuote.Sub(q.Output)
		p.CumulativeVolumeBase = p.CumulativeVolumeBase.Add(q.InputGross)
		p.CumulativeVolumeQuote = p.CumulativeVolumeQuote.Add(q.Output)
	}
	p.CumulativeFees = p.CumulativeFees.Add(q.FeeAmount)
}

// LiquidityAdd is the outcome of AddLiquidity: what was accepted, what
// was refunded, and the shares minted.
type LiquidityAdd struct {
	AcceptedBase  decimal.Decimal
	AcceptedQuote decimal.Decimal
	RefundBase    decimal.Decimal
	RefundQuote   decimal.Decimal
	SharesMinted  decimal.Decimal
}

// AddLiquidity computes and applies a liquidity deposit. On the first
// deposit into an empty pool it mints sqrt(base*quote) shares minus the
// permanent MinLPShares floor. On a non-empty pool, the excess of
// whichever side is over-proportioned is refunded rather than taken —
// see DESIGN.md's Open Question decision on this.
func AddLiquidity(p *Pool, baseAmount, quoteAmount decimal.Decimal) (LiquidityAdd, error) {
	if baseAmount.Sign() <= 0 || quoteAmount.Sign() <= 0 {
		return LiquidityAdd{}, vegaerr.InvalidAmount("base_amount and quote_amount must be positive")
	}

	if p.TotalLPShares.IsZero() {
		shares := sqrtDecimal(baseAmount.Mul(quoteAmount))
		if shares.LessThanOrEqual(MinLPShares) {
			return LiquidityAdd{}, vegaerr.InvalidAmount("initial deposit too small to mint shares above the floor")
		}
		minted := shares.Sub(MinLPShares)

		p.ReserveBase = p.ReserveBase.Add(baseAmount)
		p.ReserveQuote = p.ReserveQuote.Add(quoteAmount)
		p.TotalLPShares = shares

		return LiquidityAdd{
			AcceptedBase: baseAmount, AcceptedQuote: quoteAmount,
			RefundBase: decimal.Zero, RefundQuote: decimal.Zero,
			SharesMinted: minted,
		}, nil
	}

	baseRatio := baseAmount.Div(p.ReserveBase)
	quoteRatio := quoteAmount.Div(p.ReserveQuote)
	ratio := decimalMin(baseRatio, quoteRatio)

	acceptedBase := p.ReserveBase.Mul(ratio)
	acceptedQuote := p.ReserveQuote.Mul(ratio)
	minted := p.TotalLPShares.Mul(ratio)

	p.ReserveBase = p.ReserveBase.Add(acceptedBase)
	p.ReserveQuote = p.ReserveQuote.Add(acceptedQuote)
	p.TotalLPShares = p.TotalLPShares.Add(minted)

	return LiquidityAdd{
		AcceptedBase: acceptedBase, AcceptedQuote: acceptedQuote,
		RefundBase:  baseAmount.Sub(acceptedBase),
		RefundQuote: quoteAmount.Sub(acceptedQuote),
		SharesMinted: minted,
	}, nil
}

// LiquidityRemove is the payout of RemoveLiquidity.
type LiquidityRemove struct {
	PayoutBase  decimal.Decimal
	PayoutQuote decimal.Decimal
}

// RemoveLiquidity burns lpShares from the pool's total and returns the
// proportional base/quote payout, per spec.md §4.4 operation 4.
func RemoveLiquidity(p *Pool, lpShares decimal.Decimal) (LiquidityRemove, error) {
	if lpShares.Sign() <= 0 {
		return LiquidityRemove{}, vegaerr.InvalidAmount("lp_shares must be positive")
	}
	if lpShares.GreaterThan(p.TotalLPShares) {
		return LiquidityRemove{}, vegaerr.InvariantViolation("burn exceeds total_lp_shares")
	}

	share := lpShares.Div(p.TotalLPShares)
	payoutBase := p.ReserveBase.Mul(share)
	payoutQuote := p.ReserveQuote.Mul(share)

	p.ReserveBase = p.ReserveBase.Sub(payoutBase)
	p.ReserveQuote = p.ReserveQuote.Sub(payoutQuote)
	p.TotalLPShares = p.TotalLPShares.Sub(lpShares)

	return LiquidityRemove{PayoutBase: payoutBase, PayoutQuote: payoutQuote}, nil
}

func decimalMin(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// sqrtDecimal computes the square root of a non-negative decimal via
// Newton's method to full working precision.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}
	x := d
	two := decimal.New(2, 0)
	guess := d.Div(two)
	if guess.IsZero() {
		guess = decimal.New(1, 0)
	}
	for i := 0; i < 64; i++ {
		next := guess.Add(x.Div(guess)).Div(two)
		if next.Sub(guess).Abs().LessThan(decimal.New(1, -18)) {
			return next
		}
		guess = next
	}
	return guess
}
