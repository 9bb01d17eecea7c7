package util

import "github.com/shopspring/decimal"

// MaxDecimalPlaces matches the persistence layer's DECIMAL(36,18) columns.
const MaxDecimalPlaces = 18

func init() {
	// Engine math keeps full precision internally and rounds only at
	// the persistence boundary (spec.md §4.1); raise shopspring's
	// default division precision to match the 18 fractional digits the
	// schema carries.
	decimal.DivisionPrecision = MaxDecimalPlaces
}

// RoundBank rounds d to places fractional digits using banker's
// rounding (round-half-to-even), the precision boundary spec.md §4.1
// requires for quote_amount, fee_amount and output_amount.
func RoundBank(d decimal.Decimal, places int32) decimal.Decimal {
	return d.RoundBank(places)
}

// RoundDown truncates toward zero at places fractional digits. Used for
// symbol quantity/price precision per spec.md §4.5 (rounding occurs only
// when writing quote_amount and fee_amount, rounded down).
func RoundDown(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Truncate(places)
}

// Zero is the canonical zero decimal, reused to avoid repeated allocation.
var Zero = decimal.Zero

// IsPositive reports whether d > 0.
func IsPositive(d decimal.Decimal) bool { return d.IsPositive() }

// IsNegative reports whether d < 0.
func IsNegative(d decimal.Decimal) bool { return d.IsNegative() }

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
