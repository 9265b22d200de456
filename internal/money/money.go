// Package money performs cent-exact arithmetic on transaction amounts.
//
// Amounts are stored as float64 (the way the bank feeds deliver them); every
// comparison the detectors make goes through decimal so that 57.82 - 47.82 is
// exactly 10.00 and a one-cent rounding difference never looks like a change.
package money

import (
	"github.com/shopspring/decimal"
)

// Tolerance is the rounding slack allowed on every amount comparison.
var Tolerance = decimal.New(1, -2)

// FromFloat converts an amount to a decimal rounded to cents.
func FromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// Abs converts an amount to its absolute value in cents.
func Abs(v float64) decimal.Decimal {
	return FromFloat(v).Abs()
}

// Equal reports whether two amounts are within one cent of each other.
func Equal(a, b float64) bool {
	return FromFloat(a).Sub(FromFloat(b)).Abs().LessThanOrEqual(Tolerance)
}

// Diff returns a - b rounded to cents.
func Diff(a, b float64) decimal.Decimal {
	return FromFloat(a).Sub(FromFloat(b))
}

// Ratio returns part/whole with enough precision for threshold checks.
// A zero whole yields zero.
func Ratio(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.DivRound(whole, 8)
}

// Threshold converts a configured fractional threshold (0.05 = 5%) into a decimal.
func Threshold(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(8)
}

// PercentChange returns (current - baseline) / baseline.
func PercentChange(current, baseline decimal.Decimal) decimal.Decimal {
	return Ratio(current.Sub(baseline), baseline)
}

// Sum adds amounts as cents.
func Sum(values ...float64) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(FromFloat(v))
	}
	return total
}

// Float returns a float64 view of d for storage and display.
func Float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Format renders d as a dollar amount.
func Format(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Abs().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}
