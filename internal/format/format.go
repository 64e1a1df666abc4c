// Package format holds display helpers for prices and volumes.
package format

import (
	"math"

	"github.com/shopspring/decimal"

	"marketwatch/internal/storage"
)

var (
	hundred     = decimal.NewFromInt(100)
	thousand    = decimal.NewFromInt(1_000)
	million     = decimal.NewFromInt(1_000_000)
	billion     = decimal.NewFromInt(1_000_000_000)
	trillion    = decimal.NewFromInt(1_000_000_000_000)
	suggestUp   = decimal.RequireFromString("1.05")
	suggestDown = decimal.RequireFromString("0.95")
)

// PercentChange returns (current-previous)/previous*100. ok is false when previous is zero.
func PercentChange(previous, current decimal.Decimal) (decimal.Decimal, bool) {
	if previous.IsZero() {
		return decimal.Zero, false
	}
	return current.Sub(previous).Div(previous).Mul(hundred), true
}

// Compact renders large magnitudes with K/M/B/T suffixes and two decimals.
func Compact(v decimal.Decimal) string {
	abs := v.Abs()
	switch {
	case abs.GreaterThanOrEqual(trillion):
		return v.Div(trillion).StringFixed(2) + "T"
	case abs.GreaterThanOrEqual(billion):
		return v.Div(billion).StringFixed(2) + "B"
	case abs.GreaterThanOrEqual(million):
		return v.Div(million).StringFixed(2) + "M"
	case abs.GreaterThanOrEqual(thousand):
		return v.Div(thousand).StringFixed(2) + "K"
	default:
		return v.StringFixed(2)
	}
}

// Price renders a price with a dollar sign and two decimals.
func Price(v decimal.Decimal) string {
	return "$" + v.StringFixed(2)
}

// SignedPercent renders a percentage with an explicit sign.
func SignedPercent(v decimal.Decimal) string {
	s := v.StringFixed(2) + "%"
	if v.IsPositive() {
		return "+" + s
	}
	return s
}

// SuggestTarget proposes a target 5% beyond the current price in the alert's direction.
func SuggestTarget(current decimal.Decimal, condition storage.Condition) decimal.Decimal {
	if condition == storage.ConditionBelow {
		return current.Mul(suggestDown).Round(2)
	}
	return current.Mul(suggestUp).Round(2)
}

// Downsample picks at most max evenly spaced indices from [0, n). The first and last
// elements are kept when max >= 2.
func Downsample(n, max int) []int {
	if n <= 0 {
		return nil
	}
	if max <= 0 || n <= max {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	if max == 1 {
		return []int{n - 1}
	}

	result := make([]int, 0, max)
	step := float64(n-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= n {
			idx = n - 1
		}
		result = append(result, idx)
	}
	return result
}
