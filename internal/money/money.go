// Package money centralizes the minor-unit rounding discipline used
// wherever cyclecalc's per-feature price results are combined: invoice
// totals, credit application, and payment-provider reconciliation.
// Amounts are always integer minor units ("cents"); the only place a
// fractional value is tolerated is cyclecalc.ProrationResult's
// ProrationFactor, by design (spec.md §9).
package money

import "github.com/shopspring/decimal"

// Round converts a decimal major-unit-scaled amount to integer minor
// units, half-away-from-zero.
func Round(amount decimal.Decimal) int64 {
	return amount.Round(0).IntPart()
}

// Sum adds a set of minor-unit amounts.
func Sum(cents ...int64) int64 {
	var total int64
	for _, c := range cents {
		total += c
	}
	return total
}

// Clamp0 floors an amount at zero — used for totalCents = max(0,
// subtotal - amountCreditUsed).
func Clamp0(cents int64) int64 {
	if cents < 0 {
		return 0
	}
	return cents
}

// Min returns the smaller of two minor-unit amounts.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
