/*
Package generic provides the domain-agnostic primitives the TOIL ledger is
built from.

PURPOSE:
  Calendar days, month buckets, holidays, hour quantities and the key/value
  persistence contract. Nothing in this package knows what TOIL is; the
  toil package layers accrual, usage and summaries on top.

KEY CONCEPTS:
  - Day:       A calendar day without time-of-day (time.go)
  - MonthYear: "YYYY-MM" aggregation key (time.go)
  - Hours:     decimal.Decimal quantities with quarter-hour rounding (this file)
  - Store:     Durable key/value collections (store.go)

DESIGN PRINCIPLES:
  1. Precision: hours are decimal.Decimal, never float64, inside the ledger.
     Floats only appear at the API boundary.
  2. Value types: Day and MonthYear are comparable and usable as map keys.

SEE ALSO:
  - store.go: Persistence interface
  - errors.go: Storage error types
  - toil/calculation.go: Uses RoundToIncrement for quarter-hour rounding
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// HOURS - decimal quantities
// =============================================================================

// MaxDailyHours bounds a single day's accrual or usage.
var MaxDailyHours = decimal.NewFromInt(24)

// HoursFromFloat converts an API float into a decimal hour quantity.
func HoursFromFloat(h float64) decimal.Decimal {
	return decimal.NewFromFloat(h)
}

// RoundToIncrement rounds h to the nearest multiple of increment
// (0.25 gives quarter hours). Halves round away from zero.
func RoundToIncrement(h, increment decimal.Decimal) decimal.Decimal {
	if !increment.IsPositive() {
		return h
	}
	return h.Div(increment).Round(0).Mul(increment)
}

// ValidHours reports whether 0 <= h <= 24.
func ValidHours(h decimal.Decimal) bool {
	return !h.IsNegative() && h.LessThanOrEqual(MaxDailyHours)
}
