/*
calculation.go - Daily TOIL accrual from timesheet entries

PURPOSE:
  Turns one day's timesheet entries into hours of TOIL owed. This is a
  pure function: no I/O, no caching, same inputs give the same answer.
  That is what lets the Queue re-run it for a day as often as it likes.

RULES:
  1. Only entries for the requested user and date count.
  2. TOIL-usage entries (TOIL job code or system-generated) are dropped.
     Counting them would let leave taken inflate leave earned.
  3. No qualifying entries: 0.
  4. Weekend or holiday: every worked hour accrues.
  5. Otherwise: max(0, (worked - breaks) - scheduled). Timesheet hours are
     clock spans that include the rostered breaks, so the breaks come off
     both sides.
  6. Round to the nearest quarter hour; results <= 0.01 are 0.

SCHEDULED HOURS:
  End - Start for the weekday in the user's fortnight roster, minus
  0.5h lunch and 0.25h per short break when flagged. A day rostered off
  (Working=false) schedules 0h. A missing schedule, missing weekday or
  malformed times fall back to 7.6h instead of failing.

EXAMPLE:
  Tuesday, roster 08:00-16:30 with lunch (8.0h), 9.5h worked -> 1.0h
  Saturday, 5h worked                                       -> 5.0h

SEE ALSO:
  - schedule.go: Fortnight roster lookup
  - queue.go: Runs this per (user, date) job
*/
package toil

import (
	"github.com/shopspring/decimal"
	"github.com/warp/toil-ledger/generic"
)

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator holds the tunable constants of the accrual rules.
type Calculator struct {
	FallbackHours decimal.Decimal // scheduled hours when the roster can't answer
	LunchBreak    decimal.Decimal
	ShortBreak    decimal.Decimal
	Increment     decimal.Decimal // rounding step
	Threshold     decimal.Decimal // results at or below this are zero
	JobCode       string          // TOIL leave job code
}

// DefaultCalculator returns the standard rule set.
func DefaultCalculator() Calculator {
	return Calculator{
		FallbackHours: decimal.RequireFromString("7.6"),
		LunchBreak:    decimal.RequireFromString("0.5"),
		ShortBreak:    decimal.RequireFromString("0.25"),
		Increment:     decimal.RequireFromString("0.25"),
		Threshold:     decimal.RequireFromString("0.01"),
		JobCode:       DefaultJobCode,
	}
}

// CalculatorFunc is the signature the Queue calls; tests substitute it.
type CalculatorFunc func(entries []Entry, date generic.Day, userID string, schedule *Schedule, holidays []generic.Holiday) decimal.Decimal

// ComputeDailyAccrual returns the TOIL hours earned by userID on date.
func (c Calculator) ComputeDailyAccrual(entries []Entry, date generic.Day, userID string, schedule *Schedule, holidays []generic.Holiday) decimal.Decimal {
	if userID == "" || date.IsZero() {
		return decimal.Zero
	}

	worked := decimal.Zero
	qualifying := 0
	for _, e := range entries {
		if e.UserID != userID || !e.Date.Equal(date) {
			continue
		}
		if e.IsTOILUsage(c.JobCode) {
			continue
		}
		if e.Hours <= 0 {
			continue
		}
		worked = worked.Add(generic.HoursFromFloat(e.Hours))
		qualifying++
	}
	if qualifying == 0 {
		return decimal.Zero
	}

	var accrued decimal.Decimal
	if !generic.IsWorkday(date, generic.HolidayList(holidays)) {
		accrued = worked
	} else {
		accrued = worked.Sub(c.breakHours(schedule, date)).Sub(c.ScheduledHours(schedule, date))
	}
	if accrued.IsNegative() {
		return decimal.Zero
	}

	accrued = generic.RoundToIncrement(accrued, c.Increment)
	if accrued.LessThanOrEqual(c.Threshold) {
		return decimal.Zero
	}
	if accrued.GreaterThan(generic.MaxDailyHours) {
		accrued = generic.MaxDailyHours
	}
	return accrued
}

// ScheduledHours returns the rostered hours for date net of breaks.
func (c Calculator) ScheduledHours(schedule *Schedule, date generic.Day) decimal.Decimal {
	day, ok := schedule.DayFor(date)
	if !ok {
		return c.FallbackHours
	}
	if !day.Working {
		return decimal.Zero
	}
	span, ok := day.span()
	if !ok {
		return c.FallbackHours
	}
	span = span.Sub(c.deductions(day))
	if span.IsNegative() {
		return decimal.Zero
	}
	return span
}

// breakHours is the break time contained in a rostered working day's
// timesheet hours. Fallback days have no known breaks.
func (c Calculator) breakHours(schedule *Schedule, date generic.Day) decimal.Decimal {
	day, ok := schedule.DayFor(date)
	if !ok || !day.Working {
		return decimal.Zero
	}
	if _, ok := day.span(); !ok {
		return decimal.Zero
	}
	return c.deductions(day)
}

func (c Calculator) deductions(day ScheduleDay) decimal.Decimal {
	total := decimal.Zero
	if day.LunchBreak {
		total = total.Add(c.LunchBreak)
	}
	if day.MorningBreak {
		total = total.Add(c.ShortBreak)
	}
	if day.AfternoonBreak {
		total = total.Add(c.ShortBreak)
	}
	return total
}
