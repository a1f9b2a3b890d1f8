package toil

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/toil-ledger/generic"
)

// =============================================================================
// WORK SCHEDULE - two-week rotating roster
// =============================================================================

// DefaultScheduleAnchor is the Monday that starts fortnight week 1 when a
// schedule does not set its own anchor.
var DefaultScheduleAnchor = generic.NewDay(2024, time.January, 1)

// ScheduleDay is one weekday's rostered hours.
type ScheduleDay struct {
	Working        bool   `json:"working"`
	Start          string `json:"start,omitempty"` // "HH:MM"
	End            string `json:"end,omitempty"`   // "HH:MM"
	LunchBreak     bool   `json:"lunchBreak,omitempty"`
	MorningBreak   bool   `json:"morningBreak,omitempty"`
	AfternoonBreak bool   `json:"afternoonBreak,omitempty"`
}

// Schedule is a user's rotating roster. Weeks[0] is fortnight week 1.
type Schedule struct {
	UserID string                          `json:"userId"`
	Anchor generic.Day                     `json:"anchor"`
	Weeks  [2]map[time.Weekday]ScheduleDay `json:"weeks"`
}

// FortnightWeek returns 1 or 2: which roster week date falls in.
func (s *Schedule) FortnightWeek(date generic.Day) int {
	anchor := DefaultScheduleAnchor
	if s != nil && !s.Anchor.IsZero() {
		anchor = s.Anchor
	}
	days := generic.DaysBetween(anchor, date)
	weeks := days / 7
	if days < 0 && days%7 != 0 {
		weeks--
	}
	return ((weeks%2)+2)%2 + 1
}

// DayFor looks up the roster entry for date.
func (s *Schedule) DayFor(date generic.Day) (ScheduleDay, bool) {
	if s == nil {
		return ScheduleDay{}, false
	}
	week := s.Weeks[s.FortnightWeek(date)-1]
	if week == nil {
		return ScheduleDay{}, false
	}
	d, ok := week[date.Weekday()]
	return d, ok
}

// span returns End-Start in hours, or false when either time is malformed
// or the span is not positive.
func (d ScheduleDay) span() (decimal.Decimal, bool) {
	start, err := time.Parse("15:04", d.Start)
	if err != nil {
		return decimal.Zero, false
	}
	end, err := time.Parse("15:04", d.End)
	if err != nil {
		return decimal.Zero, false
	}
	minutes := int64(end.Sub(start) / time.Minute)
	if minutes <= 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(minutes).Div(decimal.NewFromInt(60)), true
}
