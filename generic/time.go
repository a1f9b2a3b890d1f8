package generic

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DAY - Calendar day (no time-of-day, always UTC)
// =============================================================================

// DayLayout is the ISO-8601 calendar date layout used on the wire and in storage.
const DayLayout = "2006-01-02"

// MonthYearLayout is the layout of a MonthYear key.
const MonthYearLayout = "2006-01"

// Day is a calendar day. The zero value means "no date".
type Day struct {
	t time.Time
}

// NewDay returns the calendar day for year/month/day.
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates t to its calendar day in t's own location.
func DayOf(t time.Time) Day {
	if t.IsZero() {
		return Day{}
	}
	return NewDay(t.Year(), t.Month(), t.Day())
}

// ParseDay parses "YYYY-MM-DD". A full RFC3339 timestamp is accepted and truncated.
func ParseDay(s string) (Day, error) {
	if t, err := time.Parse(DayLayout, s); err == nil {
		return DayOf(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return DayOf(t), nil
}

func (d Day) Time() time.Time { return d.t }
func (d Day) IsZero() bool { return d.t.IsZero() }
func (d Day) Year() int { return d.t.Year() }
func (d Day) Month() time.Month { return d.t.Month() }
func (d Day) Weekday() time.Weekday { return d.t.Weekday() }
func (d Day) Before(other Day) bool { return d.t.Before(other.t) }
func (d Day) After(other Day) bool { return d.t.After(other.t) }
func (d Day) Equal(other Day) bool { return d.t.Equal(other.t) }
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }
func (d Day) AddMonths(n int) Day { return Day{t: d.t.AddDate(0, n, 0)} }
func (d Day) MonthYear() MonthYear { return MonthYear(d.t.Format(MonthYearLayout)) }
func (d Day) StartOfMonth() Day { return NewDay(d.Year(), d.Month(), 1) }

func (d Day) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DayLayout)
}

// DaysBetween returns the signed number of days from `from` to `to`.
func DaysBetween(from, to Day) int {
	return int(to.t.Sub(from.t).Hours() / 24)
}

func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Day) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Day{}
		return nil
	}
	parsed, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// MONTH YEAR - "YYYY-MM" aggregation bucket
// =============================================================================

type MonthYear string

// ParseMonthYear validates a "YYYY-MM" key.
func ParseMonthYear(s string) (MonthYear, error) {
	t, err := time.Parse(MonthYearLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid month %q (use YYYY-MM)", s)
	}
	return MonthYear(t.Format(MonthYearLayout)), nil
}

func (m MonthYear) String() string { return string(m) }

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

// Holiday is a public or company holiday. Any hours worked on one accrue in full.
type Holiday struct {
	Date Day    `json:"date"`
	Name string `json:"name"`
}

// HolidayCalendar answers holiday lookups.
type HolidayCalendar interface {
	IsHoliday(date Day) bool
}

// HolidayList is a HolidayCalendar backed by a plain list.
type HolidayList []Holiday

func (l HolidayList) IsHoliday(date Day) bool {
	for _, h := range l {
		if h.Date.Equal(date) {
			return true
		}
	}
	return false
}

// IsWorkday reports whether date is neither a weekend nor a holiday.
func IsWorkday(date Day, calendar HolidayCalendar) bool {
	if date.IsWeekend() {
		return false
	}
	if calendar != nil && calendar.IsHoliday(date) {
		return false
	}
	return true
}
