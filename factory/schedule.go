/*
Package factory provides JSON to Go work schedule conversion.

PURPOSE:
  Converts JSON roster definitions into toil.Schedule values. Rosters come
  from HR tooling and the admin UI as JSON; the factory validates them and
  fills in defaults so the calculation engine only ever sees a clean
  Schedule.

JSON SCHEMA:
  {
    "user_id": "emp-001",
    "anchor": "2024-01-01",
    "week1": {
      "monday":   {"start": "08:00", "end": "16:30", "lunch": true},
      "tuesday":  {"start": "08:00", "end": "16:30", "lunch": true, "morning_break": true},
      "saturday": {"off": true}
    },
    "week2": { ... }
  }

DEFAULTS:
  - anchor omitted: toil.DefaultScheduleAnchor
  - week2 omitted: same as week1 (a plain weekly roster)
  - weekday omitted: no roster entry; the engine uses its fallback hours

VALIDATION:
  - weekday names must be english day names (any case)
  - start/end must be HH:MM with end after start, unless "off" is set
  - at least one weekday in week1

USAGE:
  f := factory.NewScheduleFactory()
  sched, err := f.ParseSchedule(jsonString)

  // preset
  sched, err := f.ParseSchedule(factory.StandardWeekJSON("emp-001", "09:00", "17:00"))

SEE ALSO:
  - toil/schedule.go: Schedule type and fortnight lookup
  - toil/calculation.go: How scheduled hours are derived
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warp/toil-ledger/generic"
	"github.com/warp/toil-ledger/toil"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ScheduleJSON is the JSON representation of a fortnight roster.
type ScheduleJSON struct {
	UserID string             `json:"user_id"`
	Anchor string             `json:"anchor,omitempty"`
	Week1  map[string]DayJSON `json:"week1"`
	Week2  map[string]DayJSON `json:"week2,omitempty"`
}

// DayJSON is one weekday's roster.
type DayJSON struct {
	Off            bool   `json:"off,omitempty"`
	Start          string `json:"start,omitempty"`
	End            string `json:"end,omitempty"`
	Lunch          bool   `json:"lunch,omitempty"`
	MorningBreak   bool   `json:"morning_break,omitempty"`
	AfternoonBreak bool   `json:"afternoon_break,omitempty"`
}

// =============================================================================
// SCHEDULE FACTORY
// =============================================================================

// ScheduleFactory converts JSON rosters to toil.Schedule.
type ScheduleFactory struct{}

// NewScheduleFactory creates a new schedule factory.
func NewScheduleFactory() *ScheduleFactory {
	return &ScheduleFactory{}
}

// ParseSchedule parses a JSON string into a Schedule.
func (f *ScheduleFactory) ParseSchedule(jsonStr string) (*toil.Schedule, error) {
	var sj ScheduleJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return nil, fmt.Errorf("failed to parse schedule JSON: %w", err)
	}
	return f.FromJSON(sj)
}

// FromJSON converts ScheduleJSON to toil.Schedule.
func (f *ScheduleFactory) FromJSON(sj ScheduleJSON) (*toil.Schedule, error) {
	if sj.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if len(sj.Week1) == 0 {
		return nil, fmt.Errorf("week1 must list at least one weekday")
	}

	sched := &toil.Schedule{UserID: sj.UserID, Anchor: toil.DefaultScheduleAnchor}
	if sj.Anchor != "" {
		anchor, err := generic.ParseDay(sj.Anchor)
		if err != nil {
			return nil, fmt.Errorf("anchor: %w", err)
		}
		sched.Anchor = anchor
	}

	week1, err := parseWeek(sj.Week1)
	if err != nil {
		return nil, fmt.Errorf("week1: %w", err)
	}
	week2 := week1
	if len(sj.Week2) > 0 {
		if week2, err = parseWeek(sj.Week2); err != nil {
			return nil, fmt.Errorf("week2: %w", err)
		}
	}
	sched.Weeks = [2]map[time.Weekday]toil.ScheduleDay{week1, week2}
	return sched, nil
}

// ToJSON converts a Schedule back to its JSON form.
func (f *ScheduleFactory) ToJSON(s toil.Schedule) ScheduleJSON {
	sj := ScheduleJSON{UserID: s.UserID, Anchor: s.Anchor.String()}
	sj.Week1 = weekJSON(s.Weeks[0])
	sj.Week2 = weekJSON(s.Weeks[1])
	return sj
}

// =============================================================================
// PRESETS
// =============================================================================

// StandardWeekJSON is a Monday-Friday roster from start to end with a
// lunch break, the same every week.
func StandardWeekJSON(userID, start, end string) string {
	days := make(map[string]DayJSON, 7)
	for _, d := range []string{"monday", "tuesday", "wednesday", "thursday", "friday"} {
		days[d] = DayJSON{Start: start, End: end, Lunch: true}
	}
	days["saturday"] = DayJSON{Off: true}
	days["sunday"] = DayJSON{Off: true}
	b, _ := json.Marshal(ScheduleJSON{UserID: userID, Week1: days})
	return string(b)
}

// =============================================================================
// HELPERS
// =============================================================================

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeek(days map[string]DayJSON) (map[time.Weekday]toil.ScheduleDay, error) {
	week := make(map[time.Weekday]toil.ScheduleDay, len(days))
	for name, dj := range days {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		day, err := parseDay(dj)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		week[wd] = day
	}
	return week, nil
}

func parseDay(dj DayJSON) (toil.ScheduleDay, error) {
	if dj.Off {
		return toil.ScheduleDay{Working: false}, nil
	}
	start, err := time.Parse("15:04", dj.Start)
	if err != nil {
		return toil.ScheduleDay{}, fmt.Errorf("start %q is not HH:MM", dj.Start)
	}
	end, err := time.Parse("15:04", dj.End)
	if err != nil {
		return toil.ScheduleDay{}, fmt.Errorf("end %q is not HH:MM", dj.End)
	}
	if !end.After(start) {
		return toil.ScheduleDay{}, fmt.Errorf("end %s is not after start %s", dj.End, dj.Start)
	}
	return toil.ScheduleDay{
		Working:        true,
		Start:          start.Format("15:04"),
		End:            end.Format("15:04"),
		LunchBreak:     dj.Lunch,
		MorningBreak:   dj.MorningBreak,
		AfternoonBreak: dj.AfternoonBreak,
	}, nil
}

func weekJSON(week map[time.Weekday]toil.ScheduleDay) map[string]DayJSON {
	if week == nil {
		return nil
	}
	out := make(map[string]DayJSON, len(week))
	for wd, d := range week {
		name := strings.ToLower(wd.String())
		if !d.Working {
			out[name] = DayJSON{Off: true}
			continue
		}
		out[name] = DayJSON{
			Start:          d.Start,
			End:            d.End,
			Lunch:          d.LunchBreak,
			MorningBreak:   d.MorningBreak,
			AfternoonBreak: d.AfternoonBreak,
		}
	}
	return out
}
