package generic_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/toil-ledger/generic"
)

// =============================================================================
// DAY
// =============================================================================

func TestParseDay_AcceptsDateAndTimestamp(t *testing.T) {
	d, err := generic.ParseDay("2025-03-11")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-11", d.String())

	d, err = generic.ParseDay("2025-03-11T17:45:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-11", d.String())

	_, err = generic.ParseDay("11/03/2025")
	assert.Error(t, err)
}

func TestDay_JSONRoundTripAndEmpty(t *testing.T) {
	var wrapper struct {
		Date generic.Day `json:"date"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"date":"2025-02-28"}`), &wrapper))
	assert.Equal(t, generic.NewDay(2025, time.February, 28), wrapper.Date)

	raw, err := json.Marshal(wrapper)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2025-02-28"}`, string(raw))

	require.NoError(t, json.Unmarshal([]byte(`{"date":""}`), &wrapper))
	assert.True(t, wrapper.Date.IsZero())
}

func TestDay_MonthYearAndArithmetic(t *testing.T) {
	d := generic.NewDay(2025, time.January, 31)
	assert.Equal(t, generic.MonthYear("2025-01"), d.MonthYear())
	assert.Equal(t, generic.NewDay(2025, time.January, 1), d.StartOfMonth())
	assert.Equal(t, generic.NewDay(2025, time.February, 1), d.AddDays(1))
	assert.Equal(t, 14, generic.DaysBetween(generic.NewDay(2025, time.March, 3), generic.NewDay(2025, time.March, 17)))
	assert.Equal(t, -7, generic.DaysBetween(generic.NewDay(2025, time.March, 10), generic.NewDay(2025, time.March, 3)))
}

func TestParseMonthYear(t *testing.T) {
	m, err := generic.ParseMonthYear("2025-07")
	require.NoError(t, err)
	assert.Equal(t, generic.MonthYear("2025-07"), m)

	_, err = generic.ParseMonthYear("2025-13")
	assert.Error(t, err)
	_, err = generic.ParseMonthYear("July")
	assert.Error(t, err)
}

// =============================================================================
// WORKDAYS
// =============================================================================

func TestIsWorkday_WeekendsAndHolidays(t *testing.T) {
	holidays := generic.HolidayList{{Date: generic.NewDay(2025, time.December, 25), Name: "Christmas Day"}}

	assert.True(t, generic.IsWorkday(generic.NewDay(2025, time.December, 24), holidays), "Wednesday")
	assert.False(t, generic.IsWorkday(generic.NewDay(2025, time.December, 25), holidays), "holiday")
	assert.False(t, generic.IsWorkday(generic.NewDay(2025, time.December, 27), holidays), "Saturday")
	assert.False(t, generic.IsWorkday(generic.NewDay(2025, time.December, 28), nil), "Sunday")
}

// =============================================================================
// HOURS
// =============================================================================

func TestRoundToIncrement_QuarterHours(t *testing.T) {
	q := decimal.RequireFromString("0.25")
	cases := map[string]string{
		"1.1":   "1",
		"1.125": "1.25", // halves round away from zero
		"1.13":  "1.25",
		"1.37":  "1.25",
		"1.38":  "1.5",
		"0.12":  "0",
	}
	for in, want := range cases {
		got := generic.RoundToIncrement(decimal.RequireFromString(in), q)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "%s rounded to %s, want %s", in, got, want)
	}
}

func TestValidHours(t *testing.T) {
	assert.True(t, generic.ValidHours(decimal.Zero))
	assert.True(t, generic.ValidHours(decimal.NewFromInt(24)))
	assert.False(t, generic.ValidHours(decimal.NewFromFloat(24.25)))
	assert.False(t, generic.ValidHours(decimal.NewFromInt(-1)))
}

func TestStorageError_MatchesSentinelAndCause(t *testing.T) {
	err := &generic.StorageError{Op: generic.OpPut, Key: "k", Attempts: 3, Err: generic.ErrInjected}
	assert.True(t, generic.IsStorageError(err))
	assert.ErrorIs(t, err, generic.ErrInjected)
	assert.Contains(t, err.Error(), "3 attempt")
}
