package toil_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/warp/toil-ledger/generic"
	"github.com/warp/toil-ledger/generic/store"
	"github.com/warp/toil-ledger/toil"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func day(y int, m time.Month, d int) generic.Day { return generic.NewDay(y, m, d) }

func hours(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func quietLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

func newTestLedger(t *testing.T) (*toil.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	log, _ := quietLogger()
	ledger := toil.NewLedger(mem, nil, log, nil, toil.LedgerOptions{RetryBackoff: time.Millisecond})
	return ledger, mem
}

// newTestService builds a started Service over a memory store with short
// queue delays and recency disabled.
func newTestService(t *testing.T, mutate func(*toil.Options)) (*toil.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	log, _ := quietLogger()
	opts := toil.DefaultOptions()
	opts.Logger = log
	opts.QueueDelay = 5 * time.Millisecond
	opts.RecencyWindow = toil.RecencyDisabled
	opts.RetryBackoff = time.Millisecond
	if mutate != nil {
		mutate(&opts)
	}
	svc := toil.New(mem, opts)
	t.Cleanup(func() { svc.Close() })
	return svc, mem
}

func work(id, user string, d generic.Day, h float64) toil.Entry {
	return toil.Entry{ID: id, UserID: user, Date: d, Hours: h, JobCode: "DEV"}
}

func leave(id, user string, d generic.Day, h float64) toil.Entry {
	return toil.Entry{ID: id, UserID: user, Date: d, Hours: h, JobCode: toil.DefaultJobCode}
}

func accrual(user string, d generic.Day, h, source string) toil.AccrualRecord {
	return toil.AccrualRecord{UserID: user, Date: d, Hours: hours(h), SourceEntryID: source}
}

func usage(user string, d generic.Day, h, entry string) toil.UsageRecord {
	return toil.UsageRecord{UserID: user, Date: d, Hours: hours(h), EntryID: entry}
}

// standardWeek rosters Monday-Friday 08:00-16:30 with lunch in both weeks.
func standardWeek(user string) *toil.Schedule {
	week := map[time.Weekday]toil.ScheduleDay{}
	for wd := time.Monday; wd <= time.Friday; wd++ {
		week[wd] = toil.ScheduleDay{Working: true, Start: "08:00", End: "16:30", LunchBreak: true}
	}
	return &toil.Schedule{UserID: user, Weeks: [2]map[time.Weekday]toil.ScheduleDay{week, week}}
}
