// Package toil implements the Time-Off-In-Lieu ledger: overtime accrual
// derived from timesheet entries, TOIL leave usage, per-month summaries and
// the cache, queue and deletion protocol that keep them consistent.
package toil

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/toil-ledger/generic"
)

// =============================================================================
// LEDGER RECORDS
// =============================================================================

// AccrualStatus is the lifecycle state of an accrual row.
type AccrualStatus string

const (
	StatusActive  AccrualStatus = "active"
	StatusExpired AccrualStatus = "expired" // set by the expiry sweep, never by deletion
)

// AccrualRecord is the TOIL earned by one user on one calendar day.
// At most one active record exists per (UserID, Date).
type AccrualRecord struct {
	ID            string            `json:"id"`
	UserID        string            `json:"userId"`
	Date          generic.Day       `json:"date"`
	Hours         decimal.Decimal   `json:"hours"`
	MonthYear     generic.MonthYear `json:"monthYear"`
	SourceEntryID string            `json:"sourceEntryId,omitempty"`
	Status        AccrualStatus     `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

func (r AccrualRecord) IsActive() bool { return r.Status == StatusActive || r.Status == "" }

func (r AccrualRecord) key() SummaryKey { return SummaryKey{UserID: r.UserID, MonthYear: r.MonthYear} }

// UsageRecord is TOIL consumed as leave. At most one record exists per EntryID.
type UsageRecord struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Date      generic.Day       `json:"date"`
	Hours     decimal.Decimal   `json:"hours"`
	EntryID   string            `json:"entryId"`
	MonthYear generic.MonthYear `json:"monthYear"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

func (r UsageRecord) key() SummaryKey { return SummaryKey{UserID: r.UserID, MonthYear: r.MonthYear} }

// =============================================================================
// SUMMARY
// =============================================================================

// SummaryKey identifies one cached summary.
type SummaryKey struct {
	UserID    string
	MonthYear generic.MonthYear
}

func (k SummaryKey) String() string { return k.UserID + "/" + string(k.MonthYear) }

// Summary aggregates a user's month. It is derived data: the records are
// authoritative and a Summary can always be rebuilt from them.
type Summary struct {
	UserID    string            `json:"userId"`
	MonthYear generic.MonthYear `json:"monthYear"`
	Accrued   float64           `json:"accrued"`
	Used      float64           `json:"used"`
	Remaining float64           `json:"remaining"`
}

// newSummary computes Remaining as max(0, accrued-used).
func newSummary(key SummaryKey, accrued, used decimal.Decimal) Summary {
	remaining := accrued.Sub(used)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return Summary{
		UserID:    key.UserID,
		MonthYear: key.MonthYear,
		Accrued:   accrued.InexactFloat64(),
		Used:      used.InexactFloat64(),
		Remaining: remaining.InexactFloat64(),
	}
}

// =============================================================================
// COLLABORATOR INPUTS
// =============================================================================

// DefaultJobCode marks timesheet entries that represent TOIL taken as leave.
const DefaultJobCode = "TOIL"

// Entry is a timesheet entry as supplied by the timesheet store.
type Entry struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	Date      generic.Day `json:"date"`
	Hours     float64     `json:"hours"`
	JobCode   string      `json:"jobCode"`
	Synthetic bool        `json:"synthetic,omitempty"` // generated by the system, not typed by the user
}

// IsTOILUsage reports whether the entry books TOIL leave rather than work.
func (e Entry) IsTOILUsage(jobCode string) bool {
	if jobCode == "" {
		jobCode = DefaultJobCode
	}
	return e.Synthetic || strings.EqualFold(strings.TrimSpace(e.JobCode), jobCode)
}

// EntryDeleted is the notification the timesheet store sends when an entry is removed.
type EntryDeleted struct {
	EntryID string `json:"entryId"`
	UserID  string `json:"userId,omitempty"`
}

// Request asks for one day's accrual to be recomputed.
type Request struct {
	UserID   string
	Date     generic.Day
	Entries  []Entry
	Schedule *Schedule
	Holidays []generic.Holiday
}

func (r Request) key() dayKey { return dayKey{UserID: r.UserID, Date: r.Date} }

type dayKey struct {
	UserID string
	Date   generic.Day
}

func (k dayKey) String() string { return k.UserID + "@" + k.Date.String() }
