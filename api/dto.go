/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the toil domain model from the external API contract: hours are plain
  numbers here and decimals inside the ledger, dates are YYYY-MM-DD
  strings here and generic.Day inside.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Ledger:     SummaryDTO, AccrualDTO, UsageDTO
  Inputs:     EntryDTO, HolidayDTO, RecalculateRequest, RecordUsageRequest
  Operations: DeletionDTO, RepairDTO, CleanupDTO, ExpireDTO

VALIDATION:
  Validation is done in handlers and in the toil package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/schedule.go: ScheduleJSON type
*/
package api

import (
	"fmt"
	"time"

	"github.com/warp/toil-ledger/factory"
	"github.com/warp/toil-ledger/generic"
	"github.com/warp/toil-ledger/toil"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// SummaryDTO is a user's TOIL balance for one month.
type SummaryDTO struct {
	UserID    string  `json:"user_id"`
	MonthYear string  `json:"month_year"`
	Accrued   float64 `json:"accrued"`
	Used      float64 `json:"used"`
	Remaining float64 `json:"remaining"`
}

// AccrualDTO is one accrual row.
type AccrualDTO struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	Date          string  `json:"date"`
	Hours         float64 `json:"hours"`
	MonthYear     string  `json:"month_year"`
	SourceEntryID string  `json:"source_entry_id,omitempty"`
	Status        string  `json:"status"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
}

// UsageDTO is one usage row.
type UsageDTO struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Date      string  `json:"date"`
	Hours     float64 `json:"hours"`
	EntryID   string  `json:"entry_id"`
	MonthYear string  `json:"month_year"`
}

// EntryDTO is a timesheet entry as sent by the timesheet service.
type EntryDTO struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id,omitempty"` // defaults to the path user
	Date      string  `json:"date"`
	Hours     float64 `json:"hours"`
	JobCode   string  `json:"job_code"`
	Synthetic bool    `json:"synthetic,omitempty"`
}

// HolidayDTO is a holiday.
type HolidayDTO struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

// RecalculateRequest asks for one day's accrual to be recomputed. Schedule
// and holidays fall back to the stored reference data when omitted.
type RecalculateRequest struct {
	Date     string                `json:"date"`
	Entries  []EntryDTO            `json:"entries"`
	Schedule *factory.ScheduleJSON `json:"schedule,omitempty"`
	Holidays []HolidayDTO          `json:"holidays,omitempty"`
}

// RecalculateResponse reports the outcome of a recalculation. Summary is
// nil when the job failed and should be retried later.
type RecalculateResponse struct {
	Status  string      `json:"status"` // "done" or "pending"
	Summary *SummaryDTO `json:"summary,omitempty"`
}

// RecordUsageRequest records a TOIL leave entry.
type RecordUsageRequest struct {
	Entry EntryDTO `json:"entry"`
}

// RecordUsageResponse reports whether the usage was stored.
type RecordUsageResponse struct {
	Recorded bool `json:"recorded"`
}

// DeletionDTO reports an entry deletion.
type DeletionDTO struct {
	EntryID        string `json:"entry_id"`
	AccrualRemoved int    `json:"accrual_removed"`
	UsageRemoved   int    `json:"usage_removed"`
	Completed      bool   `json:"completed"`
}

// RepairDTO reports a repair sweep.
type RepairDTO struct {
	AccrualPurged     int `json:"accrual_purged"`
	UsagePurged       int `json:"usage_purged"`
	TombstonesCleared int `json:"tombstones_cleared"`
}

// CleanupDTO reports a duplicate sweep.
type CleanupDTO struct {
	AccrualRemoved int `json:"accrual_removed"`
	UsageRemoved   int `json:"usage_removed"`
}

// ExpireDTO reports an expiry sweep.
type ExpireDTO struct {
	Expired int    `json:"expired"`
	Cutoff  string `json:"cutoff"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toSummaryDTO(s toil.Summary) SummaryDTO {
	return SummaryDTO{
		UserID:    s.UserID,
		MonthYear: string(s.MonthYear),
		Accrued:   s.Accrued,
		Used:      s.Used,
		Remaining: s.Remaining,
	}
}

func toAccrualDTO(r toil.AccrualRecord) AccrualDTO {
	dto := AccrualDTO{
		ID:            r.ID,
		UserID:        r.UserID,
		Date:          r.Date.String(),
		Hours:         r.Hours.InexactFloat64(),
		MonthYear:     string(r.MonthYear),
		SourceEntryID: r.SourceEntryID,
		Status:        string(r.Status),
	}
	if !r.UpdatedAt.IsZero() {
		dto.UpdatedAt = r.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

func toUsageDTO(r toil.UsageRecord) UsageDTO {
	return UsageDTO{
		ID:        r.ID,
		UserID:    r.UserID,
		Date:      r.Date.String(),
		Hours:     r.Hours.InexactFloat64(),
		EntryID:   r.EntryID,
		MonthYear: string(r.MonthYear),
	}
}

func (e EntryDTO) toEntry(defaultUser string) (toil.Entry, error) {
	date, err := generic.ParseDay(e.Date)
	if err != nil {
		return toil.Entry{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	user := e.UserID
	if user == "" {
		user = defaultUser
	}
	return toil.Entry{
		ID:        e.ID,
		UserID:    user,
		Date:      date,
		Hours:     e.Hours,
		JobCode:   e.JobCode,
		Synthetic: e.Synthetic,
	}, nil
}

func (h HolidayDTO) toHoliday() (generic.Holiday, error) {
	date, err := generic.ParseDay(h.Date)
	if err != nil {
		return generic.Holiday{}, err
	}
	return generic.Holiday{Date: date, Name: h.Name}, nil
}
