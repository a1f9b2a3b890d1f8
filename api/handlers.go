/*
handlers.go - HTTP API handlers for the TOIL ledger

PURPOSE:
  Exposes the toil.Service over REST. Handles HTTP request/response and
  JSON serialization, and delegates everything else to the service.

ENDPOINTS:
  Balances:
    GET    /api/toil/users/{userID}/summary?month=YYYY-MM  Monthly summary
    GET    /api/toil/users/{userID}/accruals               Accrual rows
    GET    /api/toil/users/{userID}/usage                  Usage rows

  Timesheet collaborator:
    POST   /api/toil/users/{userID}/recalculate  Recompute one day
    POST   /api/toil/users/{userID}/usage        Record TOIL leave
    DELETE /api/toil/entries/{entryID}           Entry was deleted

  Reference data:
    GET/PUT  /api/toil/users/{userID}/schedule
    GET/POST /api/toil/holidays

  Admin:
    POST   /api/admin/repair    Reconcile tombstones
    POST   /api/admin/expire    Expire old accruals
    POST   /api/admin/cleanup   Remove duplicate rows (?user_id=)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 503: Queue shut down
  - 500: Internal errors
  A recalculation whose job failed answers 202 with status "pending".

SECURITY NOTE:
  Currently NO authentication or authorization. The timesheet service is
  expected to call these endpoints from inside the trusted network.

SEE ALSO:
  - dto.go: Request/response data structures
  - events.go: Server-sent event stream
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/toil-ledger/factory"
	"github.com/warp/toil-ledger/generic"
	"github.com/warp/toil-ledger/toil"
)

// Handler holds API dependencies.
type Handler struct {
	Service         *toil.Service
	ScheduleFactory *factory.ScheduleFactory
	Log             logrus.FieldLogger

	// Now is the clock used by the expiry endpoint.
	Now func() time.Time
}

// NewHandler creates a new handler over svc.
func NewHandler(svc *toil.Service, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Service:         svc,
		ScheduleFactory: factory.NewScheduleFactory(),
		Log:             log.WithField("component", "api"),
		Now:             time.Now,
	}
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetSummary returns the monthly summary, defaulting to the current month.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	month := r.URL.Query().Get("month")
	if month == "" {
		month = string(generic.DayOf(h.Now()).MonthYear())
	}

	summary, err := h.Service.GetSummary(r.Context(), userID, generic.MonthYear(month))
	if err != nil {
		writeServiceError(w, "Failed to get summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// ListAccruals returns the user's accrual rows.
func (h *Handler) ListAccruals(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Service.Accruals(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, "Failed to list accruals", err)
		return
	}
	dtos := make([]AccrualDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toAccrualDTO(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListUsage returns the user's usage rows.
func (h *Handler) ListUsage(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Service.Usage(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, "Failed to list usage", err)
		return
	}
	dtos := make([]UsageDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toUsageDTO(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TIMESHEET HANDLERS
// =============================================================================

// Recalculate recomputes one day's accrual and returns the new summary.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req RecalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := generic.ParseDay(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	calc := toil.Request{UserID: userID, Date: date}
	for _, e := range req.Entries {
		entry, err := e.toEntry(userID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid entry", err)
			return
		}
		calc.Entries = append(calc.Entries, entry)
	}
	if req.Schedule != nil {
		if req.Schedule.UserID == "" {
			req.Schedule.UserID = userID
		}
		sched, err := h.ScheduleFactory.FromJSON(*req.Schedule)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid schedule", err)
			return
		}
		calc.Schedule = sched
	}
	if req.Holidays != nil {
		calc.Holidays = make([]generic.Holiday, 0, len(req.Holidays))
		for _, hd := range req.Holidays {
			holiday, err := hd.toHoliday()
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid holiday", err)
				return
			}
			calc.Holidays = append(calc.Holidays, holiday)
		}
	}

	summary, err := h.Service.RequestAccrualRecalculation(r.Context(), calc)
	if err != nil {
		writeServiceError(w, "Failed to recalculate accrual", err)
		return
	}
	if summary == nil {
		writeJSON(w, http.StatusAccepted, RecalculateResponse{Status: "pending"})
		return
	}
	dto := toSummaryDTO(*summary)
	writeJSON(w, http.StatusOK, RecalculateResponse{Status: "done", Summary: &dto})
}

// RecordUsage records a TOIL leave entry.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req RecordUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	entry, err := req.Entry.toEntry(userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry", err)
		return
	}

	recorded, err := h.Service.RecordUsage(r.Context(), entry)
	if err != nil {
		writeServiceError(w, "Failed to record usage", err)
		return
	}
	status := http.StatusOK
	if !recorded {
		status = http.StatusAccepted
	}
	writeJSON(w, status, RecordUsageResponse{Recorded: recorded})
}

// DeleteEntry removes every ledger row produced by a deleted entry.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	ev := toil.EntryDeleted{
		EntryID: chi.URLParam(r, "entryID"),
		UserID:  r.URL.Query().Get("user_id"),
	}
	res, err := h.Service.DeleteEntry(r.Context(), ev)
	if err != nil {
		writeServiceError(w, "Failed to delete entry", err)
		return
	}
	dto := DeletionDTO{
		EntryID:        res.EntryID,
		AccrualRemoved: res.AccrualRemoved,
		UsageRemoved:   res.UsageRemoved,
		Completed:      res.Completed,
	}
	if !res.Completed {
		writeJSON(w, http.StatusInternalServerError, dto)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// REFERENCE DATA HANDLERS
// =============================================================================

// GetSchedule returns the user's stored roster.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.Service.Schedule(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, "Failed to get schedule", err)
		return
	}
	if sched == nil {
		writeError(w, http.StatusNotFound, "Schedule not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.ScheduleFactory.ToJSON(*sched))
}

// PutSchedule stores the user's roster.
func (h *Handler) PutSchedule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var sj factory.ScheduleJSON
	if err := json.NewDecoder(r.Body).Decode(&sj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if sj.UserID == "" {
		sj.UserID = userID
	}
	if sj.UserID != userID {
		writeError(w, http.StatusBadRequest, "user_id does not match path", nil)
		return
	}
	sched, err := h.ScheduleFactory.FromJSON(sj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid schedule", err)
		return
	}
	if err := h.Service.SaveSchedule(r.Context(), *sched); err != nil {
		writeServiceError(w, "Failed to save schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, h.ScheduleFactory.ToJSON(*sched))
}

// ListHolidays returns all holidays.
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Service.Holidays(r.Context())
	if err != nil {
		writeServiceError(w, "Failed to list holidays", err)
		return
	}
	dtos := make([]HolidayDTO, len(holidays))
	for i, hd := range holidays {
		dtos[i] = HolidayDTO{Date: hd.Date.String(), Name: hd.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateHoliday adds or replaces a holiday.
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req HolidayDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	holiday, err := req.toHoliday()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	if err := h.Service.SaveHoliday(r.Context(), holiday); err != nil {
		writeServiceError(w, "Failed to save holiday", err)
		return
	}
	writeJSON(w, http.StatusCreated, HolidayDTO{Date: holiday.Date.String(), Name: holiday.Name})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Repair reconciles tombstones left by interrupted deletions.
func (h *Handler) Repair(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Repair(r.Context())
	if err != nil {
		writeServiceError(w, "Repair failed", err)
		return
	}
	writeJSON(w, http.StatusOK, RepairDTO{
		AccrualPurged:     res.AccrualPurged,
		UsagePurged:       res.UsagePurged,
		TombstonesCleared: res.TombstonesCleared,
	})
}

// Expire runs the expiry sweep now.
func (h *Handler) Expire(w http.ResponseWriter, r *http.Request) {
	now := h.Now()
	n, err := h.Service.ExpireSweep(r.Context(), now)
	if err != nil {
		writeServiceError(w, "Expiry sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ExpireDTO{Expired: n, Cutoff: h.Service.ExpiryCutoff(now).String()})
}

// Cleanup removes duplicate rows, for one user when ?user_id= is set.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.CleanupDuplicates(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeServiceError(w, "Cleanup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, CleanupDTO{AccrualRemoved: res.AccrualRemoved, UsageRemoved: res.UsageRemoved})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError picks the status for an error from toil.Service.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case toil.IsInputError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, toil.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
