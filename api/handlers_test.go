package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/toil-ledger/api"
	"github.com/warp/toil-ledger/factory"
	"github.com/warp/toil-ledger/generic/store"
	"github.com/warp/toil-ledger/toil"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testEnv struct {
	svc     *toil.Service
	handler *api.Handler
	router  http.Handler
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()

	opts := toil.DefaultOptions()
	opts.Logger = log
	opts.Registerer = reg
	opts.QueueDelay = 5 * time.Millisecond
	opts.RecencyWindow = toil.RecencyDisabled
	opts.RetryBackoff = time.Millisecond

	svc := toil.New(store.NewMemory(), opts)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { svc.Close() })

	h := api.NewHandler(svc, log)
	h.Now = func() time.Time { return time.Date(2025, time.March, 20, 12, 0, 0, 0, time.UTC) }
	return &testEnv{
		svc:     svc,
		handler: h,
		router:  api.NewRouter(h, api.RouterConfig{Gatherer: reg}),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// rosterUser stores a Monday-Friday 08:00-16:30 roster with lunch.
func (e *testEnv) rosterUser(t *testing.T, userID string) {
	t.Helper()
	var sj factory.ScheduleJSON
	require.NoError(t, json.Unmarshal([]byte(factory.StandardWeekJSON(userID, "08:00", "16:30")), &sj))
	rec := e.do(t, http.MethodPut, "/api/toil/users/"+userID+"/schedule", sj)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// recalcTuesday books a 9.5h day on Tuesday 2025-03-11 as entry e1.
func (e *testEnv) recalcTuesday(t *testing.T, userID string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/toil/users/"+userID+"/recalculate", api.RecalculateRequest{
		Date: "2025-03-11",
		Entries: []api.EntryDTO{
			{ID: "e1", Date: "2025-03-11", Hours: 9.5, JobCode: "DEV"},
		},
	})
}

// =============================================================================
// BALANCE TESTS
// =============================================================================

func TestGetSummary_EmptyMonth(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/toil/users/u1/summary?month=2025-03", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, api.SummaryDTO{UserID: "u1", MonthYear: "2025-03"}, decode[api.SummaryDTO](t, rec))
}

func TestGetSummary_DefaultsToCurrentMonth(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/toil/users/u1/summary", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-03", decode[api.SummaryDTO](t, rec).MonthYear)
}

func TestGetSummary_BadMonth(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/toil/users/u1/summary?month=March", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode[api.ErrorResponse](t, rec).Error)
}

// =============================================================================
// TIMESHEET TESTS
// =============================================================================

func TestRecalculate_AccruesAgainstStoredRoster(t *testing.T) {
	// GIVEN: a rostered user
	env := setupTestEnv(t)
	env.rosterUser(t, "u1")

	// WHEN: a 9.5h Tuesday is recalculated
	rec := env.recalcTuesday(t, "u1")

	// THEN: one hour accrues and the summary comes back
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.RecalculateResponse](t, rec)
	assert.Equal(t, "done", resp.Status)
	require.NotNil(t, resp.Summary)
	assert.Equal(t, 1.0, resp.Summary.Accrued)
	assert.Equal(t, 1.0, resp.Summary.Remaining)

	rows := decode[[]api.AccrualDTO](t, env.do(t, http.MethodGet, "/api/toil/users/u1/accruals", nil))
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-03-11", rows[0].Date)
	assert.Equal(t, "e1", rows[0].SourceEntryID)
}

func TestRecalculate_InlineSchedule(t *testing.T) {
	// GIVEN: no stored roster, the request carries one
	env := setupTestEnv(t)
	var sj factory.ScheduleJSON
	require.NoError(t, json.Unmarshal([]byte(factory.StandardWeekJSON("", "09:00", "17:00")), &sj))

	// WHEN: recalculating a 9h Wednesday
	rec := env.do(t, http.MethodPost, "/api/toil/users/u1/recalculate", api.RecalculateRequest{
		Date:     "2025-03-12",
		Entries:  []api.EntryDTO{{ID: "e1", Date: "2025-03-12", Hours: 9, JobCode: "DEV"}},
		Schedule: &sj,
	})

	// THEN: the inline roster is used, lunch comes off both sides
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1.0, decode[api.RecalculateResponse](t, rec).Summary.Accrued)
}

func TestRecalculate_BadInput(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"bad date", api.RecalculateRequest{Date: "11/03/2025"}},
		{"bad entry date", api.RecalculateRequest{Date: "2025-03-11", Entries: []api.EntryDTO{{ID: "e1", Date: "x"}}}},
		{"bad holiday", api.RecalculateRequest{Date: "2025-03-11", Holidays: []api.HolidayDTO{{Date: "x"}}}},
		{"not json", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/toil/users/u1/recalculate", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRecordUsage(t *testing.T) {
	// GIVEN: one accrued hour
	env := setupTestEnv(t)
	env.rosterUser(t, "u1")
	require.Equal(t, http.StatusOK, env.recalcTuesday(t, "u1").Code)

	// WHEN: half an hour of TOIL is taken
	rec := env.do(t, http.MethodPost, "/api/toil/users/u1/usage", api.RecordUsageRequest{
		Entry: api.EntryDTO{ID: "l1", Date: "2025-03-14", Hours: 0.5, JobCode: toil.DefaultJobCode},
	})

	// THEN: it is recorded and the balance drops
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[api.RecordUsageResponse](t, rec).Recorded)

	sum := decode[api.SummaryDTO](t, env.do(t, http.MethodGet, "/api/toil/users/u1/summary?month=2025-03", nil))
	assert.Equal(t, 0.5, sum.Used)
	assert.Equal(t, 0.5, sum.Remaining)

	rows := decode[[]api.UsageDTO](t, env.do(t, http.MethodGet, "/api/toil/users/u1/usage", nil))
	require.Len(t, rows, 1)
	assert.Equal(t, "l1", rows[0].EntryID)
}

func TestRecordUsage_MissingEntryID(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/toil/users/u1/usage", api.RecordUsageRequest{
		Entry: api.EntryDTO{Date: "2025-03-14", Hours: 1, JobCode: toil.DefaultJobCode},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteEntry_RemovesAccrual(t *testing.T) {
	// GIVEN: an accrual sourced from e1
	env := setupTestEnv(t)
	env.rosterUser(t, "u1")
	require.Equal(t, http.StatusOK, env.recalcTuesday(t, "u1").Code)

	// WHEN: e1 is deleted
	rec := env.do(t, http.MethodDelete, "/api/toil/entries/e1?user_id=u1", nil)

	// THEN: the accrual row is gone
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[api.DeletionDTO](t, rec)
	assert.True(t, res.Completed)
	assert.Equal(t, 1, res.AccrualRemoved)

	sum := decode[api.SummaryDTO](t, env.do(t, http.MethodGet, "/api/toil/users/u1/summary?month=2025-03", nil))
	assert.Equal(t, 0.0, sum.Accrued)
}

func TestDeleteEntry_UnknownEntry(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/api/toil/entries/nope", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[api.DeletionDTO](t, rec)
	assert.True(t, res.Completed)
	assert.Zero(t, res.AccrualRemoved)
}

// =============================================================================
// REFERENCE DATA TESTS
// =============================================================================

func TestSchedule_PutThenGet(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/toil/users/u1/schedule", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.rosterUser(t, "u1")

	rec = env.do(t, http.MethodGet, "/api/toil/users/u1/schedule", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sj := decode[factory.ScheduleJSON](t, rec)
	assert.Equal(t, "u1", sj.UserID)
	assert.Equal(t, "08:00", sj.Week1["monday"].Start)
	assert.True(t, sj.Week1["sunday"].Off)
}

func TestSchedule_UserMismatch(t *testing.T) {
	env := setupTestEnv(t)
	var sj factory.ScheduleJSON
	require.NoError(t, json.Unmarshal([]byte(factory.StandardWeekJSON("someone-else", "08:00", "16:00")), &sj))

	rec := env.do(t, http.MethodPut, "/api/toil/users/u1/schedule", sj)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHolidays_CreateAndList(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/toil/holidays/", api.HolidayDTO{Date: "2025-04-18", Name: "Good Friday"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/toil/holidays/", api.HolidayDTO{Date: "18 April", Name: "bad"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	list := decode[[]api.HolidayDTO](t, env.do(t, http.MethodGet, "/api/toil/holidays/", nil))
	assert.Equal(t, []api.HolidayDTO{{Date: "2025-04-18", Name: "Good Friday"}}, list)
}

// =============================================================================
// ADMIN & OPS TESTS
// =============================================================================

func TestAdmin_Sweeps(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/admin/repair", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, api.RepairDTO{}, decode[api.RepairDTO](t, rec))

	rec = env.do(t, http.MethodPost, "/api/admin/expire", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exp := decode[api.ExpireDTO](t, rec)
	assert.Equal(t, "2024-03-01", exp.Cutoff)
	assert.Zero(t, exp.Expired)

	rec = env.do(t, http.MethodPost, "/api/admin/cleanup?user_id=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, api.CleanupDTO{}, decode[api.CleanupDTO](t, rec))
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, rec))
}

func TestMetricsEndpoint(t *testing.T) {
	// GIVEN: one summary lookup
	env := setupTestEnv(t)
	env.do(t, http.MethodGet, "/api/toil/users/u1/summary?month=2025-03", nil)

	// WHEN: scraping
	rec := env.do(t, http.MethodGet, "/metrics", nil)

	// THEN: the service's collectors are exposed
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "toil_cache_requests_total")
}

func TestClosedService_Returns503(t *testing.T) {
	env := setupTestEnv(t)
	require.NoError(t, env.svc.Close())

	rec := env.recalcTuesday(t, "u1")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// =============================================================================
// EVENT STREAM TESTS
// =============================================================================

func TestStreamEvents_SummaryChanged(t *testing.T) {
	// GIVEN: a client streaming u1's events
	env := setupTestEnv(t)
	env.rosterUser(t, "u1")
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/toil/events?user_id=u1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, ": connected", lines.Text())

	// WHEN: another user's day and then u1's day change
	env.rosterUser(t, "u2")
	require.Equal(t, http.StatusOK, env.recalcTuesday(t, "u2").Code)
	require.Equal(t, http.StatusOK, env.recalcTuesday(t, "u1").Code)

	// THEN: only u1's summary arrives
	var event, data string
	for lines.Scan() {
		line := lines.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
		if data != "" {
			break
		}
	}
	require.Equal(t, "summary", event)
	var changed toil.SummaryChanged
	require.NoError(t, json.Unmarshal([]byte(data), &changed))
	assert.Equal(t, "u1", changed.UserID)
}
