package toil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/toil-ledger/generic"
)

// Reference data keys. Schedules are stored one key per user.
const (
	keySchedulePrefix = "toil_schedule:"
	KeyHolidays       = "toil_holidays"
)

// ReferenceData stores the collaborator inputs a recalculation falls back
// to when the caller does not pass them: user schedules and holidays.
// These keys are separate from the ledger collections.
type ReferenceData struct {
	store generic.Store
	mu    sync.Mutex
}

func NewReferenceData(store generic.Store) *ReferenceData {
	return &ReferenceData{store: store}
}

// Schedule returns the stored schedule for userID, or nil if none.
func (r *ReferenceData) Schedule(ctx context.Context, userID string) (*Schedule, error) {
	raw, err := r.store.Get(ctx, keySchedulePrefix+userID)
	if err != nil {
		return nil, &generic.StorageError{Op: generic.OpGet, Key: keySchedulePrefix + userID, Attempts: 1, Err: err}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var s Schedule
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode schedule for %s: %w", userID, err)
	}
	return &s, nil
}

func (r *ReferenceData) SaveSchedule(ctx context.Context, s Schedule) error {
	if s.UserID == "" {
		return inputErr("userId", "required")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	if err := r.store.Put(ctx, keySchedulePrefix+s.UserID, raw); err != nil {
		return &generic.StorageError{Op: generic.OpPut, Key: keySchedulePrefix + s.UserID, Attempts: 1, Err: err}
	}
	return nil
}

// Holidays returns every stored holiday ordered by date.
func (r *ReferenceData) Holidays(ctx context.Context) ([]generic.Holiday, error) {
	raw, err := r.store.Get(ctx, KeyHolidays)
	if err != nil {
		return nil, &generic.StorageError{Op: generic.OpGet, Key: KeyHolidays, Attempts: 1, Err: err}
	}
	var hs []generic.Holiday
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &hs); err != nil {
			return nil, fmt.Errorf("decode holidays: %w", err)
		}
	}
	return hs, nil
}

// SaveHoliday adds h, replacing any holiday already on the same date.
func (r *ReferenceData) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	if h.Date.IsZero() {
		return inputErr("date", "required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	hs, err := r.Holidays(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range hs {
		if hs[i].Date.Equal(h.Date) {
			hs[i] = h
			replaced = true
		}
	}
	if !replaced {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i].Date.Before(hs[j].Date) })

	raw, err := json.Marshal(hs)
	if err != nil {
		return fmt.Errorf("encode holidays: %w", err)
	}
	if err := r.store.Put(ctx, KeyHolidays, raw); err != nil {
		return &generic.StorageError{Op: generic.OpPut, Key: KeyHolidays, Attempts: 1, Err: err}
	}
	return nil
}
