/*
ledger.go - Ledger Repository over the persistent store

PURPOSE:
  The only component that reads or writes the persisted TOIL collections.
  Everything else (cache, queue, deletion coordinator) goes through here.

COLLECTIONS (one store key each, JSON arrays):
  toil_accrual_records      AccrualRecord rows
  toil_usage_records        UsageRecord rows
  toil_deleted_accrual_ids  tombstoned accrual IDs awaiting purge
  toil_deleted_usage_ids    tombstoned usage IDs awaiting purge

INVARIANTS:
  1. At most one active accrual row per (user, date). Recomputing a day
     merges into the existing row instead of appending.
  2. At most one usage row per timesheet entry.
  3. Tombstoned rows are invisible to every read, even before purge.
  4. Tombstone sets are empty in steady state.

WRITE PATH:
  Every mutation acquires the WriteLock, reloads the collections, applies
  the change and persists before releasing. Multi-collection changes use
  PutBatch so a failure leaves the previous state intact. The lock is
  released on every exit path.

READ PATH:
  LoadAccrual/LoadUsage read straight from the store with no caching.
  Freshness belongs to the SummaryCache.

RETRIES:
  Store calls are retried with a fixed backoff (default 3 attempts, 50ms)
  and then surfaced as generic.StorageError.

RESURRECTION GUARD:
  An entry's ID is remembered once its deletion starts. A recompute that
  finished computing before the deletion but tries to write afterwards
  gets ErrSourceDeleted instead of recreating the purged row.

SEE ALSO:
  - deletion.go: Two-phase track/purge protocol built on TrackDeletion and DeleteByEntryID
  - cache.go: Registers OnChange to invalidate summaries
*/
package toil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/toil-ledger/generic"
)

// Store keys of the persisted collections.
const (
	KeyAccrualRecords   = "toil_accrual_records"
	KeyUsageRecords     = "toil_usage_records"
	KeyDeletedAccrualID = "toil_deleted_accrual_ids"
	KeyDeletedUsageID   = "toil_deleted_usage_ids"
)

// hoursEpsilon is the smallest change worth rewriting a row for.
var hoursEpsilon = decimal.RequireFromString("0.001")

// LedgerOptions tunes retries and the deleted-entry memory.
type LedgerOptions struct {
	RetryAttempts  int
	RetryBackoff   time.Duration
	DeletedEntries int // how many deleted entry IDs to remember
}

func (o LedgerOptions) withDefaults() LedgerOptions {
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 50 * time.Millisecond
	}
	if o.DeletedEntries <= 0 {
		o.DeletedEntries = 4096
	}
	return o
}

// =============================================================================
// RESULT TYPES
// =============================================================================

// Tombstones lists the row IDs marked for deletion by TrackDeletion.
type Tombstones struct {
	AccrualIDs []string
	UsageIDs   []string
}

func (t Tombstones) Empty() bool { return len(t.AccrualIDs) == 0 && len(t.UsageIDs) == 0 }

// DeleteResult reports what DeleteByEntryID physically removed.
type DeleteResult struct {
	AccrualRemoved int
	UsageRemoved   int
	Affected       []SummaryKey
}

// CleanupResult reports duplicates removed by CleanupDuplicates.
type CleanupResult struct {
	AccrualRemoved int
	UsageRemoved   int
	Affected       []SummaryKey
}

// RepairResult reports leftovers reconciled by Repair.
type RepairResult struct {
	AccrualPurged     int
	UsagePurged       int
	TombstonesCleared int
	Affected          []SummaryKey
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is the repository for accrual and usage records.
type Ledger struct {
	store   generic.Store
	lock    *WriteLock
	log     logrus.FieldLogger
	metrics *Metrics
	opts    LedgerOptions
	deleted *lru.Cache[string, time.Time]

	hooksMu sync.RWMutex
	hooks   []func(SummaryKey)
}

func NewLedger(store generic.Store, lock *WriteLock, log logrus.FieldLogger, metrics *Metrics, opts LedgerOptions) *Ledger {
	opts = opts.withDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if lock == nil {
		lock = NewWriteLock(DefaultLockTimeout, log, metrics)
	}
	deleted, _ := lru.New[string, time.Time](opts.DeletedEntries)
	return &Ledger{
		store:   store,
		lock:    lock,
		log:     log.WithField("component", "ledger"),
		metrics: metrics,
		opts:    opts,
		deleted: deleted,
	}
}

// OnChange registers fn to run after every committed write, once per
// affected (user, month).
func (l *Ledger) OnChange(fn func(SummaryKey)) {
	l.hooksMu.Lock()
	defer l.hooksMu.Unlock()
	l.hooks = append(l.hooks, fn)
}

// IsEntryDeleted reports whether entryID has gone through deletion recently.
func (l *Ledger) IsEntryDeleted(entryID string) bool {
	return entryID != "" && l.deleted.Contains(entryID)
}

// =============================================================================
// READS
// =============================================================================

// LoadAccrual returns the visible accrual rows, optionally for one user.
func (l *Ledger) LoadAccrual(ctx context.Context, userID string) ([]AccrualRecord, error) {
	rows, err := l.loadAccrual(ctx)
	if err != nil {
		return nil, err
	}
	tomb, err := l.loadIDSet(ctx, KeyDeletedAccrualID)
	if err != nil {
		return nil, err
	}
	out := make([]AccrualRecord, 0, len(rows))
	for _, r := range rows {
		if tomb[r.ID] || (userID != "" && r.UserID != userID) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadUsage returns the visible usage rows, optionally for one user.
func (l *Ledger) LoadUsage(ctx context.Context, userID string) ([]UsageRecord, error) {
	rows, err := l.loadUsage(ctx)
	if err != nil {
		return nil, err
	}
	tomb, err := l.loadIDSet(ctx, KeyDeletedUsageID)
	if err != nil {
		return nil, err
	}
	out := make([]UsageRecord, 0, len(rows))
	for _, r := range rows {
		if tomb[r.ID] || (userID != "" && r.UserID != userID) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// PendingTombstones returns the raw tombstone sets (steady state: empty).
func (l *Ledger) PendingTombstones(ctx context.Context) (Tombstones, error) {
	acc, err := l.loadIDSet(ctx, KeyDeletedAccrualID)
	if err != nil {
		return Tombstones{}, err
	}
	use, err := l.loadIDSet(ctx, KeyDeletedUsageID)
	if err != nil {
		return Tombstones{}, err
	}
	return Tombstones{AccrualIDs: sortedIDs(acc), UsageIDs: sortedIDs(use)}, nil
}

// =============================================================================
// WRITES
// =============================================================================

// StoreAccrual merges rec into the user's active row for rec.Date, or
// appends it. It reports whether anything was persisted.
func (l *Ledger) StoreAccrual(ctx context.Context, rec AccrualRecord) (bool, error) {
	if err := validateRecord(rec.UserID, rec.Date, rec.Hours); err != nil {
		return false, err
	}
	rec.MonthYear = rec.Date.MonthYear()
	rec.Status = StatusActive

	changed := false
	err := l.withLock(ctx, func() error {
		if l.IsEntryDeleted(rec.SourceEntryID) {
			return ErrSourceDeleted
		}
		rows, err := l.loadAccrual(ctx)
		if err != nil {
			return err
		}
		tomb, err := l.loadIDSet(ctx, KeyDeletedAccrualID)
		if err != nil {
			return err
		}

		active, expired := -1, false
		for i, r := range rows {
			if tomb[r.ID] {
				if rec.SourceEntryID != "" && r.SourceEntryID == rec.SourceEntryID {
					return ErrSourceDeleted
				}
				continue
			}
			if r.UserID != rec.UserID || !r.Date.Equal(rec.Date) {
				continue
			}
			if r.IsActive() {
				active = i
				break
			}
			expired = true
		}

		now := time.Now().UTC()
		switch {
		case active >= 0:
			if rows[active].Hours.Sub(rec.Hours).Abs().LessThanOrEqual(hoursEpsilon) {
				return nil
			}
			rows[active].Hours = rec.Hours
			if rec.SourceEntryID != "" {
				rows[active].SourceEntryID = rec.SourceEntryID
			}
			rows[active].UpdatedAt = now
		case expired:
			// The day's accrual already aged out; recomputing must not revive it.
			l.log.WithFields(logrus.Fields{"user_id": rec.UserID, "date": rec.Date}).Debug("skipping accrual for expired day")
			return nil
		default:
			if rec.ID == "" {
				rec.ID = uuid.NewString()
			}
			rec.CreatedAt, rec.UpdatedAt = now, now
			rows = append(rows, rec)
		}
		if err := l.put(ctx, KeyAccrualRecords, rows); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		l.notify(rec.key())
	}
	return changed, nil
}

// ClearAccrual removes the user's active row for day, if any.
func (l *Ledger) ClearAccrual(ctx context.Context, userID string, day generic.Day) (bool, error) {
	if err := validateRecord(userID, day, decimal.Zero); err != nil {
		return false, err
	}
	removed := false
	err := l.withLock(ctx, func() error {
		rows, err := l.loadAccrual(ctx)
		if err != nil {
			return err
		}
		tomb, err := l.loadIDSet(ctx, KeyDeletedAccrualID)
		if err != nil {
			return err
		}
		kept := rows[:0:0]
		for _, r := range rows {
			if !removed && !tomb[r.ID] && r.IsActive() && r.UserID == userID && r.Date.Equal(day) {
				removed = true
				continue
			}
			kept = append(kept, r)
		}
		if !removed {
			return nil
		}
		return l.put(ctx, KeyAccrualRecords, kept)
	})
	if err != nil {
		return false, err
	}
	if removed {
		l.notify(SummaryKey{UserID: userID, MonthYear: day.MonthYear()})
	}
	return removed, nil
}

// StoreUsage upserts the usage row for rec.EntryID and returns every
// (user, month) whose summary changed: the row's month, plus the month it
// moved out of when the entry was re-dated. Nil means nothing changed.
func (l *Ledger) StoreUsage(ctx context.Context, rec UsageRecord) ([]SummaryKey, error) {
	if err := validateRecord(rec.UserID, rec.Date, rec.Hours); err != nil {
		return nil, err
	}
	if rec.EntryID == "" {
		return nil, inputErr("entryId", "required")
	}
	rec.MonthYear = rec.Date.MonthYear()

	changed := false
	var previous *SummaryKey
	err := l.withLock(ctx, func() error {
		if l.IsEntryDeleted(rec.EntryID) {
			return ErrSourceDeleted
		}
		rows, err := l.loadUsage(ctx)
		if err != nil {
			return err
		}
		tomb, err := l.loadIDSet(ctx, KeyDeletedUsageID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		found := false
		for i, r := range rows {
			if r.EntryID != rec.EntryID {
				continue
			}
			if tomb[r.ID] {
				return ErrSourceDeleted
			}
			found = true
			if r.UserID == rec.UserID && r.Date.Equal(rec.Date) && r.Hours.Sub(rec.Hours).Abs().LessThanOrEqual(hoursEpsilon) {
				return nil
			}
			if r.key() != rec.key() {
				k := r.key()
				previous = &k
			}
			rows[i].UserID = rec.UserID
			rows[i].Date = rec.Date
			rows[i].MonthYear = rec.MonthYear
			rows[i].Hours = rec.Hours
			rows[i].UpdatedAt = now
			break
		}
		if !found {
			if rec.ID == "" {
				rec.ID = uuid.NewString()
			}
			rec.CreatedAt, rec.UpdatedAt = now, now
			rows = append(rows, rec)
		}
		if err := l.put(ctx, KeyUsageRecords, rows); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}
	affected := []SummaryKey{rec.key()}
	if previous != nil {
		affected = append(affected, *previous)
	}
	l.notify(affected...)
	return affected, nil
}

// TrackDeletion is phase one of deletion: it tombstones every row that
// references entryID and persists the tombstone sets. After it returns
// nil those rows are hidden from all reads even if the purge never runs.
func (l *Ledger) TrackDeletion(ctx context.Context, entryID string) (Tombstones, error) {
	if entryID == "" {
		return Tombstones{}, inputErr("entryId", "required")
	}
	var marked Tombstones
	err := l.withLock(ctx, func() error {
		l.deleted.Add(entryID, time.Now())

		accrual, err := l.loadAccrual(ctx)
		if err != nil {
			return err
		}
		usage, err := l.loadUsage(ctx)
		if err != nil {
			return err
		}
		accTomb, err := l.loadIDSet(ctx, KeyDeletedAccrualID)
		if err != nil {
			return err
		}
		useTomb, err := l.loadIDSet(ctx, KeyDeletedUsageID)
		if err != nil {
			return err
		}

		for _, r := range accrual {
			if r.SourceEntryID == entryID {
				marked.AccrualIDs = append(marked.AccrualIDs, r.ID)
				accTomb[r.ID] = true
			}
		}
		for _, r := range usage {
			if r.EntryID == entryID {
				marked.UsageIDs = append(marked.UsageIDs, r.ID)
				useTomb[r.ID] = true
			}
		}
		if marked.Empty() {
			return nil
		}
		batch, err := encodeBatch(map[string]any{
			KeyDeletedAccrualID: sortedIDs(accTomb),
			KeyDeletedUsageID:   sortedIDs(useTomb),
		})
		if err != nil {
			return err
		}
		return l.putBatch(ctx, batch)
	})
	if err != nil {
		return Tombstones{}, err
	}
	return marked, nil
}

// DeleteByEntryID is phase two of deletion: it physically removes every
// row referencing entryID and drops their tombstones, in one batch.
func (l *Ledger) DeleteByEntryID(ctx context.Context, entryID string) (DeleteResult, error) {
	if entryID == "" {
		return DeleteResult{}, inputErr("entryId", "required")
	}
	var res DeleteResult
	err := l.withLock(ctx, func() error {
		l.deleted.Add(entryID, time.Now())

		st, err := l.loadAll(ctx)
		if err != nil {
			return err
		}
		affected := map[SummaryKey]bool{}
		keptAcc := st.accrual[:0:0]
		for _, r := range st.accrual {
			if r.SourceEntryID == entryID {
				res.AccrualRemoved++
				delete(st.accTomb, r.ID)
				affected[r.key()] = true
				continue
			}
			keptAcc = append(keptAcc, r)
		}
		keptUse := st.usage[:0:0]
		for _, r := range st.usage {
			if r.EntryID == entryID {
				res.UsageRemoved++
				delete(st.useTomb, r.ID)
				affected[r.key()] = true
				continue
			}
			keptUse = append(keptUse, r)
		}
		if res.AccrualRemoved == 0 && res.UsageRemoved == 0 {
			return nil
		}
		st.accrual, st.usage = keptAcc, keptUse
		if err := l.saveAll(ctx, st); err != nil {
			res = DeleteResult{}
			return err
		}
		res.Affected = sortedKeys(affected)
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	l.notify(res.Affected...)
	return res, nil
}

// CleanupDuplicates keeps the first active accrual row per (user, date)
// and the first usage row per entry, removing the rest. An empty userID
// sweeps every user.
func (l *Ledger) CleanupDuplicates(ctx context.Context, userID string) (CleanupResult, error) {
	var res CleanupResult
	err := l.withLock(ctx, func() error {
		st, err := l.loadAll(ctx)
		if err != nil {
			return err
		}
		affected := map[SummaryKey]bool{}

		seenDay := map[dayKey]bool{}
		keptAcc := st.accrual[:0:0]
		for _, r := range st.accrual {
			if (userID == "" || r.UserID == userID) && r.IsActive() && !st.accTomb[r.ID] {
				k := dayKey{UserID: r.UserID, Date: r.Date}
				if seenDay[k] {
					res.AccrualRemoved++
					affected[r.key()] = true
					continue
				}
				seenDay[k] = true
			}
			keptAcc = append(keptAcc, r)
		}

		seenEntry := map[string]bool{}
		keptUse := st.usage[:0:0]
		for _, r := range st.usage {
			if (userID == "" || r.UserID == userID) && !st.useTomb[r.ID] {
				if seenEntry[r.EntryID] {
					res.UsageRemoved++
					affected[r.key()] = true
					continue
				}
				seenEntry[r.EntryID] = true
			}
			keptUse = append(keptUse, r)
		}

		if res.AccrualRemoved == 0 && res.UsageRemoved == 0 {
			return nil
		}
		st.accrual, st.usage = keptAcc, keptUse
		if err := l.saveAll(ctx, st); err != nil {
			res = CleanupResult{}
			return err
		}
		res.Affected = sortedKeys(affected)
		return nil
	})
	if err != nil {
		return CleanupResult{}, err
	}
	if res.AccrualRemoved > 0 {
		l.log.WithError(&ConsistencyError{Kind: "duplicate_accrual", UserID: userID, Count: res.AccrualRemoved}).Warn("removed duplicate accrual rows")
	}
	if res.UsageRemoved > 0 {
		l.log.WithError(&ConsistencyError{Kind: "duplicate_usage", UserID: userID, Count: res.UsageRemoved}).Warn("removed duplicate usage rows")
	}
	l.notify(res.Affected...)
	return res, nil
}

// Repair purges rows still named in the tombstone sets (left behind by a
// failed purge) and empties both sets.
func (l *Ledger) Repair(ctx context.Context) (RepairResult, error) {
	var res RepairResult
	err := l.withLock(ctx, func() error {
		st, err := l.loadAll(ctx)
		if err != nil {
			return err
		}
		res.TombstonesCleared = len(st.accTomb) + len(st.useTomb)
		if res.TombstonesCleared == 0 {
			return nil
		}
		affected := map[SummaryKey]bool{}
		keptAcc := st.accrual[:0:0]
		for _, r := range st.accrual {
			if st.accTomb[r.ID] {
				res.AccrualPurged++
				affected[r.key()] = true
				continue
			}
			keptAcc = append(keptAcc, r)
		}
		keptUse := st.usage[:0:0]
		for _, r := range st.usage {
			if st.useTomb[r.ID] {
				res.UsagePurged++
				affected[r.key()] = true
				continue
			}
			keptUse = append(keptUse, r)
		}
		st.accrual, st.usage = keptAcc, keptUse
		st.accTomb, st.useTomb = map[string]bool{}, map[string]bool{}
		if err := l.saveAll(ctx, st); err != nil {
			res = RepairResult{}
			return err
		}
		res.Affected = sortedKeys(affected)
		return nil
	})
	if err != nil {
		return RepairResult{}, err
	}
	if res.TombstonesCleared > 0 {
		l.log.WithError(&ConsistencyError{
			Kind:  "orphaned_tombstone",
			Count: res.TombstonesCleared,
		}).WithFields(logrus.Fields{
			"accrual_purged": res.AccrualPurged,
			"usage_purged":   res.UsagePurged,
		}).Warn("reconciled tombstones left by an interrupted deletion")
	}
	l.notify(res.Affected...)
	return res, nil
}

// ExpireBefore marks active accrual rows dated before cutoff as expired.
func (l *Ledger) ExpireBefore(ctx context.Context, cutoff generic.Day) (int, []SummaryKey, error) {
	if cutoff.IsZero() {
		return 0, nil, inputErr("cutoff", "required")
	}
	expired := 0
	affected := map[SummaryKey]bool{}
	err := l.withLock(ctx, func() error {
		rows, err := l.loadAccrual(ctx)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for i, r := range rows {
			if r.IsActive() && r.Date.Before(cutoff) {
				rows[i].Status = StatusExpired
				rows[i].UpdatedAt = now
				affected[r.key()] = true
				expired++
			}
		}
		if expired == 0 {
			return nil
		}
		if err := l.put(ctx, KeyAccrualRecords, rows); err != nil {
			expired = 0
			affected = map[SummaryKey]bool{}
			return err
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	keys := sortedKeys(affected)
	l.notify(keys...)
	return expired, keys, nil
}

// =============================================================================
// STORE ACCESS (retried)
// =============================================================================

type ledgerState struct {
	accrual []AccrualRecord
	usage   []UsageRecord
	accTomb map[string]bool
	useTomb map[string]bool
}

func (l *Ledger) loadAll(ctx context.Context) (*ledgerState, error) {
	var st ledgerState
	var err error
	if st.accrual, err = l.loadAccrual(ctx); err != nil {
		return nil, err
	}
	if st.usage, err = l.loadUsage(ctx); err != nil {
		return nil, err
	}
	if st.accTomb, err = l.loadIDSet(ctx, KeyDeletedAccrualID); err != nil {
		return nil, err
	}
	if st.useTomb, err = l.loadIDSet(ctx, KeyDeletedUsageID); err != nil {
		return nil, err
	}
	return &st, nil
}

func (l *Ledger) saveAll(ctx context.Context, st *ledgerState) error {
	batch, err := encodeBatch(map[string]any{
		KeyAccrualRecords:   st.accrual,
		KeyUsageRecords:     st.usage,
		KeyDeletedAccrualID: sortedIDs(st.accTomb),
		KeyDeletedUsageID:   sortedIDs(st.useTomb),
	})
	if err != nil {
		return err
	}
	return l.putBatch(ctx, batch)
}

func (l *Ledger) loadAccrual(ctx context.Context) ([]AccrualRecord, error) {
	var rows []AccrualRecord
	err := l.getJSON(ctx, KeyAccrualRecords, &rows)
	return rows, err
}

func (l *Ledger) loadUsage(ctx context.Context) ([]UsageRecord, error) {
	var rows []UsageRecord
	err := l.getJSON(ctx, KeyUsageRecords, &rows)
	return rows, err
}

func (l *Ledger) loadIDSet(ctx context.Context, key string) (map[string]bool, error) {
	var ids []string
	if err := l.getJSON(ctx, key, &ids); err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func (l *Ledger) getJSON(ctx context.Context, key string, v any) error {
	var raw []byte
	err := l.retry(ctx, generic.OpGet, key, func() error {
		var err error
		raw, err = l.store.Get(ctx, key)
		return err
	})
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (l *Ledger) put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return l.retry(ctx, generic.OpPut, key, func() error {
		return l.store.Put(ctx, key, raw)
	})
}

func (l *Ledger) putBatch(ctx context.Context, batch map[string][]byte) error {
	return l.retry(ctx, generic.OpPutBatch, "batch", func() error {
		return l.store.PutBatch(ctx, batch)
	})
}

func (l *Ledger) retry(ctx context.Context, op, key string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= l.opts.RetryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == l.opts.RetryAttempts {
			break
		}
		l.metrics.StorageRetries.Inc()
		l.log.WithError(err).WithFields(logrus.Fields{"op": op, "key": key, "attempt": attempt}).Debug("retrying store operation")
		select {
		case <-time.After(l.opts.RetryBackoff):
		case <-ctx.Done():
			return &generic.StorageError{Op: op, Key: key, Attempts: attempt, Err: ctx.Err()}
		}
	}
	return &generic.StorageError{Op: op, Key: key, Attempts: l.opts.RetryAttempts, Err: err}
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *Ledger) withLock(ctx context.Context, fn func() error) error {
	release, err := l.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	defer release()
	return fn()
}

func (l *Ledger) notify(keys ...SummaryKey) {
	if len(keys) == 0 {
		return
	}
	l.hooksMu.RLock()
	hooks := append([]func(SummaryKey){}, l.hooks...)
	l.hooksMu.RUnlock()
	for _, k := range keys {
		for _, fn := range hooks {
			fn(k)
		}
	}
}

func validateRecord(userID string, date generic.Day, hours decimal.Decimal) error {
	if userID == "" {
		return inputErr("userId", "required")
	}
	if date.IsZero() {
		return inputErr("date", "required")
	}
	if !generic.ValidHours(hours) {
		return inputErr("hours", fmt.Sprintf("%s outside [0, 24]", hours))
	}
	return nil
}

func encodeBatch(values map[string]any) (map[string][]byte, error) {
	batch := make(map[string][]byte, len(values))
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		batch[k] = raw
	}
	return batch, nil
}

func sortedIDs(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedKeys(set map[SummaryKey]bool) []SummaryKey {
	keys := make([]SummaryKey, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
