package toil

import (
	"context"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// DELETION COORDINATOR - two-phase removal of a timesheet entry's rows
// =============================================================================
//
// 1. Track:  tombstone every row referencing the entry and persist the
//            tombstones. Failure aborts; nothing is purged.
// 2. Purge:  physically remove the rows, then sweep duplicates. Failure
//            leaves the tombstones, which keep the rows hidden until the
//            next repair sweep.
// 3. Notify: invalidate and republish each affected summary, only when
//            something was removed.

// DeletionResult reports what deleting one entry did.
type DeletionResult struct {
	EntryID        string       `json:"entryId"`
	AccrualRemoved int          `json:"accrualRemoved"`
	UsageRemoved   int          `json:"usageRemoved"`
	Affected       []SummaryKey `json:"-"`
	// Completed is false when a phase failed; an ErrorEvent was published.
	Completed bool `json:"completed"`
}

// Removed reports whether any ledger row went away.
func (r DeletionResult) Removed() bool { return r.AccrualRemoved+r.UsageRemoved > 0 }

type DeletionCoordinator struct {
	ledger   *Ledger
	cache    *SummaryCache
	notifier *Notifier
	log      logrus.FieldLogger
	metrics  *Metrics
}

func NewDeletionCoordinator(ledger *Ledger, cache *SummaryCache, notifier *Notifier, log logrus.FieldLogger, metrics *Metrics) *DeletionCoordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &DeletionCoordinator{
		ledger:   ledger,
		cache:    cache,
		notifier: notifier,
		log:      log.WithField("component", "deletion"),
		metrics:  metrics,
	}
}

// DeleteByEntry removes every accrual and usage row that references
// ev.EntryID. Only invalid input is returned as an error; ledger failures
// produce Completed=false plus an ErrorEvent.
func (d *DeletionCoordinator) DeleteByEntry(ctx context.Context, ev EntryDeleted) (DeletionResult, error) {
	res := DeletionResult{EntryID: ev.EntryID}
	if ev.EntryID == "" {
		return res, inputErr("entryId", "required")
	}
	log := d.log.WithFields(logrus.Fields{"entry_id": ev.EntryID, "user_id": ev.UserID})

	tomb, err := d.ledger.TrackDeletion(ctx, ev.EntryID)
	if err != nil {
		d.metrics.Deletions.WithLabelValues("track", "error").Inc()
		log.WithError(err).Error("tracking deletion failed, nothing purged")
		d.notifier.PublishError("deletion_track", ev.UserID, err)
		return res, nil
	}
	d.metrics.Deletions.WithLabelValues("track", "ok").Inc()

	del, err := d.ledger.DeleteByEntryID(ctx, ev.EntryID)
	if err != nil {
		d.metrics.Deletions.WithLabelValues("purge", "error").Inc()
		log.WithError(err).WithFields(logrus.Fields{
			"accrual_tombstones": len(tomb.AccrualIDs),
			"usage_tombstones":   len(tomb.UsageIDs),
		}).Error("purge failed, tombstones left for repair")
		d.notifier.PublishError("deletion_purge", ev.UserID, err)
		return res, nil
	}
	d.metrics.Deletions.WithLabelValues("purge", "ok").Inc()
	res.AccrualRemoved, res.UsageRemoved = del.AccrualRemoved, del.UsageRemoved
	res.Completed = true

	affected := map[SummaryKey]bool{}
	for _, k := range del.Affected {
		affected[k] = true
	}
	cleaned, err := d.ledger.CleanupDuplicates(ctx, ev.UserID)
	if err != nil {
		log.WithError(err).Warn("duplicate sweep after deletion failed")
	} else {
		for _, k := range cleaned.Affected {
			affected[k] = true
		}
	}

	if len(affected) == 0 {
		log.Debug("deleted entry had no ledger rows")
		return res, nil
	}
	res.Affected = sortedKeys(affected)
	for _, k := range res.Affected {
		d.cache.Invalidate(k.UserID, k.MonthYear)
		s, err := d.cache.Get(ctx, k.UserID, k.MonthYear)
		if err != nil {
			log.WithError(err).WithField("month_year", k.MonthYear).Warn("summary refresh after deletion failed")
			continue
		}
		d.notifier.PublishSummary(s)
	}
	log.WithFields(logrus.Fields{"accrual_removed": res.AccrualRemoved, "usage_removed": res.UsageRemoved}).Info("entry deleted from ledger")
	return res, nil
}
