/*
service.go - Service facade owning every TOIL component

PURPOSE:
  One Service is constructed at process start and handed to every
  consumer (HTTP handlers, CLI commands, the sweep scheduler). It owns the
  write lock, ledger, cache, queue, deletion coordinator and notifier, so
  there is no package-level state anywhere in toil.

LIFECYCLE:
  New -> Start (repair sweep, open the queue's ready gate) -> ... -> Close

  Close stops the queue and flushes debounced events. The Store belongs
  to the caller and is not closed here.

OPERATIONS:
  RequestAccrualRecalculation  queue a (user, date) recompute, wait for the summary
  GetSummary                   cached (user, month) summary
  RecordUsage                  upsert a usage row for a TOIL leave entry
  DeleteEntry                  two-phase deletion of an entry's rows
  Repair / CleanupDuplicates   consistency sweeps
  ExpireSweep                  age out old accruals

SEE ALSO:
  - queue.go, deletion.go, ledger.go, cache.go, notifier.go
  - api/handlers.go: HTTP surface over this facade
*/
package toil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/warp/toil-ledger/generic"
)

// Options configures a Service. Zero values take the defaults.
type Options struct {
	Logger     logrus.FieldLogger
	Registerer prometheus.Registerer

	Calculator Calculator
	Calculate  CalculatorFunc // overrides Calculator.ComputeDailyAccrual

	LockTimeout   time.Duration
	QueueDelay    time.Duration
	RecencyWindow time.Duration // zero: 2s; RecencyDisabled: off
	RecencySize   int
	RetryAttempts int
	RetryBackoff  time.Duration
	EventDebounce time.Duration

	// ExpiryMonths is how many whole months an accrual stays in balance
	// before ExpireSweep expires it. Zero or less disables expiry.
	ExpiryMonths int
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		Calculator:    DefaultCalculator(),
		LockTimeout:   DefaultLockTimeout,
		QueueDelay:    100 * time.Millisecond,
		RecencyWindow: 2 * time.Second,
		RecencySize:   1024,
		RetryAttempts: 3,
		RetryBackoff:  50 * time.Millisecond,
		ExpiryMonths:  12,
	}
}

type Service struct {
	log      logrus.FieldLogger
	metrics  *Metrics
	opts     Options
	ledger   *Ledger
	cache    *SummaryCache
	notifier *Notifier
	queue    *Queue
	deletion *DeletionCoordinator
	ref      *ReferenceData

	startOnce sync.Once
	closeOnce sync.Once
}

// New wires a Service over store.
func New(store generic.Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Calculator.Increment.IsZero() {
		opts.Calculator = DefaultCalculator()
	}
	calc := opts.Calculate
	if calc == nil {
		calc = opts.Calculator.ComputeDailyAccrual
	}

	log := opts.Logger
	metrics := NewMetrics(opts.Registerer)
	lock := NewWriteLock(opts.LockTimeout, log, metrics)
	ledger := NewLedger(store, lock, log, metrics, LedgerOptions{
		RetryAttempts: opts.RetryAttempts,
		RetryBackoff:  opts.RetryBackoff,
	})
	cache := NewSummaryCache(ledger, log, metrics)
	notifier := NewNotifier(log, opts.EventDebounce)
	queue := NewQueue(ledger, cache, notifier, calc, log, metrics, QueueOptions{
		Delay:         opts.QueueDelay,
		RecencyWindow: opts.RecencyWindow,
		RecencySize:   opts.RecencySize,
		JobCode:       opts.Calculator.JobCode,
	})

	return &Service{
		log:      log.WithField("component", "service"),
		metrics:  metrics,
		opts:     opts,
		ledger:   ledger,
		cache:    cache,
		notifier: notifier,
		queue:    queue,
		deletion: NewDeletionCoordinator(ledger, cache, notifier, log, metrics),
		ref:      NewReferenceData(store),
	}
}

// Start reconciles leftovers from an interrupted run and opens the queue.
// Recalculations requested before Start wait for it.
func (s *Service) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		if res, err := s.Repair(ctx); err != nil {
			s.log.WithError(err).Warn("startup repair failed, continuing")
		} else if res.TombstonesCleared > 0 {
			s.log.WithField("tombstones", res.TombstonesCleared).Info("startup repair reconciled tombstones")
		}
		s.queue.MarkReady()
		s.queue.Start()
		s.log.Info("TOIL service started")
	})
	return nil
}

// Close stops the queue and flushes pending events.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.queue.Close()
		s.notifier.Close()
		s.log.Info("TOIL service stopped")
	})
	return nil
}

// Metrics exposes the service's collectors.
func (s *Service) Metrics() *Metrics { return s.metrics }

// =============================================================================
// LEDGER OPERATIONS
// =============================================================================

// RequestAccrualRecalculation recomputes one day's accrual through the
// queue. When req carries no schedule or holidays the stored reference
// data is used. A nil summary with nil error means the job failed.
func (s *Service) RequestAccrualRecalculation(ctx context.Context, req Request) (*Summary, error) {
	if req.UserID == "" {
		return nil, inputErr("userId", "required")
	}
	if req.Date.IsZero() {
		return nil, inputErr("date", "required")
	}
	if req.Schedule == nil {
		sched, err := s.ref.Schedule(ctx, req.UserID)
		if err != nil {
			s.log.WithError(err).WithField("user_id", req.UserID).Warn("schedule lookup failed, using fallback hours")
		}
		req.Schedule = sched
	}
	if req.Holidays == nil {
		hs, err := s.ref.Holidays(ctx)
		if err != nil {
			s.log.WithError(err).Warn("holiday lookup failed, treating as none")
		}
		req.Holidays = hs
	}
	return s.queue.Enqueue(ctx, req)
}

// GetSummary returns the (user, month) summary.
func (s *Service) GetSummary(ctx context.Context, userID string, monthYear generic.MonthYear) (Summary, error) {
	return s.cache.Get(ctx, userID, monthYear)
}

// RecordUsage stores entry as TOIL used. Invalid input is returned as an
// error; a ledger failure yields false and an ErrorEvent.
func (s *Service) RecordUsage(ctx context.Context, entry Entry) (bool, error) {
	if entry.ID == "" {
		return false, inputErr("entryId", "required")
	}
	if entry.Hours < 0 || entry.Hours > 24 {
		return false, inputErr("hours", "outside [0, 24]")
	}
	affected, err := s.ledger.StoreUsage(ctx, UsageRecord{
		UserID:  entry.UserID,
		Date:    entry.Date,
		Hours:   generic.HoursFromFloat(entry.Hours),
		EntryID: entry.ID,
	})
	switch {
	case IsInputError(err):
		return false, err
	case errors.Is(err, ErrSourceDeleted):
		s.log.WithField("entry_id", entry.ID).Info("usage for deleted entry ignored")
		return false, nil
	case err != nil:
		s.log.WithError(err).WithField("entry_id", entry.ID).Error("recording usage failed")
		s.notifier.PublishError("record_usage", entry.UserID, err)
		return false, nil
	}
	s.publish(ctx, affected...)
	return true, nil
}

// DeleteEntry runs the two-phase deletion for a removed timesheet entry.
func (s *Service) DeleteEntry(ctx context.Context, ev EntryDeleted) (DeletionResult, error) {
	res, err := s.deletion.DeleteByEntry(ctx, ev)
	if err != nil {
		return res, err
	}
	for _, k := range res.Affected {
		s.queue.ForgetUser(k.UserID)
	}
	if ev.UserID != "" {
		s.queue.ForgetUser(ev.UserID)
	}
	return res, nil
}

// Accruals lists the visible accrual rows for userID.
func (s *Service) Accruals(ctx context.Context, userID string) ([]AccrualRecord, error) {
	return s.ledger.LoadAccrual(ctx, userID)
}

// Usage lists the visible usage rows for userID.
func (s *Service) Usage(ctx context.Context, userID string) ([]UsageRecord, error) {
	return s.ledger.LoadUsage(ctx, userID)
}

// =============================================================================
// SWEEPS
// =============================================================================

// Repair purges rows left tombstoned by an interrupted deletion.
func (s *Service) Repair(ctx context.Context) (RepairResult, error) {
	res, err := s.ledger.Repair(ctx)
	if err != nil {
		return res, err
	}
	s.publish(ctx, res.Affected...)
	return res, nil
}

// CleanupDuplicates removes duplicate rows for userID (all users when empty).
func (s *Service) CleanupDuplicates(ctx context.Context, userID string) (CleanupResult, error) {
	res, err := s.ledger.CleanupDuplicates(ctx, userID)
	if err != nil {
		return res, err
	}
	s.publish(ctx, res.Affected...)
	return res, nil
}

// ExpiryCutoff is the first day still in balance at now.
func (s *Service) ExpiryCutoff(now time.Time) generic.Day {
	return generic.DayOf(now).StartOfMonth().AddMonths(-s.opts.ExpiryMonths)
}

// ExpireSweep expires accruals dated before ExpiryCutoff(now).
func (s *Service) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	if s.opts.ExpiryMonths <= 0 {
		return 0, nil
	}
	cutoff := s.ExpiryCutoff(now)
	n, affected, err := s.ledger.ExpireBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.WithFields(logrus.Fields{"expired": n, "cutoff": cutoff}).Info("expired old accruals")
	}
	s.publish(ctx, affected...)
	return n, nil
}

// =============================================================================
// EVENTS & REFERENCE DATA
// =============================================================================

// Subscribe registers handler for topic.
func (s *Service) Subscribe(topic Topic, handler Handler) (unsubscribe func()) {
	return s.notifier.Subscribe(topic, handler)
}

func (s *Service) Schedule(ctx context.Context, userID string) (*Schedule, error) {
	return s.ref.Schedule(ctx, userID)
}

func (s *Service) SaveSchedule(ctx context.Context, sched Schedule) error {
	return s.ref.SaveSchedule(ctx, sched)
}

func (s *Service) Holidays(ctx context.Context) ([]generic.Holiday, error) {
	return s.ref.Holidays(ctx)
}

func (s *Service) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	return s.ref.SaveHoliday(ctx, h)
}

// publish refreshes and announces each key's summary.
func (s *Service) publish(ctx context.Context, keys ...SummaryKey) {
	for _, k := range keys {
		sum, err := s.cache.Get(ctx, k.UserID, k.MonthYear)
		if err != nil {
			s.log.WithError(err).WithField("key", k.String()).Warn("summary refresh failed")
			continue
		}
		s.notifier.PublishSummary(sum)
	}
}
