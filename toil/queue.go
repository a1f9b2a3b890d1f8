/*
queue.go - Calculation Queue for accrual recalculation

PURPOSE:
  Serializes accrual recalculation. Every request for a (user, date) goes
  through one worker goroutine, so two recomputes never race each other
  and a burst of edits to the same day costs one calculation.

STATE MACHINE:
  Idle ──Enqueue──> Scheduled ──delay──> Draining ──empty──> Idle
                                             │
                                             └─new jobs──> Scheduled

  Scheduled waits a short delay (default 100ms) so requests arriving
  together are coalesced. Draining takes a snapshot of the job list and
  runs it strictly in FIFO order, one job at a time. Jobs enqueued while
  draining wait for the next pass.

SUPPRESSION:
  1. Recent:    the (user, date) finished within the recency window
                (default 2s). The caller gets the current summary and the
                calculator is not run. Checked at enqueue and again when
                the job is about to run.
  2. Coalesced: a job for the same (user, date) is already waiting. The
                newer inputs replace the old ones and both callers get the
                same result.

JOB:
  drop entries deleted since the request was built
    -> Calculator
    -> Ledger.StoreAccrual (or ClearAccrual when the day earns nothing)
    -> SummaryCache.Get
    -> Notifier.PublishSummary, only when the write changed something

  A failing job is logged, published as an ErrorEvent and resolves nil.
  It never stops the drain.

READY GATE:
  Nothing drains before MarkReady. Jobs enqueued earlier just wait.

SEE ALSO:
  - calculation.go: The calculator the jobs run
  - ledger.go: IsEntryDeleted and the ErrSourceDeleted guard
*/
package toil

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// RecencyDisabled turns off recency suppression when used as a
// RecencyWindow. A zero RecencyWindow means the 2s default.
const RecencyDisabled time.Duration = -1

// QueueOptions tunes coalescing and suppression.
type QueueOptions struct {
	Delay         time.Duration
	RecencyWindow time.Duration // zero: 2s; RecencyDisabled: off
	RecencySize   int
	JobCode       string
}

func (o QueueOptions) withDefaults() QueueOptions {
	if o.Delay <= 0 {
		o.Delay = 100 * time.Millisecond
	}
	if o.RecencyWindow < 0 {
		o.RecencyWindow = 0
	} else if o.RecencyWindow == 0 {
		o.RecencyWindow = 2 * time.Second
	}
	if o.RecencySize <= 0 {
		o.RecencySize = 1024
	}
	if o.JobCode == "" {
		o.JobCode = DefaultJobCode
	}
	return o
}

type queueState int

const (
	stateIdle queueState = iota
	stateScheduled
	stateDraining
)

func (s queueState) String() string {
	switch s {
	case stateScheduled:
		return "scheduled"
	case stateDraining:
		return "draining"
	default:
		return "idle"
	}
}

type jobResult struct {
	summary *Summary
	err     error
}

type job struct {
	req     Request
	waiters []chan jobResult
}

func (j *job) resolve(r jobResult) {
	for _, w := range j.waiters {
		w <- r
	}
}

// =============================================================================
// QUEUE
// =============================================================================

// Queue runs accrual recalculations on a single worker goroutine.
type Queue struct {
	ledger   *Ledger
	cache    *SummaryCache
	notifier *Notifier
	calc     CalculatorFunc
	log      logrus.FieldLogger
	metrics  *Metrics
	opts     QueueOptions

	mu      sync.Mutex
	state   queueState
	jobs    []*job
	pending map[dayKey]*job
	recent  *lru.Cache[dayKey, time.Time]
	closed  bool

	wake      chan struct{}
	ready     chan struct{}
	done      chan struct{}
	readyOnce sync.Once
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewQueue(ledger *Ledger, cache *SummaryCache, notifier *Notifier, calc CalculatorFunc, log logrus.FieldLogger, metrics *Metrics, opts QueueOptions) *Queue {
	opts = opts.withDefaults()
	if calc == nil {
		calc = DefaultCalculator().ComputeDailyAccrual
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	recent, _ := lru.New[dayKey, time.Time](opts.RecencySize)
	return &Queue{
		ledger:   ledger,
		cache:    cache,
		notifier: notifier,
		calc:     calc,
		log:      log.WithField("component", "queue"),
		metrics:  metrics,
		opts:     opts,
		pending:  make(map[dayKey]*job),
		recent:   recent,
		wake:     make(chan struct{}, 1),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the worker. It is safe to call more than once.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		q.wg.Add(1)
		go q.run()
	})
}

// MarkReady opens the ready gate.
func (q *Queue) MarkReady() {
	q.readyOnce.Do(func() { close(q.ready) })
}

// Enqueue requests a recalculation of req.Date and waits for its result.
// A nil summary with a nil error means the job failed; try again later.
func (q *Queue) Enqueue(ctx context.Context, req Request) (*Summary, error) {
	if req.UserID == "" {
		return nil, inputErr("userId", "required")
	}
	if req.Date.IsZero() {
		return nil, inputErr("date", "required")
	}
	key := req.key()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	if q.isRecentLocked(key) {
		q.mu.Unlock()
		q.metrics.QueueSuppressed.WithLabelValues("recent").Inc()
		return q.currentSummary(ctx, req), nil
	}

	ch := make(chan jobResult, 1)
	if j, ok := q.pending[key]; ok {
		j.req = req
		j.waiters = append(j.waiters, ch)
		q.metrics.QueueSuppressed.WithLabelValues("coalesced").Inc()
	} else {
		j := &job{req: req, waiters: []chan jobResult{ch}}
		q.jobs = append(q.jobs, j)
		q.pending[key] = j
		q.metrics.QueueDepth.Set(float64(len(q.jobs)))
	}
	if q.state == stateIdle {
		q.state = stateScheduled
		q.signal()
	}
	q.mu.Unlock()

	select {
	case r := <-ch:
		return r.summary, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ForgetUser clears the recency memory for userID so the next request for
// any of their days is recomputed.
func (q *Queue) ForgetUser(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, k := range q.recent.Keys() {
		if k.UserID == userID {
			q.recent.Remove(k)
		}
	}
}

// Close stops the worker after the job in progress. Jobs that never ran
// resolve with ErrQueueClosed.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()

		close(q.done)
		q.wg.Wait()

		q.mu.Lock()
		left := q.jobs
		q.jobs = nil
		q.pending = make(map[dayKey]*job)
		q.state = stateIdle
		q.mu.Unlock()
		q.metrics.QueueDepth.Set(0)
		for _, j := range left {
			j.resolve(jobResult{err: ErrQueueClosed})
		}
	})
}

// =============================================================================
// WORKER
// =============================================================================

func (q *Queue) run() {
	defer q.wg.Done()

	select {
	case <-q.ready:
	case <-q.done:
		return
	}
	q.log.Debug("queue ready")

	for {
		select {
		case <-q.wake:
		case <-q.done:
			return
		}

		timer := time.NewTimer(q.opts.Delay)
		select {
		case <-timer.C:
		case <-q.done:
			timer.Stop()
			return
		}
		q.drain()
	}
}

func (q *Queue) drain() {
	q.mu.Lock()
	batch := q.jobs
	q.jobs = nil
	for _, j := range batch {
		delete(q.pending, j.req.key())
	}
	q.state = stateDraining
	q.metrics.QueueDepth.Set(0)
	q.mu.Unlock()

	for i, j := range batch {
		select {
		case <-q.done:
			for _, rest := range batch[i:] {
				rest.resolve(jobResult{err: ErrQueueClosed})
			}
			return
		default:
		}
		j.resolve(jobResult{summary: q.process(j.req)})
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) > 0 {
		q.state = stateScheduled
		q.signal()
		return
	}
	q.state = stateIdle
}

// process runs one job. Jobs are not tied to any caller's context: a
// caller that stops waiting does not cancel the write.
func (q *Queue) process(req Request) *Summary {
	ctx := context.Background()
	key := req.key()
	log := q.log.WithFields(logrus.Fields{"user_id": req.UserID, "date": req.Date})

	q.mu.Lock()
	recent := q.isRecentLocked(key)
	q.mu.Unlock()
	if recent {
		q.metrics.QueueSuppressed.WithLabelValues("recent").Inc()
		return q.currentSummary(ctx, req)
	}

	entries := make([]Entry, 0, len(req.Entries))
	for _, e := range req.Entries {
		if q.ledger.IsEntryDeleted(e.ID) {
			continue
		}
		entries = append(entries, e)
	}

	hours := q.calc(entries, req.Date, req.UserID, req.Schedule, req.Holidays)

	var changed bool
	var err error
	if hours.IsZero() {
		changed, err = q.ledger.ClearAccrual(ctx, req.UserID, req.Date)
	} else {
		changed, err = q.ledger.StoreAccrual(ctx, AccrualRecord{
			UserID:        req.UserID,
			Date:          req.Date,
			Hours:         hours,
			SourceEntryID: q.sourceEntry(entries, req),
		})
	}
	switch {
	case errors.Is(err, ErrSourceDeleted):
		log.Info("source entry deleted during recalculation, not writing")
		q.metrics.QueueJobs.WithLabelValues("source_deleted").Inc()
		return q.currentSummary(ctx, req)
	case err != nil:
		return q.fail(req, err)
	}

	q.mu.Lock()
	q.recent.Add(key, time.Now())
	q.mu.Unlock()

	s, err := q.cache.Get(ctx, req.UserID, req.Date.MonthYear())
	if err != nil {
		return q.fail(req, err)
	}
	if changed {
		q.notifier.PublishSummary(s)
	}
	q.metrics.QueueJobs.WithLabelValues("ok").Inc()
	log.WithFields(logrus.Fields{"hours": hours, "changed": changed}).Debug("accrual recalculated")
	return &s
}

func (q *Queue) fail(req Request, err error) *Summary {
	q.log.WithError(err).WithFields(logrus.Fields{"user_id": req.UserID, "date": req.Date}).Error("accrual recalculation failed")
	q.metrics.QueueJobs.WithLabelValues("error").Inc()
	q.notifier.PublishError("accrual_recalculation", req.UserID, err)
	return nil
}

// currentSummary is the answer for a suppressed request.
func (q *Queue) currentSummary(ctx context.Context, req Request) *Summary {
	s, err := q.cache.Get(ctx, req.UserID, req.Date.MonthYear())
	if err != nil {
		q.log.WithError(err).WithField("user_id", req.UserID).Warn("summary lookup failed")
		return nil
	}
	return &s
}

// sourceEntry picks the entry an accrual row is linked to: the first entry
// of the day that counts as work.
func (q *Queue) sourceEntry(entries []Entry, req Request) string {
	for _, e := range entries {
		if e.UserID == req.UserID && e.Date.Equal(req.Date) && e.Hours > 0 && !e.IsTOILUsage(q.opts.JobCode) {
			return e.ID
		}
	}
	return ""
}

func (q *Queue) isRecentLocked(key dayKey) bool {
	at, ok := q.recent.Peek(key)
	return ok && time.Since(at) < q.opts.RecencyWindow
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// State reports the queue's state machine position.
func (q *Queue) State() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.String()
}

// Pending reports how many jobs wait for the next drain.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
