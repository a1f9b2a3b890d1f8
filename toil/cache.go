package toil

import (
	"context"
	"math"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/toil-ledger/generic"
)

// =============================================================================
// SUMMARY CACHE
// =============================================================================

// SummaryCache memoizes per-(user, month) summaries. Entries live until a
// ledger write for the same key invalidates them; there is no TTL.
//
// A key with a miss in flight carries a generation number bumped by
// Invalidate. The miss remembers the generation it started under and only
// stores its result if nothing invalidated the key while it was reading
// the ledger. The generation is dropped when the key's last miss finishes.
type SummaryCache struct {
	ledger  *Ledger
	log     logrus.FieldLogger
	metrics *Metrics

	mu       sync.Mutex
	entries  map[SummaryKey]Summary
	inflight map[SummaryKey]*pendingMiss
	epoch    uint64 // bumped by InvalidateAll
}

// pendingMiss tracks the recomputes running for one key.
type pendingMiss struct {
	gen    uint64
	misses int
}

// NewSummaryCache creates a cache over ledger and subscribes it to the
// ledger's write hook.
func NewSummaryCache(ledger *Ledger, log logrus.FieldLogger, metrics *Metrics) *SummaryCache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	c := &SummaryCache{
		ledger:  ledger,
		log:     log.WithField("component", "summary_cache"),
		metrics: metrics,
		entries:  make(map[SummaryKey]Summary),
		inflight: make(map[SummaryKey]*pendingMiss),
	}
	ledger.OnChange(func(k SummaryKey) { c.Invalidate(k.UserID, k.MonthYear) })
	return c
}

// Get returns the summary for (userID, monthYear), recomputing on a miss.
func (c *SummaryCache) Get(ctx context.Context, userID string, monthYear generic.MonthYear) (Summary, error) {
	if userID == "" {
		return Summary{}, inputErr("userId", "required")
	}
	if _, err := generic.ParseMonthYear(string(monthYear)); err != nil {
		return Summary{}, inputErr("monthYear", err.Error())
	}
	key := SummaryKey{UserID: userID, MonthYear: monthYear}

	c.mu.Lock()
	if s, ok := c.entries[key]; ok {
		if sane(s) {
			c.mu.Unlock()
			c.metrics.CacheRequests.WithLabelValues("hit").Inc()
			return s, nil
		}
		delete(c.entries, key)
		c.log.WithField("key", key.String()).Warn("discarding corrupt cached summary")
	}
	p, ok := c.inflight[key]
	if !ok {
		p = &pendingMiss{}
		c.inflight[key] = p
	}
	p.misses++
	gen, epoch := p.gen, c.epoch
	c.mu.Unlock()

	c.metrics.CacheRequests.WithLabelValues("miss").Inc()
	s, err := c.compute(ctx, key)

	c.mu.Lock()
	if err == nil && p.gen == gen && c.epoch == epoch {
		c.entries[key] = s
	}
	p.misses--
	if p.misses == 0 {
		delete(c.inflight, key)
	}
	c.mu.Unlock()

	if err != nil {
		return Summary{}, err
	}
	return s, nil
}

// Invalidate drops cached summaries. An empty monthYear drops every month
// for userID; empty userID and monthYear drop everything.
func (c *SummaryCache) Invalidate(userID string, monthYear generic.MonthYear) {
	if userID == "" && monthYear == "" {
		c.InvalidateAll()
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if monthYear != "" {
		key := SummaryKey{UserID: userID, MonthYear: monthYear}
		if p, ok := c.inflight[key]; ok {
			p.gen++
		}
		delete(c.entries, key)
		return
	}
	for key := range c.entries {
		if key.UserID == userID {
			delete(c.entries, key)
		}
	}
	for key, p := range c.inflight {
		if key.UserID == userID {
			p.gen++
		}
	}
}

// InvalidateAll empties the cache.
func (c *SummaryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[SummaryKey]Summary)
	c.epoch++
}

// Len reports how many summaries are cached.
func (c *SummaryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *SummaryCache) compute(ctx context.Context, key SummaryKey) (Summary, error) {
	accruals, err := c.ledger.LoadAccrual(ctx, key.UserID)
	if err != nil {
		return Summary{}, err
	}
	usage, err := c.ledger.LoadUsage(ctx, key.UserID)
	if err != nil {
		return Summary{}, err
	}

	accrued, used := decimal.Zero, decimal.Zero
	for _, r := range accruals {
		if r.MonthYear == key.MonthYear && r.IsActive() {
			accrued = accrued.Add(r.Hours)
		}
	}
	for _, r := range usage {
		if r.MonthYear == key.MonthYear {
			used = used.Add(r.Hours)
		}
	}
	return newSummary(key, accrued, used), nil
}

// sane rejects non-finite values and summaries whose remaining does not
// match max(0, accrued-used).
func sane(s Summary) bool {
	for _, v := range []float64{s.Accrued, s.Used, s.Remaining} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return math.Abs(s.Remaining-math.Max(0, s.Accrued-s.Used)) < 1e-9
}
