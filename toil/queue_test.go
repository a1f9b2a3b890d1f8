package toil_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/toil-ledger/generic"
	"github.com/warp/toil-ledger/generic/store"
	"github.com/warp/toil-ledger/toil"
)

// countingCalc wraps the default rules and records each invocation.
type countingCalc struct {
	mu    sync.Mutex
	dates []generic.Day
}

func (c *countingCalc) fn(entries []toil.Entry, date generic.Day, userID string, s *toil.Schedule, hs []generic.Holiday) decimal.Decimal {
	c.mu.Lock()
	c.dates = append(c.dates, date)
	c.mu.Unlock()
	return toil.DefaultCalculator().ComputeDailyAccrual(entries, date, userID, s, hs)
}

func (c *countingCalc) calls() []generic.Day {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]generic.Day(nil), c.dates...)
}

type queueFixture struct {
	queue    *toil.Queue
	ledger   *toil.Ledger
	notifier *toil.Notifier
	mem      *store.Memory
	calc     *countingCalc
	events   *collector
}

func newTestQueue(t *testing.T, opts toil.QueueOptions, ready bool) *queueFixture {
	t.Helper()
	log, _ := quietLogger()
	mem := store.NewMemory()
	ledger := toil.NewLedger(mem, nil, log, nil, toil.LedgerOptions{RetryBackoff: time.Millisecond})
	cache := toil.NewSummaryCache(ledger, log, nil)
	notifier := toil.NewNotifier(log, 0)
	events := &collector{}
	notifier.Subscribe(toil.TopicSummaryChanged, events.handle)
	notifier.Subscribe(toil.TopicError, events.handle)

	if opts.Delay == 0 {
		opts.Delay = 20 * time.Millisecond
	}
	if opts.RecencyWindow == 0 {
		opts.RecencyWindow = toil.RecencyDisabled
	}
	calc := &countingCalc{}
	q := toil.NewQueue(ledger, cache, notifier, calc.fn, log, nil, opts)
	q.Start()
	if ready {
		q.MarkReady()
	}
	t.Cleanup(q.Close)
	return &queueFixture{queue: q, ledger: ledger, notifier: notifier, mem: mem, calc: calc, events: events}
}

func saturdayRequest(h float64) toil.Request {
	sat := day(2025, time.March, 15)
	return toil.Request{UserID: "u1", Date: sat, Entries: []toil.Entry{work("e1", "u1", sat, h)}}
}

// =============================================================================
// DEBOUNCE AND ORDERING
// =============================================================================

func TestQueue_BurstForOneDayCalculatedOnce(t *testing.T) {
	// GIVEN: five requests for the same (user, date) inside the delay window
	// WHEN: the queue drains
	// THEN: the calculator runs once and every caller gets the same summary

	f := newTestQueue(t, toil.QueueOptions{Delay: 50 * time.Millisecond}, true)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*toil.Summary, 5)
	for i := 0; i < 5; i++ {
		req := saturdayRequest(5)
		require.Eventually(t, func() bool { return i == 0 || f.queue.Pending() == 1 }, time.Second, time.Millisecond)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.queue.Enqueue(ctx, req)
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.calc.calls(), 1)
	for _, s := range results {
		require.NotNil(t, s)
		assert.Equal(t, float64(5), s.Accrued)
	}
	assert.Equal(t, "idle", f.queue.State())
}

func TestQueue_JobsRunInArrivalOrder(t *testing.T) {
	f := newTestQueue(t, toil.QueueOptions{Delay: 50 * time.Millisecond}, true)
	ctx := context.Background()
	dates := []generic.Day{day(2025, time.March, 16), day(2025, time.March, 9), day(2025, time.March, 15)}

	var wg sync.WaitGroup
	for i, d := range dates {
		wg.Add(1)
		go func(d generic.Day) {
			defer wg.Done()
			_, err := f.queue.Enqueue(ctx, toil.Request{UserID: "u1", Date: d, Entries: []toil.Entry{work("e", "u1", d, 2)}})
			assert.NoError(t, err)
		}(d)
		require.Eventually(t, func() bool { return f.queue.Pending() == i+1 }, time.Second, time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, dates, f.calc.calls())
}

func TestQueue_WaitsForReadyGate(t *testing.T) {
	// GIVEN: a started queue whose ready gate is still closed
	// WHEN: a recalculation is requested
	// THEN: nothing runs until MarkReady

	f := newTestQueue(t, toil.QueueOptions{Delay: time.Millisecond}, false)
	done := make(chan *toil.Summary, 1)
	go func() {
		s, _ := f.queue.Enqueue(context.Background(), saturdayRequest(3))
		done <- s
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.calc.calls())
	assert.Equal(t, "scheduled", f.queue.State())

	f.queue.MarkReady()
	select {
	case s := <-done:
		require.NotNil(t, s)
		assert.Equal(t, float64(3), s.Accrued)
	case <-time.After(time.Second):
		t.Fatal("job did not run after MarkReady")
	}
}

// =============================================================================
// RECENCY
// =============================================================================

func TestQueue_RecentDaySuppressed(t *testing.T) {
	// GIVEN: a day recomputed moments ago
	// WHEN: it is requested again inside the recency window
	// THEN: the current summary is returned without recomputing, until
	//       ForgetUser clears the memory

	f := newTestQueue(t, toil.QueueOptions{Delay: time.Millisecond, RecencyWindow: time.Minute}, true)
	ctx := context.Background()

	s, err := f.queue.Enqueue(ctx, saturdayRequest(3))
	require.NoError(t, err)
	require.NotNil(t, s)

	s, err = f.queue.Enqueue(ctx, saturdayRequest(7))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, float64(3), s.Accrued)
	assert.Len(t, f.calc.calls(), 1)

	f.queue.ForgetUser("u1")
	s, err = f.queue.Enqueue(ctx, saturdayRequest(7))
	require.NoError(t, err)
	assert.Equal(t, float64(7), s.Accrued)
	assert.Len(t, f.calc.calls(), 2)
}

// =============================================================================
// LEDGER OUTCOMES
// =============================================================================

func TestQueue_ZeroResultClearsDay(t *testing.T) {
	f := newTestQueue(t, toil.QueueOptions{Delay: time.Millisecond}, true)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, saturdayRequest(4))
	require.NoError(t, err)

	req := saturdayRequest(0)
	req.Entries = nil
	s, err := f.queue.Enqueue(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Zero(t, s.Accrued)

	rows, err := f.ledger.LoadAccrual(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestQueue_PublishesOnlyOnChange(t *testing.T) {
	f := newTestQueue(t, toil.QueueOptions{Delay: time.Millisecond}, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.queue.Enqueue(ctx, saturdayRequest(4))
		require.NoError(t, err)
	}
	assert.Len(t, f.calc.calls(), 3)
	assert.Len(t, f.events.summaries(), 1)
}

func TestQueue_DeletedEntriesIgnored(t *testing.T) {
	// GIVEN: entry e1 was deleted but the caller's snapshot still has it
	// WHEN: the day is recomputed
	// THEN: only the surviving entry counts and the row links to it

	f := newTestQueue(t, toil.QueueOptions{Delay: time.Millisecond}, true)
	ctx := context.Background()
	_, err := f.ledger.TrackDeletion(ctx, "e1")
	require.NoError(t, err)

	sat := day(2025, time.March, 15)
	s, err := f.queue.Enqueue(ctx, toil.Request{UserID: "u1", Date: sat, Entries: []toil.Entry{
		work("e1", "u1", sat, 8),
		work("e2", "u1", sat, 2),
	}})
	require.NoError(t, err)
	assert.Equal(t, float64(2), s.Accrued)

	rows, err := f.ledger.LoadAccrual(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "e2", rows[0].SourceEntryID)
}

func TestQueue_LedgerFailureYieldsNilAndErrorEvent(t *testing.T) {
	f := newTestQueue(t, toil.QueueOptions{Delay: time.Millisecond}, true)
	f.mem.FailNext(generic.OpPut, 3)

	s, err := f.queue.Enqueue(context.Background(), saturdayRequest(4))
	require.NoError(t, err)
	assert.Nil(t, s, "a failed job answers nil, never a zero balance")

	events := f.events.errors()
	require.Len(t, events, 1)
	assert.Equal(t, "accrual_recalculation", events[0].Context)
	assert.Equal(t, "u1", events[0].UserID)
}

// =============================================================================
// INPUT AND LIFECYCLE
// =============================================================================

func TestQueue_RejectsInvalidRequest(t *testing.T) {
	f := newTestQueue(t, toil.QueueOptions{}, true)
	_, err := f.queue.Enqueue(context.Background(), toil.Request{Date: day(2025, time.March, 15)})
	assert.True(t, toil.IsInputError(err))
	_, err = f.queue.Enqueue(context.Background(), toil.Request{UserID: "u1"})
	assert.True(t, toil.IsInputError(err))
}

func TestQueue_CloseResolvesWaiters(t *testing.T) {
	// GIVEN: a job waiting behind a closed ready gate
	// WHEN: the queue is closed
	// THEN: the waiter gets ErrQueueClosed, and so does any later request

	f := newTestQueue(t, toil.QueueOptions{}, false)
	errc := make(chan error, 1)
	go func() {
		_, err := f.queue.Enqueue(context.Background(), saturdayRequest(3))
		errc <- err
	}()
	require.Eventually(t, func() bool { return f.queue.Pending() == 1 }, time.Second, time.Millisecond)

	f.queue.Close()
	assert.ErrorIs(t, <-errc, toil.ErrQueueClosed)

	_, err := f.queue.Enqueue(context.Background(), saturdayRequest(3))
	assert.ErrorIs(t, err, toil.ErrQueueClosed)
	assert.Empty(t, f.calc.calls())
}

func TestQueue_CallerContextCancelled(t *testing.T) {
	f := newTestQueue(t, toil.QueueOptions{}, false)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.queue.Enqueue(ctx, saturdayRequest(3))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
