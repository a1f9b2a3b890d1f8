package toil_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/toil-ledger/toil"
)

// collector records every payload it receives.
type collector struct {
	mu       sync.Mutex
	payloads []any
}

func (c *collector) handle(p any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, p)
}

func (c *collector) all() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.payloads...)
}

func (c *collector) summaries() []toil.SummaryChanged {
	var out []toil.SummaryChanged
	for _, p := range c.all() {
		if s, ok := p.(toil.SummaryChanged); ok {
			out = append(out, s)
		}
	}
	return out
}

func (c *collector) errors() []toil.ErrorEvent {
	var out []toil.ErrorEvent
	for _, p := range c.all() {
		if e, ok := p.(toil.ErrorEvent); ok {
			out = append(out, e)
		}
	}
	return out
}

func TestNotifier_PublishAndUnsubscribe(t *testing.T) {
	log, _ := quietLogger()
	n := toil.NewNotifier(log, 0)
	var c collector
	unsubscribe := n.Subscribe(toil.TopicSummaryChanged, c.handle)

	n.PublishSummary(toil.Summary{UserID: "u1", MonthYear: "2025-03", Accrued: 2, Remaining: 2})
	n.Publish(toil.TopicError, toil.ErrorEvent{Message: "ignored"})

	unsubscribe()
	unsubscribe()
	n.PublishSummary(toil.Summary{UserID: "u1", MonthYear: "2025-03"})

	events := c.summaries()
	require.Len(t, events, 1)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, "2025-03", events[0].MonthYear)
	assert.Equal(t, float64(2), events[0].Summary.Remaining)
}

func TestNotifier_PanickingHandlerIsolated(t *testing.T) {
	// GIVEN: a handler that panics, subscribed before a healthy one
	// WHEN: an error event is published
	// THEN: the panic is logged and the healthy handler still receives it

	log, hook := quietLogger()
	n := toil.NewNotifier(log, 0)
	n.Subscribe(toil.TopicError, func(any) { panic("boom") })
	var c collector
	n.Subscribe(toil.TopicError, c.handle)

	n.PublishError("accrual_recalculation", "u1", errors.New("disk full"))

	events := c.errors()
	require.Len(t, events, 1)
	assert.Equal(t, toil.ErrorEvent{Message: "disk full", Context: "accrual_recalculation", UserID: "u1"}, events[0])
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "panicked")
}

func TestNotifier_DebounceKeepsLatest(t *testing.T) {
	// GIVEN: a 30ms debounce
	// WHEN: three summaries for one key arrive back to back
	// THEN: only the last one is published, once

	log, _ := quietLogger()
	n := toil.NewNotifier(log, 30*time.Millisecond)
	var c collector
	n.Subscribe(toil.TopicSummaryChanged, c.handle)

	for _, acc := range []float64{1, 2, 3} {
		n.PublishSummary(toil.Summary{UserID: "u1", MonthYear: "2025-03", Accrued: acc, Remaining: acc})
	}
	n.PublishSummary(toil.Summary{UserID: "u2", MonthYear: "2025-03", Accrued: 9, Remaining: 9})
	assert.Empty(t, c.summaries())

	require.Eventually(t, func() bool { return len(c.summaries()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	byUser := map[string]float64{}
	for _, e := range c.summaries() {
		byUser[e.UserID] = e.Summary.Accrued
	}
	assert.Equal(t, map[string]float64{"u1": 3, "u2": 9}, byUser)
}

func TestNotifier_CloseFlushesPending(t *testing.T) {
	log, _ := quietLogger()
	n := toil.NewNotifier(log, time.Hour)
	var c collector
	n.Subscribe(toil.TopicSummaryChanged, c.handle)

	n.PublishSummary(toil.Summary{UserID: "u1", MonthYear: "2025-03", Accrued: 1, Remaining: 1})
	n.Close()
	require.Len(t, c.summaries(), 1)

	n.PublishSummary(toil.Summary{UserID: "u1", MonthYear: "2025-03"})
	assert.Len(t, c.summaries(), 1, "publishing after Close is dropped")
}
