package toil

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// EVENT NOTIFIER - in-process pub/sub
// =============================================================================

// Topic names an event stream.
type Topic string

const (
	TopicSummaryChanged Topic = "toil.summary_changed"
	TopicError          Topic = "toil.error"
)

// SummaryChanged is published whenever a (user, month) summary changes.
type SummaryChanged struct {
	UserID    string  `json:"userId"`
	MonthYear string  `json:"monthYear"`
	Summary   Summary `json:"summary"`
}

// ErrorEvent is published when a background operation fails and the
// caller only got a nil/false result.
type ErrorEvent struct {
	Message string `json:"message"`
	Context string `json:"context"`
	UserID  string `json:"userId,omitempty"`
}

// Handler receives a published payload (SummaryChanged or ErrorEvent).
type Handler func(payload any)

type subscription struct {
	id      uint64
	handler Handler
}

// Notifier delivers events synchronously, in subscription order. A
// panicking handler is logged and skipped.
type Notifier struct {
	log logrus.FieldLogger

	mu     sync.RWMutex
	subs   map[Topic][]subscription
	nextID uint64

	debounce  time.Duration
	pendingMu sync.Mutex
	pending   map[SummaryKey]*pendingSummary
	closed    bool
}

type pendingSummary struct {
	latest Summary
	timer  *time.Timer
}

// NewNotifier creates a notifier. With debounce > 0, PublishSummary holds
// each (user, month) for that long and publishes only the latest value.
func NewNotifier(log logrus.FieldLogger, debounce time.Duration) *Notifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Notifier{
		log:      log.WithField("component", "notifier"),
		subs:     make(map[Topic][]subscription),
		debounce: debounce,
		pending:  make(map[SummaryKey]*pendingSummary),
	}
}

// Subscribe registers handler and returns a func that removes it.
func (n *Notifier) Subscribe(topic Topic, handler Handler) (unsubscribe func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs[topic] = append(n.subs[topic], subscription{id: id, handler: handler})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			subs := n.subs[topic]
			for i, s := range subs {
				if s.id == id {
					n.subs[topic] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers payload to every handler of topic.
func (n *Notifier) Publish(topic Topic, payload any) {
	n.mu.RLock()
	subs := append([]subscription(nil), n.subs[topic]...)
	n.mu.RUnlock()

	for _, s := range subs {
		n.deliver(topic, s, payload)
	}
}

func (n *Notifier) deliver(topic Topic, s subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			n.log.WithField("topic", topic).Errorf("event handler panicked: %v", r)
		}
	}()
	s.handler(payload)
}

// PublishSummary publishes a SummaryChanged for s, debounced when configured.
func (n *Notifier) PublishSummary(s Summary) {
	if n.debounce <= 0 {
		n.Publish(TopicSummaryChanged, summaryEvent(s))
		return
	}

	key := SummaryKey{UserID: s.UserID, MonthYear: s.MonthYear}
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	if n.closed {
		return
	}
	if p, ok := n.pending[key]; ok {
		p.latest = s
		return
	}
	p := &pendingSummary{latest: s}
	p.timer = time.AfterFunc(n.debounce, func() { n.flush(key) })
	n.pending[key] = p
}

// PublishError publishes an ErrorEvent describing err.
func (n *Notifier) PublishError(context, userID string, err error) {
	n.Publish(TopicError, ErrorEvent{
		Message: fmt.Sprint(err),
		Context: context,
		UserID:  userID,
	})
}

func (n *Notifier) flush(key SummaryKey) {
	n.pendingMu.Lock()
	p, ok := n.pending[key]
	delete(n.pending, key)
	n.pendingMu.Unlock()
	if ok {
		n.Publish(TopicSummaryChanged, summaryEvent(p.latest))
	}
}

// Close publishes any debounced summaries immediately. Later
// PublishSummary calls are dropped.
func (n *Notifier) Close() {
	n.pendingMu.Lock()
	n.closed = true
	pending := n.pending
	n.pending = make(map[SummaryKey]*pendingSummary)
	n.pendingMu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		n.Publish(TopicSummaryChanged, summaryEvent(p.latest))
	}
}

func summaryEvent(s Summary) SummaryChanged {
	return SummaryChanged{UserID: s.UserID, MonthYear: string(s.MonthYear), Summary: s}
}
