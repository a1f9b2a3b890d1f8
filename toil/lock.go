/*
lock.go - Write lock serializing every ledger mutation

PURPOSE:
  All writes to the persistent store go through the Ledger while holding
  this lock, so read-modify-write cycles on the stored collections never
  interleave.

LEASES:
  Each successful Acquire gets a lease. A lease held longer than the
  timeout (default 5s) is considered stale: the next waiter force-releases
  it, logs a LockTimeoutError warning, and proceeds. This bounds the damage
  of a caller that forgot to release.

  The release func returned by Acquire is idempotent, and releasing a lease
  that was already force-released does nothing, so a slow holder that
  finally finishes cannot unlock somebody else's lease.

IMPLEMENTATION:
  A one-slot channel is the mutex (send = lock, receive = unlock). Waiting
  selects on the channel, the caller's context, and a timer set to the
  moment the current lease becomes stale.

SEE ALSO:
  - ledger.go: withLock wraps every mutation
*/
package toil

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultLockTimeout is how long a lease may be held before it is stale.
const DefaultLockTimeout = 5 * time.Second

// WriteLock is a mutex with lease expiry.
type WriteLock struct {
	sem     chan struct{}
	timeout time.Duration
	log     logrus.FieldLogger
	metrics *Metrics

	mu         sync.Mutex
	lease      uint64 // current lease, 0 when free
	nextLease  uint64
	acquiredAt time.Time
}

func NewWriteLock(timeout time.Duration, log logrus.FieldLogger, metrics *Metrics) *WriteLock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &WriteLock{
		sem:     make(chan struct{}, 1),
		timeout: timeout,
		log:     log.WithField("component", "write_lock"),
		metrics: metrics,
	}
}

// Acquire blocks until the lock is held or ctx is done.
func (l *WriteLock) Acquire(ctx context.Context) (release func(), err error) {
	start := time.Now()
	for {
		timer := time.NewTimer(l.untilStale())
		select {
		case l.sem <- struct{}{}:
			timer.Stop()
			id := l.grant()
			l.metrics.LockWait.Observe(time.Since(start).Seconds())
			var once sync.Once
			return func() { once.Do(func() { l.release(id) }) }, nil
		case <-timer.C:
			l.forceReleaseIfStale()
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// Held reports whether a lease is outstanding.
func (l *WriteLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lease != 0
}

func (l *WriteLock) grant() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextLease++
	l.lease = l.nextLease
	l.acquiredAt = time.Now()
	return l.lease
}

func (l *WriteLock) release(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lease != id {
		return // force-released earlier
	}
	l.lease = 0
	<-l.sem
}

// untilStale is how long a waiter should sleep before checking for a stale lease.
func (l *WriteLock) untilStale() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lease == 0 {
		return l.timeout
	}
	d := l.timeout - time.Since(l.acquiredAt)
	if d < 0 {
		return 0
	}
	return d
}

func (l *WriteLock) forceReleaseIfStale() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lease == 0 {
		return
	}
	held := time.Since(l.acquiredAt)
	if held < l.timeout {
		return
	}
	l.lease = 0
	<-l.sem
	l.metrics.LockForced.Inc()
	l.log.WithError(&LockTimeoutError{HeldFor: held, Timeout: l.timeout}).Warn("force-released stale write lock")
}
