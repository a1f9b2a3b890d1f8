/*
scheduler.go - Automated ledger sweeps

PURPOSE:
  Runs the TOIL maintenance sweeps on a cron schedule:
  - Expiry: accruals older than the expiry horizon leave the balance
  - Repair: tombstones left by an interrupted deletion are reconciled

DESIGN:
  - robfig/cron owns the timing; each job runs on cron's goroutine
  - A sweep that is still running when its next tick arrives is skipped
  - Failures are logged and retried on the next tick

CONFIGURATION:
  - ExpirySpec: cron spec for expiry (default "@daily")
  - RepairSpec: cron spec for repair (default "@every 1h")
  - Enabled:    whether the scheduler starts at all (default true)

USAGE:
  scheduler := NewSweepScheduler(svc, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: /api/admin/expire and /api/admin/repair (manual sweeps)
  - toil/service.go: ExpireSweep and Repair
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/warp/toil-ledger/toil"
)

// SweepScheduler runs expiry and repair sweeps periodically.
type SweepScheduler struct {
	Service    *toil.Service
	ExpirySpec string
	RepairSpec string
	Enabled    bool

	log  logrus.FieldLogger
	now  func() time.Time
	cron *cron.Cron
	mu   sync.Mutex
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(svc *toil.Service, log logrus.FieldLogger) *SweepScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SweepScheduler{
		Service:    svc,
		ExpirySpec: "@daily",
		RepairSpec: "@every 1h",
		Enabled:    true,
		log:        log.WithField("component", "scheduler"),
		now:        time.Now,
	}
}

// Start registers the sweeps and starts the cron runner.
func (s *SweepScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.ExpirySpec, s.runExpiry); err != nil {
		return fmt.Errorf("expiry schedule %q: %w", s.ExpirySpec, err)
	}
	if _, err := c.AddFunc(s.RepairSpec, s.runRepair); err != nil {
		return fmt.Errorf("repair schedule %q: %w", s.RepairSpec, err)
	}
	c.Start()
	s.cron = c

	s.log.WithFields(logrus.Fields{"expiry": s.ExpirySpec, "repair": s.RepairSpec}).Info("started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
		s.log.Info("stopped")
	}
}

// RunNow runs both sweeps immediately (for testing/admin).
func (s *SweepScheduler) RunNow() {
	s.runRepair()
	s.runExpiry()
}

// NextRuns returns when each sweep fires next, keyed "expiry" and "repair".
func (s *SweepScheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]time.Time{}
	if s.cron == nil {
		return out
	}
	entries := s.cron.Entries()
	names := []string{"expiry", "repair"}
	for i, e := range entries {
		if i < len(names) {
			out[names[i]] = e.Next
		}
	}
	return out
}

func (s *SweepScheduler) runExpiry() {
	n, err := s.Service.ExpireSweep(context.Background(), s.now())
	if err != nil {
		s.log.WithError(err).Error("expiry sweep failed")
		return
	}
	if n > 0 {
		s.log.WithField("expired", n).Info("expiry sweep completed")
	}
}

func (s *SweepScheduler) runRepair() {
	res, err := s.Service.Repair(context.Background())
	if err != nil {
		s.log.WithError(err).Error("repair sweep failed")
		return
	}
	if res.TombstonesCleared > 0 {
		s.log.WithFields(logrus.Fields{
			"accrual_purged": res.AccrualPurged,
			"usage_purged":   res.UsagePurged,
		}).Info("repair sweep completed")
	}
}
