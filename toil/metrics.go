package toil

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the ledger's Prometheus collectors. Construct one per
// Service; pass a nil Registerer to keep the collectors unregistered.
type Metrics struct {
	QueueJobs       *prometheus.CounterVec
	QueueSuppressed *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	CacheRequests   *prometheus.CounterVec
	LockWait        prometheus.Histogram
	LockForced      prometheus.Counter
	Deletions       *prometheus.CounterVec
	StorageRetries  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toil_queue_jobs_total",
			Help: "Accrual recalculation jobs processed, labeled by outcome",
		}, []string{"outcome"}),
		QueueSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toil_queue_suppressed_total",
			Help: "Recalculation requests answered without recomputing",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toil_queue_depth",
			Help: "Jobs waiting for the next drain",
		}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toil_cache_requests_total",
			Help: "Summary cache lookups, labeled hit or miss",
		}, []string{"result"}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "toil_lock_wait_seconds",
			Help:    "Time spent waiting for the ledger write lock",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		LockForced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toil_lock_force_releases_total",
			Help: "Stale write lock leases that were force-released",
		}),
		Deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toil_deletions_total",
			Help: "Deletion coordinator phases, labeled by phase and outcome",
		}, []string{"phase", "outcome"}),
		StorageRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toil_storage_retries_total",
			Help: "Store operations retried after a failure",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.QueueJobs, m.QueueSuppressed, m.QueueDepth, m.CacheRequests,
			m.LockWait, m.LockForced, m.Deletions, m.StorageRetries,
		)
	}
	return m
}
