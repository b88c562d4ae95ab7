package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vetsync"

// SyncMetrics exports push/pull outcomes and outbox depth.
type SyncMetrics struct {
	duration  *prometheus.HistogramVec
	pushOps   *prometheus.CounterVec
	pulled    prometheus.Counter
	conflicts *prometheus.CounterVec
	outbox    *prometheus.GaugeVec
}

// NewSyncMetrics registers the sync engine metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Duration of push and pull runs in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
	pushOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_ops_total",
		Help:      "Outbox operations submitted to the sync server, by result.",
	}, []string{"result"})
	pulled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pulled_changes_total",
		Help:      "Remote changes received from the sync server.",
	})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conflicts_total",
		Help:      "Last-write-wins decisions between local outbox records and remote changes.",
	}, []string{"winner"})
	outbox := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "outbox_records",
		Help:      "Outbox records by status at the last status read.",
	}, []string{"status"})
	reg.MustRegister(duration, pushOps, pulled, conflicts, outbox)
	return &SyncMetrics{
		duration:  duration,
		pushOps:   pushOps,
		pulled:    pulled,
		conflicts: conflicts,
		outbox:    outbox,
	}
}

// ObserveRun records how long a push or pull took and how it ended (ok, error, skipped).
func (s *SyncMetrics) ObserveRun(operation, outcome string, duration time.Duration) {
	if s == nil || s.duration == nil {
		return
	}
	s.duration.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Observe(duration.Seconds())
}

// AddPushOps counts operations with the given result (accepted, rejected, ignored, failed).
func (s *SyncMetrics) AddPushOps(result string, n int) {
	if s == nil || s.pushOps == nil || n <= 0 {
		return
	}
	s.pushOps.WithLabelValues(normalizeLabel(result)).Add(float64(n))
}

// AddPulled counts remote changes received.
func (s *SyncMetrics) AddPulled(n int) {
	if s == nil || s.pulled == nil || n <= 0 {
		return
	}
	s.pulled.Add(float64(n))
}

// IncConflict counts one resolved conflict; winner is "local" or "remote".
func (s *SyncMetrics) IncConflict(winner string) {
	if s == nil || s.conflicts == nil {
		return
	}
	s.conflicts.WithLabelValues(normalizeLabel(winner)).Inc()
}

// SetOutbox publishes the current record count for status.
func (s *SyncMetrics) SetOutbox(status string, count int64) {
	if s == nil || s.outbox == nil {
		return
	}
	s.outbox.WithLabelValues(normalizeLabel(status)).Set(float64(count))
}
