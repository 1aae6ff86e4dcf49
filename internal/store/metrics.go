package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are always collected; WithMetrics only decides whether they are
// exposed on a registry.
type Metrics struct {
	operations    *prometheus.CounterVec
	tokenWait     prometheus.Histogram
	keys          prometheus.Gauge
	undoEntries   prometheus.Gauge
	commits       *prometheus.CounterVec
	snapshotBytes prometheus.Gauge
	reverted      prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "undostore_operations_total",
			Help: "Store operations by kind",
		}, []string{"op"}),
		tokenWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "undostore_token_wait_seconds",
			Help:    "Time spent waiting for exclusive access",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		keys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "undostore_keys",
			Help: "Number of keys in the in-memory state",
		}),
		undoEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "undostore_undo_entries",
			Help: "Uncommitted mutations held in the undo log",
		}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "undostore_commits_total",
			Help: "Snapshot commits by result (ok, error)",
		}, []string{"result"}),
		snapshotBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "undostore_snapshot_bytes",
			Help: "Size of the last committed snapshot",
		}),
		reverted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "undostore_reverted_entries_total",
			Help: "Undo log entries reverted",
		}),
	}
}

// register adds every collector to reg, or none of them.
func (m *Metrics) register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.operations,
		m.tokenWait,
		m.keys,
		m.undoEntries,
		m.commits,
		m.snapshotBytes,
		m.reverted,
	}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			for _, done := range collectors[:i] {
				reg.Unregister(done)
			}
			return err
		}
	}
	return nil
}

// observeState refreshes the state gauges. Caller holds the token.
func (m *Metrics) observeState(s *Store) {
	m.keys.Set(float64(len(s.state)))
	m.undoEntries.Set(float64(s.log.Len()))
}
