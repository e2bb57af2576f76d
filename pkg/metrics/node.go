package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NodeMetrics holds metrics for the push side of a node.
type NodeMetrics struct {
	// Push cycle metrics
	PushDuration *prometheus.HistogramVec
	PushesTotal  *prometheus.CounterVec
	PushBytes    prometheus.Histogram
	RoutesActive prometheus.Gauge

	// Coordinator resolution metrics
	ResolveTotal *prometheus.CounterVec
}

// newNodeMetrics creates and registers all push-side metrics.
func newNodeMetrics(registry *prometheus.Registry) *NodeMetrics {
	m := &NodeMetrics{
		PushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pulse",
				Subsystem: "node",
				Name:      "push_duration_seconds",
				Help:      "Duration of one report delivery in seconds.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"status"},
		),

		PushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pulse",
				Subsystem: "node",
				Name:      "pushes_total",
				Help:      "Total number of report deliveries by status.",
			},
			[]string{"status"},
		),

		PushBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "pulse",
				Subsystem: "node",
				Name:      "push_payload_bytes",
				Help:      "Size of encoded report payloads in bytes.",
				Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
			},
		),

		RoutesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pulse",
				Subsystem: "node",
				Name:      "routes_active",
				Help:      "Number of routing rules in effect.",
			},
		),

		ResolveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pulse",
				Subsystem: "node",
				Name:      "resolve_total",
				Help:      "Coordinator address resolutions by outcome.",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.PushDuration,
		m.PushesTotal,
		m.PushBytes,
		m.RoutesActive,
		m.ResolveTotal,
	)

	return m
}

// RecordPush records a completed delivery attempt.
func (m *NodeMetrics) RecordPush(status string, durationSeconds float64, payloadBytes int) {
	m.PushesTotal.WithLabelValues(status).Inc()
	m.PushDuration.WithLabelValues(status).Observe(durationSeconds)
	if payloadBytes > 0 {
		m.PushBytes.Observe(float64(payloadBytes))
	}
}

// RecordResolve records a resolution outcome
// (cached, refreshed, absent, disconnected, failed).
func (m *NodeMetrics) RecordResolve(outcome string) {
	m.ResolveTotal.WithLabelValues(outcome).Inc()
}

// SetActiveRoutes sets the number of routing rules in effect.
func (m *NodeMetrics) SetActiveRoutes(count int) {
	m.RoutesActive.Set(float64(count))
}
