package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CoordinatorMetrics holds metrics for the aggregation side.
type CoordinatorMetrics struct {
	// Ingest metrics
	IngestTotal    *prometheus.CounterVec
	IngestDuration *prometheus.HistogramVec
	IngestFamilies prometheus.Counter

	// Aggregate store metrics
	SourcesActive  *prometheus.GaugeVec
	SourcesEvicted prometheus.Counter

	// API metrics
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec

	// History metrics
	HistoryAppends *prometheus.CounterVec
	HistoryPruned  prometheus.Counter

	// Archive metrics
	ArchiveOps *prometheus.CounterVec

	// Stream metrics
	StreamClients prometheus.Gauge
}

// newCoordinatorMetrics creates and registers all aggregation-side metrics.
func newCoordinatorMetrics(registry *prometheus.Registry) *CoordinatorMetrics {
	m := &CoordinatorMetrics{
		IngestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pulse",
				Subsystem: "coordinator",
				Name:      "ingest_total",
				Help:      "Total ingested reports by status.",
			},
			[]string{"status"},
		),

		IngestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pulse",
				Subsystem: "coordinator",
				Name:      "ingest_duration_seconds",
				Help:      "Duration of report ingestion in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"status"},
		),

		IngestFamilies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pulse",
				Subsystem: "coordinator",
				Name:      "ingest_families_total",
				Help:      "Total metric families accepted into aggregate groups.",
			},
		),

		SourcesActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pulse",
				Subsystem: "coordinator",
				Name:      "sources_active",
				Help:      "Currently tracked reporting sources per group.",
			},
			[]string{"group"},
		),

		SourcesEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pulse",
				Subsystem: "coordinator",
				Name:      "sources_evicted_total",
				Help:      "Sources dropped after exceeding the staleness window.",
			},
		),

		APIRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pulse",
				Subsystem: "coordinator",
				Name:      "api_requests_total",
				Help:      "Total API requests by method, path and status.",
			},
			[]string{"method", "path", "status"},
		),

		APIDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pulse",
				Subsystem: "coordinator",
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path"},
		),

		HistoryAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pulse",
				Subsystem: "coordinator",
				Name:      "history_appends_total",
				Help:      "History store appends by status.",
			},
			[]string{"status"},
		),

		HistoryPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pulse",
				Subsystem: "coordinator",
				Name:      "history_points_pruned_total",
				Help:      "History points removed by retention pruning.",
			},
		),

		ArchiveOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pulse",
				Subsystem: "coordinator",
				Name:      "archive_operations_total",
				Help:      "Snapshot archive operations by kind and status.",
			},
			[]string{"operation", "status"},
		),

		StreamClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pulse",
				Subsystem: "coordinator",
				Name:      "stream_clients",
				Help:      "Connected live-stream clients.",
			},
		),
	}

	registry.MustRegister(
		m.IngestTotal,
		m.IngestDuration,
		m.IngestFamilies,
		m.SourcesActive,
		m.SourcesEvicted,
		m.APIRequests,
		m.APIDuration,
		m.HistoryAppends,
		m.HistoryPruned,
		m.ArchiveOps,
		m.StreamClients,
	)

	return m
}

// RecordIngest records one processed report.
func (m *CoordinatorMetrics) RecordIngest(status string, durationSeconds float64, families int) {
	m.IngestTotal.WithLabelValues(status).Inc()
	m.IngestDuration.WithLabelValues(status).Observe(durationSeconds)
	if families > 0 {
		m.IngestFamilies.Add(float64(families))
	}
}

// SetActiveSources sets the tracked source count for a group.
func (m *CoordinatorMetrics) SetActiveSources(group string, count int) {
	m.SourcesActive.WithLabelValues(group).Set(float64(count))
}

// RecordEviction records sources dropped by the staleness sweep.
func (m *CoordinatorMetrics) RecordEviction(count int) {
	m.SourcesEvicted.Add(float64(count))
}

// RecordAPIRequest records an API request.
func (m *CoordinatorMetrics) RecordAPIRequest(method, path, status string, durationSeconds float64) {
	m.APIRequests.WithLabelValues(method, path, status).Inc()
	m.APIDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// RecordHistoryAppend records a history store append.
func (m *CoordinatorMetrics) RecordHistoryAppend(status string) {
	m.HistoryAppends.WithLabelValues(status).Inc()
}

// RecordHistoryPrune records points removed by retention.
func (m *CoordinatorMetrics) RecordHistoryPrune(points int64) {
	m.HistoryPruned.Add(float64(points))
}

// RecordArchiveOp records a snapshot archive operation.
func (m *CoordinatorMetrics) RecordArchiveOp(operation, status string) {
	m.ArchiveOps.WithLabelValues(operation, status).Inc()
}

// SetStreamClients sets the connected live-stream client count.
func (m *CoordinatorMetrics) SetStreamClients(count int) {
	m.StreamClients.Set(float64(count))
}
