package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CoreMetrics instruments one index core's registry. Family names carry the
// update/query/index/tlog prefixes that the default leader routing rule
// selects on.
type CoreMetrics struct {
	UpdateRequests *prometheus.CounterVec
	UpdateErrors   prometheus.Counter
	UpdateSeconds  prometheus.Summary

	QueryRequests *prometheus.CounterVec
	QuerySeconds  prometheus.Summary

	IndexDocs      prometheus.Gauge
	IndexSizeBytes prometheus.Gauge
	IndexMerges    prometheus.Counter

	TlogSizeBytes prometheus.Gauge
	TlogReplays   prometheus.Counter
}

// NewCoreMetrics creates and registers per-core instruments on reg.
func NewCoreMetrics(reg *prometheus.Registry) *CoreMetrics {
	m := &CoreMetrics{
		UpdateRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "update_requests_total",
				Help: "Document update requests by handler.",
			},
			[]string{"handler"},
		),
		UpdateErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "update_errors_total",
				Help: "Failed document update requests.",
			},
		),
		UpdateSeconds: prometheus.NewSummary(
			prometheus.SummaryOpts{
				Name:       "update_request_seconds",
				Help:       "Update request latency in seconds.",
				Objectives: map[float64]float64{0.5: 0.05, 0.95: 0.01, 0.99: 0.001},
			},
		),

		QueryRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_requests_total",
				Help: "Search requests by handler.",
			},
			[]string{"handler"},
		),
		QuerySeconds: prometheus.NewSummary(
			prometheus.SummaryOpts{
				Name:       "query_request_seconds",
				Help:       "Search request latency in seconds.",
				Objectives: map[float64]float64{0.5: 0.05, 0.95: 0.01, 0.99: 0.001},
			},
		),

		IndexDocs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_docs",
				Help: "Documents currently in the index.",
			},
		),
		IndexSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_size_bytes",
				Help: "On-disk index size in bytes.",
			},
		),
		IndexMerges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_merges_total",
				Help: "Completed segment merges.",
			},
		),

		TlogSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tlog_size_bytes",
				Help: "Transaction log size in bytes.",
			},
		),
		TlogReplays: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tlog_replays_total",
				Help: "Transaction log replays performed.",
			},
		),
	}

	reg.MustRegister(
		m.UpdateRequests,
		m.UpdateErrors,
		m.UpdateSeconds,
		m.QueryRequests,
		m.QuerySeconds,
		m.IndexDocs,
		m.IndexSizeBytes,
		m.IndexMerges,
		m.TlogSizeBytes,
		m.TlogReplays,
	)

	return m
}

// HTTPMetrics instruments the node's HTTP serving layer registry.
type HTTPMetrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestSeconds   *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
}

// NewHTTPMetrics creates and registers HTTP layer instruments on reg.
func NewHTTPMetrics(reg *prometheus.Registry) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests by method, path and status.",
			},
			[]string{"method", "path", "status"},
		),
		RequestSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "HTTP requests currently being served.",
			},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestSeconds, m.RequestsInFlight)
	return m
}
