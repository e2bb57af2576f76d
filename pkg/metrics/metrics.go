// Package metrics provides Prometheus instrumentation for the Pulse
// telemetry plane: the node registry directory that feeds cluster
// aggregation, and Pulse's own operational metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Pulse's own operational metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Node holds push-side metrics.
	Node *NodeMetrics

	// Coordinator holds ingest-side metrics.
	Coordinator *CoordinatorMetrics
}

// NewMetrics creates a Metrics instance with both roles registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return &Metrics{
		registry:    registry,
		Node:        newNodeMetrics(registry),
		Coordinator: newCoordinatorMetrics(registry),
	}
}

// NewNodeMetrics creates metrics for a node that only pushes.
func NewNodeMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return &Metrics{
		registry: registry,
		Node:     newNodeMetrics(registry),
	}
}

// NewCoordinatorMetrics creates metrics for the coordinator role only.
func NewCoordinatorMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return &Metrics{
		registry:    registry,
		Coordinator: newCoordinatorMetrics(registry),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics:   true,
			MaxRequestsInFlight: 10,
		},
	)
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
