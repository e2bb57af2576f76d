// Package transport moves metric reports from a node to the collector
// endpoint of the coordinator. Reports travel as protobuf-delimited
// Prometheus exposition payloads, one POST per rendered (group, label)
// pair, addressed through a pluggable target resolver so the destination
// can change between pushes.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/pulse/pulse/pkg/metrics"
)

// Query parameters identifying a report on the collector endpoint.
const (
	ParamGroup    = "group"
	ParamLabel    = "label"
	ParamReporter = "reporter"
)

// Headers describing the units rate and duration values were converted to.
const (
	HeaderRateUnit     = "X-Pulse-Rate-Unit"
	HeaderDurationUnit = "X-Pulse-Duration-Unit"
)

// OriginLabel is attached to every pushed metric and names the registry
// the metric was gathered from, so merged reports stay attributable.
const OriginLabel = "origin"

// Default unit conversions advertised with each report.
const (
	DefaultRateUnit     = "seconds"
	DefaultDurationUnit = "milliseconds"
)

// Route decides which registries feed a report and under which group and
// label the report is filed.
type Route interface {
	// Matches reports whether the route selects the named registry.
	Matches(registry string) bool
	// RenderGroup returns the report group for a matching registry.
	RenderGroup(registry string) string
	// RenderLabel returns the report label for a matching registry.
	RenderLabel(registry string) string
	// SelectsMetric reports whether a metric family belongs in the report.
	SelectsMetric(name string) bool
}

// TargetResolver supplies the collector's base URL before each push. An
// empty string means no target is currently known and the push is
// skipped.
type TargetResolver interface {
	Resolve(ctx context.Context) string
}

// Config configures a Pusher.
type Config struct {
	// Handler is the collector endpoint path, e.g. /api/v1/metrics/collector.
	Handler string

	// ReporterID identifies this node in every report.
	ReporterID string

	// Resolver supplies the target base URL.
	Resolver TargetResolver

	// Registries is the directory of local metric registries.
	Registries *metrics.Manager

	// Routes is the compiled route table.
	Routes []Route

	// Client is the HTTP client for outbound pushes. Defaults to a
	// client with a 10s timeout.
	Client *http.Client

	// RateUnit and DurationUnit describe the unit conversions applied to
	// pushed values. Defaults: seconds and milliseconds.
	RateUnit     string
	DurationUnit string

	// SkipHistograms drops histogram and summary families from reports.
	SkipHistograms bool

	// SkipAggregateValues strips pre-aggregated quantile values from
	// summary families, leaving the observation count and sum.
	SkipAggregateValues bool

	// Broadcast selects load-balanced delivery across the whole cluster
	// instead of the single resolved target. Only direct delivery is
	// implemented; enabling this is rejected at construction.
	Broadcast bool
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Client == nil {
		out.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if out.RateUnit == "" {
		out.RateUnit = DefaultRateUnit
	}
	if out.DurationUnit == "" {
		out.DurationUnit = DefaultDurationUnit
	}
	return out
}
