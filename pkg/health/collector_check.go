package health

import (
	"context"
	"fmt"
)

// Collector defines the interface for collector health checks.
type Collector interface {
	// SourceCount returns the number of known reporting sources.
	SourceCount() int
	// StaleCount returns the number of sources past the staleness cutoff.
	StaleCount() int
}

// CollectorCheck checks the health of the metric collector. The collector
// itself has no failure mode, so the check never reports unhealthy; it
// degrades when every known source has gone stale.
type CollectorCheck struct {
	collector Collector
}

// NewCollectorCheck creates a new collector health check.
func NewCollectorCheck(collector Collector) *CollectorCheck {
	return &CollectorCheck{collector: collector}
}

// Name returns the name of the health check.
func (c *CollectorCheck) Name() string {
	return "collector"
}

// Check performs the collector health check.
func (c *CollectorCheck) Check(ctx context.Context) error {
	return nil
}

// CheckDetailed performs a detailed health check and returns a Result.
func (c *CollectorCheck) CheckDetailed(ctx context.Context) Result {
	sources := c.collector.SourceCount()
	stale := c.collector.StaleCount()

	details := map[string]string{
		"sources": fmt.Sprintf("%d", sources),
		"stale":   fmt.Sprintf("%d", stale),
	}

	if sources > 0 && stale == sources {
		return Result{
			Name:    c.Name(),
			Status:  StatusDegraded,
			Message: "all reporting sources are stale",
			Details: details,
		}
	}

	return Result{
		Name:    c.Name(),
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d sources reporting", sources-stale),
		Details: details,
	}
}
