package health

import (
	"context"
	"fmt"
)

// StreamHub defines the interface for live stream hub health checks.
type StreamHub interface {
	// IsHealthy returns true if the hub is running.
	IsHealthy() bool
	// ConnectionCount returns the number of active connections.
	ConnectionCount() int
	// GroupCount returns the number of groups with at least one subscriber.
	GroupCount() int
}

// StreamCheck checks the health of the live stream hub.
type StreamCheck struct {
	hub                     StreamHub
	maxConnectionsThreshold int
}

// StreamCheckOption configures a StreamCheck.
type StreamCheckOption func(*StreamCheck)

// WithMaxConnectionsThreshold sets the threshold above which the check reports degraded status.
func WithMaxConnectionsThreshold(threshold int) StreamCheckOption {
	return func(c *StreamCheck) {
		c.maxConnectionsThreshold = threshold
	}
}

// NewStreamCheck creates a new stream hub health check.
func NewStreamCheck(hub StreamHub, opts ...StreamCheckOption) *StreamCheck {
	c := &StreamCheck{
		hub:                     hub,
		maxConnectionsThreshold: 10000, // Default: warn if > 10k connections
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the name of the health check.
func (c *StreamCheck) Name() string {
	return "stream"
}

// Check performs the stream hub health check.
func (c *StreamCheck) Check(ctx context.Context) error {
	if !c.hub.IsHealthy() {
		return fmt.Errorf("stream hub is not running")
	}
	return nil
}

// CheckDetailed performs a detailed health check and returns a Result.
func (c *StreamCheck) CheckDetailed(ctx context.Context) Result {
	if !c.hub.IsHealthy() {
		return Result{
			Name:    c.Name(),
			Status:  StatusUnhealthy,
			Message: "stream hub is not running",
		}
	}

	connCount := c.hub.ConnectionCount()
	groupCount := c.hub.GroupCount()

	details := map[string]string{
		"connections": fmt.Sprintf("%d", connCount),
		"groups":      fmt.Sprintf("%d", groupCount),
	}

	// Check if we're approaching connection limits
	if c.maxConnectionsThreshold > 0 && connCount > c.maxConnectionsThreshold {
		return Result{
			Name:    c.Name(),
			Status:  StatusDegraded,
			Message: fmt.Sprintf("high connection count: %d", connCount),
			Details: details,
		}
	}

	return Result{
		Name:    c.Name(),
		Status:  StatusHealthy,
		Message: "stream hub is running",
		Details: details,
	}
}
