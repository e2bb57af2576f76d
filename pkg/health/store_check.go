package health

import (
	"context"
	"fmt"
	"time"
)

// Store defines the interface for history store health checks.
type Store interface {
	// Ping verifies the underlying database connection.
	Ping(ctx context.Context) error
	// Driver returns the database driver name.
	Driver() string
}

// StoreCheck checks the health of the history store.
type StoreCheck struct {
	store            Store
	latencyThreshold time.Duration
}

// StoreCheckOption configures a StoreCheck.
type StoreCheckOption func(*StoreCheck)

// WithLatencyThreshold sets the ping latency above which the check reports degraded status.
func WithLatencyThreshold(threshold time.Duration) StoreCheckOption {
	return func(c *StoreCheck) {
		c.latencyThreshold = threshold
	}
}

// NewStoreCheck creates a new history store health check.
func NewStoreCheck(store Store, opts ...StoreCheckOption) *StoreCheck {
	c := &StoreCheck{
		store:            store,
		latencyThreshold: time.Second, // Default: warn if a ping takes > 1s
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the name of the health check.
func (c *StoreCheck) Name() string {
	return "history"
}

// Check performs the history store health check.
func (c *StoreCheck) Check(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("history store unreachable: %w", err)
	}
	return nil
}

// CheckDetailed performs a detailed health check and returns a Result.
func (c *StoreCheck) CheckDetailed(ctx context.Context) Result {
	start := time.Now()
	err := c.store.Ping(ctx)
	latency := time.Since(start)

	details := map[string]string{
		"driver":  c.store.Driver(),
		"latency": latency.String(),
	}

	if err != nil {
		return Result{
			Name:    c.Name(),
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("history store unreachable: %v", err),
			Details: details,
		}
	}

	if c.latencyThreshold > 0 && latency > c.latencyThreshold {
		return Result{
			Name:    c.Name(),
			Status:  StatusDegraded,
			Message: fmt.Sprintf("slow ping: %s", latency),
			Details: details,
		}
	}

	return Result{
		Name:    c.Name(),
		Status:  StatusHealthy,
		Message: "history store is reachable",
		Details: details,
	}
}
