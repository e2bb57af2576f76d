// Package health provides health check implementations for various components.
package health

import "context"

// Check represents a health check.
type Check interface {
	// Name returns the name of the health check.
	Name() string
	// Check performs the health check and returns an error if unhealthy.
	Check(ctx context.Context) error
}

// Status represents the status of a health check.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component is working but degraded.
	StatusDegraded Status = "degraded"
)

// Result represents the result of a health check.
type Result struct {
	Name    string            `json:"name"`
	Status  Status            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// DetailedCheck is a Check that can also report a full Result.
type DetailedCheck interface {
	Check
	CheckDetailed(ctx context.Context) Result
}
