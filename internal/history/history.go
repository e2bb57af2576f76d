// Package history persists sampled aggregate snapshots as a queryable
// time series. The embedded SQLite store is the default; deployments with
// an external database use the PostgreSQL store instead.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/pulse/pulse/pkg/log"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Query limits.
const (
	DefaultQueryLimit = 1000
	MaxQueryLimit     = 10000
)

// Point is one sampled series value.
type Point struct {
	Time   time.Time `json:"time"`
	Group  string    `json:"group"`
	Family string    `json:"family"`
	Labels string    `json:"labels,omitempty"`
	Value  float64   `json:"value"`
}

// QueryOpts filters a history query. Zero fields are unconstrained.
type QueryOpts struct {
	Group  string
	Family string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// limit clamps the requested row limit into the allowed range.
func (o QueryOpts) limit() int {
	switch {
	case o.Limit <= 0:
		return DefaultQueryLimit
	case o.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return o.Limit
	}
}

// Store is the history persistence interface.
type Store interface {
	// Append writes points in one batch.
	Append(ctx context.Context, points []Point) error
	// Query returns points matching opts in ascending time order.
	Query(ctx context.Context, opts QueryOpts) ([]Point, error)
	// Groups returns the distinct group names present in the store.
	Groups(ctx context.Context) ([]string, error)
	// Prune deletes points older than the cutoff and returns the count.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	// Ping verifies the underlying database connection.
	Ping(ctx context.Context) error
	// Driver returns the database driver name.
	Driver() string
	// Close releases the store's resources.
	Close() error
}

// Config holds history store configuration.
type Config struct {
	// Driver selects the store backend: sqlite (default) or postgres.
	Driver string

	// Path is the SQLite database file.
	Path string

	// URL is the PostgreSQL connection string.
	URL string

	// Connection pool settings.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config, logger log.Logger) (Store, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return OpenSQLite(cfg, logger)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}
