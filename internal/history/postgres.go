package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulse/pulse/pkg/log"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS history_points (
	ts TIMESTAMPTZ NOT NULL,
	group_name TEXT NOT NULL,
	family TEXT NOT NULL,
	labels TEXT NOT NULL DEFAULT '',
	value DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS history_points_group_family_ts
	ON history_points (group_name, family, ts);
`

// PostgresStore persists history points in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// OpenPostgres connects to PostgreSQL and applies the history schema.
func OpenPostgres(ctx context.Context, cfg Config, logger log.Logger) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres history url must not be empty")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse history database URL: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}

	logger = logger.With("component", "history")
	logger.Info().Str("driver", DriverPostgres).Msg("Opened history store")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Append writes points in one batch round trip.
func (s *PostgresStore) Append(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(
			`INSERT INTO history_points (ts, group_name, family, labels, value) VALUES ($1, $2, $3, $4, $5)`,
			p.Time.UTC(), p.Group, p.Family, p.Labels, p.Value)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range points {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert point: %w", err)
		}
	}
	return nil
}

// Query returns points matching opts in ascending time order.
func (s *PostgresStore) Query(ctx context.Context, opts QueryOpts) ([]Point, error) {
	query := `SELECT ts, group_name, family, labels, value FROM history_points`

	var conds []string
	var args []any
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if opts.Group != "" {
		add("group_name = $%d", opts.Group)
	}
	if opts.Family != "" {
		add("family = $%d", opts.Family)
	}
	if !opts.Since.IsZero() {
		add("ts >= $%d", opts.Since.UTC())
	}
	if !opts.Until.IsZero() {
		add("ts < $%d", opts.Until.UTC())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, opts.limit())
	query += fmt.Sprintf(" ORDER BY ts ASC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Time, &p.Group, &p.Family, &p.Labels, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		p.Time = p.Time.UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

// Groups returns the distinct group names present in the store.
func (s *PostgresStore) Groups(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT group_name FROM history_points ORDER BY group_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Prune deletes points older than the cutoff and returns the count.
func (s *PostgresStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM history_points WHERE ts < $1`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping verifies the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Driver returns the driver name.
func (s *PostgresStore) Driver() string { return DriverPostgres }

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
