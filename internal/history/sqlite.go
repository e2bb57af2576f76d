package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pulse/pulse/pkg/log"
)

// History points are append-only; there is no primary key to maintain.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS history_points (
	ts INTEGER NOT NULL,
	group_name TEXT NOT NULL,
	family TEXT NOT NULL,
	labels TEXT NOT NULL DEFAULT '',
	value REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS history_points_group_family_ts
	ON history_points (group_name, family, ts);
`

// SQLiteStore persists history points in an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger log.Logger
}

// OpenSQLite opens the SQLite history database, creating the file and
// schema as needed. The database runs in WAL mode.
func OpenSQLite(cfg Config, logger log.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite history path must not be empty")
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}

	logger = logger.With("component", "history")
	logger.Info().Str("driver", DriverSQLite).Str("path", cfg.Path).Msg("Opened history store")
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Append writes points in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO history_points (ts, group_name, family, labels, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, p.Time.UnixMilli(), p.Group, p.Family, p.Labels, p.Value); err != nil {
			return fmt.Errorf("failed to insert point: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Query returns points matching opts in ascending time order.
func (s *SQLiteStore) Query(ctx context.Context, opts QueryOpts) ([]Point, error) {
	query := `SELECT ts, group_name, family, labels, value FROM history_points`

	var conds []string
	var args []any
	if opts.Group != "" {
		conds = append(conds, "group_name = ?")
		args = append(args, opts.Group)
	}
	if opts.Family != "" {
		conds = append(conds, "family = ?")
		args = append(args, opts.Family)
	}
	if !opts.Since.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, opts.Since.UnixMilli())
	}
	if !opts.Until.IsZero() {
		conds = append(conds, "ts < ?")
		args = append(args, opts.Until.UnixMilli())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts ASC LIMIT ?"
	args = append(args, opts.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var ms int64
		var p Point
		if err := rows.Scan(&ms, &p.Group, &p.Family, &p.Labels, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		p.Time = time.UnixMilli(ms).UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

// Groups returns the distinct group names present in the store.
func (s *SQLiteStore) Groups(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
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
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM history_points WHERE ts < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the driver name.
func (s *SQLiteStore) Driver() string { return DriverSQLite }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
