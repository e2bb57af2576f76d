// Package config provides configuration management for a Pulse node.
// Configuration is loaded from environment variables with the PULSE_
// prefix; cluster membership and custom report routes come from an
// optional YAML cluster file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration settings for a Pulse node.
type Config struct {
	Server        ServerConfig
	Node          NodeConfig
	Reporting     ReportingConfig
	Collector     CollectorConfig
	History       HistoryConfig
	Archive       ArchiveConfig
	Stream        StreamConfig
	Log           LogConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP and metrics server settings.
type ServerConfig struct {
	// HTTPPort is the port for the node API and collector endpoint (default: 7700)
	HTTPPort int
	// MetricsPort is the port for the node's own Prometheus metrics (default: 7701)
	MetricsPort int
	// ShutdownTimeout is the graceful shutdown timeout (default: 30s)
	ShutdownTimeout time.Duration
}

// NodeConfig holds cluster identity settings.
type NodeConfig struct {
	// Token is this node's identity in the cluster. Must not contain '-'
	// (default: local)
	Token string
	// ClusterFile is the path to the YAML cluster file listing members,
	// the coordinator, and custom report routes. Empty means standalone.
	ClusterFile string
}

// ReportingConfig holds push-reporting settings.
type ReportingConfig struct {
	// Period is the interval between pushes. Anything below one second
	// disables reporting on this node (default: 60s)
	Period time.Duration
	// Handler is the collector endpoint path pushes are sent to
	// (default: /api/v1/metrics/collector)
	Handler string
}

// CollectorConfig holds settings for the coordinator's ingest store.
type CollectorConfig struct {
	// StaleAfter is how long a source may stay silent before its series
	// are evicted (default: 5m)
	StaleAfter time.Duration
	// SweepInterval is how often the eviction sweep runs (default: 1m)
	SweepInterval time.Duration
}

// HistoryConfig holds settings for the metric history store.
type HistoryConfig struct {
	// Driver selects the backing store: sqlite or postgres (default: sqlite)
	Driver string
	// Path is the SQLite database file (default: pulse-history.db)
	Path string
	// URL is the PostgreSQL connection string (required for postgres)
	URL string
	// MaxOpenConns is the maximum number of open connections (default: 25)
	MaxOpenConns int
	// MaxIdleConns is the maximum number of idle connections (default: 5)
	MaxIdleConns int
	// ConnMaxLifetime is the maximum connection lifetime (default: 5m)
	ConnMaxLifetime time.Duration
	// ConnMaxIdleTime is the maximum idle time for connections (default: 1m)
	ConnMaxIdleTime time.Duration
	// QueryTimeout is the default query timeout (default: 30s)
	QueryTimeout time.Duration
	// SampleInterval is how often collected series are sampled into
	// history (default: 60s)
	SampleInterval time.Duration
	// Retention controls how long samples are kept (default: 7d)
	Retention time.Duration
	// PruneInterval is how often expired samples are pruned (default: 1h)
	PruneInterval time.Duration
}

// ArchiveConfig holds S3/MinIO snapshot archive settings.
type ArchiveConfig struct {
	// Enabled turns on periodic snapshot archiving (default: false)
	Enabled bool
	// Endpoint is the S3/MinIO endpoint URL (required for MinIO, empty for AWS S3)
	Endpoint string
	// Bucket is the bucket name for snapshots (default: pulse-archive)
	Bucket string
	// Region is the AWS region (default: us-east-1)
	Region string
	// AccessKeyID is the access key (required when enabled)
	AccessKeyID string
	// SecretAccessKey is the secret key (required when enabled)
	SecretAccessKey string
	// UseSSL enables SSL for MinIO connections (default: true)
	UseSSL bool
	// SnapshotInterval is how often a full snapshot is archived (default: 15m)
	SnapshotInterval time.Duration
	// Retention controls how long to keep archived snapshots (default: 30d)
	Retention time.Duration
	// CleanupInterval is how often to run archive cleanup (default: 1h)
	CleanupInterval time.Duration
	// CleanupBatchSize limits snapshots deleted per run (default: 100)
	CleanupBatchSize int
}

// StreamConfig holds live metric streaming settings.
type StreamConfig struct {
	// Enabled turns on the websocket stream endpoint (default: true)
	Enabled bool
	// SendBuffer is the per-client outbound message buffer (default: 64)
	SendBuffer int
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error) (default: info)
	Level string
	// Format is the log format (json, console) (default: json)
	Format string
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	// TracingEnabled enables OpenTelemetry tracing (default: false)
	TracingEnabled bool
	// TracingEndpoint is the OTLP collector endpoint (e.g., "localhost:4318")
	TracingEndpoint string
	// TracingInsecure disables TLS for the tracing connection (default: true)
	TracingInsecure bool
	// TracingSampleRate is the sampling rate (0.0 to 1.0) (default: 1.0)
	TracingSampleRate float64
	// Environment is the deployment environment (e.g., "production", "staging")
	Environment string
}

// Load reads configuration from environment variables.
// Environment variables use the PULSE_ prefix.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:        getEnvInt("PULSE_HTTP_PORT", 7700),
			MetricsPort:     getEnvInt("PULSE_METRICS_PORT", 7701),
			ShutdownTimeout: getEnvDuration("PULSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Node: NodeConfig{
			Token:       getEnv("PULSE_NODE_TOKEN", "local"),
			ClusterFile: getEnv("PULSE_CLUSTER_FILE", ""),
		},
		Reporting: ReportingConfig{
			Period:  getEnvDuration("PULSE_REPORTING_PERIOD", 60*time.Second),
			Handler: getEnv("PULSE_REPORTING_HANDLER", "/api/v1/metrics/collector"),
		},
		Collector: CollectorConfig{
			StaleAfter:    getEnvDuration("PULSE_COLLECTOR_STALE_AFTER", 5*time.Minute),
			SweepInterval: getEnvDuration("PULSE_COLLECTOR_SWEEP_INTERVAL", time.Minute),
		},
		History: HistoryConfig{
			Driver:          getEnv("PULSE_HISTORY_DRIVER", "sqlite"),
			Path:            getEnv("PULSE_HISTORY_PATH", "pulse-history.db"),
			URL:             getEnv("PULSE_HISTORY_URL", ""),
			MaxOpenConns:    getEnvInt("PULSE_HISTORY_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("PULSE_HISTORY_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("PULSE_HISTORY_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("PULSE_HISTORY_CONN_MAX_IDLE_TIME", time.Minute),
			QueryTimeout:    getEnvDuration("PULSE_HISTORY_QUERY_TIMEOUT", 30*time.Second),
			SampleInterval:  getEnvDuration("PULSE_HISTORY_SAMPLE_INTERVAL", 60*time.Second),
			Retention:       getEnvDuration("PULSE_HISTORY_RETENTION", 7*24*time.Hour),
			PruneInterval:   getEnvDuration("PULSE_HISTORY_PRUNE_INTERVAL", time.Hour),
		},
		Archive: ArchiveConfig{
			Enabled:          getEnvBool("PULSE_ARCHIVE_ENABLED", false),
			Endpoint:         getEnv("PULSE_ARCHIVE_ENDPOINT", ""),
			Bucket:           getEnv("PULSE_ARCHIVE_BUCKET", "pulse-archive"),
			Region:           getEnv("PULSE_ARCHIVE_REGION", "us-east-1"),
			AccessKeyID:      getEnv("PULSE_ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey:  getEnv("PULSE_ARCHIVE_SECRET_ACCESS_KEY", ""),
			UseSSL:           getEnvBool("PULSE_ARCHIVE_USE_SSL", true),
			SnapshotInterval: getEnvDuration("PULSE_ARCHIVE_SNAPSHOT_INTERVAL", 15*time.Minute),
			Retention:        getEnvDuration("PULSE_ARCHIVE_RETENTION", 30*24*time.Hour),
			CleanupInterval:  getEnvDuration("PULSE_ARCHIVE_CLEANUP_INTERVAL", time.Hour),
			CleanupBatchSize: getEnvInt("PULSE_ARCHIVE_CLEANUP_BATCH_SIZE", 100),
		},
		Stream: StreamConfig{
			Enabled:    getEnvBool("PULSE_STREAM_ENABLED", true),
			SendBuffer: getEnvInt("PULSE_STREAM_SEND_BUFFER", 64),
		},
		Log: LogConfig{
			Level:  getEnv("PULSE_LOG_LEVEL", "info"),
			Format: getEnv("PULSE_LOG_FORMAT", "json"),
		},
		Observability: ObservabilityConfig{
			TracingEnabled:    getEnvBool("PULSE_TRACING_ENABLED", false),
			TracingEndpoint:   getEnv("PULSE_TRACING_ENDPOINT", ""),
			TracingInsecure:   getEnvBool("PULSE_TRACING_INSECURE", true),
			TracingSampleRate: getEnvFloat("PULSE_TRACING_SAMPLE_RATE", 1.0),
			Environment:       getEnv("PULSE_ENVIRONMENT", "development"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set and valid.
func (c *Config) Validate() error {
	var errs []error

	// Server validation
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		errs = append(errs, errors.New("PULSE_HTTP_PORT must be between 1 and 65535"))
	}
	if c.Server.MetricsPort < 1 || c.Server.MetricsPort > 65535 {
		errs = append(errs, errors.New("PULSE_METRICS_PORT must be between 1 and 65535"))
	}

	// Node validation
	if c.Node.Token == "" {
		errs = append(errs, errors.New("PULSE_NODE_TOKEN is required"))
	}
	if strings.Contains(c.Node.Token, "-") {
		errs = append(errs, errors.New("PULSE_NODE_TOKEN must not contain '-'"))
	}

	// Reporting validation. The period itself is unconstrained: anything
	// below one second turns reporting off rather than failing startup.
	if !strings.HasPrefix(c.Reporting.Handler, "/") {
		errs = append(errs, errors.New("PULSE_REPORTING_HANDLER must be an absolute path"))
	}

	// Collector validation
	if c.Collector.StaleAfter <= 0 {
		errs = append(errs, errors.New("PULSE_COLLECTOR_STALE_AFTER must be greater than 0"))
	}
	if c.Collector.SweepInterval <= 0 {
		errs = append(errs, errors.New("PULSE_COLLECTOR_SWEEP_INTERVAL must be greater than 0"))
	}

	// History validation
	switch strings.ToLower(c.History.Driver) {
	case "sqlite":
		if c.History.Path == "" {
			errs = append(errs, errors.New("PULSE_HISTORY_PATH is required for the sqlite driver"))
		}
	case "postgres":
		if c.History.URL == "" {
			errs = append(errs, errors.New("PULSE_HISTORY_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, errors.New("PULSE_HISTORY_DRIVER must be one of: sqlite, postgres"))
	}
	if c.History.MaxOpenConns < 1 {
		errs = append(errs, errors.New("PULSE_HISTORY_MAX_OPEN_CONNS must be at least 1"))
	}
	if c.History.MaxIdleConns < 0 {
		errs = append(errs, errors.New("PULSE_HISTORY_MAX_IDLE_CONNS cannot be negative"))
	}
	if c.History.MaxIdleConns > c.History.MaxOpenConns {
		errs = append(errs, errors.New("PULSE_HISTORY_MAX_IDLE_CONNS cannot exceed MAX_OPEN_CONNS"))
	}
	if c.History.SampleInterval <= 0 {
		errs = append(errs, errors.New("PULSE_HISTORY_SAMPLE_INTERVAL must be greater than 0"))
	}
	if c.History.Retention <= 0 {
		errs = append(errs, errors.New("PULSE_HISTORY_RETENTION must be greater than 0"))
	}
	if c.History.PruneInterval <= 0 {
		errs = append(errs, errors.New("PULSE_HISTORY_PRUNE_INTERVAL must be greater than 0"))
	}

	// Archive validation (conditional)
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("PULSE_ARCHIVE_BUCKET is required when archiving is enabled"))
		}
		if c.Archive.AccessKeyID == "" {
			errs = append(errs, errors.New("PULSE_ARCHIVE_ACCESS_KEY_ID is required when archiving is enabled"))
		}
		if c.Archive.SecretAccessKey == "" {
			errs = append(errs, errors.New("PULSE_ARCHIVE_SECRET_ACCESS_KEY is required when archiving is enabled"))
		}
		if c.Archive.SnapshotInterval <= 0 {
			errs = append(errs, errors.New("PULSE_ARCHIVE_SNAPSHOT_INTERVAL must be greater than 0 when archiving is enabled"))
		}
		if c.Archive.Retention <= 0 {
			errs = append(errs, errors.New("PULSE_ARCHIVE_RETENTION must be greater than 0 when archiving is enabled"))
		}
		if c.Archive.CleanupInterval <= 0 {
			errs = append(errs, errors.New("PULSE_ARCHIVE_CLEANUP_INTERVAL must be greater than 0 when archiving is enabled"))
		}
		if c.Archive.CleanupBatchSize <= 0 {
			errs = append(errs, errors.New("PULSE_ARCHIVE_CLEANUP_BATCH_SIZE must be greater than 0 when archiving is enabled"))
		}
	}

	// Stream validation
	if c.Stream.Enabled && c.Stream.SendBuffer < 1 {
		errs = append(errs, errors.New("PULSE_STREAM_SEND_BUFFER must be at least 1 when streaming is enabled"))
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, errors.New("PULSE_LOG_LEVEL must be one of: debug, info, warn, error"))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, errors.New("PULSE_LOG_FORMAT must be one of: json, console"))
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}

// ValidationError contains multiple validation errors.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap returns the underlying errors for errors.Is/As compatibility.
func (e *ValidationError) Unwrap() []error {
	return e.Errors
}

// Clustered returns true if a cluster file is configured.
func (c *Config) Clustered() bool {
	return c.Node.ClusterFile != ""
}

// ReportingEnabled returns true if the push period is at least one second.
func (c *Config) ReportingEnabled() bool {
	return c.Reporting.Period >= time.Second
}

// PostgresHistory returns true if history is backed by PostgreSQL.
func (c *Config) PostgresHistory() bool {
	return strings.ToLower(c.History.Driver) == "postgres"
}

// ArchiveEnabled returns true if snapshot archiving is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.Archive.Enabled
}

// Helper functions for reading environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
