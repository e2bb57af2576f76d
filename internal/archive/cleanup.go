package archive

import (
	"context"
	"time"

	"github.com/pulse/pulse/pkg/log"
)

// CleanupConfig defines retention cleanup settings.
type CleanupConfig struct {
	Interval  time.Duration
	Retention time.Duration
	BatchSize int
}

// CleanupService removes archived snapshots past the retention window.
type CleanupService struct {
	storage   *Storage
	logger    log.Logger
	interval  time.Duration
	retention time.Duration
	batchSize int
	now       func() time.Time
}

// NewCleanupService creates a new CleanupService.
func NewCleanupService(cfg CleanupConfig, storage *Storage, logger log.Logger) *CleanupService {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &CleanupService{
		storage:   storage,
		logger:    logger.With("component", "archive_cleanup"),
		interval:  interval,
		retention: retention,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Start begins the cleanup loop until the context is canceled.
func (s *CleanupService) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Dur("retention", s.retention).
		Int("batch_size", s.batchSize).
		Msg("Starting archive cleanup")

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			s.run(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *CleanupService) run(ctx context.Context) {
	cutoff := s.now().Add(-s.retention)
	deleted := 0

	for {
		n, err := s.storage.DeleteOlderThan(ctx, cutoff, s.batchSize)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to clean up expired snapshots")
			return
		}
		deleted += n
		if n < s.batchSize {
			break
		}
	}

	if deleted > 0 {
		s.logger.Info().
			Int("deleted", deleted).
			Any("cutoff", cutoff).
			Msg("Archive cleanup completed")
	}
}
