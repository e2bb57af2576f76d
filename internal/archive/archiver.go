package archive

import (
	"context"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/pulse/pulse/pkg/log"
)

// SnapshotSource supplies the group snapshots to archive.
type SnapshotSource interface {
	Groups() []string
	Snapshot(group string) ([]*dto.MetricFamily, bool)
}

// ArchiverConfig defines periodic snapshot export settings.
type ArchiverConfig struct {
	Interval time.Duration
}

// Archiver periodically exports every aggregate group snapshot to the
// archive.
type Archiver struct {
	source   SnapshotSource
	storage  *Storage
	logger   log.Logger
	interval time.Duration
	now      func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(cfg ArchiverConfig, source SnapshotSource, storage *Storage, logger log.Logger) *Archiver {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	return &Archiver{
		source:   source,
		storage:  storage,
		logger:   logger.With("component", "archiver"),
		interval: interval,
		now:      time.Now,
	}
}

// Start begins the export loop until the context is canceled.
func (a *Archiver) Start(ctx context.Context) {
	a.logger.Info().Dur("interval", a.interval).Msg("Starting snapshot archiver")

	go func() {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce archives the current snapshot of every group.
func (a *Archiver) RunOnce(ctx context.Context) {
	takenAt := a.now()
	archived := 0

	for _, group := range a.source.Groups() {
		families, ok := a.source.Snapshot(group)
		if !ok || len(families) == 0 {
			continue
		}

		doc := NewDocument(group, takenAt, families)
		if _, err := a.storage.Put(ctx, doc); err != nil {
			a.logger.Warn().Err(err).Str("group", group).Msg("Failed to archive snapshot")
			continue
		}
		archived++
	}

	if archived > 0 {
		a.logger.Debug().Int("groups", archived).Msg("Archived group snapshots")
	}
}
