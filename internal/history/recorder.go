package history

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/pulse/pulse/pkg/log"
	"github.com/pulse/pulse/pkg/metrics"
)

// Recorder defaults.
const (
	DefaultSampleInterval = time.Minute
	DefaultRetention      = 7 * 24 * time.Hour
	DefaultPruneInterval  = time.Hour
)

// SnapshotSource provides the aggregate snapshots to sample.
type SnapshotSource interface {
	Groups() []string
	Snapshot(group string) ([]*dto.MetricFamily, bool)
}

// RecorderConfig configures the history recorder.
type RecorderConfig struct {
	// SampleInterval is how often snapshots are walked into the store.
	SampleInterval time.Duration

	// Retention is how long points are kept.
	Retention time.Duration

	// PruneInterval is how often retention is enforced.
	PruneInterval time.Duration
}

func (c *RecorderConfig) withDefaults() RecorderConfig {
	out := *c
	if out.SampleInterval <= 0 {
		out.SampleInterval = DefaultSampleInterval
	}
	if out.Retention <= 0 {
		out.Retention = DefaultRetention
	}
	if out.PruneInterval <= 0 {
		out.PruneInterval = DefaultPruneInterval
	}
	return out
}

// Recorder periodically samples aggregate snapshots into the history
// store and enforces the retention window.
type Recorder struct {
	store   Store
	source  SnapshotSource
	logger  log.Logger
	metrics *metrics.CoordinatorMetrics

	sampleEvery time.Duration
	retention   time.Duration
	pruneEvery  time.Duration
	now         func() time.Time

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRecorder creates a recorder. A nil cm disables recorder metrics.
func NewRecorder(cfg RecorderConfig, store Store, source SnapshotSource, logger log.Logger, cm *metrics.CoordinatorMetrics) *Recorder {
	cfg = cfg.withDefaults()
	return &Recorder{
		store:       store,
		source:      source,
		logger:      logger.With("component", "recorder"),
		metrics:     cm,
		sampleEvery: cfg.SampleInterval,
		retention:   cfg.Retention,
		pruneEvery:  cfg.PruneInterval,
		now:         time.Now,
	}
}

// Start begins the sampling and pruning loops.
func (r *Recorder) Start() error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return errors.New("recorder already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go r.loop(ctx)

	r.logger.Info().
		Dur("sample_interval", r.sampleEvery).
		Dur("retention", r.retention).
		Msg("Started history recorder")
	return nil
}

// Stop halts the recorder. Stopping a stopped recorder is a no-op.
func (r *Recorder) Stop() {
	r.runMu.Lock()
	if !r.running {
		r.runMu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.runMu.Unlock()

	cancel()
	r.wg.Wait()
	r.logger.Info().Msg("Stopped history recorder")
}

func (r *Recorder) loop(ctx context.Context) {
	defer r.wg.Done()

	sample := time.NewTicker(r.sampleEvery)
	defer sample.Stop()
	prune := time.NewTicker(r.pruneEvery)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sample.C:
			if err := r.Sample(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn().Err(err).Msg("Failed to sample snapshots into history")
			}
		case <-prune.C:
			r.PruneOnce(ctx)
		}
	}
}

// Sample walks every group snapshot into the store once.
func (r *Recorder) Sample(ctx context.Context) error {
	now := r.now()

	var points []Point
	for _, group := range r.source.Groups() {
		families, ok := r.source.Snapshot(group)
		if !ok {
			continue
		}
		points = append(points, pointsFromFamilies(group, now, families)...)
	}
	if len(points) == 0 {
		return nil
	}

	if err := r.store.Append(ctx, points); err != nil {
		if r.metrics != nil {
			r.metrics.RecordHistoryAppend("error")
		}
		return err
	}

	if r.metrics != nil {
		r.metrics.RecordHistoryAppend("ok")
	}
	r.logger.Debug().Int("points", len(points)).Msg("Sampled snapshots into history")
	return nil
}

// PruneOnce enforces the retention window once.
func (r *Recorder) PruneOnce(ctx context.Context) {
	cutoff := r.now().Add(-r.retention)

	removed, err := r.store.Prune(ctx, cutoff)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Warn().Err(err).Msg("Failed to prune history")
		}
		return
	}

	if r.metrics != nil {
		r.metrics.RecordHistoryPrune(removed)
	}
	if removed > 0 {
		r.logger.Info().Int64("points", removed).Msg("Pruned history points")
	}
}

// pointsFromFamilies flattens a snapshot into history points. Histogram
// and summary families carry no single value and are skipped.
func pointsFromFamilies(group string, ts time.Time, families []*dto.MetricFamily) []Point {
	var points []Point
	for _, fam := range families {
		name := fam.GetName()
		if name == "" {
			continue
		}
		for _, m := range fam.Metric {
			value, ok := sampleValue(fam.GetType(), m)
			if !ok {
				continue
			}
			points = append(points, Point{
				Time:   ts,
				Group:  group,
				Family: name,
				Labels: labelString(m.Label),
				Value:  value,
			})
		}
	}
	return points
}

func sampleValue(t dto.MetricType, m *dto.Metric) (float64, bool) {
	switch t {
	case dto.MetricType_COUNTER:
		return m.Counter.GetValue(), true
	case dto.MetricType_GAUGE:
		return m.Gauge.GetValue(), true
	case dto.MetricType_UNTYPED:
		return m.Untyped.GetValue(), true
	default:
		return 0, false
	}
}

// labelString renders a label set as a stable sorted k=v list.
func labelString(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(labels))
	for _, l := range labels {
		pairs = append(pairs, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}
