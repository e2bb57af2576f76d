// Package collector implements the coordinator-side receiving end of the
// telemetry plane: an ingest handler for pushed metric reports and an
// aggregate store keeping the latest families per reporting source, merged
// into cluster-wide group snapshots.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"

	dto "github.com/prometheus/client_model/go"

	"github.com/pulse/pulse/pkg/log"
	"github.com/pulse/pulse/pkg/metrics"
)

// ReportedByLabel is attached to every stored series and names the node
// that pushed it.
const ReportedByLabel = "reported_by"

// RateSuffix names the synthetic gauge family derived from a counter.
const RateSuffix = "_rate"

// Default staleness settings.
const (
	DefaultStaleAfter    = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Report is one decoded push from a reporting node.
type Report struct {
	Group        string
	Label        string
	Reporter     string
	RateUnit     string
	DurationUnit string
	Families     []*dto.MetricFamily
}

// SourceKey identifies one reporting source within a group.
type SourceKey struct {
	Reporter string
	Label    string
}

// Source describes one tracked reporting source.
type Source struct {
	Group    string    `json:"group"`
	Reporter string    `json:"reporter"`
	Label    string    `json:"label,omitempty"`
	LastSeen time.Time `json:"last_seen"`
	Stale    bool      `json:"stale"`
	Families int       `json:"families"`
	Series   int       `json:"series"`
}

// source is the stored state of one reporting source.
type source struct {
	families []*dto.MetricFamily
	series   int
	lastSeen time.Time
	rateUnit string

	// counters holds the last observed counter values by series
	// fingerprint, rates the derived rate since the previous report.
	counters map[string]float64
	rates    map[string]float64
}

// Config configures the aggregate store.
type Config struct {
	// StaleAfter is the window after which a silent source is evicted.
	StaleAfter time.Duration

	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.StaleAfter <= 0 {
		out.StaleAfter = DefaultStaleAfter
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = DefaultSweepInterval
	}
	return out
}

// Store keeps the latest report of every source, keyed by group and then
// by (reporter, label). Sources that stop reporting are evicted by a
// background sweep.
type Store struct {
	logger     log.Logger
	metrics    *metrics.CoordinatorMetrics
	staleAfter time.Duration
	sweepEvery time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	groups map[string]map[SourceKey]*source

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStore creates an aggregate store. A nil cm disables store metrics.
func NewStore(cfg Config, logger log.Logger, cm *metrics.CoordinatorMetrics) *Store {
	cfg = cfg.withDefaults()
	return &Store{
		logger:     logger.With("component", "collector"),
		metrics:    cm,
		staleAfter: cfg.StaleAfter,
		sweepEvery: cfg.SweepInterval,
		now:        time.Now,
		groups:     make(map[string]map[SourceKey]*source),
	}
}

// Ingest stores one report, replacing the source's previous families. The
// store takes ownership of rep.Families. Every series is annotated with
// the reporter's identity, and counter families get a per-unit rate
// derived against the previous report.
func (s *Store) Ingest(rep Report) (Source, error) {
	if rep.Group == "" {
		return Source{}, errors.New("report group must not be empty")
	}
	if rep.Reporter == "" {
		return Source{}, errors.New("report reporter must not be empty")
	}

	series := annotate(rep.Families, rep.Reporter)
	now := s.now()
	key := SourceKey{Reporter: rep.Reporter, Label: rep.Label}

	s.mu.Lock()
	group := s.groups[rep.Group]
	if group == nil {
		group = make(map[SourceKey]*source)
		s.groups[rep.Group] = group
	}

	next := &source{
		families: rep.Families,
		series:   series,
		lastSeen: now,
		rateUnit: rep.RateUnit,
		counters: counterValues(rep.Families),
	}
	if prev := group[key]; prev != nil {
		next.rates = deriveRates(prev, next)
	}
	group[key] = next
	count := len(group)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetActiveSources(rep.Group, count)
	}

	return Source{
		Group:    rep.Group,
		Reporter: rep.Reporter,
		Label:    rep.Label,
		LastSeen: now,
		Families: len(rep.Families),
		Series:   series,
	}, nil
}

// Snapshot merges the families of every source in a group into one
// name-sorted family list, including derived rate families. The second
// return is false when the group is unknown.
func (s *Store) Snapshot(group string) ([]*dto.MetricFamily, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sources, ok := s.groups[group]
	if !ok {
		return nil, false
	}

	merged := make(map[string]*dto.MetricFamily)
	keys := sortedKeys(sources)
	for _, key := range keys {
		src := sources[key]
		s.mergeFamilies(merged, src.families)
		s.mergeFamilies(merged, src.rateFamilies())
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*dto.MetricFamily, 0, len(names))
	for _, name := range names {
		out = append(out, merged[name])
	}
	return out, true
}

// mergeFamilies folds families into the per-name accumulator. Metric
// pointers are shared read-only; accumulator containers are always fresh.
func (s *Store) mergeFamilies(merged map[string]*dto.MetricFamily, families []*dto.MetricFamily) {
	for _, fam := range families {
		name := fam.GetName()
		if name == "" {
			continue
		}
		existing, ok := merged[name]
		if !ok {
			merged[name] = &dto.MetricFamily{
				Name:   fam.Name,
				Help:   fam.Help,
				Type:   fam.Type,
				Metric: append([]*dto.Metric(nil), fam.Metric...),
			}
			continue
		}
		if existing.GetType() != fam.GetType() {
			s.logger.Debug().Str("family", name).Msg("Conflicting family types in snapshot, skipping")
			continue
		}
		existing.Metric = append(existing.Metric, fam.Metric...)
	}
}

// Groups returns the sorted group names with at least one source.
func (s *Store) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sources lists tracked sources. An empty group lists every group.
func (s *Store) Sources(group string) []Source {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-s.staleAfter)

	var out []Source
	for groupName, sources := range s.groups {
		if group != "" && groupName != group {
			continue
		}
		for key, src := range sources {
			out = append(out, Source{
				Group:    groupName,
				Reporter: key.Reporter,
				Label:    key.Label,
				LastSeen: src.lastSeen,
				Stale:    src.lastSeen.Before(cutoff),
				Families: len(src.families),
				Series:   src.series,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		if out[i].Reporter != out[j].Reporter {
			return out[i].Reporter < out[j].Reporter
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// SourceCount returns the number of tracked sources across all groups.
func (s *Store) SourceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sources := range s.groups {
		count += len(sources)
	}
	return count
}

// StaleCount returns the number of sources past the staleness cutoff that
// the sweep has not evicted yet.
func (s *Store) StaleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-s.staleAfter)
	count := 0
	for _, sources := range s.groups {
		for _, src := range sources {
			if src.lastSeen.Before(cutoff) {
				count++
			}
		}
	}
	return count
}

// Start begins the background eviction sweep.
func (s *Store) Start() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return errors.New("collector store already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.sweepLoop(ctx)

	s.logger.Info().
		Dur("stale_after", s.staleAfter).
		Dur("sweep_interval", s.sweepEvery).
		Msg("Started collector store")
	return nil
}

// Stop halts the eviction sweep. Stopping a stopped store is a no-op.
func (s *Store) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.runMu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Stopped collector store")
}

func (s *Store) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep evicts every source whose last report is past the staleness
// window and returns the eviction count.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.staleAfter)

	type evicted struct {
		group string
		key   SourceKey
	}

	s.mu.Lock()
	var dropped []evicted
	for groupName, sources := range s.groups {
		for key, src := range sources {
			if src.lastSeen.Before(cutoff) {
				delete(sources, key)
				dropped = append(dropped, evicted{group: groupName, key: key})
			}
		}
		if s.metrics != nil {
			s.metrics.SetActiveSources(groupName, len(sources))
		}
		if len(sources) == 0 {
			delete(s.groups, groupName)
		}
	}
	s.mu.Unlock()

	if len(dropped) == 0 {
		return 0
	}

	if s.metrics != nil {
		s.metrics.RecordEviction(len(dropped))
	}
	for _, ev := range dropped {
		s.logger.Info().
			Str("group", ev.group).
			Str("reporter", ev.key.Reporter).
			Str("label", ev.key.Label).
			Msg("Evicted stale source")
	}
	return len(dropped)
}

// annotate stamps every metric with the reporter identity and returns the
// series count.
func annotate(families []*dto.MetricFamily, reporter string) int {
	series := 0
	for _, fam := range families {
		for _, m := range fam.Metric {
			series++
			if hasLabel(m, ReportedByLabel) {
				continue
			}
			m.Label = append(m.Label, &dto.LabelPair{
				Name:  proto.String(ReportedByLabel),
				Value: proto.String(reporter),
			})
		}
	}
	return series
}

func hasLabel(m *dto.Metric, name string) bool {
	for _, l := range m.Label {
		if l.GetName() == name {
			return true
		}
	}
	return false
}

// counterValues indexes the counter series of a report by fingerprint.
func counterValues(families []*dto.MetricFamily) map[string]float64 {
	values := make(map[string]float64)
	for _, fam := range families {
		if fam.GetType() != dto.MetricType_COUNTER {
			continue
		}
		name := fam.GetName()
		for _, m := range fam.Metric {
			values[fingerprint(name, m.Label)] = m.Counter.GetValue()
		}
	}
	return values
}

// deriveRates computes per-unit rates for counter series present in both
// reports. Series whose value went backwards (counter reset) get no rate
// until the next report.
func deriveRates(prev, next *source) map[string]float64 {
	elapsed := next.lastSeen.Sub(prev.lastSeen)
	interval := rateInterval(next.rateUnit, elapsed)
	if interval <= 0 {
		return nil
	}

	rates := make(map[string]float64)
	for fp, value := range next.counters {
		old, ok := prev.counters[fp]
		if !ok {
			continue
		}
		delta := value - old
		if delta < 0 {
			continue
		}
		rates[fp] = delta / interval
	}
	if len(rates) == 0 {
		return nil
	}
	return rates
}

// rateInterval converts elapsed wall time into the reporter's rate unit.
func rateInterval(unit string, elapsed time.Duration) float64 {
	switch unit {
	case "minutes":
		return elapsed.Minutes()
	default:
		return elapsed.Seconds()
	}
}

// rateFamilies builds synthetic gauge families from the derived rates,
// one metric per counter series, carrying the series' labels.
func (src *source) rateFamilies() []*dto.MetricFamily {
	if len(src.rates) == 0 {
		return nil
	}

	unit := src.rateUnit
	if unit == "" {
		unit = "seconds"
	}

	var out []*dto.MetricFamily
	for _, fam := range src.families {
		if fam.GetType() != dto.MetricType_COUNTER {
			continue
		}
		name := fam.GetName()

		var rateFam *dto.MetricFamily
		for _, m := range fam.Metric {
			rate, ok := src.rates[fingerprint(name, m.Label)]
			if !ok {
				continue
			}
			if rateFam == nil {
				rateFam = &dto.MetricFamily{
					Name: proto.String(name + RateSuffix),
					Help: proto.String(fmt.Sprintf("Rate of %s per %s.", name, strings.TrimSuffix(unit, "s"))),
					Type: dto.MetricType_GAUGE.Enum(),
				}
			}
			rateFam.Metric = append(rateFam.Metric, &dto.Metric{
				Label: m.Label,
				Gauge: &dto.Gauge{Value: proto.Float64(rate)},
			})
		}
		if rateFam != nil {
			out = append(out, rateFam)
		}
	}
	return out
}

// fingerprint identifies one series by family name and label set.
func fingerprint(name string, labels []*dto.LabelPair) string {
	pairs := make([]string, 0, len(labels))
	for _, l := range labels {
		pairs = append(pairs, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

func sortedKeys(sources map[SourceKey]*source) []SourceKey {
	keys := make([]SourceKey, 0, len(sources))
	for key := range sources {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Reporter != keys[j].Reporter {
			return keys[i].Reporter < keys[j].Reporter
		}
		return keys[i].Label < keys[j].Label
	})
	return keys
}
