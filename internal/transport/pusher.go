package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	dto "github.com/prometheus/client_model/go"

	"github.com/pulse/pulse/pkg/log"
	"github.com/pulse/pulse/pkg/metrics"
)

// pushFormat is the wire format of report payloads.
var pushFormat = expfmt.NewFormat(expfmt.TypeProtoDelim)

// Push outcome statuses recorded on node metrics.
const (
	pushOK      = "ok"
	pushError   = "error"
	pushSkipped = "skipped"
)

// Pusher periodically gathers routed registries and posts reports to the
// resolved collector target. Failures are quiet: a failed or skipped
// cycle is recorded and logged at debug level, and the next tick tries
// again.
type Pusher struct {
	cfg     Config
	logger  log.Logger
	metrics *metrics.NodeMetrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// batchKey identifies one report within a push cycle.
type batchKey struct {
	group string
	label string
}

// NewPusher validates cfg and builds a pusher. A nil nm disables push
// metrics.
func NewPusher(cfg Config, logger log.Logger, nm *metrics.NodeMetrics) (*Pusher, error) {
	if !strings.HasPrefix(cfg.Handler, "/") {
		return nil, fmt.Errorf("handler %q must be an absolute path", cfg.Handler)
	}
	if cfg.ReporterID == "" {
		return nil, errors.New("reporter id must not be empty")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("target resolver is required")
	}
	if cfg.Registries == nil {
		return nil, errors.New("registry manager is required")
	}
	if cfg.Broadcast {
		return nil, errors.New("broadcast delivery is not implemented")
	}

	return &Pusher{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: nm,
	}, nil
}

// Start begins the push loop. The first report goes out one period after
// start, not immediately.
func (p *Pusher) Start(period time.Duration) error {
	if period < time.Second {
		return fmt.Errorf("push period %s is below the one second minimum", period)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("pusher already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go p.loop(ctx, period)

	p.logger.Info().
		Str("reporter", p.cfg.ReporterID).
		Str("handler", p.cfg.Handler).
		Dur("period", period).
		Int("routes", len(p.cfg.Routes)).
		Msg("Started metric pusher")
	return nil
}

// Close stops the push loop and waits for the in-flight cycle. Closing
// an already closed pusher is a no-op.
func (p *Pusher) Close() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info().Str("reporter", p.cfg.ReporterID).Msg("Stopped metric pusher")
	return nil
}

func (p *Pusher) loop(ctx context.Context, period time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Push(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Debug().Err(err).Msg("Error sending metric report")
			}
		}
	}
}

// Push runs one report cycle synchronously: resolve the target, gather
// and batch routed registries, and post one report per (group, label).
func (p *Pusher) Push(ctx context.Context) error {
	start := time.Now()

	target := p.cfg.Resolver.Resolve(ctx)
	if target == "" {
		p.record(pushSkipped, time.Since(start), 0)
		p.logger.Debug().Msg("No collector target resolved, skipping report")
		return nil
	}

	batches := p.collect()
	if len(batches) == 0 {
		p.record(pushSkipped, time.Since(start), 0)
		return nil
	}

	var sent int
	var errs []error
	for key, families := range batches {
		n, err := p.send(ctx, target, key, families)
		if err != nil {
			errs = append(errs, fmt.Errorf("report %s/%s: %w", key.group, key.label, err))
			continue
		}
		sent += n
	}

	if len(errs) > 0 {
		p.record(pushError, time.Since(start), sent)
		return errors.Join(errs...)
	}

	p.record(pushOK, time.Since(start), sent)
	p.logger.Debug().
		Str("target", target).
		Int("reports", len(batches)).
		Int("bytes", sent).
		Msg("Sent metric reports")
	return nil
}

// collect gathers every registry selected by at least one route and
// merges the admitted families into per-(group, label) batches. Every
// metric is tagged with the origin registry before batching.
func (p *Pusher) collect() map[batchKey][]*dto.MetricFamily {
	merged := make(map[batchKey]map[string]*dto.MetricFamily)

	for _, name := range p.cfg.Registries.Names() {
		var families []*dto.MetricFamily
		gathered := false

		for _, route := range p.cfg.Routes {
			if !route.Matches(name) {
				continue
			}
			if !gathered {
				var err error
				families, err = p.cfg.Registries.Gather(name)
				if err != nil {
					p.logger.Warn().Err(err).Str("registry", name).Msg("Failed to gather registry, skipping")
					break
				}
				tagOrigin(families, name)
				gathered = true
			}

			key := batchKey{group: route.RenderGroup(name), label: route.RenderLabel(name)}
			out := merged[key]
			if out == nil {
				out = make(map[string]*dto.MetricFamily)
				merged[key] = out
			}

			for _, fam := range families {
				famName := fam.GetName()
				if famName == "" || !route.SelectsMetric(famName) {
					continue
				}
				if p.cfg.SkipHistograms && isDistribution(fam) {
					continue
				}
				if p.cfg.SkipAggregateValues && fam.GetType() == dto.MetricType_SUMMARY {
					fam = stripQuantiles(fam)
				}
				existing, ok := out[famName]
				if !ok {
					out[famName] = &dto.MetricFamily{
						Name:   fam.Name,
						Help:   fam.Help,
						Type:   fam.Type,
						Metric: append([]*dto.Metric(nil), fam.Metric...),
					}
					continue
				}
				if existing.GetType() != fam.GetType() {
					p.logger.Debug().Str("family", famName).Msg("Conflicting family types in report, skipping")
					continue
				}
				existing.Metric = append(existing.Metric, fam.Metric...)
			}
		}
	}

	batches := make(map[batchKey][]*dto.MetricFamily, len(merged))
	for key, byName := range merged {
		if len(byName) == 0 {
			continue
		}
		names := make([]string, 0, len(byName))
		for n := range byName {
			names = append(names, n)
		}
		sort.Strings(names)
		list := make([]*dto.MetricFamily, 0, len(names))
		for _, n := range names {
			list = append(list, byName[n])
		}
		batches[key] = list
	}
	return batches
}

// send posts one report and returns the payload size.
func (p *Pusher) send(ctx context.Context, target string, key batchKey, families []*dto.MetricFamily) (int, error) {
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, pushFormat)
	for _, fam := range families {
		if err := enc.Encode(fam); err != nil {
			return 0, fmt.Errorf("encode family %s: %w", fam.GetName(), err)
		}
	}
	size := buf.Len()

	u, err := url.Parse(target)
	if err != nil {
		return 0, fmt.Errorf("invalid target %q: %w", target, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + p.cfg.Handler

	q := u.Query()
	q.Set(ParamGroup, key.group)
	if key.label != "" {
		q.Set(ParamLabel, key.label)
	}
	q.Set(ParamReporter, p.cfg.ReporterID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", string(pushFormat))
	req.Header.Set(HeaderRateUnit, p.cfg.RateUnit)
	req.Header.Set(HeaderDurationUnit, p.cfg.DurationUnit)

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return size, nil
}

func (p *Pusher) record(status string, elapsed time.Duration, bytes int) {
	if p.metrics != nil {
		p.metrics.RecordPush(status, elapsed.Seconds(), bytes)
	}
}

// tagOrigin stamps every metric with the registry it was gathered from.
func tagOrigin(families []*dto.MetricFamily, registry string) {
	for _, fam := range families {
		for _, m := range fam.Metric {
			if hasLabel(m, OriginLabel) {
				continue
			}
			m.Label = append(m.Label, &dto.LabelPair{
				Name:  proto.String(OriginLabel),
				Value: proto.String(registry),
			})
		}
	}
}

func hasLabel(m *dto.Metric, name string) bool {
	for _, l := range m.Label {
		if l.GetName() == name {
			return true
		}
	}
	return false
}

func isDistribution(fam *dto.MetricFamily) bool {
	switch fam.GetType() {
	case dto.MetricType_HISTOGRAM, dto.MetricType_SUMMARY:
		return true
	default:
		return false
	}
}

// stripQuantiles copies a summary family without its quantile values,
// keeping the observation count and sum.
func stripQuantiles(fam *dto.MetricFamily) *dto.MetricFamily {
	out := &dto.MetricFamily{
		Name: fam.Name,
		Help: fam.Help,
		Type: fam.Type,
	}
	for _, m := range fam.Metric {
		stripped := &dto.Metric{
			Label:       m.Label,
			TimestampMs: m.TimestampMs,
		}
		if s := m.GetSummary(); s != nil {
			stripped.Summary = &dto.Summary{
				SampleCount: s.SampleCount,
				SampleSum:   s.SampleSum,
			}
		}
		out.Metric = append(out.Metric, stripped)
	}
	return out
}
