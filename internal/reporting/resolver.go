package reporting

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/pulse/pulse/internal/cluster"
	"github.com/pulse/pulse/pkg/log"
	"github.com/pulse/pulse/pkg/metrics"
)

// defaultResolveTTL is how long a resolved coordinator address is served
// from cache before the leadership record is consulted again.
const defaultResolveTTL = 30 * time.Second

// Resolve outcomes recorded on node metrics.
const (
	resolveCached       = "cached"
	resolveRefreshed    = "refreshed"
	resolveAbsent       = "absent"
	resolveDisconnected = "disconnected"
	resolveFailed       = "failed"
)

// CoordinatorResolver resolves the coordinator's base URL from the
// leadership record, caching the last known address. The cache is
// fail-static: every failure path returns the previous address, so an
// unreachable or confused coordination store degrades pushes to the last
// known target instead of dropping them. The check timestamp advances at
// attempt time, which throttles lookups against a store that keeps
// failing.
type CoordinatorResolver struct {
	coord   cluster.Coordination
	logger  log.Logger
	metrics *metrics.NodeMetrics
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	cached    string
	lastCheck time.Time
}

// ResolverOption customizes a CoordinatorResolver.
type ResolverOption func(*CoordinatorResolver)

// WithResolveTTL overrides the cache TTL.
func WithResolveTTL(ttl time.Duration) ResolverOption {
	return func(r *CoordinatorResolver) {
		r.ttl = ttl
	}
}

// NewCoordinatorResolver creates a resolver reading the leadership
// record through coord. A nil nm disables resolve outcome metrics.
func NewCoordinatorResolver(coord cluster.Coordination, logger log.Logger, nm *metrics.NodeMetrics, opts ...ResolverOption) *CoordinatorResolver {
	r := &CoordinatorResolver{
		coord:   coord,
		logger:  logger,
		metrics: nm,
		ttl:     defaultResolveTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the coordinator's base URL, or the empty string when
// no address has ever been resolved. The mutex is not held across the
// coordination-store read.
func (r *CoordinatorResolver) Resolve(ctx context.Context) string {
	if r.coord == nil {
		return ""
	}

	now := r.now()

	r.mu.Lock()
	if r.cached != "" && now.Sub(r.lastCheck) < r.ttl {
		cached := r.cached
		r.mu.Unlock()
		r.outcome(resolveCached)
		return cached
	}
	if !r.coord.Connected() {
		cached := r.cached
		r.mu.Unlock()
		r.outcome(resolveDisconnected)
		return cached
	}
	r.lastCheck = now
	stale := r.cached
	r.mu.Unlock()

	data, err := r.coord.Read(ctx, cluster.LeaderPath)
	if err != nil {
		switch {
		case errors.Is(err, cluster.ErrNotFound):
			r.outcome(resolveAbsent)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			r.outcome(resolveFailed)
		default:
			r.logger.Warn().Err(err).Msg("Unable to obtain coordinator address, skipping")
			r.outcome(resolveFailed)
		}
		return stale
	}

	rec, err := cluster.DecodeLeaderRecord(data)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Malformed leadership record, skipping")
		r.outcome(resolveFailed)
		return stale
	}
	if rec.ID == "" {
		r.outcome(resolveAbsent)
		return stale
	}

	id, err := cluster.ParseLeaderID(rec.ID)
	if err != nil {
		r.logger.Warn().Str("id", rec.ID).Msg("Unknown format of leader id, skipping")
		r.outcome(resolveFailed)
		return stale
	}

	base, ok := r.coord.BaseURLFor(id.NodeToken)
	if !ok {
		r.logger.Warn().Str("node", id.NodeToken).Msg("No base URL for coordinator node, skipping")
		r.outcome(resolveFailed)
		return stale
	}
	if u, err := url.ParseRequestURI(base); err != nil || u.Host == "" {
		r.logger.Warn().Str("url", base).Msg("Malformed coordinator URL, skipping")
		r.outcome(resolveFailed)
		return stale
	}

	r.mu.Lock()
	r.cached = base
	r.mu.Unlock()
	r.outcome(resolveRefreshed)
	return base
}

func (r *CoordinatorResolver) outcome(o string) {
	if r.metrics != nil {
		r.metrics.RecordResolve(o)
	}
}
