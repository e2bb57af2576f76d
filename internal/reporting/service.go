package reporting

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pulse/pulse/internal/cluster"
	"github.com/pulse/pulse/internal/transport"
	"github.com/pulse/pulse/pkg/log"
	"github.com/pulse/pulse/pkg/metrics"
	"github.com/pulse/pulse/pkg/tracing"
)

// DefaultHandler is the collector endpoint path reports are sent to.
const DefaultHandler = "/api/v1/metrics/collector"

// MinPeriod is the shortest usable push period. Anything below turns the
// reporter off instead of hammering the collector.
const MinPeriod = time.Second

// Config configures the reporting service.
type Config struct {
	// Period is the push interval. Below MinPeriod the service attaches
	// as a no-op.
	Period time.Duration

	// Handler overrides the collector endpoint path.
	Handler string

	// Routes replaces the built-in route table when non-empty.
	Routes []RouteSpec

	// IncludeDistributions keeps histogram and summary families, with
	// their quantile values, in reports. Off by default.
	IncludeDistributions bool

	// ResolveTTL overrides the coordinator address cache TTL.
	ResolveTTL time.Duration

	// EnableTracing wraps the push client so each delivery carries trace
	// context to the coordinator.
	EnableTracing bool
}

// Service owns push-mode reporting on a node. Construction compiles the
// route table; Attach starts a pusher against the node's cluster
// coordination; Stop shuts it down. All three are safe to call from
// multiple goroutines.
type Service struct {
	logger  log.Logger
	manager *metrics.Manager
	nodeM   *metrics.NodeMetrics

	period               time.Duration
	handler              string
	routes               []*Route
	includeDistributions bool
	resolveTTL           time.Duration
	enableTracing        bool

	mu       sync.Mutex
	pusher   *transport.Pusher
	resolver *CoordinatorResolver
}

// NewService compiles cfg into a reporting service. An invalid route
// table rejects the whole config with a ConfigError; no partial table is
// ever installed.
func NewService(cfg Config, manager *metrics.Manager, logger log.Logger, nm *metrics.NodeMetrics) (*Service, error) {
	specs := cfg.Routes
	if len(specs) == 0 {
		specs = DefaultRoutes(manager.Prefix())
	}
	routes, err := CompileRoutes(specs)
	if err != nil {
		return nil, err
	}

	handler := cfg.Handler
	if handler == "" {
		handler = DefaultHandler
	}
	if !strings.HasPrefix(handler, "/") {
		return nil, &ConfigError{Errors: []error{
			fmt.Errorf("handler %q must be an absolute path", handler),
		}}
	}

	svc := &Service{
		logger:               logger.With("component", "reporting"),
		manager:              manager,
		nodeM:                nm,
		period:               cfg.Period,
		handler:              handler,
		routes:               routes,
		includeDistributions: cfg.IncludeDistributions,
		resolveTTL:           cfg.ResolveTTL,
		enableTracing:        cfg.EnableTracing,
	}
	if !svc.Enabled() {
		svc.logger.Info().Dur("period", svc.period).Msg("Turning off node reporter, period below minimum")
	}
	return svc, nil
}

// Routes returns the compiled route table.
func (s *Service) Routes() []*Route {
	out := make([]*Route, len(s.routes))
	copy(out, s.routes)
	return out
}

// Enabled reports whether the configured period allows reporting at all.
func (s *Service) Enabled() bool {
	return s.period >= MinPeriod
}

// Attach binds the service to a cluster node and starts pushing. An
// ineligible attach (node not coordinated, or period below MinPeriod)
// returns without touching an already running pusher. An eligible attach
// replaces any running pusher with a fresh one.
func (s *Service) Attach(node cluster.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if node == nil || !node.Coordinated() {
		s.logger.Info().Msg("Node is not cluster-coordinated, reporter stays off")
		return nil
	}
	if !s.Enabled() {
		// Construction already announced the disabled state.
		return nil
	}

	if s.pusher != nil {
		s.pusher.Close()
		s.pusher = nil
	}

	coord := node.Coordination()

	var resolverOpts []ResolverOption
	if s.resolveTTL > 0 {
		resolverOpts = append(resolverOpts, WithResolveTTL(s.resolveTTL))
	}
	resolver := NewCoordinatorResolver(coord, s.logger, s.nodeM, resolverOpts...)

	routes := make([]transport.Route, len(s.routes))
	for i, r := range s.routes {
		routes[i] = r
	}

	client := node.HTTPClient()
	if s.enableTracing && client != nil {
		traced := *client
		traced.Transport = tracing.RoundTripper(traced.Transport)
		client = &traced
	}

	pusher, err := transport.NewPusher(transport.Config{
		Handler:             s.handler,
		ReporterID:          coord.NodeID(),
		Resolver:            resolver,
		Registries:          s.manager,
		Routes:              routes,
		Client:              client,
		SkipHistograms:      !s.includeDistributions,
		SkipAggregateValues: !s.includeDistributions,
	}, s.logger, s.nodeM)
	if err != nil {
		return err
	}
	if err := pusher.Start(s.period); err != nil {
		return err
	}

	s.pusher = pusher
	s.resolver = resolver
	if s.nodeM != nil {
		s.nodeM.SetActiveRoutes(len(s.routes))
	}

	s.logger.Info().
		Str("reporter", coord.NodeID()).
		Int("routes", len(s.routes)).
		Dur("period", s.period).
		Msg("Attached node reporter")
	return nil
}

// Stop shuts down the pusher. Stopping a stopped service is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pusher == nil {
		return
	}
	s.pusher.Close()
	s.pusher = nil
	s.resolver = nil
	if s.nodeM != nil {
		s.nodeM.SetActiveRoutes(0)
	}
	s.logger.Info().Msg("Stopped node reporter")
}

// Running reports whether a pusher is currently attached.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pusher != nil
}
