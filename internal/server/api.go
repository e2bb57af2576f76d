package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/common/expfmt"

	dto "github.com/prometheus/client_model/go"

	"github.com/pulse/pulse/internal/collector"
	"github.com/pulse/pulse/internal/history"
	"github.com/pulse/pulse/pkg/health"
	"github.com/pulse/pulse/pkg/log"
)

// AggregateStore defines the interface for serving merged group snapshots.
type AggregateStore interface {
	Groups() []string
	Snapshot(group string) ([]*dto.MetricFamily, bool)
	Sources(group string) []collector.Source
}

// APIConfig holds configuration for the REST API.
type APIConfig struct {
	// CollectorPath is the ingest endpoint path (default: /api/v1/metrics/collector).
	CollectorPath string
	// QueryTimeout bounds history queries (default: 30s).
	QueryTimeout time.Duration
}

// DefaultAPIConfig returns sensible defaults for API configuration.
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		CollectorPath: "/api/v1/metrics/collector",
		QueryTimeout:  30 * time.Second,
	}
}

// API serves the coordinator's REST surface: group snapshots, tracked
// sources, history queries, and health probes. Dependencies left nil
// simply don't get routes, so a plain reporting node can host the same
// API with only its health endpoints.
type API struct {
	config     APIConfig
	aggregates AggregateStore
	history    history.Store
	ingest     http.Handler
	checks     []health.Check
	logger     log.Logger
}

// NewAPI creates the REST API. aggregates, hist, and ingest may each be
// nil on nodes that don't run the corresponding service.
func NewAPI(cfg APIConfig, aggregates AggregateStore, hist history.Store, ingest http.Handler, logger log.Logger) *API {
	if cfg.CollectorPath == "" {
		cfg.CollectorPath = DefaultAPIConfig().CollectorPath
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultAPIConfig().QueryTimeout
	}
	return &API{
		config:     cfg,
		aggregates: aggregates,
		history:    hist,
		ingest:     ingest,
		logger:     logger.With("component", "api"),
	}
}

// AddHealthCheck registers a check evaluated by the readiness endpoint.
func (a *API) AddHealthCheck(c health.Check) {
	a.checks = append(a.checks, c)
}

// RegisterRoutes registers the API routes on the given mux. Routes whose
// backing dependency is nil are skipped.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	if a.ingest != nil {
		mux.Handle("POST "+a.config.CollectorPath, a.ingest)
	}
	if a.aggregates != nil {
		mux.HandleFunc("GET /api/v1/metrics/groups", a.handleListGroups)
		mux.HandleFunc("GET /api/v1/metrics/groups/{group}", a.handleShowGroup)
		mux.HandleFunc("GET /api/v1/metrics/sources", a.handleListSources)
	}
	if a.history != nil {
		mux.HandleFunc("GET /api/v1/history", a.handleQueryHistory)
		mux.HandleFunc("GET /api/v1/history/groups", a.handleHistoryGroups)
	}
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /readyz", a.handleReadyz)
}

// GroupSummary describes one aggregate group in the listing response.
type GroupSummary struct {
	Group   string `json:"group"`
	Sources int    `json:"sources"`
	Series  int    `json:"series"`
}

// handleListGroups lists the aggregate groups currently tracked.
func (a *API) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups := a.aggregates.Groups()

	summaries := make([]GroupSummary, 0, len(groups))
	for _, group := range groups {
		sources := a.aggregates.Sources(group)
		series := 0
		for _, src := range sources {
			series += src.Series
		}
		summaries = append(summaries, GroupSummary{
			Group:   group,
			Sources: len(sources),
			Series:  series,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"groups": summaries,
		"count":  len(summaries),
	})
}

// handleShowGroup renders a group's merged snapshot as Prometheus text
// exposition.
func (a *API) handleShowGroup(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")

	families, ok := a.aggregates.Snapshot(group)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown group: "+group)
		return
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	w.WriteHeader(http.StatusOK)

	enc := expfmt.NewEncoder(w, format)
	for _, fam := range families {
		if err := enc.Encode(fam); err != nil {
			a.logger.Warn().
				Err(err).
				Str("group", group).
				Msg("Failed to encode snapshot family")
			return
		}
	}
}

// handleListSources lists tracked reporting sources, optionally filtered
// by group.
func (a *API) handleListSources(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	sources := a.aggregates.Sources(group)
	if sources == nil {
		sources = []collector.Source{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources": sources,
		"count":   len(sources),
	})
}

// handleQueryHistory serves sampled history points. Filters arrive as
// query parameters: group, family, since, until (RFC 3339), and limit.
func (a *API) handleQueryHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	opts := history.QueryOpts{
		Group:  query.Get("group"),
		Family: query.Get("family"),
	}

	if since := query.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp: "+since)
			return
		}
		opts.Since = t
	}

	if until := query.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until timestamp: "+until)
			return
		}
		opts.Until = t
	}

	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: "+limit)
			return
		}
		opts.Limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.config.QueryTimeout)
	defer cancel()

	points, err := a.history.Query(ctx, opts)
	if err != nil {
		a.logger.Error().Err(err).Msg("History query failed")
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if points == nil {
		points = []history.Point{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"points": points,
		"count":  len(points),
	})
}

// handleHistoryGroups lists the groups present in the history store.
func (a *API) handleHistoryGroups(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.config.QueryTimeout)
	defer cancel()

	groups, err := a.history.Groups(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("History groups query failed")
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if groups == nil {
		groups = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"groups": groups,
		"count":  len(groups),
	})
}

// handleHealthz is the liveness probe.
func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyzCheckTimeout bounds each readiness check.
const readyzCheckTimeout = 5 * time.Second

// handleReadyz is the readiness probe. It runs every registered health
// check and reports 503 when any is unhealthy. Degraded components still
// count as ready.
func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyzCheckTimeout)
	defer cancel()

	status := health.StatusHealthy
	results := make([]health.Result, 0, len(a.checks))

	for _, check := range a.checks {
		result := runCheck(ctx, check)
		results = append(results, result)

		switch result.Status {
		case health.StatusUnhealthy:
			status = health.StatusUnhealthy
		case health.StatusDegraded:
			if status == health.StatusHealthy {
				status = health.StatusDegraded
			}
		}
	}

	code := http.StatusOK
	if status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": results,
	})
}

// runCheck evaluates one health check, preferring the detailed form.
func runCheck(ctx context.Context, check health.Check) health.Result {
	if detailed, ok := check.(health.DetailedCheck); ok {
		return detailed.CheckDetailed(ctx)
	}

	if err := check.Check(ctx); err != nil {
		return health.Result{
			Name:    check.Name(),
			Status:  health.StatusUnhealthy,
			Message: err.Error(),
		}
	}
	return health.Result{
		Name:   check.Name(),
		Status: health.StatusHealthy,
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
