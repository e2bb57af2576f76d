package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	dto "github.com/prometheus/client_model/go"

	"github.com/pulse/pulse/internal/collector"
	"github.com/pulse/pulse/internal/history"
	"github.com/pulse/pulse/pkg/health"
	"github.com/pulse/pulse/pkg/log"
)

// fakeAggregates implements AggregateStore for testing.
type fakeAggregates struct {
	snapshots map[string][]*dto.MetricFamily
	sources   []collector.Source
}

func (f *fakeAggregates) Groups() []string {
	names := make([]string, 0, len(f.snapshots))
	for name := range f.snapshots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *fakeAggregates) Snapshot(group string) ([]*dto.MetricFamily, bool) {
	families, ok := f.snapshots[group]
	return families, ok
}

func (f *fakeAggregates) Sources(group string) []collector.Source {
	var out []collector.Source
	for _, src := range f.sources {
		if group != "" && src.Group != group {
			continue
		}
		out = append(out, src)
	}
	return out
}

// fakeHistory implements history.Store for testing.
type fakeHistory struct {
	points   []history.Point
	groups   []string
	queryErr error
	lastOpts history.QueryOpts
}

func (f *fakeHistory) Append(ctx context.Context, points []history.Point) error { return nil }

func (f *fakeHistory) Query(ctx context.Context, opts history.QueryOpts) ([]history.Point, error) {
	f.lastOpts = opts
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.points, nil
}

func (f *fakeHistory) Groups(ctx context.Context) ([]string, error) { return f.groups, nil }

func (f *fakeHistory) Prune(ctx context.Context, olderThan time.Time) (int64, error) { return 0, nil }

func (f *fakeHistory) Ping(ctx context.Context) error { return nil }

func (f *fakeHistory) Driver() string { return "fake" }

func (f *fakeHistory) Close() error { return nil }

// stubCheck implements health.Check for testing.
type stubCheck struct {
	name string
	err  error
}

func (c stubCheck) Name() string                    { return c.name }
func (c stubCheck) Check(ctx context.Context) error { return c.err }

func gaugeFamily(name string, value float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{
			{Gauge: &dto.Gauge{Value: proto.Float64(value)}},
		},
	}
}

func newTestMux(t *testing.T, agg AggregateStore, hist history.Store, ingest http.Handler) (*http.ServeMux, *API) {
	t.Helper()
	api := NewAPI(DefaultAPIConfig(), agg, hist, ingest, log.NewNop())
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	return mux, api
}

func TestHandleListGroups(t *testing.T) {
	agg := &fakeAggregates{
		snapshots: map[string][]*dto.MetricFamily{
			"coordinator": {gaugeFamily("heap_bytes", 42)},
			"zonal":       {gaugeFamily("heap_bytes", 7)},
		},
		sources: []collector.Source{
			{Group: "coordinator", Reporter: "alpha", Series: 3},
			{Group: "coordinator", Reporter: "beta", Series: 2},
			{Group: "zonal", Reporter: "alpha", Series: 4},
		},
	}
	mux, _ := newTestMux(t, agg, nil, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/groups", nil))

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Groups []GroupSummary `json:"groups"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	require.Equal(t, 2, resp.Count)
	assert.Equal(t, GroupSummary{Group: "coordinator", Sources: 2, Series: 5}, resp.Groups[0])
	assert.Equal(t, GroupSummary{Group: "zonal", Sources: 1, Series: 4}, resp.Groups[1])
}

func TestHandleShowGroup(t *testing.T) {
	agg := &fakeAggregates{
		snapshots: map[string][]*dto.MetricFamily{
			"coordinator": {gaugeFamily("heap_bytes", 42)},
		},
	}
	mux, _ := newTestMux(t, agg, nil, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/groups/coordinator", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rr.Body.String(), "# TYPE heap_bytes gauge")
	assert.Contains(t, rr.Body.String(), "heap_bytes 42")
}

func TestHandleShowGroup_Unknown(t *testing.T) {
	mux, _ := newTestMux(t, &fakeAggregates{snapshots: map[string][]*dto.MetricFamily{}}, nil, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/groups/missing", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "missing")
}

func TestHandleListSources(t *testing.T) {
	agg := &fakeAggregates{
		snapshots: map[string][]*dto.MetricFamily{},
		sources: []collector.Source{
			{Group: "coordinator", Reporter: "alpha", Label: "node", Series: 3},
			{Group: "zonal", Reporter: "beta", Series: 4},
		},
	}
	mux, _ := newTestMux(t, agg, nil, nil)

	tests := []struct {
		name      string
		url       string
		wantCount int
	}{
		{name: "all sources", url: "/api/v1/metrics/sources", wantCount: 2},
		{name: "filtered by group", url: "/api/v1/metrics/sources?group=coordinator", wantCount: 1},
		{name: "unknown group", url: "/api/v1/metrics/sources?group=nope", wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.url, nil))

			require.Equal(t, http.StatusOK, rr.Code)

			var resp struct {
				Sources []collector.Source `json:"sources"`
				Count   int                `json:"count"`
			}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCount, resp.Count)
			assert.Len(t, resp.Sources, tt.wantCount)
		})
	}
}

func TestHandleQueryHistory(t *testing.T) {
	hist := &fakeHistory{
		points: []history.Point{
			{Time: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), Group: "coordinator", Family: "heap_bytes", Value: 42},
		},
	}
	mux, _ := newTestMux(t, nil, hist, nil)

	url := "/api/v1/history?group=coordinator&family=heap_bytes" +
		"&since=2025-06-01T12:00:00Z&until=2025-06-01T13:00:00Z&limit=50"
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))

	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, "coordinator", hist.lastOpts.Group)
	assert.Equal(t, "heap_bytes", hist.lastOpts.Family)
	assert.True(t, hist.lastOpts.Since.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))
	assert.True(t, hist.lastOpts.Until.Equal(time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)))
	assert.Equal(t, 50, hist.lastOpts.Limit)

	var resp struct {
		Points []history.Point `json:"points"`
		Count  int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "heap_bytes", resp.Points[0].Family)
	assert.Equal(t, 42.0, resp.Points[0].Value)
}

func TestHandleQueryHistory_BadParams(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "bad since", url: "/api/v1/history?since=yesterday"},
		{name: "bad until", url: "/api/v1/history?until=tomorrow"},
		{name: "bad limit", url: "/api/v1/history?limit=many"},
		{name: "negative limit", url: "/api/v1/history?limit=-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _ := newTestMux(t, nil, &fakeHistory{}, nil)

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.url, nil))

			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestHandleQueryHistory_StoreError(t *testing.T) {
	mux, _ := newTestMux(t, nil, &fakeHistory{queryErr: errors.New("disk on fire")}, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	// Internal detail stays out of the response
	assert.NotContains(t, rr.Body.String(), "disk on fire")
}

func TestHandleHistoryGroups(t *testing.T) {
	mux, _ := newTestMux(t, nil, &fakeHistory{groups: []string{"coordinator", "zonal"}}, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/history/groups", nil))

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Groups []string `json:"groups"`
		Count  int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, []string{"coordinator", "zonal"}, resp.Groups)
	assert.Equal(t, 2, resp.Count)
}

func TestCollectorRoute(t *testing.T) {
	called := false
	ingest := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})
	mux, _ := newTestMux(t, nil, nil, ingest)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/metrics/collector", strings.NewReader("")))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.True(t, called)

	// Wrong method is rejected by the route pattern
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/collector", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRegisterRoutes_RoleScoped(t *testing.T) {
	// A plain reporting node hosts only the health endpoints.
	mux, _ := newTestMux(t, nil, nil, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	for _, url := range []string{
		"/api/v1/metrics/groups",
		"/api/v1/metrics/sources",
		"/api/v1/history",
	} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code, url)
	}
}

func TestHandleHealthz(t *testing.T) {
	mux, _ := newTestMux(t, nil, nil, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rr.Body.String())
}

func TestHandleReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checks     []health.Check
		wantCode   int
		wantStatus health.Status
	}{
		{
			name:       "no checks",
			checks:     nil,
			wantCode:   http.StatusOK,
			wantStatus: health.StatusHealthy,
		},
		{
			name: "all healthy",
			checks: []health.Check{
				stubCheck{name: "history"},
				stubCheck{name: "stream"},
			},
			wantCode:   http.StatusOK,
			wantStatus: health.StatusHealthy,
		},
		{
			name: "one unhealthy",
			checks: []health.Check{
				stubCheck{name: "history"},
				stubCheck{name: "stream", err: errors.New("hub stopped")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: health.StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, api := newTestMux(t, nil, nil, nil)
			for _, check := range tt.checks {
				api.AddHealthCheck(check)
			}

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			require.Equal(t, tt.wantCode, rr.Code)

			var resp struct {
				Status health.Status   `json:"status"`
				Checks []health.Result `json:"checks"`
			}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checks))
		})
	}
}

func TestHandleReadyz_DetailedCheck(t *testing.T) {
	mux, api := newTestMux(t, nil, nil, nil)

	store := &fakeHistory{}
	api.AddHealthCheck(health.NewStoreCheck(store))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Status health.Status   `json:"status"`
		Checks []health.Result `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, "history", resp.Checks[0].Name)
	assert.Equal(t, "fake", resp.Checks[0].Details["driver"])
}
