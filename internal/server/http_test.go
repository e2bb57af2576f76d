package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dto "github.com/prometheus/client_model/go"

	"github.com/pulse/pulse/pkg/log"
	"github.com/pulse/pulse/pkg/metrics"
)

func TestRecoveryMiddleware(t *testing.T) {
	s := NewHTTPServer(DefaultHTTPConfig(), nil, log.NewNop())

	handler := s.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "internal server error")
}

func TestCORSMiddleware(t *testing.T) {
	cfg := DefaultHTTPConfig()
	cfg.AllowedOrigins = []string{"https://ok.example"}
	s := NewHTTPServer(cfg, nil, log.NewNop())

	handler := s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://ok.example")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "https://ok.example", rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disallowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://ok.example")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}

func TestBuildHandler(t *testing.T) {
	cfg := DefaultHTTPConfig()
	cfg.Metrics = metrics.NewCoordinatorMetrics().Coordinator

	api := NewAPI(DefaultAPIConfig(), nil, nil, nil, log.NewNop())
	s := NewHTTPServer(cfg, api, log.NewNop())
	handler := s.buildHandler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	manager := metrics.NewManager("")
	reg := manager.Registry(manager.RegistryName(metrics.HTTPRegistry))
	m := metrics.NewHTTPMetrics(reg)

	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/groups/coordinator", nil))

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, fam := range families {
		byName[fam.GetName()] = fam
	}

	total := byName["http_requests_total"]
	require.NotNil(t, total)
	require.Len(t, total.GetMetric(), 1)
	assert.Equal(t, float64(1), total.GetMetric()[0].GetCounter().GetValue())

	labels := make(map[string]string)
	for _, lp := range total.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	assert.Equal(t, http.MethodGet, labels["method"])
	assert.Equal(t, "/api/v1/metrics/groups/:group", labels["path"])
	assert.Equal(t, "404", labels["status"])

	seconds := byName["http_request_seconds"]
	require.NotNil(t, seconds)
	assert.Equal(t, uint64(1), seconds.GetMetric()[0].GetHistogram().GetSampleCount())

	inflight := byName["http_requests_in_flight"]
	require.NotNil(t, inflight)
	assert.Zero(t, inflight.GetMetric()[0].GetGauge().GetValue())
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/api/v1/metrics/groups", want: "/api/v1/metrics/groups"},
		{path: "/api/v1/metrics/groups/coordinator", want: "/api/v1/metrics/groups/:group"},
		{path: "/api/v1/metrics/groups/pulse.core.items.shard1", want: "/api/v1/metrics/groups/:group"},
		{path: "/api/v1/history", want: "/api/v1/history"},
		{path: "/api/v1/things/550e8400-e29b-41d4-a716-446655440000", want: "/api/v1/things/:id"},
		{path: "/api/v1/things/12345", want: "/api/v1/things/:id"},
		{path: "/healthz", want: "/healthz"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}
