// Package server hosts the node's HTTP surface: the collector ingest
// endpoint, the aggregate and history APIs, the live stream upgrade, and
// the health probes, behind a shared middleware stack.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pulse/pulse/pkg/log"
	"github.com/pulse/pulse/pkg/metrics"
	"github.com/pulse/pulse/pkg/tracing"
)

// HTTPConfig holds configuration for the HTTP server.
type HTTPConfig struct {
	// Port is the port to listen on.
	Port int
	// EnableCORS enables CORS support.
	EnableCORS bool
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration
	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration
	// StreamPath is the path for WebSocket stream upgrades (default: /api/v1/stream).
	StreamPath string
	// EnableTracing enables OpenTelemetry tracing for HTTP requests.
	EnableTracing bool
	// Metrics is the coordinator metrics instance for recording HTTP metrics.
	Metrics *metrics.CoordinatorMetrics
	// HTTPMetrics instruments the node's http registry. Unlike Metrics,
	// which feeds the operational /metrics endpoint, these families are
	// part of the registry directory and get pushed to the coordinator.
	HTTPMetrics *metrics.HTTPMetrics
}

// DefaultHTTPConfig returns sensible defaults for HTTP server configuration.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Port:           7700,
		EnableCORS:     true,
		AllowedOrigins: []string{"*"},
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		StreamPath:     "/api/v1/stream",
		EnableTracing:  false,
		Metrics:        nil,
	}
}

// HTTPServer wraps the node's HTTP server.
type HTTPServer struct {
	config        HTTPConfig
	server        *http.Server
	api           *API
	streamHandler http.Handler
	logger        log.Logger
}

// NewHTTPServer creates a new HTTP server hosting the given API.
func NewHTTPServer(cfg HTTPConfig, api *API, logger log.Logger) *HTTPServer {
	return &HTTPServer{
		config: cfg,
		api:    api,
		logger: logger.With("component", "http_server"),
	}
}

// SetStreamHandler mounts a WebSocket stream handler. This must be called
// before Start() to enable the stream endpoint.
func (s *HTTPServer) SetStreamHandler(handler http.Handler) {
	s.streamHandler = handler
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *HTTPServer) Start(ctx context.Context) error {
	handler := s.buildHandler()

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info().
		Str("address", addr).
		Bool("cors_enabled", s.config.EnableCORS).
		Bool("stream_enabled", s.streamHandler != nil).
		Msg("starting HTTP server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("context cancelled, stopping HTTP server")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	}
}

// Stop gracefully stops the HTTP server.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info().Msg("stopping HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP server shutdown error")
		return err
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

// buildHandler builds the HTTP handler with all middleware.
func (s *HTTPServer) buildHandler() http.Handler {
	rootMux := http.NewServeMux()

	if s.api != nil {
		s.api.RegisterRoutes(rootMux)
	}

	if s.streamHandler != nil {
		streamPath := s.config.StreamPath
		if streamPath == "" {
			streamPath = "/api/v1/stream"
		}
		rootMux.Handle("GET "+streamPath, s.streamHandler)
		s.logger.Info().Str("path", streamPath).Msg("stream handler mounted")
	}

	var handler http.Handler = rootMux

	// Add metrics middleware if configured
	if s.config.Metrics != nil {
		handler = MetricsMiddleware(s.config.Metrics)(handler)
	}
	if s.config.HTTPMetrics != nil {
		handler = HTTPMetricsMiddleware(s.config.HTTPMetrics)(handler)
	}

	// Add tracing middleware if enabled
	if s.config.EnableTracing {
		handler = tracing.Middleware(handler)
	}

	// Request ID, request logging, and the context logger all come from
	// the shared log middleware so ingest requests get their reporter
	// identity attached.
	handler = log.HTTPMiddleware(s.logger)(handler)

	// Add CORS middleware if enabled
	if s.config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	// Add recovery middleware
	handler = s.recoveryMiddleware(handler)

	return handler
}

// corsMiddleware adds CORS headers to responses.
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, o := range s.config.AllowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics.
func (s *HTTPServer) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error().
					Any("panic", p).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("recovered from panic")

				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error": "internal server error"}`))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
