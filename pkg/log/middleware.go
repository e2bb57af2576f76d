package log

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader is the HTTP header carrying the request ID.
const RequestIDHeader = "X-Request-ID"

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter so http.ResponseController
// can reach it, which connection upgrades rely on.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// HTTPMiddleware returns an HTTP middleware that logs requests and places a
// request-scoped logger plus the request ID into the context. When the
// request carries a reporter query parameter, the reporting node's identity
// is attached as well.
func HTTPMiddleware(log Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx := ContextWithRequestID(r.Context(), requestID)
			if reporterID := r.URL.Query().Get("reporter"); reporterID != "" {
				ctx = ContextWithReporterID(ctx, reporterID)
			}

			reqLog := log.WithContext(ctx)
			ctx = ContextWithLogger(ctx, reqLog)

			w.Header().Set(RequestIDHeader, requestID)

			rw := newResponseWriter(w)

			reqLog.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("request started")

			next.ServeHTTP(rw, r.WithContext(ctx))

			duration := time.Since(start)
			logEvent := reqLog.Info()

			// Non-success statuses get a louder level.
			if rw.statusCode >= 500 {
				logEvent = reqLog.Error()
			} else if rw.statusCode >= 400 {
				logEvent = reqLog.Warn()
			}

			logEvent.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.statusCode).
				Int64("bytes", rw.written).
				Dur("duration", duration).
				Msg("request completed")
		})
	}
}
