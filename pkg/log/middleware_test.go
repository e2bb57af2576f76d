package log

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPMiddleware_RequestID(t *testing.T) {
	var seen string
	handler := HTTPMiddleware(NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("generates an ID", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		if seen == "" {
			t.Fatal("expected a request ID in the context")
		}
		if got := rr.Header().Get(RequestIDHeader); got != seen {
			t.Errorf("response header %q does not match context ID %q", got, seen)
		}
	})

	t.Run("keeps the caller's ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if seen != "req-42" {
			t.Errorf("expected req-42 in context, got %q", seen)
		}
		if got := rr.Header().Get(RequestIDHeader); got != "req-42" {
			t.Errorf("expected req-42 in response header, got %q", got)
		}
	})
}

func TestHTTPMiddleware_ReporterIdentity(t *testing.T) {
	var seen string
	handler := HTTPMiddleware(NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ReporterIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/collector?reporter=node-1", nil))

	if seen != "node-1" {
		t.Errorf("expected reporter node-1 in context, got %q", seen)
	}
}

func TestHTTPMiddleware_ContextLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("debug", "json", &buf)

	handler := HTTPMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info().Msg("from handler")
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/?reporter=node-2", nil)
	req.Header.Set(RequestIDHeader, "req-7")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	out := buf.String()
	if !strings.Contains(out, "from handler") {
		t.Fatalf("expected handler log line, got: %s", out)
	}

	// Every line carries the request-scoped fields.
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(line), &fields); err != nil {
			t.Fatalf("log line is not JSON: %v", err)
		}
		if fields["request_id"] != "req-7" {
			t.Errorf("expected request_id req-7, got %v", fields["request_id"])
		}
		if fields["reporter_id"] != "node-2" {
			t.Errorf("expected reporter_id node-2, got %v", fields["reporter_id"])
		}
	}
}

func TestHTTPMiddleware_ErrorStatusLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", "json", &buf)

	handler := HTTPMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))

	var fields map[string]interface{}
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}

	if fields["level"] != "error" {
		t.Errorf("expected error level for 500 response, got %v", fields["level"])
	}
	if fields["status"] != float64(http.StatusInternalServerError) {
		t.Errorf("expected status 500, got %v", fields["status"])
	}
}

func TestResponseWriter_Unwrap(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := newResponseWriter(rr)

	if rw.Unwrap() != rr {
		t.Error("expected Unwrap to return the wrapped writer")
	}
}
