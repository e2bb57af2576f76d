package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockStore implements Store for testing.
type mockStore struct {
	err    error
	delay  time.Duration
	driver string
}

func (m *mockStore) Ping(ctx context.Context) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.err
}

func (m *mockStore) Driver() string { return m.driver }

func TestStoreCheck_Name(t *testing.T) {
	check := NewStoreCheck(&mockStore{driver: "sqlite"})

	if check.Name() != "history" {
		t.Errorf("expected name 'history', got '%s'", check.Name())
	}
}

func TestStoreCheck_Healthy(t *testing.T) {
	check := NewStoreCheck(&mockStore{driver: "sqlite"})

	err := check.Check(context.Background())
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestStoreCheck_Unhealthy(t *testing.T) {
	check := NewStoreCheck(&mockStore{driver: "postgres", err: errors.New("connection refused")})

	err := check.Check(context.Background())
	if err == nil {
		t.Error("expected error for unreachable store")
	}
}

func TestStoreCheck_CheckDetailed_Healthy(t *testing.T) {
	check := NewStoreCheck(&mockStore{driver: "sqlite"})

	result := check.CheckDetailed(context.Background())

	if result.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", result.Status)
	}

	if result.Details["driver"] != "sqlite" {
		t.Errorf("expected driver=sqlite, got %s", result.Details["driver"])
	}

	if result.Details["latency"] == "" {
		t.Error("expected a latency detail")
	}
}

func TestStoreCheck_CheckDetailed_Unhealthy(t *testing.T) {
	check := NewStoreCheck(&mockStore{driver: "postgres", err: errors.New("connection refused")})

	result := check.CheckDetailed(context.Background())

	if result.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", result.Status)
	}
}

func TestStoreCheck_CheckDetailed_Degraded(t *testing.T) {
	check := NewStoreCheck(&mockStore{driver: "postgres", delay: 5 * time.Millisecond},
		WithLatencyThreshold(time.Millisecond))

	result := check.CheckDetailed(context.Background())

	if result.Status != StatusDegraded {
		t.Errorf("expected status degraded for slow ping, got %s", result.Status)
	}
}
