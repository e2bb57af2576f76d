package health

import (
	"context"
	"testing"
)

// mockCollector implements Collector for testing.
type mockCollector struct {
	sources int
	stale   int
}

func (m *mockCollector) SourceCount() int { return m.sources }
func (m *mockCollector) StaleCount() int  { return m.stale }

func TestCollectorCheck_Name(t *testing.T) {
	check := NewCollectorCheck(&mockCollector{})

	if check.Name() != "collector" {
		t.Errorf("expected name 'collector', got '%s'", check.Name())
	}
}

func TestCollectorCheck_NeverFails(t *testing.T) {
	check := NewCollectorCheck(&mockCollector{sources: 3, stale: 3})

	if err := check.Check(context.Background()); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCollectorCheck_CheckDetailed_Healthy(t *testing.T) {
	check := NewCollectorCheck(&mockCollector{sources: 3, stale: 1})

	result := check.CheckDetailed(context.Background())

	if result.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", result.Status)
	}

	if result.Details["sources"] != "3" {
		t.Errorf("expected sources=3, got %s", result.Details["sources"])
	}

	if result.Details["stale"] != "1" {
		t.Errorf("expected stale=1, got %s", result.Details["stale"])
	}
}

func TestCollectorCheck_CheckDetailed_AllStale(t *testing.T) {
	check := NewCollectorCheck(&mockCollector{sources: 2, stale: 2})

	result := check.CheckDetailed(context.Background())

	if result.Status != StatusDegraded {
		t.Errorf("expected status degraded when all sources are stale, got %s", result.Status)
	}
}

func TestCollectorCheck_CheckDetailed_NoSources(t *testing.T) {
	check := NewCollectorCheck(&mockCollector{})

	result := check.CheckDetailed(context.Background())

	if result.Status != StatusHealthy {
		t.Errorf("expected status healthy with no sources yet, got %s", result.Status)
	}
}
