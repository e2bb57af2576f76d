package metrics

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}

	if m.registry == nil {
		t.Error("registry should not be nil")
	}

	if m.Node == nil {
		t.Error("Node metrics should not be nil")
	}

	if m.Coordinator == nil {
		t.Error("Coordinator metrics should not be nil")
	}
}

func TestNewNodeMetrics(t *testing.T) {
	m := NewNodeMetrics()

	if m.Node == nil {
		t.Fatal("Node metrics should not be nil")
	}

	if m.Coordinator != nil {
		t.Error("Coordinator metrics should be nil for node only")
	}
}

func TestNewCoordinatorMetrics(t *testing.T) {
	m := NewCoordinatorMetrics()

	if m.Coordinator == nil {
		t.Fatal("Coordinator metrics should not be nil")
	}

	if m.Node != nil {
		t.Error("Node metrics should be nil for coordinator only")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	handler := m.Handler()
	if handler == nil {
		t.Fatal("Handler() returned nil")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()

	if !strings.Contains(body, "go_") {
		t.Error("expected Go runtime metrics in response")
	}

	if !strings.Contains(body, "process_") {
		t.Error("expected process metrics in response")
	}
}

func TestNodeMetricsRecording(t *testing.T) {
	m := NewNodeMetrics()

	m.Node.RecordPush("ok", 0.02, 1024)
	m.Node.RecordPush("error", 0.5, 0)
	m.Node.RecordResolve("cached")
	m.Node.SetActiveRoutes(3)

	mfs, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	found := map[string]bool{}
	for _, mf := range mfs {
		found[mf.GetName()] = true
	}

	for _, want := range []string{
		"pulse_node_pushes_total",
		"pulse_node_push_duration_seconds",
		"pulse_node_routes_active",
		"pulse_node_resolve_total",
	} {
		if !found[want] {
			t.Errorf("expected family %s in gathered output", want)
		}
	}
}

func TestCoordinatorMetricsRecording(t *testing.T) {
	m := NewCoordinatorMetrics()

	m.Coordinator.RecordIngest("accepted", 0.002, 12)
	m.Coordinator.SetActiveSources("coordinator", 2)
	m.Coordinator.RecordEviction(1)
	m.Coordinator.RecordAPIRequest("GET", "/api/v1/metrics/groups/:group", "200", 0.001)
	m.Coordinator.RecordHistoryAppend("ok")
	m.Coordinator.RecordArchiveOp("put", "ok")
	m.Coordinator.SetStreamClients(4)

	mfs, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected gathered families")
	}
}

func TestManagerRegistryNames(t *testing.T) {
	mgr := NewManager("")

	if got := mgr.RegistryName("runtime"); got != "pulse.runtime" {
		t.Errorf("RegistryName(runtime) = %s, want pulse.runtime", got)
	}

	tests := []struct {
		index  string
		shard  string
		leader bool
		want   string
	}{
		{"products", "shard1", false, "pulse.core.products.shard1"},
		{"products", "shard1", true, "pulse.core.products.shard1.leader"},
		{"orders", "shard2", true, "pulse.core.orders.shard2.leader"},
	}

	for _, tt := range tests {
		if got := mgr.CoreRegistryName(tt.index, tt.shard, tt.leader); got != tt.want {
			t.Errorf("CoreRegistryName(%s, %s, %v) = %s, want %s",
				tt.index, tt.shard, tt.leader, got, tt.want)
		}
	}
}

func TestManagerGetOrCreate(t *testing.T) {
	mgr := NewManager("pulse")

	r1 := mgr.Registry("pulse.node")
	r2 := mgr.Registry("pulse.node")
	if r1 != r2 {
		t.Error("Registry() should return the same instance for the same name")
	}

	if _, ok := mgr.Lookup("pulse.node"); !ok {
		t.Error("Lookup() should find a created registry")
	}
	if _, ok := mgr.Lookup("pulse.missing"); ok {
		t.Error("Lookup() should not find an unknown registry")
	}

	mgr.Remove("pulse.node")
	if _, ok := mgr.Lookup("pulse.node"); ok {
		t.Error("Remove() should drop the registry")
	}
}

func TestManagerMatch(t *testing.T) {
	mgr := NewManager("pulse")
	mgr.Registry("pulse.runtime")
	mgr.Registry("pulse.core.products.shard1.leader")
	mgr.Registry("pulse.core.orders.shard2.leader")
	mgr.Registry("pulse.core.orders.shard2")

	re := regexp.MustCompile(`pulse\.core\.(.*)\.leader`)
	got := mgr.Match(re)

	want := []string{
		"pulse.core.orders.shard2.leader",
		"pulse.core.products.shard1.leader",
	}
	if len(got) != len(want) {
		t.Fatalf("Match() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Match()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// Partial matches must not count.
	partial := regexp.MustCompile(`pulse\.core`)
	if got := mgr.Match(partial); len(got) != 0 {
		t.Errorf("Match() with partial pattern = %v, want none", got)
	}
}

func TestManagerGather(t *testing.T) {
	mgr := NewManager("pulse")
	reg := mgr.Registry("pulse.core.products.shard1.leader")

	core := NewCoreMetrics(reg)
	core.UpdateRequests.WithLabelValues("/update").Add(5)
	core.IndexDocs.Set(1000)

	mfs, err := mgr.Gather("pulse.core.products.shard1.leader")
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	if !names["update_requests_total"] {
		t.Error("expected update_requests_total family")
	}
	if !names["index_docs"] {
		t.Error("expected index_docs family")
	}

	if _, err := mgr.Gather("pulse.unknown"); err == nil {
		t.Error("Gather() of unknown registry should fail")
	}
}

func TestBootstrapNode(t *testing.T) {
	mgr := NewManager("pulse")
	mgr.BootstrapNode()

	names := mgr.Names()
	want := []string{"pulse.http", "pulse.node", "pulse.runtime"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %s, want %s", i, names[i], want[i])
		}
	}

	mfs, err := mgr.Gather("pulse.runtime")
	if err != nil {
		t.Fatalf("Gather(pulse.runtime) error: %v", err)
	}

	haveGo := false
	for _, mf := range mfs {
		if strings.HasPrefix(mf.GetName(), "go_") {
			haveGo = true
			break
		}
	}
	if !haveGo {
		t.Error("runtime registry should expose go_ collector families")
	}
}
