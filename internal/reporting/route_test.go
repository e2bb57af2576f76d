package reporting

import (
	"errors"
	"strings"
	"testing"
)

func TestCompileRouteValidation(t *testing.T) {
	tests := []struct {
		name    string
		spec    RouteSpec
		wantErr string
	}{
		{
			name: "valid plain route",
			spec: RouteSpec{Registry: `pulse\.http`, Group: "coordinator", Label: "http"},
		},
		{
			name: "valid capture route",
			spec: RouteSpec{Registry: `pulse\.core\.(.*)\.leader`, Group: "coordinator", Label: "leader.$1"},
		},
		{
			name:    "empty registry",
			spec:    RouteSpec{Group: "coordinator"},
			wantErr: "registry pattern must not be empty",
		},
		{
			name:    "empty group",
			spec:    RouteSpec{Registry: `pulse\.http`},
			wantErr: "group must not be empty",
		},
		{
			name:    "invalid registry pattern",
			spec:    RouteSpec{Registry: `pulse\.(`, Group: "coordinator"},
			wantErr: "invalid registry pattern",
		},
		{
			name:    "invalid filter pattern",
			spec:    RouteSpec{Registry: `pulse\.http`, Group: "coordinator", Filters: []string{`update_[`}},
			wantErr: "invalid filter pattern",
		},
		{
			name:    "empty filter",
			spec:    RouteSpec{Registry: `pulse\.http`, Group: "coordinator", Filters: []string{""}},
			wantErr: "filter must not be empty",
		},
		{
			name:    "label references missing group",
			spec:    RouteSpec{Registry: `pulse\.core\.(.*)`, Group: "coordinator", Label: "leader.$2"},
			wantErr: "references capture group 2",
		},
		{
			name:    "group references missing group",
			spec:    RouteSpec{Registry: `pulse\.http`, Group: "coordinator.$1"},
			wantErr: "references capture group 1",
		},
		{
			name: "braced reference in range",
			spec: RouteSpec{Registry: `pulse\.core\.(.*)\.(.*)`, Group: "coordinator", Label: "leader.${2}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileRoute(tt.spec)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("CompileRoute() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("CompileRoute() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("CompileRoute() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRouteMatchesWholeName(t *testing.T) {
	route, err := CompileRoute(RouteSpec{Registry: `pulse\.node`, Group: "coordinator"})
	if err != nil {
		t.Fatalf("CompileRoute: %v", err)
	}

	tests := []struct {
		registry string
		want     bool
	}{
		{"pulse.node", true},
		{"pulse.node.extra", false},
		{"prefix.pulse.node", false},
		{"pulse:node", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := route.Matches(tt.registry); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.registry, got, tt.want)
		}
	}
}

func TestRouteRender(t *testing.T) {
	route, err := CompileRoute(RouteSpec{
		Registry: `pulse\.core\.(.*)\.leader`,
		Group:    "coordinator",
		Label:    "leader.$1",
	})
	if err != nil {
		t.Fatalf("CompileRoute: %v", err)
	}

	registry := "pulse.core.products.shard1.leader"
	if !route.Matches(registry) {
		t.Fatalf("Matches(%q) = false", registry)
	}
	if got := route.RenderGroup(registry); got != "coordinator" {
		t.Errorf("RenderGroup = %q, want %q", got, "coordinator")
	}
	if got := route.RenderLabel(registry); got != "leader.products.shard1" {
		t.Errorf("RenderLabel = %q, want %q", got, "leader.products.shard1")
	}
}

func TestRouteRenderWithoutLabel(t *testing.T) {
	route, err := CompileRoute(RouteSpec{Registry: `pulse\.http`, Group: "coordinator"})
	if err != nil {
		t.Fatalf("CompileRoute: %v", err)
	}
	if got := route.RenderLabel("pulse.http"); got != "" {
		t.Errorf("RenderLabel = %q, want empty", got)
	}
}

func TestRouteSelectsMetric(t *testing.T) {
	all, err := CompileRoute(RouteSpec{Registry: `pulse\.http`, Group: "coordinator"})
	if err != nil {
		t.Fatalf("CompileRoute: %v", err)
	}
	if !all.SelectsMetric("anything_at_all") {
		t.Error("route without filters should select every family")
	}

	filtered, err := CompileRoute(RouteSpec{
		Registry: `pulse\.core\.(.*)\.leader`,
		Group:    "coordinator",
		Filters:  []string{`update_.*`, `query_.*`},
	})
	if err != nil {
		t.Fatalf("CompileRoute: %v", err)
	}

	tests := []struct {
		metric string
		want   bool
	}{
		{"update_requests_total", true},
		{"query_request_seconds", true},
		{"index_docs", false},
		{"some_update_thing", false}, // filters cover the whole name
		{"", false},
	}
	for _, tt := range tests {
		if got := filtered.SelectsMetric(tt.metric); got != tt.want {
			t.Errorf("SelectsMetric(%q) = %v, want %v", tt.metric, got, tt.want)
		}
	}
}

func TestCompileRoutesAllOrNothing(t *testing.T) {
	specs := []RouteSpec{
		{Registry: `pulse\.http`, Group: "coordinator"},
		{Registry: `pulse\.(`, Group: "coordinator"},
		{Registry: `pulse\.node`, Group: ""},
	}

	routes, err := CompileRoutes(specs)
	if routes != nil {
		t.Fatal("CompileRoutes returned a partial table alongside an error")
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("CompileRoutes error = %T, want *ConfigError", err)
	}
	if len(cfgErr.Errors) != 2 {
		t.Errorf("ConfigError carries %d errors, want 2", len(cfgErr.Errors))
	}
	if !strings.Contains(err.Error(), "route 1") || !strings.Contains(err.Error(), "route 2") {
		t.Errorf("ConfigError should name the offending routes: %v", err)
	}
}

func TestCompileRoutesEmpty(t *testing.T) {
	routes, err := CompileRoutes(nil)
	if err != nil {
		t.Fatalf("CompileRoutes(nil) unexpected error: %v", err)
	}
	if len(routes) != 0 {
		t.Errorf("CompileRoutes(nil) = %d routes, want 0", len(routes))
	}
}
