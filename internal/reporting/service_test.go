package reporting

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dto "github.com/prometheus/client_model/go"

	"github.com/pulse/pulse/internal/cluster"
	"github.com/pulse/pulse/internal/transport"
	"github.com/pulse/pulse/pkg/log"
	"github.com/pulse/pulse/pkg/metrics"
)

// fakeNode is a scriptable cluster.Node for service tests.
type fakeNode struct {
	coordinated bool
	coord       cluster.Coordination
	client      *http.Client
}

func (f *fakeNode) Coordinated() bool { return f.coordinated }

func (f *fakeNode) Coordination() cluster.Coordination { return f.coord }

func (f *fakeNode) HTTPClient() *http.Client {
	if f.client != nil {
		return f.client
	}
	return http.DefaultClient
}

func coordinatedNode() *fakeNode {
	return &fakeNode{coordinated: true, coord: newFakeCoordination()}
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	svc, err := NewService(cfg, metrics.NewManager(""), log.NewNop(), nil)
	require.NoError(t, err)
	return svc
}

func TestNewServiceUsesDefaultRoutes(t *testing.T) {
	svc := newTestService(t, Config{Period: time.Minute})
	assert.Len(t, svc.Routes(), 3)
	assert.True(t, svc.Enabled())
}

func TestNewServiceCustomRoutes(t *testing.T) {
	svc := newTestService(t, Config{
		Period: time.Minute,
		Routes: []RouteSpec{
			{Registry: `pulse\.node`, Group: "coordinator", Label: "node"},
		},
	})
	assert.Len(t, svc.Routes(), 1)
}

func TestNewServiceRejectsBadRoutes(t *testing.T) {
	_, err := NewService(Config{
		Period: time.Minute,
		Routes: []RouteSpec{
			{Registry: `pulse\.node`, Group: "coordinator"},
			{Registry: `pulse\.(`, Group: "coordinator"},
		},
	}, metrics.NewManager(""), log.NewNop(), nil)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNewServiceRejectsRelativeHandler(t *testing.T) {
	_, err := NewService(Config{
		Period:  time.Minute,
		Handler: "metrics/collector",
	}, metrics.NewManager(""), log.NewNop(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute path")
}

func TestServiceAttachLifecycle(t *testing.T) {
	svc := newTestService(t, Config{Period: time.Second})

	require.NoError(t, svc.Attach(coordinatedNode()))
	assert.True(t, svc.Running())

	svc.Stop()
	assert.False(t, svc.Running())

	// Stopping again is harmless.
	svc.Stop()
	assert.False(t, svc.Running())
}

func TestServiceAttachNilNode(t *testing.T) {
	svc := newTestService(t, Config{Period: time.Second})
	require.NoError(t, svc.Attach(nil))
	assert.False(t, svc.Running())
}

func TestServiceAttachUncoordinatedNode(t *testing.T) {
	svc := newTestService(t, Config{Period: time.Second})
	require.NoError(t, svc.Attach(&fakeNode{coordinated: false}))
	assert.False(t, svc.Running())
}

func TestServiceAttachShortPeriod(t *testing.T) {
	svc := newTestService(t, Config{Period: 500 * time.Millisecond})
	assert.False(t, svc.Enabled())

	require.NoError(t, svc.Attach(coordinatedNode()))
	assert.False(t, svc.Running())
}

func TestServiceIneligibleAttachLeavesPusherRunning(t *testing.T) {
	svc := newTestService(t, Config{Period: time.Second})

	require.NoError(t, svc.Attach(coordinatedNode()))
	require.True(t, svc.Running())

	// An attach that fails the eligibility check must not stop the
	// pusher that is already attached.
	require.NoError(t, svc.Attach(&fakeNode{coordinated: false}))
	assert.True(t, svc.Running())

	require.NoError(t, svc.Attach(nil))
	assert.True(t, svc.Running())

	svc.Stop()
}

func TestServiceReattachReplacesPusher(t *testing.T) {
	svc := newTestService(t, Config{Period: time.Second})

	require.NoError(t, svc.Attach(coordinatedNode()))
	first := svc.pusher
	require.NotNil(t, first)

	require.NoError(t, svc.Attach(coordinatedNode()))
	assert.True(t, svc.Running())
	assert.NotSame(t, first, svc.pusher)

	svc.Stop()
}

func TestServiceStopTwiceAfterNeverAttached(t *testing.T) {
	svc := newTestService(t, Config{Period: time.Second})
	svc.Stop()
	svc.Stop()
	assert.False(t, svc.Running())
}

// TestServiceAttachForwardsOnlyFilteredFamilies attaches a service with
// one explicit filtered route and drives a push cycle against a real
// collector endpoint: only the families the filter admits may arrive,
// under the route's group.
func TestServiceAttachForwardsOnlyFilteredFamilies(t *testing.T) {
	type push struct {
		path     string
		group    string
		label    string
		reporter string
		families []string
	}
	pushes := make(chan push, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dec := expfmt.NewDecoder(r.Body, expfmt.NewFormat(expfmt.TypeProtoDelim))
		var names []string
		for {
			fam := &dto.MetricFamily{}
			err := dec.Decode(fam)
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			names = append(names, fam.GetName())
		}
		sort.Strings(names)

		pushes <- push{
			path:     r.URL.Path,
			group:    r.URL.Query().Get(transport.ParamGroup),
			label:    r.URL.Query().Get(transport.ParamLabel),
			reporter: r.URL.Query().Get(transport.ParamReporter),
			families: names,
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	coord := newFakeCoordination()
	coord.urls["self"] = srv.URL
	coord.setLeader(t, "self")
	node := &fakeNode{coordinated: true, coord: coord, client: srv.Client()}

	manager := metrics.NewManager("")
	reg := manager.Registry(manager.RegistryName(metrics.NodeRegistry))
	for name, value := range map[string]float64{
		"memory_heap_used_bytes": 1 << 20,
		"memory_heap_max_bytes":  1 << 22,
		"queue_depth":            3,
		"connections_open":       12,
	} {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: name})
		reg.MustRegister(g)
		g.Set(value)
	}

	svc, err := NewService(Config{
		Period: 5 * time.Second,
		Routes: []RouteSpec{
			{Registry: `pulse\.node`, Group: "heap", Filters: []string{`memory_heap_.*`}},
		},
	}, manager, log.NewNop(), nil)
	require.NoError(t, err)

	require.NoError(t, svc.Attach(node))
	defer svc.Stop()

	// Drive one cycle by hand instead of waiting out the period.
	require.NoError(t, svc.pusher.Push(context.Background()))

	select {
	case got := <-pushes:
		assert.Equal(t, DefaultHandler, got.path)
		assert.Equal(t, "heap", got.group)
		assert.Empty(t, got.label)
		assert.Equal(t, "self", got.reporter)
		assert.Equal(t, []string{"memory_heap_max_bytes", "memory_heap_used_bytes"}, got.families)
	case <-time.After(5 * time.Second):
		t.Fatal("report never arrived")
	}

	select {
	case extra := <-pushes:
		t.Fatalf("unexpected second report: %+v", extra)
	default:
	}
}

func TestConfigErrorUnwrap(t *testing.T) {
	e1 := errors.New("first")
	e2 := errors.New("second")
	err := &ConfigError{Errors: []error{e1, e2}}

	assert.Len(t, err.Unwrap(), 2)
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
	assert.Contains(t, err.Error(), "2 errors")
}
