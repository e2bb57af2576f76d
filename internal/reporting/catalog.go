package reporting

import (
	"regexp"

	"github.com/pulse/pulse/pkg/metrics"
)

// AggregateGroup is the report group every built-in route targets. The
// coordinator files pushed series under this group.
const AggregateGroup = "coordinator"

// Built-in report labels.
const (
	LabelHTTP    = "http"
	LabelRuntime = "runtime"
)

// DefaultRoutes returns the built-in route table for registries under
// the given name prefix. Three routes are defined:
//
//   - the whole HTTP registry,
//   - a curated slice of the runtime registry,
//   - per-index leader registries, labeled leader.<index>.<shard> so the
//     coordinator can tell shards apart.
//
// A non-empty Routes list in the service config replaces this table
// entirely.
func DefaultRoutes(prefix string) []RouteSpec {
	p := regexp.QuoteMeta(prefix)
	return []RouteSpec{
		{
			Registry: p + `\.` + metrics.HTTPRegistry,
			Group:    AggregateGroup,
			Label:    LabelHTTP,
		},
		{
			Registry: p + `\.` + metrics.RuntimeRegistry,
			Group:    AggregateGroup,
			Label:    LabelRuntime,
			Filters: []string{
				`go_memstats_heap_.*`,
				`process_resident_memory_bytes`,
				`process_virtual_memory_bytes`,
				`process_cpu_seconds_total`,
				`process_open_fds`,
				`process_max_fds`,
				`go_threads`,
			},
		},
		{
			Registry: p + `\.core\.(.*)\.leader`,
			Group:    AggregateGroup,
			Label:    "leader.$1",
			Filters: []string{
				`update_.*`,
				`query_.*`,
				`index_.*`,
				`tlog_.*`,
			},
		},
	}
}
