package metrics

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// DefaultPrefix is the leading segment of every registry name.
const DefaultPrefix = "pulse"

// Well-known registry short names.
const (
	RuntimeRegistry = "runtime"
	HTTPRegistry    = "http"
	NodeRegistry    = "node"
)

// Manager is a concurrency-safe directory of named Prometheus registries.
// Node-scoped metric sources (runtime, HTTP layer, per-core instruments)
// each live in their own registry so routing rules can select whole
// registries by name pattern.
type Manager struct {
	prefix string

	mu         sync.RWMutex
	registries map[string]*prometheus.Registry
}

// NewManager creates a registry directory using the given name prefix,
// falling back to DefaultPrefix when empty.
func NewManager(prefix string) *Manager {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Manager{
		prefix:     prefix,
		registries: make(map[string]*prometheus.Registry),
	}
}

// Prefix returns the registry name prefix.
func (m *Manager) Prefix() string {
	return m.prefix
}

// RegistryName joins name parts under the manager's prefix,
// e.g. RegistryName("core", "products", "shard1") -> "pulse.core.products.shard1".
func (m *Manager) RegistryName(parts ...string) string {
	return m.prefix + "." + strings.Join(parts, ".")
}

// CoreRegistryName returns the registry name for one index core,
// with the leader suffix when the core currently leads its shard.
func (m *Manager) CoreRegistryName(index, shard string, leader bool) string {
	name := m.RegistryName("core", index, shard)
	if leader {
		name += ".leader"
	}
	return name
}

// Registry returns the registry with the given full name, creating it
// if needed.
func (m *Manager) Registry(name string) *prometheus.Registry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reg, ok := m.registries[name]; ok {
		return reg
	}
	reg := prometheus.NewRegistry()
	m.registries[name] = reg
	return reg
}

// Lookup returns the registry with the given full name if it exists.
func (m *Manager) Lookup(name string) (*prometheus.Registry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.registries[name]
	return reg, ok
}

// Remove drops a registry from the directory. Metrics already gathered
// from it are unaffected.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.registries, name)
}

// Names returns all registry names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.registries))
	for name := range m.registries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Match returns the sorted registry names fully matched by re.
func (m *Manager) Match(re *regexp.Regexp) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name := range m.registries {
		if loc := re.FindStringIndex(name); loc != nil && loc[0] == 0 && loc[1] == len(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Gather collects the current metric families of the named registry.
func (m *Manager) Gather(name string) ([]*dto.MetricFamily, error) {
	reg, ok := m.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown registry %q", name)
	}
	return reg.Gather()
}

// BootstrapNode creates the standard node registries: the runtime registry
// wired with the Go and process collectors, and empty http and node
// registries for the serving layer to instrument.
func (m *Manager) BootstrapNode() {
	runtime := m.Registry(m.RegistryName(RuntimeRegistry))
	runtime.MustRegister(prometheus.NewGoCollector())
	runtime.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m.Registry(m.RegistryName(HTTPRegistry))
	m.Registry(m.RegistryName(NodeRegistry))
}
