package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ClusterFile represents the YAML cluster file: the member directory,
// the coordinator assignment, the index cores hosted on this node, and
// any custom report routes that replace the built-in defaults.
type ClusterFile struct {
	Version string       `yaml:"version"`
	Cluster ClusterSpec  `yaml:"cluster"`
	Cores   []CoreEntry  `yaml:"cores,omitempty"`
	Routes  []RouteEntry `yaml:"routes,omitempty"`
}

// ClusterSpec lists the cluster members and the coordinator.
type ClusterSpec struct {
	// Coordinator is the token of the member holding the coordinator
	// role. Empty leaves the cluster without a coordinator.
	Coordinator string        `yaml:"coordinator,omitempty"`
	Members     []MemberEntry `yaml:"members"`
}

// MemberEntry is one node of the cluster.
type MemberEntry struct {
	Token string `yaml:"token"`
	URL   string `yaml:"url"`
}

// CoreEntry declares one index core hosted on this node. Every declared
// core gets a named registry with the per-core instrument set, so leader
// routes have registries to match from boot.
type CoreEntry struct {
	Index  string `yaml:"index"`
	Shard  string `yaml:"shard"`
	Leader bool   `yaml:"leader,omitempty"`
}

// RouteEntry defines a custom report route. Registry is a regular
// expression matched against registry names; Label may reference its
// capture groups with $1, $2, and so on. Filters select metric families
// by name; an empty list selects everything.
type RouteEntry struct {
	Registry string   `yaml:"registry"`
	Group    string   `yaml:"group"`
	Label    string   `yaml:"label,omitempty"`
	Filters  []string `yaml:"filters,omitempty"`
}

// ParseClusterFile parses a cluster file from a reader.
func ParseClusterFile(r io.Reader) (*ClusterFile, error) {
	var file ClusterFile

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true) // Error on unknown fields

	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode cluster file: %w", err)
	}

	return &file, nil
}

// LoadClusterFile reads, parses, and validates a cluster file from disk.
func LoadClusterFile(path string) (*ClusterFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cluster file: %w", err)
	}
	defer f.Close()

	file, err := ParseClusterFile(f)
	if err != nil {
		return nil, err
	}
	if err := ValidateClusterFile(file); err != nil {
		return nil, fmt.Errorf("invalid cluster file %s: %w", path, err)
	}
	return file, nil
}

// ValidateClusterFile validates a parsed cluster file. Route regular
// expressions are checked later, when the reporting service compiles the
// route table; validation here is structural.
func ValidateClusterFile(f *ClusterFile) error {
	var errs []error

	if f.Version == "" {
		errs = append(errs, errors.New("version is required"))
	} else if !isValidClusterFileVersion(f.Version) {
		errs = append(errs, fmt.Errorf("unsupported version: %s (supported: 1, 1.0)", f.Version))
	}

	if len(f.Cluster.Members) == 0 {
		errs = append(errs, errors.New("cluster.members must list at least one member"))
	}

	tokens := make(map[string]bool)
	for i, m := range f.Cluster.Members {
		prefix := fmt.Sprintf("cluster.members[%d]", i)

		if m.Token == "" {
			errs = append(errs, fmt.Errorf("%s.token is required", prefix))
		} else {
			if strings.Contains(m.Token, "-") {
				errs = append(errs, fmt.Errorf("%s.token %q must not contain '-'", prefix, m.Token))
			}
			if tokens[m.Token] {
				errs = append(errs, fmt.Errorf("%s.token %q is duplicated", prefix, m.Token))
			}
			tokens[m.Token] = true
		}

		if m.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required", prefix))
		} else if _, err := url.ParseRequestURI(m.URL); err != nil {
			errs = append(errs, fmt.Errorf("%s.url %q is not a valid URL", prefix, m.URL))
		}
	}

	if f.Cluster.Coordinator != "" && !tokens[f.Cluster.Coordinator] {
		errs = append(errs, fmt.Errorf("cluster.coordinator %q is not a member", f.Cluster.Coordinator))
	}

	cores := make(map[CoreEntry]bool)
	for i, c := range f.Cores {
		prefix := fmt.Sprintf("cores[%d]", i)

		if c.Index == "" {
			errs = append(errs, fmt.Errorf("%s.index is required", prefix))
		}
		if c.Shard == "" {
			errs = append(errs, fmt.Errorf("%s.shard is required", prefix))
		}
		if c.Index != "" && c.Shard != "" {
			if cores[c] {
				errs = append(errs, fmt.Errorf("%s duplicates core %s/%s", prefix, c.Index, c.Shard))
			}
			cores[c] = true
		}
	}

	for i, r := range f.Routes {
		prefix := fmt.Sprintf("routes[%d]", i)

		if r.Registry == "" {
			errs = append(errs, fmt.Errorf("%s.registry is required", prefix))
		}
		if r.Group == "" {
			errs = append(errs, fmt.Errorf("%s.group is required", prefix))
		}
		for j, filter := range r.Filters {
			if filter == "" {
				errs = append(errs, fmt.Errorf("%s.filters[%d] must not be empty", prefix, j))
			}
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}

// isValidClusterFileVersion checks if the cluster file version is supported.
func isValidClusterFileVersion(v string) bool {
	switch v {
	case "1", "1.0":
		return true
	default:
		return false
	}
}

// ExampleClusterFile returns an example cluster file for documentation.
func ExampleClusterFile() string {
	return `version: "1"

cluster:
  coordinator: alpha
  members:
    - token: alpha
      url: http://alpha.internal:7700
    - token: beta
      url: http://beta.internal:7700
    - token: gamma
      url: http://gamma.internal:7700

# Index cores hosted on this node. Leader cores get their own
# pulse.core.<index>.<shard>.leader registry.
cores:
  - index: products
    shard: shard1
    leader: true
  - index: products
    shard: shard2

# Custom report routes replace the built-in defaults entirely.
routes:
  - registry: pulse\.node
    group: coordinator
    label: runtime
    filters:
      - go_memstats_heap_.*
      - process_open_fds

  - registry: pulse\.core\.(.*)\.leader
    group: coordinator
    label: leader.$1
    filters:
      - update_.*
      - query_.*
`
}
