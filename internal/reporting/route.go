// Package reporting implements push-mode metric reporting from cluster
// nodes to the coordinator. A route table maps local metric registries
// to report groups on the coordinator side; a resolver tracks the
// coordinator's address through the leadership record; the service ties
// both to a periodic pusher.
package reporting

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RouteSpec is the declarative form of one report route. Registry is a
// regular expression matched against full registry names. Label may
// reference capture groups of Registry with $1, $2, and so on; Group may
// too. Filters are regular expressions matched against full metric
// family names; an empty list selects every family in the registry.
type RouteSpec struct {
	Registry string
	Group    string
	Label    string
	Filters  []string
}

// Route is a compiled route. Compiled patterns are anchored: a route
// matches only when the pattern covers the whole registry or family
// name, not a substring of it.
type Route struct {
	spec     RouteSpec
	registry *regexp.Regexp
	filters  []*regexp.Regexp
}

// backrefPattern finds numeric capture references in a template.
var backrefPattern = regexp.MustCompile(`\$(\d+)|\$\{(\d+)\}`)

// CompileRoute validates and compiles a route spec.
func CompileRoute(spec RouteSpec) (*Route, error) {
	if spec.Registry == "" {
		return nil, errors.New("route registry pattern must not be empty")
	}
	if spec.Group == "" {
		return nil, errors.New("route group must not be empty")
	}

	registry, err := regexp.Compile(anchor(spec.Registry))
	if err != nil {
		return nil, fmt.Errorf("invalid registry pattern %q: %w", spec.Registry, err)
	}

	if err := checkBackrefs(spec.Group, registry); err != nil {
		return nil, fmt.Errorf("route group %q: %w", spec.Group, err)
	}
	if err := checkBackrefs(spec.Label, registry); err != nil {
		return nil, fmt.Errorf("route label %q: %w", spec.Label, err)
	}

	filters := make([]*regexp.Regexp, 0, len(spec.Filters))
	for _, f := range spec.Filters {
		if f == "" {
			return nil, errors.New("route filter must not be empty")
		}
		re, err := regexp.Compile(anchor(f))
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern %q: %w", f, err)
		}
		filters = append(filters, re)
	}

	return &Route{spec: spec, registry: registry, filters: filters}, nil
}

// CompileRoutes compiles a whole route table, collecting every error so
// a bad table is rejected with all its problems reported at once.
func CompileRoutes(specs []RouteSpec) ([]*Route, error) {
	routes := make([]*Route, 0, len(specs))
	var errs []error
	for i, spec := range specs {
		route, err := CompileRoute(spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("route %d: %w", i, err))
			continue
		}
		routes = append(routes, route)
	}
	if len(errs) > 0 {
		return nil, &ConfigError{Errors: errs}
	}
	return routes, nil
}

// ConfigError rejects a route table as a whole. One bad route discards
// the entire table rather than silently running with the remainder.
type ConfigError struct {
	Errors []error
}

func (e *ConfigError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid route table: " + e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("invalid route table (%d errors):\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap returns the underlying errors for errors.Is/As compatibility.
func (e *ConfigError) Unwrap() []error {
	return e.Errors
}

// Spec returns the route's declarative form.
func (r *Route) Spec() RouteSpec { return r.spec }

// Matches reports whether the route selects the named registry.
func (r *Route) Matches(registry string) bool {
	return r.registry.MatchString(registry)
}

// RenderGroup expands the group template against a matching registry
// name. Templates without capture references pass through unchanged.
func (r *Route) RenderGroup(registry string) string {
	return r.render(r.spec.Group, registry)
}

// RenderLabel expands the label template against a matching registry
// name. Routes without a label render the empty string.
func (r *Route) RenderLabel(registry string) string {
	return r.render(r.spec.Label, registry)
}

func (r *Route) render(template, registry string) string {
	if !strings.Contains(template, "$") {
		return template
	}
	return r.registry.ReplaceAllString(registry, template)
}

// SelectsMetric reports whether the route's filters admit the named
// metric family. No filters means every family is admitted.
func (r *Route) SelectsMetric(name string) bool {
	if len(r.filters) == 0 {
		return true
	}
	for _, f := range r.filters {
		if f.MatchString(name) {
			return true
		}
	}
	return false
}

func (r *Route) String() string {
	return fmt.Sprintf("route{registry: %s, group: %s, label: %s, filters: %d}",
		r.spec.Registry, r.spec.Group, r.spec.Label, len(r.filters))
}

// anchor wraps a pattern so it must cover the whole input.
func anchor(pattern string) string {
	return "^(?:" + pattern + ")$"
}

// checkBackrefs rejects templates referencing capture groups the
// registry pattern does not have.
func checkBackrefs(template string, registry *regexp.Regexp) error {
	for _, m := range backrefPattern.FindAllStringSubmatch(template, -1) {
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		if n > registry.NumSubexp() {
			return fmt.Errorf("references capture group %d but pattern has %d", n, registry.NumSubexp())
		}
	}
	return nil
}
