package forge

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// Element is the unit of build: sources, a kind, and configuration,
// plus edges to other elements. See core spec §3.
type Element struct {
	// Name is the project-relative identifier, e.g. "libs/base.fge".
	Name string `yaml:"-" json:"name"`

	Project *Project `yaml:"-" json:"-"`

	Kind string `yaml:"kind" json:"kind"`

	Sources []Source `yaml:"-" json:"-"`

	// Config is kind-specific build configuration. It participates in
	// the weak/strict key config_dict verbatim.
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`

	Variables   map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`

	// EnvironmentNoCache names Environment entries that must not
	// participate in cache-key computation.
	EnvironmentNoCache []string `yaml:"environment-nocache,omitempty" json:"environment-nocache,omitempty"`

	// PublicData is surfaced to dependents and participates in the
	// cache-key config_dict of elements that depend on this one only
	// insofar as it's read back out of this element's own artifact.
	PublicData map[string]any `yaml:"public,omitempty" json:"public,omitempty"`

	// StrictRebuild changes the weak-key inputs from dependency names
	// to dependency weak keys (core spec §3).
	StrictRebuild bool `yaml:"strict-rebuild,omitempty" json:"strict-rebuild,omitempty"`

	// Sandbox is opaque sandbox configuration; out of scope for this
	// core beyond participating in the cache key config_dict.
	Sandbox map[string]any `yaml:"sandbox,omitempty" json:"sandbox,omitempty"`

	BuildDependencies   []DependencyItem `yaml:"build-depends,omitempty" json:"build_depends,omitempty"`
	RuntimeDependencies []DependencyItem `yaml:"runtime-depends,omitempty" json:"runtime_depends,omitempty"`

	// resolved is populated by the loader once dependency items have
	// been matched against concrete elements in the project graph.
	resolvedBuildDeps   []*Element
	resolvedRuntimeDeps []*Element

	// session is bound lazily by Session.Plan/ResolveKeys so helper
	// adapters (elementNode) can reach the owning Session's stores
	// without threading a Session through every method signature.
	session *Session
}

// IsJunction reports whether this element is a junction (a reference to
// another project). Junctions must have no dependencies, per core spec
// §9's preserved rule.
func (e *Element) IsJunction() bool {
	return e.Kind == "junction"
}

// Validate enforces the invariants the loader must check eagerly: a
// junction must carry no dependencies of any kind.
func (e *Element) Validate() error {
	if e == nil {
		return errNilElement
	}
	if e.IsJunction() && (len(e.BuildDependencies) > 0 || len(e.RuntimeDependencies) > 0) {
		return NewError(DomainLoad, "invalid-junction", fmt.Sprintf("junction element %q may not declare dependencies", e.Name), nil)
	}
	return nil
}

// BuildDeps returns the resolved build-dependency elements, in the
// order they were declared.
func (e *Element) BuildDeps() []*Element {
	return e.resolvedBuildDeps
}

// RuntimeDeps returns the resolved runtime-dependency elements, in the
// order they were declared.
func (e *Element) RuntimeDeps() []*Element {
	return e.resolvedRuntimeDeps
}

// SetResolvedDeps is called by the loader once all elements in a
// project have been parsed, so dependency edges can point at live
// *Element values instead of names.
func (e *Element) SetResolvedDeps(build, runtime []*Element) {
	e.resolvedBuildDeps = build
	e.resolvedRuntimeDeps = runtime
}

// BuildDepNames returns the sorted list of direct build-dependency
// names; used by the weak-key engine's default (non-strict-rebuild)
// input set.
func (e *Element) BuildDepNames() []string {
	names := make([]string, 0, len(e.resolvedBuildDeps))
	for _, d := range e.resolvedBuildDeps {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// CacheableEnvironment returns Environment with any EnvironmentNoCache
// entries removed, per the config_dict rule in core spec §4.3.
func (e *Element) CacheableEnvironment() map[string]string {
	if len(e.EnvironmentNoCache) == 0 {
		return e.Environment
	}
	excluded := make(map[string]struct{}, len(e.EnvironmentNoCache))
	for _, k := range e.EnvironmentNoCache {
		excluded[k] = struct{}{}
	}
	out := make(map[string]string, len(e.Environment))
	for k, v := range e.Environment {
		if _, skip := excluded[k]; skip {
			continue
		}
		out[k] = v
	}
	return out
}

var errNilElement = errors.New("nil element")
