package forge

import (
	"context"
	goerrors "errors"

	"github.com/goccy/go-yaml/ast"
)

// DependencyType classifies a dependency edge: it participates in the
// build graph (Build), the runtime graph (Runtime), or both (All).
type DependencyType string

const (
	DependBuild   DependencyType = "build"
	DependRuntime DependencyType = "runtime"
	DependAll     DependencyType = "all"
)

// DependencyItem is one entry of an element's depends/build-depends/
// runtime-depends list. Per the core spec it may be written in YAML as
// either a bare string (the element name) or a mapping with filename,
// type, junction and strict.
type DependencyItem struct {
	Filename string         `yaml:"filename" json:"filename"`
	Type     DependencyType `yaml:"type,omitempty" json:"type,omitempty"`
	Junction string         `yaml:"junction,omitempty" json:"junction,omitempty"`
	Strict   bool           `yaml:"strict,omitempty" json:"strict,omitempty"`
}

// UnmarshalYAML accepts either a scalar string (shorthand for
// {filename: <string>}) or a full mapping, mirroring how dalec's own
// spec loader upgrades legacy scalar forms to the mapping form.
func (d *DependencyItem) UnmarshalYAML(ctx context.Context, node ast.Node) error {
	if s, ok := node.(*ast.StringNode); ok {
		d.Filename = s.Value
		return nil
	}

	type internal DependencyItem
	var i internal
	if err := unmarshalNode(ctx, node, &i); err != nil {
		return err
	}
	*d = DependencyItem(i)
	return nil
}

// QualifiedName returns the element name this dependency resolves to,
// including the junction prefix (junction.bst:element.bst chaining) if
// present, per the core spec's cross-project reference syntax.
func (d DependencyItem) QualifiedName() string {
	if d.Junction == "" {
		return d.Filename
	}
	return d.Junction + ":" + d.Filename
}

// ResolvedDependency is a DependencyItem after it has been matched
// against a concrete target Element in the loaded graph.
type ResolvedDependency struct {
	Item   DependencyItem
	Target *Element
}

var errCircularDependency = goerrors.New("circular dependency")
