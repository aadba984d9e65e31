package forge

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/ast"
	"github.com/moby/buildkit/frontend/dockerfile/shell"
	"github.com/pkg/errors"
)

// elementNamePattern is the character allow-list core spec §6 requires
// for element names: letters, digits, '-', '_', '.', and '/' for
// subdirectories, no leading slash.
var elementNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_./-]*\.fge$`)

// ValidateElementName enforces the "names must pass a character
// allow-list" and ".fge suffix required" rules from core spec §6.
func ValidateElementName(name string) error {
	if !elementNamePattern.MatchString(name) {
		return NewError(DomainLoad, "bad-element-name", fmt.Sprintf("invalid element name %q", name), nil)
	}
	if strings.Contains(name, "..") {
		return NewError(DomainLoad, "bad-element-name", fmt.Sprintf("invalid element name %q", name), nil)
	}
	return nil
}

func unmarshalNode(ctx context.Context, node ast.Node, out any) error {
	return yaml.NodeToValue(node, out, yaml.Strict())
}

// rawElement is the top-level YAML mapping shape for an element file,
// matching the recognized-keys list in core spec §6. Unknown top-level
// keys are a load error, enforced by yaml.Strict() in LoadElementFile.
type rawElement struct {
	Kind               string            `yaml:"kind"`
	Depends            []DependencyItem  `yaml:"depends,omitempty"`
	BuildDepends       []DependencyItem  `yaml:"build-depends,omitempty"`
	RuntimeDepends     []DependencyItem  `yaml:"runtime-depends,omitempty"`
	Sources            map[string]map[string]any `yaml:"sources,omitempty"`
	Sandbox            map[string]any    `yaml:"sandbox,omitempty"`
	Variables          map[string]string `yaml:"variables,omitempty"`
	Environment        map[string]string `yaml:"environment,omitempty"`
	EnvironmentNoCache []string          `yaml:"environment-nocache,omitempty"`
	Config             map[string]any    `yaml:"config,omitempty"`
	Public             map[string]any    `yaml:"public,omitempty"`
	StrictRebuild      bool              `yaml:"strict-rebuild,omitempty"`
}

// LoadElementFile parses a single element file's bytes into an Element
// that still needs its dependencies resolved against the rest of the
// project (see ResolveDependencies).
func LoadElementFile(name string, data []byte) (*Element, error) {
	if err := ValidateElementName(name); err != nil {
		return nil, err
	}

	var raw rawElement
	if err := yaml.UnmarshalWithOptions(data, &raw, yaml.Strict()); err != nil {
		return nil, NewError(DomainLoad, "malformed-yaml", fmt.Sprintf("parsing %s", name), err)
	}
	if raw.Kind == "" {
		return nil, NewError(DomainLoad, "invalid-data", fmt.Sprintf("%s: missing kind", name), nil)
	}

	e := &Element{
		Name:                name,
		Kind:                raw.Kind,
		Config:              raw.Config,
		Variables:           raw.Variables,
		Environment:         raw.Environment,
		EnvironmentNoCache:  raw.EnvironmentNoCache,
		PublicData:          raw.Public,
		Sandbox:             raw.Sandbox,
		StrictRebuild:       raw.StrictRebuild,
		BuildDependencies:   mergeDeps(raw.BuildDepends, raw.Depends, DependBuild),
		RuntimeDependencies: mergeDeps(raw.RuntimeDepends, raw.Depends, DependRuntime),
	}

	for srcName, rs := range raw.Sources {
		src, err := buildSource(srcName, rs)
		if err != nil {
			return nil, NewError(DomainLoad, "invalid-data", fmt.Sprintf("%s: source %s", name, srcName), err)
		}
		e.Sources = append(e.Sources, src)
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}

	return e, nil
}

// mergeDeps folds the generic `depends` list (filtered to items whose
// declared Type matches or is DependAll/unset) in with an explicit
// build-depends or runtime-depends list, per core spec §6.
func mergeDeps(explicit, generic []DependencyItem, want DependencyType) []DependencyItem {
	out := append([]DependencyItem(nil), explicit...)
	for _, d := range generic {
		if d.Type == "" || d.Type == DependAll || d.Type == want {
			out = append(out, d)
		}
	}
	return out
}

func buildSource(name string, rs map[string]any) (Source, error) {
	kind, _ := rs["kind"].(string)
	switch kind {
	case "local", "":
		path, _ := rs["path"].(string)
		if path == "" {
			return nil, errors.New("local source requires a path")
		}
		return &LocalSource{SourceName: name, Path: path}, nil
	case "git":
		url, _ := rs["url"].(string)
		ref, _ := rs["ref"].(string)
		if url == "" {
			return nil, errors.New("git source requires a url")
		}
		return &GitSource{SourceName: name, URL: url, Ref: ref}, nil
	default:
		return nil, NewError(DomainPlugin, "unknown-source-kind", fmt.Sprintf("unknown source kind %q", kind), nil)
	}
}

// ResolveDependencies matches each DependencyItem against a concrete
// Element looked up in resolver, and detects dependency cycles via an
// on-stack set, per core spec §4.5/§3 ("the dependency graph ... is a
// DAG").
func ResolveDependencies(elements []*Element, resolver func(qualifiedName string) (*Element, bool)) error {
	onStack := make(map[string]bool, len(elements))
	resolved := make(map[string]bool, len(elements))

	var visit func(e *Element) error
	visit = func(e *Element) error {
		if resolved[e.Name] {
			return nil
		}
		if onStack[e.Name] {
			return NewError(DomainLoad, "circular-dependency", fmt.Sprintf("circular dependency involving %s", e.Name), errCircularDependency)
		}
		onStack[e.Name] = true
		defer func() { onStack[e.Name] = false }()

		build := make([]*Element, 0, len(e.BuildDependencies))
		for _, item := range e.BuildDependencies {
			dep, ok := resolver(item.QualifiedName())
			if !ok {
				return NewError(DomainLoad, "invalid-data", fmt.Sprintf("%s: unresolved build dependency %s", e.Name, item.QualifiedName()), nil)
			}
			if err := visit(dep); err != nil {
				return err
			}
			build = append(build, dep)
		}

		runtime := make([]*Element, 0, len(e.RuntimeDependencies))
		for _, item := range e.RuntimeDependencies {
			dep, ok := resolver(item.QualifiedName())
			if !ok {
				return NewError(DomainLoad, "invalid-data", fmt.Sprintf("%s: unresolved runtime dependency %s", e.Name, item.QualifiedName()), nil)
			}
			if err := visit(dep); err != nil {
				return err
			}
			runtime = append(runtime, dep)
		}

		e.SetResolvedDeps(build, runtime)
		resolved[e.Name] = true
		return nil
	}

	for _, e := range elements {
		if err := visit(e); err != nil {
			return err
		}
	}
	return nil
}

// SubstituteConfig controls how Substitute treats args that are not
// declared anywhere in the element, mirroring dalec's load.go pattern.
type SubstituteConfig struct {
	AllowArg func(string) bool
}

// DisallowAllUndeclared is the default AllowArg: nothing not already in
// Variables is permitted.
func DisallowAllUndeclared(string) bool { return false }

// Substitute performs ${name}-style shell substitution of s using vars,
// the same shell.Lex dalec's loader uses for build-arg expansion. Vars
// not present in vars (and not allowed by cfg.AllowArg) are an error.
func Substitute(s string, vars map[string]string, cfg *SubstituteConfig) (string, error) {
	if cfg == nil {
		cfg = &SubstituteConfig{AllowArg: DisallowAllUndeclared}
	}
	lex := shell.NewLex('\\')
	lex.SkipUnsetEnv = true

	result, err := lex.ProcessWordWithMatches(s, envGetter(vars))
	if err != nil {
		return "", err
	}

	var errs []error
	for m := range result.Unmatched {
		if _, declared := vars[m]; !declared && !cfg.AllowArg(m) {
			errs = append(errs, fmt.Errorf("variable %q not declared", m))
		}
	}
	if len(errs) > 0 {
		return "", errors.Wrap(joinErrors(errs), "error performing variable substitution")
	}
	return result.Result, nil
}

type envGetter map[string]string

func (m envGetter) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m envGetter) Keys() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func joinErrors(errs []error) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return errors.New(strings.Join(msgs, "; "))
}

// LoadProjectFile reads a project configuration file (core spec §6:
// name, element-path, ref-storage, aliases, mirrors, plugins, options).
func LoadProjectFile(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError(DomainLoad, "missing-file", path, err)
	}

	var raw struct {
		Name        string              `yaml:"name"`
		ElementPath string              `yaml:"element-path"`
		RefStorage  string              `yaml:"ref-storage"`
		Aliases     map[string]string   `yaml:"aliases"`
		Mirrors     map[string][]string `yaml:"mirrors"`
		Plugins     []string            `yaml:"plugins"`
		Options     map[string]any      `yaml:"options"`
	}
	if err := yaml.UnmarshalWithOptions(data, &raw, yaml.Strict()); err != nil {
		return nil, NewError(DomainLoad, "malformed-yaml", path, err)
	}
	if raw.Name == "" {
		return nil, NewError(DomainLoad, "invalid-data", path+": missing project name", nil)
	}

	p := NewProject(raw.Name)
	p.ElementPath = raw.ElementPath
	p.Aliases = raw.Aliases
	p.Mirrors = raw.Mirrors
	p.Plugins = raw.Plugins
	p.Options = raw.Options
	switch raw.RefStorage {
	case "", string(RefStorageInline):
		p.RefStorage = RefStorageInline
	case string(RefStorageProjectRefs):
		p.RefStorage = RefStorageProjectRefs
	default:
		return nil, NewError(DomainLoad, "invalid-data", path+": unknown ref-storage "+raw.RefStorage, nil)
	}
	return p, nil
}
