package forge

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestValidateElementNameRequiresSuffix(t *testing.T) {
	t.Parallel()

	assert.NilError(t, ValidateElementName("app.fge"))
	assert.NilError(t, ValidateElementName("libs/base.fge"))
	assert.ErrorContains(t, ValidateElementName("app.bst"), "invalid element name")
	assert.ErrorContains(t, ValidateElementName("../app.fge"), "invalid element name")
}

func TestLoadElementFileMinimal(t *testing.T) {
	t.Parallel()

	data := []byte(`
kind: make
config:
  command: "make all"
sources:
  repo:
    kind: local
    path: /tmp/does-not-need-to-exist
`)
	el, err := LoadElementFile("app.fge", data)
	assert.NilError(t, err)
	assert.Equal(t, el.Kind, "make")
	assert.Equal(t, len(el.Sources), 1)
	assert.Equal(t, el.Sources[0].Kind(), "local")
}

func TestLoadElementFileRequiresKind(t *testing.T) {
	t.Parallel()

	_, err := LoadElementFile("app.fge", []byte(`config: {}`))
	assert.ErrorContains(t, err, "missing kind")
}

func TestLoadElementFileRejectsUnknownTopLevelKey(t *testing.T) {
	t.Parallel()

	_, err := LoadElementFile("app.fge", []byte("kind: make\nbogus-key: 1\n"))
	assert.Assert(t, err != nil)
}

func TestMergeDepsFiltersGenericByType(t *testing.T) {
	t.Parallel()

	generic := []DependencyItem{
		{Filename: "both.fge", Type: DependAll},
		{Filename: "build-only.fge", Type: DependBuild},
		{Filename: "runtime-only.fge", Type: DependRuntime},
	}
	build := mergeDeps(nil, generic, DependBuild)
	names := make([]string, 0, len(build))
	for _, d := range build {
		names = append(names, d.Filename)
	}
	assert.DeepEqual(t, names, []string{"both.fge", "build-only.fge"})
}

func TestResolveDependenciesDetectsCycle(t *testing.T) {
	t.Parallel()

	a := &Element{Name: "a.fge", BuildDependencies: []DependencyItem{{Filename: "b.fge"}}}
	b := &Element{Name: "b.fge", BuildDependencies: []DependencyItem{{Filename: "a.fge"}}}

	byName := map[string]*Element{"a.fge": a, "b.fge": b}
	err := ResolveDependencies([]*Element{a, b}, func(name string) (*Element, bool) {
		e, ok := byName[name]
		return e, ok
	})
	assert.ErrorContains(t, err, "circular dependency")
}

func TestResolveDependenciesWiresDeps(t *testing.T) {
	t.Parallel()

	base := &Element{Name: "base.fge"}
	app := &Element{Name: "app.fge", BuildDependencies: []DependencyItem{{Filename: "base.fge"}}}

	byName := map[string]*Element{"base.fge": base, "app.fge": app}
	err := ResolveDependencies([]*Element{base, app}, func(name string) (*Element, bool) {
		e, ok := byName[name]
		return e, ok
	})
	assert.NilError(t, err)
	assert.Equal(t, len(app.BuildDeps()), 1)
	assert.Equal(t, app.BuildDeps()[0].Name, "base.fge")
}

func TestSubstituteExpandsDeclaredVars(t *testing.T) {
	t.Parallel()

	out, err := Substitute("hello ${NAME}", map[string]string{"NAME": "world"}, nil)
	assert.NilError(t, err)
	assert.Equal(t, out, "hello world")
}

func TestSubstituteRejectsUndeclaredVar(t *testing.T) {
	t.Parallel()

	_, err := Substitute("hello ${NAME}", map[string]string{}, nil)
	assert.ErrorContains(t, err, "not declared")
}
