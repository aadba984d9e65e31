package forge

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestElementValidateRejectsJunctionWithDeps(t *testing.T) {
	t.Parallel()

	e := &Element{
		Name: "sub.fge",
		Kind: "junction",
		BuildDependencies: []DependencyItem{{Filename: "base.fge"}},
	}
	err := e.Validate()
	assert.ErrorContains(t, err, "junction")
}

func TestElementValidateRejectsNilElement(t *testing.T) {
	t.Parallel()

	var e *Element
	assert.Equal(t, e.Validate(), errNilElement)
}

func TestElementValidateAllowsOrdinaryDeps(t *testing.T) {
	t.Parallel()

	e := &Element{
		Name: "app.fge",
		Kind: "make",
		BuildDependencies: []DependencyItem{{Filename: "base.fge"}},
	}
	assert.NilError(t, e.Validate())
}

func TestCacheableEnvironmentFiltersNoCacheKeys(t *testing.T) {
	t.Parallel()

	e := &Element{
		Environment:        map[string]string{"PATH": "/usr/bin", "BUILD_TIMESTAMP": "123"},
		EnvironmentNoCache: []string{"BUILD_TIMESTAMP"},
	}
	got := e.CacheableEnvironment()
	assert.Equal(t, len(got), 1)
	assert.Equal(t, got["PATH"], "/usr/bin")
	_, ok := got["BUILD_TIMESTAMP"]
	assert.Assert(t, !ok)
}

func TestBuildDepNamesSorted(t *testing.T) {
	t.Parallel()

	e := &Element{}
	e.SetResolvedDeps([]*Element{{Name: "zeta.fge"}, {Name: "alpha.fge"}}, nil)
	assert.DeepEqual(t, e.BuildDepNames(), []string{"alpha.fge", "zeta.fge"})
}
