package cachekey

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestIsKey(t *testing.T) {
	t.Parallel()

	good := GenerateKey(map[string]any{"a": 1})
	assert.Assert(t, IsKey(good))
	assert.Assert(t, !IsKey("too-short"))
	assert.Assert(t, !IsKey(good[:len(good)-1]+"G"))
}

func TestGenerateKeyDeterministic(t *testing.T) {
	t.Parallel()

	a := map[string]any{"b": 2, "a": 1, "nested": map[string]any{"z": 1, "y": 2}}
	b := map[string]any{"a": 1, "nested": map[string]any{"y": 2, "z": 1}, "b": 2}

	assert.Equal(t, GenerateKey(a), GenerateKey(b))
}

func TestWeakKeyUnresolvedPropagates(t *testing.T) {
	t.Parallel()

	deps := []Dep{{Name: "base.fge", Weak: Unresolved}}
	key := WeakKey(ConfigDict{"kind": "make"}, deps, true)
	assert.Equal(t, key, Unresolved)
}

func TestWeakKeyDefaultUsesNames(t *testing.T) {
	t.Parallel()

	dict := ConfigDict{"kind": "make"}
	k1 := WeakKey(dict, []Dep{{Name: "b.fge", Weak: "ignored"}}, false)
	k2 := WeakKey(dict, []Dep{{Name: "b.fge", Weak: "different"}}, false)
	assert.Equal(t, k1, k2, "non-strict-rebuild weak key must not depend on dep weak keys")
}

func TestStrictKeyTransitive(t *testing.T) {
	t.Parallel()

	dict := ConfigDict{"kind": "make"}
	k1 := StrictKey(dict, []Dep{{Strict: "aaaa"}})
	k2 := StrictKey(dict, []Dep{{Strict: "bbbb"}})
	assert.Assert(t, k1 != k2)
}

func TestDeterminismAcrossCalls(t *testing.T) {
	t.Parallel()

	dict := ConfigDict{"kind": "make", "vars": map[string]any{"X": "1"}}
	deps := []Dep{{Strict: "f00d"}}
	assert.Equal(t, StrictKey(dict, deps), StrictKey(dict, deps))
}
