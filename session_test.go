package forge

import (
	"context"
	"sync"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/forgebuild/forge/internal/artifact"
)

// chainProject builds a three-element build-dependency chain
// base.fge <- mid.fge <- top.fge, the shape core spec §8's S1/S2
// scenarios exercise: a fresh build must visit dependencies before
// dependents, and a second build of the same roots must do no work at
// all once everything is cached.
func chainProject(t *testing.T) *Project {
	t.Helper()

	proj := NewProject("chain")

	base := &Element{Name: "base.fge", Kind: "make", Config: map[string]any{"command": "base"}}
	mid := &Element{Name: "mid.fge", Kind: "make", Config: map[string]any{"command": "mid"}}
	top := &Element{Name: "top.fge", Kind: "make", Config: map[string]any{"command": "top"}}

	mid.SetResolvedDeps([]*Element{base}, nil)
	top.SetResolvedDeps([]*Element{mid}, nil)

	for _, e := range []*Element{base, mid, top} {
		assert.NilError(t, proj.AddElement(e))
	}
	return proj
}

func TestSessionFreshBuildRunsDependenciesBeforeDependents(t *testing.T) {
	proj := chainProject(t)
	session, err := Open(proj, t.TempDir(), false)
	assert.NilError(t, err)

	plan, err := session.Plan([]string{"top.fge"})
	assert.NilError(t, err)
	assert.DeepEqual(t, plan, []string{"base.fge", "mid.fge", "top.fge"})

	assert.NilError(t, session.ResolveKeys(plan))

	var mu sync.Mutex
	var order []string
	build := func(ctx context.Context, e *Element, buildDeps map[string]string) (string, string, []byte, error) {
		mu.Lock()
		order = append(order, e.Name)
		mu.Unlock()
		return "", "", nil, nil
	}

	assert.NilError(t, session.RunQueue(context.Background(), plan, build))
	assert.DeepEqual(t, order, []string{"base.fge", "mid.fge", "top.fge"})

	for _, name := range plan {
		st := session.tracker.State(name).Snapshot()
		assert.Assert(t, session.artifact.Cached(st.StrongKey, artifact.FilesAndContents))
	}
}

func TestSessionSecondBuildSkipsCachedChain(t *testing.T) {
	proj := chainProject(t)
	session, err := Open(proj, t.TempDir(), false)
	assert.NilError(t, err)

	plan, err := session.Plan([]string{"top.fge"})
	assert.NilError(t, err)
	assert.NilError(t, session.ResolveKeys(plan))

	var calls int
	build := func(ctx context.Context, e *Element, buildDeps map[string]string) (string, string, []byte, error) {
		calls++
		return "", "", nil, nil
	}
	assert.NilError(t, session.RunQueue(context.Background(), plan, build))
	assert.Equal(t, calls, 3)

	// Re-planning the same roots now finds every element cached, so
	// the planner drops them all (core spec §4.5 step 5) and a second
	// RunQueue over an empty plan does no further work.
	plan2, err := session.Plan([]string{"top.fge"})
	assert.NilError(t, err)
	assert.Equal(t, len(plan2), 0)

	assert.NilError(t, session.ResolveKeys(plan2))
	assert.NilError(t, session.RunQueue(context.Background(), plan2, build))
	assert.Equal(t, calls, 3, "no rebuild should happen once every element in the chain is cached")
}
