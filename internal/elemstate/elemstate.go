// Package elemstate tracks the per-element build state machine from
// core spec §4.4: source consistency, the three cache keys, and the
// cached/pull/assemble flags that the planner and pipeline consult
// before scheduling work. Grounded in buildstream's
// _cachekey/cachekey.py-adjacent element.py state fields (mirrored
// here as Go struct fields instead of Python instance attributes) and
// in dalec's github.com/sirupsen/logrus usage for the controllers'
// diagnostic trace of key transitions.
package elemstate

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/forgebuild/forge/internal/cachekey"
)

// Consistency mirrors forge.Consistency without importing the root
// package, keeping this package leaf-level per the dependency order
// in core spec §2.
type Consistency int

const (
	Inconsistent Consistency = iota
	Resolved
	Cached
)

// State is the full mutable record the core spec §4.4 attaches to
// every element: source consistency, the three cache keys, and the
// scheduling flags the pipeline/planner read.
type State struct {
	mu sync.Mutex

	Name string

	SourceConsistency Consistency

	WeakKey   string
	StrictKey string
	StrongKey string

	WeakCached   bool
	StrictCached bool

	PullPending bool
	Required    bool

	AssembleScheduled bool
	AssembleDone      bool

	BuildSuccess bool
	BuildDone    bool
}

func New(name string) *State {
	return &State{Name: name, WeakKey: cachekey.Unresolved, StrictKey: cachekey.Unresolved, StrongKey: cachekey.Unresolved}
}

// Snapshot is an immutable copy of State safe to read without holding
// the lock, used by the planner/pipeline when they need a consistent
// view across several fields at once.
type Snapshot struct {
	Name              string
	SourceConsistency Consistency
	WeakKey           string
	StrictKey         string
	StrongKey         string
	WeakCached        bool
	StrictCached      bool
	PullPending       bool
	Required          bool
	AssembleScheduled bool
	AssembleDone      bool
	BuildSuccess      bool
	BuildDone         bool
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Name:              s.Name,
		SourceConsistency: s.SourceConsistency,
		WeakKey:           s.WeakKey,
		StrictKey:         s.StrictKey,
		StrongKey:         s.StrongKey,
		WeakCached:        s.WeakCached,
		StrictCached:      s.StrictCached,
		PullPending:       s.PullPending,
		Required:          s.Required,
		AssembleScheduled: s.AssembleScheduled,
		AssembleDone:      s.AssembleDone,
		BuildSuccess:      s.BuildSuccess,
		BuildDone:         s.BuildDone,
	}
}

// Controller recomputes an element's cache keys from its dependency
// states, per core spec §4.4's strict/non-strict variants.
//
// A Strict controller always binds the strong key to dependency
// StrictKey values, so a dependency's rebuild transitively invalidates
// every downstream strong key. A non-strict controller binds the
// strong key to dependency strong keys, but falls back to the strict
// behavior when the element itself carries StrictRebuild. Under both
// controllers the weak key uses dependency names, or dependency weak
// keys when the element carries StrictRebuild.
type Controller struct {
	Strict bool
	Log    logrus.FieldLogger
}

func NewController(strict bool) *Controller {
	return &Controller{Strict: strict, Log: logrus.StandardLogger().WithField("component", "elemstate")}
}

// DepInput is the minimal view a Controller needs of one dependency's
// current state to fold it into an element's own keys.
type DepInput struct {
	Name   string
	Weak   string
	Strict string
	Strong string
}

// Recompute derives weak/strict/strong keys for an element from its
// own config dict and the current state of its build dependencies,
// writing the results into st and returning whether anything changed
// (so callers can decide whether to propagate to reverse dependencies).
func (c *Controller) Recompute(st *State, dict cachekey.ConfigDict, deps []DepInput, strictRebuild bool, weakCachedLookup func(weak string) bool) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	ckDeps := make([]cachekey.Dep, len(deps))
	for i, d := range deps {
		ckDeps[i] = cachekey.Dep{Name: d.Name, Weak: d.Weak, Strict: d.Strict, Strong: d.Strong}
	}

	useStrict := c.Strict || strictRebuild

	newWeak := cachekey.WeakKey(dict, ckDeps, strictRebuild)
	newStrict := cachekey.StrictKey(dict, ckDeps)

	var newStrong string
	if useStrict {
		newStrong = newStrict
	} else if weakCachedLookup != nil && weakCachedLookup(newWeak) {
		// A weak-key cache hit lets a non-strict build skip binding to
		// dependency strong keys entirely, per core spec §4.4.
		newStrong = newWeak
	} else {
		newStrong = cachekey.StrongKeyFromDeps(dict, ckDeps)
	}

	changed := newWeak != st.WeakKey || newStrict != st.StrictKey || newStrong != st.StrongKey
	if changed {
		c.Log.WithFields(logrus.Fields{
			"element": st.Name,
			"weak":    newWeak,
			"strict":  newStrict,
			"strong":  newStrong,
		}).Debug("cache keys recomputed")
	}

	st.WeakKey = newWeak
	st.StrictKey = newStrict
	st.StrongKey = newStrong
	return changed
}

// Tracker owns every element's State and implements the bounded
// worklist-based reverse-dependency recomputation described in
// core spec's Open Questions resolution (SPEC_FULL.md): when an
// element's keys change, only its direct reverse dependencies are
// re-enqueued, not the whole graph.
type Tracker struct {
	mu         sync.Mutex
	states     map[string]*State
	reverseDep map[string][]string
	controller *Controller
}

func NewTracker(controller *Controller) *Tracker {
	return &Tracker{
		states:     make(map[string]*State),
		reverseDep: make(map[string][]string),
		controller: controller,
	}
}

func (t *Tracker) State(name string) *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[name]
	if !ok {
		st = New(name)
		t.states[name] = st
	}
	return st
}

// AddReverseDep registers that `dependent` has `dependency` as a build
// dependency, so that a recompute of `dependency` enqueues `dependent`
// for recomputation.
func (t *Tracker) AddReverseDep(dependency, dependent string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reverseDep[dependency] = append(t.reverseDep[dependency], dependent)
}

// RecomputeDict is supplied per-element by the caller (the loader
// layer owns the element's config/variables/environment, elemstate
// does not).
type RecomputeDict func(name string) cachekey.ConfigDict

// DepsOf is supplied per-element by the caller to list build deps.
type DepsOf func(name string) []string

// StrictRebuildOf is supplied per-element by the caller to report
// whether that element declares strict-rebuild (core spec §3), which
// switches its weak-key inputs from dependency names to dependency
// weak keys.
type StrictRebuildOf func(name string) bool

// PropagateFrom recomputes `start` and then follows the reverse
// dependency edges outward using a bounded worklist: each element is
// visited at most once per call, which keeps recomputation from
// exploding on diamond-shaped dependency graphs.
func (t *Tracker) PropagateFrom(start string, dict RecomputeDict, depsOf DepsOf, strictRebuildOf StrictRebuildOf, weakCachedLookup func(string) bool) {
	visited := make(map[string]bool)
	worklist := []string{start}

	for len(worklist) > 0 {
		name := worklist[0]
		worklist = worklist[1:]
		if visited[name] {
			continue
		}
		visited[name] = true

		st := t.State(name)
		deps := depsOf(name)
		depInputs := make([]DepInput, 0, len(deps))
		for _, depName := range deps {
			depSt := t.State(depName)
			snap := depSt.Snapshot()
			depInputs = append(depInputs, DepInput{Name: depName, Weak: snap.WeakKey, Strict: snap.StrictKey, Strong: snap.StrongKey})
		}

		strictRebuild := strictRebuildOf != nil && strictRebuildOf(name)
		changed := t.controller.Recompute(st, dict(name), depInputs, strictRebuild, weakCachedLookup)

		if changed || name == start {
			t.mu.Lock()
			next := append([]string(nil), t.reverseDep[name]...)
			t.mu.Unlock()
			for _, n := range next {
				if !visited[n] {
					worklist = append(worklist, n)
				}
			}
		}
	}
}
