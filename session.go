package forge

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/forgebuild/forge/internal/artifact"
	"github.com/forgebuild/forge/internal/cachekey"
	"github.com/forgebuild/forge/internal/casstore"
	"github.com/forgebuild/forge/internal/elemstate"
	"github.com/forgebuild/forge/internal/job"
	"github.com/forgebuild/forge/internal/pipeline"
	"github.com/forgebuild/forge/internal/planner"
	"github.com/forgebuild/forge/internal/resources"
	"github.com/forgebuild/forge/internal/scheduler"
)

// Session is the top-level object that wires the content store,
// artifact store, cache-key tracker, planner, resource pool, pipeline,
// and scheduler together to drive one build. It is the Go analogue of
// the "external loader -> state machine -> planner -> scheduler"
// control flow described in core spec §2.
type Session struct {
	Project *Project

	CacheDir string
	Strict   bool

	// OnError implements core spec §7's on-error policy: "continue"
	// lets in-flight jobs in a stage finish even after a sibling fails;
	// any other value (including the zero value, "quit") cancels the
	// rest of the stage's in-flight jobs as soon as one fails.
	OnError string

	cas      *casstore.Store
	artifact *artifact.Store
	tracker  *elemstate.Tracker
	pool     *resources.Pool
}

// Open prepares a Session rooted at cacheDir, creating the
// content-addressed store under cacheDir/cas if it doesn't exist yet.
func Open(project *Project, cacheDir string, strict bool) (*Session, error) {
	casDir := filepath.Join(cacheDir, "cas")
	if err := os.MkdirAll(casDir, 0o755); err != nil {
		return nil, err
	}
	cas, err := casstore.Open(casDir)
	if err != nil {
		return nil, err
	}

	return &Session{
		Project:  project,
		CacheDir: cacheDir,
		Strict:   strict,
		cas:      cas,
		artifact: artifact.NewStore(cas),
		tracker:  elemstate.NewTracker(elemstate.NewController(strict)),
		pool:     resources.NewPool(resources.DefaultLimits()),
	}, nil
}

// elementNode adapts *Element to planner.Node.
type elementNode struct {
	e *Element
}

func (n elementNode) Name() string { return n.e.Name }
func (n elementNode) RuntimeDepNames() []string {
	names := make([]string, 0, len(n.e.RuntimeDeps()))
	for _, d := range n.e.RuntimeDeps() {
		names = append(names, d.Name)
	}
	return names
}
func (n elementNode) BuildDepNames() []string { return n.e.BuildDepNames() }
func (n elementNode) Cached() bool {
	st := n.e.session.tracker.State(n.e.Name).Snapshot()
	if st.StrongKey == cachekey.Unresolved {
		return false
	}
	return n.e.session.artifact.Cached(st.StrongKey, artifact.FilesAndContents)
}
func (n elementNode) IgnoreCache() bool { return false }

// session is set by Session.Plan so elementNode can reach back into
// the owning Session's stores without every Element needing one.
func (e *Element) bindSession(s *Session) { e.session = s }

// Plan computes the depth-sorted build order for the named root
// elements, per core spec §4.5.
func (s *Session) Plan(roots []string) ([]string, error) {
	lookup := func(name string) (planner.Node, bool) {
		el, ok := s.Project.Element(name)
		if !ok {
			return nil, false
		}
		el.bindSession(s)
		return elementNode{e: el}, true
	}
	return planner.Plan(roots, lookup)
}

// configDictOf builds the cachekey.ConfigDict for an element, folding
// in its kind, config, variables, cacheable environment, public data,
// and sandbox config, per core spec §4.3.
func configDictOf(e *Element) cachekey.ConfigDict {
	return cachekey.ConfigDict{
		"kind":        e.Kind,
		"config":      e.Config,
		"variables":   e.Variables,
		"environment": e.CacheableEnvironment(),
		"public":      e.PublicData,
		"sandbox":     e.Sandbox,
	}
}

// ResolveKeys runs the element-state controller over every element
// reachable from plan, in plan order (deepest/most-depended-on
// first), so a dependency's keys are always resolved before its
// dependents recompute theirs.
func (s *Session) ResolveKeys(plan []string) error {
	for _, name := range plan {
		el, ok := s.Project.Element(name)
		if !ok {
			return errors.Errorf("forge: unknown element %q in plan", name)
		}
		el.bindSession(s)

		deps := make([]string, 0, len(el.BuildDeps()))
		for _, d := range el.BuildDeps() {
			deps = append(deps, d.Name)
		}
		for _, d := range el.BuildDeps() {
			s.tracker.AddReverseDep(d.Name, el.Name)
		}

		s.tracker.PropagateFrom(el.Name,
			func(name string) cachekey.ConfigDict {
				depEl, _ := s.Project.Element(name)
				if depEl == nil {
					return cachekey.ConfigDict{}
				}
				return configDictOf(depEl)
			},
			func(name string) []string {
				depEl, _ := s.Project.Element(name)
				if depEl == nil {
					return nil
				}
				names := make([]string, 0, len(depEl.BuildDeps()))
				for _, d := range depEl.BuildDeps() {
					names = append(names, d.Name)
				}
				return names
			},
			func(name string) bool {
				depEl, _ := s.Project.Element(name)
				return depEl != nil && depEl.StrictRebuild
			},
			func(weak string) bool {
				return s.artifact.Cached(weak, artifact.DirectoriesOnly)
			},
		)
	}
	return nil
}

// buildable reports whether every one of name's build-dependencies
// already has an artifact committed to the store under its strong
// key, per core spec §4.6's Build row: "buildable() (all build-deps
// locally cached)". An element with no build-deps is trivially
// buildable.
func (s *Session) buildable(name string) bool {
	el, ok := s.Project.Element(name)
	if !ok {
		return false
	}
	for _, d := range el.BuildDeps() {
		st := s.tracker.State(d.Name).Snapshot()
		if st.StrongKey == cachekey.Unresolved {
			return false
		}
		if !s.artifact.Cached(st.StrongKey, artifact.FilesAndContents) {
			return false
		}
	}
	return true
}

// BuildFunc runs the kind-specific build for an element inside a
// sandbox, returning the staged files/buildtree roots (either may be
// empty) and a build log. The sandbox backend itself is out of scope
// per core spec §1; callers supply their own.
type BuildFunc func(ctx context.Context, e *Element, buildDeps map[string]string) (filesDir, buildtreeDir string, log []byte, err error)

// RunQueue drives plan through the track/pull/fetch/build/push stages
// described in core spec §4.6, using build to actually run each
// element's build step and committing results to the artifact store.
func (s *Session) RunQueue(ctx context.Context, plan []string, build BuildFunc) error {
	stages := []*pipeline.Stage{
		{
			Name:        "track",
			Concurrency: 4,
			Classify: func(name string) pipeline.Status {
				el, _ := s.Project.Element(name)
				if el == nil {
					return pipeline.StatusSkip
				}
				if SourceConsistencyOf(el.Sources) == Cached {
					return pipeline.StatusSkip
				}
				return pipeline.StatusReady
			},
		},
		{
			Name:        "pull",
			Concurrency: 1,
			Classify: func(name string) pipeline.Status {
				st := s.tracker.State(name).Snapshot()
				if st.StrongKey != cachekey.Unresolved && s.artifact.Cached(st.StrongKey, artifact.FilesAndContents) {
					return pipeline.StatusSkip
				}
				return pipeline.StatusReady
			},
		},
		{
			Name:        "fetch",
			Concurrency: 1,
			Classify: func(name string) pipeline.Status {
				el, _ := s.Project.Element(name)
				if el == nil {
					return pipeline.StatusSkip
				}
				if SourceConsistencyOf(el.Sources) == Cached {
					return pipeline.StatusSkip
				}
				return pipeline.StatusReady
			},
		},
		{
			Name:        "build",
			Concurrency: 4,
			Classify: func(name string) pipeline.Status {
				st := s.tracker.State(name).Snapshot()
				if st.StrongKey != cachekey.Unresolved && s.artifact.Cached(st.StrongKey, artifact.FilesAndContents) {
					return pipeline.StatusSkip
				}
				if !s.buildable(name) {
					return pipeline.StatusWaiting
				}
				return pipeline.StatusReady
			},
		},
		{
			Name:        "push",
			Concurrency: 1,
			Classify: func(string) pipeline.Status { return pipeline.StatusReady },
		},
	}

	q := pipeline.NewQueue(stages...)
	q.ContinueOnError = s.OnError == "continue"

	return q.Run(ctx, plan, func(stage *pipeline.Stage, name string) pipeline.Job {
		return pipeline.Job{Element: name, Run: func(ctx context.Context) error {
			return s.runStageAction(ctx, stage.Name, name, build)
		}}
	})
}

func (s *Session) runStageAction(ctx context.Context, stageName, name string, build BuildFunc) error {
	el, ok := s.Project.Element(name)
	if !ok {
		return errors.Errorf("forge: unknown element %q", name)
	}

	var class resources.Class
	switch stageName {
	case "track":
		class = resources.ClassDownload
	case "pull":
		class = resources.ClassCache
	case "fetch":
		class = resources.ClassDownload
	case "build":
		class = resources.ClassProcess
	case "push":
		class = resources.ClassUpload
	}

	release, err := s.pool.Acquire(ctx, class)
	if err != nil {
		return err
	}
	defer release()

	switch stageName {
	case "track":
		for _, src := range el.Sources {
			if err := src.Track(ctx); err != nil {
				return err
			}
		}
	case "fetch":
		dest, err := os.MkdirTemp(s.CacheDir, "fetch-*")
		if err != nil {
			return err
		}
		for _, src := range el.Sources {
			if err := src.Fetch(ctx, dest); err != nil {
				return err
			}
		}
	case "pull":
		// Remote cache pull is an external collaborator (core spec §1);
		// absent one configured, this is a no-op and the build stage
		// falls through to a local build.
	case "build":
		buildDeps := make(map[string]string, len(el.BuildDeps()))
		for _, d := range el.BuildDeps() {
			buildDeps[d.Name] = s.tracker.State(d.Name).Snapshot().StrongKey
		}
		filesDir, buildtreeDir, logBytes, err := build(ctx, el, buildDeps)
		result := artifact.BuildResult{Success: err == nil}
		if err != nil {
			result.Description = "build failed"
			result.Detail = err.Error()
		}
		st := s.tracker.State(el.Name).Snapshot()
		_, cacheErr := s.artifact.Cache(artifact.CacheInput{
			RootDir:         filesDir,
			SandboxBuildDir: buildtreeDir,
			BuildLog:        logBytes,
			Result:          result,
			Keys:            artifact.Keys{Strong: st.StrongKey, Weak: st.WeakKey},
			Dependencies:    buildDeps,
			PublicData:      el.PublicData,
		}, st.StrongKey, st.WeakKey)
		if cacheErr != nil {
			return cacheErr
		}
		if err != nil {
			return err
		}
	case "push":
		// Remote cache push is an external collaborator (core spec §1);
		// committing to the local artifact store in the build stage is
		// sufficient for this core's own responsibilities.
	}
	return nil
}

// RunScheduler drives harvest (typically RunQueue wrapped to report
// completion) through the signal-aware event loop in core spec §4.9.
func (s *Session) RunScheduler(ctx context.Context, jobs map[string]*job.Job, harvest func(ctx context.Context) (bool, error)) error {
	sch := scheduler.New()
	for name, j := range jobs {
		sch.Track(name, j)
	}
	return sch.Run(ctx, harvest)
}
