package pipeline

import (
	"context"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
)

func TestQueueRunsReadyElements(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var ran []string

	stage := &Stage{
		Name:        "build",
		Concurrency: 2,
		Classify:    func(string) Status { return StatusReady },
	}
	q := NewQueue(stage)

	err := q.Run(context.Background(), []string{"a.fge", "b.fge"}, func(s *Stage, el string) Job {
		return Job{Element: el, Run: func(ctx context.Context) error {
			mu.Lock()
			ran = append(ran, el)
			mu.Unlock()
			return nil
		}}
	})
	assert.NilError(t, err)
	assert.Equal(t, len(ran), 2)
}

func TestQueueSkippedElementAdvancesToLaterStages(t *testing.T) {
	t.Parallel()

	var skipped []string
	var built []string

	pull := &Stage{
		Name: "pull",
		Classify: func(el string) Status {
			if el == "cached.fge" {
				return StatusSkip
			}
			return StatusReady
		},
		OnSkip: func(el string) { skipped = append(skipped, el) },
	}
	build := &Stage{
		Name:     "build",
		Classify: func(string) Status { return StatusReady },
	}
	q := NewQueue(pull, build)

	err := q.Run(context.Background(), []string{"cached.fge", "fresh.fge"}, func(s *Stage, el string) Job {
		return Job{Element: el, Run: func(ctx context.Context) error {
			if s.Name == "build" {
				built = append(built, el)
			}
			return nil
		}}
	})
	assert.NilError(t, err)
	assert.DeepEqual(t, skipped, []string{"cached.fge"})
	assert.DeepEqual(t, built, []string{"cached.fge", "fresh.fge"})
}

func TestQueueWaitingElementStaysInPipeline(t *testing.T) {
	t.Parallel()

	calls := map[string]int{}
	var mu sync.Mutex

	track := &Stage{
		Name:     "track",
		Classify: func(string) Status { return StatusWaiting },
	}
	q := NewQueue(track)

	err := q.Run(context.Background(), []string{"a.fge"}, func(s *Stage, el string) Job {
		return Job{Element: el, Run: func(ctx context.Context) error {
			mu.Lock()
			calls[el]++
			mu.Unlock()
			return nil
		}}
	})
	assert.NilError(t, err)
	assert.Equal(t, calls["a.fge"], 0, "waiting elements must not run this stage's job")
}

// TestQueueWaitingElementRetriesSameStageBeforeAdvancing exercises the
// >=2-stage path core spec §4.6's WAIT rule describes: "waiter.fge"
// classifies Waiting in the track stage until "blocker.fge"'s own
// track job has actually run. If a Waiting element were ever promoted
// straight into the next stage's candidate set, waiter's track job
// would never run and it would show up in buildRuns without ever
// appearing in trackRuns.
func TestQueueWaitingElementRetriesSameStageBeforeAdvancing(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var trackRuns, buildRuns []string
	blockerDone := false

	track := &Stage{
		Name: "track",
		Classify: func(el string) Status {
			mu.Lock()
			defer mu.Unlock()
			if el == "waiter.fge" && !blockerDone {
				return StatusWaiting
			}
			return StatusReady
		},
	}
	build := &Stage{
		Name:     "build",
		Classify: func(string) Status { return StatusReady },
	}
	q := NewQueue(track, build)

	err := q.Run(context.Background(), []string{"blocker.fge", "waiter.fge"}, func(s *Stage, el string) Job {
		return Job{Element: el, Run: func(ctx context.Context) error {
			mu.Lock()
			switch s.Name {
			case "track":
				trackRuns = append(trackRuns, el)
				if el == "blocker.fge" {
					blockerDone = true
				}
			case "build":
				buildRuns = append(buildRuns, el)
			}
			mu.Unlock()
			return nil
		}}
	})
	assert.NilError(t, err)
	assert.DeepEqual(t, trackRuns, []string{"blocker.fge", "waiter.fge"},
		"waiter.fge must run the track stage's job once unblocked, not skip it")
	assert.DeepEqual(t, buildRuns, []string{"blocker.fge", "waiter.fge"})
}

func TestQueueContinueOnErrorRunsSiblingsToCompletion(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var ran []string

	stage := &Stage{
		Name:        "build",
		Concurrency: 2,
		Classify:    func(string) Status { return StatusReady },
	}
	q := NewQueue(stage)
	q.ContinueOnError = true

	err := q.Run(context.Background(), []string{"bad.fge", "good.fge"}, func(s *Stage, el string) Job {
		return Job{Element: el, Run: func(ctx context.Context) error {
			mu.Lock()
			ran = append(ran, el)
			mu.Unlock()
			if el == "bad.fge" {
				return context.Canceled
			}
			return nil
		}}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, len(ran), 2, "a sibling failure must not stop other jobs in the same stage under on-error=continue")
}

func TestQueuePropagatesJobError(t *testing.T) {
	t.Parallel()

	stage := &Stage{
		Name:     "build",
		Classify: func(string) Status { return StatusReady },
	}
	q := NewQueue(stage)

	err := q.Run(context.Background(), []string{"a.fge"}, func(s *Stage, el string) Job {
		return Job{Element: el, Run: func(ctx context.Context) error {
			return context.Canceled
		}}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
