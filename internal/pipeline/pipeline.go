// Package pipeline implements the Queue abstraction from core spec
// §4.6: a sequence of stages (track, pull, fetch, build, push) that
// elements flow through, each stage classifying its input elements as
// ready, waiting, or skip before handing ready ones off to the
// scheduler's job pool.
//
// Grounded in dalec's sessionutil package, which pipelines work across
// goroutines using golang.org/x/sync/errgroup; errgroup likewise
// backs each Stage here.
package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Status classifies an element's readiness for a stage, per core spec
// §4.6.
type Status int

const (
	StatusReady Status = iota
	StatusWaiting
	StatusSkip
)

// Job is one unit of work flowing through the pipeline: an element
// name paired with the stage-specific action to run on it.
type Job struct {
	Element string
	Run     func(ctx context.Context) error
}

// Classifier decides whether an element is ready for this stage right
// now, should wait (its dependencies aren't ready yet), or should be
// skipped entirely (e.g. already cached).
type Classifier func(element string) Status

// Stage is one named step in the pipeline (track/pull/fetch/build/push
// in core spec §4.6). Jobs run with bounded concurrency via
// golang.org/x/sync/errgroup; a job failure is reported through the
// error Queue.Run returns, and skipped elements through OnSkip.
type Stage struct {
	Name        string
	Concurrency int
	Classify    Classifier
	OnSkip      func(element string)
}

// Queue drives a fixed sequence of Stages over a set of element
// names. Within a stage, a Waiting element is reclassified against
// that same stage — never promoted to the next stage — until it
// turns Ready (and runs the stage's job) or Skip (core spec §4.6:
// "WAIT means re-ask later; the element stays in the queue's wait
// list"). Only once a stage's wait list has drained to Ready/Skip (or
// stalled with nothing left to do) does Run advance to the next
// stage. An element a stage classifies as Skip does not run that
// stage's job but still advances to the next stage.
type Queue struct {
	stages []*Stage

	// ContinueOnError implements core spec §7's on-error=continue
	// policy: when set, a job failure does not cancel its
	// still-running siblings in the same stage, only the element that
	// actually failed is marked down (via the error returned from
	// Run). When false (the default, on-error=quit), one job's failure
	// cancels every other in-flight job in the same stage immediately.
	ContinueOnError bool
}

func NewQueue(stages ...*Stage) *Queue {
	return &Queue{stages: stages}
}

// Run pushes every element in elements through each stage in order.
// jobFor builds the actual Job.Run action for a given (stage, element)
// pair; Run calls it only for elements the stage classifies as Ready.
func (q *Queue) Run(ctx context.Context, elements []string, jobFor func(stage *Stage, element string) Job) error {
	remaining := append([]string(nil), elements...)

	for _, stage := range q.stages {
		if len(remaining) == 0 {
			return nil
		}

		drained, err := q.drainStage(ctx, stage, remaining, jobFor)
		if err != nil {
			return err
		}
		remaining = drained
	}
	return nil
}

// drainStage repeatedly classifies elements still waiting on stage
// and runs whatever newly becomes Ready, round after round, so that
// an element's dependency finishing in an earlier round (e.g. the
// build stage committing a dependency's artifact) can unblock a
// dependent still sitting in this same stage's wait list — exactly
// the buildable() gating core spec §4.6's Build row describes.
//
// Elements that ran this stage's job (StatusReady) or that the stage
// skipped (StatusSkip) are returned to advance to the next stage;
// Waiting elements are not. A round that produces no
// newly-Ready elements means nothing can change without an event this
// batch call has no way to observe (e.g. a future tick), so draining
// stops there and whatever is left Waiting is dropped rather than
// silently promoted onward.
func (q *Queue) drainStage(ctx context.Context, stage *Stage, elements []string, jobFor func(stage *Stage, element string) Job) ([]string, error) {
	wait := append([]string(nil), elements...)
	var ran []string

	for len(wait) > 0 {
		var ready []string
		var stillWaiting []string
		for _, el := range wait {
			switch stage.Classify(el) {
			case StatusReady:
				ready = append(ready, el)
			case StatusWaiting:
				stillWaiting = append(stillWaiting, el)
			case StatusSkip:
				if stage.OnSkip != nil {
					stage.OnSkip(el)
				}
				ran = append(ran, el)
			}
		}

		if len(ready) == 0 {
			break
		}

		if err := q.runStage(ctx, stage, ready, jobFor); err != nil {
			return nil, err
		}
		ran = append(ran, ready...)
		wait = stillWaiting
	}

	return ran, nil
}

func (q *Queue) runStage(ctx context.Context, stage *Stage, ready []string, jobFor func(stage *Stage, element string) Job) error {
	concurrency := stage.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	if q.ContinueOnError {
		// Plain errgroup.Group (no WithContext) never cancels a shared
		// context on error, so a failing sibling doesn't cut short the
		// jobs running alongside it; Wait still reports the first error
		// encountered so the caller knows the stage wasn't clean.
		var g errgroup.Group
		g.SetLimit(concurrency)
		for _, el := range ready {
			el := el
			g.Go(func() error {
				job := jobFor(stage, el)
				return job.Run(ctx)
			})
		}
		return g.Wait()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, el := range ready {
		el := el
		g.Go(func() error {
			job := jobFor(stage, el)
			return job.Run(gctx)
		})
	}

	return g.Wait()
}

// StandardStageNames is the fixed stage sequence core spec §4.6
// names: track sources for consistency, pull cached artifacts, fetch
// sources that need fetching, build, and finally push newly built
// artifacts to remote caches.
var StandardStageNames = []string{"track", "pull", "fetch", "build", "push"}
