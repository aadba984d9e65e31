// Package resources implements the named resource-class pool from
// core spec §4.7: CACHE/DOWNLOAD/PROCESS/UPLOAD classes, each with a
// configurable concurrency limit, plus the exclusive-claim protocol a
// job uses to guarantee itself sole access to a class (used by
// "clean the artifact cache" style jobs that must not race ordinary
// pulls/pushes).
//
// Grounded in dalec's use of golang.org/x/sync (its sessionutil
// package pulls in golang.org/x/sync/errgroup for bounded concurrent
// work); here the same module's semaphore.Weighted backs each
// resource class.
package resources

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Class names the four resource kinds core spec §4.7 defines.
type Class string

const (
	ClassCache    Class = "CACHE"
	ClassDownload Class = "DOWNLOAD"
	ClassProcess  Class = "PROCESS"
	ClassUpload   Class = "UPLOAD"
)

var allClasses = []Class{ClassCache, ClassDownload, ClassProcess, ClassUpload}

type classPool struct {
	sem   *semaphore.Weighted
	limit int64
	// exclusive is held while a claim with exclusive=true owns the
	// class; further Acquire calls block until it releases, preventing
	// new ordinary work from starting mid-claim (core spec §4.7's
	// starvation-prevention rule).
	exclusive *semaphore.Weighted
}

// Pool tracks per-class concurrency limits and exclusive claims.
type Pool struct {
	classes map[Class]*classPool
}

// DefaultLimits mirrors a reasonable out-of-the-box configuration: one
// concurrent download and upload stream is typical for a
// network-bound resource, while CACHE and PROCESS scale with local
// CPU, left to the caller to size explicitly.
func DefaultLimits() map[Class]int64 {
	return map[Class]int64{
		ClassCache:    4,
		ClassDownload: 1,
		ClassProcess:  4,
		ClassUpload:   1,
	}
}

// NewPool builds a Pool from limits, defaulting any class not present
// in limits to a limit of 1.
func NewPool(limits map[Class]int64) *Pool {
	p := &Pool{classes: make(map[Class]*classPool, len(allClasses))}
	for _, c := range allClasses {
		limit := limits[c]
		if limit <= 0 {
			limit = 1
		}
		p.classes[c] = &classPool{
			sem:       semaphore.NewWeighted(limit),
			limit:     limit,
			exclusive: semaphore.NewWeighted(1),
		}
	}
	return p
}

// Release is returned by Acquire/AcquireExclusive and must be called
// exactly once to give the resource back.
type Release func()

// Acquire blocks until a slot in class c is available, respecting any
// outstanding exclusive claim, and returns a Release to give the slot
// back.
func (p *Pool) Acquire(ctx context.Context, c Class) (Release, error) {
	cp, ok := p.classes[c]
	if !ok {
		return nil, fmt.Errorf("resources: unknown class %q", c)
	}

	// Briefly take and release the exclusive semaphore to act as a
	// barrier: while an exclusive claim holds it, ordinary acquires
	// queue behind it instead of racing in underneath.
	if err := cp.exclusive.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	cp.exclusive.Release(1)

	if err := cp.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { cp.sem.Release(1) }, nil
}

// AcquireExclusive blocks until class c has no outstanding holders at
// all (ordinary or exclusive) and then grants sole ownership of the
// entire class's concurrency budget, per core spec §4.7's exclusive
// claim semantics.
func (p *Pool) AcquireExclusive(ctx context.Context, c Class) (Release, error) {
	cp, ok := p.classes[c]
	if !ok {
		return nil, fmt.Errorf("resources: unknown class %q", c)
	}

	if err := cp.exclusive.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := cp.sem.Acquire(ctx, cp.limit); err != nil {
		cp.exclusive.Release(1)
		return nil, err
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		cp.sem.Release(cp.limit)
		cp.exclusive.Release(1)
	}, nil
}
