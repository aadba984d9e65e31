// Package scheduler drives the cooperative event loop from core spec
// §4.9: it runs the pipeline's Queue to completion while watching for
// SIGINT/SIGTERM (begin graceful shutdown) and SIGTSTP (suspend every
// in-flight job), and ticks once a second to let the pipeline harvest
// job completions.
//
// Grounded in dalec's cmd/ binaries, which all wire up
// signal.NotifyContext over SIGINT/SIGTERM for graceful shutdown; this
// package generalizes that pattern to also intercept SIGTSTP, since a
// build scheduler (unlike a one-shot CLI) needs to pause and resume a
// whole tree of child processes rather than just cancel a context.
package scheduler

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/forgebuild/forge/internal/job"
)

// Tick is how often the scheduler wakes to harvest completed jobs and
// re-evaluate the pipeline's readiness classification, per core spec
// §4.9.
const Tick = 1 * time.Second

// TerminateGrace bounds how long Terminate waits for in-flight jobs to
// exit on their own before escalating to Kill.
const TerminateGrace = 10 * time.Second

// Scheduler owns the set of currently running Jobs and drives the
// single-threaded event loop that starts, suspends, resumes, and
// terminates them.
type Scheduler struct {
	jobs map[string]*job.Job

	suspended bool
	// selfSIGTSTP counts feedback SIGTSTPs the scheduler expects after
	// forwarding SIGTSTP to its jobs (one per job SuspendAll
	// suspended), so the signal handler can distinguish an operator
	// Ctrl-Z from an echo of its own action.
	selfSIGTSTP int

	Log logrus.FieldLogger
}

func New() *Scheduler {
	return &Scheduler{
		jobs: make(map[string]*job.Job),
		Log:  logrus.StandardLogger().WithField("component", "scheduler"),
	}
}

func (s *Scheduler) Track(name string, j *job.Job) {
	s.jobs[name] = j
}

// Run installs signal handling and ticks the event loop, calling
// harvest once per tick until harvest reports there is no more work by
// returning done=true. When the context is cancelled (or SIGINT or
// SIGTERM arrives), Run calls TerminateAll and returns its result
// without calling harvest again.
func (s *Scheduler) Run(ctx context.Context, harvest func(ctx context.Context) (done bool, err error)) error {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM, unix.SIGTSTP, unix.SIGCONT)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(Tick)
	defer ticker.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		select {
		case sig := <-sigCh:
			if err := s.handleSignal(sig, cancel); err != nil {
				return err
			}

		case <-runCtx.Done():
			s.Log.Info("shutting down, terminating in-flight jobs")
			return s.TerminateAll()

		case <-ticker.C:
			if s.suspended {
				continue
			}
			done, err := harvest(runCtx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (s *Scheduler) handleSignal(sig os.Signal, cancel context.CancelFunc) error {
	switch sig {
	case unix.SIGINT, unix.SIGTERM:
		s.Log.WithField("signal", sig).Info("received shutdown signal")
		cancel()
	case unix.SIGTSTP:
		if s.selfSIGTSTP > 0 {
			s.selfSIGTSTP--
			return nil
		}
		s.Log.Info("suspending all jobs")
		s.SuspendAll()
	case unix.SIGCONT:
		if s.suspended {
			s.Log.Info("resuming all jobs")
			s.ResumeAll()
		}
	}
	return nil
}

// SuspendAll forwards SIGTSTP to every tracked job's process group and
// then stops the scheduler itself. Forwarding SIGTSTP to a job whose
// session shares the scheduler's controlling terminal generates a
// feedback SIGTSTP back at the scheduler, so selfSIGTSTP is
// incremented once per job suspended and handleSignal discards that
// many incoming SIGTSTP events before treating one as a real
// operator-issued suspend again.
func (s *Scheduler) SuspendAll() {
	s.suspended = true
	for name, j := range s.jobs {
		if err := j.Suspend(); err != nil {
			s.Log.WithError(err).WithField("job", name).Warn("failed to suspend job")
			continue
		}
		s.selfSIGTSTP++
	}
	unix.Kill(unix.Getpid(), unix.SIGSTOP)
}

// ResumeAll resumes every tracked job.
func (s *Scheduler) ResumeAll() {
	s.suspended = false
	for name, j := range s.jobs {
		if err := j.Resume(); err != nil {
			s.Log.WithError(err).WithField("job", name).Warn("failed to resume job")
		}
	}
}

// TerminateAll asks every tracked job to exit, escalating to Kill
// after TerminateGrace.
func (s *Scheduler) TerminateAll() error {
	var firstErr error
	for name, j := range s.jobs {
		if err := j.Terminate(TerminateGrace); err != nil && firstErr == nil {
			s.Log.WithError(err).WithField("job", name).Warn("failed to terminate job")
			firstErr = err
		}
	}
	return firstErr
}
