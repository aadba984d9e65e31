// Package job implements the subprocess execution model from core
// spec §4.8: each Job owns a separate OS process connected over a
// length-prefixed, bidirectional message channel, and can be
// suspended, resumed, or terminated by signal.
//
// Grounded in dalec's sessionutil/socketprovider, whose PipeListener
// modeled a net.Conn-shaped bidirectional channel over net.Pipe; here
// the channel instead wraps a child process's stdin/stdout pipes, and
// each frame starts with a 5-byte header: one kind byte followed by a
// 4-byte big-endian payload length. Signal handling
// follows the same golang.org/x/sys/unix primitives used elsewhere in
// the ambient stack for direct signal delivery to a specific pid.
package job

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Kind distinguishes the envelope types exchanged over a Job's
// message channel, per core spec §4.8.
type Kind int

const (
	KindMessage Kind = iota
	KindResult
	KindError
	KindChildData
)

// Envelope is one frame of the bidirectional channel between the
// scheduler and a job's child process.
type Envelope struct {
	Kind    Kind
	Payload []byte
}

// Status is a Job's lifecycle state.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSuspended
	StatusDone
	StatusFailed
	StatusTerminated
)

// Job runs a single child process and exchanges framed Envelopes with
// it over its stdin/stdout.
type Job struct {
	Name       string
	MaxRetries int

	mu      sync.Mutex
	status  Status
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	attempt int

	// suspendCount tracks how many SIGTSTP this job's own process group
	// has generated on itself via feedback (e.g. a child re-raising
	// SIGTSTP on its own pgid); core spec §4.8 requires this be
	// distinguished from an operator-issued suspend so the scheduler
	// does not double-count it.
	suspendCount  int
	suspendedAt   time.Time
	suspendedTime time.Duration

	Log logrus.FieldLogger
}

// New builds a Job that will run argv when Start is called.
func New(name string, maxRetries int) *Job {
	return &Job{
		Name:       name,
		MaxRetries: maxRetries,
		Log:        logrus.StandardLogger().WithField("job", name),
	}
}

// Start launches argv as a child process with its own process group
// (so signals can be targeted at the whole tree) and wires up the
// framed stdin/stdout channel.
func (j *Job) Start(ctx context.Context, argv []string) (<-chan Envelope, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(argv) == 0 {
		return nil, errors.New("job: empty argv")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.SysProcAttr = procAttrNewGroup()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "job: stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "job: stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "job: start %s", j.Name)
	}

	j.cmd = cmd
	j.stdin = stdin
	j.status = StatusRunning

	out := make(chan Envelope, 8)
	go j.readLoop(stdout, out)

	return out, nil
}

func (j *Job) readLoop(r io.Reader, out chan<- Envelope) {
	defer close(out)
	br := bufio.NewReader(r)
	for {
		env, err := readEnvelope(br)
		if err != nil {
			if err != io.EOF {
				j.Log.WithError(err).Debug("job channel closed")
			}
			return
		}
		out <- env
	}
}

// Send writes one Envelope to the child's stdin.
func (j *Job) Send(env Envelope) error {
	j.mu.Lock()
	stdin := j.stdin
	j.mu.Unlock()

	if stdin == nil {
		return errors.New("job: not started")
	}
	return writeEnvelope(stdin, env)
}

func writeEnvelope(w io.Writer, env Envelope) error {
	header := make([]byte, 5)
	header[0] = byte(env.Kind)
	binary.BigEndian.PutUint32(header[1:], uint32(len(env.Payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(env.Payload)
	return err
}

func readEnvelope(r io.Reader) (Envelope, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return Envelope{}, err
	}
	size := binary.BigEndian.Uint32(header[1:])
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: Kind(header[0]), Payload: payload}, nil
}

// Suspend sends SIGTSTP to the job's process group, pausing the whole
// tree.
func (j *Job) Suspend() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cmd == nil || j.cmd.Process == nil {
		return errors.New("job: not running")
	}
	if err := signalGroup(j.cmd.Process.Pid, unix.SIGTSTP); err != nil {
		return err
	}
	j.status = StatusSuspended
	j.suspendedAt = time.Now()
	return nil
}

// Resume sends SIGCONT to the job's process group.
func (j *Job) Resume() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cmd == nil || j.cmd.Process == nil {
		return errors.New("job: not running")
	}
	if err := signalGroup(j.cmd.Process.Pid, unix.SIGCONT); err != nil {
		return err
	}
	if j.status == StatusSuspended {
		j.suspendedTime += time.Since(j.suspendedAt)
	}
	j.status = StatusRunning
	return nil
}

// NoteFeedbackSuspend records a SIGTSTP the job raised on itself
// (rather than one sent by the scheduler), so the scheduler's own
// suspend/resume bookkeeping is not thrown off by it.
func (j *Job) NoteFeedbackSuspend() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.suspendCount++
}

// FeedbackSuspendCount reports how many self-raised SIGTSTPs have been
// observed.
func (j *Job) FeedbackSuspendCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.suspendCount
}

// Terminate sends SIGTERM to the process group, giving it graceDelay
// to exit before Kill escalates to SIGKILL.
func (j *Job) Terminate(graceDelay time.Duration) error {
	j.mu.Lock()
	cmd := j.cmd
	j.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := signalGroup(cmd.Process.Pid, unix.SIGTERM); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(graceDelay):
		return j.Kill()
	}
}

// Kill sends SIGKILL to the whole process group.
func (j *Job) Kill() error {
	j.mu.Lock()
	cmd := j.cmd
	j.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return signalGroup(cmd.Process.Pid, unix.SIGKILL)
}

// Wait blocks until the child exits, applying the FAIL->WARN retry
// demotion from core spec §4.8: a failing job is retried up to
// MaxRetries times before its failure is reported as terminal.
func (j *Job) Wait(ctx context.Context, restart func(ctx context.Context) (<-chan Envelope, error)) (<-chan Envelope, error) {
	j.mu.Lock()
	cmd := j.cmd
	j.mu.Unlock()

	err := cmd.Wait()
	if err == nil {
		j.mu.Lock()
		j.status = StatusDone
		j.mu.Unlock()
		return nil, nil
	}

	j.mu.Lock()
	j.attempt++
	attempt := j.attempt
	j.mu.Unlock()

	if attempt > j.MaxRetries {
		j.mu.Lock()
		j.status = StatusFailed
		j.mu.Unlock()
		j.Log.WithError(err).WithField("attempt", attempt).Error("job failed, retries exhausted")
		return nil, err
	}

	j.Log.WithError(err).WithField("attempt", attempt).Warn("job failed, retrying")
	return restart(ctx)
}

// SuspendedTime reports the cumulative time this job has spent
// suspended, excluded from its measured build duration per core spec
// §4.8.
func (j *Job) SuspendedTime() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.suspendedTime
}

func (j *Job) StatusNow() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}
