package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"pkt.systems/muxrun/internal/logx"
	"pkt.systems/muxrun/schema"
	"pkt.systems/pslog"
)

// exitStartFailed is reported when the backend could not start the command,
// matching what a shell reports for a command it cannot execute.
const exitStartFailed = 127

// Poster hands work to the event loop.
type Poster interface {
	Post(fn func()) bool
}

// Backend starts processes for the scheduler.
type Backend interface {
	Name() string
	// Start launches command with stdout and stderr both written to output.
	// It must not block waiting for the command to finish.
	Start(ctx context.Context, command string, output io.Writer) (Process, error)
}

// Process is a started command.
type Process interface {
	Pid() int
	// Wait blocks until the process has terminated and all output has been
	// written.
	Wait() ExitStatus
	Signal(sig syscall.Signal) error
}

// Scheduler starts jobs and routes their callbacks through the event loop.
type Scheduler struct {
	loop    Poster
	backend Backend
	log     pslog.Logger

	mu     sync.Mutex
	jobs   map[schema.JobID]*Job
	closed bool
	wg     sync.WaitGroup
}

// NewScheduler constructs a Scheduler.
func NewScheduler(loop Poster, backend Backend, logger pslog.Logger) (*Scheduler, error) {
	if loop == nil {
		return nil, errors.New("event loop is required")
	}
	if backend == nil {
		return nil, errors.New("job backend is required")
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Scheduler{
		loop:    loop,
		backend: backend,
		log:     logger.With("backend", backend.Name()),
		jobs:    make(map[schema.JobID]*Job),
	}, nil
}

// Submit starts command and returns immediately. task receives every
// callback for the job on the event loop. A command that cannot be started
// still produces a terminal callback (exit 127) followed by teardown.
func (s *Scheduler) Submit(ctx context.Context, command string, task Task) (*Job, error) {
	if task == nil {
		return nil, errors.New("job task is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, schema.ErrSchedulerClosed
	}
	j := &Job{
		id:      schema.JobID(uuid.NewString()),
		command: command,
		task:    task,
		started: time.Now(),
		sched:   s,
		state:   schema.JobStateSubmitted,
		done:    make(chan struct{}),
	}
	j.log = logx.WithJob(s.log, j.id)
	s.jobs[j.id] = j
	s.wg.Add(1)
	s.mu.Unlock()

	proc, err := s.backend.Start(logx.Detach(ctx), command, j)
	if err != nil {
		j.log.Warn("job start failed", "err", err)
		_, _ = fmt.Fprintf(j, "%v\n", err)
		go s.complete(j, Exited(exitStartFailed))
		return j, nil
	}
	j.mu.Lock()
	j.proc = proc
	j.mu.Unlock()
	j.log.Debug("job started", "pid", proc.Pid())
	go func() {
		s.complete(j, proc.Wait())
	}()
	return j, nil
}

func (s *Scheduler) complete(j *Job, status ExitStatus) {
	defer s.wg.Done()
	j.log.Debug("job exited", "status", status.String(), "duration_ms", time.Since(j.started).Milliseconds())
	if !s.post(func() { j.deliver(true, status) }) {
		j.log.Warn("job completion dropped", "reason", "loop stopped")
	}
}

// Jobs returns the jobs that have not been torn down yet, oldest first.
func (s *Scheduler) Jobs() []schema.JobSnapshot {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()
	out := make([]schema.JobSnapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Started.Before(out[b].Started) })
	return out
}

// Close stops accepting jobs, sends SIGTERM to every running process and
// waits for them to be reaped. Teardown callbacks still need the event loop.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	procs := make([]Process, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		if j.proc != nil && !j.exited {
			procs = append(procs, j.proc)
		}
		j.mu.Unlock()
	}
	s.mu.Unlock()
	for _, proc := range procs {
		if err := proc.Signal(unix.SIGTERM); err != nil {
			s.log.Debug("job signal failed", "pid", proc.Pid(), "err", err)
		}
	}
	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-waited:
		s.log.Info("job scheduler closed", "terminated", len(procs))
		return nil
	case <-ctx.Done():
		s.log.Warn("job scheduler close timed out", "err", ctx.Err())
		return ctx.Err()
	}
}

func (s *Scheduler) post(fn func()) bool {
	return s.loop.Post(fn)
}

func (s *Scheduler) remove(j *Job) {
	s.mu.Lock()
	delete(s.jobs, j.id)
	s.mu.Unlock()
}
