// Package job runs shell commands asynchronously and reports their output and
// exit status back on the event loop.
//
// A submitted Job owns a Task. The task sees zero or more OnData calls while
// output arrives, exactly one terminal OnData once the process has been
// reaped (Exited reports true), and then exactly one OnDestroy. All three run
// on the event loop, never concurrently for the same job. Once a job has
// entered finalization it cannot be delivered again.
package job

import (
	"bytes"
	"strings"
	"sync"
	"time"

	"pkt.systems/muxrun/schema"
	"pkt.systems/pslog"
)

// Task receives a job's callbacks on the event loop.
type Task interface {
	// OnData is called when output is available and once more, with
	// Exited reporting true, after the process has terminated.
	OnData(j *Job)
	// OnDestroy is called exactly once after the terminal OnData.
	OnDestroy(j *Job)
}

// Job is one running command plus its buffered output.
type Job struct {
	id      schema.JobID
	command string
	task    Task
	started time.Time
	sched   *Scheduler
	log     pslog.Logger

	mu      sync.Mutex
	out     bytes.Buffer
	pending bool
	state   schema.JobState
	exited  bool
	status  ExitStatus
	proc    Process

	done chan struct{}
}

// ID returns the job id.
func (j *Job) ID() schema.JobID { return j.id }

// Command returns the command line the job runs.
func (j *Job) Command() string { return j.command }

// Started returns when the job was submitted.
func (j *Job) Started() time.Time { return j.started }

// State returns the job's lifecycle state.
func (j *Job) State() schema.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Exited reports whether the process has terminated. It is true only during
// the terminal OnData and afterwards.
func (j *Job) Exited() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exited
}

// Status returns the exit status. Meaningful once Exited is true.
func (j *Job) Status() ExitStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Done is closed after OnDestroy has returned.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// ReadLine removes and returns one newline-terminated line from the buffered
// output, without its line ending. It reports false when no complete line is
// buffered.
func (j *Job) ReadLine() (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	data := j.out.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return "", false
	}
	line := string(data[:idx])
	j.out.Next(idx + 1)
	return strings.TrimSuffix(line, "\r"), true
}

// Flush removes and returns whatever is left in the output buffer.
func (j *Job) Flush() (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.out.Len() == 0 {
		return "", false
	}
	rest := j.out.String()
	j.out.Reset()
	return rest, true
}

// Snapshot returns a read-only view of the job.
func (j *Job) Snapshot() schema.JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	pid := 0
	if j.proc != nil {
		pid = j.proc.Pid()
	}
	return schema.JobSnapshot{
		ID:      j.id,
		Command: j.command,
		State:   j.state,
		Pid:     pid,
		Started: j.started,
	}
}

// Write buffers process output and schedules a data delivery if none is
// pending yet.
func (j *Job) Write(p []byte) (int, error) {
	j.mu.Lock()
	n, _ := j.out.Write(p)
	notify := !j.pending && !j.exited
	if notify {
		j.pending = true
	}
	j.mu.Unlock()
	if notify && !j.sched.post(func() { j.deliver(false, ExitStatus{}) }) {
		j.log.Debug("job output notification dropped", "reason", "loop stopped")
	}
	return n, nil
}

// deliver runs on the event loop.
func (j *Job) deliver(final bool, status ExitStatus) {
	j.mu.Lock()
	if j.state == schema.JobStateFinalizing || j.state == schema.JobStateDone {
		j.mu.Unlock()
		j.log.Debug("job delivery ignored", "state", j.state, "final", final)
		return
	}
	if final {
		j.state = schema.JobStateFinalizing
		j.exited = true
		j.status = status
	} else {
		j.state = schema.JobStateDraining
	}
	j.pending = false
	j.mu.Unlock()

	if final {
		defer j.finish()
	}
	j.task.OnData(j)
}

func (j *Job) finish() {
	j.mu.Lock()
	j.state = schema.JobStateDone
	j.mu.Unlock()
	defer func() {
		j.sched.remove(j)
		close(j.done)
	}()
	j.task.OnDestroy(j)
}
