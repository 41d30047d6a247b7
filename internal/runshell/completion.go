package runshell

import (
	"fmt"

	"pkt.systems/muxrun/internal/job"
	"pkt.systems/pslog"
)

// JobRecord is the task object for one run-shell job.
type JobRecord struct {
	command string
	ctx     jobContext
	reg     Registry
	log     pslog.Logger
	lines   int
	freed   bool
}

// OnData drains buffered output. When the job has exited it also flushes the
// trailing fragment and reports a non-zero exit; the scheduler calls
// OnDestroy right after. Output for a job whose client has gone away is read
// and discarded.
func (r *JobRecord) OnData(j *job.Job) {
	if r.freed {
		r.logFor(j).Warn("runshell data after teardown")
		return
	}
	deliver := !r.ctx.terminated()
	for {
		line, ok := j.ReadLine()
		if !ok {
			break
		}
		if deliver {
			r.route(line)
			r.lines++
		}
	}
	if !j.Exited() {
		return
	}
	if rest, ok := j.Flush(); ok && deliver {
		r.route(rest)
		r.lines++
	}
	status := r.statusLine(j.Status())
	if !deliver {
		r.logFor(j).Debug("runshell output suppressed", "reason", "client terminated", "status", j.Status().String())
		return
	}
	if status == "" {
		return
	}
	if r.lines == 0 {
		r.notify(status, true)
		return
	}
	r.route(status)
}

func (r *JobRecord) statusLine(status job.ExitStatus) string {
	if status.Signaled {
		return fmt.Sprintf("'%s' terminated by signal %d", r.command, int(status.Signal))
	}
	if status.Code != 0 {
		return fmt.Sprintf("'%s' returned %d", r.command, status.Code)
	}
	return ""
}

func (r *JobRecord) logFor(j *job.Job) pslog.Logger {
	if j == nil {
		return r.log
	}
	return r.log.With("job", j.ID())
}
