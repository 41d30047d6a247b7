package runshell

import (
	"pkt.systems/muxrun/internal/job"
)

// actorHold keeps an actor referenced from acquire until release. Releasing
// twice is a no-op.
type actorHold struct {
	actor    Actor
	released bool
}

func acquire(actor Actor) *actorHold {
	if actor == nil {
		return nil
	}
	actor.Retain()
	return &actorHold{actor: actor}
}

func (h *actorHold) get() Actor {
	if h == nil || h.released {
		return nil
	}
	return h.actor
}

func (h *actorHold) terminated() bool {
	if h == nil || h.released {
		return false
	}
	return h.actor.Terminated()
}

func (h *actorHold) release() {
	if h == nil || h.released {
		return
	}
	h.released = true
	h.actor.Release()
}

// OnDestroy tears the record down after the terminal OnData. The issuer is
// allowed to exit and both holds are released. The pane is never touched.
func (r *JobRecord) OnDestroy(j *job.Job) {
	log := r.logFor(j)
	if r.freed {
		log.Warn("runshell teardown repeated")
		return
	}
	r.freed = true
	if issuer := r.ctx.issuer.get(); issuer != nil {
		issuer.AllowExit()
	}
	r.ctx.issuer.release()
	r.ctx.viewer.release()
	r.command = ""
	r.ctx = jobContext{}
	log.Debug("runshell job freed", "lines", r.lines)
}
