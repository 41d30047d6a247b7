package runshell

import (
	"context"
	"errors"

	"pkt.systems/muxrun/internal/job"
	"pkt.systems/muxrun/internal/logx"
	"pkt.systems/muxrun/schema"
)

// Scheduler starts jobs.
type Scheduler interface {
	Submit(ctx context.Context, command string, task job.Task) (*job.Job, error)
}

// Deps are the collaborators a Runner needs.
type Deps struct {
	Registry  Registry
	Expander  Expander
	Scheduler Scheduler
}

// Runner submits run-shell jobs. Its methods must be called on the event loop.
type Runner struct {
	reg   Registry
	exp   Expander
	sched Scheduler
}

// NewRunner constructs a Runner.
func NewRunner(deps Deps) (*Runner, error) {
	if deps.Registry == nil {
		return nil, errors.New("runshell registry is required")
	}
	if deps.Scheduler == nil {
		return nil, errors.New("runshell scheduler is required")
	}
	return &Runner{reg: deps.Registry, exp: deps.Expander, sched: deps.Scheduler}, nil
}

// Submit starts req.Command in the background and returns ResultYield: the
// issuing client stays until the job has finished delivering to it. The only
// error is schema.ErrTargetNotFound for a target that does not resolve.
func (r *Runner) Submit(ctx context.Context, req Request) (schema.CommandResult, error) {
	if _, err := r.start(ctx, req); err != nil {
		return schema.ResultNormal, err
	}
	return schema.ResultYield, nil
}

func (r *Runner) start(ctx context.Context, req Request) (*job.Job, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var issuerID schema.ClientID
	if req.Issuer != nil {
		issuerID = req.Issuer.ID()
	}
	snap, err := captureSnapshot(r.reg, req)
	if err != nil {
		logx.WithClient(ctx, issuerID).Debug("runshell target not found", "target", req.Target, "err", err)
		return nil, err
	}
	log := logx.WithClientPane(ctx, issuerID, snap.Pane, snap.HasPane)
	command := req.Command
	if r.exp != nil {
		command = r.exp.Expand(req.Command, snap)
	}
	jctx := jobContext{
		issuer:  acquire(snap.Issuer),
		viewer:  acquire(snap.Viewer),
		pane:    snap.Pane,
		hasPane: snap.HasPane,
	}
	record := &JobRecord{command: command, ctx: jctx, reg: r.reg, log: log}
	j, err := r.sched.Submit(logx.Detach(ctx), command, record)
	if err != nil {
		record.ctx.issuer.release()
		record.ctx.viewer.release()
		log.Warn("runshell submit failed", "err", err)
		return nil, err
	}
	log.Info("runshell job submitted", "job", j.ID(), "command", command)
	return j, nil
}
