// Package runshell runs a shell command on behalf of a client without
// blocking the event loop and routes its output to a pane or to the client.
package runshell

import (
	"pkt.systems/muxrun/schema"
)

// Actor is a client that can be kept alive while a job holds output for it.
type Actor interface {
	ID() schema.ClientID
	Retain()
	Release()
	Terminated() bool
	Print(text string)
	Info(text string)
	AllowExit()
}

// Surface is a pane able to capture routed output.
type Surface interface {
	EnterCaptureMode() bool
	AppendCaptureLine(line string) bool
}

// Target is a resolved target specifier.
type Target struct {
	Pane    schema.PaneID
	Session schema.SessionID
}

// Registry resolves targets, panes and viewers. Surfaces are looked up by id
// on every use since a pane can be killed while a job runs.
type Registry interface {
	ResolveTarget(spec string, issuer Actor) (Target, error)
	Surface(id schema.PaneID) (Surface, bool)
	SessionViewer(id schema.SessionID) (Actor, bool)
}

// Snapshot is the context a job was submitted in.
type Snapshot struct {
	Issuer     Actor
	Viewer     Actor
	Pane       schema.PaneID
	HasPane    bool
	Session    schema.SessionID
	HasSession bool
}

// Expander substitutes context values into a command. It never fails.
type Expander interface {
	Expand(command string, snap Snapshot) string
}

// Request describes one run-shell invocation. Issuer is the client that ran
// the command and Current is the caller's current client, used as the viewer
// when the target session has none. Both are optional, as is Target.
type Request struct {
	Issuer  Actor
	Current Actor
	Target  string
	Command string
}

// jobContext is the snapshot a JobRecord owns, with holds on its actors.
type jobContext struct {
	issuer  *actorHold
	viewer  *actorHold
	pane    schema.PaneID
	hasPane bool
}

func captureSnapshot(reg Registry, req Request) (Snapshot, error) {
	snap := Snapshot{Issuer: req.Issuer}
	if req.Target != "" {
		target, err := reg.ResolveTarget(req.Target, req.Issuer)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Pane, snap.HasPane = target.Pane, true
		snap.Session, snap.HasSession = target.Session, true
		if viewer, ok := reg.SessionViewer(target.Session); ok {
			snap.Viewer = viewer
		}
	}
	if snap.Viewer == nil {
		snap.Viewer = req.Current
	}
	return snap, nil
}

func (c *jobContext) terminated() bool {
	return c.issuer.terminated() || c.viewer.terminated()
}
