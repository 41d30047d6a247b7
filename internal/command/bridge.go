package command

import (
	"pkt.systems/muxrun/core"
	"pkt.systems/muxrun/internal/runshell"
	"pkt.systems/muxrun/schema"
)

// Bridge exposes the registry to run-shell jobs: target resolution, pane
// lookup by id, session viewers and format expansion.
type Bridge struct {
	reg *core.Registry
}

// NewBridge wraps reg.
func NewBridge(reg *core.Registry) *Bridge {
	return &Bridge{reg: reg}
}

// ResolveTarget resolves spec relative to the issuing client.
func (b *Bridge) ResolveTarget(spec string, issuer runshell.Actor) (runshell.Target, error) {
	pane, err := b.reg.ResolvePane(spec, clientOf(issuer))
	if err != nil {
		return runshell.Target{}, err
	}
	return runshell.Target{Pane: pane.ID(), Session: pane.Session().ID()}, nil
}

// Surface returns the pane with id if it still exists.
func (b *Bridge) Surface(id schema.PaneID) (runshell.Surface, bool) {
	pane, ok := b.reg.Pane(id)
	if !ok {
		return nil, false
	}
	return pane, true
}

// SessionViewer returns the first live client viewing the session.
func (b *Bridge) SessionViewer(id schema.SessionID) (runshell.Actor, bool) {
	client, ok := b.reg.SessionViewer(id)
	if !ok {
		return nil, false
	}
	return client, true
}

// Expand expands format placeholders in command.
func (b *Bridge) Expand(command string, snap runshell.Snapshot) string {
	var (
		session *core.Session
		pane    *core.Pane
	)
	if snap.HasSession {
		session, _ = b.reg.Session(snap.Session)
	}
	if snap.HasPane {
		pane, _ = b.reg.Pane(snap.Pane)
	}
	client := clientOf(snap.Viewer)
	if client == nil {
		client = clientOf(snap.Issuer)
	}
	if pane == nil && client != nil {
		if current, ok := client.Session(); ok {
			pane, _ = current.Active()
		}
	}
	return b.reg.Formats(client, session, pane).Expand(command)
}

func clientOf(actor runshell.Actor) *core.Client {
	client, _ := actor.(*core.Client)
	return client
}
