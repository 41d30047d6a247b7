package core

import (
	"strconv"
	"strings"

	"pkt.systems/muxrun/internal/format"
)

// Formats builds a format tree for the given client, session and pane. Any of
// them may be nil; their keys are then left unset.
func (r *Registry) Formats(client *Client, session *Session, pane *Pane) *format.Tree {
	tree := format.NewTree()
	tree.Add(format.KeyHost, r.host)
	short := r.host
	if dot := strings.IndexByte(short, '.'); dot >= 0 {
		short = short[:dot]
	}
	tree.Add(format.KeyHostShort, short)
	if session == nil && pane != nil {
		session = pane.session
	}
	if session == nil && client != nil {
		session, _ = client.Session()
	}
	if client != nil {
		tree.Add(format.KeyClientName, client.name)
		tree.Add(format.KeyClientTTY, client.tty)
		tree.Add(format.KeyClientTermName, client.term)
		if current, ok := client.Session(); ok {
			tree.Add(format.KeyClientSession, current.name)
		}
	}
	if session != nil {
		tree.Add(format.KeySessionName, session.name)
		tree.Add(format.KeySessionID, session.id.String())
		tree.Add(format.KeySessionCreated, strconv.FormatInt(session.created.Unix(), 10))
		tree.AddInt(format.KeySessionPanes, len(session.panes))
		tree.AddInt(format.KeySessionAttached, r.AttachedCount(session.id))
	}
	if pane != nil {
		tree.Add(format.KeyPaneID, pane.id.String())
		tree.AddInt(format.KeyPaneIndex, pane.Index())
		tree.Add(format.KeyPaneTitle, pane.title)
		tree.AddBool(format.KeyPaneInMode, pane.InMode())
	}
	return tree
}
