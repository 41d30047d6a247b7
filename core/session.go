package core

import (
	"time"

	"pkt.systems/muxrun/schema"
)

// Session is a named group of panes with one active pane.
type Session struct {
	id      schema.SessionID
	name    string
	created time.Time
	panes   []*Pane
	active  *Pane
	dead    bool
}

// ID returns the session id.
func (s *Session) ID() schema.SessionID { return s.id }

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// Created returns the creation time.
func (s *Session) Created() time.Time { return s.created }

// Live reports whether the session still exists.
func (s *Session) Live() bool { return s != nil && !s.dead }

// Active returns the active pane.
func (s *Session) Active() (*Pane, bool) {
	if s.active == nil {
		return nil, false
	}
	return s.active, true
}

// Panes returns the session's panes in index order.
func (s *Session) Panes() []*Pane {
	return append([]*Pane(nil), s.panes...)
}

// PaneAt returns the pane at index.
func (s *Session) PaneAt(index int) (*Pane, bool) {
	if index < 0 || index >= len(s.panes) {
		return nil, false
	}
	return s.panes[index], true
}

func (s *Session) paneIndex(p *Pane) int {
	for i, candidate := range s.panes {
		if candidate == p {
			return i
		}
	}
	return -1
}

func (s *Session) removePane(p *Pane) {
	idx := s.paneIndex(p)
	if idx < 0 {
		return
	}
	s.panes = append(s.panes[:idx], s.panes[idx+1:]...)
	if s.active != p {
		return
	}
	s.active = nil
	if len(s.panes) == 0 {
		return
	}
	if idx >= len(s.panes) {
		idx = len(s.panes) - 1
	}
	s.active = s.panes[idx]
}

// Snapshot returns a transport-friendly view of the session.
func (s *Session) Snapshot(attached int) schema.SessionSnapshot {
	return schema.SessionSnapshot{
		ID:       s.id,
		Name:     s.name,
		Created:  s.created,
		Panes:    len(s.panes),
		Attached: attached,
	}
}
