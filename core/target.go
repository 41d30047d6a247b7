package core

import (
	"fmt"
	"strconv"
	"strings"

	"pkt.systems/muxrun/schema"
)

// ResolvePane resolves a target specifier to a live pane. Accepted forms are
// "%N" (pane id), "$N" or a session name (the session's active pane),
// "session.N" (pane index N in session) and ".N" (pane index N in the
// client's session). An empty spec means the client's current pane.
func (r *Registry) ResolvePane(spec string, from *Client) (*Pane, error) {
	spec = strings.TrimSpace(spec)
	if strings.HasPrefix(spec, "%") {
		id, err := schema.ParsePaneID(spec)
		if err != nil {
			return nil, targetNotFound(spec)
		}
		pane, ok := r.Pane(id)
		if !ok {
			return nil, targetNotFound(spec)
		}
		return pane, nil
	}
	sessionSpec, indexSpec, hasIndex := spec, "", false
	if dot := strings.LastIndexByte(spec, '.'); dot >= 0 {
		sessionSpec, indexSpec, hasIndex = spec[:dot], spec[dot+1:], true
	}
	session, err := r.resolveSession(sessionSpec, from)
	if err != nil {
		return nil, targetNotFound(spec)
	}
	if !hasIndex {
		pane, ok := session.Active()
		if !ok {
			return nil, targetNotFound(spec)
		}
		return pane, nil
	}
	index, err := strconv.Atoi(indexSpec)
	if err != nil {
		return nil, targetNotFound(spec)
	}
	pane, ok := session.PaneAt(index)
	if !ok {
		return nil, targetNotFound(spec)
	}
	return pane, nil
}

// ResolveSession resolves "$N", a session name, a unique name prefix, or ""
// (the client's current session).
func (r *Registry) ResolveSession(spec string, from *Client) (*Session, error) {
	session, err := r.resolveSession(strings.TrimSpace(spec), from)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", schema.ErrSessionNotFound, spec)
	}
	return session, nil
}

func (r *Registry) resolveSession(spec string, from *Client) (*Session, error) {
	if spec == "" {
		if from == nil {
			return nil, schema.ErrSessionNotFound
		}
		session, ok := from.Session()
		if !ok {
			return nil, schema.ErrSessionNotFound
		}
		return session, nil
	}
	if strings.HasPrefix(spec, "$") {
		id, err := schema.ParseSessionID(spec)
		if err != nil {
			return nil, err
		}
		session, ok := r.Session(id)
		if !ok {
			return nil, schema.ErrSessionNotFound
		}
		return session, nil
	}
	if session := r.sessionByName(spec); session != nil {
		return session, nil
	}
	var match *Session
	for _, session := range r.sessions {
		if !strings.HasPrefix(session.name, spec) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("%w: ambiguous %s", schema.ErrSessionNotFound, spec)
		}
		match = session
	}
	if match == nil {
		return nil, schema.ErrSessionNotFound
	}
	return match, nil
}

func targetNotFound(spec string) error {
	return fmt.Errorf("%w: %s", schema.ErrTargetNotFound, spec)
}
