// Package core holds the multiplexer state: sessions, panes and clients.
//
// A Registry is not safe for concurrent use. The server owns it from the event
// loop goroutine and every caller goes through that loop.
package core

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"pkt.systems/muxrun/internal/logx"
	"pkt.systems/muxrun/schema"
	"pkt.systems/pslog"
)

// Registry tracks sessions, panes and clients.
type Registry struct {
	cfg      schema.ServiceConfig
	notifier Notifier
	log      pslog.Logger
	host     string

	sessions    map[schema.SessionID]*Session
	nextSession schema.SessionID

	// Panes live in an arena. Killing a pane empties its slot; slots are
	// reused through the free list while pane ids keep increasing.
	slots    []*Pane
	free     []int
	paneSlot map[schema.PaneID]int
	nextPane schema.PaneID

	clients     map[schema.ClientID]*Client
	clientOrder []schema.ClientID
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg schema.ServiceConfig, deps RegistryDeps) (*Registry, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	host := deps.Hostname
	if host == "" {
		host, _ = os.Hostname()
	}
	return &Registry{
		cfg:      normalized,
		notifier: deps.Notifier,
		log:      logger,
		host:     host,
		sessions: make(map[schema.SessionID]*Session),
		paneSlot: make(map[schema.PaneID]int),
		clients:  make(map[schema.ClientID]*Client),
	}, nil
}

// Config returns the normalized configuration.
func (r *Registry) Config() schema.ServiceConfig { return r.cfg }

// NewSession creates a session with one pane. An empty name uses the
// session's numeric id.
func (r *Registry) NewSession(name string) (*Session, error) {
	id := r.nextSession
	if name == "" {
		name = strconv.FormatUint(uint64(id), 10)
		for r.sessionByName(name) != nil {
			id++
			name = strconv.FormatUint(uint64(id), 10)
		}
	}
	normalized, err := schema.NormalizeSessionName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, name)
	}
	if r.sessionByName(normalized) != nil {
		return nil, fmt.Errorf("%w: %s", schema.ErrSessionExists, normalized)
	}
	session := &Session{
		id:      r.nextSession,
		name:    normalized,
		created: time.Now(),
	}
	r.nextSession++
	r.sessions[session.id] = session
	r.NewPane(session, "")
	logx.WithSession(r.log, session.id, session.name).Info("session created")
	return session, nil
}

// NewPane adds a pane to session and makes it active.
func (r *Registry) NewPane(session *Session, title string) *Pane {
	pane := &Pane{
		id:       r.nextPane,
		session:  session,
		title:    title,
		created:  time.Now(),
		mode:     schema.PaneModeLive,
		maxLines: r.cfg.BufferMaxLines,
	}
	r.nextPane++
	slot := len(r.slots)
	if n := len(r.free); n > 0 {
		slot = r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[slot] = pane
	} else {
		r.slots = append(r.slots, pane)
	}
	r.paneSlot[pane.id] = slot
	session.panes = append(session.panes, pane)
	session.active = pane
	r.log.Debug("pane created", "pane", pane.id.String(), "session", session.id.String(), "slot", slot)
	return pane
}

// Pane returns the live pane with id.
func (r *Registry) Pane(id schema.PaneID) (*Pane, bool) {
	slot, ok := r.paneSlot[id]
	if !ok {
		return nil, false
	}
	pane := r.slots[slot]
	if pane == nil || pane.id != id || pane.dead {
		return nil, false
	}
	return pane, true
}

// KillPane removes a pane. A session left without panes is removed too.
func (r *Registry) KillPane(id schema.PaneID) error {
	pane, ok := r.Pane(id)
	if !ok {
		return fmt.Errorf("%w: %s", schema.ErrTargetNotFound, id)
	}
	session := pane.session
	r.destroyPane(pane)
	session.removePane(pane)
	if len(session.panes) == 0 {
		r.destroySession(session)
	}
	return nil
}

// KillSession removes a session and all of its panes.
func (r *Registry) KillSession(id schema.SessionID) error {
	session, ok := r.Session(id)
	if !ok {
		return fmt.Errorf("%w: %s", schema.ErrSessionNotFound, id)
	}
	for _, pane := range session.panes {
		r.destroyPane(pane)
	}
	session.panes = nil
	session.active = nil
	r.destroySession(session)
	return nil
}

// SelectPane makes a pane the active pane of its session.
func (r *Registry) SelectPane(id schema.PaneID) error {
	pane, ok := r.Pane(id)
	if !ok {
		return fmt.Errorf("%w: %s", schema.ErrTargetNotFound, id)
	}
	pane.session.active = pane
	return nil
}

// Session returns the live session with id.
func (r *Registry) Session(id schema.SessionID) (*Session, bool) {
	session, ok := r.sessions[id]
	if !ok || session.dead {
		return nil, false
	}
	return session, true
}

// Sessions returns the live sessions ordered by id.
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// NewClient registers a client. Attached clients are placed in the default
// session, which is created when it does not exist yet.
func (r *Registry) NewClient(opts ClientOptions) (*Client, error) {
	id := opts.ID
	if id == "" {
		id = schema.ClientID(uuid.NewString())
	}
	if _, exists := r.clients[id]; exists {
		return nil, fmt.Errorf("%w: duplicate client %s", schema.ErrInvalidRequest, id)
	}
	name := opts.Name
	if name == "" {
		name = string(id)
	}
	client := &Client{
		id:     id,
		kind:   opts.Kind,
		name:   name,
		tty:    opts.TTY,
		term:   opts.Term,
		exited: make(chan struct{}),
		reg:    r,
		log:    r.log.With("client", id),
	}
	r.clients[id] = client
	r.clientOrder = append(r.clientOrder, id)
	if opts.Kind == ClientAttached {
		session := r.sessionByName(r.cfg.DefaultSession)
		if session == nil {
			created, err := r.NewSession(r.cfg.DefaultSession)
			if err != nil {
				r.freeClient(client)
				return nil, err
			}
			session = created
		}
		client.session = session
	}
	client.log.Info("client registered", "kind", client.kind, "name", client.name)
	return client, nil
}

// Client returns a registered client, including lost clients that are still
// referenced.
func (r *Registry) Client(id schema.ClientID) (*Client, bool) {
	client, ok := r.clients[id]
	return client, ok
}

// Clients returns registered clients in registration order.
func (r *Registry) Clients() []*Client {
	out := make([]*Client, 0, len(r.clientOrder))
	for _, id := range r.clientOrder {
		if client, ok := r.clients[id]; ok {
			out = append(out, client)
		}
	}
	return out
}

// AttachClient makes session the client's current session.
func (r *Registry) AttachClient(client *Client, session *Session) error {
	if client == nil || client.dead {
		return fmt.Errorf("%w: client not connected", schema.ErrInvalidRequest)
	}
	if !session.Live() {
		return fmt.Errorf("%w: %s", schema.ErrSessionNotFound, session.id)
	}
	client.session = session
	client.log.Debug("client attached", "session", session.id.String())
	return nil
}

// LoseClient marks a client's connection as gone. The client is removed once
// nothing references it.
func (r *Registry) LoseClient(id schema.ClientID) {
	client, ok := r.clients[id]
	if !ok || client.dead {
		return
	}
	client.dead = true
	client.session = nil
	client.log.Info("client lost", "refs", client.refs)
	if client.refs == 0 {
		r.freeClient(client)
	}
}

// SessionViewer returns the first live attached client viewing session.
func (r *Registry) SessionViewer(id schema.SessionID) (*Client, bool) {
	for _, client := range r.Clients() {
		if client.dead || client.kind != ClientAttached || client.session == nil {
			continue
		}
		if client.session.id == id {
			return client, true
		}
	}
	return nil, false
}

// AttachedCount returns how many live attached clients view session.
func (r *Registry) AttachedCount(id schema.SessionID) int {
	count := 0
	for _, client := range r.clients {
		if !client.dead && client.kind == ClientAttached && client.session != nil && client.session.id == id {
			count++
		}
	}
	return count
}

func (r *Registry) sessionByName(name string) *Session {
	for _, session := range r.sessions {
		if session.name == name {
			return session
		}
	}
	return nil
}

func (r *Registry) destroyPane(pane *Pane) {
	pane.dead = true
	pane.capture = nil
	if slot, ok := r.paneSlot[pane.id]; ok {
		r.slots[slot] = nil
		r.free = append(r.free, slot)
		delete(r.paneSlot, pane.id)
	}
	r.log.Debug("pane destroyed", "pane", pane.id.String())
}

func (r *Registry) destroySession(session *Session) {
	session.dead = true
	delete(r.sessions, session.id)
	for _, client := range r.clients {
		if client.session == session {
			client.session = nil
		}
	}
	logx.WithSession(r.log, session.id, session.name).Info("session destroyed")
}

func (r *Registry) freeClient(client *Client) {
	if client.freed {
		return
	}
	client.freed = true
	delete(r.clients, client.id)
	for i, id := range r.clientOrder {
		if id == client.id {
			r.clientOrder = append(r.clientOrder[:i], r.clientOrder[i+1:]...)
			break
		}
	}
	client.log.Debug("client freed")
}
