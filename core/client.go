package core

import (
	"sync"

	"pkt.systems/muxrun/schema"
	"pkt.systems/pslog"
)

// ClientKind distinguishes interactive clients from one-shot command clients.
type ClientKind int

const (
	// ClientAttached is an interactive client viewing a session.
	ClientAttached ClientKind = iota
	// ClientCommand runs a single command line and exits when allowed to.
	ClientCommand
)

// String renders the kind for logs.
func (k ClientKind) String() string {
	if k == ClientCommand {
		return "command"
	}
	return "attached"
}

// ClientOptions describes a new client.
type ClientOptions struct {
	ID   schema.ClientID
	Kind ClientKind
	Name string
	TTY  string
	Term string
}

// Client is a connected client. Its memory stays registered while references
// are held, even after the connection is lost.
type Client struct {
	id      schema.ClientID
	kind    ClientKind
	name    string
	tty     string
	term    string
	session *Session
	refs    int
	dead    bool
	exit    bool
	freed   bool

	exitOnce sync.Once
	exited   chan struct{}

	reg *Registry
	log pslog.Logger
}

// ID returns the client id.
func (c *Client) ID() schema.ClientID { return c.id }

// Kind returns the client kind.
func (c *Client) Kind() ClientKind { return c.kind }

// Name returns the client name.
func (c *Client) Name() string { return c.name }

// Session returns the client's current session.
func (c *Client) Session() (*Session, bool) {
	if c.session == nil || !c.session.Live() {
		return nil, false
	}
	return c.session, true
}

// Retain takes a reference on the client.
func (c *Client) Retain() {
	c.refs++
}

// Release drops a reference. A lost client is removed from the registry once
// its last reference is released.
func (c *Client) Release() {
	if c.refs <= 0 {
		c.log.Warn("client release without reference", "refs", c.refs)
		return
	}
	c.refs--
	if c.refs == 0 && c.dead {
		c.reg.freeClient(c)
	}
}

// References returns the current reference count.
func (c *Client) References() int { return c.refs }

// Terminated reports whether the client connection has been lost.
func (c *Client) Terminated() bool { return c.dead }

// ExitAllowed reports whether AllowExit has been called.
func (c *Client) ExitAllowed() bool { return c.exit }

// Print sends command output to the client.
func (c *Client) Print(text string) {
	c.notify(schema.ClientEventPrint, text)
}

// Info sends a short informational message to the client.
func (c *Client) Info(text string) {
	c.notify(schema.ClientEventInfo, text)
}

// Error sends a command error to the client.
func (c *Client) Error(text string) {
	c.notify(schema.ClientEventError, text)
}

// AllowExit lets a command client exit once its pending output has been
// delivered. Attached clients stay connected.
func (c *Client) AllowExit() {
	if c.kind != ClientCommand {
		c.log.Trace("client exit ignored", "kind", c.kind)
		return
	}
	c.exit = true
	c.exitOnce.Do(func() {
		c.notify(schema.ClientEventExit, "")
		close(c.exited)
	})
}

// Exited is closed when a command client has been allowed to exit.
func (c *Client) Exited() <-chan struct{} {
	return c.exited
}

// Snapshot returns a transport-friendly view of the client.
func (c *Client) Snapshot() schema.ClientSnapshot {
	snap := schema.ClientSnapshot{
		ID:         c.id,
		Name:       c.name,
		TTY:        c.tty,
		Term:       c.term,
		Command:    c.kind == ClientCommand,
		References: c.refs,
	}
	if session, ok := c.Session(); ok {
		snap.Session = session.id
		snap.HasSession = true
	}
	return snap
}

func (c *Client) notify(kind schema.ClientEventKind, text string) {
	if c.dead {
		c.log.Trace("client notification dropped", "kind", kind, "reason", "client lost")
		return
	}
	if c.reg.notifier == nil {
		c.log.Debug("client notification dropped", "kind", kind, "reason", "no notifier")
		return
	}
	c.reg.notifier.Notify(schema.ClientEvent{ClientID: c.id, Kind: kind, Text: text})
}
