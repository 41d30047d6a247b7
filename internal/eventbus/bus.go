// Package eventbus delivers client notifications from the event loop to the
// goroutines serving each client's connection.
package eventbus

import (
	"context"
	"sync"

	"pkt.systems/muxrun/schema"
	"pkt.systems/pslog"
)

// Bus fans client notifications out to per-client subscriptions. Publishing
// never blocks and never drops: each subscription queues without limit until
// its reader takes the events.
type Bus struct {
	mu   sync.Mutex
	subs map[schema.ClientID]map[*Subscription]struct{}
	log  pslog.Logger
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs: make(map[schema.ClientID]map[*Subscription]struct{}),
		log:  logger,
	}
}

// Subscription is one reader's queue of notifications for a client.
type Subscription struct {
	bus    *Bus
	client schema.ClientID
	ready  chan struct{}
	once   sync.Once

	mu      sync.Mutex
	pending []schema.ClientEvent
	closed  bool
}

// Subscribe registers a subscription for the client. Events published after
// Subscribe returns are queued on it in publish order.
func (b *Bus) Subscribe(clientID schema.ClientID) *Subscription {
	sub := &Subscription{bus: b, client: clientID, ready: make(chan struct{}, 1)}
	if b == nil {
		sub.closed = true
		return sub
	}
	b.mu.Lock()
	clientSubs := b.subs[clientID]
	if clientSubs == nil {
		clientSubs = make(map[*Subscription]struct{})
		b.subs[clientID] = clientSubs
	}
	clientSubs[sub] = struct{}{}
	count := len(clientSubs)
	b.mu.Unlock()
	b.log.With("client", clientID).Debug("eventbus subscribe", "subs", count)
	return sub
}

// Notify queues event on every subscription of event.ClientID.
func (b *Bus) Notify(event schema.ClientEvent) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[event.ClientID] {
		sub.push(event)
	}
}

// Subscribers returns how many subscriptions a client has.
func (b *Bus) Subscribers(clientID schema.ClientID) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[clientID])
}

func (s *Subscription) push(event schema.ClientEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, event)
	s.mu.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after events were queued. A signal may cover several
// events, and a Take made before the signal is read may already have
// collected them.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Take returns the queued events in publish order and empties the queue. It
// never waits.
func (s *Subscription) Take() []schema.ClientEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.pending
	s.pending = nil
	return events
}

// Close removes the subscription from the bus and discards anything queued.
// It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if b := s.bus; b != nil {
			b.mu.Lock()
			if subs := b.subs[s.client]; subs != nil {
				delete(subs, s)
				if len(subs) == 0 {
					delete(b.subs, s.client)
				}
			}
			b.mu.Unlock()
			b.log.With("client", s.client).Debug("eventbus unsubscribe")
		}
		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.mu.Unlock()
	})
}
