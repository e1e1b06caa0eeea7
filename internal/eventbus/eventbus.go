// Package eventbus fans registry domain events out to many subscribers
// over two logical channels.
package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sessiontrace/backend/internal/cost"
	"github.com/sessiontrace/backend/internal/message"
	"github.com/sessiontrace/backend/internal/registry"
)

// ErrTooManyConnections is returned by Attach when the subscriber limit
// is reached.
var ErrTooManyConnections = errors.New("too many connections")

const (
	broadcastCapacity = 256
	messageCapacity   = 1024
)

// Kind is the wire-level event tag. These values, together with the
// Envelope payload field names, form the streaming-surface contract.
type Kind string

const (
	KindSessionsInit      Kind = "sessions:init"
	KindSessionDiscovered Kind = "session:discovered"
	KindSessionRemoved    Kind = "session:removed"
	KindStateChanged      Kind = "session:state_changed"
	KindNewMessage        Kind = "session:new_message"
	KindMessagesInit      Kind = "session:messages_init"
	KindUsageUpdated      Kind = "session:usage_updated"
	KindGitStatusUpdated  Kind = "session:git_status_updated"
)

// UsageSnapshot is the usage object carried by session:usage_updated:
// the cumulative token counts plus the running cost estimate.
type UsageSnapshot struct {
	cost.Usage
	EstimatedCost float64 `json:"estimatedCost"`
}

// Envelope is one tagged wire message delivered to a subscriber over
// either channel. Payload is one of the *Payload structs below, keyed
// by Type.
type Envelope struct {
	Type    Kind `json:"type"`
	Payload any  `json:"payload"`
}

type SessionsInitPayload struct {
	Sessions []*registry.Summary `json:"sessions"`
}

type SessionDiscoveredPayload struct {
	Session *registry.Summary `json:"session"`
}

type SessionRemovedPayload struct {
	SessionID string `json:"sessionId"`
}

type StateChangedPayload struct {
	SessionID string            `json:"sessionId"`
	Previous  string            `json:"previous"`
	Current   string            `json:"current"`
	Session   *registry.Summary `json:"session"`
}

type NewMessagePayload struct {
	SessionID string           `json:"sessionId"`
	Message   *message.Message `json:"message"`
}

type MessagesInitPayload struct {
	SessionID string            `json:"sessionId"`
	Messages  []message.Message `json:"messages"`
}

type UsageUpdatedPayload struct {
	SessionID string        `json:"sessionId"`
	Usage     UsageSnapshot `json:"usage"`
}

type GitStatusUpdatedPayload struct {
	SessionID string             `json:"sessionId"`
	GitStatus registry.GitStatus `json:"gitStatus"`
}

func fromDomainEvent(ev registry.Event) Envelope {
	var env Envelope

	switch ev.Kind {
	case registry.SessionDiscovered:
		env.Type = KindSessionDiscovered
		env.Payload = SessionDiscoveredPayload{Session: ev.Session}
	case registry.SessionRemoved:
		env.Type = KindSessionRemoved
		env.Payload = SessionRemovedPayload{SessionID: ev.SessionID}
	case registry.StateChanged:
		env.Type = KindStateChanged
		env.Payload = StateChangedPayload{
			SessionID: ev.SessionID,
			Previous:  ev.PrevState,
			Current:   ev.CurState,
			Session:   ev.Session,
		}
	case registry.UsageUpdated:
		env.Type = KindUsageUpdated
		p := UsageUpdatedPayload{SessionID: ev.SessionID}
		if ev.Session != nil {
			p.Usage = UsageSnapshot{Usage: ev.Session.CumulativeUsage, EstimatedCost: ev.Session.EstimatedCost}
		}
		env.Payload = p
	case registry.NewMessage:
		env.Type = KindNewMessage
		env.Payload = NewMessagePayload{SessionID: ev.SessionID, Message: ev.Message}
	case registry.GitStatusUpdated:
		env.Type = KindGitStatusUpdated
		p := GitStatusUpdatedPayload{SessionID: ev.SessionID}
		if ev.Session != nil {
			p.GitStatus = ev.Session.GitStatus
		}
		env.Payload = p
	}

	return env
}

// Subscriber is one attached connection's view of the bus: a broadcast
// channel (everything except NewMessage) and a message channel (NewMessage
// only, filtered by a per-connection session-id set).
type Subscriber struct {
	broadcast chan Envelope
	messages  chan Envelope
	lag       atomic.Uint64

	mu       sync.Mutex
	sessions map[string]bool
}

// Broadcast returns the channel carrying every non-NewMessage event.
func (s *Subscriber) Broadcast() <-chan Envelope { return s.broadcast }

// Messages returns the channel carrying NewMessage events for subscribed
// session ids only.
func (s *Subscriber) Messages() <-chan Envelope { return s.messages }

// Lag returns the count of events this subscriber has missed, on either
// channel, because that channel was full. Diagnostic only.
func (s *Subscriber) Lag() uint64 { return s.lag.Load() }

func newSubscriber() *Subscriber {
	return &Subscriber{
		broadcast: make(chan Envelope, broadcastCapacity),
		messages:  make(chan Envelope, messageCapacity),
		sessions:  map[string]bool{},
	}
}

func (s *Subscriber) wantsSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *Subscriber) trySendBroadcast(env Envelope) {
	select {
	case s.broadcast <- env:
	default:
		s.lag.Add(1)
	}
}

func (s *Subscriber) trySendMessage(env Envelope) {
	select {
	case s.messages <- env:
	default:
		s.lag.Add(1)
	}
}

// Bus owns the set of attached subscribers and the single goroutine that
// drains the registry's event channel and fans it out.
type Bus struct {
	reg      *registry.Registry
	maxConns int

	mu          sync.RWMutex
	subscribers map[*Subscriber]bool

	in   <-chan registry.Event
	done chan struct{}
}

// New returns a Bus that drains in (typically the Registry's outbound
// event channel) and can answer subscribe-time snapshot queries against
// reg. maxConns bounds the attached subscriber count; zero means
// unlimited.
func New(reg *registry.Registry, in <-chan registry.Event, maxConns int) *Bus {
	return &Bus{
		reg:         reg,
		maxConns:    maxConns,
		subscribers: map[*Subscriber]bool{},
		in:          in,
		done:        make(chan struct{}),
	}
}

// Run drains the registry event channel and fans events out. Intended to
// run as a goroutine; returns when in is closed or Stop is called.
func (b *Bus) Run() {
	for {
		select {
		case ev, ok := <-b.in:
			if !ok {
				return
			}
			b.dispatch(ev)
		case <-b.done:
			return
		}
	}
}

// Stop ends Run. Attached subscribers and their channels are left as they
// are; they are not closed.
func (b *Bus) Stop() {
	close(b.done)
}

func (b *Bus) dispatch(ev registry.Event) {
	env := fromDomainEvent(ev)

	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	if ev.Kind == registry.NewMessage {
		for _, s := range subs {
			if s.wantsSession(ev.SessionID) {
				s.trySendMessage(env)
			}
		}
		return
	}

	for _, s := range subs {
		s.trySendBroadcast(env)
	}
}

// Attach registers a new subscriber and immediately queues a SessionsInit
// one-shot carrying the current list of emitted sessions. Returns
// ErrTooManyConnections when the subscriber limit is reached.
func (b *Bus) Attach() (*Subscriber, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.subscribers) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	s := newSubscriber()
	b.subscribers[s] = true
	b.mu.Unlock()

	s.trySendBroadcast(Envelope{Type: KindSessionsInit, Payload: SessionsInitPayload{Sessions: b.reg.ListEmitted()}})
	return s, nil
}

// Detach removes a subscriber from the fan-out set.
func (b *Bus) Detach(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
}

// SubscribeSession adds sessionID to s's message-stream filter set and
// immediately queues a MessagesInit snapshot for it. Subscribing to a
// session the registry does not know (yet) records the filter entry but
// sends no snapshot.
func (b *Bus) SubscribeSession(s *Subscriber, sessionID string) {
	s.mu.Lock()
	s.sessions[sessionID] = true
	s.mu.Unlock()

	msgs := b.reg.Messages(sessionID)
	if msgs == nil {
		return
	}
	s.trySendMessage(Envelope{
		Type:    KindMessagesInit,
		Payload: MessagesInitPayload{SessionID: sessionID, Messages: msgs},
	})
}

// UnsubscribeSession removes sessionID from s's message-stream filter set.
func (b *Bus) UnsubscribeSession(s *Subscriber, sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}
