// Package eventbus is the in-process typed pub/sub hub plus the
// hierarchical Tracer built on top of it. The bus is the only long-lived
// hub: the Tracer subscribes by callback and unsubscribes on disposal,
// so nothing holds a cyclic reference back to the bus.
package eventbus

import (
	"sort"
	"sync"
)

// Channel is one of the bus's named, closed-set channels.
type Channel string

const (
	ChannelAgentStart    Channel = "agent:start"
	ChannelAgentComplete Channel = "agent:complete"
	ChannelAgentError    Channel = "agent:error"
	ChannelTokenUsage    Channel = "token:usage"
	ChannelToolBefore    Channel = "tool:before"
	ChannelToolAfter     Channel = "tool:after"
)

// Event is one message published on a Channel. Payload is left typed as
// `any`; subscribers that care about a specific channel know its shape.
type Event struct {
	Channel Channel
	Payload any
}

// Subscription is returned from Subscribe; call Unsubscribe to detach,
// the contract a per-REPL-turn UI attachment relies on.
type Subscription struct {
	id      int64
	channel Channel
	bus     *Bus
}

func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.channel, s.id)
}

// Bus is a typed, in-process pub/sub hub. Handlers run synchronously on
// the publishing goroutine, in subscription order; a handler that wants
// async work should hand off to its own goroutine.
type Bus struct {
	mu        sync.Mutex
	nextID    int64
	listeners map[Channel]map[int64]func(Event)
}

func New() *Bus {
	return &Bus{listeners: make(map[Channel]map[int64]func(Event))}
}

// Subscribe attaches handler to channel, returning a removable Subscription.
func (b *Bus) Subscribe(channel Channel, handler func(Event)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.listeners[channel] == nil {
		b.listeners[channel] = make(map[int64]func(Event))
	}
	b.listeners[channel][id] = handler

	return &Subscription{id: id, channel: channel, bus: b}
}

func (b *Bus) unsubscribe(channel Channel, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners[channel], id)
}

// Publish delivers event to every current subscriber of event.Channel.
// Handlers are snapshotted under the lock so a handler that subscribes or
// unsubscribes during delivery doesn't deadlock or race the map.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	ids := make([]int64, 0, len(b.listeners[event.Channel]))
	for id := range b.listeners[event.Channel] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.listeners[event.Channel][id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}
