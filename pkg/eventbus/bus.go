// Package eventbus is the typed pub/sub layer in front of the
// WebSocket hub (spec.md §4.7): channels are pool:{symbol},
// orderbook:{symbol}, user, and an internal trade firehose. Publication
// never blocks the caller — the router publishes after commit without
// waiting for fan-out (spec.md §9 "Asynchrony for events").
package eventbus

import "sync"

// Event is the tagged structure every subscriber receives.
type Event struct {
	Channel string
	Symbol  string
	Data    any
}

// Subscriber receives events for the channels it was registered under.
// The WebSocket hub's Client implements this to bridge bus events onto
// its bounded-latest outbox.
type Subscriber interface {
	Deliver(Event)
}

// Bus is a concurrency-safe many-producer, many-consumer channel
// router. Subscribers are grouped by channel name; Publish fans an
// event out to every subscriber of its channel without blocking.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[Subscriber]bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[Subscriber]bool)}
}

// Subscribe registers sub to receive events published on channel.
// Idempotent: subscribing twice is a no-op.
func (b *Bus) Subscribe(channel string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[Subscriber]bool)
	}
	b.subs[channel][sub] = true
}

// Unsubscribe removes sub from channel. Idempotent.
func (b *Bus) Unsubscribe(channel string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[channel], sub)
}

// UnsubscribeAll removes sub from every channel, used on client disconnect.
func (b *Bus) UnsubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for channel := range b.subs {
		delete(b.subs[channel], sub)
	}
}

// Publish fans an event out to every current subscriber of channel.
// Each subscriber's Deliver is expected to be itself non-blocking (the
// hub's Client.Deliver enqueues into a bounded-latest outbox); Publish
// never blocks on a slow consumer.
func (b *Bus) Publish(channel, symbol string, data any) {
	b.mu.RLock()
	subs := b.subs[channel]
	targets := make([]Subscriber, 0, len(subs))
	for s := range subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	event := Event{Channel: channel, Symbol: symbol, Data: data}
	for _, s := range targets {
		s.Deliver(event)
	}
}

// SubscriberCount reports how many subscribers a channel currently has,
// used for the internal overflow/diagnostics surface.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}
