package events

import (
	"sync"
)

// defaultBufSize is the subscriber channel buffer used when none is given.
const defaultBufSize = 256

// Bus fans events out to subscribers over buffered channels. Delivery is
// best-effort: a subscriber that stops draining loses events, the publisher
// never waits. The scheduler publishes from its run loop, so anything
// blocking here would stall workflow progress.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event
	allSubs []chan Event
	closed  bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]chan Event),
	}
}

// Subscribe returns a channel carrying only the given topic's events.
// bufSize <= 0 selects the default buffer size. After Close, the returned
// channel is already closed.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	ch := newSubChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// SubscribeAll returns a channel carrying every event regardless of topic.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	ch := newSubChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.allSubs = append(b.allSubs, ch)
	return ch
}

func newSubChannel(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	return make(chan Event, bufSize)
}

// Publish delivers the event to the topic's subscribers and to every
// SubscribeAll channel. A no-op on a closed bus.
func (b *Bus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs[topic] {
		offer(ch, event)
	}
	for _, ch := range b.allSubs {
		offer(ch, event)
	}
}

// offer attempts a non-blocking send, dropping the event if ch is full.
func offer(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
	}
}

// Topic returns the topic an event belongs to, keyed by its type.
func Topic(event Event) string {
	switch event.(type) {
	case TaskStartedEvent, TaskCompletedEvent, TaskFailedEvent:
		return TopicTask
	case ErrorHandledEvent:
		return TopicError
	default:
		return TopicWorkflow
	}
}

// Emit publishes an event on the topic derived from its type.
func (b *Bus) Emit(event Event) {
	b.Publish(Topic(event), event)
}

// Close shuts the bus down and closes every subscriber channel, which is how
// consumers like the audit recorder learn to drain and stop. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}
