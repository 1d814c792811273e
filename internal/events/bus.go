package events

import (
	"sync"

	"hostweave/internal/api"
)

// Topic enumerates bus channels shared across hostweave subsystems.
type Topic string

const (
	TopicResourceState Topic = "resource_state"
	TopicResourceLog   Topic = "resource_log"
)

// Event represents a message broadcast on the event bus.
type Event struct {
	Topic   Topic
	Payload any
}

// ResourceStateChanged carries the snapshot published for a resource.
type ResourceStateChanged struct {
	Snapshot api.ResourceSnapshot
}

// ResourceLogLine is one diagnostic line emitted by a resource logger.
type ResourceLogLine struct {
	Resource string
	Line     string
}

// Bus is a simple pub/sub dispatcher for intra-process events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]chan Event
	closed bool
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan Event)}
}

// Subscribe registers a buffered channel for a topic.
func (b *Bus) Subscribe(topic Topic, buffer int) <-chan Event {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (b *Bus) Unsubscribe(topic Topic, sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	chans := b.subs[topic]
	for i, ch := range chans {
		if (<-chan Event)(ch) == sub {
			b.subs[topic] = append(chans[:i:i], chans[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish broadcasts an event to all subscribers. Subscribers whose buffer is
// full miss the event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[evt.Topic] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Close shuts down the bus and all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = nil
}
