// Package events provides an in-process bus for registry change notifications.
package events

import (
	"sync"
	"time"
)

// Name identifies a notification
type Name string

// Notification names emitted by the registry
const (
	SourceUpdated               Name = "source:updated"
	SourceRemoved               Name = "source:removed"
	SourceRefreshed             Name = "source:refreshed"
	SourcesLoaded               Name = "sources:loaded"
	SourceRefreshOptionsUpdated Name = "source:refreshOptionsUpdated"
)

// DefaultBuffer is the per-subscriber buffer used when none is given
const DefaultBuffer = 64

// Event is one notification. SourceID is empty for list-wide events.
type Event struct {
	Name     Name      `json:"name"`
	SourceID string    `json:"sourceId,omitempty"`
	Time     time.Time `json:"time"`
}

// Bus fans events out to subscribers. Publishing never blocks: a full
// subscriber buffer drops its oldest event.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscription receives events until closed
type Subscription struct {
	id      uint64
	bus     *Bus
	ch      chan Event
	dropped uint64
	once    sync.Once
}

// Subscribe registers a subscriber with the given buffer size
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription{id: b.nextID, bus: b, ch: make(chan Event, buffer)}
	if b.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	b.subs[s.id] = s
	return s
}

// Publish delivers e to every subscriber
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.offer(e)
	}
}

// Close closes every subscription; later publishes are ignored
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.once.Do(func() { close(s.ch) })
	}
}

// offer must be called with the bus lock held
func (s *Subscription) offer(e Event) {
	for {
		select {
		case s.ch <- e:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}

// Events returns the delivery channel; it is closed when the subscription ends
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded because the buffer was full
func (s *Subscription) Dropped() uint64 {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.dropped
}

// Close unsubscribes and closes the channel
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	delete(s.bus.subs, s.id)
	s.once.Do(func() { close(s.ch) })
}
