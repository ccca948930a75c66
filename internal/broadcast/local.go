package broadcast

import (
	"sync"

	"github.com/headerkit/source-agent/internal/source"
)

// latestSlot is a one-element buffer that always holds the newest value
type latestSlot struct {
	ch chan []source.Source
}

func newLatestSlot() *latestSlot {
	return &latestSlot{ch: make(chan []source.Source, 1)}
}

// put replaces any pending value. Callers serialize puts.
func (s *latestSlot) put(v []source.Source) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// LocalChannel is the push channel of the local UI. Each subscriber sees
// the latest snapshot; intermediate ones may be skipped.
type LocalChannel struct {
	mu     sync.Mutex
	latest []source.Source
	subs   map[*latestSlot]struct{}
}

// NewLocalChannel creates an empty channel
func NewLocalChannel() *LocalChannel {
	return &LocalChannel{subs: make(map[*latestSlot]struct{})}
}

// Name implements Sink
func (*LocalChannel) Name() string {
	return "local"
}

// Publish implements Sink
func (l *LocalChannel) Publish(snapshot []source.Source) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.latest = snapshot
	for slot := range l.subs {
		slot.put(snapshot)
	}
}

// Latest returns the last published snapshot
func (l *LocalChannel) Latest() []source.Source {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest
}

// Updates subscribes to snapshots. The current snapshot, if any, is
// delivered first. Call cancel to unsubscribe.
func (l *LocalChannel) Updates() (updates <-chan []source.Source, cancel func()) {
	slot := newLatestSlot()

	l.mu.Lock()
	l.subs[slot] = struct{}{}
	if l.latest != nil {
		slot.put(l.latest)
	}
	l.mu.Unlock()

	var once sync.Once
	return slot.ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.subs, slot)
		})
	}
}
