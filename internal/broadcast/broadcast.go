// Package broadcast pushes the full source list to local and network
// consumers whenever the registry changes.
package broadcast

import (
	"context"
	"log/slog"

	"github.com/headerkit/source-agent/internal/events"
	"github.com/headerkit/source-agent/internal/source"
	"github.com/headerkit/source-agent/internal/telemetry"
)

// MessageType is the type field of a WebSocket message
type MessageType string

const (
	// MessageSourcesInitial is the first message on every connection
	MessageSourcesInitial MessageType = "sourcesInitial"

	// MessageSourcesUpdated carries every later snapshot
	MessageSourcesUpdated MessageType = "sourcesUpdated"
)

// Message is the server to client payload
type Message struct {
	Type    MessageType     `json:"type"`
	Sources []source.Source `json:"sources"`
}

// Sink receives complete snapshots
type Sink interface {
	// Name identifies the sink in logs and metrics
	Name() string

	// Publish hands over a snapshot. It must not block.
	Publish(snapshot []source.Source)
}

// Broadcaster pushes a snapshot to every sink on each list-changing event
type Broadcaster struct {
	bus      *events.Bus
	snapshot func() []source.Source
	sinks    []Sink
	metrics  *telemetry.BroadcastMetrics
}

// Option configures a Broadcaster
type Option func(*Broadcaster)

// WithMetrics records one snapshot per sink push
func WithMetrics(m *telemetry.BroadcastMetrics) Option {
	return func(b *Broadcaster) {
		b.metrics = m
	}
}

// New creates a broadcaster reading snapshots from snapshot
func New(bus *events.Bus, snapshot func() []source.Source, sinks []Sink, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		bus:      bus,
		snapshot: snapshot,
		sinks:    sinks,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run pushes the current snapshot, then one snapshot per burst of change
// events until ctx is done or the bus closes
func (b *Broadcaster) Run(ctx context.Context) error {
	sub := b.bus.Subscribe(events.DefaultBuffer)
	defer sub.Close()

	b.push(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if !changesList(e.Name) {
				continue
			}
			if !b.coalesce(sub) {
				b.push(ctx)
				return nil
			}
			b.push(ctx)
		}
	}
}

// coalesce drains events already queued so a burst yields one snapshot.
// It returns false when the bus closed.
func (*Broadcaster) coalesce(sub *events.Subscription) bool {
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

func (b *Broadcaster) push(ctx context.Context) {
	snapshot := b.snapshot()
	for _, s := range b.sinks {
		s.Publish(snapshot)
		b.metrics.RecordSnapshot(ctx, s.Name())
	}
	slog.Debug("Snapshot broadcast", "sources", len(snapshot), "sinks", len(b.sinks))
}

func changesList(name events.Name) bool {
	switch name {
	case events.SourceUpdated, events.SourceRemoved, events.SourcesLoaded, events.SourceRefreshOptionsUpdated:
		return true
	default:
		return false
	}
}
