package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// FetchMetricsMeterName is the name used for the HTTP polling engine meter
	FetchMetricsMeterName = "github.com/headerkit/source-agent/httpengine"

	// PersistenceMetricsMeterName is the name used for the persistence layer meter
	PersistenceMetricsMeterName = "github.com/headerkit/source-agent/storage"

	// BroadcastMetricsMeterName is the name used for the broadcast layer meter
	BroadcastMetricsMeterName = "github.com/headerkit/source-agent/broadcast"
)

// Fetch outcomes
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeShortCircuit = "short_circuit"
)

// FetchMetrics holds the instruments for HTTP source fetches
type FetchMetrics struct {
	fetchDuration      metric.Float64Histogram
	breakerTransitions metric.Int64Counter
}

// NewFetchMetrics creates a new FetchMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewFetchMetrics(provider metric.MeterProvider) (*FetchMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(FetchMetricsMeterName)

	fetchDuration, err := meter.Float64Histogram(
		"source_agent_fetch_duration_seconds",
		metric.WithDescription("Duration of HTTP source fetches in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	breakerTransitions, err := meter.Int64Counter(
		"source_agent_breaker_transitions_total",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &FetchMetrics{
		fetchDuration:      fetchDuration,
		breakerTransitions: breakerTransitions,
	}, nil
}

// RecordFetch records one fetch attempt and its outcome
func (m *FetchMetrics) RecordFetch(ctx context.Context, method, outcome string, duration time.Duration) {
	if m == nil || m.fetchDuration == nil {
		return
	}

	m.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}

// RecordBreakerTransition records a breaker moving into state
func (m *FetchMetrics) RecordBreakerTransition(ctx context.Context, state string) {
	if m == nil || m.breakerTransitions == nil {
		return
	}

	m.breakerTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// PersistenceMetrics holds the instruments for atomic writes
type PersistenceMetrics struct {
	writesTotal metric.Int64Counter
	lockBreaks  metric.Int64Counter
}

// NewPersistenceMetrics creates a new PersistenceMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewPersistenceMetrics(provider metric.MeterProvider) (*PersistenceMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(PersistenceMetricsMeterName)

	writesTotal, err := meter.Int64Counter(
		"source_agent_persistence_writes_total",
		metric.WithDescription("Atomic writes by outcome"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, err
	}

	lockBreaks, err := meter.Int64Counter(
		"source_agent_persistence_lock_breaks_total",
		metric.WithDescription("Lock files forcibly broken after the acquire timeout"),
		metric.WithUnit("{lock}"),
	)
	if err != nil {
		return nil, err
	}

	return &PersistenceMetrics{
		writesTotal: writesTotal,
		lockBreaks:  lockBreaks,
	}, nil
}

// RecordWrite records a completed write attempt
func (m *PersistenceMetrics) RecordWrite(ctx context.Context, success bool) {
	if m == nil || m.writesTotal == nil {
		return
	}

	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeFailure
	}
	m.writesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordLockBreak records a forcibly removed lock file
func (m *PersistenceMetrics) RecordLockBreak(ctx context.Context) {
	if m == nil || m.lockBreaks == nil {
		return
	}

	m.lockBreaks.Add(ctx, 1)
}

// BroadcastMetrics holds the instruments for snapshot delivery
type BroadcastMetrics struct {
	clients   metric.Int64UpDownCounter
	snapshots metric.Int64Counter
}

// NewBroadcastMetrics creates a new BroadcastMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewBroadcastMetrics(provider metric.MeterProvider) (*BroadcastMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(BroadcastMetricsMeterName)

	clients, err := meter.Int64UpDownCounter(
		"source_agent_websocket_clients",
		metric.WithDescription("Number of connected WebSocket clients"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, err
	}

	snapshots, err := meter.Int64Counter(
		"source_agent_snapshots_total",
		metric.WithDescription("Snapshots pushed to broadcast sinks"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return nil, err
	}

	return &BroadcastMetrics{
		clients:   clients,
		snapshots: snapshots,
	}, nil
}

// ClientConnected adjusts the connected client count by delta
func (m *BroadcastMetrics) ClientConnected(ctx context.Context, delta int64) {
	if m == nil || m.clients == nil {
		return
	}

	m.clients.Add(ctx, delta)
}

// RecordSnapshot records a snapshot pushed to the named sink
func (m *BroadcastMetrics) RecordSnapshot(ctx context.Context, sink string) {
	if m == nil || m.snapshots == nil {
		return
	}

	m.snapshots.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}
