package httpengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/headerkit/source-agent/internal/telemetry"
)

// State is a circuit breaker state
type State int

const (
	// StateClosed admits every call and counts consecutive failures
	StateClosed State = iota

	// StateOpen short-circuits calls until the open timeout elapses
	StateOpen

	// StateHalfOpen admits a bounded number of probe calls
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is matched by every short-circuited call
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError reports a short-circuited call and when the next probe is allowed
type CircuitOpenError struct {
	Endpoint string
	RetryAt  time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open for %s until %s", e.Endpoint, e.RetryAt.UTC().Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrCircuitOpen) succeed
func (*CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// BreakerConfig configures every per-endpoint breaker
type BreakerConfig struct {
	FailureThreshold int
	BaseTimeout      time.Duration
	MaxTimeout       time.Duration
	HalfOpenProbes   int

	// Jitter is the randomization factor applied to open timeouts (0.1 = ±10%)
	Jitter float64
}

// DefaultBreakerConfig returns the default breaker settings
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		BaseTimeout:      30 * time.Second,
		MaxTimeout:       time.Hour,
		HalfOpenProbes:   3,
		Jitter:           0.1,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.BaseTimeout <= 0 {
		c.BaseTimeout = d.BaseTimeout
	}
	if c.MaxTimeout < c.BaseTimeout {
		c.MaxTimeout = max(d.MaxTimeout, c.BaseTimeout)
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = d.HalfOpenProbes
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// EndpointKey identifies an endpoint by method, scheme, host and path.
// Query strings are excluded so rotating codes do not split the state.
func EndpointKey(method, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToUpper(method) + " " + rawURL
	}
	return fmt.Sprintf("%s %s://%s%s", strings.ToUpper(method), u.Scheme, strings.ToLower(u.Host), u.Path)
}

type breaker struct {
	state      State
	failures   int
	retryAt    time.Time
	inflight   int
	generation uint64
	timeouts   *backoff.ExponentialBackOff
}

// Breakers holds independent breaker state per endpoint key
type Breakers struct {
	mu      sync.Mutex
	cfg     BreakerConfig
	now     func() time.Time
	entries map[string]*breaker
	metrics *telemetry.FetchMetrics
}

// NewBreakers creates an empty breaker set
func NewBreakers(cfg BreakerConfig, now func() time.Time, metrics *telemetry.FetchMetrics) *Breakers {
	if now == nil {
		now = time.Now
	}
	return &Breakers{
		cfg:     cfg.withDefaults(),
		now:     now,
		entries: make(map[string]*breaker),
		metrics: metrics,
	}
}

func (b *Breakers) entry(key string) *breaker {
	e, ok := b.entries[key]
	if !ok {
		t := &backoff.ExponentialBackOff{
			InitialInterval:     b.cfg.BaseTimeout,
			RandomizationFactor: b.cfg.Jitter,
			Multiplier:          2,
			MaxInterval:         b.cfg.MaxTimeout,
		}
		t.Reset()
		e = &breaker{state: StateClosed, timeouts: t}
		b.entries[key] = e
	}
	return e
}

// Allow admits a call to key or returns a *CircuitOpenError.
// The returned done func must be called exactly once with the call outcome.
func (b *Breakers) Allow(key string) (done func(success bool), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(key)
	now := b.now()

	if e.state == StateOpen {
		if now.Before(e.retryAt) {
			return nil, &CircuitOpenError{Endpoint: key, RetryAt: e.retryAt}
		}
		b.transition(key, e, StateHalfOpen)
	}

	if e.state == StateHalfOpen {
		if e.inflight >= b.cfg.HalfOpenProbes {
			return nil, &CircuitOpenError{Endpoint: key, RetryAt: e.retryAt}
		}
		e.inflight++
	}

	gen := e.generation
	probe := e.state == StateHalfOpen
	var once sync.Once
	return func(success bool) {
		once.Do(func() { b.record(key, gen, probe, success) })
	}, nil
}

func (b *Breakers) record(key string, gen uint64, probe, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(key)
	if probe && e.generation == gen && e.inflight > 0 {
		e.inflight--
	}
	if e.generation != gen {
		// The breaker changed state while this call was in flight.
		return
	}

	switch {
	case success:
		if e.state != StateClosed {
			e.timeouts.Reset()
			b.transition(key, e, StateClosed)
		}
		e.failures = 0
	case e.state == StateHalfOpen:
		b.open(key, e)
	default:
		e.failures++
		if e.failures >= b.cfg.FailureThreshold {
			b.open(key, e)
		}
	}
}

func (b *Breakers) open(key string, e *breaker) {
	timeout := e.timeouts.NextBackOff()
	if timeout == backoff.Stop || timeout <= 0 {
		timeout = b.cfg.MaxTimeout
	}
	e.retryAt = b.now().Add(timeout)
	b.transition(key, e, StateOpen)
	slog.Warn("Circuit breaker opened", "endpoint", key, "failures", e.failures, "retry_at", e.retryAt)
}

func (b *Breakers) transition(key string, e *breaker, to State) {
	if e.state == to {
		return
	}
	slog.Debug("Circuit breaker transition", "endpoint", key, "from", e.state.String(), "to", to.String())
	e.state = to
	e.generation++
	e.inflight = 0
	if to == StateClosed {
		e.retryAt = time.Time{}
	}
	b.metrics.RecordBreakerTransition(context.Background(), to.String())
}

// Snapshot describes one breaker for diagnostics
type Snapshot struct {
	State    State
	Failures int
	RetryAt  time.Time
}

// Get returns the state of key; unknown endpoints are closed
func (b *Breakers) Get(key string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return Snapshot{State: StateClosed}
	}
	return Snapshot{State: e.state, Failures: e.failures, RetryAt: e.retryAt}
}
