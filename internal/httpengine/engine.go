// Package httpengine implements the HTTP polling engine: request templating
// with variables and TOTP codes, JSON path filtering, interval scheduling,
// retries and per-endpoint circuit breaking.
package httpengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/headerkit/source-agent/internal/httpclient"
	"github.com/headerkit/source-agent/internal/source"
	"github.com/headerkit/source-agent/internal/telemetry"
)

// ErrBuildRequest wraps failures to render a request (bad template, missing TOTP secret)
var ErrBuildRequest = errors.New("cannot build request")

const retryKeySuffix = "#retry"

// Config configures the engine
type Config struct {
	// Timeout is the per-request timeout used by the default client
	Timeout time.Duration

	// TransientRetries is the number of immediate retries on reset/timeout/EOF
	TransientRetries int

	// MaxRetries is the number of delayed retries before the next scheduled run
	MaxRetries int

	// RetryBaseDelay and RetryJitter give a delay in [base, base+jitter)
	RetryBaseDelay time.Duration
	RetryJitter    time.Duration

	// ElapsedDelay is the delay used when a persisted nextRefresh already passed
	ElapsedDelay time.Duration

	Breaker BreakerConfig
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		Timeout:          httpclient.DefaultTimeout,
		TransientRetries: 2,
		MaxRetries:       3,
		RetryBaseDelay:   5 * time.Second,
		RetryJitter:      5 * time.Second,
		ElapsedDelay:     time.Second,
		Breaker:          DefaultBreakerConfig(),
	}
}

// FetchResult is the outcome of a successful fetch
type FetchResult struct {
	// Content is the filtered body, or the raw body when no filter is enabled
	Content string

	// OriginalResponse is always the raw body
	OriginalResponse string

	StatusCode int
}

// TestResult is the outcome of a one-off test request
type TestResult struct {
	Content          string `json:"content"`
	OriginalResponse string `json:"originalResponse"`
	StatusCode       int    `json:"statusCode,omitempty"`
	Error            string `json:"error,omitempty"`
	DurationMs       int64  `json:"durationMs"`
}

// Engine polls HTTP sources and writes results back through a source.Sink
type Engine struct {
	sink     source.Sink
	cfg      Config
	client   httpclient.Client
	breakers *Breakers
	sched    *Scheduler
	now      func() time.Time
	metrics  *telemetry.FetchMetrics
	group    singleflight.Group

	mu       sync.Mutex
	watched  map[string]source.Descriptor
	failures map[string]int

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures an Engine
type Option func(*Engine)

// WithClient replaces the HTTP client
func WithClient(c httpclient.Client) Option {
	return func(e *Engine) {
		e.client = c
	}
}

// WithClock replaces the time source used for templating, schedules and breakers
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMetrics records fetch and breaker metrics
func WithMetrics(m *telemetry.FetchMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an engine writing into sink
func New(sink source.Sink, cfg Config, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		sink:     sink,
		cfg:      cfg,
		sched:    NewScheduler(),
		now:      time.Now,
		watched:  make(map[string]source.Descriptor),
		failures: make(map[string]int),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = httpclient.NewDefaultClient(cfg.Timeout)
	}
	e.breakers = NewBreakers(cfg.Breaker, e.now, e.metrics)
	return e
}

// Breakers exposes the per-endpoint breaker state
func (e *Engine) Breakers() *Breakers {
	return e.breakers
}

// Watch registers desc and arms its schedule. With FetchNow the source is
// fetched once before Watch returns. If ctx ends first the fetch keeps
// running under the engine context, and the schedule is still anchored and
// armed before ctx.Err() is returned.
func (e *Engine) Watch(ctx context.Context, desc source.Descriptor, opts source.WatchOptions) error {
	if desc.Type != source.TypeHTTP {
		return fmt.Errorf("http engine cannot watch %q sources", desc.Type)
	}

	e.mu.Lock()
	e.watched[desc.ID] = desc
	e.mu.Unlock()

	var err error
	if opts.FetchNow {
		fetchedAt := e.now()
		err = e.refresh(ctx, desc.ID)
		if interval := desc.RefreshOptions.IntervalDuration(); interval > 0 {
			next := fetchedAt.Add(interval)
			e.setTimes(desc.ID, &fetchedAt, &next)
		}
	}

	e.arm(desc.ID)
	return err
}

// Unwatch cancels every timer for id and forgets it
func (e *Engine) Unwatch(id string) {
	e.sched.Cancel(id)
	e.sched.Cancel(id + retryKeySuffix)

	e.mu.Lock()
	delete(e.watched, id)
	delete(e.failures, id)
	e.mu.Unlock()
}

// Refresh fetches id once off-schedule. Schedule timestamps are left untouched.
func (e *Engine) Refresh(ctx context.Context, id string) error {
	if _, ok := e.descriptor(id); !ok {
		return fmt.Errorf("%w: %s", source.ErrNotFound, id)
	}
	return e.refresh(ctx, id)
}

// Dispose cancels all timers and in-flight fetches
func (e *Engine) Dispose() {
	e.cancel()
	e.sched.Stop()

	e.mu.Lock()
	clear(e.watched)
	clear(e.failures)
	e.mu.Unlock()
}

// Test runs req once through templating and filtering without touching
// schedules or breaker state
func (e *Engine) Test(ctx context.Context, req source.CreateRequest) (*TestResult, error) {
	req.Type = source.TypeHTTP
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	desc := source.Descriptor{
		Type:           req.Type,
		Path:           req.Path,
		Method:         req.Method,
		RequestOptions: req.RequestOptions,
		JSONFilter:     req.JSONFilter,
	}

	start := time.Now()
	res, _, err := e.fetch(ctx, desc, false)
	result := &TestResult{DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		result.Error = err.Error()
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) {
			result.StatusCode = httpErr.StatusCode
		}
		return result, nil
	}

	result.Content = res.Content
	result.OriginalResponse = res.OriginalResponse
	result.StatusCode = res.StatusCode
	return result, nil
}

func (e *Engine) descriptor(id string) (source.Descriptor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.watched[id]
	return d, ok
}

func (e *Engine) setTimes(id string, last, next *time.Time) bool {
	if !e.sink.UpdateRefreshTimes(id, last, next) {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.watched[id]; ok {
		d.RefreshOptions.LastRefresh = last
		d.RefreshOptions.NextRefresh = next
		e.watched[id] = d
	}
	return true
}

// arm schedules the next run of id from its descriptor:
// interval 0 is manual only, a future nextRefresh is resumed, an elapsed one
// fires after ElapsedDelay, and no schedule starts a fresh interval from now.
func (e *Engine) arm(id string) {
	desc, ok := e.descriptor(id)
	if !ok {
		return
	}

	interval := desc.RefreshOptions.IntervalDuration()
	if interval <= 0 {
		e.sched.Cancel(id)
		return
	}

	now := e.now()
	var delay time.Duration
	switch next := desc.RefreshOptions.NextRefresh; {
	case next == nil:
		at := now.Add(interval)
		if !e.setTimes(id, desc.RefreshOptions.LastRefresh, &at) {
			return
		}
		delay = interval
	case next.After(now):
		delay = next.Sub(now)
	default:
		delay = e.cfg.ElapsedDelay
	}

	slog.Debug("Scheduled refresh armed", "source_id", id, "in", delay)
	e.sched.Schedule(id, delay, func() { e.tick(id) })
}

// tick is a scheduled run: record the anchor, arm the next run, then fetch
func (e *Engine) tick(id string) {
	desc, ok := e.descriptor(id)
	if !ok {
		return
	}
	interval := desc.RefreshOptions.IntervalDuration()
	if interval <= 0 {
		return
	}

	fired := e.now()
	next := fired.Add(interval)
	if !e.setTimes(id, &fired, &next) {
		return
	}
	e.sched.Schedule(id, interval, func() { e.tick(id) })

	if err := e.refresh(e.ctx, id); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("Scheduled refresh failed", "source_id", id, "error", err)
	}
}

// refresh coalesces concurrent fetches of the same source
func (e *Engine) refresh(ctx context.Context, id string) error {
	ch := e.group.DoChan(id, func() (any, error) {
		e.run(id)
		return nil, nil
	})

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run fetches id and writes the content, or the failure text, back to the sink
func (e *Engine) run(id string) {
	desc, ok := e.descriptor(id)
	if !ok {
		return
	}

	res, key, err := e.fetch(e.ctx, desc, true)
	if e.ctx.Err() != nil {
		return
	}

	if err == nil {
		e.mu.Lock()
		delete(e.failures, id)
		e.mu.Unlock()
		e.sched.Cancel(id + retryKeySuffix)

		raw := res.OriginalResponse
		e.sink.UpdateContent(id, res.Content, &raw)
		return
	}

	slog.Info("HTTP source fetch failed", "source_id", id, "endpoint", key, "error", err)
	if !e.sink.UpdateContent(id, failureContent(err), nil) {
		return
	}
	e.scheduleRetry(id, key, err)
}

func (e *Engine) scheduleRetry(id, key string, err error) {
	if errors.Is(err, ErrBuildRequest) {
		return
	}

	var delay time.Duration
	var openErr *CircuitOpenError
	switch {
	case errors.As(err, &openErr):
		delay = openErr.RetryAt.Sub(e.now())
	default:
		e.mu.Lock()
		e.failures[id]++
		failures := e.failures[id]
		e.mu.Unlock()

		if snap := e.breakers.Get(key); snap.State == StateOpen {
			delay = snap.RetryAt.Sub(e.now())
			break
		}
		if failures > e.cfg.MaxRetries {
			return
		}
		delay = e.cfg.RetryBaseDelay
		if e.cfg.RetryJitter > 0 {
			delay += rand.N(e.cfg.RetryJitter)
		}
	}

	slog.Debug("Retry scheduled", "source_id", id, "endpoint", key, "in", delay)
	e.sched.Schedule(id+retryKeySuffix, delay, func() {
		if err := e.refresh(e.ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Retry failed", "source_id", id, "error", err)
		}
	})
}

// fetch renders desc, consults the breaker when useBreaker is set, and
// executes the request with immediate retries for transient errors.
func (e *Engine) fetch(ctx context.Context, desc source.Descriptor, useBreaker bool) (*FetchResult, string, error) {
	req, err := BuildRequest(desc, e.now())
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBuildRequest, err)
	}
	key := EndpointKey(req.Method, req.URL)

	var done func(bool)
	if useBreaker {
		done, err = e.breakers.Allow(key)
		if err != nil {
			e.metrics.RecordFetch(ctx, req.Method, telemetry.OutcomeShortCircuit, 0)
			return nil, key, err
		}
	}

	start := time.Now()
	resp, err := e.do(ctx, req)
	if done != nil {
		done(err == nil)
	}
	if err != nil {
		e.metrics.RecordFetch(ctx, req.Method, telemetry.OutcomeFailure, time.Since(start))
		return nil, key, err
	}
	e.metrics.RecordFetch(ctx, req.Method, telemetry.OutcomeSuccess, time.Since(start))

	body := string(resp.Body)
	content := body
	if desc.JSONFilter.Enabled {
		content = ApplyFilter(resp.Body, desc.JSONFilter.Path)
	}

	return &FetchResult{Content: content, OriginalResponse: body, StatusCode: resp.StatusCode}, key, nil
}

// do retries transient failures immediately; these retries are invisible to the breaker
func (e *Engine) do(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	retries := max(e.cfg.TransientRetries, 0)
	return backoff.Retry(ctx, func() (*httpclient.Response, error) {
		resp, err := e.client.Do(ctx, req)
		if err != nil && !httpclient.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	},
		backoff.WithBackOff(&backoff.ZeroBackOff{}),
		backoff.WithMaxTries(uint(retries)+1),
	)
}

func failureContent(err error) string {
	var openErr *CircuitOpenError
	if errors.As(err, &openErr) {
		return fmt.Sprintf("Error: circuit breaker open for %s, next attempt at %s",
			openErr.Endpoint, openErr.RetryAt.UTC().Format(time.RFC3339))
	}
	return "Error: " + err.Error()
}
