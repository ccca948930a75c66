package httpengine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/headerkit/source-agent/internal/httpclient"
	"github.com/headerkit/source-agent/internal/httpclient/mocks"
	"github.com/headerkit/source-agent/internal/source"
)

type recordingSink struct {
	mu        sync.Mutex
	contents  map[string]string
	originals map[string]*string
	last      map[string]*time.Time
	next      map[string]*time.Time
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		contents:  make(map[string]string),
		originals: make(map[string]*string),
		last:      make(map[string]*time.Time),
		next:      make(map[string]*time.Time),
	}
}

func (s *recordingSink) UpdateContent(id, content string, originalResponse *string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents[id] = content
	s.originals[id] = originalResponse
	return true
}

func (s *recordingSink) UpdateRefreshTimes(id string, last, next *time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[id] = last
	s.next[id] = next
	return true
}

func (s *recordingSink) content(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contents[id]
}

func (s *recordingSink) original(id string) *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.originals[id]
}

func (s *recordingSink) times(id string) (*time.Time, *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[id], s.next[id]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TransientRetries = 0
	cfg.MaxRetries = 0
	cfg.RetryJitter = 0
	cfg.Breaker = testBreakerConfig()
	return cfg
}

func newCountingServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)
	return server, &hits
}

func httpDescriptor(id, url string) source.Descriptor {
	return source.Descriptor{ID: id, Type: source.TypeHTTP, Path: url, Method: "GET"}
}

func TestEngine_WatchFetchNowAppliesFilter(t *testing.T) {
	t.Parallel()

	server, _ := newCountingServer(t, http.StatusOK, `{"data":{"token":"abc"}}`)
	clock := newFakeClock()
	sink := newRecordingSink()
	e := New(sink, testConfig(), WithClock(clock.Now))
	defer e.Dispose()

	desc := httpDescriptor("1", server.URL+"/token")
	desc.JSONFilter = source.JSONFilter{Enabled: true, Path: "data.token"}
	desc.RefreshOptions.Interval = 5

	require.NoError(t, e.Watch(context.Background(), desc, source.WatchOptions{FetchNow: true}))

	assert.Equal(t, "abc", sink.content("1"))
	require.NotNil(t, sink.original("1"))
	assert.Equal(t, `{"data":{"token":"abc"}}`, *sink.original("1"))

	last, next := sink.times("1")
	require.NotNil(t, last)
	require.NotNil(t, next)
	assert.Equal(t, clock.Now(), *last)
	assert.Equal(t, clock.Now().Add(5*time.Minute), *next)

	_, armed := e.sched.Due("1")
	assert.True(t, armed)
}

func TestEngine_WatchArmsWhenCallerGivesUp(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = io.WriteString(w, "ok")
	}))
	t.Cleanup(server.Close)
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	clock := newFakeClock()
	sink := newRecordingSink()
	e := New(sink, testConfig(), WithClock(clock.Now))
	defer e.Dispose()

	desc := httpDescriptor("1", server.URL)
	desc.RefreshOptions.Interval = 1

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := e.Watch(ctx, desc, source.WatchOptions{FetchNow: true})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	due, armed := e.sched.Due("1")
	require.True(t, armed)
	assert.False(t, due.IsZero())

	last, next := sink.times("1")
	require.NotNil(t, last)
	require.NotNil(t, next)
	assert.Equal(t, clock.Now(), *last)
	assert.Equal(t, clock.Now().Add(time.Minute), *next)

	unblock()
	assert.Eventually(t, func() bool { return sink.content("1") == "ok" }, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_WatchRejectsOtherTypes(t *testing.T) {
	t.Parallel()

	e := New(newRecordingSink(), testConfig())
	defer e.Dispose()

	err := e.Watch(context.Background(), source.Descriptor{ID: "1", Type: source.TypeFile, Path: "/tmp/x"}, source.WatchOptions{})
	assert.Error(t, err)
}

func TestEngine_FailureWritesErrorContent(t *testing.T) {
	t.Parallel()

	server, _ := newCountingServer(t, http.StatusInternalServerError, "boom")
	sink := newRecordingSink()
	cfg := testConfig()
	cfg.MaxRetries = 3
	cfg.RetryBaseDelay = time.Hour
	e := New(sink, cfg)
	defer e.Dispose()

	require.NoError(t, e.Watch(context.Background(), httpDescriptor("1", server.URL), source.WatchOptions{FetchNow: true}))

	assert.Contains(t, sink.content("1"), "Error: HTTP 500")
	assert.Contains(t, sink.content("1"), "boom")
	assert.Nil(t, sink.original("1"))

	_, retrying := e.sched.Due("1" + retryKeySuffix)
	assert.True(t, retrying)
}

func TestEngine_TemplateErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	sink := newRecordingSink()
	cfg := testConfig()
	cfg.MaxRetries = 3
	e := New(sink, cfg)
	defer e.Dispose()

	desc := httpDescriptor("1", "https://api.example.com/?otp=_TOTP_CODE")
	require.NoError(t, e.Watch(context.Background(), desc, source.WatchOptions{FetchNow: true}))

	assert.Contains(t, sink.content("1"), "no TOTP secret is configured")
	_, retrying := e.sched.Due("1" + retryKeySuffix)
	assert.False(t, retrying)
}

func TestEngine_BreakerShortCircuitsAndProbesOnce(t *testing.T) {
	t.Parallel()

	server, hits := newCountingServer(t, http.StatusServiceUnavailable, "down")
	clock := newFakeClock()
	sink := newRecordingSink()
	e := New(sink, testConfig(), WithClock(clock.Now))
	defer e.Dispose()

	ctx := context.Background()
	require.NoError(t, e.Watch(ctx, httpDescriptor("1", server.URL+"/data"), source.WatchOptions{}))

	for range 3 {
		require.NoError(t, e.Refresh(ctx, "1"))
	}
	assert.Equal(t, int32(3), hits.Load())

	require.NoError(t, e.Refresh(ctx, "1"))
	assert.Equal(t, int32(3), hits.Load(), "fourth call must not reach the server")
	assert.Contains(t, sink.content("1"), "circuit breaker open")

	clock.Advance(31 * time.Second)
	require.NoError(t, e.Refresh(ctx, "1"))
	require.NoError(t, e.Refresh(ctx, "1"))
	assert.Equal(t, int32(4), hits.Load(), "exactly one probe after the open timeout")
	assert.Equal(t, StateOpen, e.Breakers().Get(EndpointKey("GET", server.URL+"/data")).State)
}

func TestEngine_TransientErrorsRetryImmediately(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	gomock.InOrder(
		client.EXPECT().Do(gomock.Any(), gomock.Any()).Return(nil, io.EOF),
		client.EXPECT().Do(gomock.Any(), gomock.Any()).Return(nil, io.ErrUnexpectedEOF),
		client.EXPECT().Do(gomock.Any(), gomock.Any()).Return(&httpclient.Response{StatusCode: 200, Body: []byte("ok")}, nil),
	)

	sink := newRecordingSink()
	cfg := testConfig()
	cfg.TransientRetries = 2
	e := New(sink, cfg, WithClient(client))
	defer e.Dispose()

	require.NoError(t, e.Watch(context.Background(), httpDescriptor("1", "https://api.example.com/"), source.WatchOptions{FetchNow: true}))
	assert.Equal(t, "ok", sink.content("1"))
	assert.Equal(t, StateClosed, e.Breakers().Get("GET https://api.example.com/").State)
}

func TestEngine_HTTPErrorsAreNotRetriedImmediately(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().Do(gomock.Any(), gomock.Any()).
		Return(nil, httpclient.NewHTTPError(http.StatusBadGateway, "https://api.example.com/", "bad gateway")).
		Times(1)

	sink := newRecordingSink()
	cfg := testConfig()
	cfg.TransientRetries = 2
	e := New(sink, cfg, WithClient(client))
	defer e.Dispose()

	require.NoError(t, e.Watch(context.Background(), httpDescriptor("1", "https://api.example.com/"), source.WatchOptions{FetchNow: true}))
	assert.Contains(t, sink.content("1"), "HTTP 502")
}

func TestEngine_Arm(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	past := clock.Now().Add(-time.Hour)
	future := clock.Now().Add(3 * time.Minute)

	tests := []struct {
		name      string
		refresh   source.RefreshOptions
		wantArmed bool
		wantDelay time.Duration
	}{
		{name: "manual only", refresh: source.RefreshOptions{Interval: 0}, wantArmed: false},
		{name: "fresh schedule", refresh: source.RefreshOptions{Interval: 10}, wantArmed: true, wantDelay: 10 * time.Minute},
		{name: "resumes persisted schedule", refresh: source.RefreshOptions{Interval: 10, NextRefresh: &future}, wantArmed: true, wantDelay: 3 * time.Minute},
		{name: "elapsed schedule fires soon", refresh: source.RefreshOptions{Interval: 10, NextRefresh: &past}, wantArmed: true, wantDelay: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := New(newRecordingSink(), testConfig(), WithClock(clock.Now))
			defer e.Dispose()

			desc := httpDescriptor("1", "https://api.example.com/")
			desc.RefreshOptions = tt.refresh
			before := time.Now()
			require.NoError(t, e.Watch(context.Background(), desc, source.WatchOptions{}))

			due, armed := e.sched.Due("1")
			assert.Equal(t, tt.wantArmed, armed)
			if armed {
				assert.WithinDuration(t, before.Add(tt.wantDelay), due, time.Second)
			}
		})
	}
}

func TestEngine_FreshScheduleWritesNextRefresh(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sink := newRecordingSink()
	e := New(sink, testConfig(), WithClock(clock.Now))
	defer e.Dispose()

	desc := httpDescriptor("1", "https://api.example.com/")
	desc.RefreshOptions.Interval = 2
	require.NoError(t, e.Watch(context.Background(), desc, source.WatchOptions{}))

	last, next := sink.times("1")
	assert.Nil(t, last)
	require.NotNil(t, next)
	assert.Equal(t, clock.Now().Add(2*time.Minute), *next)
}

func TestEngine_TickAnchorsScheduleAndFetches(t *testing.T) {
	t.Parallel()

	server, hits := newCountingServer(t, http.StatusOK, "v1")
	clock := newFakeClock()
	sink := newRecordingSink()
	e := New(sink, testConfig(), WithClock(clock.Now))
	defer e.Dispose()

	desc := httpDescriptor("1", server.URL)
	desc.RefreshOptions.Interval = 1
	require.NoError(t, e.Watch(context.Background(), desc, source.WatchOptions{}))

	clock.Advance(time.Minute)
	e.tick("1")

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "v1", sink.content("1"))
	last, next := sink.times("1")
	require.NotNil(t, last)
	require.NotNil(t, next)
	assert.Equal(t, clock.Now(), *last)
	assert.Equal(t, clock.Now().Add(time.Minute), *next)
}

func TestEngine_ManualRefreshKeepsTimestamps(t *testing.T) {
	t.Parallel()

	server, _ := newCountingServer(t, http.StatusOK, "v2")
	sink := newRecordingSink()
	e := New(sink, testConfig())
	defer e.Dispose()

	require.NoError(t, e.Watch(context.Background(), httpDescriptor("1", server.URL), source.WatchOptions{}))
	require.NoError(t, e.Refresh(context.Background(), "1"))

	assert.Equal(t, "v2", sink.content("1"))
	last, next := sink.times("1")
	assert.Nil(t, last)
	assert.Nil(t, next)
}

func TestEngine_RefreshUnknown(t *testing.T) {
	t.Parallel()

	e := New(newRecordingSink(), testConfig())
	defer e.Dispose()

	assert.ErrorIs(t, e.Refresh(context.Background(), "nope"), source.ErrNotFound)
}

func TestEngine_UnwatchCancelsTimers(t *testing.T) {
	t.Parallel()

	e := New(newRecordingSink(), testConfig())
	defer e.Dispose()

	desc := httpDescriptor("1", "https://api.example.com/")
	desc.RefreshOptions.Interval = 1
	require.NoError(t, e.Watch(context.Background(), desc, source.WatchOptions{}))
	require.Equal(t, 1, e.sched.Len())

	e.Unwatch("1")
	assert.Equal(t, 0, e.sched.Len())
	assert.ErrorIs(t, e.Refresh(context.Background(), "1"), source.ErrNotFound)
}

func TestEngine_Test(t *testing.T) {
	t.Parallel()

	okServer, _ := newCountingServer(t, http.StatusOK, `{"items":[1,2,3]}`)
	missing, _ := newCountingServer(t, http.StatusNotFound, "")

	e := New(newRecordingSink(), testConfig())
	defer e.Dispose()
	ctx := context.Background()

	res, err := e.Test(ctx, source.CreateRequest{
		Path:       okServer.URL,
		JSONFilter: source.JSONFilter{Enabled: true, Path: "items[2]"},
	})
	require.NoError(t, err)
	assert.Equal(t, "3", res.Content)
	assert.Equal(t, `{"items":[1,2,3]}`, res.OriginalResponse)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, res.Error)

	res, err = e.Test(ctx, source.CreateRequest{Path: missing.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Contains(t, res.Error, "HTTP 404")

	_, err = e.Test(ctx, source.CreateRequest{Path: "ftp://example.com"})
	assert.ErrorIs(t, err, source.ErrValidation)
}
