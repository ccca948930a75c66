// Package api provides the local control API of the source agent.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/headerkit/source-agent/internal/api/v1"
	"github.com/headerkit/source-agent/internal/broadcast"
	"github.com/headerkit/source-agent/internal/events"
	"github.com/headerkit/source-agent/internal/registry"
)

// DefaultAddress is the loopback address of the control API
const DefaultAddress = "127.0.0.1:59211"

// DefaultRequestTimeout bounds non-streaming requests
const DefaultRequestTimeout = 60 * time.Second

// ServerOption configures the control API router
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	metricsHandler http.Handler
	bus            *events.Bus
	local          *broadcast.LocalChannel
	requestTimeout time.Duration
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsHandler mounts h on /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// WithEventBus enables the /v1/events notification stream
func WithEventBus(bus *events.Bus) ServerOption {
	return func(cfg *serverConfig) {
		cfg.bus = bus
	}
}

// WithLocalChannel adds list snapshots to the /v1/events stream
func WithLocalChannel(local *broadcast.LocalChannel) ServerOption {
	return func(cfg *serverConfig) {
		cfg.local = local
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(cfg *serverConfig) {
		if d > 0 {
			cfg.requestTimeout = d
		}
	}
}

// NewServer creates the router for the control API
func NewServer(svc registry.Service, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	// The event stream is long lived and must not run under the request timeout
	if cfg.bus != nil {
		r.Get("/v1/events", v1.EventsHandler(cfg.bus, cfg.local))
	}
	if cfg.metricsHandler != nil {
		r.Handle("/metrics", cfg.metricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.requestTimeout))
		r.Mount("/", v1.HealthRouter())
		r.Mount("/v1", v1.Router(svc))
	})

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
