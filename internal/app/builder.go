package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/headerkit/source-agent/internal/api"
	"github.com/headerkit/source-agent/internal/broadcast"
	"github.com/headerkit/source-agent/internal/config"
	"github.com/headerkit/source-agent/internal/events"
	"github.com/headerkit/source-agent/internal/httpclient"
	"github.com/headerkit/source-agent/internal/httpengine"
	"github.com/headerkit/source-agent/internal/readers"
	"github.com/headerkit/source-agent/internal/registry"
	"github.com/headerkit/source-agent/internal/source"
	"github.com/headerkit/source-agent/internal/storage"
	"github.com/headerkit/source-agent/internal/telemetry"
	"github.com/headerkit/source-agent/internal/versions"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
	defaultStopTimeout  = 10 * time.Second
	readHeaderTimeout   = 5 * time.Second
	defaultSweepTimeout = 5 * time.Second
)

// AgentOption configures the agent builder
type AgentOption func(*agentConfig) error

type agentConfig struct {
	config *config.Config

	// Optional overrides, primarily for tests and offline commands
	httpClient     httpclient.Client
	controlAddress string
	wsAddress      string
	offline        bool
	middlewares    []func(http.Handler) http.Handler
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) AgentOption {
	return func(cfg *agentConfig) error {
		if c == nil {
			return fmt.Errorf("config cannot be nil")
		}
		cfg.config = c
		return nil
	}
}

// WithHTTPClient replaces the client used by the HTTP polling engine
func WithHTTPClient(c httpclient.Client) AgentOption {
	return func(cfg *agentConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithControlAddress overrides the control API address
func WithControlAddress(addr string) AgentOption {
	return func(cfg *agentConfig) error {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid control address %q: %w", addr, err)
		}
		cfg.controlAddress = addr
		return nil
	}
}

// WithWebSocketAddress overrides the WebSocket address
func WithWebSocketAddress(addr string) AgentOption {
	return func(cfg *agentConfig) error {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid websocket address %q: %w", addr, err)
		}
		cfg.wsAddress = addr
		return nil
	}
}

// WithOffline builds an agent without network listeners, for one-shot
// commands such as export and import
func WithOffline() AgentOption {
	return func(cfg *agentConfig) error {
		cfg.offline = true
		return nil
	}
}

// WithMiddlewares adds middleware to the control API
func WithMiddlewares(mw ...func(http.Handler) http.Handler) AgentOption {
	return func(cfg *agentConfig) error {
		cfg.middlewares = append(cfg.middlewares, mw...)
		return nil
	}
}

func baseConfig(opts ...AgentOption) (*agentConfig, error) {
	cfg := &agentConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.config == nil {
		cfg.config = config.Default()
	}
	if cfg.controlAddress == "" {
		cfg.controlAddress = cfg.config.Control.Address
	}
	if cfg.wsAddress == "" {
		cfg.wsAddress = cfg.config.WebSocket.Address
	}
	return cfg, nil
}

// NewSourceAgent builds every component and loads the persisted sources.
// Network listeners are bound by Run, not here.
func NewSourceAgent(ctx context.Context, opts ...AgentOption) (*SourceAgent, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	c := cfg.config

	tel, err := telemetry.New(ctx,
		telemetry.WithMetricsEnabled(c.Telemetry.Metrics.Enabled && !cfg.offline),
		telemetry.WithServiceVersion(versions.GetVersionInfo().Version),
	)
	if err != nil {
		return nil, err
	}

	components := &Components{Telemetry: tel, Bus: events.NewBus()}

	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			components.close(context.WithoutCancel(ctx))
		}
	}()

	if err := buildStorage(ctx, cfg, components); err != nil {
		return nil, fmt.Errorf("failed to build storage: %w", err)
	}
	if err := buildRegistry(cfg, components); err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}
	if err := buildBroadcast(cfg, components); err != nil {
		return nil, fmt.Errorf("failed to build broadcast: %w", err)
	}

	if err := components.Registry.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}

	var httpServer *http.Server
	if !cfg.offline {
		httpServer, err = buildControlServer(cfg, components)
		if err != nil {
			return nil, fmt.Errorf("failed to build control server: %w", err)
		}
	}

	cleanupNeeded = false
	return &SourceAgent{
		config:     c,
		components: components,
		httpServer: httpServer,
		ready:      make(chan struct{}),
	}, nil
}

func buildStorage(ctx context.Context, cfg *agentConfig, components *Components) error {
	c := cfg.config

	persistenceMetrics, err := telemetry.NewPersistenceMetrics(components.Telemetry.MeterProvider())
	if err != nil {
		return err
	}

	opts := storage.Options{
		MaxRetries:       c.Persistence.MaxRetries,
		MaxBackoff:       config.ParseDurationOr(c.Persistence.MaxBackoff, storage.DefaultMaxBackoff),
		LockTimeout:      config.ParseDurationOr(c.Persistence.LockTimeout, storage.DefaultLockTimeout),
		LockPollInterval: config.ParseDurationOr(c.Persistence.LockPollInterval, storage.DefaultLockPollInterval),
		StaleLockAge:     config.ParseDurationOr(c.Persistence.StaleLockAge, storage.DefaultStaleLockAge),
	}
	components.Writer = storage.NewAtomicWriter(opts, storage.WithMetrics(persistenceMetrics))
	components.InstanceLock = storage.AcquireInstanceLock(c.DataDir)

	// Locks left by a crashed process must be gone before the first write
	select {
	case <-storage.StartStaleLockSweep(c.DataDir, components.Writer.Options().StaleLockAge):
	case <-time.After(defaultSweepTimeout):
		slog.Warn("Stale lock sweep still running, continuing startup", "dir", c.DataDir)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func buildRegistry(cfg *agentConfig, components *Components) error {
	c := cfg.config
	provider := components.Telemetry.MeterProvider()

	store := storage.NewFileSourceStore(c.SourcesPath(), components.Writer)

	fetchMetrics, err := telemetry.NewFetchMetrics(provider)
	if err != nil {
		return err
	}

	// The registry is the sink of every engine, so engines are attached after it exists
	var tester lateTester
	reg, err := registry.New(store, components.Writer,
		registry.WithEventBus(components.Bus),
		registry.WithHTTPTester(&tester),
		registry.WithDedupeWindow(config.ParseDurationOr(c.Registry.DedupeWindow, registry.DefaultDedupeWindow)),
	)
	if err != nil {
		return err
	}
	components.Registry = reg

	engineOpts := []httpengine.Option{httpengine.WithMetrics(fetchMetrics)}
	if cfg.httpClient != nil {
		engineOpts = append(engineOpts, httpengine.WithClient(cfg.httpClient))
	}
	components.HTTPEngine = httpengine.New(reg, engineConfig(c), engineOpts...)
	tester.engine = components.HTTPEngine
	reg.RegisterEngine(source.TypeHTTP, components.HTTPEngine)

	fileReader, err := readers.NewFileReader(reg,
		readers.WithDebounce(config.ParseDurationOr(c.File.Debounce, readers.DefaultDebounce)))
	if err != nil {
		return err
	}
	components.FileReader = fileReader
	reg.RegisterEngine(source.TypeFile, fileReader)

	components.EnvReader = readers.NewEnvReader(reg,
		readers.WithDotenvFiles(c.Env.Files...),
		readers.WithPollInterval(config.ParseDurationOr(c.Env.PollInterval, 0)),
	)
	reg.RegisterEngine(source.TypeEnv, components.EnvReader)

	return nil
}

func engineConfig(c *config.Config) httpengine.Config {
	d := httpengine.DefaultConfig()
	return httpengine.Config{
		Timeout:          config.ParseDurationOr(c.HTTP.Timeout, d.Timeout),
		TransientRetries: c.HTTP.GetTransientRetries(),
		MaxRetries:       d.MaxRetries,
		RetryBaseDelay:   config.ParseDurationOr(c.HTTP.Retry.BaseDelay, d.RetryBaseDelay),
		RetryJitter:      config.ParseDurationOr(c.HTTP.Retry.Jitter, d.RetryJitter),
		ElapsedDelay:     d.ElapsedDelay,
		Breaker: httpengine.BreakerConfig{
			FailureThreshold: c.HTTP.Breaker.FailureThreshold,
			BaseTimeout:      config.ParseDurationOr(c.HTTP.Breaker.BaseTimeout, d.Breaker.BaseTimeout),
			MaxTimeout:       config.ParseDurationOr(c.HTTP.Breaker.MaxTimeout, d.Breaker.MaxTimeout),
			HalfOpenProbes:   c.HTTP.Breaker.HalfOpenProbes,
			Jitter:           d.Breaker.Jitter,
		},
	}
}

func buildBroadcast(cfg *agentConfig, components *Components) error {
	c := cfg.config

	broadcastMetrics, err := telemetry.NewBroadcastMetrics(components.Telemetry.MeterProvider())
	if err != nil {
		return err
	}

	components.Local = broadcast.NewLocalChannel()
	sinks := []broadcast.Sink{components.Local}

	if !cfg.offline {
		components.WebSocket = broadcast.NewWSServer(nil,
			broadcast.WithAddress(cfg.wsAddress),
			broadcast.WithBindRetryDelay(config.ParseDurationOr(c.WebSocket.BindRetryDelay, broadcast.DefaultBindRetryDelay)),
			broadcast.WithWriteTimeout(config.ParseDurationOr(c.WebSocket.WriteTimeout, broadcast.DefaultWriteTimeout)),
			broadcast.WithWSMetrics(broadcastMetrics),
		)
		sinks = append(sinks, components.WebSocket)
	}

	components.Broadcaster = broadcast.New(components.Bus, components.Registry.Sources, sinks,
		broadcast.WithMetrics(broadcastMetrics))
	return nil
}

func buildControlServer(cfg *agentConfig, components *Components) (*http.Server, error) {
	controlMetrics, err := telemetry.NewControlMetrics(components.Telemetry.MeterProvider())
	if err != nil {
		return nil, err
	}

	middlewares := append([]func(http.Handler) http.Handler{
		controlMetrics.Middleware,
		api.LoggingMiddleware,
	}, cfg.middlewares...)

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(middlewares...),
		api.WithEventBus(components.Bus),
		api.WithLocalChannel(components.Local),
	}
	if h := components.Telemetry.MetricsHandler(); h != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(h))
	}

	router := api.NewServer(components.Registry, serverOpts...)

	// No WriteTimeout: /v1/events streams for the life of the client
	return &http.Server{
		Addr:              cfg.controlAddress,
		Handler:           router,
		ReadTimeout:       defaultReadTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}, nil
}

// lateTester forwards to the HTTP engine once it exists
type lateTester struct {
	engine *httpengine.Engine
}

func (l *lateTester) Test(ctx context.Context, req source.CreateRequest) (*httpengine.TestResult, error) {
	if l.engine == nil {
		return nil, registry.ErrNoTester
	}
	return l.engine.Test(ctx, req)
}

// close releases everything built so far, in reverse dependency order
func (c *Components) close(ctx context.Context) {
	if c.Registry != nil {
		c.Registry.Close()
	} else {
		if c.FileReader != nil {
			c.FileReader.Dispose()
		}
		if c.HTTPEngine != nil {
			c.HTTPEngine.Dispose()
		}
	}
	if c.WebSocket != nil {
		if err := c.WebSocket.Shutdown(ctx); err != nil {
			slog.Warn("WebSocket shutdown failed", "error", err)
		}
	}
	if c.Bus != nil {
		c.Bus.Close()
	}
	if c.InstanceLock != nil {
		if err := c.InstanceLock.Release(); err != nil {
			slog.Warn("Failed to release instance lock", "error", err)
		}
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Shutdown(ctx); err != nil {
			slog.Warn("Telemetry shutdown failed", "error", err)
		}
	}
}
