// Package config provides configuration loading and management for the source agent.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides (SOURCE_AGENT_*)
const EnvPrefix = "SOURCE_AGENT"

const (
	// DefaultDataDir is where the sources file and lock files live
	DefaultDataDir = "./data"

	// DefaultSourcesFile is the backing file name inside the data directory
	DefaultSourcesFile = "sources.json"

	// DefaultWebSocketAddress is the fixed local address of the network channel
	DefaultWebSocketAddress = "127.0.0.1:59210"

	// DefaultControlAddress is the local address of the control API
	DefaultControlAddress = "127.0.0.1:59211"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks; this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// DataDir holds the sources file, lock files and the instance lock
	DataDir string `yaml:"dataDir,omitempty"`

	// SourcesFile is the backing file name, relative to DataDir unless absolute
	SourcesFile string `yaml:"sourcesFile,omitempty"`

	WebSocket   WebSocketConfig   `yaml:"websocket,omitempty"`
	Control     ControlConfig     `yaml:"control,omitempty"`
	HTTP        HTTPConfig        `yaml:"http,omitempty"`
	Persistence PersistenceConfig `yaml:"persistence,omitempty"`
	Registry    RegistryConfig    `yaml:"registry,omitempty"`
	File        FileConfig        `yaml:"file,omitempty"`
	Env         EnvConfig         `yaml:"env,omitempty"`
	Telemetry   TelemetryConfig   `yaml:"telemetry,omitempty"`
}

// WebSocketConfig configures the network broadcast channel
type WebSocketConfig struct {
	// Address is host:port; the port is fixed so external clients can find it
	Address string `yaml:"address,omitempty"`

	// BindRetryDelay is the wait before the single bind retry
	BindRetryDelay string `yaml:"bindRetryDelay,omitempty"`

	// WriteTimeout bounds a single message write to a client
	WriteTimeout string `yaml:"writeTimeout,omitempty"`
}

// ControlConfig configures the local control API used by the UI shell
type ControlConfig struct {
	Address string `yaml:"address,omitempty"`
}

// HTTPConfig configures the HTTP polling engine
type HTTPConfig struct {
	// Timeout is the per-request timeout
	Timeout string `yaml:"timeout,omitempty"`

	// TransientRetries is the number of immediate retries on connection reset/timeout
	TransientRetries *int `yaml:"transientRetries,omitempty"`

	Retry   RetryConfig   `yaml:"retry,omitempty"`
	Breaker BreakerConfig `yaml:"breaker,omitempty"`
}

// RetryConfig configures the pre-breaker retry delay
type RetryConfig struct {
	// BaseDelay is the minimum delay before a failed fetch is retried
	BaseDelay string `yaml:"baseDelay,omitempty"`

	// Jitter is the maximum random delay added to BaseDelay
	Jitter string `yaml:"jitter,omitempty"`
}

// BreakerConfig configures the per-endpoint circuit breaker
type BreakerConfig struct {
	FailureThreshold int    `yaml:"failureThreshold,omitempty"`
	BaseTimeout      string `yaml:"baseTimeout,omitempty"`
	MaxTimeout       string `yaml:"maxTimeout,omitempty"`
	HalfOpenProbes   int    `yaml:"halfOpenProbes,omitempty"`
}

// PersistenceConfig configures atomic writes and lock files
type PersistenceConfig struct {
	MaxRetries       int    `yaml:"maxRetries,omitempty"`
	MaxBackoff       string `yaml:"maxBackoff,omitempty"`
	LockTimeout      string `yaml:"lockTimeout,omitempty"`
	LockPollInterval string `yaml:"lockPollInterval,omitempty"`
	StaleLockAge     string `yaml:"staleLockAge,omitempty"`
}

// RegistryConfig configures the orchestrator
type RegistryConfig struct {
	// DedupeWindow suppresses identical-length content updates for the same source
	DedupeWindow string `yaml:"dedupeWindow,omitempty"`
}

// FileConfig configures the file reader
type FileConfig struct {
	Debounce string `yaml:"debounce,omitempty"`
}

// EnvConfig configures the env reader
type EnvConfig struct {
	// Files are dotenv files consulted when a variable is not in the process environment
	Files []string `yaml:"files,omitempty"`

	// PollInterval re-reads env sources periodically; empty disables polling
	PollInterval string `yaml:"pollInterval,omitempty"`
}

// TelemetryConfig configures metrics
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// MetricsConfig enables the Prometheus metrics endpoint
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads and parses configuration from a YAML file.
// Without a path the defaults are returned.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.SourcesFile == "" {
		c.SourcesFile = DefaultSourcesFile
	}
	if c.WebSocket.Address == "" {
		c.WebSocket.Address = DefaultWebSocketAddress
	}
	if c.Control.Address == "" {
		c.Control.Address = DefaultControlAddress
	}
	if c.HTTP.Breaker.FailureThreshold == 0 {
		c.HTTP.Breaker.FailureThreshold = 3
	}
	if c.HTTP.Breaker.HalfOpenProbes == 0 {
		c.HTTP.Breaker.HalfOpenProbes = 3
	}
	if c.Persistence.MaxRetries == 0 {
		c.Persistence.MaxRetries = 5
	}
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	for _, addr := range []struct{ name, value string }{
		{"websocket.address", c.WebSocket.Address},
		{"control.address", c.Control.Address},
	} {
		if _, _, err := net.SplitHostPort(addr.value); err != nil {
			return fmt.Errorf("%s must be host:port: %w", addr.name, err)
		}
	}

	durations := map[string]string{
		"websocket.bindRetryDelay":     c.WebSocket.BindRetryDelay,
		"websocket.writeTimeout":       c.WebSocket.WriteTimeout,
		"http.timeout":                 c.HTTP.Timeout,
		"http.retry.baseDelay":         c.HTTP.Retry.BaseDelay,
		"http.retry.jitter":            c.HTTP.Retry.Jitter,
		"http.breaker.baseTimeout":     c.HTTP.Breaker.BaseTimeout,
		"http.breaker.maxTimeout":      c.HTTP.Breaker.MaxTimeout,
		"persistence.maxBackoff":       c.Persistence.MaxBackoff,
		"persistence.lockTimeout":      c.Persistence.LockTimeout,
		"persistence.lockPollInterval": c.Persistence.LockPollInterval,
		"persistence.staleLockAge":     c.Persistence.StaleLockAge,
		"registry.dedupeWindow":        c.Registry.DedupeWindow,
		"file.debounce":                c.File.Debounce,
		"env.pollInterval":             c.Env.PollInterval,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s must be a valid duration (e.g., '30s', '1h'): %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	if c.HTTP.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("http.breaker.failureThreshold must be at least 1")
	}
	if c.HTTP.Breaker.HalfOpenProbes < 1 {
		return fmt.Errorf("http.breaker.halfOpenProbes must be at least 1")
	}
	if c.HTTP.TransientRetries != nil && *c.HTTP.TransientRetries < 0 {
		return fmt.Errorf("http.transientRetries must not be negative")
	}
	if c.Persistence.MaxRetries < 0 {
		return fmt.Errorf("persistence.maxRetries must not be negative")
	}

	return nil
}

// SourcesPath returns the absolute or data-dir-relative path of the backing file
func (c *Config) SourcesPath() string {
	if filepath.IsAbs(c.SourcesFile) {
		return c.SourcesFile
	}
	return filepath.Join(c.DataDir, c.SourcesFile)
}

// GetTransientRetries returns the configured immediate retry count, default 2
func (h *HTTPConfig) GetTransientRetries() int {
	if h.TransientRetries == nil {
		return 2
	}
	return *h.TransientRetries
}

// ParseDurationOr parses value, falling back to def when empty or invalid
func ParseDurationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration, using default", "value", value, "default", def)
		return def
	}
	return d
}
