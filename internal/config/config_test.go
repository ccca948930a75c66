package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, DefaultSourcesFile, cfg.SourcesFile)
	assert.Equal(t, DefaultWebSocketAddress, cfg.WebSocket.Address)
	assert.Equal(t, DefaultControlAddress, cfg.Control.Address)
	assert.Equal(t, 3, cfg.HTTP.Breaker.FailureThreshold)
	assert.Equal(t, 3, cfg.HTTP.Breaker.HalfOpenProbes)
	assert.Equal(t, 2, cfg.HTTP.GetTransientRetries())
	assert.Equal(t, 5, cfg.Persistence.MaxRetries)
	assert.Equal(t, filepath.Join(DefaultDataDir, DefaultSourcesFile), cfg.SourcesPath())
}

func TestLoadConfig_FromFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
dataDir: /var/lib/source-agent
sourcesFile: /etc/source-agent/sources.json
websocket:
  address: 127.0.0.1:60000
  bindRetryDelay: 1s
http:
  timeout: 5s
  transientRetries: 0
  retry:
    baseDelay: 2s
    jitter: 1s
  breaker:
    failureThreshold: 5
    baseTimeout: 10s
    maxTimeout: 10m
registry:
  dedupeWindow: 500ms
env:
  files: [".env", ".env.local"]
telemetry:
  metrics:
    enabled: true
`)

	cfg, err := LoadConfig(WithConfigPath(path))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/source-agent", cfg.DataDir)
	assert.Equal(t, "/etc/source-agent/sources.json", cfg.SourcesPath())
	assert.Equal(t, "127.0.0.1:60000", cfg.WebSocket.Address)
	assert.Equal(t, DefaultControlAddress, cfg.Control.Address)
	assert.Equal(t, 0, cfg.HTTP.GetTransientRetries())
	assert.Equal(t, 5, cfg.HTTP.Breaker.FailureThreshold)
	assert.Equal(t, 3, cfg.HTTP.Breaker.HalfOpenProbes)
	assert.Equal(t, []string{".env", ".env.local"}, cfg.Env.Files)
	assert.True(t, cfg.Telemetry.Metrics.Enabled)
	assert.Equal(t, 500*time.Millisecond, ParseDurationOr(cfg.Registry.DedupeWindow, time.Second))
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		content       string
		errorContains string
	}{
		{
			name:          "malformed yaml",
			content:       "websocket: [",
			errorContains: "failed to parse YAML config",
		},
		{
			name:          "bad websocket address",
			content:       "websocket:\n  address: nope\n",
			errorContains: "websocket.address must be host:port",
		},
		{
			name:          "bad duration",
			content:       "http:\n  timeout: soon\n",
			errorContains: "http.timeout must be a valid duration",
		},
		{
			name:          "negative duration",
			content:       "registry:\n  dedupeWindow: -1s\n",
			errorContains: "registry.dedupeWindow must not be negative",
		},
		{
			name:          "negative transient retries",
			content:       "http:\n  transientRetries: -1\n",
			errorContains: "http.transientRetries must not be negative",
		},
		{
			name:          "negative breaker threshold",
			content:       "http:\n  breaker:\n    failureThreshold: -2\n",
			errorContains: "failureThreshold must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadConfig(WithConfigPath(writeConfig(t, tt.content)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestWithConfigPath(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(WithConfigPath(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")

	_, err = LoadConfig(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to evaluate symlinks")
}

func TestParseDurationOr(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Second, ParseDurationOr("", time.Second))
	assert.Equal(t, time.Second, ParseDurationOr("garbage", time.Second))
	assert.Equal(t, 90*time.Second, ParseDurationOr("1m30s", time.Second))
}
