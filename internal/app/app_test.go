package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headerkit/source-agent/internal/config"
	"github.com/headerkit/source-agent/internal/source"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Control.Address = "127.0.0.1:0"
	cfg.WebSocket.Address = "127.0.0.1:0"
	cfg.File.Debounce = "10ms"
	return cfg
}

func startAgent(t *testing.T, cfg *config.Config) (*SourceAgent, context.CancelFunc, <-chan error) {
	t.Helper()

	agent, err := NewSourceAgent(context.Background(), WithConfig(cfg))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- agent.Run(ctx)
	}()

	select {
	case <-agent.Ready():
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("agent did not become ready")
	}
	return agent, cancel, errCh
}

func TestSourceAgent_RunServesControlAPI(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	contentPath := filepath.Join(t.TempDir(), "value.txt")
	require.NoError(t, os.WriteFile(contentPath, []byte("hello"), 0o600))

	agent, cancel, errCh := startAgent(t, cfg)
	base := "http://" + agent.ControlAddr()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := `{"type":"file","path":` + mustJSON(t, contentPath) + `}`
	resp, err = http.Post(base+"/v1/sources", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var created source.Source
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "1", created.ID)
	assert.Equal(t, "hello", created.Content)

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(cfg.SourcesPath())
		return err == nil && strings.Contains(string(data), `"content": "hello"`)
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestSourceAgent_ReloadsPersistedSources(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	contentPath := filepath.Join(t.TempDir(), "value.txt")
	require.NoError(t, os.WriteFile(contentPath, []byte("v1"), 0o600))

	ctx := context.Background()
	first, err := NewSourceAgent(ctx, WithConfig(cfg), WithOffline())
	require.NoError(t, err)
	_, err = first.Registry().Create(ctx, source.CreateRequest{Type: source.TypeFile, Path: contentPath})
	require.NoError(t, err)
	first.Close(ctx)

	second, err := NewSourceAgent(ctx, WithConfig(cfg), WithOffline())
	require.NoError(t, err)
	t.Cleanup(func() { second.Close(ctx) })

	list := second.Registry().Sources()
	require.Len(t, list, 1)
	assert.Equal(t, contentPath, list[0].Path)
	assert.Equal(t, "v1", list[0].Content)
}

func TestSourceAgent_OfflineHasNoListeners(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	agent, err := NewSourceAgent(ctx, WithConfig(testConfig(t)), WithOffline())
	require.NoError(t, err)
	t.Cleanup(func() { agent.Close(ctx) })

	assert.Nil(t, agent.Components().WebSocket)
	assert.Empty(t, agent.ControlAddr())
	assert.NotNil(t, agent.Components().Local)
}

func TestBaseConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    []AgentOption
		wantErr string
		check   func(*testing.T, *agentConfig)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, cfg *agentConfig) {
				t.Helper()
				assert.Equal(t, config.DefaultControlAddress, cfg.controlAddress)
				assert.Equal(t, config.DefaultWebSocketAddress, cfg.wsAddress)
			},
		},
		{
			name: "address overrides",
			opts: []AgentOption{WithControlAddress("127.0.0.1:9000"), WithWebSocketAddress("127.0.0.1:9001")},
			check: func(t *testing.T, cfg *agentConfig) {
				t.Helper()
				assert.Equal(t, "127.0.0.1:9000", cfg.controlAddress)
				assert.Equal(t, "127.0.0.1:9001", cfg.wsAddress)
			},
		},
		{
			name:    "invalid control address",
			opts:    []AgentOption{WithControlAddress("nope")},
			wantErr: "invalid control address",
		},
		{
			name:    "nil config",
			opts:    []AgentOption{WithConfig(nil)},
			wantErr: "config cannot be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := baseConfig(tt.opts...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestEngineConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.HTTP.Timeout = "3s"
	cfg.HTTP.Breaker.BaseTimeout = "10s"
	zero := 0
	cfg.HTTP.TransientRetries = &zero

	got := engineConfig(cfg)
	assert.Equal(t, 3*time.Second, got.Timeout)
	assert.Equal(t, 0, got.TransientRetries)
	assert.Equal(t, 10*time.Second, got.Breaker.BaseTimeout)
	assert.Equal(t, 3, got.Breaker.FailureThreshold)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
