package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headerkit/source-agent/internal/events"
	"github.com/headerkit/source-agent/internal/registry"
	"github.com/headerkit/source-agent/internal/source"
	"github.com/headerkit/source-agent/internal/storage"
)

func TestBroadcaster_ClientsConvergeOnRegistryList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		seed uint64
		ops  int
	}{
		{name: "short burst", seed: 1, ops: 20},
		{name: "long mixed run", seed: 7, ops: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			writer := storage.NewAtomicWriter(storage.DefaultOptions())
			store := storage.NewFileSourceStore(filepath.Join(t.TempDir(), "sources.json"), writer)
			bus := events.NewBus()
			t.Cleanup(bus.Close)

			reg, err := registry.New(store, writer, registry.WithEventBus(bus))
			require.NoError(t, err)

			ws := startServer(t, reg.Sources())
			local := NewLocalChannel()
			b := New(bus, reg.Sources, []Sink{local, ws})
			done := make(chan error, 1)
			go func() { done <- b.Run(ctx) }()

			clients := []*websocket.Conn{dial(t, ws), dial(t, ws)}
			require.Eventually(t, func() bool { return ws.Clients() == len(clients) }, 5*time.Second, 10*time.Millisecond)

			rng := rand.New(rand.NewPCG(tt.seed, tt.seed))
			var ids []string
			for i := range tt.ops {
				switch op := rng.IntN(3); {
				case op == 0 || len(ids) == 0:
					created, err := reg.Create(ctx, source.CreateRequest{
						Type: source.TypeEnv,
						Path: fmt.Sprintf("VAR_%d", i),
					})
					require.NoError(t, err)
					ids = append(ids, created.ID)
				case op == 1:
					id := ids[rng.IntN(len(ids))]
					assert.True(t, reg.UpdateContent(id, fmt.Sprintf("value-%d", i), nil))
				default:
					idx := rng.IntN(len(ids))
					assert.True(t, reg.Remove(ctx, ids[idx]))
					ids = append(ids[:idx], ids[idx+1:]...)
				}
			}

			want := mustJSON(t, reg.Sources())
			assert.Len(t, reg.Sources(), len(ids))

			for i, conn := range clients {
				for {
					msg := readMessage(t, conn)
					if mustJSON(t, msg.Sources) == want {
						break
					}
				}
				t.Logf("client %d converged", i)
			}
			assert.Eventually(t, func() bool { return mustJSON(t, local.Latest()) == want }, 5*time.Second, 10*time.Millisecond)

			cancel()
			require.NoError(t, <-done)
		})
	}
}

// mustJSON compares snapshots by wire form so decoded messages match registry values
func mustJSON(t *testing.T, list []source.Source) string {
	t.Helper()

	if list == nil {
		list = []source.Source{}
	}
	data, err := json.Marshal(list)
	require.NoError(t, err)
	return string(data)
}
