package readers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headerkit/source-agent/internal/source"
)

func fileDescriptor(id, path string) source.Descriptor {
	return source.Descriptor{ID: id, Type: source.TypeFile, Path: path}
}

func TestFileReader_ReadsAndFollowsChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "token.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))

	sink := newCaptureSink()
	r, err := NewFileReader(sink, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer r.Dispose()

	require.NoError(t, r.Watch(context.Background(), fileDescriptor("1", path), source.WatchOptions{FetchNow: true}))
	assert.Equal(t, "v1", sink.content("1"))

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o600))
	assert.Eventually(t, func() bool { return sink.content("1") == "v2" }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		return sink.content("1") == "Error: file not found: "+path
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFileReader_MissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "absent.txt")
	sink := newCaptureSink()
	r, err := NewFileReader(sink)
	require.NoError(t, err)
	defer r.Dispose()

	require.NoError(t, r.Watch(context.Background(), fileDescriptor("1", path), source.WatchOptions{}))
	assert.Equal(t, "Error: file not found: "+path, sink.content("1"))

	require.NoError(t, os.WriteFile(path, []byte("now here"), 0o600))
	require.NoError(t, r.Refresh(context.Background(), "1"))
	assert.Equal(t, "now here", sink.content("1"))
}

func TestFileReader_UnwatchStopsUpdates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o600))

	sink := newCaptureSink()
	r, err := NewFileReader(sink, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	defer r.Dispose()

	require.NoError(t, r.Watch(context.Background(), fileDescriptor("1", path), source.WatchOptions{}))
	r.Unwatch("1")

	require.NoError(t, os.WriteFile(path, []byte("b"), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "a", sink.content("1"))
	assert.ErrorIs(t, r.Refresh(context.Background(), "1"), source.ErrNotFound)
}

func TestFileReader_RejectsOtherTypes(t *testing.T) {
	t.Parallel()

	r, err := NewFileReader(newCaptureSink())
	require.NoError(t, err)
	defer r.Dispose()

	err = r.Watch(context.Background(), source.Descriptor{ID: "1", Type: source.TypeEnv, Path: "HOME"}, source.WatchOptions{})
	assert.Error(t, err)
}

func TestFileReader_RemovedSourceIsUnwatched(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o600))

	sink := newCaptureSink()
	r, err := NewFileReader(sink)
	require.NoError(t, err)
	defer r.Dispose()

	sink.forget("1")
	require.NoError(t, r.Watch(context.Background(), fileDescriptor("1", path), source.WatchOptions{}))
	assert.ErrorIs(t, r.Refresh(context.Background(), "1"), source.ErrNotFound)
}

func TestFileReader_SupersededDebounceKeepsNewerTimer(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o600))

	sink := newCaptureSink()
	r, err := NewFileReader(sink, WithDebounce(time.Hour))
	require.NoError(t, err)
	defer r.Dispose()

	require.NoError(t, r.Watch(context.Background(), fileDescriptor("1", path), source.WatchOptions{}))
	reads := sink.count("1")

	stale := &debounceTimer{timer: time.AfterFunc(time.Hour, func() {})}
	stale.Stop()
	r.schedule(filepath.Clean(path))

	r.mu.Lock()
	pending := r.timers["1"]
	r.mu.Unlock()
	require.NotNil(t, pending)

	// a callback from an older timer that lost its Stop race
	r.fire("1", filepath.Clean(path), stale)

	r.mu.Lock()
	current := r.timers["1"]
	r.mu.Unlock()
	assert.Same(t, pending, current)
	assert.Equal(t, reads, sink.count("1"))

	r.Unwatch("1")
	r.mu.Lock()
	assert.Empty(t, r.timers)
	r.mu.Unlock()
	assert.False(t, pending.Stop(), "Unwatch must stop the pending timer")
}
