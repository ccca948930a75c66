// Package readers resolves file and environment variable sources and pushes
// their content into a source.Sink.
package readers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/headerkit/source-agent/internal/source"
)

// DefaultDebounce is the quiet period after the last event before a file is re-read
const DefaultDebounce = 300 * time.Millisecond

// FileReader watches the parent directory of every watched file and re-reads
// the file after a debounce whenever it is written, created, renamed or removed.
type FileReader struct {
	sink     source.Sink
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu     sync.Mutex
	files  map[string]string // id -> cleaned absolute path
	dirs   map[string]int    // watched dir -> number of files in it
	timers map[string]*debounceTimer

	done      chan struct{}
	closeOnce sync.Once
}

// FileOption configures a FileReader
type FileOption func(*FileReader)

// WithDebounce overrides DefaultDebounce
func WithDebounce(d time.Duration) FileOption {
	return func(r *FileReader) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// NewFileReader creates a reader and starts its event loop
func NewFileReader(sink source.Sink, opts ...FileOption) (*FileReader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	r := &FileReader{
		sink:     sink,
		debounce: DefaultDebounce,
		watcher:  watcher,
		files:    make(map[string]string),
		dirs:     make(map[string]int),
		timers:   make(map[string]*debounceTimer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.loop()
	return r, nil
}

// Watch starts watching desc.Path and pushes its current content
func (r *FileReader) Watch(_ context.Context, desc source.Descriptor, _ source.WatchOptions) error {
	if desc.Type != source.TypeFile {
		return fmt.Errorf("file reader cannot watch %q sources", desc.Type)
	}

	path, err := filepath.Abs(desc.Path)
	if err != nil {
		return fmt.Errorf("invalid file path %q: %w", desc.Path, err)
	}
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	r.mu.Lock()
	if old, ok := r.files[desc.ID]; ok {
		r.releaseDirLocked(filepath.Dir(old))
	}
	r.files[desc.ID] = path
	r.dirs[dir]++
	first := r.dirs[dir] == 1
	r.mu.Unlock()

	if first {
		if err := r.watcher.Add(dir); err != nil {
			// Content is still read; changes are only picked up on refresh.
			slog.Warn("Cannot watch directory", "dir", dir, "source_id", desc.ID, "error", err)
		}
	}

	r.read(desc.ID, path)
	return nil
}

// Unwatch stops watching the file of id
func (r *FileReader) Unwatch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, ok := r.files[id]
	if !ok {
		return
	}
	delete(r.files, id)
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
	r.releaseDirLocked(filepath.Dir(path))
}

// Refresh re-reads the file immediately
func (r *FileReader) Refresh(_ context.Context, id string) error {
	r.mu.Lock()
	path, ok := r.files[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", source.ErrNotFound, id)
	}

	r.read(id, path)
	return nil
}

// Dispose stops the watcher and every pending debounce
func (r *FileReader) Dispose() {
	r.closeOnce.Do(func() {
		close(r.done)
		_ = r.watcher.Close()

		r.mu.Lock()
		defer r.mu.Unlock()
		for id, t := range r.timers {
			t.Stop()
			delete(r.timers, id)
		}
		clear(r.files)
		clear(r.dirs)
	})
}

func (r *FileReader) releaseDirLocked(dir string) {
	r.dirs[dir]--
	if r.dirs[dir] > 0 {
		return
	}
	delete(r.dirs, dir)
	if err := r.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		slog.Debug("Cannot remove directory watch", "dir", dir, "error", err)
	}
}

func (r *FileReader) loop() {
	for {
		select {
		case <-r.done:
			return
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("File watcher error", "error", err)
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !isRelevantEvent(ev) {
				continue
			}
			r.schedule(filepath.Clean(ev.Name))
		}
	}
}

func isRelevantEvent(ev fsnotify.Event) bool {
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

// schedule (re)starts the debounce timer of every source backed by path
func (r *FileReader) schedule(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, p := range r.files {
		if p != path {
			continue
		}
		if t, ok := r.timers[id]; ok {
			t.Stop()
		}
		t := &debounceTimer{}
		t.timer = time.AfterFunc(r.debounce, func() { r.fire(id, path, t) })
		r.timers[id] = t
	}
}

type debounceTimer struct {
	timer *time.Timer
}

func (t *debounceTimer) Stop() bool {
	return t.timer.Stop()
}

// fire runs a debounce timer t. A timer superseded by a newer one for the
// same id neither reads nor clears the newer entry.
func (r *FileReader) fire(id, path string, t *debounceTimer) {
	r.mu.Lock()
	if r.timers[id] != t {
		r.mu.Unlock()
		return
	}
	delete(r.timers, id)
	current, ok := r.files[id]
	r.mu.Unlock()

	if ok && current == path {
		r.read(id, path)
	}
}

func (r *FileReader) read(id, path string) {
	data, err := os.ReadFile(path)
	var content string
	switch {
	case errors.Is(err, fs.ErrNotExist):
		content = fmt.Sprintf("Error: file not found: %s", path)
	case err != nil:
		content = fmt.Sprintf("Error: cannot read file %s: %v", path, err)
	default:
		content = string(data)
	}

	if !r.sink.UpdateContent(id, content, nil) {
		r.Unwatch(id)
	}
}
