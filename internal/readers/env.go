package readers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/headerkit/source-agent/internal/source"
)

// EnvReader resolves environment variables. Process environment wins; the
// configured dotenv files are consulted in order when a variable is unset.
type EnvReader struct {
	sink         source.Sink
	files        []string
	pollInterval time.Duration
	lookup       func(string) (string, bool)

	mu      sync.Mutex
	names   map[string]string // id -> variable name
	last    map[string]string // id -> last pushed content
	polling bool

	ctx    context.Context
	cancel context.CancelFunc
}

// EnvOption configures an EnvReader
type EnvOption func(*EnvReader)

// WithDotenvFiles adds dotenv files used as fallbacks
func WithDotenvFiles(files ...string) EnvOption {
	return func(r *EnvReader) {
		r.files = append(r.files, files...)
	}
}

// WithPollInterval re-reads every watched variable on the interval and pushes changes
func WithPollInterval(d time.Duration) EnvOption {
	return func(r *EnvReader) {
		r.pollInterval = d
	}
}

// WithLookup replaces os.LookupEnv
func WithLookup(fn func(string) (string, bool)) EnvOption {
	return func(r *EnvReader) {
		r.lookup = fn
	}
}

// NewEnvReader creates an env reader
func NewEnvReader(sink source.Sink, opts ...EnvOption) *EnvReader {
	ctx, cancel := context.WithCancel(context.Background())
	r := &EnvReader{
		sink:   sink,
		lookup: os.LookupEnv,
		names:  make(map[string]string),
		last:   make(map[string]string),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Watch records the variable and pushes its current value
func (r *EnvReader) Watch(_ context.Context, desc source.Descriptor, _ source.WatchOptions) error {
	if desc.Type != source.TypeEnv {
		return fmt.Errorf("env reader cannot watch %q sources", desc.Type)
	}

	r.mu.Lock()
	r.names[desc.ID] = desc.Path
	startPoll := r.pollInterval > 0 && !r.polling
	if startPoll {
		r.polling = true
	}
	r.mu.Unlock()

	if startPoll {
		go r.poll()
	}

	r.push(desc.ID, desc.Path, true)
	return nil
}

// Unwatch forgets id
func (r *EnvReader) Unwatch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.names, id)
	delete(r.last, id)
}

// Refresh re-reads the variable of id
func (r *EnvReader) Refresh(_ context.Context, id string) error {
	r.mu.Lock()
	name, ok := r.names[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", source.ErrNotFound, id)
	}

	r.push(id, name, true)
	return nil
}

// Dispose stops polling
func (r *EnvReader) Dispose() {
	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.names)
	clear(r.last)
}

// Resolve returns the value of name and whether it is set anywhere
func (r *EnvReader) Resolve(name string) (string, bool) {
	if v, ok := r.lookup(name); ok {
		return v, true
	}

	for _, file := range r.files {
		values, err := godotenv.Read(file)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("Cannot read dotenv file", "file", file, "error", err)
			}
			continue
		}
		if v, ok := values[name]; ok {
			return v, true
		}
	}
	return "", false
}

func (r *EnvReader) content(name string) string {
	if v, ok := r.Resolve(name); ok {
		return v
	}
	return fmt.Sprintf("Error: environment variable %s is not set", name)
}

// push sends the current value; unless force is set, unchanged values are skipped
func (r *EnvReader) push(id, name string, force bool) {
	content := r.content(name)

	r.mu.Lock()
	if _, watched := r.names[id]; !watched {
		r.mu.Unlock()
		return
	}
	prev, seen := r.last[id]
	if !force && seen && prev == content {
		r.mu.Unlock()
		return
	}
	r.last[id] = content
	r.mu.Unlock()

	if !r.sink.UpdateContent(id, content, nil) {
		r.Unwatch(id)
	}
}

func (r *EnvReader) poll() {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			snapshot := maps.Clone(r.names)
			r.mu.Unlock()

			for id, name := range snapshot {
				r.push(id, name, false)
			}
		}
	}
}
