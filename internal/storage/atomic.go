// Package storage provides durable, atomic persistence of JSON documents.
//
// Writes to the same path are serialized through a FIFO queue and guarded by
// an O_EXCL lock file. Each write lands in a uniquely named temp file in the
// target directory, is fsynced and is then renamed over the target, so the
// target is never observed truncated.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/headerkit/source-agent/internal/telemetry"
)

const (
	// DefaultMaxRetries is the number of whole-write retries after the first attempt
	DefaultMaxRetries = 5

	// DefaultMaxBackoff caps the delay between whole-write retries
	DefaultMaxBackoff = 2 * time.Second

	// DefaultLockTimeout bounds how long a writer polls a held lock before breaking it
	DefaultLockTimeout = 5 * time.Second

	// DefaultLockPollInterval is the fixed delay between lock attempts
	DefaultLockPollInterval = 50 * time.Millisecond

	// DefaultStaleLockAge is the age after which lock files are swept
	DefaultStaleLockAge = time.Hour

	initialRetryInterval = 50 * time.Millisecond
)

// ErrInvalidPayload is returned when data does not round-trip through JSON
var ErrInvalidPayload = errors.New("payload is not valid JSON")

// Options configures an AtomicWriter
type Options struct {
	MaxRetries       int
	MaxBackoff       time.Duration
	LockTimeout      time.Duration
	LockPollInterval time.Duration
	StaleLockAge     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.LockPollInterval <= 0 {
		o.LockPollInterval = DefaultLockPollInterval
	}
	if o.StaleLockAge <= 0 {
		o.StaleLockAge = DefaultStaleLockAge
	}
	return o
}

// DefaultOptions returns the default writer options
func DefaultOptions() Options {
	return Options{MaxRetries: DefaultMaxRetries}.withDefaults()
}

// AtomicWriter reads and writes JSON documents atomically
type AtomicWriter struct {
	opts    Options
	metrics *telemetry.PersistenceMetrics
	queues  *pathQueues

	ops         fileOps
	unlinkFirst bool

	// beforeCommit runs after the temp file is synced and before the rename
	beforeCommit func(tmpPath string) error
}

// WriterOption configures an AtomicWriter
type WriterOption func(*AtomicWriter)

// WithMetrics records write outcomes and lock breaks
func WithMetrics(m *telemetry.PersistenceMetrics) WriterOption {
	return func(w *AtomicWriter) {
		w.metrics = m
	}
}

// NewAtomicWriter creates a writer with the given options
func NewAtomicWriter(opts Options, writerOpts ...WriterOption) *AtomicWriter {
	w := &AtomicWriter{
		opts:        opts.withDefaults(),
		queues:      newPathQueues(),
		ops:         osFileOps,
		unlinkFirst: runtime.GOOS == "windows",
	}
	for _, opt := range writerOpts {
		opt(w)
	}
	return w
}

// Options returns the effective options
func (w *AtomicWriter) Options() Options {
	return w.opts
}

// WriteJSON marshals v and writes it atomically to path
func (w *AtomicWriter) WriteJSON(ctx context.Context, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return w.Write(ctx, path, data)
}

// Write validates data and writes it atomically to path. Writes to the same
// path are applied in call order; failed attempts are retried with backoff.
func (w *AtomicWriter) Write(ctx context.Context, path string, data []byte) error {
	if err := validatePayload(data); err != nil {
		return err
	}

	return w.queues.run(ctx, path, func() error {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initialRetryInterval
		b.MaxInterval = w.opts.MaxBackoff

		attempt := 0
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			attempt++
			err := w.writeOnce(ctx, path, data)
			w.metrics.RecordWrite(ctx, err == nil)
			if err != nil {
				slog.Debug("Atomic write attempt failed", "path", path, "attempt", attempt, "error", err)
			}
			return struct{}{}, err
		},
			backoff.WithBackOff(b),
			backoff.WithMaxTries(uint(w.opts.MaxRetries)+1),
		)
		if err != nil {
			return fmt.Errorf("failed to write %s after %d attempts: %w", path, attempt, err)
		}
		return nil
	})
}

func (w *AtomicWriter) writeOnce(ctx context.Context, target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	lock, err := w.acquireLock(ctx, target)
	switch {
	case errors.Is(err, ErrLockTimeout):
		slog.Warn("Proceeding without lock", "path", target, "error", err)
	case err != nil:
		return err
	}
	defer lock.release()

	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s%s", filepath.Base(target), uuid.NewString(), tempSuffix))
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to remove temp file", "path", tmpPath, "error", err)
		}
	}()

	// #nosec G304 -- tmpPath is derived from the target path
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if w.beforeCommit != nil {
		if err := w.beforeCommit(tmpPath); err != nil {
			return err
		}
	}

	if err := replaceFile(w.ops, w.unlinkFirst, tmpPath, target); err != nil {
		return err
	}
	committed = true
	syncDir(dir)

	return nil
}

// ReadJSON reads path into v. found is false when the file does not exist.
func (w *AtomicWriter) ReadJSON(ctx context.Context, path string, v any) (bool, error) {
	data, found, err := w.Read(ctx, path)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return true, nil
}

// Read returns the contents of path after any queued writes to it have settled.
// A missing file is reported with found=false and a nil error.
func (w *AtomicWriter) Read(ctx context.Context, path string) ([]byte, bool, error) {
	var (
		data  []byte
		found bool
	)

	err := w.queues.run(ctx, path, func() error {
		lock, err := w.acquireLock(ctx, path)
		switch {
		case err == nil:
			defer lock.release()
		case errors.Is(err, fs.ErrNotExist):
			// no directory, so no file either
		case errors.Is(err, ErrLockTimeout):
			slog.Warn("Reading without lock", "path", path, "error", err)
		default:
			return err
		}

		// #nosec G304 -- path is the configured backing file or an operator supplied export path
		data, err = os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return data, found, nil
}

func validatePayload(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	again, err := json.Marshal(v)
	if err != nil || !json.Valid(again) {
		return fmt.Errorf("%w: payload does not re-serialize", ErrInvalidPayload)
	}
	return nil
}
