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
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// LockSuffix is appended to a target path to form its lock file
	LockSuffix = ".lock"

	// tempSuffix marks in-progress atomic writes
	tempSuffix = ".tmp"
)

// ErrLockTimeout is returned when a lock could not be acquired even after breaking it
var ErrLockTimeout = errors.New("lock acquisition timed out")

type lockInfo struct {
	PID       int       `json:"pid"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
}

type fileLock struct {
	path  string
	token string
}

// tryCreateLock creates the lock file with O_EXCL. fs.ErrExist means contention.
func tryCreateLock(path string) (*fileLock, error) {
	// #nosec G304 -- path is derived from the configured data directory
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}

	info := lockInfo{PID: os.Getpid(), Token: uuid.NewString(), CreatedAt: time.Now().UTC()}
	data, _ := json.Marshal(info)
	_, werr := f.Write(data)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
	}

	return &fileLock{path: path, token: info.Token}, nil
}

// release removes the lock file if it still carries our token.
// A nil lock is a no-op, so callers that proceeded without a lock can defer it.
func (l *fileLock) release() {
	if l == nil {
		return
	}

	// #nosec G304 -- path is derived from the configured data directory
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to read lock file on release", "lock", l.path, "error", err)
		}
		return
	}

	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil || info.Token != l.token {
		slog.Debug("Lock file owned by another writer, leaving it", "lock", l.path)
		return
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to remove lock file", "lock", l.path, "error", err)
	}
}

// acquireLock polls for the lock of target until LockTimeout, then breaks it.
// ErrLockTimeout means the caller may proceed without exclusion.
func (w *AtomicWriter) acquireLock(ctx context.Context, target string) (*fileLock, error) {
	lockPath := target + LockSuffix
	deadline := time.Now().Add(w.opts.LockTimeout)

	for {
		l, err := tryCreateLock(lockPath)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file %s: %w", lockPath, err)
		}
		if !time.Now().Before(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.opts.LockPollInterval):
		}
	}

	slog.Warn("Lock not released in time, breaking it", "lock", lockPath, "timeout", w.opts.LockTimeout)
	w.metrics.RecordLockBreak(ctx)

	if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to break lock", "lock", lockPath, "error", err)
	}

	l, err := tryCreateLock(lockPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, lockPath, err)
	}
	return l, nil
}

// SweepStaleLocks removes lock files and orphaned temp files in dir older than maxAge.
// It returns the number of files removed.
func SweepStaleLocks(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isSweepable(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to remove stale file", "path", path, "error", err)
			continue
		}
		slog.Info("Removed stale file", "path", path, "age", time.Since(info.ModTime()).Round(time.Second))
		removed++
	}

	return removed, nil
}

func isSweepable(name string) bool {
	if strings.HasSuffix(name, LockSuffix) {
		return true
	}
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, tempSuffix)
}

// StartStaleLockSweep runs SweepStaleLocks in the background.
// The returned channel is closed when the sweep is done.
func StartStaleLockSweep(dir string, maxAge time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := SweepStaleLocks(dir, maxAge)
		if err != nil {
			slog.Warn("Stale lock sweep failed", "dir", dir, "error", err)
			return
		}
		if n > 0 {
			slog.Info("Stale lock sweep complete", "dir", dir, "removed", n)
		}
	}()
	return done
}
