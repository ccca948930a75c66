package storage

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// InstanceLockFile is the advisory lock taken in the data directory.
// It does not use LockSuffix so the stale lock sweep leaves it alone.
const InstanceLockFile = "source-agent.instance"

// InstanceLock is an advisory OS lock on the data directory
type InstanceLock struct {
	fl *flock.Flock
}

// AcquireInstanceLock tries to lock dataDir for this process.
// Failure never blocks startup; it only logs a warning.
func AcquireInstanceLock(dataDir string) *InstanceLock {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		slog.Warn("Cannot create data directory for instance lock", "dir", dataDir, "error", err)
		return &InstanceLock{}
	}

	fl := flock.New(filepath.Join(dataDir, InstanceLockFile))
	locked, err := fl.TryLock()
	switch {
	case err != nil:
		slog.Warn("Failed to take instance lock", "path", fl.Path(), "error", err)
		return &InstanceLock{}
	case !locked:
		slog.Warn("Another source agent is using this data directory; writes are still guarded by lock files",
			"path", fl.Path())
		return &InstanceLock{}
	}

	return &InstanceLock{fl: fl}
}

// Held reports whether this process owns the lock
func (l *InstanceLock) Held() bool {
	return l != nil && l.fl != nil && l.fl.Locked()
}

// Release unlocks the data directory
func (l *InstanceLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
