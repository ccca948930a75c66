package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"time"
)

const (
	unlinkRetries    = 10
	unlinkRetryDelay = 20 * time.Millisecond
)

// fileOps is the filesystem surface used to commit a write
type fileOps struct {
	rename func(oldpath, newpath string) error
	remove func(name string) error
}

var osFileOps = fileOps{rename: os.Rename, remove: os.Remove}

// replaceFile moves tmp over target. With unlinkFirst the target is removed
// before the rename, retrying while the platform reports it busy.
func replaceFile(ops fileOps, unlinkFirst bool, tmp, target string) error {
	if unlinkFirst {
		if err := unlinkWithRetry(ops, target); err != nil {
			return err
		}
	}

	if err := ops.rename(tmp, target); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", tmp, target, err)
	}
	return nil
}

func unlinkWithRetry(ops fileOps, target string) error {
	for attempt := 0; ; attempt++ {
		err := ops.remove(target)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if !isBusy(err) || attempt >= unlinkRetries {
			return fmt.Errorf("failed to unlink %s after %d attempts: %w", target, attempt+1, err)
		}
		time.Sleep(unlinkRetryDelay)
	}
}

func isBusy(err error) bool {
	return errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EBUSY)
}

// syncDir flushes directory metadata so the rename survives a crash.
// Not every platform supports it, so failures are ignored.
func syncDir(dir string) {
	// #nosec G304 -- dir is derived from the configured data directory
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
