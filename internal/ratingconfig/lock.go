package ratingconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const lockName = ".lock"

// dirLock is an advisory lock on a configuration directory, materialised as
// a marker file created with O_EXCL.
type dirLock struct {
	path string
	f    *os.File
}

// acquireLock blocks until the lock on dir is held or ctx is done. A marker
// older than staleAfter is removed so that a crashed holder cannot block
// writers forever.
func (s *Store) acquireLock(ctx context.Context, dir string) (*dirLock, error) {
	path := filepath.Join(dir, lockName)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			return &dirLock{path: path, f: f}, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(dir))
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}

		timer := time.NewTimer(s.lockDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("waiting for lock on %s: %w", dir, ctx.Err())
		case <-timer.C:
		}

		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("inspecting lock file: %w", err)
		}
		if s.now().Sub(info.ModTime()) >= s.lockStaleAfter {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("removing stale lock file: %w", err)
			}
			s.logger.Warn("removed stale lock file", "dir", dir, "age", s.now().Sub(info.ModTime()).String())
			if s.metrics != nil {
				s.metrics.IncStaleLockRemoved()
			}
		}
	}
}

func (l *dirLock) release() {
	if err := l.f.Close(); err != nil {
		slog.Warn("closing lock file", "path", l.path, "error", err)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("removing lock file", "path", l.path, "error", err)
	}
}
