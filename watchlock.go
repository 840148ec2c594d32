package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const watchLockPermissions = 0o600

// errWatcherRunning is returned when another process holds the watch lock.
var errWatcherRunning = errors.New("another watcher is already running")

// watchLock is the single-watcher lock. The file holds the watcher's PID on
// the first line and the watched directory on the second; the flock on it
// is what actually excludes a second watcher.
type watchLock struct {
	path string
	f    *os.File
}

// acquireWatchLock takes the lock at path for a watcher of dir.
func acquireWatchLock(path, dir string) (*watchLock, error) {
	if path == "" {
		return nil, errors.New("watch lock path is empty: cannot determine data directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating watch lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, watchLockPermissions)
	if err != nil {
		return nil, fmt.Errorf("opening watch lock: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if pid, other, readErr := readWatchLock(path); readErr == nil {
			return nil, fmt.Errorf("%w: PID %d watching %s", errWatcherRunning, pid, other)
		}

		return nil, errWatcherRunning
	}

	if err := writeWatchLock(f, dir); err != nil {
		f.Close()
		return nil, err
	}

	return &watchLock{path: path, f: f}, nil
}

func writeWatchLock(f *os.File, dir string) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating watch lock: %w", err)
	}

	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n%s\n", os.Getpid(), dir)), 0); err != nil {
		return fmt.Errorf("writing watch lock: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing watch lock: %w", err)
	}

	return nil
}

// Release removes the lock file and drops the lock.
func (l *watchLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

// readWatchLock returns the PID and directory recorded at path.
func readWatchLock(path string) (int, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, "", fmt.Errorf("reading watch lock: %w", err)
	}

	pidLine, dir, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")

	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil || pid <= 0 {
		return 0, "", fmt.Errorf("invalid PID in %s: %q", path, pidLine)
	}

	return pid, strings.TrimSpace(dir), nil
}

// stopWatcher sends SIGTERM to the watcher recorded at path and returns the
// directory it was watching. A lock left behind by a dead process is removed.
func stopWatcher(path string) (string, error) {
	pid, dir, err := readWatchLock(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errors.New("no watcher is running")
		}

		return "", err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return "", fmt.Errorf("finding watcher process %d: %w", pid, err)
	}

	// Signal 0 only checks that the process exists.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("watcher (PID %d) is not running; removed its stale lock", pid)
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return "", fmt.Errorf("stopping watcher (PID %d): %w", pid, err)
	}

	return dir, nil
}
