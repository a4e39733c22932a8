package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const lockFileName = "run.lock"

// Lock prevents two convoy processes from executing the same session.
// It is a PID lockfile: stale locks left by dead processes are cleaned up
// automatically on the next acquire.
type Lock struct {
	path string
}

// NewLock returns the lock for this store's session directory.
func (s *Store) NewLock() *Lock {
	return &Lock{path: filepath.Join(s.dir, lockFileName)}
}

// Acquire takes the lock, or returns an error naming the PID that holds it.
func (l *Lock) Acquire() error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, writeErr := fmt.Fprintf(f, "%d", os.Getpid())
			f.Close()
			if writeErr != nil {
				os.Remove(l.path)
				return fmt.Errorf("failed to write lock file: %w", writeErr)
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		pid, stale, err := l.holder()
		if err != nil {
			return err
		}
		if !stale {
			return fmt.Errorf("session is already running (PID %d)", pid)
		}
		// Stale lock removed by holder(); take it on the next pass.
	}
	return fmt.Errorf("lock acquired by another process during retry")
}

// Release removes the lock file. Releasing an absent lock is not an error.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Held reports whether the lock is currently held by a live process.
func (l *Lock) Held() (bool, error) {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return false, nil
	}
	_, stale, err := l.holder()
	if err != nil {
		return false, err
	}
	return !stale, nil
}

// holder reads the lock file and returns the owning PID. Locks whose owner is
// dead or whose content is unparseable are removed and reported stale.
func (l *Lock) holder() (pid int, stale bool, err error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, true, nil
		}
		return 0, false, fmt.Errorf("failed to read lock file: %w", err)
	}

	pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if parseErr == nil && processAlive(pid) {
		return pid, false, nil
	}

	if removeErr := os.Remove(l.path); removeErr != nil && !os.IsNotExist(removeErr) {
		return 0, false, fmt.Errorf("failed to remove stale lock file: %w", removeErr)
	}
	return pid, true, nil
}

// processAlive checks for process existence with signal 0.
func processAlive(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
