// Package sessionlock serializes sandbox sessions on a shared state
// directory. Overlay state and pending approvals assume a single writer;
// the lock turns a second concurrent session into a clean error instead of
// corrupted state.
package sessionlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrHeld is returned when another live session holds the lock.
var ErrHeld = errors.New("another sandbox session is active")

// staleAfter bounds how long a lock from a live-looking PID is honored.
const staleAfter = time.Hour

// Lock is a held session lock. The zero value is not usable; call Acquire.
type Lock struct {
	path string
	pid  int
}

// Acquire takes the session lock for a state directory. A lock left behind
// by a dead or ancient process is broken and re-taken.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	path := filepath.Join(stateDir, "session.lock")

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err == nil {
			l := &Lock{path: path, pid: os.Getpid()}
			_, werr := fmt.Fprintf(f, "%d\n%s\n", l.pid, time.Now().Format(time.RFC3339))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				l.Release()
				return nil, fmt.Errorf("failed to write session lock: %w", errors.Join(werr, cerr))
			}
			return l, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create session lock: %w", err)
		}

		holder, stale := inspect(path)
		if !stale {
			return nil, fmt.Errorf("%w (%s)", ErrHeld, holder)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to break stale session lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: lock contended", ErrHeld)
}

// inspect reads the lock file and decides whether its holder is gone.
func inspect(path string) (holder string, stale bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unreadable lock", true
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)

	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return "malformed lock", true
	}
	if !pidAlive(pid) {
		return fmt.Sprintf("pid %d exited", pid), true
	}
	if len(lines) == 2 {
		if taken, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[1])); err == nil && time.Since(taken) > staleAfter {
			return fmt.Sprintf("pid %d, lock older than %s", pid, staleAfter), true
		}
	}
	return fmt.Sprintf("held by pid %d", pid), false
}

// Release drops the lock. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	path := l.path
	l.path = ""
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session lock: %w", err)
	}
	return nil
}
