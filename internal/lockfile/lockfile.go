// Package lockfile provides exclusive-create lock files with stale-owner
// detection. The daemon uses one for single-instance enforcement and the
// wake lock manager uses them as visible keep-awake markers.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrLocked = errors.New("lock is held by another process")
)

// Owner is the content recorded in a lock file
type Owner struct {
	PID      int
	Acquired time.Time
	Label    string
}

// Lockfile represents a file-based lock
type Lockfile struct {
	path   string
	label  string
	maxAge time.Duration
	file   *os.File
	pid    int
	locked bool
}

// Option configures a Lockfile
type Option func(*Lockfile)

// WithLabel records a free-form label in the lock file
func WithLabel(label string) Option {
	return func(l *Lockfile) { l.label = label }
}

// WithMaxAge treats locks older than d as stale even if the owner is alive.
// Zero disables the age check.
func WithMaxAge(d time.Duration) Option {
	return func(l *Lockfile) { l.maxAge = d }
}

// New creates a new lockfile instance
func New(path string, opts ...Option) *Lockfile {
	l := &Lockfile{path: path}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire attempts to acquire the lock without blocking. A lock left
// behind by a dead process is removed and retried once.
func (l *Lockfile) TryAcquire() error {
	if l.locked {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lockfile directory: %w", err)
	}

	err := l.claim()
	if err == nil || !os.IsExist(err) {
		return err
	}

	stale, reason := l.checkStale()
	if !stale {
		return fmt.Errorf("%w: %s", ErrLocked, reason)
	}
	if removeErr := os.Remove(l.path); removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("failed to remove stale lockfile (%s): %w", reason, removeErr)
	}
	if err := l.claim(); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: lost race after removing stale lock", ErrLocked)
		}
		return err
	}
	return nil
}

// claim creates the lock file exclusively and records the owner. The raw
// os error is returned for EEXIST so callers can test it with os.IsExist.
func (l *Lockfile) claim() error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return err
		}
		return fmt.Errorf("failed to create lockfile: %w", err)
	}

	l.file = file
	l.pid = os.Getpid()
	l.locked = true

	content := fmt.Sprintf("%d\n%s\n%s\n", l.pid, time.Now().Format(time.RFC3339), l.label)
	if _, err := file.WriteString(content); err != nil {
		_ = l.Release()
		return fmt.Errorf("failed to write to lockfile: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = l.Release()
		return fmt.Errorf("failed to sync lockfile: %w", err)
	}
	return nil
}

// checkStale reports whether the existing lock file may be discarded
func (l *Lockfile) checkStale() (bool, string) {
	owner, err := ReadOwner(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, "lockfile vanished"
		}
		return true, err.Error()
	}

	if alive, reason := processAlive(owner.PID); !alive {
		return true, reason
	}
	if l.maxAge > 0 && !owner.Acquired.IsZero() && time.Since(owner.Acquired) > l.maxAge {
		return true, fmt.Sprintf("lockfile is older than %s", l.maxAge)
	}
	return false, fmt.Sprintf("process with PID %d is running", owner.PID)
}

// ReadOwner parses the lock file at path
func ReadOwner(path string) (Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return Owner{}, fmt.Errorf("invalid PID in lockfile")
	}

	owner := Owner{PID: pid}
	if len(lines) > 1 {
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[1])); err == nil {
			owner.Acquired = ts
		}
	}
	if len(lines) > 2 {
		owner.Label = strings.TrimSpace(lines[2])
	}
	return owner, nil
}

// Release releases the lock. Releasing an unheld lock is a no-op.
func (l *Lockfile) Release() error {
	if !l.locked {
		return nil
	}

	var errs []error
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			errs = append(errs, err)
		}
		l.file = nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove lockfile: %w", err))
	}

	l.locked = false
	return errors.Join(errs...)
}

// PID returns the PID that acquired the lock
func (l *Lockfile) PID() int {
	return l.pid
}

// Locked returns true if the lock is held
func (l *Lockfile) Locked() bool {
	return l.locked
}

// Path returns the lockfile path
func (l *Lockfile) Path() string {
	return l.path
}
