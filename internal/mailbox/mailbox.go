// Package mailbox implements the single-file slots under <root>/control that
// carry commands to the broker and results back to callers.
package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/natefinch/atomic"
)

const (
	// ControlDirName is the directory holding every slot
	ControlDirName = "control"
	// CommandSlotName is the one pending-command slot shared by all callers
	CommandSlotName = "command"
	// ResultSlotName is the generic result slot
	ResultSlotName = "result"

	resultTokenPrefix = ResultSlotName + "_"
)

// ErrEmpty is returned by Take when the slot holds nothing
var ErrEmpty = errors.New("mailbox slot is empty")

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidToken reports whether token may name a per-call result slot
func ValidToken(token string) bool {
	return tokenPattern.MatchString(token)
}

// ResultSlotFor returns the slot name for a call token; an empty token
// selects the generic result slot.
func ResultSlotFor(token string) (string, error) {
	if token == "" {
		return ResultSlotName, nil
	}
	if !ValidToken(token) {
		return "", fmt.Errorf("invalid call token %q", token)
	}
	return resultTokenPrefix + token, nil
}

// IsResultSlot reports whether name is the generic or a per-call result slot
func IsResultSlot(name string) bool {
	if name == ResultSlotName {
		return true
	}
	token, ok := strings.CutPrefix(name, resultTokenPrefix)
	return ok && ValidToken(token)
}

// Layout locates the slots for one install root
type Layout struct {
	Root string
}

// NewLayout creates a layout rooted at root
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// ControlDir is <root>/control
func (l Layout) ControlDir() string {
	return filepath.Join(l.Root, ControlDirName)
}

// EnsureDirs creates the control directory if needed
func (l Layout) EnsureDirs() error {
	if err := os.MkdirAll(l.ControlDir(), 0o700); err != nil {
		return fmt.Errorf("create control directory: %w", err)
	}
	return nil
}

// Command returns the shared command slot
func (l Layout) Command() Slot {
	return Slot{path: filepath.Join(l.ControlDir(), CommandSlotName)}
}

// Result returns the slot with the given name. Callers pass names obtained
// from ResultSlotFor or a decoded envelope.
func (l Layout) Result(name string) Slot {
	return Slot{path: filepath.Join(l.ControlDir(), name)}
}

// SweepResults deletes result slots last modified before cutoff and returns
// how many were removed. Nobody can still be waiting on those.
func (l Layout) SweepResults(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(l.ControlDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read control directory: %w", err)
	}

	var (
		removed int
		errs    []error
	)
	for _, entry := range entries {
		if entry.IsDir() || !IsResultSlot(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(l.ControlDir(), entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// Slot is a single-item hand-off file
type Slot struct {
	path string
}

// Path returns the slot's file path
func (s Slot) Path() string { return s.path }

// Name returns the slot's file name
func (s Slot) Name() string { return filepath.Base(s.path) }

// Exists reports whether the slot currently holds an item
func (s Slot) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && info.Mode().IsRegular()
}

// Take reads the slot's whole content and deletes it before returning. If
// the delete fails the content is not returned, so an item is handed out at
// most once.
func (s Slot) Take() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("read %s: %w", s.Name(), err)
	}
	if err := os.Remove(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// someone else consumed it between our read and remove
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("consume %s: %w", s.Name(), err)
	}
	return data, nil
}

// Put replaces the slot's content atomically: the data is written to a
// temporary file in the same directory, synced, and renamed into place.
func (s Slot) Put(data []byte) error {
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", s.Name(), err)
	}
	return nil
}

// Clear removes the slot if present
func (s Slot) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
