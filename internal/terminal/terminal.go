// Package terminal is the boundary to the terminal engine. The session
// registry only ever holds a Process handle and receives output and exit
// notifications through Callbacks; it never looks inside the grid or the
// pseudo-terminal.
package terminal

import (
	"errors"
	"io"
)

// ErrUnsupported is returned by spawners that cannot run on this platform
var ErrUnsupported = errors.New("terminal: pseudo-terminals are not supported on this platform")

// Spec describes the process to start inside a new terminal
type Spec struct {
	Shell string
	Cwd   string
	Args  []string
	Env   []string
	Cols  uint16
	Rows  uint16
}

// Callbacks receive terminal events. OnOutput may be called from a
// dedicated reader goroutine; the slice is only valid for the duration of
// the call. OnExit is called exactly once after the last OnOutput. Neither
// is ever invoked synchronously from inside Spawn.
type Callbacks struct {
	OnOutput func(data []byte)
	OnExit   func(exitCode int)
}

// Process is a running terminal process
type Process interface {
	io.Writer
	Resize(cols, rows uint16) error
	Pid() int
	// Close terminates the process and releases the terminal. Safe to call
	// more than once.
	Close() error
}

// Spawner starts processes inside terminals
type Spawner interface {
	Spawn(spec Spec, cb Callbacks) (Process, error)
}
