// Package session owns the interactive terminal sessions of the host
// process. Sessions live in a Registry that is independent of any UI: a UI
// attaches by installing a Sink and detaches by installing nil, and output
// produced in between is buffered and replayed on the next attach.
package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/logger"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/terminal"
)

var (
	// ErrCapacityExceeded is returned by Create when the registry is full
	ErrCapacityExceeded = errors.New("session registry is at capacity")
	// ErrDeadSession is returned when acting on a session that is no longer
	// in the registry
	ErrDeadSession = errors.New("session is no longer in the registry")
)

// Sink observes session events. Calls for one session are serialised and
// made while that session's delivery lock is held, so a Sink must not call
// SetSink or Registry.RebindSink from inside a callback. The data slice is
// only valid for the duration of the call.
type Sink interface {
	SessionOutput(s *Session, data []byte)
	SessionExited(s *Session, exitCode int)
}

// Spec is everything needed to start a session
type Spec struct {
	Shell string
	Cwd   string
	Args  []string
	Env   []string
	Cols  uint16
	Rows  uint16
	// Sink receives output from the start. Nil buffers output until a sink
	// is installed.
	Sink Sink
}

// Info is a point-in-time description of a session
type Info struct {
	ID        string
	Name      string
	Shell     string
	Cwd       string
	Pid       int
	CreatedAt time.Time
	Alive     bool
}

// Session is one interactive process plus its output history. It is owned
// by a Registry; holders of a *Session only ever borrow it.
type Session struct {
	id        string
	createdAt time.Time
	spec      terminal.Spec
	proc      terminal.Process
	history   *terminal.Ring

	// deliverMu serialises output delivery with sink replacement, which is
	// what keeps a rebind from losing or duplicating bytes.
	deliverMu sync.Mutex
	sink      Sink
	delivered uint64

	alive     atomic.Bool
	removed   atomic.Bool
	exitCode  atomic.Int32
	closeOnce sync.Once
}

func newSession(id string, spec terminal.Spec, historySize int, sink Sink) *Session {
	s := &Session{
		id:        id,
		createdAt: time.Now(),
		spec:      spec,
		history:   terminal.NewRing(historySize),
		sink:      sink,
	}
	s.alive.Store(true)
	s.exitCode.Store(-1)
	return s
}

// ID returns the session's opaque handle
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was created
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Alive reports whether the underlying process is still running
func (s *Session) Alive() bool { return s.alive.Load() }

// ExitCode returns the process exit code, or -1 while it is running
func (s *Session) ExitCode() int { return int(s.exitCode.Load()) }

// Name is a short display name derived from the shell path
func (s *Session) Name() string { return filepath.Base(s.spec.Shell) }

// Info returns a snapshot of the session's attributes
func (s *Session) Info() Info {
	pid := 0
	if s.proc != nil {
		pid = s.proc.Pid()
	}
	return Info{
		ID:        s.id,
		Name:      s.Name(),
		Shell:     s.spec.Shell,
		Cwd:       s.spec.Cwd,
		Pid:       pid,
		CreatedAt: s.createdAt,
		Alive:     s.Alive(),
	}
}

// Write sends input to the session's process
func (s *Session) Write(data []byte) (int, error) {
	if s.removed.Load() || !s.alive.Load() {
		return 0, fmt.Errorf("write to %s: %w", s.id, ErrDeadSession)
	}
	return s.proc.Write(data)
}

// Resize changes the terminal dimensions
func (s *Session) Resize(cols, rows uint16) error {
	if s.removed.Load() || !s.alive.Load() {
		return fmt.Errorf("resize %s: %w", s.id, ErrDeadSession)
	}
	return s.proc.Resize(cols, rows)
}

// History returns buffered output from offset onwards and the offset it
// actually starts at (later than requested if history was overwritten).
func (s *Session) History(offset uint64) ([]byte, uint64) {
	return s.history.ReadFrom(offset)
}

// SetSink replaces the session's sink. Output that arrived while no sink was
// installed, or that the previous sink has not yet seen, is replayed to the
// new sink before any further output. Nil detaches.
func (s *Session) SetSink(sink Sink) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if sink != nil {
		backlog, start := s.history.ReadFrom(s.delivered)
		if start > s.delivered {
			logger.Warn("session %s: %d bytes of output dropped from history while detached", s.id, start-s.delivered)
		}
		if len(backlog) > 0 {
			sink.SessionOutput(s, backlog)
		}
		s.delivered = start + uint64(len(backlog))
	}
	s.sink = sink
}

func (s *Session) handleOutput(data []byte) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	end := s.history.Write(data)
	if s.sink != nil {
		s.sink.SessionOutput(s, data)
		s.delivered = end
	}
}

func (s *Session) handleExit(code int) {
	s.exitCode.Store(int32(code))
	s.alive.Store(false)

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.sink != nil {
		s.sink.SessionExited(s, code)
	}
}

// close releases the process. Safe to call more than once.
func (s *Session) close() {
	s.removed.Store(true)
	s.closeOnce.Do(func() {
		if s.proc == nil {
			return
		}
		if err := s.proc.Close(); err != nil {
			logger.Warn("session %s: close process: %v", s.id, err)
		}
	})
}
