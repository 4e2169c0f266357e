package session

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/consts"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/logger"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/terminal"
)

// PresenceNotifier is told the session count after every registry mutation.
// It is called outside the registry lock and must not block.
type PresenceNotifier interface {
	SessionsChanged(count int)
}

// LogNotifier logs session count changes
type LogNotifier struct{}

func (LogNotifier) SessionsChanged(count int) {
	logger.Debug("registry: %d session(s) live", count)
}

// Options configures a Registry
type Options struct {
	Capacity    int
	HistorySize int
	Spawner     terminal.Spawner
	Notifier    PresenceNotifier
}

// state is published atomically and never mutated after publication, so a
// reader always sees a list and current index that belong together.
type state struct {
	list    []*Session
	current int
}

// Registry is the ordered set of live sessions plus the current-session
// pointer. Reads are lock-free snapshots; writers are serialised.
type Registry struct {
	mu          sync.Mutex
	// rebindMu orders whole rebinds, so sessions never end up on an older
	// sink than defaultSink.
	rebindMu    sync.Mutex
	st          atomic.Pointer[state]
	capacity    int
	historySize int
	spawner     terminal.Spawner
	notifier    PresenceNotifier
	defaultSink Sink
	log         *logger.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options) *Registry {
	if opts.Capacity <= 0 {
		opts.Capacity = consts.DefaultSessionCapacity
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{}
	}
	if opts.Spawner == nil {
		opts.Spawner = terminal.NewPTYSpawner()
	}
	r := &Registry{
		capacity:    opts.Capacity,
		historySize: opts.HistorySize,
		spawner:     opts.Spawner,
		notifier:    opts.Notifier,
		log:         logger.Global().WithPrefix("registry"),
	}
	r.st.Store(&state{})
	return r
}

// Create starts a session, appends it and makes it current. At capacity it
// returns ErrCapacityExceeded and changes nothing.
func (r *Registry) Create(spec Spec) (*Session, error) {
	r.mu.Lock()

	cur := r.st.Load()
	if len(cur.list) >= r.capacity {
		r.mu.Unlock()
		return nil, fmt.Errorf("create session (%d/%d): %w", len(cur.list), r.capacity, ErrCapacityExceeded)
	}

	sink := spec.Sink
	if sink == nil {
		sink = r.defaultSink
	}
	tspec := terminal.Spec{
		Shell: spec.Shell,
		Cwd:   spec.Cwd,
		Args:  slices.Clone(spec.Args),
		Env:   slices.Clone(spec.Env),
		Cols:  spec.Cols,
		Rows:  spec.Rows,
	}
	s := newSession(uuid.NewString(), tspec, r.historySize, sink)

	// Exit callbacks block on r.mu until this Create has published s, so
	// an immediately exiting shell is still removed afterwards.
	proc, err := r.spawner.Spawn(tspec, terminal.Callbacks{
		OnOutput: s.handleOutput,
		OnExit: func(code int) {
			s.handleExit(code)
			r.log.Info("session %s exited with code %d", s.id, code)
			r.Remove(s)
		},
	})
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("spawn %s: %w", spec.Shell, err)
	}
	s.proc = proc

	list := make([]*Session, len(cur.list), len(cur.list)+1)
	copy(list, cur.list)
	list = append(list, s)
	r.st.Store(&state{list: list, current: len(list) - 1})
	count := len(list)
	r.mu.Unlock()

	r.log.Info("created session %s (%s in %s), %d live", s.id, spec.Shell, spec.Cwd, count)
	r.notifier.SessionsChanged(count)
	return s, nil
}

// Remove takes s out of the registry by identity and releases its process.
// Removing a session that is not present is a no-op; the result reports
// whether anything was removed.
func (r *Registry) Remove(s *Session) bool {
	if s == nil {
		return false
	}

	r.mu.Lock()
	cur := r.st.Load()
	idx := slices.Index(cur.list, s)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}

	list := make([]*Session, 0, len(cur.list)-1)
	list = append(list, cur.list[:idx]...)
	list = append(list, cur.list[idx+1:]...)

	current := cur.current
	if idx < current {
		current--
	}
	current = clamp(current, len(list))
	r.st.Store(&state{list: list, current: current})
	count := len(list)
	r.mu.Unlock()

	s.close()
	r.log.Info("removed session %s, %d live", s.id, count)
	r.notifier.SessionsChanged(count)
	return true
}

// Sessions returns the sessions in creation order. The slice is the
// caller's to keep; later mutations never show through it.
func (r *Registry) Sessions() []*Session {
	return slices.Clone(r.st.Load().list)
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	return len(r.st.Load().list)
}

// Capacity returns the maximum number of sessions
func (r *Registry) Capacity() int {
	return r.capacity
}

// CurrentIndex returns the index of the current session, or 0 when empty
func (r *Registry) CurrentIndex() int {
	return r.st.Load().current
}

// Current returns the current session
func (r *Registry) Current() (*Session, bool) {
	st := r.st.Load()
	if len(st.list) == 0 {
		return nil, false
	}
	return st.list[st.current], true
}

// SetCurrentIndex selects the current session, clamping i into range. It
// does nothing when the registry is empty.
func (r *Registry) SetCurrentIndex(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.st.Load()
	if len(cur.list) == 0 {
		return
	}
	r.st.Store(&state{list: cur.list, current: clamp(i, len(cur.list))})
}

// Lookup resolves a session handle
func (r *Registry) Lookup(id string) (*Session, error) {
	for _, s := range r.st.Load().list {
		if s.id == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("session %s: %w", id, ErrDeadSession)
}

// IndexOf returns the position of the session with the given handle
func (r *Registry) IndexOf(id string) (int, error) {
	for i, s := range r.st.Load().list {
		if s.id == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("session %s: %w", id, ErrDeadSession)
}

// Write sends input to the session identified by id
func (r *Registry) Write(id string, data []byte) error {
	s, err := r.Lookup(id)
	if err != nil {
		return err
	}
	_, err = s.Write(data)
	return err
}

// Resize changes the terminal size of the session identified by id
func (r *Registry) Resize(id string, cols, rows uint16) error {
	s, err := r.Lookup(id)
	if err != nil {
		return err
	}
	return s.Resize(cols, rows)
}

// RemoveByID removes the session identified by id
func (r *Registry) RemoveByID(id string) error {
	s, err := r.Lookup(id)
	if err != nil {
		return err
	}
	r.Remove(s)
	return nil
}

// RebindSink points every live session, and sessions created later without
// their own sink, at sink. Nil detaches; output is then buffered until the
// next rebind. Concurrent rebinds apply in full, one after the other.
func (r *Registry) RebindSink(sink Sink) {
	r.rebindMu.Lock()
	defer r.rebindMu.Unlock()

	r.mu.Lock()
	r.defaultSink = sink
	list := r.st.Load().list
	r.mu.Unlock()

	for _, s := range list {
		s.SetSink(sink)
	}
	r.log.Debug("rebound sink for %d session(s) (attached=%v)", len(list), sink != nil)
}

// Shutdown closes every session. Used when the host process exits.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	list := r.st.Load().list
	r.st.Store(&state{})
	r.mu.Unlock()

	for _, s := range list {
		s.close()
	}
	if len(list) > 0 {
		r.log.Info("shut down %d session(s)", len(list))
		r.notifier.SessionsChanged(0)
	}
}

func clamp(i, n int) int {
	if n == 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
