// Package broker runs the privileged operation loop: it consumes commands
// from the control mailbox, executes them against host primitives and
// publishes a result for the caller.
//
// A command is read and deleted before it is executed, so a crash while
// executing loses the command rather than running it twice.
package broker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/command"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/consts"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/logger"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/mailbox"
)

// Executor performs the three privileged primitives. Returned lines become
// the result body; an error turns the result into a failure.
type Executor interface {
	StartActivity(ctx context.Context, d *command.Descriptor) ([]string, error)
	StartService(ctx context.Context, d *command.Descriptor) ([]string, error)
	Broadcast(ctx context.Context, d *command.Descriptor) ([]string, error)
}

// State is the broker's position in its consume/execute/publish cycle
type State int32

const (
	StateIdle State = iota
	StateConsuming
	StateExecuting
	StatePublishing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConsuming:
		return "CONSUMING"
	case StateExecuting:
		return "EXECUTING"
	case StatePublishing:
		return "PUBLISHING_RESULT"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats counts dispatched commands
type Stats struct {
	Handled     int64
	Failed      int64
	Malformed   int64
	LastCommand time.Time
}

// Options configures a Broker
type Options struct {
	Layout   mailbox.Layout
	Executor Executor
	// PollInterval is how often the command slot is checked
	PollInterval time.Duration
	// Watch adds filesystem notifications on top of polling
	Watch bool
	// StaleResultAfter is the age at which unclaimed results are swept at
	// startup. Zero disables the sweep.
	StaleResultAfter time.Duration
	// ExecTimeout bounds a single primitive
	ExecTimeout time.Duration
	Version     string
}

// Broker owns the command slot of one install root
type Broker struct {
	layout       mailbox.Layout
	exec         Executor
	pollInterval time.Duration
	watch        bool
	staleAfter   time.Duration
	execTimeout  time.Duration
	version      string

	state     atomic.Int32
	handled   atomic.Int64
	failed    atomic.Int64
	malformed atomic.Int64
	lastCmd   atomic.Int64

	// execMu keeps executions from overlapping whoever calls Dispatch
	execMu   sync.Mutex
	requests chan submitRequest
	stopped  chan struct{}
	stopOnce sync.Once

	log *logger.Logger
}

type submitRequest struct {
	ctx   context.Context
	line  string
	reply chan mailbox.Result
}

// ErrStopped is reported by Submit once Run has returned
var ErrStopped = errors.New("broker stopped")

// New creates a broker
func New(opts Options) *Broker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = consts.BrokerPollInterval
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = consts.Timeout30Seconds
	}
	if opts.Version == "" {
		opts.Version = consts.Version
	}
	return &Broker{
		layout:       opts.Layout,
		exec:         opts.Executor,
		pollInterval: opts.PollInterval,
		watch:        opts.Watch,
		staleAfter:   opts.StaleResultAfter,
		execTimeout:  opts.ExecTimeout,
		version:      opts.Version,
		requests:     make(chan submitRequest),
		stopped:      make(chan struct{}),
		log:          logger.Global().WithPrefix("broker"),
	}
}

// State returns the current cycle state
func (b *Broker) State() State {
	return State(b.state.Load())
}

// Stats returns dispatch counters
func (b *Broker) Stats() Stats {
	s := Stats{
		Handled:   b.handled.Load(),
		Failed:    b.failed.Load(),
		Malformed: b.malformed.Load(),
	}
	if ns := b.lastCmd.Load(); ns != 0 {
		s.LastCommand = time.Unix(0, ns)
	}
	return s
}

// Run processes commands until ctx is cancelled. Cycles never overlap: the
// ticker and watcher only decide when the next one starts.
func (b *Broker) Run(ctx context.Context) error {
	defer b.stopOnce.Do(func() { close(b.stopped) })

	if err := b.layout.EnsureDirs(); err != nil {
		return err
	}
	if b.staleAfter > 0 {
		n, err := b.layout.SweepResults(time.Now().Add(-b.staleAfter))
		if err != nil {
			b.log.Warn("sweep stale results: %v", err)
		} else if n > 0 {
			b.log.Info("swept %d stale result slot(s)", n)
		}
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if b.watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			b.log.Warn("failed to create file watcher, polling only: %v", err)
		} else {
			defer watcher.Close()
			if err := watcher.Add(b.layout.ControlDir()); err != nil {
				b.log.Warn("failed to watch %s, polling only: %v", b.layout.ControlDir(), err)
			} else {
				events, errs = watcher.Events, watcher.Errors
			}
		}
	}

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	b.log.Info("broker running on %s (poll=%s watch=%v)", b.layout.ControlDir(), b.pollInterval, events != nil)

	// A command written before we started is still ours to serve.
	b.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			b.log.Info("broker stopped")
			return nil
		case <-ticker.C:
			b.Cycle(ctx)
		case req := <-b.requests:
			b.serve(req)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(event.Name) == mailbox.CommandSlotName && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				b.Cycle(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			b.log.Error("filesystem watcher error: %v", err)
		}
	}
}

// Cycle runs one consume/execute/publish pass and reports whether a command
// was handled.
func (b *Broker) Cycle(ctx context.Context) bool {
	defer b.setState(StateIdle)

	slot := b.layout.Command()
	if !slot.Exists() {
		return false
	}

	b.setState(StateConsuming)
	data, err := slot.Take()
	if err != nil {
		if !errors.Is(err, mailbox.ErrEmpty) {
			b.log.Error("consume command: %v", err)
		}
		return false
	}

	env, rejected := mailbox.DecodeEnvelope(data)
	if rejected {
		b.log.Warn("ignoring invalid reply-to in command %q, answering on %s", env.Line, mailbox.ResultSlotName)
	}

	b.setState(StateExecuting)
	res := b.Dispatch(ctx, env.Line)

	b.setState(StatePublishing)
	if err := b.layout.Result(env.ReplyTo).Put(res.Encode()); err != nil {
		b.log.Error("publish result for %q to %s: %v", env.Line, env.ReplyTo, err)
	}
	b.log.Debug("answered %q on %s with code %d", env.Line, env.ReplyTo, res.Code)
	return true
}

// Submit hands line to the Run loop and waits for its result, so it runs
// between mailbox cycles and never beside one. It blocks until Run picks
// the command up.
func (b *Broker) Submit(ctx context.Context, line string) mailbox.Result {
	req := submitRequest{ctx: ctx, line: line, reply: make(chan mailbox.Result, 1)}
	select {
	case b.requests <- req:
	case <-b.stopped:
		return mailbox.Resultf(consts.ExitFailure, "Error: %v", ErrStopped)
	case <-ctx.Done():
		return mailbox.Resultf(consts.ExitFailure, "Error: %v", ctx.Err())
	}

	select {
	case res := <-req.reply:
		return res
	case <-ctx.Done():
		return mailbox.Resultf(consts.ExitFailure, "Error: %v", ctx.Err())
	}
}

func (b *Broker) serve(req submitRequest) {
	defer b.setState(StateIdle)
	b.setState(StateExecuting)
	req.reply <- b.Dispatch(req.ctx, req.line)
}

// Dispatch parses and executes one command line. It never panics and never
// returns an error: every failure is folded into a nonzero result.
// Concurrent calls execute one at a time.
func (b *Broker) Dispatch(ctx context.Context, line string) (res mailbox.Result) {
	b.execMu.Lock()
	defer b.execMu.Unlock()

	b.handled.Add(1)
	b.lastCmd.Store(time.Now().UnixNano())

	defer func() {
		if r := recover(); r != nil {
			b.failed.Add(1)
			b.log.Error("panic dispatching %q: %v", line, r)
			res = mailbox.Resultf(consts.ExitFailure, "Error: internal failure: %v", r)
		}
	}()

	d, err := command.Parse(line)
	if err != nil {
		b.malformed.Add(1)
		b.log.Warn("rejected command %q: %v", line, err)
		return mailbox.Resultf(consts.ExitMalformed, "Error: %v", err)
	}

	if d.Verb == command.VerbVersion {
		return mailbox.Result{Code: 0, Output: []string{b.version}}
	}
	if b.exec == nil {
		b.failed.Add(1)
		return mailbox.Resultf(consts.ExitFailure, "Error: no executor configured")
	}

	ctx, cancel := context.WithTimeout(ctx, b.execTimeout)
	defer cancel()

	var lines []string
	switch d.Verb {
	case command.VerbStart:
		lines, err = b.exec.StartActivity(ctx, d)
	case command.VerbStartService:
		lines, err = b.exec.StartService(ctx, d)
	case command.VerbBroadcast:
		lines, err = b.exec.Broadcast(ctx, d)
	}
	if err != nil {
		b.failed.Add(1)
		b.log.Warn("%s failed: %v", d.Verb, err)
		return mailbox.Result{Code: consts.ExitFailure, Output: append(lines, "Error: "+err.Error())}
	}

	b.log.Info("executed %s", d.String())
	return mailbox.Result{Code: 0, Output: lines}
}

func (b *Broker) setState(s State) {
	b.state.Store(int32(s))
}
