// Package actor provides single-goroutine mailbox actors. Messages sent to
// one ActorRef are processed one at a time in send order.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/logger"
)

var (
	// ErrStopped is returned when sending to an actor that is not running
	ErrStopped = errors.New("actor is stopped")
	// ErrMailboxFull is returned when the mailbox has no free slot
	ErrMailboxFull = errors.New("actor mailbox is full")
)

// Message represents a message sent to an actor
type Message interface {
	Type() string
}

// Actor represents an actor in the actor model
type Actor interface {
	// Receive processes one message
	Receive(ctx context.Context, msg Message) error
	// Start is called once before the first message
	Start(ctx context.Context) error
	// Stop is called once after the last message
	Stop(ctx context.Context) error
	// ID returns the actor's unique identifier
	ID() string
}

// Stats summarises an actor's activity
type Stats struct {
	Processed    int64
	Errors       int64
	LastActivity time.Time
	LastError    string
	MailboxDepth int
}

// ActorRef is a reference to a running actor
type ActorRef struct {
	id      string
	mailbox chan Message
	actor   Actor
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	mu      sync.RWMutex
	started bool
	stopped bool

	processed atomic.Int64
	errors    atomic.Int64
	lastSeen  atomic.Int64
	lastErr   atomic.Value
}

// NewActorRef creates a new actor reference with the given ID, actor
// implementation and mailbox size.
func NewActorRef(id string, actor Actor, mailboxSize int) *ActorRef {
	if mailboxSize <= 0 {
		mailboxSize = 1
	}
	return &ActorRef{
		id:      id,
		actor:   actor,
		mailbox: make(chan Message, mailboxSize),
	}
}

// ID returns the actor's ID
func (ref *ActorRef) ID() string {
	return ref.id
}

// Send enqueues a message without blocking
func (ref *ActorRef) Send(msg Message) error {
	ref.mu.RLock()
	defer ref.mu.RUnlock()
	if !ref.started || ref.stopped {
		return fmt.Errorf("send %s to %s: %w", msg.Type(), ref.id, ErrStopped)
	}

	select {
	case ref.mailbox <- msg:
		return nil
	default:
		return fmt.Errorf("send %s to %s: %w", msg.Type(), ref.id, ErrMailboxFull)
	}
}

// Start starts the actor's message processing loop
func (ref *ActorRef) Start(ctx context.Context) error {
	ref.mu.Lock()
	defer ref.mu.Unlock()
	if ref.started {
		return fmt.Errorf("actor %s already started", ref.id)
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := ref.actor.Start(ctx); err != nil {
		cancel()
		return err
	}
	ref.cancel = cancel
	ref.started = true

	ref.wg.Add(1)
	go ref.run(ctx)
	return nil
}

// Stop stops the actor. Messages still queued are dropped.
func (ref *ActorRef) Stop(ctx context.Context) error {
	ref.mu.Lock()
	if !ref.started || ref.stopped {
		ref.mu.Unlock()
		return nil
	}
	ref.stopped = true
	ref.mu.Unlock()

	ref.cancel()

	done := make(chan struct{})
	go func() {
		ref.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return ref.actor.Stop(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the actor's counters
func (ref *ActorRef) Stats() Stats {
	s := Stats{
		Processed:    ref.processed.Load(),
		Errors:       ref.errors.Load(),
		MailboxDepth: len(ref.mailbox),
	}
	if ns := ref.lastSeen.Load(); ns != 0 {
		s.LastActivity = time.Unix(0, ns)
	}
	if msg, ok := ref.lastErr.Load().(string); ok {
		s.LastError = msg
	}
	return s
}

func (ref *ActorRef) run(ctx context.Context) {
	defer ref.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ref.mailbox:
			ref.lastSeen.Store(time.Now().UnixNano())
			ref.processed.Add(1)
			if err := ref.actor.Receive(ctx, msg); err != nil {
				// Log error but continue processing
				logger.Error("actor %s error processing %s: %v", ref.id, msg.Type(), err)
				ref.errors.Add(1)
				ref.lastErr.Store(err.Error())
			}
		}
	}
}

// Ask sends the message built around a fresh reply channel and waits for
// the actor's reply or ctx.
func Ask[R any](ctx context.Context, ref *ActorRef, build func(reply chan<- R) Message) (R, error) {
	var zero R
	reply := make(chan R, 1)
	if err := ref.Send(build(reply)); err != nil {
		return zero, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
