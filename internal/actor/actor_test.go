package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type echoRequest struct {
	text  string
	reply chan<- string
}

func (echoRequest) Type() string { return "echo" }

type failRequest struct{}

func (failRequest) Type() string { return "fail" }

type blockRequest struct {
	release chan struct{}
}

func (blockRequest) Type() string { return "block" }

type testActor struct {
	mu       sync.Mutex
	received []string
	started  bool
	stopped  bool
}

func (a *testActor) ID() string { return "test" }

func (a *testActor) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = true
	return nil
}

func (a *testActor) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	return nil
}

func (a *testActor) Receive(ctx context.Context, msg Message) error {
	switch m := msg.(type) {
	case echoRequest:
		a.mu.Lock()
		a.received = append(a.received, m.text)
		a.mu.Unlock()
		m.reply <- m.text
	case blockRequest:
		<-m.release
	case failRequest:
		return errors.New("boom")
	}
	return nil
}

func (a *testActor) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.received...)
}

func startActor(t *testing.T, a Actor, size int) *ActorRef {
	t.Helper()
	ref := NewActorRef("test", a, size)
	if err := ref.Start(context.Background()); err != nil {
		t.Fatalf("failed to start actor: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ref.Stop(ctx)
	})
	return ref
}

func echo(ctx context.Context, ref *ActorRef, text string) (string, error) {
	return Ask(ctx, ref, func(reply chan<- string) Message {
		return echoRequest{text: text, reply: reply}
	})
}

func TestAskRoundTrip(t *testing.T) {
	ref := startActor(t, &testActor{}, 4)

	got, err := echo(context.Background(), ref, "hello")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if got != "hello" {
		t.Errorf("expected 'hello', got %q", got)
	}
}

func TestMessagesProcessedInOrder(t *testing.T) {
	a := &testActor{}
	ref := startActor(t, a, 16)

	ctx := context.Background()
	want := []string{"a", "b", "c", "d"}
	for _, s := range want[:3] {
		if err := ref.Send(echoRequest{text: s, reply: make(chan string, 1)}); err != nil {
			t.Fatalf("send %s: %v", s, err)
		}
	}
	// The reply to the last message proves the earlier ones were handled.
	if _, err := echo(ctx, ref, "d"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	got := a.texts()
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSendBeforeStartAndAfterStop(t *testing.T) {
	a := &testActor{}
	ref := NewActorRef("test", a, 1)
	if err := ref.Send(failRequest{}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped before start, got %v", err)
	}

	if err := ref.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ref.Start(context.Background()); err == nil {
		t.Error("expected error on second start")
	}
	if err := ref.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := ref.Stop(context.Background()); err != nil {
		t.Errorf("second stop should be a no-op, got %v", err)
	}
	if !a.started || !a.stopped {
		t.Error("expected Start and Stop hooks to run")
	}
	if err := ref.Send(failRequest{}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after stop, got %v", err)
	}
}

func TestMailboxFull(t *testing.T) {
	ref := startActor(t, &testActor{}, 1)

	release := make(chan struct{})
	defer close(release)
	if err := ref.Send(blockRequest{release: release}); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Wait for the actor to pick up the blocking message, then fill the slot.
	deadline := time.Now().Add(time.Second)
	for ref.Stats().Processed == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := ref.Send(failRequest{}); err != nil {
		t.Fatalf("send into free slot: %v", err)
	}
	if err := ref.Send(failRequest{}); !errors.Is(err, ErrMailboxFull) {
		t.Errorf("expected ErrMailboxFull, got %v", err)
	}
}

func TestReceiveErrorIsCounted(t *testing.T) {
	ref := startActor(t, &testActor{}, 4)

	if err := ref.Send(failRequest{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := echo(context.Background(), ref, "after"); err != nil {
		t.Fatalf("actor stopped processing after an error: %v", err)
	}

	stats := ref.Stats()
	if stats.Errors != 1 {
		t.Errorf("expected 1 error, got %d", stats.Errors)
	}
	if stats.LastError != "boom" {
		t.Errorf("expected last error 'boom', got %q", stats.LastError)
	}
	if stats.Processed != 2 {
		t.Errorf("expected 2 processed, got %d", stats.Processed)
	}
}

func TestAskHonoursContext(t *testing.T) {
	ref := startActor(t, &testActor{}, 4)

	release := make(chan struct{})
	defer close(release)
	if err := ref.Send(blockRequest{release: release}); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := echo(ctx, ref, "late"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
