package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/command"
)

type call struct {
	argv []string
	env  []string
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []call
	output string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, argv []string, env []string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{argv: argv, env: env})
	return []byte(f.output), f.err
}

func (f *fakeRunner) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newHost(t *testing.T, runner *fakeRunner) *Host {
	t.Helper()
	h := New(Options{Runner: runner})
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop(context.Background()) })
	return h
}

func parse(t *testing.T, line string) *command.Descriptor {
	t.Helper()
	d, err := command.Parse(line)
	require.NoError(t, err)
	return d
}

func TestStartActivity(t *testing.T) {
	runner := &fakeRunner{}
	h := newHost(t, runner)

	lines, err := h.StartActivity(context.Background(), parse(t, "start -a VIEW -d https://example.com --es k v"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Starting: Intent { act=VIEW dat=https://example.com (has extras) }"}, lines)

	c := runner.last()
	assert.Equal(t, []string{"xdg-open", "https://example.com"}, c.argv)
	assert.Contains(t, c.env, "HOSTBRIDGE_ACTION=VIEW")
	assert.Contains(t, c.env, "HOSTBRIDGE_DATA=https://example.com")
	assert.Contains(t, c.env, "HOSTBRIDGE_EXTRA_K=v")
}

func TestStartActivityFailure(t *testing.T) {
	runner := &fakeRunner{output: "no handler for scheme\n", err: errors.New("exit status 4")}
	h := newHost(t, runner)

	lines, err := h.StartActivity(context.Background(), parse(t, "start -d foo://bar"))
	require.Error(t, err)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "start activity", execErr.Op)
	assert.Equal(t, "start activity: xdg-open: exit status 4", err.Error())
	assert.Equal(t, []string{"Starting: Intent { dat=foo://bar }", "no handler for scheme"}, lines)
}

func TestStartActivityNotStarted(t *testing.T) {
	h := New(Options{Runner: &fakeRunner{}})
	_, err := h.StartActivity(context.Background(), parse(t, "start -a VIEW"))
	require.Error(t, err)
	var execErr *ExecutionError
	assert.True(t, errors.As(err, &execErr))
}

func TestStartService(t *testing.T) {
	runner := &fakeRunner{}
	h := newHost(t, runner)

	lines, err := h.StartService(context.Background(), parse(t, "startservice -n com.example/.Sync"))
	require.NoError(t, err)
	assert.Equal(t, "Starting service: Intent { cmp=com.example/com.example.Sync }", lines[0])
	assert.Equal(t, []string{"systemctl", "--user", "start", "com.example.Sync.service"}, runner.last().argv)
}

func TestBroadcast(t *testing.T) {
	runner := &fakeRunner{}
	h := newHost(t, runner)

	lines, err := h.Broadcast(context.Background(), parse(t, "broadcast -a org.example.PING"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Broadcasting: Intent { act=org.example.PING }",
		"Broadcast completed: result=0",
	}, lines)
	argv := runner.last().argv
	assert.Equal(t, "dbus-send", argv[0])
	assert.Equal(t, "string:org.example.PING", argv[len(argv)-1])
}

func TestCustomTemplates(t *testing.T) {
	runner := &fakeRunner{output: "ok"}
	h := New(Options{
		Runner:           runner,
		BroadcastCommand: []string{"notify-send", "{action}", "{data}"},
	})

	_, err := h.Broadcast(context.Background(), parse(t, "broadcast -a HELLO -d world"))
	require.NoError(t, err)
	assert.Equal(t, []string{"notify-send", "HELLO", "world"}, runner.last().argv)
}

func TestUnitName(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"startservice -n com.example/.Sync", "com.example.Sync.service"},
		{"startservice -n com.example/Sync", "com.example.Sync.service"},
		{"startservice -n com.example/org.other.Worker", "org.other.Worker.service"},
		{"startservice -a backup.service", "backup.service"},
		{"startservice -a 'weird name/x'", "weird-name-x.service"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UnitName(parse(t, tt.line)), tt.line)
	}
}

func TestEnvironment(t *testing.T) {
	env := Environment(parse(t, "start -a VIEW -t text/html -c A -c B -p pkg -ez dark-mode true -ei level 3"))
	assert.Equal(t, []string{
		"HOSTBRIDGE_VERB=start",
		"HOSTBRIDGE_ACTION=VIEW",
		"HOSTBRIDGE_DATA=",
		"HOSTBRIDGE_MIME=text/html",
		"HOSTBRIDGE_COMPONENT=",
		"HOSTBRIDGE_CATEGORIES=A,B",
		"HOSTBRIDGE_PACKAGE=pkg",
		"HOSTBRIDGE_EXTRA_DARK_MODE=true",
		"HOSTBRIDGE_EXTRA_LEVEL=3",
	}, env)
}

// hangOnceRunner blocks its first call until the context ends
type hangOnceRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *hangOnceRunner) Run(ctx context.Context, argv []string, env []string) ([]byte, error) {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	r.mu.Unlock()
	if first {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []byte("ok\n"), nil
}

func (r *hangOnceRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestHungLaunchDoesNotBlockLaterLaunches(t *testing.T) {
	runner := &hangOnceRunner{}
	h := New(Options{Runner: runner})
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop(context.Background()) })

	d := parse(t, "start -a VIEW -d https://example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := h.StartActivity(ctx, d)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	lines, err := h.StartActivity(ctx2, d)
	require.NoError(t, err)
	assert.Equal(t, "ok", lines[len(lines)-1])
	assert.Equal(t, 2, runner.count())
}

func TestLaunchSkippedWhenCallerGaveUp(t *testing.T) {
	runner := &fakeRunner{}
	h := newHost(t, runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.StartActivity(ctx, parse(t, "start -a VIEW -d https://example.com"))
	assert.ErrorIs(t, err, context.Canceled)

	// The dispatcher drains the abandoned request without running it.
	_, err = h.StartActivity(context.Background(), parse(t, "start -a VIEW -d https://example.org"))
	require.NoError(t, err)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"xdg-open", "https://example.org"}, runner.calls[0].argv)
}
