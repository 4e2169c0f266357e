package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/client"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/config"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/consts"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/mailbox"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/socketclient"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/terminal"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/wakelock"
)

type nopProc struct {
	mu     sync.Mutex
	closed bool
}

func (p *nopProc) Write(data []byte) (int, error) { return len(data), nil }
func (p *nopProc) Resize(cols, rows uint16) error { return nil }
func (p *nopProc) Pid() int                       { return 31337 }

func (p *nopProc) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type nopSpawner struct {
	mu    sync.Mutex
	procs []*nopProc
}

func (s *nopSpawner) Spawn(_ terminal.Spec, _ terminal.Callbacks) (terminal.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &nopProc{}
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *nopSpawner) allClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.procs {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if !closed {
			return false
		}
	}
	return true
}

type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingRunner) Run(_ context.Context, argv []string, _ []string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string(nil), argv...))
	return nil, nil
}

type flagResource struct {
	mu   sync.Mutex
	held bool
	fail bool
}

func (f *flagResource) Name() string { return "flag" }

func (f *flagResource) Acquire() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("unavailable")
	}
	f.held = true
	return nil
}

func (f *flagResource) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
	return nil
}

func (f *flagResource) isHeld() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Root = t.TempDir()
	cfg.Broker.PollInterval = 5 * time.Millisecond
	cfg.Broker.Watch = false
	cfg.Session.Shell = "/bin/sh"
	cfg.Session.Cwd = "/"
	cfg.Host.ViewCommand = []string{"open", "{target}"}
	return cfg
}

type running struct {
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, d *Daemon) *running {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- d.Run(ctx) }()
	t.Cleanup(func() { _ = r.stop(t) })
	return r
}

func (r *running) stop(t *testing.T) error {
	r.cancel()
	select {
	case err, ok := <-r.done:
		if !ok {
			return nil
		}
		close(r.done)
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
		return nil
	}
}

func fastClient(cfg *config.Config) *client.Client {
	return client.New(mailbox.NewLayout(cfg.Root), client.Options{
		PollInterval:  5 * time.Millisecond,
		MaxIterations: 400,
	})
}

func TestRunServesCommands(t *testing.T) {
	cfg := testConfig(t)
	runner := &recordingRunner{}
	d, err := New(Options{Config: cfg, Spawner: &nopSpawner{}, Runner: runner})
	require.NoError(t, err)
	start(t, d)

	c := fastClient(cfg)
	res, err := c.Call(context.Background(), "--version", false)
	require.NoError(t, err)
	assert.Equal(t, mailbox.Result{Code: 0, Output: []string{consts.Version}}, res)

	res, err = c.Call(context.Background(), "start -a VIEW -d https://example.com", false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Code)
	require.NotEmpty(t, res.Output)
	assert.True(t, strings.HasPrefix(res.Output[0], "Starting: Intent {"), res.Output[0])

	runner.mu.Lock()
	assert.Equal(t, [][]string{{"open", "https://example.com"}}, runner.calls)
	runner.mu.Unlock()

	res, err = c.Call(context.Background(), "frobnicate", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Code)
}

func TestRunWritesAndRemovesPidAndLock(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(Options{Config: cfg, Spawner: &nopSpawner{}})
	require.NoError(t, err)
	r := start(t, d)

	pid := PidFile(cfg)
	require.Eventually(t, pid.Alive, 2*time.Second, 5*time.Millisecond)
	got, err := pid.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), got)

	require.NoError(t, r.stop(t))
	_, err = os.Stat(pid.Path())
	assert.True(t, os.IsNotExist(err), "pid file removed")
	_, err = os.Stat(filepath.Join(cfg.RunDir(), "daemon.lock"))
	assert.True(t, os.IsNotExist(err), "lock released")
}

func TestSecondDaemonIsRejected(t *testing.T) {
	cfg := testConfig(t)
	first, err := New(Options{Config: cfg, Spawner: &nopSpawner{}})
	require.NoError(t, err)
	start(t, first)
	require.Eventually(t, PidFile(cfg).Alive, 2*time.Second, 5*time.Millisecond)

	second, err := New(Options{Config: cfg, Spawner: &nopSpawner{}})
	require.NoError(t, err)
	err = second.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestInitialSessionAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	sp := &nopSpawner{}
	primary, secondary := &flagResource{}, &flagResource{}
	wake := wakelock.NewManager(primary, secondary)

	d, err := New(Options{Config: cfg, InitialSession: true, Spawner: sp, WakeLock: wake})
	require.NoError(t, err)
	r := start(t, d)

	require.Eventually(t, func() bool { return d.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, wake.IsHeld())
	assert.True(t, primary.isHeld())

	require.NoError(t, r.stop(t))
	assert.Equal(t, 0, d.Registry().Len())
	assert.True(t, sp.allClosed())
	assert.False(t, wake.IsHeld())
	assert.False(t, primary.isHeld())
	assert.False(t, secondary.isHeld())
}

func TestWakeLockFailureIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	wake := wakelock.NewManager(&flagResource{}, &flagResource{fail: true})
	d, err := New(Options{Config: cfg, Spawner: &nopSpawner{}, WakeLock: wake})
	require.NoError(t, err)
	start(t, d)

	res, err := fastClient(cfg).Call(context.Background(), "--version", false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Code)
	assert.False(t, wake.IsHeld())
}

func TestSocketTransport(t *testing.T) {
	cfg := testConfig(t)
	dir, err := os.MkdirTemp("", "dm")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	cfg.Socket.Enabled = true
	cfg.Socket.Path = filepath.Join(dir, "d.sock")

	d, err := New(Options{Config: cfg, Spawner: &nopSpawner{}})
	require.NoError(t, err)
	start(t, d)

	var sc *socketclient.Client
	require.Eventually(t, func() bool {
		sc, err = socketclient.Dial(context.Background(), cfg.Socket.Path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer sc.Close()

	res, err := sc.Command(context.Background(), "--version")
	require.NoError(t, err)
	assert.Equal(t, []string{consts.Version}, res.Output)

	created, err := sc.CreateSession(context.Background(), socketclient.SessionOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, created.Index)
	assert.Equal(t, 1, d.Registry().Len())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Registry.Capacity = 0
	_, err := New(Options{Config: cfg})
	assert.Error(t, err)
}

// slowRunner holds each launch and records the peak number running at once.
type slowRunner struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	done    int
}

func (r *slowRunner) Run(ctx context.Context, _ []string, _ []string) ([]byte, error) {
	r.mu.Lock()
	r.active++
	r.maxSeen = max(r.maxSeen, r.active)
	r.mu.Unlock()

	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
	r.done++
	return nil, ctx.Err()
}

func TestSocketCommandsRunInTurn(t *testing.T) {
	cfg := testConfig(t)
	dir, err := os.MkdirTemp("", "dm")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	cfg.Socket.Enabled = true
	cfg.Socket.Path = filepath.Join(dir, "d.sock")
	cfg.Host.BroadcastCommand = []string{"emit", "{action}"}

	runner := &slowRunner{}
	d, err := New(Options{Config: cfg, Spawner: &nopSpawner{}, Runner: runner})
	require.NoError(t, err)
	start(t, d)

	dial := func() *socketclient.Client {
		var sc *socketclient.Client
		require.Eventually(t, func() bool {
			sc, err = socketclient.Dial(context.Background(), cfg.Socket.Path)
			return err == nil
		}, 2*time.Second, 10*time.Millisecond)
		t.Cleanup(func() { sc.Close() })
		return sc
	}
	clients := []*socketclient.Client{dial(), dial()}

	began := time.Now()
	var wg sync.WaitGroup
	codes := make([]int, len(clients))
	errs := make([]error, len(clients))
	for i, sc := range clients {
		wg.Add(1)
		go func(i int, sc *socketclient.Client) {
			defer wg.Done()
			res, err := sc.Command(context.Background(), "broadcast -a PING")
			codes[i], errs[i] = res.Code, err
		}(i, sc)
	}
	wg.Wait()

	for i := range clients {
		require.NoError(t, errs[i])
		assert.Equal(t, 0, codes[i], "client %d", i)
	}
	assert.GreaterOrEqual(t, time.Since(began), 200*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 2, runner.done)
	assert.Equal(t, 1, runner.maxSeen, "socket commands overlapped")
}
