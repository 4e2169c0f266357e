// Package daemon is the host process: it owns the session registry and
// everything that serves it for as long as the process runs.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/broker"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/config"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/consts"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/host"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/lockfile"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/logger"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/mailbox"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/pidfile"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/session"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/socketserver"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/terminal"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/wakelock"
)

// ErrAlreadyRunning is returned by Run when another daemon owns the root
var ErrAlreadyRunning = errors.New("daemon is already running for this root")

// Options configures a Daemon. Zero-valued hooks select the real
// implementations.
type Options struct {
	Config *config.Config
	// InitialSession opens one session with the configured shell at startup
	InitialSession bool

	Spawner terminal.Spawner
	Runner  host.Runner
	// WakeLock overrides the resources built from the configuration
	WakeLock *wakelock.Manager
}

// Daemon wires the registry, broker, host primitives and optional socket
// server together and tears them down in reverse order.
type Daemon struct {
	cfg     *config.Config
	initial bool

	lock     *lockfile.Lockfile
	pid      *pidfile.Pidfile
	registry *session.Registry
	host     *host.Host
	broker   *broker.Broker
	socket   *socketserver.Server
	wake     *wakelock.Manager

	log *logger.Logger
}

// New builds a daemon. Nothing is started until Run.
func New(opts Options) (*Daemon, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:     cfg,
		initial: opts.InitialSession,
		lock:    lockfile.New(filepath.Join(cfg.RunDir(), "daemon.lock"), lockfile.WithLabel("mobilecli daemon")),
		pid:     PidFile(cfg),
		log:     logger.Global().WithPrefix("daemon"),
	}

	d.registry = session.NewRegistry(session.Options{
		Capacity:    cfg.Registry.Capacity,
		HistorySize: cfg.Registry.HistorySize,
		Spawner:     opts.Spawner,
	})
	d.host = host.New(host.Options{
		ViewCommand:      cfg.Host.ViewCommand,
		ServiceCommand:   cfg.Host.ServiceCommand,
		BroadcastCommand: cfg.Host.BroadcastCommand,
		Runner:           opts.Runner,
	})
	d.broker = broker.New(broker.Options{
		Layout:           mailbox.NewLayout(cfg.Root),
		Executor:         d.host,
		PollInterval:     cfg.Broker.PollInterval,
		Watch:            cfg.Broker.Watch,
		StaleResultAfter: cfg.Broker.StaleResultAfter,
		ExecTimeout:      cfg.Broker.ExecTimeout,
		Version:          consts.Version,
	})
	if cfg.Socket.Enabled {
		d.socket = socketserver.NewServer(socketserver.Options{
			Path:           cfg.SocketPath(),
			MaxConnections: cfg.Socket.MaxConnections,
			Defaults:       d.sessionSpec(),
		}, d.registry, d.broker)
	}

	switch {
	case opts.WakeLock != nil:
		d.wake = opts.WakeLock
	case cfg.WakeLock.Enabled:
		d.wake = wakelock.NewManager(
			resource(cfg, "primary", cfg.WakeLock.Primary),
			resource(cfg, "secondary", cfg.WakeLock.Secondary),
		)
	}
	return d, nil
}

// PidFile returns the PID file a daemon for cfg writes
func PidFile(cfg *config.Config) *pidfile.Pidfile {
	return pidfile.New(filepath.Join(cfg.RunDir(), "daemon.pid"))
}

func resource(cfg *config.Config, name string, rc config.ResourceConfig) wakelock.Resource {
	what := rc.What
	if what == "" {
		what = name
	}
	if rc.Kind == config.ResourceFile {
		return wakelock.NewFileResource(cfg.LockDir(), what)
	}
	return wakelock.NewInhibitorResource(name, what, rc.Command)
}

func (d *Daemon) sessionSpec() session.Spec {
	s := d.cfg.Session
	return session.Spec{
		Shell: s.Shell,
		Cwd:   s.Cwd,
		Args:  s.Args,
		Env:   s.Env,
		Cols:  s.Cols,
		Rows:  s.Rows,
	}
}

// Registry returns the daemon's session registry
func (d *Daemon) Registry() *session.Registry { return d.registry }

// Broker returns the daemon's broker
func (d *Daemon) Broker() *broker.Broker { return d.broker }

// Run starts every component and blocks until ctx is cancelled or the
// broker fails. Shutdown runs in reverse start order.
func (d *Daemon) Run(ctx context.Context) (err error) {
	if err := d.lock.TryAcquire(); err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			return fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
		}
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	defer d.release("daemon lock", d.lock.Release)

	if err := d.pid.Write(); err != nil {
		return err
	}
	defer d.release("pidfile", d.pid.Remove)

	if d.wake != nil {
		if err := d.wake.Acquire(); err != nil {
			d.log.Warn("running without wake lock: %v", err)
		} else {
			defer d.release("wake lock", d.wake.Release)
		}
	}

	if err := d.host.Start(ctx); err != nil {
		return fmt.Errorf("start host primitives: %w", err)
	}
	defer d.release("host primitives", func() error { return d.host.Stop(context.Background()) })

	defer d.registry.Shutdown()
	if d.initial {
		if _, err := d.registry.Create(d.sessionSpec()); err != nil {
			d.log.Error("initial session: %v", err)
		}
	}

	if d.socket != nil {
		if err := d.socket.Start(ctx); err != nil {
			return fmt.Errorf("start socket server: %w", err)
		}
		defer d.release("socket server", d.socket.Stop)
	}

	d.log.Info("daemon %s running for %s (pid file %s)", consts.Version, d.cfg.Root, d.pid.Path())
	err = d.broker.Run(ctx)
	d.log.Info("daemon shutting down")
	return err
}

func (d *Daemon) release(what string, fn func() error) {
	if err := fn(); err != nil {
		d.log.Warn("release %s: %v", what, err)
	}
}
