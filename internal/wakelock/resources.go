package wakelock

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/lockfile"
)

// FileResource is a keep-awake marker backed by a lock file under dir. It
// lets other tooling (and the user) see that a wake lock is held.
type FileResource struct {
	name string
	lock *lockfile.Lockfile
}

// NewFileResource creates a marker at <dir>/<name>.lock
func NewFileResource(dir, name string) *FileResource {
	return &FileResource{
		name: name,
		lock: lockfile.New(filepath.Join(dir, name+".lock"), lockfile.WithLabel("wakelock:"+name)),
	}
}

func (r *FileResource) Name() string { return r.name }

func (r *FileResource) Acquire() error { return r.lock.TryAcquire() }

func (r *FileResource) Release() error { return r.lock.Release() }

// InhibitorResource holds a long-running inhibitor process, by default
// `systemd-inhibit --what=<what> --who=mobilecli --why=... sleep infinity`,
// and kills it on release.
type InhibitorResource struct {
	name string
	argv []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewInhibitorResource creates a resource running argv while held. An empty
// argv selects the systemd-inhibit default for what.
func NewInhibitorResource(name, what string, argv []string) *InhibitorResource {
	if len(argv) == 0 {
		argv = []string{
			"systemd-inhibit",
			"--what=" + what,
			"--who=mobilecli",
			"--why=terminal sessions running",
			"--mode=block",
			"sleep", "infinity",
		}
	}
	return &InhibitorResource{name: name, argv: argv}
}

func (r *InhibitorResource) Name() string { return r.name }

func (r *InhibitorResource) Acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return nil
	}

	cmd := exec.Command(r.argv[0], r.argv[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start inhibitor %s: %w", r.argv[0], err)
	}
	r.cmd = cmd
	return nil
}

func (r *InhibitorResource) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil {
		return nil
	}
	cmd := r.cmd
	r.cmd = nil

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop inhibitor: %w", err)
	}
	_ = cmd.Wait()
	return nil
}
