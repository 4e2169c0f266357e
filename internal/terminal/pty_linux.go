//go:build linux

package terminal

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/consts"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/logger"
	"golang.org/x/sys/unix"
)

// drainGrace bounds how long the exit path waits for buffered output after
// the shell itself has exited. Background children can keep the slave open
// indefinitely.
const drainGrace = 200 * time.Millisecond

// PTYSpawner starts shells on Linux devpts pseudo-terminals
type PTYSpawner struct{}

// NewPTYSpawner creates a PTY spawner
func NewPTYSpawner() *PTYSpawner { return &PTYSpawner{} }

// Spawn starts spec.Shell with spec.Args on a fresh PTY. The child becomes a
// session leader with the PTY as its controlling terminal.
func (PTYSpawner) Spawn(spec Spec, cb Callbacks) (Process, error) {
	if spec.Shell == "" {
		return nil, errors.New("terminal: shell path is empty")
	}

	master, slavePath, err := openPTY()
	if err != nil {
		return nil, fmt.Errorf("allocate PTY: %w", err)
	}

	cols, rows := spec.Cols, spec.Rows
	if cols == 0 || rows == 0 {
		cols, rows = 80, 24
	}
	if err := setWindowSize(master, cols, rows); err != nil {
		logger.Warn("terminal: set initial window size: %v", err)
	}

	slave, err := os.OpenFile(slavePath, os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		master.Close()
		return nil, fmt.Errorf("open PTY slave %s: %w", slavePath, err)
	}

	cmd := exec.Command(spec.Shell, spec.Args...)
	cmd.Dir = spec.Cwd
	cmd.Env = spec.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = slave, slave, slave
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	}

	if err := cmd.Start(); err != nil {
		slave.Close()
		master.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Shell, err)
	}
	// The child holds its own copies of the slave descriptor.
	slave.Close()

	p := &ptyProcess{
		cmd:        cmd,
		master:     master,
		readerDone: make(chan struct{}),
	}
	go p.readLoop(cb.OnOutput)
	go p.waitLoop(cb.OnExit)

	logger.Debug("terminal: started %s pid=%d on %s", spec.Shell, cmd.Process.Pid, slavePath)
	return p, nil
}

type ptyProcess struct {
	cmd        *exec.Cmd
	master     *os.File
	readerDone chan struct{}
	exited     atomic.Bool
	closeOnce  sync.Once
}

func (p *ptyProcess) readLoop(onOutput func([]byte)) {
	defer close(p.readerDone)
	buf := make([]byte, consts.BufferSize4KB)
	for {
		n, err := p.master.Read(buf)
		if n > 0 && onOutput != nil {
			onOutput(buf[:n])
		}
		if err != nil {
			// EIO once every slave descriptor is closed; EBADF after Close.
			return
		}
	}
}

func (p *ptyProcess) waitLoop(onExit func(int)) {
	code := exitCode(p.cmd.Wait())
	p.exited.Store(true)

	select {
	case <-p.readerDone:
	case <-time.After(drainGrace):
	}
	p.closeMaster()
	<-p.readerDone

	if onExit != nil {
		onExit(code)
	}
}

func (p *ptyProcess) Write(data []byte) (int, error) {
	return p.master.Write(data)
}

func (p *ptyProcess) Resize(cols, rows uint16) error {
	return setWindowSize(p.master, cols, rows)
}

func (p *ptyProcess) Pid() int {
	return p.cmd.Process.Pid
}

// Close hangs up the whole process group, as a terminal disconnect would.
func (p *ptyProcess) Close() error {
	if !p.exited.Load() {
		if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGHUP); err != nil && !errors.Is(err, syscall.ESRCH) {
			logger.Warn("terminal: hangup pid=%d: %v", p.cmd.Process.Pid, err)
		}
	}
	p.closeMaster()
	return nil
}

func (p *ptyProcess) closeMaster() {
	p.closeOnce.Do(func() { _ = p.master.Close() })
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return -1
}

// openPTY allocates a PTY master/slave pair using the Linux devpts interface
// and returns the master together with the slave's path. The master stays in
// non-blocking mode (ioctls go through SyscallConn rather than Fd) so that
// Close unblocks a pending Read.
func openPTY() (*os.File, string, error) {
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, "", fmt.Errorf("open /dev/ptmx: %w", err)
	}

	var ptyNumber int
	err = control(master, func(fd int) error {
		n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
		if err != nil {
			return fmt.Errorf("get PTY number (TIOCGPTN): %w", err)
		}
		ptyNumber = n
		if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
			return fmt.Errorf("unlock PTY slave (TIOCSPTLCK): %w", err)
		}
		return nil
	})
	if err != nil {
		master.Close()
		return nil, "", err
	}
	return master, fmt.Sprintf("/dev/pts/%d", ptyNumber), nil
}

func setWindowSize(f *os.File, cols, rows uint16) error {
	return control(f, func(fd int) error {
		return unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, &unix.Winsize{Col: cols, Row: rows})
	})
}

func control(f *os.File, fn func(fd int) error) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := raw.Control(func(fd uintptr) { opErr = fn(int(fd)) }); err != nil {
		return err
	}
	return opErr
}
