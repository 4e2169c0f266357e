//go:build unix

package lockfile

import (
	"errors"
	"os"
	"syscall"
)

// processAlive reports whether pid names a live process. EPERM means the
// process exists but belongs to someone else, which still counts as alive.
func processAlive(pid int) (bool, string) {
	if pid <= 0 {
		return false, "invalid pid"
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, "process not found"
	}

	err = process.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true, ""
	case errors.Is(err, os.ErrProcessDone):
		return false, "process has finished"
	case errors.Is(err, syscall.EPERM):
		return true, ""
	default:
		return false, "cannot signal process"
	}
}
