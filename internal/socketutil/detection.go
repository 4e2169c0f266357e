// Package socketutil locates and probes the daemon's control socket.
package socketutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/socketclient"
)

// DetectionTimeout bounds one probe of the socket
const DetectionTimeout = 1 * time.Second

// State is what a probe found at a socket path
type State int

const (
	// StateMissing means nothing exists at the path
	StateMissing State = iota
	// StateNotSocket means the path exists but is not a unix socket
	StateNotSocket
	// StateStale means a socket file exists but no server answers on it
	StateStale
	// StateActive means a server answered a ping
	StateActive
	// StateUnsupported means the platform has no unix sockets
	StateUnsupported
)

func (s State) String() string {
	switch s {
	case StateMissing:
		return "not found"
	case StateNotSocket:
		return "not a socket"
	case StateStale:
		return "exists but server not responding"
	case StateActive:
		return "active server detected"
	case StateUnsupported:
		return "unix sockets not supported"
	default:
		return "unknown"
	}
}

// ExpandPath resolves a leading ~ to the home directory
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// Detect probes the socket at path. The probe never takes longer than
// DetectionTimeout.
func Detect(ctx context.Context, path string) State {
	return detect(ctx, path)
}

// Describe renders the path and the probe result for humans
func Describe(ctx context.Context, path string) string {
	if path == "" {
		return "socket path: (not configured)"
	}
	return fmt.Sprintf("socket path: %s (%s)", path, Detect(ctx, path))
}

// Connect dials the socket at path, failing fast if nothing answers
func Connect(ctx context.Context, path string) (*socketclient.Client, error) {
	if path == "" {
		return nil, fmt.Errorf("socket path not configured")
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}
	cfg := socketclient.DefaultConfig(expanded)
	cfg.ConnectTimeout = DetectionTimeout
	return socketclient.DialConfig(ctx, cfg)
}
