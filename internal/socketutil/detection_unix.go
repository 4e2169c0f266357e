//go:build linux || darwin

package socketutil

import (
	"context"
	"os"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/logger"
)

func detect(ctx context.Context, path string) State {
	log := logger.Global().WithPrefix("socketutil")

	expanded, err := ExpandPath(path)
	if err != nil {
		log.Warn("failed to expand socket path: %v", err)
		return StateMissing
	}

	stat, err := os.Stat(expanded)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Debug("error checking socket file: %v", err)
		}
		return StateMissing
	}
	if stat.Mode()&os.ModeSocket == 0 {
		log.Debug("file exists but is not a socket: %s", expanded)
		return StateNotSocket
	}

	ctx, cancel := context.WithTimeout(ctx, DetectionTimeout)
	defer cancel()

	c, err := Connect(ctx, expanded)
	if err != nil {
		log.Debug("socket exists but connection failed: %v", err)
		return StateStale
	}
	defer c.Close()

	if err := c.Ping(ctx); err != nil {
		log.Debug("socket server did not answer ping: %v", err)
		return StateStale
	}
	return StateActive
}
