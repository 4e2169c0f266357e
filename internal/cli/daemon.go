package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/daemon"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/logger"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/pprof"
)

func newDaemonCmd(a *app) *cobra.Command {
	var (
		initial  bool
		shell    string
		wakeLock bool
		socket   bool
		profile  pprof.Config
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the daemon in the foreground",
		Long:  "Run the daemon that owns terminal sessions and serves the command mailbox until SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if shell != "" {
				cfg.Session.Shell = shell
				initial = true
			}
			if cmd.Flags().Changed("wake-lock") {
				cfg.WakeLock.Enabled = wakeLock
			}
			if cmd.Flags().Changed("socket") {
				cfg.Socket.Enabled = socket
			}

			d, err := daemon.New(daemon.Options{Config: cfg, InitialSession: initial})
			if err != nil {
				return err
			}

			if profile.Enabled() {
				profiler := pprof.NewHandler(profile)
				if err := profiler.Start(); err != nil {
					return err
				}
				defer func() {
					if err := profiler.Stop(); err != nil {
						logger.Warn("stop profiling: %v", err)
					}
				}()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				if errors.Is(err, daemon.ErrAlreadyRunning) {
					return fmt.Errorf("%w (root %s)", err, cfg.Root)
				}
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&initial, "session", false, "open one session with the configured shell at startup")
	cmd.Flags().StringVar(&shell, "shell", "", "shell for the startup session (implies --session)")
	cmd.Flags().BoolVar(&wakeLock, "wake-lock", false, "hold the wake lock while running")
	cmd.Flags().BoolVar(&socket, "socket", false, "serve the unix socket transport")
	cmd.Flags().StringVar(&profile.HTTPAddr, "pprof-addr", "", "serve runtime profiles on this address")
	cmd.Flags().StringVar(&profile.CPUProfile, "cpu-profile", "", "write a CPU profile to this file")
	cmd.Flags().StringVar(&profile.HeapProfile, "heap-profile", "", "write a heap profile to this file at shutdown")
	cmd.Flags().StringVar(&profile.GoroutineProfile, "goroutine-profile", "", "write a goroutine profile to this file at shutdown")
	return cmd
}
