package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/daemon"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/socketutil"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a daemon runs for the root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "root: %s\n", a.cfg.Root)

			pid := daemon.PidFile(a.cfg)
			running := pid.Alive()
			if running {
				n, _ := pid.Read()
				fmt.Fprintf(out, "daemon: running (pid %d)\n", n)
			} else {
				fmt.Fprintln(out, "daemon: not running")
			}

			fmt.Fprintln(out, socketutil.Describe(cmd.Context(), a.cfg.SocketPath()))
			if !running {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
}
