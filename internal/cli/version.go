package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/consts"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mobilecli version",
		Args:  cobra.NoArgs,
		// The version never needs a config or a logger
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), consts.Version)
			return err
		},
	}
}
