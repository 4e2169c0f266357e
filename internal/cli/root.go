// Package cli is the mobilecli command tree.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/config"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/logger"
)

// ExitError carries a process exit code out of a command without printing
// anything further.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// app is the state shared by every subcommand once the root has loaded the
// configuration.
type app struct {
	configPath string
	root       string
	logLevel   string

	cfg *config.Config
}

// Execute runs the command tree against os.Args and returns the exit code
func Execute() int {
	return run(newRootCmd(), os.Stderr)
}

func run(cmd *cobra.Command, stderr io.Writer) int {
	defer func() { _ = logger.Close() }()

	err := cmd.Execute()
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "mobilecli",
		Short:         "Terminal sessions and privileged commands for a sandboxed host",
		Long:          "mobilecli runs a daemon that owns terminal sessions and executes privileged host commands written into its mailbox by unprivileged shells.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default searches "+config.GetConfigPath()+")")
	flags.StringVar(&a.root, "root", "", "install root holding the mailbox and run state")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error, none")

	rootCmd.AddCommand(
		newVersionCmd(),
		newDaemonCmd(a),
		newAmCmd(a),
		newSessionCmd(a),
		newStatusCmd(a),
	)

	return rootCmd
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.root != "" {
		cfg.Root = a.root
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogFile()); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.cfg = cfg
	return nil
}
