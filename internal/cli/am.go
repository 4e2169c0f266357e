package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/client"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/command"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/config"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/daemon"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/mailbox"
)

const interactiveFlag = "--interactive"

func newAmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "am [--interactive] <verb> [args...]",
		Short: "Send a privileged command to the daemon",
		Long: `Send one command line to the daemon's broker and print its output.

The arguments are passed through verbatim, e.g.

  mobilecli am start -a android.intent.action.VIEW -d https://example.com
  mobilecli am --version

A leading --interactive waits much longer for the answer, for commands that
block on the user. The exit code is the command's own code, or 124 if the
daemon never answered.`,
		DisableFlagParsing: true,
		// Global flags reach RunE unparsed; load runs after stripping them.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			args, err := a.stripGlobalFlags(args)
			if err != nil {
				return err
			}
			if err := a.load(); err != nil {
				return err
			}

			interactive := false
			if len(args) > 0 && args[0] == interactiveFlag {
				interactive = true
				args = args[1:]
			}
			if len(args) == 0 {
				return errors.New("am: missing command")
			}
			if len(args) == 1 && (args[0] == "-h" || args[0] == "--help") {
				return cmd.Help()
			}

			c := client.New(mailbox.NewLayout(a.cfg.Root), client.Options{
				PollInterval:             a.cfg.Client.PollInterval,
				MaxIterations:            a.cfg.Client.MaxIterations,
				InteractiveMaxIterations: a.cfg.Client.InteractiveMaxIterations,
			})
			res, err := c.Call(cmd.Context(), command.Join(args), interactive)
			if err != nil {
				if errors.Is(err, client.ErrBrokerUnavailable) {
					fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
					brokerHint(cmd.ErrOrStderr(), a.cfg)
				}
				code := client.ExitCode(res, err)
				if code == 1 {
					return err
				}
				return &ExitError{Code: code}
			}

			out := cmd.OutOrStdout()
			for _, line := range res.Output {
				fmt.Fprintln(out, line)
			}
			if res.Code != 0 {
				return &ExitError{Code: res.Code}
			}
			return nil
		},
	}
}

// stripGlobalFlags consumes the root's persistent flags from the front of
// args, which cobra leaves in place when flag parsing is disabled.
func (a *app) stripGlobalFlags(args []string) ([]string, error) {
	targets := map[string]*string{
		"--config":    &a.configPath,
		"--root":      &a.root,
		"--log-level": &a.logLevel,
	}
	for len(args) > 0 {
		name, value, hasValue := strings.Cut(args[0], "=")
		target, ok := targets[name]
		if !ok {
			break
		}
		if !hasValue {
			if len(args) < 2 {
				return nil, fmt.Errorf("flag needs an argument: %s", name)
			}
			value = args[1]
			args = args[1:]
		}
		*target = value
		args = args[1:]
	}
	return args, nil
}

func brokerHint(w io.Writer, cfg *config.Config) {
	pid := daemon.PidFile(cfg)
	if !pid.Alive() {
		fmt.Fprintf(w, "hint: no daemon is running for %s; start one with `mobilecli daemon`\n", cfg.Root)
		return
	}
	n, _ := pid.Read()
	fmt.Fprintf(w, "hint: daemon (pid %d) is running but did not answer\n", n)
}
