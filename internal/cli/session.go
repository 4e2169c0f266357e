package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/socketclient"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/socketutil"
)

// detachKey is Ctrl-]
const detachKey = 0x1d

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the daemon's terminal sessions",
		Long:  "Manage terminal sessions over the daemon's socket transport. The daemon must run with the socket enabled.",
	}
	cmd.AddCommand(
		newSessionListCmd(a),
		newSessionNewCmd(a),
		newSessionKillCmd(a),
		newSessionSelectCmd(a),
		newSessionAttachCmd(a),
	)
	return cmd
}

func (a *app) dial(ctx context.Context) (*socketclient.Client, error) {
	path := a.cfg.SocketPath()
	c, err := socketutil.Connect(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w (%s; is the daemon running with the socket enabled?)", err, socketutil.Detect(ctx, path))
	}
	return c, nil
}

// resolve maps a session reference to its handle. A reference is either the
// handle itself or a position in the list.
func resolve(ctx context.Context, c *socketclient.Client, ref string) (socketclient.SessionInfo, error) {
	list, err := c.ListSessions(ctx)
	if err != nil {
		return socketclient.SessionInfo{}, err
	}
	if ref == "" {
		for _, info := range list.Sessions {
			if info.Current {
				return info, nil
			}
		}
		return socketclient.SessionInfo{}, errors.New("no sessions")
	}
	for _, info := range list.Sessions {
		if info.ID == ref {
			return info, nil
		}
	}
	if i, err := strconv.Atoi(ref); err == nil && i >= 0 && i < len(list.Sessions) {
		return list.Sessions[i], nil
	}
	return socketclient.SessionInfo{}, fmt.Errorf("no session %q", ref)
}

func newSessionListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			list, err := c.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderSessions(list, time.Now(), newStyles()))
			return err
		},
	}
}

func newSessionNewCmd(a *app) *cobra.Command {
	var opts socketclient.SessionOptions

	cmd := &cobra.Command{
		Use:   "new [-- args...]",
		Short: "Start a session and make it current",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if len(args) > 0 {
				opts.Args = args
			}
			created, err := c.CreateSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", created.ID, created.Index)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Shell, "shell", "", "shell to run (default from config)")
	cmd.Flags().StringVar(&opts.Cwd, "cwd", "", "working directory")
	cmd.Flags().StringArrayVar(&opts.Env, "env", nil, "extra KEY=VALUE environment (repeatable)")
	cmd.Flags().Uint16Var(&opts.Cols, "cols", 0, "terminal columns")
	cmd.Flags().Uint16Var(&opts.Rows, "rows", 0, "terminal rows")
	return cmd
}

func newSessionKillCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <id|index>",
		Short: "End a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			info, err := resolve(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			return c.RemoveSession(cmd.Context(), info.ID)
		},
	}
}

func newSessionSelectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "select <index>",
		Short: "Make the session at index current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[0])
			}
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			selected, err := c.SelectSession(cmd.Context(), index)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), selected)
			return err
		},
	}
}

func newSessionAttachCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "attach [id|index]",
		Short: "Attach the terminal to a session (Ctrl-] detaches)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			info, err := resolve(ctx, c, ref)
			if err != nil {
				return err
			}
			return attach(ctx, c, info.ID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// attach streams id's output to out and forwards in to it until the user
// detaches, the session exits or the connection drops.
func attach(ctx context.Context, c *socketclient.Client, id string, in io.Reader, out io.Writer) error {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("set raw mode: %w", err)
		}
		defer func() { _ = term.Restore(int(f.Fd()), state) }()
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		resize := func() {
			if cols, rows, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 && rows > 0 {
				_ = c.ResizeSession(ctx, id, uint16(cols), uint16(rows))
			}
		}
		resize()
		winch := make(chan os.Signal, 1)
		signal.Notify(winch, syscall.SIGWINCH)
		defer signal.Stop(winch)
		go func() {
			for {
				select {
				case <-winch:
					resize()
				case <-c.Done():
					return
				}
			}
		}()
	}

	if err := c.Attach(ctx); err != nil {
		return err
	}

	detached := make(chan struct{})
	go forwardInput(ctx, c, id, in, detached)

	for {
		select {
		case <-ctx.Done():
			_ = c.Detach(context.Background())
			return ctx.Err()
		case <-detached:
			return c.Detach(ctx)
		case msg, ok := <-c.Events():
			if !ok {
				if err := c.Err(); err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				return errors.New("daemon closed the connection")
			}
			switch msg.Type {
			case "session_output":
				var chunk socketclient.SessionOutput
				if err := msg.Decode(&chunk); err != nil || chunk.ID != id {
					continue
				}
				if _, err := out.Write(chunk.Data); err != nil {
					return err
				}
			case "session_exit":
				var exit socketclient.SessionExit
				if err := msg.Decode(&exit); err != nil || exit.ID != id {
					continue
				}
				fmt.Fprintf(out, "\r\n[session %s exited with code %d]\r\n", id, exit.Code)
				return nil
			}
		}
	}
}

// forwardInput copies in to the session and closes detached when the user
// presses the detach key.
func forwardInput(ctx context.Context, c *socketclient.Client, id string, in io.Reader, detached chan<- struct{}) {
	buf := make([]byte, 1024)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			stop := false
			for i, b := range chunk {
				if b == detachKey {
					chunk, stop = chunk[:i], true
					break
				}
			}
			if len(chunk) > 0 {
				if werr := c.WriteSession(ctx, id, append([]byte(nil), chunk...)); werr != nil {
					close(detached)
					return
				}
			}
			if stop {
				close(detached)
				return
			}
		}
		if err != nil {
			// Input ended; keep streaming until the session or the user ends it.
			return
		}
	}
}
