// Package host implements the privileged primitives the broker dispatches
// to: launching a view, starting a background service and publishing a
// broadcast. Each primitive runs a configurable host command.
package host

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/actor"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/command"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/logger"
)

// Default command templates. Placeholders in braces are substituted per
// call: {target} {action} {data} {mime} {component} {unit}.
var (
	DefaultViewCommand      = []string{"xdg-open", "{target}"}
	DefaultServiceCommand   = []string{"systemctl", "--user", "start", "{unit}"}
	DefaultBroadcastCommand = []string{
		"dbus-send", "--session", "--type=signal",
		"/org/mobilecli/hostbridge", "org.mobilecli.hostbridge.Broadcast",
		"string:{action}",
	}
)

// EnvPrefix prefixes every variable describing the command to the host
// process.
const EnvPrefix = "HOSTBRIDGE_"

// Runner executes a host command and returns its combined output
type Runner interface {
	Run(ctx context.Context, argv []string, env []string) ([]byte, error)
}

// ExecRunner runs commands with os/exec, inheriting the daemon environment
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, argv []string, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// ExecutionError reports a privileged primitive that failed
type ExecutionError struct {
	Op   string
	Argv []string
	Err  error
}

func (e *ExecutionError) Error() string {
	if len(e.Argv) == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Argv[0], e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Options configures a Host
type Options struct {
	ViewCommand      []string
	ServiceCommand   []string
	BroadcastCommand []string
	Runner           Runner
}

// Host executes privileged primitives. View launches are serialised
// through a dispatcher actor; Start must be called before use.
type Host struct {
	opts       Options
	dispatcher *actor.ActorRef
	log        *logger.Logger
}

// New creates a Host, filling unset options with defaults
func New(opts Options) *Host {
	if len(opts.ViewCommand) == 0 {
		opts.ViewCommand = DefaultViewCommand
	}
	if len(opts.ServiceCommand) == 0 {
		opts.ServiceCommand = DefaultServiceCommand
	}
	if len(opts.BroadcastCommand) == 0 {
		opts.BroadcastCommand = DefaultBroadcastCommand
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	h := &Host{
		opts: opts,
		log:  logger.Global().WithPrefix("host"),
	}
	h.dispatcher = actor.NewActorRef("view-dispatcher", &viewDispatcher{runner: opts.Runner, log: h.log}, 16)
	return h
}

// Start starts the view dispatcher
func (h *Host) Start(ctx context.Context) error {
	return h.dispatcher.Start(ctx)
}

// Stop stops the view dispatcher
func (h *Host) Stop(ctx context.Context) error {
	return h.dispatcher.Stop(ctx)
}

// StartActivity launches a view for the descriptor on the host's desktop
func (h *Host) StartActivity(ctx context.Context, d *command.Descriptor) ([]string, error) {
	lines := []string{"Starting: " + d.Intent()}
	argv := expand(h.opts.ViewCommand, d)

	res, err := actor.Ask(ctx, h.dispatcher, func(reply chan<- launchResult) actor.Message {
		return launchRequest{ctx: ctx, argv: argv, env: Environment(d), reply: reply}
	})
	if err != nil {
		return lines, &ExecutionError{Op: "start activity", Argv: argv, Err: err}
	}
	lines = append(lines, splitLines(res.output)...)
	if res.err != nil {
		return lines, &ExecutionError{Op: "start activity", Argv: argv, Err: res.err}
	}
	return lines, nil
}

// StartService starts the background unit the descriptor names
func (h *Host) StartService(ctx context.Context, d *command.Descriptor) ([]string, error) {
	lines := []string{"Starting service: " + d.Intent()}
	argv := expand(h.opts.ServiceCommand, d)

	out, err := h.opts.Runner.Run(ctx, argv, Environment(d))
	lines = append(lines, splitLines(out)...)
	if err != nil {
		return lines, &ExecutionError{Op: "start service", Argv: argv, Err: err}
	}
	h.log.Info("started service %s", UnitName(d))
	return lines, nil
}

// Broadcast publishes the descriptor as a session-bus event
func (h *Host) Broadcast(ctx context.Context, d *command.Descriptor) ([]string, error) {
	lines := []string{"Broadcasting: " + d.Intent()}
	argv := expand(h.opts.BroadcastCommand, d)

	out, err := h.opts.Runner.Run(ctx, argv, Environment(d))
	lines = append(lines, splitLines(out)...)
	if err != nil {
		return lines, &ExecutionError{Op: "broadcast", Argv: argv, Err: err}
	}
	lines = append(lines, "Broadcast completed: result=0")
	return lines, nil
}

// Environment describes the descriptor as HOSTBRIDGE_* variables
func Environment(d *command.Descriptor) []string {
	env := []string{
		EnvPrefix + "VERB=" + string(d.Verb),
		EnvPrefix + "ACTION=" + d.Action,
		EnvPrefix + "DATA=" + d.Data,
		EnvPrefix + "MIME=" + d.MimeType,
		EnvPrefix + "COMPONENT=" + d.Component.String(),
	}
	if len(d.Categories) > 0 {
		env = append(env, EnvPrefix+"CATEGORIES="+strings.Join(d.Categories, ","))
	}
	if d.Package != "" {
		env = append(env, EnvPrefix+"PACKAGE="+d.Package)
	}

	extras := make([]string, 0, len(d.Extras))
	for _, e := range d.Extras {
		extras = append(extras, EnvPrefix+"EXTRA_"+envKey(e.Key)+"="+e.Value())
	}
	sort.Strings(extras)
	return append(env, extras...)
}

var (
	envKeyPattern = regexp.MustCompile(`[^A-Z0-9_]`)
	unitPattern   = regexp.MustCompile(`[^A-Za-z0-9:_.@-]`)
)

func envKey(key string) string {
	return envKeyPattern.ReplaceAllString(strings.ToUpper(key), "_")
}

// UnitName derives the service unit for a startservice descriptor: the
// component's class qualified by its package, else the action.
func UnitName(d *command.Descriptor) string {
	name := d.Action
	if !d.Component.IsZero() {
		name = d.Component.Class
		if !strings.Contains(name, ".") {
			name = d.Component.Package + "." + name
		}
	}
	name = unitPattern.ReplaceAllString(name, "-")
	if !strings.HasSuffix(name, ".service") {
		name += ".service"
	}
	return name
}

func target(d *command.Descriptor) string {
	switch {
	case d.Data != "":
		return d.Data
	case !d.Component.IsZero():
		return d.Component.String()
	default:
		return d.Action
	}
}

func expand(template []string, d *command.Descriptor) []string {
	r := strings.NewReplacer(
		"{target}", target(d),
		"{action}", d.Action,
		"{data}", d.Data,
		"{mime}", d.MimeType,
		"{component}", d.Component.String(),
		"{unit}", UnitName(d),
	)
	argv := make([]string, len(template))
	for i, arg := range template {
		argv[i] = r.Replace(arg)
	}
	return argv
}

func splitLines(out []byte) []string {
	text := strings.TrimRight(string(out), "\r\n")
	if text == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}
