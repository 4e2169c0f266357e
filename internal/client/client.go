// Package client is the caller side of the control mailbox: it writes one
// command, waits a bounded time for the broker's answer on a per-call
// result slot, and consumes it.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/consts"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/logger"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/mailbox"
)

// ErrBrokerUnavailable means no result appeared within the wait window. The
// broker may be absent, stalled, or have died while executing.
var ErrBrokerUnavailable = errors.New("broker unavailable: no result received")

// Options configures a Client
type Options struct {
	PollInterval             time.Duration
	MaxIterations            int
	InteractiveMaxIterations int
}

// Client issues commands against one install root
type Client struct {
	layout mailbox.Layout
	opts   Options
	log    *logger.Logger
}

// New creates a client, filling unset options with defaults
func New(layout mailbox.Layout, opts Options) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = consts.ClientPollInterval
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = consts.ClientMaxIterations
	}
	if opts.InteractiveMaxIterations <= 0 {
		opts.InteractiveMaxIterations = consts.ClientInteractiveMaxIterations
	}
	return &Client{
		layout: layout,
		opts:   opts,
		log:    logger.Global().WithPrefix("client"),
	}
}

// NewToken returns a call token unique to this process and call
func NewToken() string {
	return fmt.Sprintf("%d_%s", os.Getpid(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// Call sends line to the broker and waits for its result. Interactive calls
// wait longer. A nonzero Result.Code is not an error; only a missing answer
// or a local failure is.
func (c *Client) Call(ctx context.Context, line string, interactive bool) (mailbox.Result, error) {
	token := NewToken()
	slotName, err := mailbox.ResultSlotFor(token)
	if err != nil {
		return mailbox.Result{}, err
	}
	reply := c.layout.Result(slotName)
	_ = reply.Clear()

	if err := c.layout.EnsureDirs(); err != nil {
		return mailbox.Result{}, err
	}
	// An unanswered command stays in the slot; nothing can retract it.
	envelope := mailbox.Envelope{Line: line, ReplyTo: slotName}.Encode()
	if err := c.layout.Command().Put(envelope); err != nil {
		return mailbox.Result{}, fmt.Errorf("submit command: %w", err)
	}
	c.log.Debug("submitted %q, waiting on %s", line, slotName)

	iterations := c.opts.MaxIterations
	if interactive {
		iterations = c.opts.InteractiveMaxIterations
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return mailbox.Result{}, ctx.Err()
		case <-ticker.C:
		}

		if !reply.Exists() {
			continue
		}
		data, err := reply.Take()
		if errors.Is(err, mailbox.ErrEmpty) {
			continue
		}
		if err != nil {
			return mailbox.Result{}, err
		}
		res, err := mailbox.DecodeResult(data)
		if err != nil {
			return mailbox.Result{}, err
		}
		c.log.Debug("%s answered with code %d after %d poll(s)", slotName, res.Code, i+1)
		return res, nil
	}

	wait := time.Duration(iterations) * c.opts.PollInterval
	c.log.Warn("no result for %q on %s after %s", line, slotName, wait)
	return mailbox.Result{}, fmt.Errorf("%w after %s", ErrBrokerUnavailable, wait)
}

// ExitCode maps a call outcome to a process exit code
func ExitCode(res mailbox.Result, err error) int {
	switch {
	case err == nil:
		return res.Code
	case errors.Is(err, ErrBrokerUnavailable):
		return consts.ExitBrokerUnavailable
	default:
		return 1
	}
}
