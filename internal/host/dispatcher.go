package host

import (
	"context"
	"fmt"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/actor"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/logger"
)

type launchResult struct {
	output []byte
	err    error
}

type launchRequest struct {
	// ctx is the caller's context; the launch ends when it is done
	ctx   context.Context
	argv  []string
	env   []string
	reply chan<- launchResult
}

func (launchRequest) Type() string { return "launch" }

// viewDispatcher performs view launches one at a time, in the order the
// broker posted them.
type viewDispatcher struct {
	runner Runner
	log    *logger.Logger
}

func (v *viewDispatcher) ID() string { return "view-dispatcher" }

func (v *viewDispatcher) Start(ctx context.Context) error { return nil }

func (v *viewDispatcher) Stop(ctx context.Context) error { return nil }

func (v *viewDispatcher) Receive(ctx context.Context, msg actor.Message) error {
	req, ok := msg.(launchRequest)
	if !ok {
		return fmt.Errorf("unexpected message %s", msg.Type())
	}

	if req.ctx != nil {
		if err := req.ctx.Err(); err != nil {
			req.reply <- launchResult{err: err}
			return nil
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if req.ctx != nil {
		stop := context.AfterFunc(req.ctx, cancel)
		defer stop()
	}

	v.log.Debug("launching %v", req.argv)
	out, err := v.runner.Run(runCtx, req.argv, req.env)
	req.reply <- launchResult{output: out, err: err}
	return err
}
