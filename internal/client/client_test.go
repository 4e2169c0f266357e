package client

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/broker"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/mailbox"
)

// respond plays the broker: it waits for one command and answers it on the
// slot the envelope names.
func respond(t *testing.T, layout mailbox.Layout, res mailbox.Result) <-chan mailbox.Envelope {
	t.Helper()
	got := make(chan mailbox.Envelope, 1)
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			data, err := layout.Command().Take()
			if err != nil {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			env, _ := mailbox.DecodeEnvelope(data)
			_ = layout.Result(env.ReplyTo).Put(res.Encode())
			got <- env
			return
		}
		close(got)
	}()
	return got
}

func fastClient(layout mailbox.Layout) *Client {
	return New(layout, Options{PollInterval: 5 * time.Millisecond, MaxIterations: 200, InteractiveMaxIterations: 400})
}

func TestCallRoundTrip(t *testing.T) {
	layout := mailbox.NewLayout(t.TempDir())
	require.NoError(t, layout.EnsureDirs())
	envs := respond(t, layout, mailbox.Result{Code: 3, Output: []string{"partial", "failure"}})

	res, err := fastClient(layout).Call(context.Background(), "broadcast -a PING", false)
	require.NoError(t, err)
	assert.Equal(t, mailbox.Result{Code: 3, Output: []string{"partial", "failure"}}, res)
	assert.Equal(t, 3, ExitCode(res, err), "command failure is reported as its own code")

	env := <-envs
	assert.Equal(t, "broadcast -a PING", env.Line)
	assert.Regexp(t, regexp.MustCompile(`^result_\d+_[0-9a-f]{12}$`), env.ReplyTo)
	assert.False(t, layout.Result(env.ReplyTo).Exists(), "result consumed")
}

func TestCallBrokerUnavailable(t *testing.T) {
	layout := mailbox.NewLayout(t.TempDir())
	c := New(layout, Options{PollInterval: 2 * time.Millisecond, MaxIterations: 5})

	start := time.Now()
	res, err := c.Call(context.Background(), "start -a VIEW", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBrokerUnavailable))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 124, ExitCode(res, err))
	assert.True(t, layout.Command().Exists(), "unanswered command is left for the broker")
}

func TestCallInteractiveWaitsLonger(t *testing.T) {
	layout := mailbox.NewLayout(t.TempDir())
	require.NoError(t, layout.EnsureDirs())
	c := New(layout, Options{PollInterval: 5 * time.Millisecond, MaxIterations: 2, InteractiveMaxIterations: 400})

	go func() {
		// Slower than the normal window, well inside the interactive one.
		time.Sleep(100 * time.Millisecond)
		data, err := layout.Command().Take()
		if err != nil {
			return
		}
		env, _ := mailbox.DecodeEnvelope(data)
		_ = layout.Result(env.ReplyTo).Put(mailbox.Result{Code: 0}.Encode())
	}()

	res, err := c.Call(context.Background(), "start -a PICK", true)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Code)
}

func TestCallContextCancelled(t *testing.T) {
	layout := mailbox.NewLayout(t.TempDir())
	c := New(layout, Options{PollInterval: 5 * time.Millisecond, MaxIterations: 10000})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res, err := c.Call(ctx, "start -a VIEW", false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, ExitCode(res, err))
}

func TestCallUndecodableResult(t *testing.T) {
	layout := mailbox.NewLayout(t.TempDir())
	require.NoError(t, layout.EnsureDirs())
	go func() {
		for i := 0; i < 400; i++ {
			data, err := layout.Command().Take()
			if err == nil {
				env, _ := mailbox.DecodeEnvelope(data)
				_ = layout.Result(env.ReplyTo).Put([]byte("garbage\n"))
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	_, err := fastClient(layout).Call(context.Background(), "--version", false)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBrokerUnavailable))
}

func TestCallAgainstBroker(t *testing.T) {
	layout := mailbox.NewLayout(t.TempDir())
	b := broker.New(broker.Options{Layout: layout, PollInterval: 5 * time.Millisecond, Version: "7.0.0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	c := fastClient(layout)
	res, err := c.Call(context.Background(), "--version", false)
	require.NoError(t, err)
	assert.Equal(t, mailbox.Result{Code: 0, Output: []string{"7.0.0"}}, res)

	res, err = c.Call(context.Background(), "foo", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Code)
	assert.Contains(t, res.Output[0], `unknown verb "foo"`)
}

func TestNewTokenIsValid(t *testing.T) {
	a, b := NewToken(), NewToken()
	assert.NotEqual(t, a, b)
	assert.True(t, mailbox.ValidToken(a))
}
