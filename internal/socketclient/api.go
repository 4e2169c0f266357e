package socketclient

import (
	"context"
	"fmt"
)

// Command runs one command grammar line through the daemon's broker
func (c *Client) Command(ctx context.Context, line string) (CommandResult, error) {
	resp, err := c.Request(ctx, "command", map[string]string{"line": line})
	if err != nil {
		return CommandResult{}, err
	}
	var result CommandResult
	if err := resp.Decode(&result); err != nil {
		return CommandResult{}, fmt.Errorf("failed to parse response: %w", err)
	}
	return result, nil
}

// CreateSession starts a new session and makes it current
func (c *Client) CreateSession(ctx context.Context, opts SessionOptions) (SessionCreated, error) {
	resp, err := c.Request(ctx, "session_create", opts)
	if err != nil {
		return SessionCreated{}, err
	}
	var created SessionCreated
	if err := resp.Decode(&created); err != nil {
		return SessionCreated{}, fmt.Errorf("failed to parse response: %w", err)
	}
	return created, nil
}

// ListSessions returns the live sessions in order
func (c *Client) ListSessions(ctx context.Context) (SessionList, error) {
	resp, err := c.Request(ctx, "session_list", nil)
	if err != nil {
		return SessionList{}, err
	}
	var list SessionList
	if err := resp.Decode(&list); err != nil {
		return SessionList{}, fmt.Errorf("failed to parse response: %w", err)
	}
	return list, nil
}

// RemoveSession ends the session with the given handle
func (c *Client) RemoveSession(ctx context.Context, id string) error {
	_, err := c.Request(ctx, "session_remove", map[string]string{"id": id})
	return err
}

// SelectSession makes the session at index current and returns the index
// actually selected
func (c *Client) SelectSession(ctx context.Context, index int) (int, error) {
	resp, err := c.Request(ctx, "session_select", map[string]int{"index": index})
	if err != nil {
		return 0, err
	}
	var selected struct {
		Index int `json:"index"`
	}
	if err := resp.Decode(&selected); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}
	return selected.Index, nil
}

// WriteSession sends input to a session
func (c *Client) WriteSession(ctx context.Context, id string, data []byte) error {
	_, err := c.Request(ctx, "session_write", struct {
		ID   string `json:"id"`
		Data []byte `json:"data"`
	}{id, data})
	return err
}

// ResizeSession changes a session's terminal size
func (c *Client) ResizeSession(ctx context.Context, id string, cols, rows uint16) error {
	_, err := c.Request(ctx, "session_resize", struct {
		ID   string `json:"id"`
		Cols uint16 `json:"cols"`
		Rows uint16 `json:"rows"`
	}{id, cols, rows})
	return err
}

// Attach makes this connection the receiver of session output. Buffered
// output is replayed on Events, followed by live output.
func (c *Client) Attach(ctx context.Context) error {
	_, err := c.Request(ctx, "session_attach", nil)
	return err
}

// Detach stops output streaming; sessions keep running
func (c *Client) Detach(ctx context.Context) error {
	_, err := c.Request(ctx, "session_detach", nil)
	return err
}

// Ping checks that the daemon answers
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Request(ctx, "ping", nil)
	return err
}
