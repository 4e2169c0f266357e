package socketclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/consts"
)

// Client-side error codes
const (
	ErrorCodeConnectionClosed = "connection_closed"
	ErrorCodeTimeout          = "timeout"
)

// SocketError represents an error from the socket server
type SocketError struct {
	Code    string
	Message string
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewSocketError creates a new SocketError
func NewSocketError(code, message string) *SocketError {
	return &SocketError{Code: code, Message: message}
}

// IsCode reports whether err is a SocketError with the given code
func IsCode(err error, code string) bool {
	var sErr *SocketError
	return errors.As(err, &sErr) && sErr.Code == code
}

// Config holds client configuration
type Config struct {
	// SocketPath is the path to the Unix socket
	SocketPath string
	// ConnectTimeout is the timeout for the initial connection
	ConnectTimeout time.Duration
	// RequestTimeout bounds requests whose context has no deadline
	RequestTimeout time.Duration
	// WriteTimeout is the timeout for writing one message
	WriteTimeout time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig(socketPath string) Config {
	return Config{
		SocketPath:     socketPath,
		ConnectTimeout: consts.Timeout5Seconds,
		RequestTimeout: consts.Timeout60Seconds,
		WriteTimeout:   consts.Timeout10Seconds,
	}
}

// Client is a connection to the daemon's socket server. Responses are
// matched to requests by request ID; everything else, such as streamed
// session output, arrives on Events.
type Client struct {
	config Config
	conn   net.Conn

	outgoing chan *Message
	events   chan *Message

	// Request tracking
	pendingRequests map[string]chan *Message
	requestMu       sync.Mutex

	// Lifecycle
	wg        sync.WaitGroup
	stopCh    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the socket at socketPath with the default configuration
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	return DialConfig(ctx, DefaultConfig(socketPath))
}

// DialConfig connects using config
func DialConfig(ctx context.Context, config Config) (*Client, error) {
	if config.SocketPath == "" {
		return nil, errors.New("socket path is required")
	}
	defaults := DefaultConfig(config.SocketPath)
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	dialer := net.Dialer{Timeout: config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "unix", config.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", config.SocketPath, err)
	}

	c := &Client{
		config:          config,
		conn:            conn,
		outgoing:        make(chan *Message, 256),
		events:          make(chan *Message, 256),
		pendingRequests: make(map[string]chan *Message),
		stopCh:          make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
	return c, nil
}

// Events delivers unsolicited messages. It is closed when the connection
// ends.
func (c *Client) Events() <-chan *Message {
	return c.events
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.stopCh
}

// Close closes the connection and waits for the pumps to exit
func (c *Client) Close() error {
	c.terminate(nil)
	c.wg.Wait()
	return nil
}

// Err returns why the connection ended, or nil while it is open or after a
// plain Close.
func (c *Client) Err() error {
	select {
	case <-c.stopCh:
		return c.closeErr
	default:
		return nil
	}
}

func (c *Client) terminate(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.stopCh)
		_ = c.conn.Close()
	})
}

func (c *Client) closedError() error {
	if err := c.Err(); err != nil {
		return NewSocketError(ErrorCodeConnectionClosed, err.Error())
	}
	return NewSocketError(ErrorCodeConnectionClosed, "client is closed")
}

// Request sends one message and waits for the response carrying its
// request ID. An error response is returned as a *SocketError.
func (c *Client) Request(ctx context.Context, msgType string, data any) (*Message, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return nil, NewSocketError(ErrorCodeTimeout, fmt.Sprintf("%s: %v", msgType, err))
	}

	msg := NewMessage(msgType, data)
	respCh := make(chan *Message, 1)

	c.requestMu.Lock()
	c.pendingRequests[msg.RequestID] = respCh
	c.requestMu.Unlock()
	defer func() {
		c.requestMu.Lock()
		delete(c.pendingRequests, msg.RequestID)
		c.requestMu.Unlock()
	}()

	select {
	case c.outgoing <- msg:
	case <-c.stopCh:
		return nil, c.closedError()
	case <-ctx.Done():
		return nil, NewSocketError(ErrorCodeTimeout, fmt.Sprintf("%s: %v", msgType, ctx.Err()))
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, NewSocketError(resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-c.stopCh:
		return nil, c.closedError()
	case <-ctx.Done():
		return nil, NewSocketError(ErrorCodeTimeout, fmt.Sprintf("%s: %v", msgType, ctx.Err()))
	}
}

func (c *Client) readPump() {
	defer c.wg.Done()
	defer close(c.events)

	reader := bufio.NewReaderSize(c.conn, consts.BufferSize64KB)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.terminate(io.EOF)
			} else if !errors.Is(err, net.ErrClosed) {
				c.terminate(err)
			}
			return
		}

		msg, err := ParseMessage(line)
		if err != nil {
			continue
		}
		if !c.route(msg) {
			return
		}
	}
}

// route hands msg to its waiting request, or to Events. It returns false
// once the client is stopping.
func (c *Client) route(msg *Message) bool {
	if msg.RequestID != "" {
		c.requestMu.Lock()
		ch, ok := c.pendingRequests[msg.RequestID]
		c.requestMu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
			return true
		}
	}

	select {
	case c.events <- msg:
		return true
	case <-c.stopCh:
		return false
	}
}

func (c *Client) writePump() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case msg := <-c.outgoing:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
				c.terminate(err)
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}

			if _, err := c.conn.Write(append(data, '\n')); err != nil {
				c.terminate(err)
				return
			}
		}
	}
}
