package socketserver

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/consts"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/logger"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/session"
)

// requestError is a failure caused by the request itself
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// Client represents a connected socket client. While attached it is also
// the registry's session.Sink.
type Client struct {
	// Connection identifier
	ID string

	conn   net.Conn
	server *Server

	// Outbound message channel
	send chan *BaseMessage

	// Control
	mu       sync.Mutex
	closed   bool
	stopOnce sync.Once
	stopChan chan struct{}

	log *logger.Logger
}

func newClient(id string, conn net.Conn, server *Server) *Client {
	return &Client{
		ID:       id,
		conn:     conn,
		server:   server,
		send:     make(chan *BaseMessage, consts.SendBufferSize),
		stopChan: make(chan struct{}),
		log:      logger.Global().WithPrefix("socket " + id),
	}
}

// Start begins reading from and writing to the client connection
func (c *Client) Start() {
	go c.readPump()
	go c.writePump()
}

// Stop closes the connection and releases the client's attachment. Must not
// be called from inside a Sink callback.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.stopChan)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.server.untrack(c)
		c.log.Info("client stopped")
	})
}

// Send queues msg without blocking. A client that cannot keep up is
// disconnected.
func (c *Client) Send(msg *BaseMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		c.log.Warn("send buffer full, dropping connection")
		c.closed = true
		go c.Stop()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SendError queues an error response
func (c *Client) SendError(requestID, code, message string) {
	c.Send(NewError(requestID, code, message))
}

// SessionOutput implements session.Sink
func (c *Client) SessionOutput(s *session.Session, data []byte) {
	c.Send(NewMessage(MessageTypeSessionOutput, "", SessionOutput{
		ID:   s.ID(),
		Data: append([]byte(nil), data...),
	}))
}

// SessionExited implements session.Sink
func (c *Client) SessionExited(s *session.Session, exitCode int) {
	c.Send(NewMessage(MessageTypeSessionExit, "", SessionExit{ID: s.ID(), Code: exitCode}))
}

func (c *Client) readPump() {
	defer c.Stop()

	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.log.Info("disconnected (EOF)")
			case errors.Is(err, net.ErrClosed):
				c.log.Debug("connection closed")
			default:
				c.log.Error("read error: %v", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var msg BaseMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			c.log.Warn("failed to parse message: %v", err)
			c.SendError("", ErrorCodeInvalidRequest, "invalid JSON format: "+err.Error())
			continue
		}

		resp, err := c.handleMessage(&msg)
		if err != nil {
			c.log.Debug("%s failed: %v", msg.Type, err)
			c.SendError(msg.RequestID, errorCode(err), err.Error())
			continue
		}
		if resp != nil {
			c.Send(resp)
		}
		if msg.Type == MessageTypeSessionAttach {
			c.server.attach(c)
		}
	}
}

func (c *Client) writePump() {
	defer c.Stop()

	for {
		select {
		case <-c.stopChan:
			return

		case message := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(consts.Timeout10Seconds)); err != nil {
				c.log.Error("failed to set write deadline: %v", err)
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.log.Error("failed to marshal %s: %v", message.Type, err)
				continue
			}

			if _, err := fmt.Fprintf(c.conn, "%s\n", data); err != nil {
				c.log.Error("failed to write message: %v", err)
				return
			}
		}
	}
}

// handleMessage dispatches one request and returns its response
func (c *Client) handleMessage(msg *BaseMessage) (*BaseMessage, error) {
	c.log.Debug("received %s", msg.Type)

	switch msg.Type {
	case MessageTypePing:
		return NewMessage(MessageTypePong, msg.RequestID, nil), nil
	case MessageTypePong:
		return nil, nil
	case MessageTypeCommand:
		return c.handleCommand(msg)
	case MessageTypeSessionCreate:
		return c.handleSessionCreate(msg)
	case MessageTypeSessionList:
		return c.handleSessionList(msg)
	case MessageTypeSessionRemove:
		return c.handleSessionRemove(msg)
	case MessageTypeSessionSelect:
		return c.handleSessionSelect(msg)
	case MessageTypeSessionWrite:
		return c.handleSessionWrite(msg)
	case MessageTypeSessionResize:
		return c.handleSessionResize(msg)
	case MessageTypeSessionAttach:
		return NewMessage(MessageTypeSessionAttached, msg.RequestID, SessionAttached{
			Sessions: c.server.registry.Len(),
		}), nil
	case MessageTypeSessionDetach:
		c.server.detach(c)
		return NewMessage(MessageTypeOK, msg.RequestID, nil), nil
	default:
		return nil, invalid("unknown message type %q", msg.Type)
	}
}

func (c *Client) handleCommand(msg *BaseMessage) (*BaseMessage, error) {
	var req CommandRequest
	if err := decode(msg, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Line) == "" {
		return nil, invalid("command line is empty")
	}
	if c.server.dispatcher == nil {
		return nil, errors.New("no command dispatcher configured")
	}

	res := c.server.dispatcher.Submit(c.server.ctx, req.Line)
	return NewMessage(MessageTypeCommandResult, msg.RequestID, CommandResult{
		Code:   res.Code,
		Output: res.Output,
	}), nil
}

func (c *Client) handleSessionCreate(msg *BaseMessage) (*BaseMessage, error) {
	var req SessionCreateRequest
	if len(msg.Data) > 0 {
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
	}

	spec := c.server.opts.Defaults
	if req.Shell != "" {
		spec.Shell = req.Shell
		spec.Args = req.Args
	}
	if req.Cwd != "" {
		spec.Cwd = req.Cwd
	}
	if len(req.Env) > 0 {
		spec.Env = append(append([]string(nil), spec.Env...), req.Env...)
	}
	if req.Cols > 0 && req.Rows > 0 {
		spec.Cols, spec.Rows = req.Cols, req.Rows
	}
	if spec.Shell == "" {
		return nil, invalid("no shell configured")
	}

	s, err := c.server.registry.Create(spec)
	if err != nil {
		return nil, err
	}
	idx, err := c.server.registry.IndexOf(s.ID())
	if err != nil {
		return nil, err
	}
	return NewMessage(MessageTypeSessionCreated, msg.RequestID, SessionCreated{ID: s.ID(), Index: idx}), nil
}

func (c *Client) handleSessionList(msg *BaseMessage) (*BaseMessage, error) {
	reg := c.server.registry
	current := reg.CurrentIndex()
	sessions := reg.Sessions()

	resp := SessionListResponse{
		Sessions: make([]SessionInfo, 0, len(sessions)),
		Capacity: reg.Capacity(),
	}
	for i, s := range sessions {
		info := s.Info()
		resp.Sessions = append(resp.Sessions, SessionInfo{
			ID:        info.ID,
			Title:     info.Name,
			Cwd:       info.Cwd,
			Pid:       info.Pid,
			Alive:     info.Alive,
			CreatedAt: info.CreatedAt,
			Current:   i == current,
		})
	}
	return NewMessage(MessageTypeSessionListResponse, msg.RequestID, resp), nil
}

func (c *Client) handleSessionRemove(msg *BaseMessage) (*BaseMessage, error) {
	var req SessionRef
	if err := decodeRef(msg, &req); err != nil {
		return nil, err
	}
	if err := c.server.registry.RemoveByID(req.ID); err != nil {
		return nil, err
	}
	return NewMessage(MessageTypeOK, msg.RequestID, nil), nil
}

func (c *Client) handleSessionSelect(msg *BaseMessage) (*BaseMessage, error) {
	var req SessionSelectRequest
	if err := decode(msg, &req); err != nil {
		return nil, err
	}
	reg := c.server.registry
	reg.SetCurrentIndex(req.Index)
	return NewMessage(MessageTypeOK, msg.RequestID, SessionSelected{Index: reg.CurrentIndex()}), nil
}

func (c *Client) handleSessionWrite(msg *BaseMessage) (*BaseMessage, error) {
	var req SessionWriteRequest
	if err := decode(msg, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, invalid("session id is required")
	}
	if err := c.server.registry.Write(req.ID, req.Data); err != nil {
		return nil, err
	}
	return NewMessage(MessageTypeOK, msg.RequestID, nil), nil
}

func (c *Client) handleSessionResize(msg *BaseMessage) (*BaseMessage, error) {
	var req SessionResizeRequest
	if err := decode(msg, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, invalid("session id is required")
	}
	if req.Cols == 0 || req.Rows == 0 {
		return nil, invalid("cols and rows must be positive")
	}
	if err := c.server.registry.Resize(req.ID, req.Cols, req.Rows); err != nil {
		return nil, err
	}
	return NewMessage(MessageTypeOK, msg.RequestID, nil), nil
}

func decode(msg *BaseMessage, v any) error {
	if len(msg.Data) == 0 {
		return invalid("%s requires data", msg.Type)
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return invalid("invalid %s data: %v", msg.Type, err)
	}
	return nil
}

func decodeRef(msg *BaseMessage, ref *SessionRef) error {
	if err := decode(msg, ref); err != nil {
		return err
	}
	if ref.ID == "" {
		return invalid("session id is required")
	}
	return nil
}

func errorCode(err error) string {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return ErrorCodeInvalidRequest
	case errors.Is(err, session.ErrCapacityExceeded):
		return ErrorCodeCapacityExceeded
	case errors.Is(err, session.ErrDeadSession):
		return ErrorCodeDeadSession
	default:
		return ErrorCodeInternalError
	}
}
