package socketserver

import (
	"encoding/json"
	"time"
)

// Message type constants
const (
	// Privileged commands
	MessageTypeCommand       = "command"
	MessageTypeCommandResult = "command_result"

	// Session management
	MessageTypeSessionCreate       = "session_create"
	MessageTypeSessionCreated      = "session_created"
	MessageTypeSessionList         = "session_list"
	MessageTypeSessionListResponse = "session_list_response"
	MessageTypeSessionRemove       = "session_remove"
	MessageTypeSessionSelect       = "session_select"
	MessageTypeSessionWrite        = "session_write"
	MessageTypeSessionResize       = "session_resize"
	MessageTypeOK                  = "ok"

	// Output streaming
	MessageTypeSessionAttach   = "session_attach"
	MessageTypeSessionAttached = "session_attached"
	MessageTypeSessionDetach   = "session_detach"
	MessageTypeSessionOutput   = "session_output"
	MessageTypeSessionExit     = "session_exit"

	// Connection lifecycle
	MessageTypePing = "ping"
	MessageTypePong = "pong"

	// Error
	MessageTypeError = "error"
)

// Error codes
const (
	ErrorCodeCapacityExceeded = "capacity_exceeded"
	ErrorCodeDeadSession      = "dead_session"
	ErrorCodeInvalidRequest   = "invalid_request"
	ErrorCodeInternalError    = "internal_error"
)

// BaseMessage is one newline-delimited JSON frame
type BaseMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage creates a message carrying data. requestID may be empty for
// unsolicited messages.
func NewMessage(msgType, requestID string, data any) *BaseMessage {
	msg := &BaseMessage{
		Type:      msgType,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			msg.Data = raw
		}
	}
	return msg
}

// NewError creates an error response
func NewError(requestID, code, message string) *BaseMessage {
	return &BaseMessage{
		Type:      MessageTypeError,
		RequestID: requestID,
		Error:     &ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// CommandRequest carries one command grammar line
type CommandRequest struct {
	Line string `json:"line"`
}

// CommandResult is the broker's answer
type CommandResult struct {
	Code   int      `json:"code"`
	Output []string `json:"output"`
}

// SessionCreateRequest data for session creation. Empty fields take the
// daemon's defaults.
type SessionCreateRequest struct {
	Shell string   `json:"shell,omitempty"`
	Cwd   string   `json:"cwd,omitempty"`
	Args  []string `json:"args,omitempty"`
	Env   []string `json:"env,omitempty"`
	Cols  uint16   `json:"cols,omitempty"`
	Rows  uint16   `json:"rows,omitempty"`
}

// SessionCreated data for session creation response
type SessionCreated struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
}

// SessionInfo represents one session in a list response
type SessionInfo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Cwd       string    `json:"cwd"`
	Pid       int       `json:"pid"`
	Alive     bool      `json:"alive"`
	CreatedAt time.Time `json:"created_at"`
	Current   bool      `json:"current"`
}

// SessionListResponse data for session list response
type SessionListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
	Capacity int           `json:"capacity"`
}

// SessionRef names a session by handle
type SessionRef struct {
	ID string `json:"id"`
}

// SessionSelectRequest selects the current session by position
type SessionSelectRequest struct {
	Index int `json:"index"`
}

// SessionSelected reports the current index after clamping
type SessionSelected struct {
	Index int `json:"index"`
}

// SessionWriteRequest sends input to a session
type SessionWriteRequest struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

// SessionResizeRequest changes a session's terminal size
type SessionResizeRequest struct {
	ID   string `json:"id"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// SessionAttached confirms an attach
type SessionAttached struct {
	Sessions int `json:"sessions"`
}

// SessionOutput is streamed to the attached connection
type SessionOutput struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

// SessionExit is streamed when a session's process ends
type SessionExit struct {
	ID   string `json:"id"`
	Code int    `json:"code"`
}
