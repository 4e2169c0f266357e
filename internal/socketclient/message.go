package socketclient

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message represents a protocol message
type Message struct {
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

// NewMessage creates a new message with a fresh request ID
func NewMessage(msgType string, data any) *Message {
	var rawData json.RawMessage
	if data != nil {
		if bytes, err := json.Marshal(data); err == nil {
			rawData = bytes
		}
	}

	return &Message{
		Type:      msgType,
		RequestID: uuid.New().String(),
		Data:      rawData,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// ParseMessage parses one newline-delimited JSON frame
func ParseMessage(data string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Decode unmarshals the message's data into v
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// CommandResult is the broker's answer to a command
type CommandResult struct {
	Code   int      `json:"code"`
	Output []string `json:"output"`
}

// SessionOptions overrides the daemon's defaults for a new session
type SessionOptions struct {
	Shell string   `json:"shell,omitempty"`
	Cwd   string   `json:"cwd,omitempty"`
	Args  []string `json:"args,omitempty"`
	Env   []string `json:"env,omitempty"`
	Cols  uint16   `json:"cols,omitempty"`
	Rows  uint16   `json:"rows,omitempty"`
}

// SessionCreated identifies a new session
type SessionCreated struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
}

// SessionInfo describes one live session
type SessionInfo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Cwd       string    `json:"cwd"`
	Pid       int       `json:"pid"`
	Alive     bool      `json:"alive"`
	CreatedAt time.Time `json:"created_at"`
	Current   bool      `json:"current"`
}

// SessionList is the registry as seen by one list request
type SessionList struct {
	Sessions []SessionInfo `json:"sessions"`
	Capacity int           `json:"capacity"`
}

// SessionOutput is a chunk of streamed terminal output
type SessionOutput struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

// SessionExit reports a session's process ending
type SessionExit struct {
	ID   string `json:"id"`
	Code int    `json:"code"`
}
