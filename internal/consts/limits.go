package consts

import "time"

// Version is reported by the broker for the --version verb and by
// `mobilecli version`.
const Version = "0.9.1"

// Registry limits
const (
	// DefaultSessionCapacity is the maximum number of live sessions
	DefaultSessionCapacity = 30
)

// Buffer sizes for various operations
const (
	// BufferSize4KB is 4 kilobytes
	BufferSize4KB = 4 * 1024
	// BufferSize64KB is 64 kilobytes
	BufferSize64KB = 64 * 1024
	// BufferSize1MB is 1 megabyte
	BufferSize1MB = 1024 * 1024
)

// Broker timing
const (
	// BrokerPollInterval is how often the broker checks the command slot
	BrokerPollInterval = 200 * time.Millisecond
	// StaleResultAge is the age after which unclaimed result slots are swept
	StaleResultAge = 10 * time.Minute
)

// Client timing
const (
	// ClientPollInterval is how often the client checks its result slot
	ClientPollInterval = 100 * time.Millisecond
	// ClientMaxIterations bounds the wait for ordinary calls (~5s)
	ClientMaxIterations = 50
	// ClientInteractiveMaxIterations bounds the wait for calls that block on
	// the user (~50s)
	ClientInteractiveMaxIterations = 500
)

// Socket transport
const (
	// DefaultMaxConnections bounds concurrent socket clients
	DefaultMaxConnections = 10
	// SendBufferSize is the per-connection outbound message queue length
	SendBufferSize = 1024
)

// Exit codes
const (
	// ExitMalformed is written for commands that do not parse
	ExitMalformed = 1
	// ExitFailure is written when a parsed command could not be executed:
	// a failed primitive, an internal panic or no executor
	ExitFailure = 1
	// ExitBrokerUnavailable is returned by the client when no result appeared
	ExitBrokerUnavailable = 124
)

// Timeouts for various operations
const (
	// Timeout1Second is a 1 second timeout
	Timeout1Second = 1 * time.Second
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
	// Timeout30Seconds is a 30 second timeout
	Timeout30Seconds = 30 * time.Second
	// Timeout60Seconds is a 60 second timeout (1 minute)
	Timeout60Seconds = 60 * time.Second
)
