// Package socketserver exposes the session registry and the command broker
// over a Unix domain socket owned by the daemon.
//
// # Message Protocol
//
// Communication uses JSON messages delimited by newlines:
//
//	{"type":"message_type","data":{...},"request_id":"uuid"}\n
//
// Every request gets exactly one response carrying the same request_id,
// either the matching response type or an "error" message with a code
// (capacity_exceeded, dead_session, invalid_request, internal_error).
//
// The protocol supports message types for:
//   - Privileged commands (command, command_result)
//   - Session management (session_create, session_list, session_remove,
//     session_select, session_write, session_resize)
//   - Output streaming (session_attach, session_detach, session_output,
//     session_exit)
//   - Connection lifecycle (ping, pong)
//
// # Output Streaming
//
// At most one connection is attached at a time. Attaching makes the
// connection the registry's sink: buffered output of every live session is
// replayed first, then output is streamed as it arrives. A later attach
// takes over from the previous connection. Detaching, or disconnecting,
// leaves the sessions running with their output buffered for the next
// attach.
package socketserver
