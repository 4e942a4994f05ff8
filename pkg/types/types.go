package types

import (
	"time"
)

// Command vocabulary accepted on an active session. Anything else is answered
// with an UnsupportedError frame; payloads that do not parse as JSON at all
// are echoed back inside a TextEcho wrapper.
const (
	CommandPing      = "ping"
	CommandEcho      = "echo"
	CommandBroadcast = "broadcast"
)

// Outbound frame discriminators.
const (
	FramePong         = "pong"
	FrameEchoResponse = "echo_response"
	FrameBroadcast    = "broadcast"
	FrameTextEcho     = "text_echo"
)

// SupportedCommands is enumerated in UnsupportedError responses.
var SupportedCommands = []string{CommandPing, CommandEcho, CommandBroadcast}

// Session tracks one active duplex connection. The registry owns the record
// for the connection's lifetime and mutates it under its own lock.
type Session struct {
	ID               string    `json:"id"`
	ConnectedAt      time.Time `json:"connected_at"`
	LastActivity     time.Time `json:"last_activity"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesReceived int64     `json:"messages_received"`
	BytesSent        int64     `json:"bytes_sent"`
	BytesReceived    int64     `json:"bytes_received"`
}

// SessionStats is the read-only view of a session exposed by the stats
// endpoint.
type SessionStats struct {
	ConnectedAt       time.Time `json:"connected_at"`
	ConnectedDuration float64   `json:"connected_duration"`
	LastActivity      time.Time `json:"last_activity"`
	MessagesSent      int64     `json:"messages_sent"`
	MessagesReceived  int64     `json:"messages_received"`
	BytesSent         int64     `json:"bytes_sent"`
	BytesReceived     int64     `json:"bytes_received"`
}

// RegistrySnapshot reports all active sessions plus a total count.
type RegistrySnapshot struct {
	TotalConnections int                     `json:"total_connections"`
	Connections      map[string]SessionStats `json:"connections"`
}

// Pong answers a ping command. Timestamp is Unix seconds; all frames use the
// same float-seconds convention.
type Pong struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

// EchoResponse carries the sender's original message back verbatim.
type EchoResponse struct {
	Type            string                 `json:"type"`
	OriginalMessage map[string]interface{} `json:"original_message"`
	Timestamp       float64                `json:"timestamp"`
}

// BroadcastFrame is delivered to every other session on a broadcast command.
type BroadcastFrame struct {
	Type      string      `json:"type"`
	From      string      `json:"from"`
	Message   interface{} `json:"message"`
	Timestamp float64     `json:"timestamp"`
}

// TextEcho wraps a payload that could not be parsed as JSON. Opaque inbound
// text is echoed, not rejected.
type TextEcho struct {
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	From      string  `json:"from"`
	Timestamp float64 `json:"timestamp"`
}

// OversizeError is the structured rejection for a payload over the size
// ceiling, in either direction. The session stays open.
type OversizeError struct {
	Error             string `json:"error"`
	MaxSizeBytes      int    `json:"max_size_bytes"`
	ReceivedSizeBytes int    `json:"received_size_bytes"`
}

// RateLimitError is the structured rejection for a message denied by the
// limiter. RetryAfter is seconds until the window frees up.
type RateLimitError struct {
	Error      string  `json:"error"`
	RetryAfter float64 `json:"retry_after"`
}

// UnsupportedError answers a JSON payload whose type is not in the command
// vocabulary.
type UnsupportedError struct {
	Error          string   `json:"error"`
	SupportedTypes []string `json:"supported_types"`
}

// UnixSeconds converts a time to the float-seconds representation used on
// the wire.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
