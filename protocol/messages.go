package protocol

import (
	"encoding/json"
	"time"
)

// MessageType enumerates every message type carried in an Envelope, for both
// the control plane and the live session channel.
type MessageType string

const (
	// Agent -> control plane
	MsgRegister  MessageType = "register"
	MsgHeartbeat MessageType = "heartbeat"
	MsgLog       MessageType = "log"
	MsgStatus    MessageType = "status"
	MsgEvent     MessageType = "event"
	MsgLogEnd    MessageType = "log_end"
	MsgAck       MessageType = "ack"

	// Control plane -> agent
	MsgRestartSession MessageType = "restart_session"
	MsgStopSession    MessageType = "stop_session"
	MsgShutdown       MessageType = "shutdown"
)

// Envelope is the outer JSON wrapper for all WebSocket messages.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Agent -> control plane payloads ---

// RegisterPayload is sent once by the agent immediately after connecting.
type RegisterPayload struct {
	AgentID      string            `json:"agent_id"`
	Version      string            `json:"version,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// HeartbeatPayload is sent periodically to keep the connection alive. It
// carries a snapshot of the current or last session and the number of log
// entries dropped because the connection could not keep up.
type HeartbeatPayload struct {
	AgentID        string       `json:"agent_id"`
	Timestamp      time.Time    `json:"timestamp"`
	ActiveSessions int          `json:"active_sessions"`
	Status         string       `json:"status"` // "idle", "running", "error"
	Session        *SessionInfo `json:"session,omitempty"`
	DroppedLogs    uint64       `json:"dropped_logs,omitempty"`
}

// LogPayload carries a single log entry from a session.
type LogPayload struct {
	AgentID   string   `json:"agent_id"`
	SessionID string   `json:"session_id"`
	Entry     LogEntry `json:"entry"`
}

// LogEntry is a structured log line.
type LogEntry struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// StatusPayload carries agent-level status with its sessions.
type StatusPayload struct {
	AgentID  string        `json:"agent_id"`
	Status   string        `json:"status"` // "idle", "running", "error"
	Sessions []SessionInfo `json:"sessions"`
}

// SessionInfo describes the current or last session.
type SessionInfo struct {
	SessionID   string `json:"session_id"`
	Transport   string `json:"transport,omitempty"`
	StartedAt   string `json:"started_at"`
	State       string `json:"state"` // lifecycle state name
	ClosedAt    string `json:"closed_at,omitempty"`
	CloseReason string `json:"close_reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

// EventPayload carries a session event for external consumers.
type EventPayload struct {
	AgentID   string          `json:"agent_id"`
	SessionID string          `json:"session_id,omitempty"`
	EventID   string          `json:"event_id"`
	Data      json.RawMessage `json:"data"`
}

// LogEndPayload signals that a session's log stream has ended. Lines counts
// the entries the writer accepted.
type LogEndPayload struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Lines     int    `json:"lines"`
}

// --- Control plane -> agent payloads ---

// RestartSessionPayload asks the agent to close the current session and
// start a fresh one. A non-empty SessionID must name the current session.
type RestartSessionPayload struct {
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// StopSessionPayload asks the agent to close the current session. A
// non-empty SessionID must name the current session.
type StopSessionPayload struct {
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ShutdownPayload requests the agent to shut down gracefully.
type ShutdownPayload struct {
	Reason       string `json:"reason,omitempty"`
	GraceSeconds int    `json:"grace_seconds,omitempty"`
}

// AckPayload is sent by the agent once a session command has been carried
// out or refused. SessionID is the session current after the command.
type AckPayload struct {
	AckedType MessageType `json:"acked_type"`
	SessionID string      `json:"session_id,omitempty"`
	OK        bool        `json:"ok"`
	Error     string      `json:"error,omitempty"`
}
