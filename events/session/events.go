// Package session defines the inbound events a transport delivers for an open
// duplex session. Every transport maps its wire messages onto exactly these
// types and the engine dispatches them through one type switch.
package session

import "duplexkit/core"

// Opened reports that the remote host accepted the session setup.
type Opened struct {
	Handle string // Host-assigned session handle, if any.
}

func (e *Opened) GetId() string {
	return "session.opened"
}

// AudioChunk carries one block of remote audio in its text envelope.
type AudioChunk struct {
	MIMEType string
	Data     string // base64
}

func (e *AudioChunk) GetId() string {
	return "session.audio_chunk"
}

// ToolCall asks the client to run one or more functions.
type ToolCall struct {
	FunctionCalls []core.FunctionCall
}

func (e *ToolCall) GetId() string {
	return "session.tool_call"
}

// Transcript is an incremental transcription delta for one speaker.
type Transcript struct {
	Speaker core.Speaker
	Text    string
	IsFinal bool
}

func (e *Transcript) GetId() string {
	return "session.transcript"
}

// TurnComplete ends the current turn. An empty Speaker ends the turn for
// both speakers.
type TurnComplete struct {
	Speaker core.Speaker
}

func (e *TurnComplete) GetId() string {
	return "session.turn_complete"
}

// Interrupted reports that the host cut its own reply short (the user spoke
// over it). Queued remote audio is no longer wanted.
type Interrupted struct{}

func (e *Interrupted) GetId() string {
	return "session.interrupted"
}

// Closed reports that the remote host ended the session.
type Closed struct {
	Reason string
}

func (e *Closed) GetId() string {
	return "session.closed"
}

// Error reports a terminal transport failure.
type Error struct {
	Err error
}

func (e *Error) GetId() string {
	return "session.error"
}
