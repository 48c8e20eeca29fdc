package protocol

import "duplexkit/core"

// Live session messages exchanged with a websocket speech host.
const (
	// Client -> host
	MsgSetup        MessageType = "setup"
	MsgAudioInput   MessageType = "audio_input"
	MsgToolResponse MessageType = "tool_response"
	MsgClose        MessageType = "close"

	// Host -> client
	MsgSetupComplete MessageType = "setup_complete"
	MsgAudio         MessageType = "audio"
	MsgToolCall      MessageType = "tool_call"
	MsgTranscript    MessageType = "transcript"
	MsgTurnComplete  MessageType = "turn_complete"
	MsgInterrupted   MessageType = "interrupted"
	MsgError         MessageType = "error"
	MsgClosed        MessageType = "closed"
)

// ToolDeclaration is a tool manifest entry with its JSON-schema parameters.
type ToolDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// NewToolDeclarations renders a manifest for the wire.
func NewToolDeclarations(defs []core.ToolDef) []ToolDeclaration {
	out := make([]ToolDeclaration, 0, len(defs))
	for _, d := range defs {
		out = append(out, ToolDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.JSONSchema(),
		})
	}
	return out
}

type SetupPayload struct {
	Modalities           []string          `json:"modalities"`
	TranscriptionEnabled bool              `json:"transcription_enabled"`
	Tools                []ToolDeclaration `json:"tools,omitempty"`
	SystemInstruction    string            `json:"system_instruction,omitempty"`
	Voice                string            `json:"voice,omitempty"`
}

type AudioInputPayload struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// ToolResponsePayload carries either Response or Error, keyed by ID.
type ToolResponsePayload = core.ToolResponse

type ClosePayload struct {
	Reason string `json:"reason,omitempty"`
}

type SetupCompletePayload struct {
	SessionHandle string `json:"session_handle,omitempty"`
}

type AudioPayload struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type ToolCallPayload struct {
	FunctionCalls []core.FunctionCall `json:"function_calls"`
}

type TranscriptPayload struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// TurnCompletePayload ends a turn; an empty speaker ends it for both sides.
type TurnCompletePayload struct {
	Speaker string `json:"speaker,omitempty"`
}

type ErrorPayload struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

type ClosedPayload struct {
	Reason string `json:"reason,omitempty"`
}
