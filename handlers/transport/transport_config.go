package transport

import "duplexkit/core"

// Modality names a response channel requested from the host.
type Modality string

const (
	ModalityAudio Modality = "audio"
	ModalityText  Modality = "text"
)

// OpenConfig is the setup handed to the host when a session opens.
type OpenConfig struct {
	Modalities           []Modality     `json:"modalities" yaml:"modalities"`
	TranscriptionEnabled bool           `json:"transcription_enabled" yaml:"transcription_enabled"`
	Tools                []core.ToolDef `json:"tools,omitempty" yaml:"tools,omitempty"`
	SystemInstruction    string         `json:"system_instruction,omitempty" yaml:"system_instruction,omitempty"`
	Voice                string         `json:"voice,omitempty" yaml:"voice,omitempty"`
}

// DefaultOpenConfig requests spoken replies with transcription on both sides.
func DefaultOpenConfig() OpenConfig {
	return OpenConfig{
		Modalities:           []Modality{ModalityAudio},
		TranscriptionEnabled: true,
	}
}
