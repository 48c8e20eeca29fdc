package gemini

import (
	"encoding/base64"

	"google.golang.org/genai"

	"duplexkit/core"
	"duplexkit/events/session"
	"duplexkit/handlers/transport"
)

func connectConfig(open transport.OpenConfig, voice string) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{}
	for _, m := range open.Modalities {
		switch m {
		case transport.ModalityAudio:
			cfg.ResponseModalities = append(cfg.ResponseModalities, genai.ModalityAudio)
		case transport.ModalityText:
			cfg.ResponseModalities = append(cfg.ResponseModalities, genai.ModalityText)
		}
	}
	if open.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: open.SystemInstruction}}}
	}
	if open.TranscriptionEnabled {
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
		cfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if open.Voice != "" {
		voice = open.Voice
	}
	if voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	if len(open.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: functionDeclarations(open.Tools)}}
	}
	return cfg
}

func functionDeclarations(defs []core.ToolDef) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		decl := &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
		}
		if len(d.Parameters) > 0 {
			schema := &genai.Schema{
				Type:       genai.TypeObject,
				Properties: make(map[string]*genai.Schema, len(d.Parameters)),
			}
			for _, p := range d.Parameters {
				schema.Properties[p.Name] = &genai.Schema{
					Type:        schemaType(p.Type),
					Description: p.Description,
				}
				if p.Required {
					schema.Required = append(schema.Required, p.Name)
				}
			}
			decl.Parameters = schema
		}
		out = append(out, decl)
	}
	return out
}

func schemaType(t core.ParameterType) genai.Type {
	switch t {
	case core.ParameterTypeNumber:
		return genai.TypeNumber
	case core.ParameterTypeInteger:
		return genai.TypeInteger
	case core.ParameterTypeBoolean:
		return genai.TypeBoolean
	case core.ParameterTypeObject:
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// toEvents maps one server message onto session events, in the order the
// engine should apply them: transcripts, audio, interruption, turn end.
func toEvents(msg *genai.LiveServerMessage) []core.IEvent {
	if msg == nil {
		return nil
	}
	var events []core.IEvent

	if msg.SetupComplete != nil {
		events = append(events, &session.Opened{})
	}

	if sc := msg.ServerContent; sc != nil {
		if tr := sc.InputTranscription; tr != nil && (tr.Text != "" || tr.Finished) {
			events = append(events, &session.Transcript{Speaker: core.SpeakerUser, Text: tr.Text, IsFinal: tr.Finished})
		}
		if tr := sc.OutputTranscription; tr != nil && (tr.Text != "" || tr.Finished) {
			events = append(events, &session.Transcript{Speaker: core.SpeakerRemote, Text: tr.Text, IsFinal: tr.Finished})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				events = append(events, &session.AudioChunk{
					MIMEType: part.InlineData.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(part.InlineData.Data),
				})
			}
		}
		if sc.Interrupted {
			events = append(events, &session.Interrupted{})
		}
		if sc.TurnComplete {
			events = append(events, &session.TurnComplete{})
		}
	}

	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		calls := make([]core.FunctionCall, 0, len(msg.ToolCall.FunctionCalls))
		for _, fc := range msg.ToolCall.FunctionCalls {
			if fc == nil {
				continue
			}
			calls = append(calls, core.FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		events = append(events, &session.ToolCall{FunctionCalls: calls})
	}

	return events
}

func toFunctionResponse(resp core.ToolResponse) *genai.FunctionResponse {
	out := &genai.FunctionResponse{ID: resp.ID, Name: resp.Name}
	if resp.IsError() {
		out.Response = map[string]any{"error": resp.Error}
	} else {
		out.Response = resp.Result
		if out.Response == nil {
			out.Response = map[string]any{}
		}
	}
	return out
}
