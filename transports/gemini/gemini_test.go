package gemini

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"duplexkit/core"
	"duplexkit/events/session"
	"duplexkit/handlers/transport"
)

type fakeConn struct {
	msgs   chan *genai.LiveServerMessage
	errs   chan error
	mu     sync.Mutex
	audio  []genai.LiveRealtimeInput
	tools  []genai.LiveToolResponseInput
	closed int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs: make(chan *genai.LiveServerMessage, 8),
		errs: make(chan error, 1),
	}
}

func (c *fakeConn) SendRealtimeInput(input genai.LiveRealtimeInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, input)
	return nil
}

func (c *fakeConn) SendToolResponse(input genai.LiveToolResponseInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = append(c.tools, input)
	return nil
}

func (c *fakeConn) Receive() (*genai.LiveServerMessage, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case err := <-c.errs:
		return nil, err
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	select {
	case c.errs <- errors.New("use of closed connection"):
	default:
	}
	return nil
}

func TestToEventsOrdersServerContent(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			InputTranscription:  &genai.Transcription{Text: "what time", Finished: true},
			OutputTranscription: &genai.Transcription{Text: "It is"},
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{1, 2, 3}}},
				{Text: "ignored"},
			}},
			TurnComplete: true,
		},
	}

	events := toEvents(msg)
	if len(events) != 4 {
		t.Fatalf("Expected 4 events, got %d: %#v", len(events), events)
	}
	if tr, ok := events[0].(*session.Transcript); !ok || tr.Speaker != core.SpeakerUser || !tr.IsFinal {
		t.Errorf("Expected final user transcript, got %#v", events[0])
	}
	if tr, ok := events[1].(*session.Transcript); !ok || tr.Speaker != core.SpeakerRemote || tr.IsFinal {
		t.Errorf("Expected partial remote transcript, got %#v", events[1])
	}
	if a, ok := events[2].(*session.AudioChunk); !ok || a.Data != "AQID" || a.MIMEType != "audio/pcm;rate=24000" {
		t.Errorf("Expected audio chunk, got %#v", events[2])
	}
	if tc, ok := events[3].(*session.TurnComplete); !ok || tc.Speaker != "" {
		t.Errorf("Expected unscoped turn complete, got %#v", events[3])
	}
}

func TestToEventsSetupToolsAndInterruption(t *testing.T) {
	events := toEvents(&genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}})
	if len(events) != 1 {
		t.Fatalf("Expected Opened, got %#v", events)
	}
	if _, ok := events[0].(*session.Opened); !ok {
		t.Errorf("Expected Opened, got %#v", events[0])
	}

	events = toEvents(&genai.LiveServerMessage{
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{
			{ID: "abc", Name: "lookup", Args: map[string]any{"q": "x"}},
			{ID: "def", Name: "clock"},
		}},
	})
	call, ok := events[0].(*session.ToolCall)
	if !ok || len(call.FunctionCalls) != 2 || call.FunctionCalls[0].ID != "abc" || call.FunctionCalls[1].Name != "clock" {
		t.Errorf("Unexpected tool call %#v", events[0])
	}

	events = toEvents(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{Interrupted: true}})
	if _, ok := events[0].(*session.Interrupted); !ok || len(events) != 1 {
		t.Errorf("Expected Interrupted, got %#v", events)
	}

	if toEvents(nil) != nil {
		t.Error("Expected no events for nil message")
	}
}

func TestConnectConfigDeclaresTools(t *testing.T) {
	open := transport.DefaultOpenConfig()
	open.SystemInstruction = "be brief"
	open.Tools = []core.ToolDef{{
		Name:        "weather",
		Description: "current weather",
		Parameters: []core.Parameter{
			{Name: "city", Type: core.ParameterTypeString, Required: true},
			{Name: "days", Type: core.ParameterTypeInteger},
		},
	}}

	cfg := connectConfig(open, "Puck")
	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != genai.ModalityAudio {
		t.Errorf("Unexpected modalities %v", cfg.ResponseModalities)
	}
	if cfg.InputAudioTranscription == nil || cfg.OutputAudioTranscription == nil {
		t.Error("Expected transcription on both sides")
	}
	if cfg.SpeechConfig == nil || cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Puck" {
		t.Error("Expected voice to be configured")
	}
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "be brief" {
		t.Error("Expected system instruction")
	}
	if len(cfg.Tools) != 1 || len(cfg.Tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("Expected one function declaration, got %+v", cfg.Tools)
	}
	decl := cfg.Tools[0].FunctionDeclarations[0]
	if decl.Parameters.Properties["days"].Type != genai.TypeInteger {
		t.Errorf("Expected integer days, got %v", decl.Parameters.Properties["days"].Type)
	}
	if len(decl.Parameters.Required) != 1 || decl.Parameters.Required[0] != "city" {
		t.Errorf("Unexpected required list %v", decl.Parameters.Required)
	}
}

func TestSessionSendsDecodedAudioAndToolResponses(t *testing.T) {
	conn := newFakeConn()
	s := newSession(conn, core.NewNopLogger())

	if err := s.SendAudio(context.Background(), core.EncodedAudio{MIMEType: "audio/pcm;rate=16000", Data: "AQID"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SendToolResponse(context.Background(), core.ToolResponse{ID: "abc", Name: "lookup", Error: "network timeout"}); err != nil {
		t.Fatal(err)
	}

	if got := conn.audio[0].Audio; got == nil || string(got.Data) != "\x01\x02\x03" || got.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("Unexpected realtime input %+v", conn.audio[0])
	}
	fr := conn.tools[0].FunctionResponses[0]
	if fr.ID != "abc" || fr.Response["error"] != "network timeout" {
		t.Errorf("Unexpected function response %+v", fr)
	}

	if err := s.SendAudio(context.Background(), core.EncodedAudio{Data: "!!"}); err == nil {
		t.Error("Expected error for invalid base64")
	}

	s.Close()
	s.Close()
	if conn.closed != 1 {
		t.Errorf("Expected one close, got %d", conn.closed)
	}
	if err := s.SendToolResponse(context.Background(), core.ToolResponse{ID: "x"}); !transport.IsClosed(err) {
		t.Errorf("Expected ErrTransportClosed, got %v", err)
	}
}

func TestReceiveMapsCloseAndErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"normal close", &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "bye"}, "closed"},
		{"abnormal", errors.New("connection reset"), "error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := newFakeConn()
			s := newSession(conn, core.NewNopLogger())
			conn.msgs <- &genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}}

			out := make(chan core.IEvent, 4)
			done := make(chan struct{})
			go func() {
				s.StartReceiving(context.Background(), out)
				close(done)
			}()

			if _, ok := (<-out).(*session.Opened); !ok {
				t.Fatal("Expected Opened first")
			}
			conn.errs <- tc.err
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("StartReceiving did not return")
			}
			ev := <-out
			switch tc.want {
			case "closed":
				if c, ok := ev.(*session.Closed); !ok || c.Reason != "bye" {
					t.Errorf("Expected Closed, got %#v", ev)
				}
			case "error":
				if _, ok := ev.(*session.Error); !ok {
					t.Errorf("Expected Error, got %#v", ev)
				}
			}
		})
	}
}

func TestReceiveQuietAfterClose(t *testing.T) {
	conn := newFakeConn()
	s := newSession(conn, core.NewNopLogger())
	out := make(chan core.IEvent, 1)
	done := make(chan struct{})
	go func() {
		s.StartReceiving(context.Background(), out)
		close(done)
	}()

	s.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StartReceiving did not return after Close")
	}
	if len(out) != 0 {
		t.Errorf("Expected no events after local close, got %d", len(out))
	}
}
