// Package gemini implements the live session transport on the Gemini Live
// API.
package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"duplexkit/core"
	"duplexkit/events/session"
	"duplexkit/handlers/transport"
)

// liveConn is the part of *genai.Session the transport uses.
type liveConn interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// Dialer opens Gemini Live sessions. The client is created on first use.
type Dialer struct {
	config Config
	logger *core.Logger

	mu     sync.Mutex
	client *genai.Client
}

func NewDialer(config Config, logger *core.Logger) *Dialer {
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Dialer{
		config: config,
		logger: logger.With(map[string]interface{}{"component": "transport", "transport": "gemini"}),
	}
}

func (d *Dialer) getClient(ctx context.Context) (*genai.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}
	if d.config.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  d.config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	d.client = client
	return client, nil
}

func (d *Dialer) Open(ctx context.Context, config transport.OpenConfig) (transport.Session, error) {
	client, err := d.getClient(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := client.Live.Connect(ctx, d.config.Model, connectConfig(config, d.config.Voice))
	if err != nil {
		return nil, fmt.Errorf("gemini: connect %s: %w", d.config.Model, err)
	}
	d.logger.With(map[string]interface{}{"model": d.config.Model, "tools": len(config.Tools)}).Debug("gemini live session opened")
	return newSession(conn, d.logger), nil
}

// Session adapts a Gemini Live connection to transport.Session.
type Session struct {
	conn   liveConn
	logger *core.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func newSession(conn liveConn, logger *core.Logger) *Session {
	return &Session{conn: conn, logger: logger}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) SendAudio(ctx context.Context, frame core.EncodedAudio) error {
	if s.isClosed() {
		return transport.ErrTransportClosed
	}
	data, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		return fmt.Errorf("gemini: decode audio frame: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err = s.conn.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: frame.MIMEType, Data: data},
	})
	return s.wrapSendErr("send audio", err)
}

func (s *Session) SendToolResponse(ctx context.Context, resp core.ToolResponse) error {
	if s.isClosed() {
		return transport.ErrTransportClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := s.conn.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{toFunctionResponse(resp)},
	})
	return s.wrapSendErr("send tool response", err)
}

func (s *Session) wrapSendErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if s.isClosed() {
		return transport.ErrTransportClosed
	}
	return fmt.Errorf("gemini: %s: %w", op, err)
}

// StartReceiving reads server messages until the connection ends or ctx is
// done. Receive has no context, so cancellation takes effect when Close
// unblocks the pending read.
func (s *Session) StartReceiving(ctx context.Context, out chan<- core.IEvent) {
	for {
		msg, err := s.conn.Receive()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && (closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
				transport.Deliver(ctx, out, &session.Closed{Reason: closeErr.Text})
				return
			}
			transport.Deliver(ctx, out, &session.Error{Err: fmt.Errorf("gemini: receive: %w", err)})
			return
		}

		if msg.ToolCallCancellation != nil {
			// executors have no cancellation channel; the results are still sent
			s.logger.With(map[string]interface{}{"tool_ids": msg.ToolCallCancellation.IDs}).Warn("host cancelled tool calls")
		}
		if msg.GoAway != nil {
			s.logger.With(map[string]interface{}{"time_left": msg.GoAway.TimeLeft}).Warn("host will close the session soon")
		}

		for _, ev := range toEvents(msg) {
			if !transport.Deliver(ctx, out, ev) {
				return
			}
		}
	}
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}
