// Package websocket implements the live session transport over a JSON
// envelope websocket protocol.
package websocket

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"duplexkit/core"
	"duplexkit/events/session"
	"duplexkit/handlers/transport"
	"duplexkit/protocol"
	"duplexkit/utils/audio"
)

// Dialer opens sessions against a websocket host.
type Dialer struct {
	config Config
	dialer *websocket.Dialer
	logger *core.Logger
}

func NewDialer(config Config, logger *core.Logger) *Dialer {
	defaults := DefaultConfig()
	if config.HandshakeTimeoutMs <= 0 {
		config.HandshakeTimeoutMs = defaults.HandshakeTimeoutMs
	}
	if config.WriteTimeoutMs <= 0 {
		config.WriteTimeoutMs = defaults.WriteTimeoutMs
	}
	if config.BinarySampleRate <= 0 {
		config.BinarySampleRate = defaults.BinarySampleRate
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Dialer{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.handshakeTimeout(),
		},
		logger: logger.With(map[string]interface{}{"component": "transport", "transport": "websocket"}),
	}
}

// Open dials the host and sends the setup message.
func (d *Dialer) Open(ctx context.Context, config transport.OpenConfig) (transport.Session, error) {
	if d.config.URL == "" {
		return nil, errors.New("websocket: url is required")
	}
	header := http.Header{}
	if d.config.Token != "" {
		header.Set("Authorization", "Bearer "+d.config.Token)
	}

	conn, _, err := d.dialer.DialContext(ctx, d.config.URL, header)
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %q: %w", d.config.URL, err)
	}

	s := &Session{
		conn:   conn,
		config: d.config,
		logger: d.logger,
	}

	modalities := make([]string, 0, len(config.Modalities))
	for _, m := range config.Modalities {
		modalities = append(modalities, string(m))
	}
	setup := protocol.SetupPayload{
		Modalities:           modalities,
		TranscriptionEnabled: config.TranscriptionEnabled,
		Tools:                protocol.NewToolDeclarations(config.Tools),
		SystemInstruction:    config.SystemInstruction,
		Voice:                config.Voice,
	}
	if err := s.write(protocol.MsgSetup, setup); err != nil {
		conn.Close()
		return nil, fmt.Errorf("websocket: send setup: %w", err)
	}

	d.logger.With(map[string]interface{}{"url": d.config.URL, "tools": len(config.Tools)}).Debug("websocket session opened")
	return s, nil
}

// Session is one websocket connection to the host. Writes are serialized;
// reads happen only in StartReceiving.
type Session struct {
	conn   *websocket.Conn
	config Config
	logger *core.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) write(msgType protocol.MessageType, payload interface{}) error {
	if s.isClosed() {
		return transport.ErrTransportClosed
	}
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.config.writeTimeout()))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if s.isClosed() {
			return transport.ErrTransportClosed
		}
		return fmt.Errorf("websocket: write %s: %w", msgType, err)
	}
	return nil
}

func (s *Session) SendAudio(ctx context.Context, frame core.EncodedAudio) error {
	return s.write(protocol.MsgAudioInput, protocol.AudioInputPayload{
		MIMEType: frame.MIMEType,
		Data:     frame.Data,
	})
}

func (s *Session) SendToolResponse(ctx context.Context, resp core.ToolResponse) error {
	return s.write(protocol.MsgToolResponse, resp)
}

// StartReceiving reads until the connection ends or ctx is done.
func (s *Session) StartReceiving(ctx context.Context, out chan<- core.IEvent) {
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && (closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
				transport.Deliver(ctx, out, &session.Closed{Reason: closeErr.Text})
				return
			}
			transport.Deliver(ctx, out, &session.Error{Err: fmt.Errorf("websocket: read: %w", err)})
			return
		}

		if messageType == websocket.BinaryMessage {
			// raw PCM16 frames
			ev := &session.AudioChunk{
				MIMEType: audio.PCMMIMEType(s.config.BinarySampleRate),
				Data:     base64.StdEncoding.EncodeToString(data),
			}
			if !transport.Deliver(ctx, out, ev) {
				return
			}
			continue
		}

		ev, terminal, err := decodeEvent(data)
		if err != nil {
			s.logger.With(map[string]interface{}{"error": err}).Warn("ignoring malformed message from host")
			continue
		}
		if ev == nil {
			continue
		}
		if !transport.Deliver(ctx, out, ev) || terminal {
			return
		}
	}
}

// Close sends a close message and closes the connection. Safe to call more
// than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		// best effort goodbye before marking closed
		_ = s.write(protocol.MsgClose, protocol.ClosePayload{Reason: "client closed"})

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// decodeEvent maps one envelope onto a session event. It reports whether the
// event ends the session. Unknown message types yield a nil event.
func decodeEvent(data []byte) (core.IEvent, bool, error) {
	msgType, raw, err := protocol.Unmarshal(data)
	if err != nil {
		return nil, false, err
	}

	switch msgType {
	case protocol.MsgSetupComplete:
		p, err := protocol.UnmarshalPayload[protocol.SetupCompletePayload](raw)
		if err != nil {
			return nil, false, err
		}
		return &session.Opened{Handle: p.SessionHandle}, false, nil

	case protocol.MsgAudio:
		p, err := protocol.UnmarshalPayload[protocol.AudioPayload](raw)
		if err != nil {
			return nil, false, err
		}
		return &session.AudioChunk{MIMEType: p.MIMEType, Data: p.Data}, false, nil

	case protocol.MsgToolCall:
		p, err := protocol.UnmarshalPayload[protocol.ToolCallPayload](raw)
		if err != nil {
			return nil, false, err
		}
		return &session.ToolCall{FunctionCalls: p.FunctionCalls}, false, nil

	case protocol.MsgTranscript:
		p, err := protocol.UnmarshalPayload[protocol.TranscriptPayload](raw)
		if err != nil {
			return nil, false, err
		}
		return &session.Transcript{Speaker: core.Speaker(p.Speaker), Text: p.Text, IsFinal: p.IsFinal}, false, nil

	case protocol.MsgTurnComplete:
		p, err := protocol.UnmarshalPayload[protocol.TurnCompletePayload](raw)
		if err != nil {
			return nil, false, err
		}
		return &session.TurnComplete{Speaker: core.Speaker(p.Speaker)}, false, nil

	case protocol.MsgInterrupted:
		return &session.Interrupted{}, false, nil

	case protocol.MsgError:
		p, err := protocol.UnmarshalPayload[protocol.ErrorPayload](raw)
		if err != nil {
			return nil, false, err
		}
		return &session.Error{Err: fmt.Errorf("websocket: host error %d: %s", p.Code, p.Message)}, true, nil

	case protocol.MsgClosed:
		p, err := protocol.UnmarshalPayload[protocol.ClosedPayload](raw)
		if err != nil {
			return nil, false, err
		}
		return &session.Closed{Reason: p.Reason}, true, nil

	default:
		return nil, false, nil
	}
}
