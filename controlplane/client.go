package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"duplexkit/core"
	"duplexkit/protocol"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultLogBuffer         = 256
	controlBuffer            = 64
	writeTimeout             = 10 * time.Second
)

// ErrNotCurrentSession is returned by a SessionController when a command
// names a session that is no longer current.
var ErrNotCurrentSession = errors.New("controlplane: session is not current")

// capabilities advertised at registration.
var capabilities = []string{"restart_session", "stop_session", "session_logs", "session_events"}

// SessionSource reports the agent status and its current or last session.
type SessionSource interface {
	Snapshot() (status string, session *protocol.SessionInfo)
}

// SessionController carries out session commands. sessionID is empty when
// the control plane did not target a specific session. Both methods return
// the id of the session current afterwards.
type SessionController interface {
	RestartSession(sessionID, reason string) (string, error)
	StopSession(sessionID, reason string) (string, error)
}

// Agent is what a Client serves: session snapshots for heartbeats and
// session commands.
type Agent interface {
	SessionSource
	SessionController
}

// ClientConfig configures the control plane WebSocket client.
type ClientConfig struct {
	ConnectURL        string
	AgentID           string
	Version           string
	Metadata          map[string]string
	HeartbeatInterval time.Duration
	LogBuffer         int // Queued log entries before the oldest is dropped.
	Logger            *core.Logger
}

type command struct {
	msgType   protocol.MessageType
	sessionID string
	reason    string
}

// Client is the agent-side WebSocket client that connects outward to a
// control plane. Status, events, acks and heartbeats share a control queue
// that is always written before queued session logs; when the connection
// falls behind, the oldest log entries are dropped and counted.
type Client struct {
	config ClientConfig
	logger *core.Logger
	agent  Agent

	// OnShutdown is called from the read loop when the control plane asks the
	// agent to exit.
	OnShutdown func(reason string)

	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	control     chan []byte
	logs        chan []byte
	commands    chan command
	droppedLogs atomic.Uint64

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.LogBuffer <= 0 {
		cfg.LogBuffer = defaultLogBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = core.GetLogger()
	}
	return &Client{
		config:   cfg,
		logger:   cfg.Logger.With(map[string]interface{}{"component": "controlplane"}),
		control:  make(chan []byte, controlBuffer),
		logs:     make(chan []byte, cfg.LogBuffer),
		commands: make(chan command, 8),
		done:     make(chan struct{}),
	}
}

// Connect dials the control plane, registers, and serves agent until ctx is
// cancelled, the connection drops or a shutdown arrives.
func (c *Client) Connect(ctx context.Context, agent Agent) error {
	c.agent = agent
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.logger.With(map[string]interface{}{"url": c.config.ConnectURL}).Info("connecting to control plane")

	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.config.ConnectURL, nil)
	if err != nil {
		c.cancel()
		return fmt.Errorf("controlplane: dial %q: %w", c.config.ConnectURL, err)
	}
	c.conn = conn

	data, err := protocol.Marshal(protocol.MsgRegister, protocol.RegisterPayload{
		AgentID:      c.config.AgentID,
		Version:      c.config.Version,
		Capabilities: capabilities,
		Metadata:     c.config.Metadata,
		Timestamp:    time.Now().UTC(),
	})
	if err == nil {
		err = c.write(data)
	}
	if err != nil {
		conn.Close()
		c.cancel()
		return fmt.Errorf("controlplane: register: %w", err)
	}
	c.logger.With(map[string]interface{}{"agent_id": c.config.AgentID}).Info("registered with control plane")

	go c.readLoop()
	go c.writeLoop()
	go c.commandLoop()
	go c.heartbeatLoop()
	return nil
}

// SendLog queues a log entry for a session. Under back-pressure the oldest
// queued entry is dropped.
func (c *Client) SendLog(sessionID string, entry protocol.LogEntry) {
	data, ok := c.marshal(protocol.MsgLog, protocol.LogPayload{
		AgentID:   c.config.AgentID,
		SessionID: sessionID,
		Entry:     entry,
	})
	if ok && offer(c.logs, data) {
		c.droppedLogs.Add(1)
	}
}

// SendLogEnd signals that a session's log stream has ended.
func (c *Client) SendLogEnd(sessionID string, lines int) {
	c.enqueue(protocol.MsgLogEnd, protocol.LogEndPayload{
		AgentID:   c.config.AgentID,
		SessionID: sessionID,
		Lines:     lines,
	})
}

// SendStatus reports the agent status with its current session.
func (c *Client) SendStatus(status string, session protocol.SessionInfo) {
	c.enqueue(protocol.MsgStatus, protocol.StatusPayload{
		AgentID:  c.config.AgentID,
		Status:   status,
		Sessions: []protocol.SessionInfo{session},
	})
}

// SendEvent reports a session event.
func (c *Client) SendEvent(sessionID, eventID string, data json.RawMessage) {
	c.enqueue(protocol.MsgEvent, protocol.EventPayload{
		AgentID:   c.config.AgentID,
		SessionID: sessionID,
		EventID:   eventID,
		Data:      data,
	})
}

// DroppedLogs is the number of log entries discarded so far.
func (c *Client) DroppedLogs() uint64 {
	return c.droppedLogs.Load()
}

// Wait blocks until the connection drops, a shutdown arrives or the context
// passed to Connect is cancelled.
func (c *Client) Wait() {
	<-c.done
}

// Close sends a normal close frame and shuts the client down.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "agent closing")
			c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) write(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) marshal(msgType protocol.MessageType, payload interface{}) ([]byte, bool) {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		c.logger.With(map[string]interface{}{"error": err, "type": string(msgType)}).Warn("failed to marshal message, dropping")
		return nil, false
	}
	return data, true
}

func (c *Client) enqueue(msgType protocol.MessageType, payload interface{}) {
	data, ok := c.marshal(msgType, payload)
	if !ok {
		return
	}
	if offer(c.control, data) {
		c.logger.With(map[string]interface{}{"type": string(msgType)}).Warn("control queue full, dropped oldest message")
	}
}

// offer pushes data, discarding the oldest entry when ch is full. It reports
// whether something was discarded.
func offer(ch chan []byte, data []byte) bool {
	select {
	case ch <- data:
		return false
	default:
	}
	dropped := false
	select {
	case <-ch:
		dropped = true
	default:
	}
	select {
	case ch <- data:
	default:
		dropped = true
	}
	return dropped
}

func (c *Client) stopped() {
	c.doneOnce.Do(func() { close(c.done) })
	c.cancel()
}

func (c *Client) readLoop() {
	defer c.stopped()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.With(map[string]interface{}{"error": err}).Warn("control plane connection lost")
			}
			return
		}

		msgType, payload, err := protocol.Unmarshal(data)
		if err != nil {
			c.logger.With(map[string]interface{}{"error": err}).Warn("invalid message from control plane")
			continue
		}

		switch msgType {
		case protocol.MsgRestartSession:
			p, err := protocol.UnmarshalPayload[protocol.RestartSessionPayload](payload)
			if err != nil {
				c.ack(msgType, "", err)
				continue
			}
			c.submit(command{msgType: msgType, sessionID: p.SessionID, reason: p.Reason})

		case protocol.MsgStopSession:
			p, err := protocol.UnmarshalPayload[protocol.StopSessionPayload](payload)
			if err != nil {
				c.ack(msgType, "", err)
				continue
			}
			c.submit(command{msgType: msgType, sessionID: p.SessionID, reason: p.Reason})

		case protocol.MsgShutdown:
			p, _ := protocol.UnmarshalPayload[protocol.ShutdownPayload](payload)
			reason := p.Reason
			if reason == "" {
				reason = "shutdown requested by control plane"
			}
			c.logger.With(map[string]interface{}{"reason": reason}).Info("shutdown requested")
			if c.OnShutdown != nil {
				c.OnShutdown(reason)
			}
			return

		default:
			c.logger.With(map[string]interface{}{"type": string(msgType)}).Warn("unknown message type from control plane")
		}
	}
}

// submit hands a command to the command loop without blocking reads.
func (c *Client) submit(cmd command) {
	c.logger.With(map[string]interface{}{
		"type":       string(cmd.msgType),
		"session_id": cmd.sessionID,
		"reason":     cmd.reason,
	}).Info("session command received")
	select {
	case c.commands <- cmd:
	default:
		c.ack(cmd.msgType, cmd.sessionID, errors.New("controlplane: command queue full"))
	}
}

// commandLoop runs session commands one at a time, so a stop never
// interleaves with a restart.
func (c *Client) commandLoop() {
	for {
		select {
		case cmd := <-c.commands:
			var (
				current string
				err     error
			)
			switch cmd.msgType {
			case protocol.MsgRestartSession:
				current, err = c.agent.RestartSession(cmd.sessionID, cmd.reason)
			case protocol.MsgStopSession:
				current, err = c.agent.StopSession(cmd.sessionID, cmd.reason)
			}
			if err != nil {
				c.logger.With(map[string]interface{}{"type": string(cmd.msgType), "error": err}).Warn("session command failed")
			}
			c.ack(cmd.msgType, current, err)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) ack(acked protocol.MessageType, sessionID string, err error) {
	p := protocol.AckPayload{AckedType: acked, SessionID: sessionID, OK: err == nil}
	if err != nil {
		p.Error = err.Error()
	}
	c.enqueue(protocol.MsgAck, p)
}

func (c *Client) writeLoop() {
	for {
		var data []byte
		select {
		case data = <-c.control:
		default:
			select {
			case data = <-c.control:
			case data = <-c.logs:
			case <-c.ctx.Done():
				return
			}
		}
		if err := c.write(data); err != nil {
			if c.ctx.Err() == nil {
				c.logger.With(map[string]interface{}{"error": err}).Warn("write to control plane failed")
			}
			c.stopped()
			return
		}
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status, session := c.agent.Snapshot()
			hb := protocol.HeartbeatPayload{
				AgentID:     c.config.AgentID,
				Timestamp:   time.Now().UTC(),
				Status:      status,
				Session:     session,
				DroppedLogs: c.droppedLogs.Load(),
			}
			if status == StatusRunning {
				hb.ActiveSessions = 1
			}
			c.enqueue(protocol.MsgHeartbeat, hb)
		case <-c.ctx.Done():
			return
		}
	}
}
