package controlplane

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"duplexkit/core"
	"duplexkit/events/session"
	"duplexkit/protocol"
	"duplexkit/runner"
)

// Agent status values reported in heartbeats and status messages.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusError   = "error"
)

// SessionReporter connects a runner to the control plane. It mirrors every
// lifecycle transition, transcript and tool event, streams session logs
// through WSLogWriter, and carries out session commands on the runner.
type SessionReporter struct {
	client    *Client
	transport string
	minLevel  core.Level

	runner *runner.Runner
	start  func() error

	mu   sync.Mutex
	info protocol.SessionInfo
	live bool
}

var _ Agent = (*SessionReporter)(nil)

func NewSessionReporter(client *Client, transportName string, minLevel core.Level) *SessionReporter {
	return &SessionReporter{client: client, transport: transportName, minLevel: minLevel}
}

// Attach registers the reporter's hooks on r. start opens a fresh session
// and is used by restart commands.
func (sr *SessionReporter) Attach(r *runner.Runner, start func() error) {
	sr.runner = r
	sr.start = start
	r.OnStateChange(sr.onState)
	r.OnClose(sr.onClose)
	r.OnEvent(sr.onEvent)
	r.OnTranscript(func(isFinal bool, text string, speaker core.Speaker) {
		sr.onTranscript(r.SessionID(), isFinal, text, speaker)
	})
}

// LogWriters is suitable for runner.Dependencies.LogWriters.
func (sr *SessionReporter) LogWriters(meta core.SessionMetadata) []core.LogWriter {
	return []core.LogWriter{NewWSLogWriter(sr.client, meta, sr.minLevel)}
}

// Snapshot reports the agent status with the current or last session, nil
// before the first one.
func (sr *SessionReporter) Snapshot() (string, *protocol.SessionInfo) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	status := sr.statusLocked()
	if sr.info.SessionID == "" {
		return status, nil
	}
	info := sr.info
	return status, &info
}

func (sr *SessionReporter) statusLocked() string {
	switch {
	case sr.live:
		return StatusRunning
	case sr.info.CloseReason == string(runner.CloseReasonError) || sr.info.CloseReason == string(runner.CloseReasonSetup):
		return StatusError
	default:
		return StatusIdle
	}
}

// RestartSession closes the current session and starts a fresh one.
func (sr *SessionReporter) RestartSession(sessionID, reason string) (string, error) {
	if err := sr.checkTarget(sessionID); err != nil {
		return sr.runner.SessionID(), err
	}
	sr.runner.Stop()
	err := sr.start()
	return sr.runner.SessionID(), err
}

// StopSession closes the current session. Stopping with no live session
// succeeds.
func (sr *SessionReporter) StopSession(sessionID, reason string) (string, error) {
	if err := sr.checkTarget(sessionID); err != nil {
		return sr.runner.SessionID(), err
	}
	sr.runner.Stop()
	return sr.runner.SessionID(), nil
}

func (sr *SessionReporter) checkTarget(sessionID string) error {
	if sr.runner == nil {
		return errors.New("controlplane: no runner attached")
	}
	if sessionID != "" && sessionID != sr.runner.SessionID() {
		return fmt.Errorf("%w: %s", ErrNotCurrentSession, sessionID)
	}
	return nil
}

func (sr *SessionReporter) onState(sessionID string, state runner.State) {
	sr.mu.Lock()
	if sr.info.SessionID != sessionID {
		sr.info = protocol.SessionInfo{
			SessionID: sessionID,
			Transport: sr.transport,
			StartedAt: time.Now().UTC().Format(time.RFC3339),
		}
	}
	sr.info.State = state.String()
	sr.live = state.Live()
	info := sr.info
	sr.mu.Unlock()

	sr.sendStatus(info)
}

func (sr *SessionReporter) onClose(sessionID string, reason runner.CloseReason, err error) {
	sr.mu.Lock()
	if sr.info.SessionID != sessionID {
		sr.mu.Unlock()
		return
	}
	sr.info.CloseReason = string(reason)
	sr.info.ClosedAt = time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		sr.info.Error = err.Error()
	}
	sr.live = false
	info := sr.info
	sr.mu.Unlock()

	sr.sendStatus(info)
}

func (sr *SessionReporter) sendStatus(info protocol.SessionInfo) {
	sr.mu.Lock()
	status := sr.statusLocked()
	sr.mu.Unlock()
	sr.client.SendStatus(status, info)
}

func (sr *SessionReporter) onEvent(packet *core.EventPacket) {
	var data interface{}
	switch e := packet.Event.(type) {
	case *session.ToolCall:
		data = map[string]interface{}{"function_calls": e.FunctionCalls}
	case *session.Interrupted:
		data = map[string]interface{}{}
	default:
		// audio and transcripts are not forwarded per packet
		return
	}
	sr.sendEvent(packet.SessionID, packet.Event.GetId(), data)
}

func (sr *SessionReporter) onTranscript(sessionID string, isFinal bool, text string, speaker core.Speaker) {
	sr.sendEvent(sessionID, "session.transcript", map[string]interface{}{
		"is_final": isFinal,
		"text":     text,
		"speaker":  string(speaker),
	})
}

func (sr *SessionReporter) sendEvent(sessionID, eventID string, data interface{}) {
	raw, err := sonic.Marshal(data)
	if err != nil {
		sr.client.logger.With(map[string]interface{}{"error": err, "event_id": eventID}).Warn("failed to marshal event")
		return
	}
	sr.client.SendEvent(sessionID, eventID, raw)
}
