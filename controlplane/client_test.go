package controlplane

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"duplexkit/core"
	"duplexkit/protocol"
	"duplexkit/runner"
)

type received struct {
	msgType protocol.MessageType
	payload []byte
}

// startServer runs a control plane stub. Every message the agent sends is
// pushed to the returned channel; commands written to the send channel are
// forwarded to the agent.
func startServer(t *testing.T) (string, <-chan received, chan<- []byte) {
	t.Helper()
	in := make(chan received, 64)
	out := make(chan []byte, 8)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for data := range out {
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msgType, payload, err := protocol.Unmarshal(data)
			if err != nil {
				continue
			}
			select {
			case in <- received{msgType, payload}:
			default:
			}
		}
	}))
	t.Cleanup(func() {
		close(out)
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), in, out
}

func waitFor(t *testing.T, in <-chan received, want protocol.MessageType) received {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-in:
			if msg.msgType == want {
				return msg
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %q", want)
		}
	}
}

// fakeAgent serves a fixed snapshot and records session commands.
type fakeAgent struct {
	mu       sync.Mutex
	status   string
	session  *protocol.SessionInfo
	commands []string
	current  string
	err      error
}

func (a *fakeAgent) Snapshot() (string, *protocol.SessionInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status, a.session
}

func (a *fakeAgent) RestartSession(sessionID, reason string) (string, error) {
	return a.record("restart:"+sessionID+":"+reason)
}

func (a *fakeAgent) StopSession(sessionID, reason string) (string, error) {
	return a.record("stop:"+sessionID+":"+reason)
}

func (a *fakeAgent) record(cmd string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commands = append(a.commands, cmd)
	return a.current, a.err
}

func connect(t *testing.T, url string, agent Agent) *Client {
	t.Helper()
	client := NewClient(ClientConfig{
		ConnectURL:        url,
		AgentID:           "agent-1",
		Version:           "test",
		HeartbeatInterval: 20 * time.Millisecond,
		Logger:            core.NewNopLogger(),
	})
	if agent == nil {
		agent = &fakeAgent{status: StatusIdle}
	}
	if err := client.Connect(context.Background(), agent); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestClientRegistersAndHeartbeatsSession(t *testing.T) {
	url, in, _ := startServer(t)
	connect(t, url, &fakeAgent{
		status:  StatusRunning,
		session: &protocol.SessionInfo{SessionID: "s-1", State: "active", Transport: "gemini"},
	})

	reg := waitFor(t, in, protocol.MsgRegister)
	p, err := protocol.UnmarshalPayload[protocol.RegisterPayload](reg.payload)
	if err != nil || p.AgentID != "agent-1" {
		t.Fatalf("Unexpected register payload %+v (%v)", p, err)
	}
	if !slices.Contains(p.Capabilities, "stop_session") || !slices.Contains(p.Capabilities, "restart_session") {
		t.Errorf("Expected session command capabilities, got %v", p.Capabilities)
	}

	hb := waitFor(t, in, protocol.MsgHeartbeat)
	h, _ := protocol.UnmarshalPayload[protocol.HeartbeatPayload](hb.payload)
	if h.Status != StatusRunning || h.ActiveSessions != 1 {
		t.Errorf("Heartbeat should carry reported status, got %+v", h)
	}
	if h.Session == nil || h.Session.SessionID != "s-1" || h.Session.State != "active" {
		t.Errorf("Heartbeat should carry the session snapshot, got %+v", h.Session)
	}
}

func TestClientIdleHeartbeatHasNoSession(t *testing.T) {
	url, in, _ := startServer(t)
	connect(t, url, nil)

	hb := waitFor(t, in, protocol.MsgHeartbeat)
	h, _ := protocol.UnmarshalPayload[protocol.HeartbeatPayload](hb.payload)
	if h.Status != StatusIdle || h.ActiveSessions != 0 || h.Session != nil {
		t.Errorf("Unexpected idle heartbeat %+v", h)
	}
}

func TestClientAcksSessionCommands(t *testing.T) {
	url, in, out := startServer(t)
	agent := &fakeAgent{status: StatusRunning, current: "s-2"}
	connect(t, url, agent)
	waitFor(t, in, protocol.MsgRegister)

	msg, _ := protocol.Marshal(protocol.MsgRestartSession, protocol.RestartSessionPayload{SessionID: "s-1", Reason: "config changed"})
	out <- msg
	ack := waitFor(t, in, protocol.MsgAck)
	a, _ := protocol.UnmarshalPayload[protocol.AckPayload](ack.payload)
	if a.AckedType != protocol.MsgRestartSession || !a.OK || a.SessionID != "s-2" {
		t.Errorf("Unexpected restart ack %+v", a)
	}

	msg, _ = protocol.Marshal(protocol.MsgStopSession, protocol.StopSessionPayload{Reason: "operator"})
	out <- msg
	ack = waitFor(t, in, protocol.MsgAck)
	a, _ = protocol.UnmarshalPayload[protocol.AckPayload](ack.payload)
	if a.AckedType != protocol.MsgStopSession || !a.OK {
		t.Errorf("Unexpected stop ack %+v", a)
	}

	agent.mu.Lock()
	defer agent.mu.Unlock()
	want := []string{"restart:s-1:config changed", "stop::operator"}
	if !slices.Equal(agent.commands, want) {
		t.Errorf("Expected commands %v, got %v", want, agent.commands)
	}
}

func TestClientAcksRefusedCommand(t *testing.T) {
	url, in, out := startServer(t)
	agent := &fakeAgent{status: StatusRunning, current: "s-2", err: ErrNotCurrentSession}
	connect(t, url, agent)
	waitFor(t, in, protocol.MsgRegister)

	msg, _ := protocol.Marshal(protocol.MsgStopSession, protocol.StopSessionPayload{SessionID: "s-1"})
	out <- msg
	ack := waitFor(t, in, protocol.MsgAck)
	a, _ := protocol.UnmarshalPayload[protocol.AckPayload](ack.payload)
	if a.OK || !strings.Contains(a.Error, "not current") || a.SessionID != "s-2" {
		t.Errorf("Expected refused ack naming the current session, got %+v", a)
	}
}

func TestClientShutdownEndsWait(t *testing.T) {
	url, in, out := startServer(t)
	client := connect(t, url, nil)
	waitFor(t, in, protocol.MsgRegister)

	reasons := make(chan string, 1)
	client.OnShutdown = func(reason string) { reasons <- reason }
	msg, _ := protocol.Marshal(protocol.MsgShutdown, protocol.ShutdownPayload{})
	out <- msg

	waited := make(chan struct{})
	go func() {
		client.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatalf("Wait did not return after shutdown")
	}
	if r := <-reasons; r == "" {
		t.Errorf("Shutdown should carry a default reason")
	}
}

func TestClientDropsOldestLogs(t *testing.T) {
	client := NewClient(ClientConfig{AgentID: "agent-1", LogBuffer: 2, Logger: core.NewNopLogger()})
	for i := 0; i < 5; i++ {
		client.SendLog("s-1", protocol.LogEntry{Message: fmt.Sprintf("line %d", i)})
	}
	if n := client.DroppedLogs(); n != 3 {
		t.Errorf("Expected 3 dropped logs, got %d", n)
	}

	first := <-client.logs
	_, raw, _ := protocol.Unmarshal(first)
	lp, _ := protocol.UnmarshalPayload[protocol.LogPayload](raw)
	if lp.Entry.Message != "line 3" {
		t.Errorf("Expected the newest entries to survive, got %q first", lp.Entry.Message)
	}
}

func TestReporterMirrorsLifecycle(t *testing.T) {
	url, in, _ := startServer(t)
	client := connect(t, url, nil)
	waitFor(t, in, protocol.MsgRegister)

	sr := NewSessionReporter(client, "websocket", core.LevelInfo)
	if status, info := sr.Snapshot(); status != StatusIdle || info != nil {
		t.Errorf("Expected idle without session, got %s/%+v", status, info)
	}
	sr.onState("s-1", runner.StateConnecting)
	sr.onState("s-1", runner.StateActive)
	if status, info := sr.Snapshot(); status != StatusRunning || info == nil || info.State != "active" {
		t.Errorf("Expected running/active, got %s/%+v", status, info)
	}

	sr.onTranscript("s-1", true, "hello", core.SpeakerUser)
	sr.onClose("s-1", runner.CloseReasonError, errors.New("socket reset"))
	status, info := sr.Snapshot()
	if status != StatusError || info == nil || info.ClosedAt == "" {
		t.Errorf("Expected error with close time, got %s/%+v", status, info)
	}

	var statuses []protocol.StatusPayload
	var events []protocol.EventPayload
	deadline := time.After(2 * time.Second)
	for len(statuses) < 3 || len(events) < 1 {
		select {
		case msg := <-in:
			switch msg.msgType {
			case protocol.MsgStatus:
				p, _ := protocol.UnmarshalPayload[protocol.StatusPayload](msg.payload)
				statuses = append(statuses, p)
			case protocol.MsgEvent:
				p, _ := protocol.UnmarshalPayload[protocol.EventPayload](msg.payload)
				events = append(events, p)
			}
		case <-deadline:
			t.Fatalf("Timed out: %d statuses, %d events", len(statuses), len(events))
		}
	}

	last := statuses[len(statuses)-1]
	if len(last.Sessions) != 1 {
		t.Fatalf("Expected one session in status, got %+v", last)
	}
	got := last.Sessions[0]
	if got.SessionID != "s-1" || got.Transport != "websocket" || got.CloseReason != "error" || got.Error != "socket reset" {
		t.Errorf("Unexpected session info %+v", got)
	}
	if last.Status != StatusError {
		t.Errorf("Expected error status, got %q", last.Status)
	}

	ev := events[0]
	if ev.SessionID != "s-1" || ev.EventID != "session.transcript" || !strings.Contains(string(ev.Data), "hello") {
		t.Errorf("Unexpected transcript event %+v", ev)
	}
}

func TestReporterLogWriters(t *testing.T) {
	url, in, _ := startServer(t)
	client := connect(t, url, nil)
	waitFor(t, in, protocol.MsgRegister)

	sr := NewSessionReporter(client, "gemini", core.LevelInfo)
	writers := sr.LogWriters(core.SessionMetadata{SessionID: "s-2", Transport: "gemini"})
	if len(writers) != 1 {
		t.Fatalf("Expected one writer, got %d", len(writers))
	}
	writers[0].Write("DEBUG", "frame sent", nil)
	writers[0].Write("WARN", "transport error", map[string]interface{}{"error": errors.New("reset")})
	writers[0].Close()
	writers[0].Write("INFO", "after close", nil)

	logMsg := waitFor(t, in, protocol.MsgLog)
	lp, _ := protocol.UnmarshalPayload[protocol.LogPayload](logMsg.payload)
	if lp.SessionID != "s-2" || lp.Entry.Message != "transport error" {
		t.Errorf("Unexpected log payload %+v", lp)
	}
	if lp.Entry.Attrs["error"] != "reset" || lp.Entry.Attrs["transport"] != "gemini" {
		t.Errorf("Unexpected log attrs %+v", lp.Entry.Attrs)
	}

	end := waitFor(t, in, protocol.MsgLogEnd)
	ep, _ := protocol.UnmarshalPayload[protocol.LogEndPayload](end.payload)
	if ep.SessionID != "s-2" || ep.Lines != 1 {
		t.Errorf("Expected one line before log end, got %+v", ep)
	}
}

func TestReporterRefusesCommandForOtherSession(t *testing.T) {
	client := NewClient(ClientConfig{AgentID: "agent-1", Logger: core.NewNopLogger()})
	sr := NewSessionReporter(client, "websocket", core.LevelInfo)
	starts := 0
	sr.Attach(runner.NewRunner(runner.DefaultConfig(), runner.Dependencies{Logger: core.NewNopLogger()}), func() error {
		starts++
		return nil
	})

	if _, err := sr.StopSession("s-9", "operator"); !errors.Is(err, ErrNotCurrentSession) {
		t.Errorf("Expected ErrNotCurrentSession, got %v", err)
	}
	if _, err := sr.RestartSession("s-9", "operator"); !errors.Is(err, ErrNotCurrentSession) {
		t.Errorf("Expected ErrNotCurrentSession, got %v", err)
	}
	if starts != 0 {
		t.Errorf("Refused restart must not start a session, got %d starts", starts)
	}

	if _, err := sr.StopSession("", "operator"); err != nil {
		t.Errorf("Untargeted stop without a session should succeed, got %v", err)
	}
	if _, err := sr.RestartSession("", "operator"); err != nil || starts != 1 {
		t.Errorf("Untargeted restart should start once, got %v, %d starts", err, starts)
	}
}
