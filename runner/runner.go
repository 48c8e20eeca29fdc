// Package runner drives duplex voice sessions: it owns the lifecycle state
// machine and routes inbound transport events to capture, playback, tools and
// transcripts.
package runner

import (
	"context"
	"sync"

	"duplexkit/core"
	"duplexkit/handlers/capture"
	"duplexkit/handlers/playback"
	"duplexkit/handlers/tools"
	"duplexkit/handlers/transcript"
	"duplexkit/handlers/transport"
	"duplexkit/metrics"
)

type (
	CloseFunc func(sessionID string, reason CloseReason, err error)
	StateFunc func(sessionID string, state State)
	EventFunc func(packet *core.EventPacket)
)

// Config holds the per-session settings.
type Config struct {
	Capture     capture.CaptureConfig
	Playback    playback.PlaybackConfig
	Tools       tools.ToolsConfig
	Open        transport.OpenConfig
	EventBuffer int // Capacity of the inbound event queue.
}

func DefaultConfig() Config {
	return Config{
		Capture:     capture.DefaultConfig(),
		Playback:    playback.DefaultConfig(),
		Tools:       tools.DefaultConfig(),
		Open:        transport.DefaultOpenConfig(),
		EventBuffer: 64,
	}
}

// Dependencies are the external collaborators a Runner needs. Microphone,
// Speaker and Dialer are required.
type Dependencies struct {
	Microphone capture.Microphone
	Speaker    playback.Speaker
	Dialer     transport.Dialer
	Clock      playback.Clock
	Tools      *tools.Registry // Default tool handler and manifest.
	Metrics    *metrics.Metrics
	Logger     *core.Logger

	TransportName string
	LogWriters    func(meta core.SessionMetadata) []core.LogWriter
}

// Runner is the public engine surface. At most one session is current; Start
// while it is connecting or active is a no-op, and Stop is idempotent.
//
// Hooks run in order on a goroutine owned by the session, never on the event
// loop, so a hook may call Start or Stop.
type Runner struct {
	config Config
	deps   Dependencies

	startMu sync.Mutex

	mu      sync.Mutex
	current *Session
	hooks   hooks
}

func NewRunner(config Config, deps Dependencies) *Runner {
	if deps.Logger == nil {
		deps.Logger = core.GetLogger()
	}
	if deps.Clock == nil {
		deps.Clock = playback.NewSystemClock()
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultConfig().EventBuffer
	}
	return &Runner{config: config, deps: deps}
}

// OnTranscript registers a listener for (isFinal, text, speaker) updates.
func (r *Runner) OnTranscript(fn transcript.UpdateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks.onTranscript = append(r.hooks.onTranscript, fn)
}

// OnToolCall installs the tool handler. It replaces the registry handler
// built from Dependencies.Tools.
func (r *Runner) OnToolCall(fn tools.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks.onToolCall = fn
}

func (r *Runner) OnClose(fn CloseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks.onClose = append(r.hooks.onClose, fn)
}

func (r *Runner) OnStateChange(fn StateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks.onState = append(r.hooks.onState, fn)
}

// OnEvent registers an observer for every inbound event.
func (r *Runner) OnEvent(fn EventFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks.onEvent = append(r.hooks.onEvent, fn)
}

// SetConfig replaces the settings used by the next session. A session that
// is already running keeps the config it started with.
func (r *Runner) SetConfig(config Config) {
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultConfig().EventBuffer
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = config
}

func (r *Runner) snapshot() (Config, hooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config, hooks{
		onTranscript: append([]transcript.UpdateFunc(nil), r.hooks.onTranscript...),
		onToolCall:   r.hooks.onToolCall,
		onClose:      append([]CloseFunc(nil), r.hooks.onClose...),
		onState:      append([]StateFunc(nil), r.hooks.onState...),
		onEvent:      append([]EventFunc(nil), r.hooks.onEvent...),
	}
}

// Start opens a new session. It returns once the transport is open; the
// session becomes Active when the host acknowledges the setup. A session
// that is still closing is waited for before a fresh one starts.
func (r *Runner) Start(ctx context.Context) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	if cur := r.Session(); cur != nil {
		switch cur.State() {
		case StateConnecting, StateActive:
			return nil
		case StateClosing, StateError:
			select {
			case <-cur.released():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	config, h := r.snapshot()
	s := newSession(config, r.deps, h)
	r.mu.Lock()
	r.current = s
	r.mu.Unlock()

	return s.start(ctx)
}

// Stop closes the current session and waits until its resources are
// released. Hooks may still be running when it returns; wait on Done for
// them. Calling it with no live session is a no-op.
func (r *Runner) Stop() {
	s := r.Session()
	if s == nil {
		return
	}
	s.stop()
}

// Session returns the current session, or nil before the first Start.
func (r *Runner) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Runner) State() State {
	if s := r.Session(); s != nil {
		return s.State()
	}
	return StateIdle
}

func (r *Runner) SessionID() string {
	if s := r.Session(); s != nil {
		return s.ID()
	}
	return ""
}

// Done is closed when the current session ended and its last hook, OnClose
// included, returned. Before the first Start it returns a closed channel.
func (r *Runner) Done() <-chan struct{} {
	if s := r.Session(); s != nil {
		return s.Done()
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}
