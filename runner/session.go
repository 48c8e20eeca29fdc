package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"duplexkit/core"
	"duplexkit/events/session"
	"duplexkit/handlers/capture"
	"duplexkit/handlers/playback"
	"duplexkit/handlers/tools"
	"duplexkit/handlers/transcript"
	"duplexkit/handlers/transport"
	"duplexkit/metrics"
)

// hooks is the snapshot of runner callbacks a session was started with.
type hooks struct {
	onTranscript []transcript.UpdateFunc
	onToolCall   tools.Handler
	onClose      []CloseFunc
	onState      []StateFunc
	onEvent      []EventFunc
}

// Session owns every resource of one conversation: microphone, playback
// device, transport, and the components fed by inbound events. A single loop
// goroutine handles all inbound events and the stop request, so lifecycle
// decisions are made in one place.
type Session struct {
	id      string
	config  Config
	deps    Dependencies
	hooks   hooks
	logger  *core.Logger
	metrics *metrics.Metrics
	writers []core.LogWriter

	mic         capture.Device
	speaker     playback.Device
	transport   transport.Session
	pump        *capture.Pump
	scheduler   *playback.Scheduler
	router      *tools.Router
	transcripts *transcript.Aggregator

	notify      *notifier
	events      chan core.IEvent
	stopCh      chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
	setupCancel context.CancelFunc
	recvCancel  context.CancelFunc

	mu       sync.Mutex
	state    State
	reason   CloseReason
	closeErr error
	openedAt time.Time
	closedAt time.Time
}

func newSession(config Config, deps Dependencies, h hooks) *Session {
	id := uuid.New().String()
	startedAt := time.Now()

	logger := deps.Logger.With(map[string]interface{}{"session_id": id})
	var writers []core.LogWriter
	if deps.LogWriters != nil {
		writers = deps.LogWriters(core.SessionMetadata{
			SessionID: id,
			Transport: deps.TransportName,
			StartedAt: startedAt.UTC().Format(time.RFC3339),
		})
		if len(writers) > 0 {
			logger = core.NewSessionLogger(logger, writers...)
		}
	}

	return &Session{
		id:       id,
		config:   config,
		deps:     deps,
		hooks:    h,
		logger:   logger,
		metrics:  deps.Metrics,
		writers:  writers,
		notify:   newNotifier(logger),
		events:   make(chan core.IEvent, config.EventBuffer),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateIdle,
		openedAt: startedAt,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reached Closed, every resource was
// released and every hook, OnClose included, has returned.
func (s *Session) Done() <-chan struct{} {
	return s.notify.drained
}

// released is closed when teardown finished, before OnClose hooks run.
func (s *Session) released() <-chan struct{} {
	return s.done
}

// CloseReason returns why the session ended and the error that caused it,
// if any. Both are zero until the session is closed.
func (s *Session) CloseReason() (CloseReason, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason, s.closeErr
}

func (s *Session) setState(to State) bool {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		s.logger.With(map[string]interface{}{"from": from.String(), "to": to.String()}).Debug("ignoring illegal state transition")
		return false
	}
	s.state = to
	s.mu.Unlock()

	s.logger.With(map[string]interface{}{"from": from.String(), "to": to.String()}).Debug("session state changed")
	if hooks := s.hooks.onState; len(hooks) > 0 {
		s.notify.post(func() {
			for _, fn := range hooks {
				fn(s.id, to)
			}
		})
	}
	return true
}

// start acquires the devices and opens the transport. On failure every
// resource acquired so far is released and the session is Closed.
func (s *Session) start(ctx context.Context) error {
	setupCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.setupCancel = cancel
	s.mu.Unlock()
	defer cancel()

	mic, err := s.deps.Microphone.Acquire(setupCtx, s.config.Capture)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPermission, err)
		s.logger.With(map[string]interface{}{"error": err}).Warn("microphone acquisition failed")
		s.finish(CloseReasonSetup, err)
		return err
	}
	s.mic = mic

	speaker, err := s.deps.Speaker.Open(setupCtx, s.config.Playback, s.deps.Clock)
	if err != nil {
		err = fmt.Errorf("%w: open playback device: %w", ErrSetup, err)
		s.logger.With(map[string]interface{}{"error": err}).Error("playback device open failed")
		s.releaseDevices()
		s.finish(CloseReasonSetup, err)
		return err
	}
	s.speaker = speaker

	s.setState(StateConnecting)

	tr, err := s.deps.Dialer.Open(setupCtx, s.openConfig())
	if err != nil {
		err = fmt.Errorf("%w: open transport: %w", ErrSetup, err)
		s.logger.With(map[string]interface{}{"error": err}).Error("transport open failed")
		s.releaseDevices()
		s.finish(CloseReasonSetup, err)
		return err
	}
	s.transport = tr

	s.scheduler = playback.NewScheduler(s.deps.Clock, speaker, s.config.Playback, s.logger, s.metrics)
	s.pump = capture.NewPump(tr.SendAudio, s.logger, s.metrics)
	s.router = tools.NewRouter(s.sendToolResponse, s.toolHandler(), s.config.Tools, s.logger, s.metrics)
	s.transcripts = transcript.NewAggregator(s.emitTranscript, s.logger, s.metrics)

	recvCtx, recvCancel := context.WithCancel(context.Background())
	s.recvCancel = recvCancel
	go tr.StartReceiving(recvCtx, s.events)

	s.metrics.RecordSessionStart()
	s.logger.Info("session connecting")
	go s.loop()
	return nil
}

func (s *Session) openConfig() transport.OpenConfig {
	cfg := s.config.Open
	if len(cfg.Tools) == 0 && s.deps.Tools != nil {
		cfg.Tools = s.deps.Tools.Definitions()
	}
	return cfg
}

// toolHandler prefers the OnToolCall hook and falls back to the registry.
// Registry executors find the session logger in their context.
func (s *Session) toolHandler() tools.Handler {
	if s.hooks.onToolCall != nil || s.deps.Tools == nil {
		return s.hooks.onToolCall
	}
	base := core.ContextWithSessionLogger(context.Background(), s.logger)
	return s.deps.Tools.Handler(base, s.config.Tools.Timeout())
}

func (s *Session) sendToolResponse(resp core.ToolResponse) error {
	err := s.transport.SendToolResponse(context.Background(), resp)
	if transport.IsClosed(err) {
		return nil
	}
	return err
}

func (s *Session) emitTranscript(isFinal bool, text string, speaker core.Speaker) {
	hooks := s.hooks.onTranscript
	if len(hooks) == 0 {
		return
	}
	s.notify.post(func() {
		for _, fn := range hooks {
			fn(isFinal, text, speaker)
		}
	})
}

// stop requests a user close and waits until resources are released. It is
// safe to call any number of times from any goroutine, hooks included; hooks
// still queued at that point are delivered afterwards (see Done).
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.mu.Lock()
	cancel := s.setupCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-s.done
}

func (s *Session) loop() {
	for {
		select {
		case ev := <-s.events:
			if s.handle(ev) {
				return
			}
		case <-s.stopCh:
			s.teardown(CloseReasonUser, nil)
			return
		}
	}
}

// handle applies one inbound event. It reports whether the session ended.
func (s *Session) handle(ev core.IEvent) bool {
	if hooks := s.hooks.onEvent; len(hooks) > 0 {
		packet := core.NewEventPacket(ev, s.id)
		s.notify.post(func() {
			for _, fn := range hooks {
				fn(packet)
			}
		})
	}

	switch e := ev.(type) {
	case *session.Opened:
		if !s.setState(StateActive) {
			return false
		}
		s.logger.With(map[string]interface{}{"handle": e.Handle}).Info("session active")
		if err := s.mic.Start(s.pump.OnFrame); err != nil {
			s.logger.With(map[string]interface{}{"error": err}).Error("failed to start capture")
			s.setState(StateError)
			s.teardown(CloseReasonError, fmt.Errorf("start capture: %w", err))
			return true
		}

	case *session.AudioChunk:
		// decode failures are logged by the scheduler and skipped
		_, _ = s.scheduler.Enqueue(e.MIMEType, e.Data)

	case *session.ToolCall:
		s.router.Dispatch(e.FunctionCalls)

	case *session.Transcript:
		s.transcripts.Apply(e.Speaker, e.Text, e.IsFinal)

	case *session.TurnComplete:
		s.transcripts.CompleteTurn(e.Speaker)

	case *session.Interrupted:
		n := s.scheduler.StopAll()
		s.logger.With(map[string]interface{}{"stopped": n}).Debug("remote reply interrupted")

	case *session.Closed:
		s.logger.With(map[string]interface{}{"reason": e.Reason}).Info("remote closed session")
		s.teardown(CloseReasonRemote, nil)
		return true

	case *session.Error:
		s.logger.With(map[string]interface{}{"error": e.Err}).Error("transport error")
		s.setState(StateError)
		s.teardown(CloseReasonError, e.Err)
		return true

	default:
		s.logger.With(map[string]interface{}{"event": ev.GetId()}).Warn("ignoring unknown event")
	}
	return false
}

// teardown releases everything in a fixed order. Every step runs even if an
// earlier one failed; failures are logged only.
func (s *Session) teardown(reason CloseReason, cause error) {
	s.setState(StateClosing)

	// capture
	if err := s.mic.Stop(); err != nil {
		s.logger.With(map[string]interface{}{"error": err}).Warn("failed to stop capture")
	}
	s.pump.Close()

	// playback, tools, transcripts
	stopped := s.scheduler.Close()
	s.router.Close()
	s.transcripts.CompleteTurn("")

	// transport
	s.recvCancel()
	if err := s.transport.Close(); err != nil {
		s.logger.With(map[string]interface{}{"error": err}).Warn("failed to close transport")
	}

	// devices
	s.releaseDevices()

	sent, dropped := s.pump.Stats()
	s.logger.With(map[string]interface{}{
		"reason":         string(reason),
		"frames_sent":    sent,
		"frames_dropped": dropped,
		"playback_stop":  stopped,
	}).Info("session closed")

	s.finish(reason, cause)
}

func (s *Session) releaseDevices() {
	if s.mic != nil {
		if err := s.mic.Release(); err != nil {
			s.logger.With(map[string]interface{}{"error": err}).Warn("failed to release microphone")
		}
	}
	if s.speaker != nil {
		if err := s.speaker.Close(); err != nil {
			s.logger.With(map[string]interface{}{"error": err}).Warn("failed to close playback device")
		}
	}
}

func (s *Session) finish(reason CloseReason, cause error) {
	s.mu.Lock()
	s.reason = reason
	s.closeErr = cause
	s.closedAt = time.Now()
	lifetime := s.closedAt.Sub(s.openedAt)
	s.mu.Unlock()

	s.setState(StateClosed)
	if s.transport != nil {
		s.metrics.RecordSessionEnd(string(reason), lifetime)
	}
	for _, w := range s.writers {
		w.Close()
	}
	close(s.done)

	if hooks := s.hooks.onClose; len(hooks) > 0 {
		s.notify.post(func() {
			for _, fn := range hooks {
				fn(s.id, reason, cause)
			}
		})
	}
	s.notify.close()
}
