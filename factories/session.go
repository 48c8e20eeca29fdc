package factories

import (
	"encoding/json"
	"fmt"

	"duplexkit/core"
	"duplexkit/handlers/capture"
	"duplexkit/handlers/playback"
	"duplexkit/handlers/tools"
	"duplexkit/handlers/transport"
	"duplexkit/metrics"
	"duplexkit/runner"
)

// SessionConfig holds the settings applied to one session. It can be set
// inline in the settings file or fetched per session from a SessionAPIConfig.
type SessionConfig struct {
	Capture     capture.CaptureConfig   `json:"capture" yaml:"capture"`
	Playback    playback.PlaybackConfig `json:"playback" yaml:"playback"`
	Tools       tools.ToolsConfig       `json:"tools" yaml:"tools"`
	Open        transport.OpenConfig    `json:"open" yaml:"open"`
	EventBuffer int                     `json:"event_buffer,omitempty" yaml:"event_buffer,omitempty"`
}

func DefaultSessionConfig() SessionConfig {
	d := runner.DefaultConfig()
	return SessionConfig{
		Capture:     d.Capture,
		Playback:    d.Playback,
		Tools:       d.Tools,
		Open:        d.Open,
		EventBuffer: d.EventBuffer,
	}
}

// SessionConfigFromJSON parses a JSON blob into a SessionConfig. Absent
// fields keep their defaults.
func SessionConfigFromJSON(data []byte) (SessionConfig, error) {
	cfg := DefaultSessionConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return SessionConfig{}, fmt.Errorf("session config: %w", err)
	}
	return cfg, nil
}

// RunnerConfig converts to the runner's config.
func (c SessionConfig) RunnerConfig() runner.Config {
	return runner.Config{
		Capture:     c.Capture,
		Playback:    c.Playback,
		Tools:       c.Tools,
		Open:        c.Open,
		EventBuffer: c.EventBuffer,
	}
}

// RunnerInputs are the process-level collaborators BuildRunner cannot create
// from settings.
type RunnerInputs struct {
	Microphone capture.Microphone
	Speaker    playback.Speaker
	Metrics    *metrics.Metrics
	Logger     *core.Logger
	// LogWriters adds sinks next to the file writer configured by Logging.Dir.
	LogWriters func(meta core.SessionMetadata) []core.LogWriter
}

// BuildRunner wires the dialer, tool registry and log sinks described by the
// settings into a Runner.
func (c SettingsConfig) BuildRunner(in RunnerInputs) (*runner.Runner, error) {
	logger := in.Logger
	if logger == nil {
		logger = core.GetLogger()
	}

	dialer, err := c.Transport.GetDialer(logger)
	if err != nil {
		return nil, fmt.Errorf("build runner: %w", err)
	}
	registry, err := c.Tools.BuildRegistry(logger)
	if err != nil {
		return nil, fmt.Errorf("build runner: %w", err)
	}

	deps := runner.Dependencies{
		Microphone:    in.Microphone,
		Speaker:       in.Speaker,
		Dialer:        dialer,
		Tools:         registry,
		Metrics:       in.Metrics,
		Logger:        logger,
		TransportName: c.Transport.Name(),
	}

	logDir := c.Logging.Dir
	extra := in.LogWriters
	if logDir != "" || extra != nil {
		deps.LogWriters = func(meta core.SessionMetadata) []core.LogWriter {
			var writers []core.LogWriter
			if logDir != "" {
				w, err := core.NewSessionLogWriter(logDir, meta)
				if err != nil {
					logger.With(map[string]interface{}{"error": err, "dir": logDir}).Warn("failed to create session log file")
				} else {
					writers = append(writers, w)
				}
			}
			if extra != nil {
				writers = append(writers, extra(meta)...)
			}
			return writers
		}
	}

	return runner.NewRunner(c.Session.RunnerConfig(), deps), nil
}
