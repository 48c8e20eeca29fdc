package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"duplexkit/controlplane"
	"duplexkit/core"
	"duplexkit/factories"
	"duplexkit/metrics"
	"duplexkit/runner"
	malgoservice "duplexkit/services/malgo"
	otoservice "duplexkit/services/oto"
)

func main() {
	var (
		settingsPath string
		connectURL   string
		logLevel     string
	)
	flag.StringVar(&settingsPath, "settings", getEnv("SETTINGS_PATH", "./settings.json"), "Path to settings.json or settings.yaml")
	flag.StringVar(&connectURL, "connect", "", "WebSocket URL of the control plane (e.g. ws://ui:8888/ws/agent)")
	flag.StringVar(&logLevel, "log-level", "", "Override the configured log level")
	flag.Parse()

	if err := godotenv.Load(".env.local"); err != nil {
		core.GetLogger().With(map[string]any{"error": err}).Debug("No .env.local file found or failed to load")
	}

	settings := loadSettings(settingsPath)
	settings.InjectKeys(factories.APIKeysFromEnv())
	if connectURL != "" {
		settings.ControlPlane.URL = connectURL
	}
	if logLevel != "" {
		settings.Logging.Level = logLevel
	}

	level, err := core.ParseLevel(settings.Logging.Level)
	if err != nil {
		core.GetLogger().With(map[string]any{"error": err}).Warn("invalid log level, using info")
	}
	logger := core.NewDevelopmentLogger(level)
	core.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, logger); err != nil {
		logger.With(map[string]any{"error": err}).Error("duplexkit exited with error")
		os.Exit(1)
	}
}

// loadSettings reads SETTINGS_JSON_B64 when set, the settings file otherwise.
func loadSettings(path string) factories.SettingsConfig {
	logger := core.GetLogger()
	if b64 := os.Getenv("SETTINGS_JSON_B64"); b64 != "" {
		settings, err := factories.SettingsConfigFromBase64(b64)
		if err != nil {
			logger.With(map[string]any{"error": err}).Error("failed to parse SETTINGS_JSON_B64, using defaults")
			return factories.DefaultSettingsConfig()
		}
		logger.Info("loaded settings from SETTINGS_JSON_B64")
		return settings
	}
	settings, err := factories.SettingsConfigFromFile(path)
	if err != nil {
		logger.With(map[string]any{"path": path, "error": err}).Warn("failed to load settings, using defaults")
		return factories.DefaultSettingsConfig()
	}
	return settings
}

func run(parent context.Context, settings factories.SettingsConfig, logger *core.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	m := metrics.NewMetrics(settings.Metrics.Namespace)
	if addr := settings.Metrics.ListenAddr; addr != "" {
		http.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: addr, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.With(map[string]any{"error": err, "addr": addr}).Error("metrics server failed")
			}
		}()
		defer srv.Close()
		logger.With(map[string]any{"addr": addr}).Info("serving metrics")
	}

	var (
		client   *controlplane.Client
		reporter *controlplane.SessionReporter
	)
	inputs := factories.RunnerInputs{
		Microphone: malgoservice.NewMicrophone(logger),
		Speaker:    otoservice.NewSpeaker(logger),
		Metrics:    m,
		Logger:     logger,
	}
	if settings.ControlPlane.URL != "" {
		client = newControlPlaneClient(settings.ControlPlane, logger)
		reporter = controlplane.NewSessionReporter(client, settings.Transport.Name(), logger.Level())
		inputs.LogWriters = reporter.LogWriters
	}

	r, err := settings.BuildRunner(inputs)
	if err != nil {
		return err
	}
	r.OnTranscript(printTranscript)
	r.OnClose(func(sessionID string, reason runner.CloseReason, err error) {
		logger.With(map[string]any{"session_id": sessionID, "reason": string(reason), "error": err}).Info("session ended")
	})

	startSession := func() error {
		sc, err := settings.ResolveSession()
		if err != nil {
			logger.With(map[string]any{"error": err}).Warn("failed to fetch session config, keeping the previous one")
		} else {
			r.SetConfig(sc.RunnerConfig())
		}
		return r.Start(ctx)
	}

	if client != nil {
		reporter.Attach(r, startSession)
		client.OnShutdown = func(reason string) {
			cancel()
		}
		if err := client.Connect(ctx, reporter); err != nil {
			return err
		}
		defer client.Close()
	}

	if err := startSession(); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	// Without a control plane the process lives as long as its session. With
	// one, the session may be restarted remotely and the process lives as
	// long as the connection.
	if client == nil {
		select {
		case <-ctx.Done():
		case <-r.Done():
		}
	} else {
		lost := make(chan struct{})
		go func() {
			client.Wait()
			close(lost)
		}()
		select {
		case <-ctx.Done():
		case <-lost:
			logger.Info("control plane connection lost, shutting down")
		}
	}

	logger.Info("Shutting down...")
	r.Stop()
	<-r.Done()
	return nil
}

func newControlPlaneClient(cfg factories.ControlPlaneConfig, logger *core.Logger) *controlplane.Client {
	agentID := cfg.AgentID
	if agentID == "" {
		agentID = getEnv("AGENT_ID", "")
	}
	hostname, _ := os.Hostname()
	if agentID == "" {
		agentID = hostname
	}
	return controlplane.NewClient(controlplane.ClientConfig{
		ConnectURL:        cfg.URL,
		AgentID:           agentID,
		Version:           "1.0.0",
		Metadata:          map[string]string{"hostname": hostname},
		HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond,
		LogBuffer:         cfg.LogBuffer,
		Logger:            logger,
	})
}

func printTranscript(isFinal bool, text string, speaker core.Speaker) {
	if !isFinal || text == "" {
		return
	}
	fmt.Printf("%s: %s\n", speaker, text)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
