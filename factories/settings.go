package factories

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SessionAPIConfig describes an HTTP endpoint that returns a SessionConfig JSON payload.
// It is called before every session so each conversation can get its own setup.
type SessionAPIConfig struct {
	// URL is the endpoint to request.
	URL string `json:"url" yaml:"url"`
	// Method is the HTTP method. Defaults to "POST" when Body is set, "GET" otherwise.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	// Headers are additional HTTP headers to include in the request.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// Body is an optional JSON body to send with the request.
	Body string `json:"body,omitempty" yaml:"body,omitempty"`
}

var sessionAPIClient = &http.Client{Timeout: 10 * time.Second}

// Fetch calls the configured endpoint and parses the response as a SessionConfig.
func (c *SessionAPIConfig) Fetch() (SessionConfig, error) {
	method := c.Method
	if method == "" {
		if c.Body != "" {
			method = http.MethodPost
		} else {
			method = http.MethodGet
		}
	}

	req, err := http.NewRequest(method, c.URL, strings.NewReader(c.Body))
	if err != nil {
		return SessionConfig{}, fmt.Errorf("session api: %w", err)
	}
	if c.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := sessionAPIClient.Do(req)
	if err != nil {
		return SessionConfig{}, fmt.Errorf("session api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SessionConfig{}, fmt.Errorf("session api: unexpected status %d from %s", resp.StatusCode, c.URL)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return SessionConfig{}, fmt.Errorf("session api: read response: %w", err)
	}

	return SessionConfigFromJSON(buf.Bytes())
}

// LoggingConfig controls the process logger and per-session log files.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
	// Dir, when set, receives one <session>.jsonl file per session.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// MetricsConfig exposes prometheus metrics when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
	Namespace  string `json:"namespace" yaml:"namespace"`
}

// ControlPlaneConfig connects the agent to a control plane when URL is set.
type ControlPlaneConfig struct {
	URL                 string `json:"url,omitempty" yaml:"url,omitempty"`
	AgentID             string `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	HeartbeatIntervalMs int    `json:"heartbeat_interval_ms,omitempty" yaml:"heartbeat_interval_ms,omitempty"`
	LogBuffer           int    `json:"log_buffer,omitempty" yaml:"log_buffer,omitempty"` // Log entries queued before the oldest is dropped.
}

// SettingsConfig is the top-level config loaded from settings.json or
// settings.yaml.
type SettingsConfig struct {
	// Transport selects and configures the remote speech host.
	Transport TransportFactoryConfig `json:"transport" yaml:"transport"`
	// Session holds the per-session settings.
	Session SessionConfig `json:"session" yaml:"session"`
	// SessionAPI, when set, is called before each session to fetch its SessionConfig.
	SessionAPI *SessionAPIConfig `json:"session_api,omitempty" yaml:"session_api,omitempty"`
	// Tools declares the tool manifest and the executor that runs it.
	Tools ToolsFactoryConfig `json:"tools" yaml:"tools"`

	Logging      LoggingConfig      `json:"logging" yaml:"logging"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
	ControlPlane ControlPlaneConfig `json:"controlplane" yaml:"controlplane"`
}

// DefaultSettingsConfig returns a SettingsConfig pre-filled with provider defaults.
func DefaultSettingsConfig() SettingsConfig {
	return SettingsConfig{
		Transport: DefaultTransportFactoryConfig(),
		Session:   DefaultSessionConfig(),
		Tools:     DefaultToolsFactoryConfig(),
		Logging:   LoggingConfig{Level: "info"},
		Metrics:   MetricsConfig{Namespace: "duplexkit"},
	}
}

type format int

const (
	formatJSON format = iota
	formatYAML
)

func formatForPath(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

func unmarshal(f format, data []byte, v interface{}) error {
	if f == formatYAML {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

// SettingsConfigFromJSON parses a JSON blob into a SettingsConfig. Absent
// fields keep their defaults, and the transport provider is detected from
// the keys present under "transport".
func SettingsConfigFromJSON(data []byte) (SettingsConfig, error) {
	return parseSettings(formatJSON, data)
}

// SettingsConfigFromYAML is SettingsConfigFromJSON for YAML documents.
func SettingsConfigFromYAML(data []byte) (SettingsConfig, error) {
	return parseSettings(formatYAML, data)
}

func parseSettings(f format, data []byte) (SettingsConfig, error) {
	// Peek at the raw keys so the transport defaults match the configured provider.
	var raw map[string]interface{}
	if err := unmarshal(f, data, &raw); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}

	cfg := DefaultSettingsConfig()
	if t, ok := raw["transport"].(map[string]interface{}); ok {
		cfg.Transport = transportDefaultsFor(t)
	}
	if err := unmarshal(f, data, &cfg); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}
	if err := cfg.Transport.Validate(); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}
	return cfg, nil
}

// SettingsConfigFromFile reads and parses a SettingsConfig. Files ending in
// .yaml or .yml are parsed as YAML, everything else as JSON.
func SettingsConfigFromFile(path string) (SettingsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettingsConfig(), fmt.Errorf("settings: read %q: %w", path, err)
	}
	return parseSettings(formatForPath(path), data)
}

// SettingsConfigFromBase64 decodes a base64 JSON document, as passed through
// SETTINGS_JSON_B64.
func SettingsConfigFromBase64(b64 string) (SettingsConfig, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return DefaultSettingsConfig(), fmt.Errorf("settings: decode base64: %w", err)
	}
	return SettingsConfigFromJSON(data)
}

// APIKeys holds credentials read from the environment so they never live in
// settings files.
type APIKeys struct {
	Gemini         string
	OpenAI         string
	WebSocketToken string
}

// APIKeysFromEnv reads GEMINI_API_KEY, OPENAI_API_KEY and DUPLEX_WS_TOKEN.
func APIKeysFromEnv() APIKeys {
	return APIKeys{
		Gemini:         os.Getenv("GEMINI_API_KEY"),
		OpenAI:         os.Getenv("OPENAI_API_KEY"),
		WebSocketToken: os.Getenv("DUPLEX_WS_TOKEN"),
	}
}

// InjectKeys applies credentials only where the config has none.
func (c *SettingsConfig) InjectKeys(keys APIKeys) {
	c.Transport.InjectProviderKeys(keys)
	if c.Tools.OpenAI.APIKey == "" {
		c.Tools.OpenAI.APIKey = keys.OpenAI
	}
}

// ResolveSession returns the config for the next session: fetched from the
// session API when one is configured, the inline config otherwise.
func (c SettingsConfig) ResolveSession() (SessionConfig, error) {
	if c.SessionAPI == nil || c.SessionAPI.URL == "" {
		return c.Session, nil
	}
	return c.SessionAPI.Fetch()
}
