package factories

import (
	"errors"

	"duplexkit/core"
	"duplexkit/handlers/transport"
	"duplexkit/transports/gemini"
	"duplexkit/transports/websocket"
)

const (
	ProviderGemini    = "gemini"
	ProviderWebSocket = "websocket"
)

// TransportFactoryConfig selects and configures the remote speech host.
// Set exactly one provider field.
type TransportFactoryConfig struct {
	GeminiConfig    *gemini.Config    `json:"gemini,omitempty" yaml:"gemini,omitempty"`
	WebSocketConfig *websocket.Config `json:"websocket,omitempty" yaml:"websocket,omitempty"`
}

// DefaultTransportFactoryConfig returns a TransportFactoryConfig pre-filled
// with Gemini Live defaults. The API key is injected from the environment.
func DefaultTransportFactoryConfig() TransportFactoryConfig {
	cfg := gemini.DefaultConfig()
	return TransportFactoryConfig{GeminiConfig: &cfg}
}

// transportDefaultsFor starts from the defaults of whichever provider key is
// present, so the other provider stays nil.
func transportDefaultsFor(raw map[string]interface{}) TransportFactoryConfig {
	if _, ok := raw[ProviderWebSocket]; ok {
		cfg := websocket.DefaultConfig()
		return TransportFactoryConfig{WebSocketConfig: &cfg}
	}
	return DefaultTransportFactoryConfig()
}

// Validate checks that exactly one provider is configured.
func (c TransportFactoryConfig) Validate() error {
	switch {
	case c.GeminiConfig != nil && c.WebSocketConfig != nil:
		return errors.New("transport: configure only one of gemini, websocket")
	case c.GeminiConfig == nil && c.WebSocketConfig == nil:
		return errors.New("transport: no provider config specified")
	case c.WebSocketConfig != nil && c.WebSocketConfig.URL == "":
		return errors.New("transport: websocket url is required")
	}
	return nil
}

// Name returns the configured provider name.
func (c TransportFactoryConfig) Name() string {
	if c.WebSocketConfig != nil {
		return ProviderWebSocket
	}
	if c.GeminiConfig != nil {
		return ProviderGemini
	}
	return ""
}

// InjectProviderKeys applies credentials to the config only when the existing value is empty,
// so keys already set in the config file are preserved.
func (c *TransportFactoryConfig) InjectProviderKeys(keys APIKeys) {
	if c.GeminiConfig != nil && c.GeminiConfig.APIKey == "" {
		c.GeminiConfig.APIKey = keys.Gemini
	}
	if c.WebSocketConfig != nil && c.WebSocketConfig.Token == "" {
		c.WebSocketConfig.Token = keys.WebSocketToken
	}
}

// GetDialer constructs the transport dialer selected by this config.
func (c TransportFactoryConfig) GetDialer(logger *core.Logger) (transport.Dialer, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.WebSocketConfig != nil {
		return websocket.NewDialer(*c.WebSocketConfig, logger), nil
	}
	if c.GeminiConfig.APIKey == "" {
		return nil, errors.New("transport: gemini api key is required (set GEMINI_API_KEY)")
	}
	return gemini.NewDialer(*c.GeminiConfig, logger), nil
}
