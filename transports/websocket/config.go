package websocket

import "time"

// Config describes a websocket speech host.
type Config struct {
	URL                string `json:"url" yaml:"url"`
	Token              string `json:"-" yaml:"-"` // Bearer token, read from DUPLEX_WS_TOKEN.
	HandshakeTimeoutMs int    `json:"handshake_timeout_ms" yaml:"handshake_timeout_ms"`
	WriteTimeoutMs     int    `json:"write_timeout_ms" yaml:"write_timeout_ms"`
	BinarySampleRate   int    `json:"binary_sample_rate" yaml:"binary_sample_rate"` // Rate assumed for raw binary PCM frames.
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeoutMs: 10000,
		WriteTimeoutMs:     5000,
		BinarySampleRate:   24000,
	}
}

func (c Config) handshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

func (c Config) writeTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}
