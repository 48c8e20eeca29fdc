package tools

import "time"

type ToolsConfig struct {
	TimeoutMs int `json:"timeout_ms" yaml:"timeout_ms"` // Per-invocation deadline in milliseconds. On expiry an error response is sent and the late result is discarded. Zero disables the deadline.
}

// DefaultConfig returns a ToolsConfig with sensible defaults
func DefaultConfig() ToolsConfig {
	return ToolsConfig{
		TimeoutMs: 0,
	}
}

func (c ToolsConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}
