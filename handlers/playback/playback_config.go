package playback

import "duplexkit/core"

type PlaybackConfig struct {
	DefaultSampleRate int `json:"default_sample_rate" yaml:"default_sample_rate"` // Rate assumed for "audio/pcm" chunks that carry no rate parameter.
	OutputSampleRate  int `json:"output_sample_rate" yaml:"output_sample_rate"`   // Rate the speaker device is opened at. Chunks at other rates are resampled by the sink.
	OutputChannels    int `json:"output_channels" yaml:"output_channels"`         // Channel count the speaker device is opened with.
	BufferMs          int `json:"buffer_ms" yaml:"buffer_ms"`                     // Device buffer size in milliseconds. Zero lets the backend choose.
}

// DefaultConfig returns a PlaybackConfig with sensible defaults
func DefaultConfig() PlaybackConfig {
	return PlaybackConfig{
		DefaultSampleRate: core.OutputSampleRate,
		OutputSampleRate:  core.OutputSampleRate,
		OutputChannels:    1,
		BufferMs:          100,
	}
}
