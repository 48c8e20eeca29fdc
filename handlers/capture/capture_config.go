package capture

import "duplexkit/core"

type CaptureConfig struct {
	SampleRate   int `json:"sample_rate" yaml:"sample_rate"`     // Capture rate requested from the microphone. The host expects 16 kHz.
	Channels     int `json:"channels" yaml:"channels"`           // Number of capture channels. Frames are downmixed to mono before sending.
	FrameSamples int `json:"frame_samples" yaml:"frame_samples"` // Samples per block handed to the encoder.
}

// DefaultConfig returns a CaptureConfig with sensible defaults
func DefaultConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:   core.InputSampleRate,
		Channels:     1,
		FrameSamples: core.InputFrameSamples,
	}
}
