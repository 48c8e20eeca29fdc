package core

import "time"

type AudioEncodingFormat int

const (
	PCM  AudioEncodingFormat = iota // 16-bit signed little-endian PCM.
	ULAW                            // G.711 µ-law, one byte per sample.
	ALAW                            // G.711 A-law, one byte per sample.
)

func (f AudioEncodingFormat) String() string {
	switch f {
	case PCM:
		return "pcm"
	case ULAW:
		return "pcmu"
	case ALAW:
		return "pcma"
	default:
		return "unknown"
	}
}

const (
	// InputSampleRate is the rate the remote host expects for microphone audio.
	InputSampleRate = 16000
	// InputFrameSamples is the default capture block size.
	InputFrameSamples = 4096
	// OutputSampleRate is the default rate of audio streamed back by the host.
	OutputSampleRate = 24000
)

// AudioChunk is a block of decoded or encoded audio bytes.
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Channels   int
	Format     AudioEncodingFormat
}

// BytesPerSample returns the width of one sample of one channel.
func (ac *AudioChunk) BytesPerSample() int {
	if ac.Format == PCM {
		return 2
	}
	return 1
}

// Frames returns the number of sample frames (one sample per channel).
func (ac *AudioChunk) Frames() int {
	if ac.Channels <= 0 {
		return 0
	}
	return len(ac.Data) / (ac.BytesPerSample() * ac.Channels)
}

// Duration is the playback length of the chunk at its sample rate.
func (ac *AudioChunk) Duration() time.Duration {
	if ac.SampleRate <= 0 {
		return 0
	}
	return time.Duration(ac.Frames()) * time.Second / time.Duration(ac.SampleRate)
}

func (ac *AudioChunk) GetDurationInSeconds() float64 {
	return ac.Duration().Seconds()
}

// AudioFrame is one block of float samples from the capture device, nominally
// in [-1, 1].
type AudioFrame struct {
	Seq        uint64
	SampleRate int
	Channels   int
	Samples    []float32
}

// EncodedAudio is audio in its wire envelope: a MIME type plus base64 text.
type EncodedAudio struct {
	Seq      uint64 `json:"-"`
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}
