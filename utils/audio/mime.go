package audio

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"duplexkit/core"
)

const (
	g711SampleRate = 8000

	MIMETypePCM  = "audio/pcm"
	MIMETypePCMU = "audio/pcmu"
	MIMETypePCMA = "audio/pcma"
	MIMETypeWAV  = "audio/wav"
)

// StreamFormat is the decoded form of an audio MIME type such as
// "audio/pcm;rate=24000".
type StreamFormat struct {
	Format     core.AudioEncodingFormat
	SampleRate int
	Channels   int
	WAV        bool
}

// ParseMIME parses the MIME types the remote host uses for audio. A missing
// rate parameter falls back to defaultRate for PCM and to 8 kHz for G.711.
func ParseMIME(mimeType string, defaultRate int) (StreamFormat, error) {
	parts := strings.Split(mimeType, ";")
	base := strings.ToLower(strings.TrimSpace(parts[0]))

	f := StreamFormat{Channels: 1}
	switch base {
	case MIMETypePCM, "audio/l16", "audio/x-pcm":
		f.Format = core.PCM
		f.SampleRate = defaultRate
	case MIMETypePCMU, "audio/x-mulaw", "audio/basic":
		f.Format = core.ULAW
		f.SampleRate = g711SampleRate
	case MIMETypePCMA, "audio/x-alaw":
		f.Format = core.ALAW
		f.SampleRate = g711SampleRate
	case MIMETypeWAV, "audio/x-wav", "audio/wave":
		f.Format = core.PCM
		f.SampleRate = defaultRate
		f.WAV = true
	default:
		return StreamFormat{}, fmt.Errorf("audio: unsupported mime type %q", mimeType)
	}

	for _, p := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "rate":
			if err != nil || n <= 0 {
				return StreamFormat{}, fmt.Errorf("audio: invalid rate in %q", mimeType)
			}
			f.SampleRate = n
		case "channels":
			if err != nil || n <= 0 {
				return StreamFormat{}, fmt.Errorf("audio: invalid channels in %q", mimeType)
			}
			f.Channels = n
		}
	}
	if f.SampleRate <= 0 {
		return StreamFormat{}, fmt.Errorf("audio: no sample rate for %q", mimeType)
	}
	return f, nil
}

// PCMMIMEType renders the MIME type for 16-bit PCM at rate.
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("%s;rate=%d", MIMETypePCM, rate)
}

// EncodeFrame converts one capture frame into the outbound text envelope.
// The host only accepts mono, so interleaved frames are downmixed first.
func EncodeFrame(frame core.AudioFrame) core.EncodedAudio {
	samples := frame.Samples
	if frame.Channels > 1 {
		samples = Downmix(samples, frame.Channels)
	}
	return core.EncodedAudio{
		Seq:      frame.Seq,
		MIMEType: PCMMIMEType(frame.SampleRate),
		Data:     base64.StdEncoding.EncodeToString(FloatToPCM16(samples)),
	}
}

// Downmix averages interleaved samples into one channel. A trailing partial
// frame is dropped.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for _, s := range samples[i*channels : (i+1)*channels] {
			sum += s
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// DecodeEncoded turns an inbound envelope into a PCM chunk ready for
// playback. Any malformed payload (bad base64, unknown MIME type, truncated
// samples) is reported as an error.
func DecodeEncoded(mimeType, data string, defaultRate int) (core.AudioChunk, error) {
	format, err := ParseMIME(mimeType, defaultRate)
	if err != nil {
		return core.AudioChunk{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("audio: decode base64: %w", err)
	}
	if format.WAV {
		if raw, err = StripWAVHeaderIfPresent(raw); err != nil {
			return core.AudioChunk{}, fmt.Errorf("audio: %w", err)
		}
	}
	chunk, err := ToPCM(core.AudioChunk{
		Data:       raw,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Format:     format.Format,
	})
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("audio: %w", err)
	}
	return chunk, nil
}
