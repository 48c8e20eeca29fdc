package malgo

import "duplexkit/core"

// framer cuts the device's variable-size callbacks into fixed-size frames.
type framer struct {
	sampleRate int
	channels   int
	size       int // interleaved samples per frame
	buf        []float32
}

func newFramer(sampleRate, channels, frameSamples int) *framer {
	if channels <= 0 {
		channels = 1
	}
	size := frameSamples * channels
	return &framer{
		sampleRate: sampleRate,
		channels:   channels,
		size:       size,
		buf:        make([]float32, 0, size*2),
	}
}

// push appends samples and calls emit for every complete frame.
func (f *framer) push(samples []float32, emit func(core.AudioFrame)) {
	f.buf = append(f.buf, samples...)
	for len(f.buf) >= f.size {
		out := make([]float32, f.size)
		copy(out, f.buf[:f.size])
		n := copy(f.buf, f.buf[f.size:])
		f.buf = f.buf[:n]
		emit(core.AudioFrame{
			SampleRate: f.sampleRate,
			Channels:   f.channels,
			Samples:    out,
		})
	}
}

func (f *framer) reset() {
	f.buf = f.buf[:0]
}
