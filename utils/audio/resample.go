package audio

import (
	"encoding/binary"
	"errors"
)

// ResampleLinear converts interleaved 16-bit PCM between sample rates by
// linear interpolation. Quality is adequate for speech playback.
func ResampleLinear(pcm []byte, channels, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, errors.New("invalid sample rate")
	}
	if fromRate == toRate {
		return pcm, nil
	}
	if err := ValidatePCMData(pcm, channels); err != nil {
		return nil, err
	}

	inFrames := len(pcm) / (2 * channels)
	outFrames := int(int64(inFrames) * int64(toRate) / int64(fromRate))
	if outFrames == 0 {
		return []byte{}, nil
	}

	sample := func(frame, ch int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[(frame*channels+ch)*2:])))
	}

	out := make([]byte, outFrames*channels*2)
	step := float64(fromRate) / float64(toRate)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * step
		i0 := int(pos)
		frac := pos - float64(i0)
		i1 := i0 + 1
		if i1 >= inFrames {
			i1 = inFrames - 1
		}
		for ch := 0; ch < channels; ch++ {
			v := sample(i0, ch)*(1-frac) + sample(i1, ch)*frac
			binary.LittleEndian.PutUint16(out[(i*channels+ch)*2:], uint16(int16(v)))
		}
	}
	return out, nil
}
