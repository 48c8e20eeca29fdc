package malgo

import (
	"testing"

	"duplexkit/core"
)

func TestFramerEmitsFixedFrames(t *testing.T) {
	f := newFramer(16000, 1, 4)
	var frames []core.AudioFrame
	emit := func(fr core.AudioFrame) { frames = append(frames, fr) }

	f.push([]float32{1, 2, 3}, emit)
	if len(frames) != 0 {
		t.Fatalf("Expected no frame yet, got %d", len(frames))
	}
	f.push([]float32{4, 5, 6, 7, 8, 9}, emit)
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if frames[0].Samples[0] != 1 || frames[1].Samples[0] != 5 || frames[1].Samples[3] != 8 {
		t.Errorf("Unexpected frame contents %v %v", frames[0].Samples, frames[1].Samples)
	}
	if frames[0].SampleRate != 16000 || frames[0].Channels != 1 {
		t.Errorf("Unexpected frame format %+v", frames[0])
	}

	// the leftover sample stays buffered until reset
	f.reset()
	f.push([]float32{10, 11, 12, 13}, emit)
	if len(frames) != 3 || frames[2].Samples[0] != 10 {
		t.Errorf("Expected reset to drop the partial frame, got %v", frames[len(frames)-1].Samples)
	}
}

func TestFramerInterleavedChannels(t *testing.T) {
	f := newFramer(48000, 2, 2)
	var frames []core.AudioFrame
	f.push([]float32{1, 1, 2, 2, 3}, func(fr core.AudioFrame) { frames = append(frames, fr) })
	if len(frames) != 1 || len(frames[0].Samples) != 4 || frames[0].Channels != 2 {
		t.Fatalf("Unexpected frames %+v", frames)
	}
}
