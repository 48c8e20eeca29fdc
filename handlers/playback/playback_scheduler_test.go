package playback

import (
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"duplexkit/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

type fakeSink struct {
	mu        sync.Mutex
	scheduled []*Item
	stopped   []*Item
	callbacks map[uint64]func()
	fail      error
}

func newFakeSink() *fakeSink {
	return &fakeSink{callbacks: make(map[uint64]func())}
}

func (s *fakeSink) Schedule(item *Item, onEnded func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.scheduled = append(s.scheduled, item)
	s.callbacks[item.ID] = onEnded
	return nil
}

func (s *fakeSink) Stop(item *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, item)
}

func (s *fakeSink) finish(id uint64) {
	s.mu.Lock()
	cb := s.callbacks[id]
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// pcmChunk returns a base64 PCM16 mono payload of the given length at 24 kHz.
func pcmChunk(d time.Duration) string {
	frames := int(d * 24000 / time.Second)
	return base64.StdEncoding.EncodeToString(make([]byte, frames*2))
}

const mime24k = "audio/pcm;rate=24000"

func newTestScheduler(clock Clock, sink Sink) *Scheduler {
	return NewScheduler(clock, sink, DefaultConfig(), core.NewNopLogger(), nil)
}

func TestBackToBackChunksAreGapless(t *testing.T) {
	t0 := 5 * time.Second
	clock := &fakeClock{now: t0}
	sink := newFakeSink()
	s := newTestScheduler(clock, sink)

	for i := 0; i < 3; i++ {
		if _, err := s.Enqueue(mime24k, pcmChunk(200*time.Millisecond)); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	want := []time.Duration{t0, t0 + 200*time.Millisecond, t0 + 400*time.Millisecond}
	if len(sink.scheduled) != 3 {
		t.Fatalf("Expected 3 scheduled items, got %d", len(sink.scheduled))
	}
	for i, item := range sink.scheduled {
		if item.Start != want[i] {
			t.Errorf("item %d: start %v, want %v", i, item.Start, want[i])
		}
		if item.Duration != 200*time.Millisecond {
			t.Errorf("item %d: duration %v", i, item.Duration)
		}
	}
	if s.NextStart() != t0+600*time.Millisecond {
		t.Errorf("Expected cursor at t0+600ms, got %v", s.NextStart())
	}
}

func TestNoOverlapUnderIrregularArrival(t *testing.T) {
	clock := &fakeClock{}
	sink := newFakeSink()
	s := newTestScheduler(clock, sink)

	arrivals := []struct {
		gap time.Duration
		dur time.Duration
	}{
		{0, 100 * time.Millisecond},
		{10 * time.Millisecond, 300 * time.Millisecond},
		{700 * time.Millisecond, 50 * time.Millisecond}, // delivery lags, a gap opens
		{0, 250 * time.Millisecond},
		{20 * time.Millisecond, 10 * time.Millisecond},
	}
	for _, a := range arrivals {
		clock.Advance(a.gap)
		if _, err := s.Enqueue(mime24k, pcmChunk(a.dur)); err != nil {
			t.Fatal(err)
		}
	}

	for i := 1; i < len(sink.scheduled); i++ {
		prev, cur := sink.scheduled[i-1], sink.scheduled[i]
		if cur.Start < prev.End() {
			t.Errorf("item %d starts at %v before previous ends at %v", i, cur.Start, prev.End())
		}
	}
	// The lagging chunk starts at arrival time, not at the stale cursor.
	if got := sink.scheduled[2].Start; got != 710*time.Millisecond {
		t.Errorf("Expected late item to start at arrival (710ms), got %v", got)
	}
}

func TestDecodeFailureDoesNotMoveCursor(t *testing.T) {
	clock := &fakeClock{now: time.Second}
	sink := newFakeSink()
	s := newTestScheduler(clock, sink)

	if _, err := s.Enqueue(mime24k, pcmChunk(100*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	before := s.NextStart()

	if _, err := s.Enqueue(mime24k, "%%%corrupt%%%"); err == nil {
		t.Fatal("Expected decode error")
	}
	if _, err := s.Enqueue("audio/ogg", pcmChunk(100*time.Millisecond)); err == nil {
		t.Fatal("Expected unsupported format error")
	}
	if s.NextStart() != before {
		t.Errorf("Cursor moved on decode failure: %v -> %v", before, s.NextStart())
	}

	item, err := s.Enqueue(mime24k, pcmChunk(100*time.Millisecond))
	if err != nil {
		t.Fatalf("Scheduler should keep running after a bad chunk: %v", err)
	}
	if item.Start != before {
		t.Errorf("Next good chunk should start at %v, got %v", before, item.Start)
	}
}

func TestCompletionRemovesFromActiveSet(t *testing.T) {
	clock := &fakeClock{}
	sink := newFakeSink()
	s := newTestScheduler(clock, sink)

	a, _ := s.Enqueue(mime24k, pcmChunk(100*time.Millisecond))
	b, _ := s.Enqueue(mime24k, pcmChunk(100*time.Millisecond))
	if s.Active() != 2 {
		t.Fatalf("Expected 2 active items, got %d", s.Active())
	}

	sink.finish(a.ID)
	if s.Active() != 1 {
		t.Errorf("Expected 1 active item after completion, got %d", s.Active())
	}
	sink.finish(a.ID) // duplicate completion is harmless
	sink.finish(b.ID)
	if s.Active() != 0 {
		t.Errorf("Expected empty active set, got %d", s.Active())
	}
}

func TestStopAllBumpsGenerationAndIgnoresStaleCompletions(t *testing.T) {
	clock := &fakeClock{now: time.Second}
	sink := newFakeSink()
	s := newTestScheduler(clock, sink)

	old, _ := s.Enqueue(mime24k, pcmChunk(500*time.Millisecond))
	s.Enqueue(mime24k, pcmChunk(500*time.Millisecond))
	gen := s.Generation()

	clock.Advance(100 * time.Millisecond)
	if n := s.StopAll(); n != 2 {
		t.Errorf("Expected 2 items stopped, got %d", n)
	}
	if len(sink.stopped) != 2 {
		t.Errorf("Sink should have been asked to stop 2 items, got %d", len(sink.stopped))
	}
	if s.Generation() != gen+1 {
		t.Errorf("Generation not bumped")
	}
	if s.NextStart() != 1100*time.Millisecond {
		t.Errorf("Cursor should reset to now, got %v", s.NextStart())
	}

	fresh, _ := s.Enqueue(mime24k, pcmChunk(100*time.Millisecond))
	if fresh.Start != 1100*time.Millisecond || fresh.Generation != gen+1 {
		t.Errorf("Unexpected post-stop item %+v", fresh)
	}

	// A completion from the earlier generation must not touch the new arena.
	sink.finish(old.ID)
	if s.Active() != 1 {
		t.Errorf("Stale completion altered active set: %d", s.Active())
	}
}

func TestSinkFailureRestoresCursor(t *testing.T) {
	clock := &fakeClock{}
	sink := newFakeSink()
	s := newTestScheduler(clock, sink)

	sink.fail = errors.New("device gone")
	if _, err := s.Enqueue(mime24k, pcmChunk(100*time.Millisecond)); err == nil {
		t.Fatal("Expected sink error")
	}
	if s.Active() != 0 || s.NextStart() != 0 {
		t.Errorf("Failed schedule left state behind: active=%d next=%v", s.Active(), s.NextStart())
	}
}

func TestCloseRejectsFurtherChunks(t *testing.T) {
	s := newTestScheduler(&fakeClock{}, newFakeSink())
	s.Enqueue(mime24k, pcmChunk(100*time.Millisecond))

	if n := s.Close(); n != 1 {
		t.Errorf("Expected 1 item stopped on close, got %d", n)
	}
	if _, err := s.Enqueue(mime24k, pcmChunk(100*time.Millisecond)); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
}
