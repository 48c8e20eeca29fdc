// Package playback schedules remote audio for gapless, non-overlapping
// output against a monotonic clock.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"duplexkit/core"
	"duplexkit/metrics"
	"duplexkit/utils/audio"
)

// Clock is a monotonic time source. Values are offsets from an arbitrary
// origin, the way an audio device clock reports position.
type Clock interface {
	Now() time.Duration
}

// SystemClock measures time since it was created.
type SystemClock struct {
	origin time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{origin: time.Now()}
}

func (c *SystemClock) Now() time.Duration {
	return time.Since(c.origin)
}

// Item is one scheduled buffer of decoded audio.
type Item struct {
	ID         uint64
	Generation uint64
	Start      time.Duration
	Duration   time.Duration
	Chunk      core.AudioChunk
}

// End is the clock offset at which the item finishes.
func (i *Item) End() time.Duration {
	return i.Start + i.Duration
}

// Sink renders scheduled items. Schedule must not block on playback; the sink
// calls onEnded once the item has played out. Stop cancels an item that has
// not finished; onEnded need not fire for a stopped item.
type Sink interface {
	Schedule(item *Item, onEnded func()) error
	Stop(item *Item)
}

// Device is a Sink backed by an output device that must be released.
type Device interface {
	Sink
	Close() error
}

// Speaker opens playback devices.
type Speaker interface {
	Open(ctx context.Context, cfg PlaybackConfig, clock Clock) (Device, error)
}

// ErrStopped is returned by Enqueue after the scheduler was closed.
var ErrStopped = errors.New("playback: scheduler stopped")

// Scheduler places every decoded chunk at max(nextStart, now) and advances
// nextStart by the chunk duration, so consecutive items never overlap. The
// active set is an arena tagged with a generation; StopAll bumps the
// generation, which makes completions from earlier items no-ops.
type Scheduler struct {
	mu sync.Mutex

	clock   Clock
	sink    Sink
	config  PlaybackConfig
	logger  *core.Logger
	metrics *metrics.Metrics

	generation uint64
	nextID     uint64
	nextStart  time.Duration
	active     map[uint64]*Item
	closed     bool
}

func NewScheduler(clock Clock, sink Sink, config PlaybackConfig, logger *core.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = core.GetLogger()
	}
	if config.DefaultSampleRate <= 0 {
		config.DefaultSampleRate = core.OutputSampleRate
	}
	s := &Scheduler{
		clock:   clock,
		sink:    sink,
		config:  config,
		logger:  logger.With(map[string]interface{}{"component": "playback"}),
		metrics: m,
		active:  make(map[uint64]*Item),
	}
	s.nextStart = clock.Now()
	return s
}

// Enqueue decodes one inbound chunk and schedules it. A chunk that fails to
// decode is logged and skipped without moving the cursor.
func (s *Scheduler) Enqueue(mimeType, data string) (*Item, error) {
	chunk, err := audio.DecodeEncoded(mimeType, data, s.config.DefaultSampleRate)
	if err != nil {
		s.metrics.RecordDecodeError()
		s.logger.With(map[string]interface{}{"error": err, "mime_type": mimeType}).Warn("dropping undecodable audio chunk")
		return nil, err
	}
	return s.ScheduleChunk(chunk)
}

// ScheduleChunk schedules an already decoded PCM chunk.
func (s *Scheduler) ScheduleChunk(chunk core.AudioChunk) (*Item, error) {
	d := chunk.Duration()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	now := s.clock.Now()
	start := s.nextStart
	if now > start {
		start = now
	}
	s.nextID++
	item := &Item{
		ID:         s.nextID,
		Generation: s.generation,
		Start:      start,
		Duration:   d,
		Chunk:      chunk,
	}
	// The item is registered and the cursor advanced before the sink sees
	// it, so an immediate completion callback finds it and a concurrent
	// Enqueue cannot overlap it.
	s.active[item.ID] = item
	gen := s.generation
	prevNext := s.nextStart
	s.nextStart = start + d
	s.mu.Unlock()

	if err := s.sink.Schedule(item, func() { s.complete(gen, item.ID) }); err != nil {
		s.mu.Lock()
		delete(s.active, item.ID)
		if s.generation == gen && s.nextStart == start+d {
			s.nextStart = prevNext
		}
		s.mu.Unlock()
		s.logger.With(map[string]interface{}{"error": err}).Warn("sink rejected audio chunk")
		return nil, err
	}

	s.metrics.RecordPlaybackScheduled(d, start-now)
	return item, nil
}

func (s *Scheduler) complete(gen, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	delete(s.active, id)
}

// StopAll force-stops every active item, clears the arena, bumps the
// generation and resets the cursor to the current clock. It returns the
// number of items stopped.
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	items := make([]*Item, 0, len(s.active))
	for _, item := range s.active {
		items = append(items, item)
	}
	s.active = make(map[uint64]*Item)
	s.generation++
	s.nextStart = s.clock.Now()
	s.mu.Unlock()

	for _, item := range items {
		s.sink.Stop(item)
	}
	s.metrics.RecordPlaybackStopped(len(items))
	return len(items)
}

// Close stops everything and rejects further chunks.
func (s *Scheduler) Close() int {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.StopAll()
}

// Active returns the number of items scheduled and not yet finished.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}
