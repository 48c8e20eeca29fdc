package oto

import (
	"io"
	"sync"
	"time"

	"duplexkit/handlers/playback"
)

type entry struct {
	id      uint64
	start   time.Duration
	pcm     []byte
	offset  int
	onEnded func()
}

// queue is the io.Reader the oto player pulls from. It plays entries in
// order, inserts silence while the clock has not reached an entry's start,
// and outputs silence when idle so the player keeps running.
type queue struct {
	clock      playback.Clock
	frameBytes int
	rate       int

	mu      sync.Mutex
	entries []*entry
	closed  bool
}

func newQueue(clock playback.Clock, rate, channels int) *queue {
	return &queue{
		clock:      clock,
		frameBytes: 2 * channels,
		rate:       rate,
	}
}

func (q *queue) add(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
}

// remove drops an entry without firing its callback.
func (q *queue) remove(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.id == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.entries = nil
}

func (q *queue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *queue) bytesFor(d time.Duration) int {
	frames := int(int64(d) * int64(q.rate) / int64(time.Second))
	return frames * q.frameBytes
}

func (q *queue) durationOf(n int) time.Duration {
	return time.Duration(int64(n/q.frameBytes) * int64(time.Second) / int64(q.rate))
}

func (q *queue) Read(p []byte) (int, error) {
	var ended []func()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, io.EOF
	}

	// whole frames only
	want := len(p) - len(p)%q.frameBytes
	cursor := q.clock.Now()
	n := 0
	for n < want {
		if len(q.entries) == 0 {
			clear(p[n:want])
			n = want
			break
		}
		e := q.entries[0]
		if e.offset == 0 && e.start > cursor {
			gap := q.bytesFor(e.start - cursor)
			if gap > want-n {
				gap = want - n
			}
			if gap > 0 {
				clear(p[n : n+gap])
				n += gap
				cursor += q.durationOf(gap)
				continue
			}
		}
		c := copy(p[n:want], e.pcm[e.offset:])
		e.offset += c
		n += c
		cursor += q.durationOf(c)
		if e.offset >= len(e.pcm) {
			q.entries = q.entries[1:]
			if e.onEnded != nil {
				ended = append(ended, e.onEnded)
			}
		}
	}
	q.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
	return n, nil
}
