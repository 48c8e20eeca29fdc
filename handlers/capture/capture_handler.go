// Package capture turns microphone blocks into outbound audio envelopes and
// hands them to the transport through a single latest-wins slot.
package capture

import (
	"context"
	"sync"

	"duplexkit/core"
	"duplexkit/metrics"
	"duplexkit/utils/audio"
)

// Device is an acquired microphone. Start connects the capture graph and
// begins delivering frames; Stop halts capture and disconnects the graph;
// Release gives the microphone and its device context back to the system.
type Device interface {
	Start(onFrame func(frame core.AudioFrame)) error
	Stop() error
	Release() error
}

// Microphone acquires capture devices. Acquire fails when the user or the
// platform denies access.
type Microphone interface {
	Acquire(ctx context.Context, cfg CaptureConfig) (Device, error)
}

// SendFunc delivers one encoded frame to the transport.
type SendFunc func(ctx context.Context, frame core.EncodedAudio) error

// Pump encodes frames and forwards them to the transport in order. It holds
// at most one frame waiting to be sent: a frame that arrives while the
// transport is busy replaces the waiting one.
type Pump struct {
	send    SendFunc
	logger  *core.Logger
	metrics *metrics.Metrics

	slot chan core.EncodedAudio
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	seq     uint64
	dropped uint64
	sent    uint64
}

func NewPump(send SendFunc, logger *core.Logger, m *metrics.Metrics) *Pump {
	if logger == nil {
		logger = core.GetLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pump{
		send:    send,
		logger:  logger.With(map[string]interface{}{"component": "capture"}),
		metrics: m,
		slot:    make(chan core.EncodedAudio, 1),
		ctx:     ctx,
		stop:    cancel,
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// OnFrame is the capture callback. It never blocks the audio thread.
func (p *Pump) OnFrame(frame core.AudioFrame) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.seq++
	frame.Seq = p.seq
	p.mu.Unlock()

	p.Offer(audio.EncodeFrame(frame))
}

// Offer places an encoded frame in the slot, evicting a frame that is still
// waiting.
func (p *Pump) Offer(frame core.EncodedAudio) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.slot <- frame:
		return
	default:
	}
	select {
	case <-p.slot:
		p.dropped++
		p.metrics.RecordFrameDropped()
	default:
	}
	select {
	case p.slot <- frame:
	default:
	}
}

func (p *Pump) run() {
	defer p.wg.Done()
	for {
		select {
		case frame := <-p.slot:
			if err := p.send(p.ctx, frame); err != nil {
				if p.ctx.Err() != nil {
					return
				}
				p.metrics.RecordSendError()
				p.logger.With(map[string]interface{}{"error": err, "seq": frame.Seq}).Debug("failed to send audio frame")
				continue
			}
			p.mu.Lock()
			p.sent++
			p.mu.Unlock()
			p.metrics.RecordFrameSent()
		case <-p.ctx.Done():
			return
		}
	}
}

// Close stops the sender and discards any waiting frame. Safe to call more
// than once.
func (p *Pump) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.stop()
	p.wg.Wait()
}

// Stats returns the number of frames sent and dropped so far.
func (p *Pump) Stats() (sent, dropped uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent, p.dropped
}
