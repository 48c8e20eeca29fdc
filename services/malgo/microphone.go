// Package malgo captures microphone audio through miniaudio.
package malgo

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"duplexkit/core"
	"duplexkit/handlers/capture"
	"duplexkit/utils/audio"
)

// Microphone acquires the default capture device.
type Microphone struct {
	logger *core.Logger
}

func NewMicrophone(logger *core.Logger) *Microphone {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Microphone{logger: logger.With(map[string]interface{}{"component": "microphone"})}
}

// Acquire opens a float32 capture device. On platforms that gate microphone
// access, a denial surfaces here as an error.
func (m *Microphone) Acquire(ctx context.Context, cfg capture.CaptureConfig) (capture.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defaults := capture.DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = defaults.Channels
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = defaults.FrameSamples
	}

	contextConfig := malgo.ContextConfig{}
	contextConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, contextConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	d := &device{
		mctx:   mctx,
		framer: newFramer(cfg.SampleRate, cfg.Channels, cfg.FrameSamples),
		logger: m.logger,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.FrameSamples)

	dev, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: d.onData,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("malgo: init capture device: %w", err)
	}
	d.dev = dev

	m.logger.With(map[string]interface{}{
		"sample_rate":   cfg.SampleRate,
		"channels":      cfg.Channels,
		"frame_samples": cfg.FrameSamples,
	}).Debug("microphone acquired")
	return d, nil
}

type device struct {
	mctx   *malgo.AllocatedContext
	dev    *malgo.Device
	logger *core.Logger

	mu      sync.Mutex
	framer  *framer
	onFrame func(core.AudioFrame)
	seq     uint64

	releaseOnce sync.Once
}

// onData runs on the audio thread.
func (d *device) onData(_, input []byte, _ uint32) {
	samples := audio.Float32LEToSamples(input)

	d.mu.Lock()
	fn := d.onFrame
	if fn == nil {
		d.mu.Unlock()
		return
	}
	var frames []core.AudioFrame
	d.framer.push(samples, func(f core.AudioFrame) {
		d.seq++
		f.Seq = d.seq
		frames = append(frames, f)
	})
	d.mu.Unlock()

	for _, f := range frames {
		fn(f)
	}
}

func (d *device) Start(onFrame func(core.AudioFrame)) error {
	d.mu.Lock()
	d.onFrame = onFrame
	d.framer.reset()
	d.mu.Unlock()

	if err := d.dev.Start(); err != nil {
		return fmt.Errorf("malgo: start capture: %w", err)
	}
	return nil
}

func (d *device) Stop() error {
	d.mu.Lock()
	d.onFrame = nil
	d.mu.Unlock()

	if !d.dev.IsStarted() {
		return nil
	}
	if err := d.dev.Stop(); err != nil {
		return fmt.Errorf("malgo: stop capture: %w", err)
	}
	return nil
}

func (d *device) Release() error {
	var err error
	d.releaseOnce.Do(func() {
		d.dev.Uninit()
		if uerr := d.mctx.Uninit(); uerr != nil {
			err = fmt.Errorf("malgo: uninit context: %w", uerr)
		}
		d.mctx.Free()
		d.logger.Debug("microphone released")
	})
	return err
}
