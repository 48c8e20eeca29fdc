// Package oto plays scheduled audio on the default output device.
package oto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"duplexkit/core"
	"duplexkit/handlers/playback"
	"duplexkit/utils/audio"
)

// oto allows one context per process; it is created by the first Open and
// suspended while no device is open.
var (
	contextOnce     sync.Once
	sharedContext   *oto.Context
	contextErr      error
	contextRate     int
	contextChannels int
)

func sharedOtoContext(ctx context.Context, cfg playback.PlaybackConfig) (*oto.Context, error) {
	var ready chan struct{}
	contextOnce.Do(func() {
		contextRate = cfg.OutputSampleRate
		contextChannels = cfg.OutputChannels
		sharedContext, ready, contextErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   contextRate,
			ChannelCount: contextChannels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   time.Duration(cfg.BufferMs) * time.Millisecond,
		})
	})
	if contextErr != nil {
		return nil, fmt.Errorf("oto: new context: %w", contextErr)
	}
	if ready != nil {
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return sharedContext, nil
}

// Speaker opens playback devices on the shared oto context.
type Speaker struct {
	logger *core.Logger
}

func NewSpeaker(logger *core.Logger) *Speaker {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Speaker{logger: logger.With(map[string]interface{}{"component": "speaker"})}
}

func (s *Speaker) Open(ctx context.Context, cfg playback.PlaybackConfig, clock playback.Clock) (playback.Device, error) {
	defaults := playback.DefaultConfig()
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = defaults.OutputSampleRate
	}
	if cfg.OutputChannels <= 0 {
		cfg.OutputChannels = defaults.OutputChannels
	}

	otoCtx, err := sharedOtoContext(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := otoCtx.Resume(); err != nil {
		return nil, fmt.Errorf("oto: resume: %w", err)
	}

	// the context format wins if an earlier Open fixed it differently
	q := newQueue(clock, contextRate, contextChannels)
	player := otoCtx.NewPlayer(q)
	player.Play()

	s.logger.With(map[string]interface{}{"sample_rate": contextRate, "channels": contextChannels}).Debug("speaker opened")
	return &device{
		otoCtx:   otoCtx,
		player:   player,
		queue:    q,
		rate:     contextRate,
		channels: contextChannels,
		logger:   s.logger,
	}, nil
}

type device struct {
	otoCtx   *oto.Context
	player   *oto.Player
	queue    *queue
	rate     int
	channels int
	logger   *core.Logger

	closeOnce sync.Once
}

// Schedule converts the chunk to the device format and queues it.
func (d *device) Schedule(item *playback.Item, onEnded func()) error {
	pcm, err := convert(item.Chunk, d.rate, d.channels)
	if err != nil {
		return err
	}
	d.queue.add(&entry{
		id:      item.ID,
		start:   item.Start,
		pcm:     pcm,
		onEnded: onEnded,
	})
	return nil
}

func (d *device) Stop(item *playback.Item) {
	d.queue.remove(item.ID)
}

func (d *device) Close() error {
	var errs []error
	d.closeOnce.Do(func() {
		d.queue.close()
		if err := d.player.Close(); err != nil {
			errs = append(errs, fmt.Errorf("oto: close player: %w", err))
		}
		if err := d.otoCtx.Suspend(); err != nil {
			errs = append(errs, fmt.Errorf("oto: suspend: %w", err))
		}
		d.logger.Debug("speaker closed")
	})
	return errors.Join(errs...)
}

func convert(chunk core.AudioChunk, rate, channels int) ([]byte, error) {
	pcm, err := audio.ConvertChannels(chunk.Data, chunk.Channels, channels)
	if err != nil {
		return nil, fmt.Errorf("oto: %w", err)
	}
	pcm, err = audio.ResampleLinear(pcm, channels, chunk.SampleRate, rate)
	if err != nil {
		return nil, fmt.Errorf("oto: %w", err)
	}
	return pcm, nil
}
