// Package miniaudio plays waveforms through the system default output device
// via miniaudio.
package miniaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/example/go-voice-assistant/internal/playback"
)

// Opener lazily creates one miniaudio context and opens a fresh device per
// playback so the device always runs at the waveform's rate.
type Opener struct {
	logger *slog.Logger

	mu     sync.Mutex
	actx   *malgo.AllocatedContext
	device string
}

func NewOpener(logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{logger: logger}
}

func (o *Opener) audioContext() (*malgo.AllocatedContext, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.actx != nil {
		return o.actx, nil
	}

	actx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		o.logger.Debug("miniaudio", slog.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("init miniaudio context: %w", err)
	}

	o.actx = actx

	return actx, nil
}

func (o *Opener) Open(_ context.Context, f playback.Format) (playback.Device, error) {
	actx, err := o.audioContext()
	if err != nil {
		return nil, err
	}

	format := malgo.FormatS16
	if f.Encoding == playback.EncodingFloat32 {
		format = malgo.FormatF32
	}

	rate := uint32(f.SampleRate)

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = rate
	cfg.Playback.Format = format
	cfg.Playback.Channels = uint32(f.Channels)
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInFrames = rate / 10 // ~100ms of audio
	cfg.Periods = 4

	d := &device{
		bpf:     malgo.SampleSizeInBytes(format) * f.Channels,
		period:  100 * time.Millisecond,
		drained: make(chan struct{}, 1),
	}

	dev, err := malgo.InitDevice(actx.Context, cfg, malgo.DeviceCallbacks{Data: d.process})
	if err != nil {
		return nil, fmt.Errorf("init playback device: %w", err)
	}

	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("start playback device: %w", err)
	}

	d.dev = dev

	return d, nil
}

// Close releases the miniaudio context.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.actx == nil {
		return nil
	}

	err := o.actx.Uninit()
	o.actx.Free()
	o.actx = nil

	return err
}

type device struct {
	dev     *malgo.Device
	bpf     int
	period  time.Duration
	drained chan struct{}

	mu      sync.Mutex
	pending []byte
}

func (d *device) Write(ctx context.Context, frames []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	d.pending = append(d.pending, frames...)
	d.mu.Unlock()

	return nil
}

func (d *device) Drain(ctx context.Context) error {
	for {
		d.mu.Lock()
		empty := len(d.pending) == 0
		d.mu.Unlock()

		if empty {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.drained:
		case <-time.After(d.period):
		}
	}

	// The last callback buffer is still in the device queue.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * d.period):
	}

	return nil
}

func (d *device) Close() error {
	if d.dev != nil {
		d.dev.Uninit()
		d.dev = nil
	}
	return nil
}

func (d *device) process(out, _ []byte, frameCount uint32) {
	need := min(int(frameCount)*d.bpf, len(out))

	d.mu.Lock()
	n := copy(out[:need], d.pending)
	d.pending = d.pending[n:]
	empty := len(d.pending) == 0
	d.mu.Unlock()

	clear(out[n:need])

	if empty {
		select {
		case d.drained <- struct{}{}:
		default:
		}
	}
}
