package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/go-voice-assistant/internal/audio"
)

// Adapter owns at most one active device handle. Starting a new playback
// stops the active one and waits for its device to be released first.
type Adapter struct {
	opener      Opener
	encoding    Encoding
	chunkFrames int
	logger      *slog.Logger

	mu     sync.Mutex
	active *Playback
	closed bool
}

type Option func(*Adapter)

// WithEncoding selects the frame encoding. The default is PCM16.
func WithEncoding(enc Encoding) Option {
	return func(a *Adapter) { a.encoding = enc }
}

// WithChunkFrames writes the waveform in chunks of n frames. Zero writes the
// whole waveform at once.
func WithChunkFrames(n int) Option {
	return func(a *Adapter) { a.chunkFrames = max(0, n) }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

func NewAdapter(opener Opener, opts ...Option) (*Adapter, error) {
	if opener == nil {
		return nil, errors.New("playback: device opener is required")
	}

	a := &Adapter{
		opener:   opener,
		encoding: EncodingPCM16,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.encoding != EncodingPCM16 && a.encoding != EncodingFloat32 {
		return nil, fmt.Errorf("playback: unsupported encoding %q", a.encoding)
	}

	return a, nil
}

// Play plays wf and blocks until it finished, failed or ctx was cancelled.
func (a *Adapter) Play(ctx context.Context, wf audio.Waveform) error {
	p, err := a.Start(ctx, wf)
	if err != nil {
		return err
	}

	<-p.Done()

	return p.Err()
}

// Start opens the device and begins playback in the background. The device
// is released when playback ends on every path.
func (a *Adapter) Start(ctx context.Context, wf audio.Waveform) (*Playback, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	frames, err := Encode(wf, a.encoding)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, &DeviceError{Op: "open", Err: errors.New("adapter closed")}
	}

	if a.active != nil {
		a.active.stop()
		a.active = nil
	}

	format := Format{SampleRate: wf.SampleRate, Channels: 1, Encoding: a.encoding}

	dev, err := a.opener.Open(ctx, format)
	if err != nil {
		return nil, &DeviceError{Op: "open", Err: err}
	}

	pctx, cancel := context.WithCancelCause(ctx)
	p := &Playback{
		cancel: cancel,
		done:   make(chan struct{}),
		total:  len(wf.Samples),
	}
	a.active = p

	a.logger.Debug(
		"playback started",
		slog.Int("sample_rate", format.SampleRate),
		slog.String("encoding", string(format.Encoding)),
		slog.Int("frames", len(wf.Samples)),
	)

	go a.run(pctx, p, dev, format, frames)

	return p, nil
}

// Stop stops the active playback, if any, and waits for its device release.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil {
		a.active.stop()
		a.active = nil
	}
}

// Close stops the active playback and rejects further playbacks.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil {
		a.active.stop()
		a.active = nil
	}
	a.closed = true

	if c, ok := a.opener.(interface{ Close() error }); ok {
		return c.Close()
	}

	return nil
}

func (a *Adapter) run(ctx context.Context, p *Playback, dev Device, format Format, frames []byte) {
	var err error

	defer func() {
		if cerr := dev.Close(); cerr != nil && err == nil {
			err = &DeviceError{Op: "close", Err: cerr}
		}

		if err != nil && ctx.Err() != nil {
			err = context.Cause(ctx)
		}

		p.finish(err)
		p.cancel(nil)

		a.mu.Lock()
		if a.active == p {
			a.active = nil
		}
		a.mu.Unlock()

		if err != nil && !errors.Is(err, ErrStopped) {
			a.logger.Warn("playback failed", slog.Any("error", err))
		}
	}()

	bpf := format.BytesPerFrame()
	step := len(frames)
	if a.chunkFrames > 0 {
		step = a.chunkFrames * bpf
	}

	for off := 0; off < len(frames); off += step {
		end := min(off+step, len(frames))

		if werr := dev.Write(ctx, frames[off:end]); werr != nil {
			err = &DeviceError{Op: "write", Err: werr}
			return
		}

		p.written.Add(int64((end - off) / bpf))
	}

	if derr := dev.Drain(ctx); derr != nil {
		err = &DeviceError{Op: "drain", Err: derr}
	}
}
