package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/go-voice-assistant/internal/audio"
)

// Discard accepts frames without playing them.
type Discard struct {
	frames atomic.Int64
	opens  atomic.Int32
}

func (d *Discard) Open(_ context.Context, f Format) (Device, error) {
	if f.SampleRate <= 0 || f.Channels != 1 {
		return nil, fmt.Errorf("unsupported format %+v", f)
	}
	d.opens.Add(1)
	return &discardDevice{owner: d, bpf: f.BytesPerFrame()}, nil
}

// Frames returns the total number of frames written across all playbacks.
func (d *Discard) Frames() int { return int(d.frames.Load()) }

// Opens returns how many devices were acquired.
func (d *Discard) Opens() int { return int(d.opens.Load()) }

type discardDevice struct {
	owner *Discard
	bpf   int
}

func (d *discardDevice) Write(ctx context.Context, frames []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.owner.frames.Add(int64(len(frames) / d.bpf))
	return nil
}

func (d *discardDevice) Drain(ctx context.Context) error { return ctx.Err() }

func (d *discardDevice) Close() error { return nil }

// WAVWriter writes every playback into its own 16-bit WAV file in Dir.
type WAVWriter struct {
	Dir string

	seq atomic.Int64

	mu   sync.Mutex
	last string
}

func NewWAVWriter(dir string) (*WAVWriter, error) {
	if dir == "" {
		return nil, errors.New("playback: output directory is required")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("playback: create output directory: %w", err)
	}

	return &WAVWriter{Dir: dir}, nil
}

func (w *WAVWriter) Open(_ context.Context, f Format) (Device, error) {
	if f.SampleRate <= 0 || f.Channels != 1 {
		return nil, fmt.Errorf("unsupported format %+v", f)
	}

	n := w.seq.Add(1)
	name := fmt.Sprintf("reply-%s-%03d.wav", time.Now().UTC().Format("20060102T150405"), n)

	return &wavDevice{owner: w, path: filepath.Join(w.Dir, name), format: f}, nil
}

// LastPath returns the most recently completed file.
func (w *WAVWriter) LastPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

type wavDevice struct {
	owner  *WAVWriter
	path   string
	format Format
	buf    []byte
}

func (d *wavDevice) Write(ctx context.Context, frames []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.buf = append(d.buf, frames...)
	return nil
}

func (d *wavDevice) Drain(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var samples []float32
	if d.format.Encoding == EncodingFloat32 {
		samples = audio.Float32FromBytes(d.buf)
	} else {
		pcm := audio.PCM16FromBytes(d.buf)
		samples = make([]float32, len(pcm))
		for i, v := range pcm {
			samples[i] = audio.FromPCM16(v)
		}
	}

	f, err := os.Create(d.path)
	if err != nil {
		return err
	}

	wf := audio.Waveform{Samples: samples, SampleRate: d.format.SampleRate, Channels: 1}
	if err := audio.WriteWAV(f, wf); err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	d.owner.mu.Lock()
	d.owner.last = d.path
	d.owner.mu.Unlock()

	return nil
}

func (d *wavDevice) Close() error { return nil }

// Stream writes playbacks to w as a streaming WAV: a header with unknown
// length followed by 16-bit frames.
type Stream struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStream(w io.Writer) *Stream {
	return &Stream{w: w}
}

func (s *Stream) Open(_ context.Context, f Format) (Device, error) {
	if f.Encoding != EncodingPCM16 {
		return nil, fmt.Errorf("stream device needs %s frames, got %s", EncodingPCM16, f.Encoding)
	}

	if f.Channels != 1 {
		return nil, fmt.Errorf("stream device needs mono, got %d channels", f.Channels)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := audio.WriteWAVHeaderStreaming(s.w, f.SampleRate); err != nil {
		return nil, err
	}

	return &streamDevice{owner: s}, nil
}

type streamDevice struct {
	owner *Stream
}

func (d *streamDevice) Write(ctx context.Context, frames []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.owner.mu.Lock()
	defer d.owner.mu.Unlock()

	_, err := d.owner.w.Write(frames)
	return err
}

func (d *streamDevice) Drain(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if f, ok := d.owner.w.(interface{ Sync() error }); ok {
		return f.Sync()
	}
	return nil
}

func (d *streamDevice) Close() error { return nil }
