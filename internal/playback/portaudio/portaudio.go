//go:build portaudio

// Package portaudio plays waveforms through PortAudio's default output
// stream. It is built with the portaudio tag.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/example/go-voice-assistant/internal/audio"
	"github.com/example/go-voice-assistant/internal/playback"
)

// Available reports whether the binary was built with PortAudio support.
const Available = true

type Opener struct {
	bufferFrames int

	mu          sync.Mutex
	initialized bool
}

// NewOpener returns an opener writing bufferFrames frames per stream write.
func NewOpener(bufferFrames int) (*Opener, error) {
	if bufferFrames <= 0 {
		bufferFrames = 1024
	}
	return &Opener{bufferFrames: bufferFrames}, nil
}

func (o *Opener) Open(_ context.Context, f playback.Format) (playback.Device, error) {
	o.mu.Lock()
	if !o.initialized {
		if err := portaudio.Initialize(); err != nil {
			o.mu.Unlock()
			return nil, fmt.Errorf("initialize portaudio: %w", err)
		}
		o.initialized = true
	}
	o.mu.Unlock()

	d := &device{encoding: f.Encoding}

	var (
		stream *portaudio.Stream
		err    error
	)

	switch f.Encoding {
	case playback.EncodingFloat32:
		d.f32 = make([]float32, o.bufferFrames*f.Channels)
		stream, err = portaudio.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), o.bufferFrames, d.f32)
	default:
		d.i16 = make([]int16, o.bufferFrames*f.Channels)
		stream, err = portaudio.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), o.bufferFrames, d.i16)
	}
	if err != nil {
		return nil, fmt.Errorf("open portaudio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start portaudio stream: %w", err)
	}

	d.stream = stream

	return d, nil
}

// Close terminates PortAudio.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		return nil
	}
	o.initialized = false

	return portaudio.Terminate()
}

type device struct {
	stream   *portaudio.Stream
	encoding playback.Encoding
	i16      []int16
	f32      []float32

	leftover []byte
}

func (d *device) bufferBytes() int {
	if d.encoding == playback.EncodingFloat32 {
		return len(d.f32) * 4
	}
	return len(d.i16) * 2
}

func (d *device) Write(ctx context.Context, frames []byte) error {
	data := append(d.leftover, frames...)
	size := d.bufferBytes()

	for len(data) >= size {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := d.writeBuffer(data[:size]); err != nil {
			return err
		}
		data = data[size:]
	}

	d.leftover = append([]byte(nil), data...)

	return nil
}

func (d *device) writeBuffer(chunk []byte) error {
	if d.encoding == playback.EncodingFloat32 {
		copy(d.f32, audio.Float32FromBytes(chunk))
	} else {
		copy(d.i16, audio.PCM16FromBytes(chunk))
	}

	err := d.stream.Write()
	if errors.Is(err, portaudio.OutputUnderflowed) {
		return nil
	}
	return err
}

// Drain pads the last partial buffer with silence and writes it.
func (d *device) Drain(ctx context.Context) error {
	if len(d.leftover) == 0 {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	chunk := make([]byte, d.bufferBytes())
	copy(chunk, d.leftover)
	d.leftover = nil

	return d.writeBuffer(chunk)
}

func (d *device) Close() error {
	if d.stream == nil {
		return nil
	}

	stopErr := d.stream.Stop()
	closeErr := d.stream.Close()
	d.stream = nil

	return errors.Join(stopErr, closeErr)
}
