// Package playback plays synthesized waveforms on a single exclusively
// owned output device.
package playback

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/go-voice-assistant/internal/audio"
)

// Encoding is the sample format written to a device.
type Encoding string

const (
	EncodingPCM16   Encoding = "pcm16"
	EncodingFloat32 Encoding = "f32"
)

// ErrStopped is reported by a playback that was stopped before it finished.
var ErrStopped = errors.New("playback stopped")

// Format describes the frames handed to a device.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

// BytesPerFrame returns the frame size of f.
func (f Format) BytesPerFrame() int {
	switch f.Encoding {
	case EncodingFloat32:
		return 4 * f.Channels
	default:
		return 2 * f.Channels
	}
}

// Device is an opened output stream. Write may block while the device
// buffer is full. Drain blocks until every written frame was played.
type Device interface {
	Write(ctx context.Context, frames []byte) error
	Drain(ctx context.Context) error
	Close() error
}

// Opener acquires a device configured for one waveform.
type Opener interface {
	Open(ctx context.Context, f Format) (Device, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, f Format) (Device, error)

func (fn OpenerFunc) Open(ctx context.Context, f Format) (Device, error) {
	return fn(ctx, f)
}

// DeviceError reports a failure to acquire, configure, write or release the
// output device.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("playback device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Encode converts a waveform to interleaved frames. PCM16 uses
// round(s*32767) clamped to the int16 range; Float32 passes clamped samples
// through.
func Encode(wf audio.Waveform, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingPCM16:
		return audio.PCM16Bytes(wf.Samples), nil
	case EncodingFloat32:
		return audio.Float32Bytes(wf.Samples), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
}
