//go:build !portaudio

package portaudio

import (
	"context"
	"errors"

	"github.com/example/go-voice-assistant/internal/playback"
)

// Available reports whether the binary was built with PortAudio support.
const Available = false

var errUnavailable = errors.New("portaudio playback requires building with -tags portaudio")

type Opener struct{}

func NewOpener(int) (*Opener, error) {
	return nil, errUnavailable
}

func (o *Opener) Open(context.Context, playback.Format) (playback.Device, error) {
	return nil, errUnavailable
}

func (o *Opener) Close() error { return nil }
