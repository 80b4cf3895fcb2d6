package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cwbudde/wav"
)

// ErrFormatMismatch is returned when a decoded WAV is not mono.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// DecodeWAV decodes a mono WAV at whatever sample rate it declares.
func DecodeWAV(data []byte) (Waveform, error) {
	if len(data) == 0 {
		return Waveform{}, errors.New("empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Waveform{}, errors.New("invalid WAV file")
	}

	if dec.NumChans != WAVChannels {
		return Waveform{}, fmt.Errorf("%w: channels %d, want %d", ErrFormatMismatch, dec.NumChans, WAVChannels)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("reading PCM data: %w", err)
	}

	return NewWaveform(buf.Data, int(dec.SampleRate))
}
