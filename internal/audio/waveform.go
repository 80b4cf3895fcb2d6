// Package audio holds the synthesized waveform type and its conversions to
// device sample formats and WAV.
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Waveform is mono audio at the sample rate the model produced it at.
type Waveform struct {
	Samples    []float32
	SampleRate int
	Channels   int
	// Clipped counts samples that were outside [-1, 1] (or NaN) before
	// clamping.
	Clipped int
}

var ErrInvalidWaveform = errors.New("invalid waveform")

// NewWaveform clamps samples in place and returns a mono waveform.
func NewWaveform(samples []float32, sampleRate int) (Waveform, error) {
	if sampleRate <= 0 {
		return Waveform{}, fmt.Errorf("%w: sample rate %d", ErrInvalidWaveform, sampleRate)
	}

	clipped := Clamp(samples)

	return Waveform{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   1,
		Clipped:    clipped,
	}, nil
}

// Validate checks the invariants playback relies on.
func (w Waveform) Validate() error {
	if w.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidWaveform, w.SampleRate)
	}

	if w.Channels != 1 {
		return fmt.Errorf("%w: %d channels, want mono", ErrInvalidWaveform, w.Channels)
	}

	for i, s := range w.Samples {
		if s < -1 || s > 1 || math.IsNaN(float64(s)) {
			return fmt.Errorf("%w: sample %d = %v outside [-1, 1]", ErrInvalidWaveform, i, s)
		}
	}

	return nil
}

// Duration is the playback length at the native rate.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// Clamp limits samples to [-1, 1] in place and returns how many were
// changed. NaN becomes 0.
func Clamp(samples []float32) int {
	clipped := 0
	for i, s := range samples {
		switch {
		case math.IsNaN(float64(s)):
			samples[i] = 0
		case s > 1:
			samples[i] = 1
		case s < -1:
			samples[i] = -1
		default:
			continue
		}
		clipped++
	}
	return clipped
}

// PCM16 converts a normalized sample to a signed 16-bit value.
func PCM16(s float32) int16 {
	v := math.Round(float64(s) * 32767)
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// FromPCM16 is the inverse scale of PCM16.
func FromPCM16(v int16) float32 {
	return float32(v) / 32767
}

// ToPCM16 converts every sample with PCM16.
func ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = PCM16(s)
	}
	return out
}
