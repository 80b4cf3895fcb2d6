package audio

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestClampCountsOutOfRange(t *testing.T) {
	samples := []float32{0, 1.5, -2, 0.25, float32(math.NaN()), 1, -1}

	clipped := Clamp(samples)
	if clipped != 3 {
		t.Fatalf("clipped = %d, want 3", clipped)
	}

	want := []float32{0, 1, -1, 0.25, 0, 1, -1}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("samples[%d] = %v, want %v", i, samples[i], want[i])
		}
	}
}

func TestNewWaveform(t *testing.T) {
	wf, err := NewWaveform([]float32{0.1, 3}, 24000)
	if err != nil {
		t.Fatalf("NewWaveform: %v", err)
	}
	if wf.Channels != 1 || wf.Clipped != 1 || wf.SampleRate != 24000 {
		t.Fatalf("unexpected waveform %+v", wf)
	}
	if err := wf.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if _, err := NewWaveform([]float32{0}, 0); !errors.Is(err, ErrInvalidWaveform) {
		t.Fatalf("zero rate: want ErrInvalidWaveform, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]Waveform{
		"no rate":      {Samples: []float32{0}, Channels: 1},
		"stereo":       {Samples: []float32{0}, SampleRate: 8000, Channels: 2},
		"out of range": {Samples: []float32{1.01}, SampleRate: 8000, Channels: 1},
	}
	for name, wf := range cases {
		if err := wf.Validate(); !errors.Is(err, ErrInvalidWaveform) {
			t.Errorf("%s: want ErrInvalidWaveform, got %v", name, err)
		}
	}
}

func TestDuration(t *testing.T) {
	wf := Waveform{Samples: make([]float32, 12000), SampleRate: 24000, Channels: 1}
	if got := wf.Duration(); got != 500*time.Millisecond {
		t.Fatalf("Duration = %v, want 500ms", got)
	}
}

func TestPCM16Formula(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{0.5, 16384}, // 16383.5 rounds away from zero
		{-0.5, -16384},
		{2, 32767},
		{-2, -32768},
		{1.0 / 32767, 1},
	}
	for _, tt := range tests {
		if got := PCM16(tt.in); got != tt.want {
			t.Errorf("PCM16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPCM16RoundTripErrorBound(t *testing.T) {
	const bound = 1.0 / 32767
	const steps = 200001

	for i := range steps {
		s := float32(-1 + 2*float64(i)/float64(steps-1))
		back := FromPCM16(PCM16(s))
		if diff := math.Abs(float64(back) - float64(s)); diff > bound {
			t.Fatalf("s=%v: round trip error %v exceeds %v", s, diff, bound)
		}
	}
}

func TestByteEncodingsPreserveCount(t *testing.T) {
	samples := []float32{-1, -0.25, 0, 0.25, 1}

	pcm := PCM16Bytes(samples)
	if len(pcm) != 2*len(samples) {
		t.Fatalf("PCM16Bytes len = %d", len(pcm))
	}
	ints := PCM16FromBytes(pcm)
	for i, s := range samples {
		if ints[i] != PCM16(s) {
			t.Errorf("frame %d = %d, want %d", i, ints[i], PCM16(s))
		}
	}

	f32 := Float32Bytes(samples)
	if len(f32) != 4*len(samples) {
		t.Fatalf("Float32Bytes len = %d", len(f32))
	}
	floats := Float32FromBytes(f32)
	for i, s := range samples {
		if floats[i] != s {
			t.Errorf("float frame %d = %v, want %v (passthrough must be lossless)", i, floats[i], s)
		}
	}
}
