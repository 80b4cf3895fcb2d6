package tts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/go-voice-assistant/internal/audio"
	"github.com/example/go-voice-assistant/internal/safetensors"
)

// Style is a voice style pack: rows of dim-wide reference vectors, one per
// input length.
type Style struct {
	dim  int
	data []float32
}

// NewStyle wraps data as rows of dim values.
func NewStyle(data []float32, dim int) (*Style, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("style dim must be positive, got %d", dim)
	}

	if len(data) == 0 || len(data)%dim != 0 {
		return nil, fmt.Errorf("style pack has %d values, not a multiple of dim %d", len(data), dim)
	}

	return &Style{dim: dim, data: data}, nil
}

// LoadStyle reads a raw little-endian float32 pack (.bin) or a safetensors
// pack. Safetensors packs may be shaped [rows, 1, dim], [rows, dim] or
// [1, rows, dim]; only the last dimension matters.
func LoadStyle(path string, dim int) (*Style, error) {
	if strings.EqualFold(filepath.Ext(path), ".safetensors") {
		store, err := safetensors.Open(path)
		if err != nil {
			return nil, err
		}

		t, err := store.First()
		if err != nil {
			return nil, err
		}

		if n := len(t.Shape); n > 0 && int(t.Shape[n-1]) != dim {
			return nil, fmt.Errorf("style tensor %q has last dim %d, want %d", t.Name, t.Shape[n-1], dim)
		}

		return NewStyle(t.Data, dim)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read style pack: %w", err)
	}

	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("style pack %s has %d bytes, not a float32 multiple", path, len(raw))
	}

	return NewStyle(audio.Float32FromBytes(raw), dim)
}

func (s *Style) Rows() int { return len(s.data) / s.dim }

func (s *Style) Dim() int { return s.dim }

// Row returns the reference vector for an input of n tokens. n is clamped to
// the last row.
func (s *Style) Row(n int) []float32 {
	n = max(0, min(n, s.Rows()-1))
	return s.data[n*s.dim : (n+1)*s.dim]
}
