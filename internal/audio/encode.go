package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// WAV output format.
const (
	WAVBitDepth = 16
	WAVChannels = 1
)

// EncodeWAV encodes a waveform as a 16-bit PCM WAV at its own sample rate.
func EncodeWAV(w Waveform) ([]byte, error) {
	var buf bytes.Buffer

	// wav.NewEncoder requires an io.WriteSeeker; bytes.Buffer is not one.
	if err := WriteWAV(&seekBuffer{buf: &buf}, w); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// WriteWAV encodes a waveform into ws.
func WriteWAV(ws io.WriteSeeker, w Waveform) error {
	if w.SampleRate < 1 {
		return fmt.Errorf("invalid sample rate: %d", w.SampleRate)
	}

	enc := wav.NewEncoder(ws, w.SampleRate, WAVBitDepth, WAVChannels, 1) // 1 = PCM

	pcmBuf := &goaudio.Float32Buffer{
		Data:           w.Samples,
		Format:         &goaudio.Format{SampleRate: w.SampleRate, NumChannels: WAVChannels},
		SourceBitDepth: WAVBitDepth,
	}

	if err := enc.Write(pcmBuf); err != nil {
		return fmt.Errorf("writing PCM: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing encoder: %w", err)
	}

	return nil
}

// seekBuffer wraps a bytes.Buffer to satisfy io.WriteSeeker.
type seekBuffer struct {
	buf *bytes.Buffer
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos == s.buf.Len() {
		n, err := s.buf.Write(p)
		s.pos += n
		return n, err
	}

	// Overwrite in the middle (header patching on Close).
	data := s.buf.Bytes()
	n := copy(data[s.pos:], p)
	if n < len(p) {
		data = append(data, p[n:]...)
		s.buf.Reset()
		s.buf.Write(data)
		n = len(p)
	}
	s.pos += n
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int
	switch whence {
	case io.SeekStart:
		newPos = int(offset)
	case io.SeekCurrent:
		newPos = s.pos + int(offset)
	case io.SeekEnd:
		newPos = s.buf.Len() + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("seek before start")
	}
	if newPos > s.buf.Len() {
		return 0, fmt.Errorf("seek past end")
	}
	s.pos = newPos
	return int64(newPos), nil
}
