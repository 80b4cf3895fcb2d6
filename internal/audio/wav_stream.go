package audio

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteWAVHeaderStreaming writes a 44-byte 16-bit mono WAV header whose RIFF
// and data sizes are 0xFFFFFFFF, the conventional marker for a stream of
// unknown length.
func WriteWAVHeaderStreaming(w io.Writer, sampleRate int) (int, error) {
	if sampleRate < 1 {
		return 0, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	const (
		channels      = WAVChannels
		bitsPerSample = WAVBitDepth
		blockAlign    = channels * bitsPerSample / 8
	)

	byteRate := sampleRate * blockAlign

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 0xFFFFFFFF)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], channels)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], 0xFFFFFFFF)

	return w.Write(hdr[:])
}

// WritePCM16Samples encodes samples with PCM16 and writes them to w.
func WritePCM16Samples(w io.Writer, samples []float32) (int, error) {
	return w.Write(PCM16Bytes(samples))
}
