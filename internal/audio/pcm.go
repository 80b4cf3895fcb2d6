package audio

import (
	"encoding/binary"
	"math"
)

// PCM16Bytes encodes samples as little-endian signed 16-bit frames.
func PCM16Bytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(PCM16(s)))
	}
	return buf
}

// Float32Bytes encodes samples as little-endian IEEE float frames without
// quantization.
func Float32Bytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}

// PCM16FromBytes decodes little-endian signed 16-bit frames. A trailing odd
// byte is ignored.
func PCM16FromBytes(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Float32FromBytes decodes little-endian IEEE float frames.
func Float32FromBytes(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
