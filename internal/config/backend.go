package config

import (
	"fmt"
	"strings"
)

const (
	LLMBackendOpenAI = "openai"
	LLMBackendEcho   = "echo"

	PhonemizerLexicon = "lexicon"
	PhonemizerEspeak  = "espeak"

	DeviceMiniaudio = "miniaudio"
	DevicePortaudio = "portaudio"
	DeviceWAV       = "wav"
	DeviceDiscard   = "discard"
	DeviceStdout    = "stdout"

	EncodingPCM16   = "pcm16"
	EncodingFloat32 = "f32"
)

func NormalizeLLMBackend(raw string) (string, error) {
	return normalizeChoice("llm backend", raw, LLMBackendOpenAI, map[string]string{
		LLMBackendOpenAI: LLMBackendOpenAI,
		"llamacpp":       LLMBackendOpenAI,
		"ollama":         LLMBackendOpenAI,
		LLMBackendEcho:   LLMBackendEcho,
		"mock":           LLMBackendEcho,
	})
}

func NormalizePhonemizer(raw string) (string, error) {
	return normalizeChoice("phonemizer", raw, PhonemizerLexicon, map[string]string{
		PhonemizerLexicon: PhonemizerLexicon,
		PhonemizerEspeak:  PhonemizerEspeak,
		"espeak-ng":       PhonemizerEspeak,
	})
}

func NormalizeDevice(raw string) (string, error) {
	return normalizeChoice("playback device", raw, DeviceMiniaudio, map[string]string{
		DeviceMiniaudio: DeviceMiniaudio,
		"malgo":         DeviceMiniaudio,
		DevicePortaudio: DevicePortaudio,
		DeviceWAV:       DeviceWAV,
		"file":          DeviceWAV,
		DeviceDiscard:   DeviceDiscard,
		"none":          DeviceDiscard,
		DeviceStdout:    DeviceStdout,
		"-":             DeviceStdout,
	})
}

func NormalizeEncoding(raw string) (string, error) {
	return normalizeChoice("playback encoding", raw, EncodingPCM16, map[string]string{
		EncodingPCM16:   EncodingPCM16,
		"s16":           EncodingPCM16,
		"int16":         EncodingPCM16,
		EncodingFloat32: EncodingFloat32,
		"float32":       EncodingFloat32,
		"float":         EncodingFloat32,
	})
}

func normalizeChoice(kind, raw, fallback string, accepted map[string]string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return fallback, nil
	}

	if canonical, ok := accepted[v]; ok {
		return canonical, nil
	}

	return "", fmt.Errorf("invalid %s %q", kind, raw)
}
