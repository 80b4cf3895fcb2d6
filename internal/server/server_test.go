package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/example/go-voice-assistant/internal/audio"
	"github.com/example/go-voice-assistant/internal/onnx"
	"github.com/example/go-voice-assistant/internal/phoneme"
	"github.com/example/go-voice-assistant/internal/server"
	"github.com/example/go-voice-assistant/internal/tts"
)

// stubSynthesizer implements server.Synthesizer for tests.
type stubSynthesizer struct {
	samples []float32
	err     error

	mu    sync.Mutex
	voice string
	speed float64
}

func (s *stubSynthesizer) Synthesize(_ context.Context, _, voice string, speed float64) (audio.Waveform, error) {
	s.mu.Lock()
	s.voice, s.speed = voice, speed
	s.mu.Unlock()

	if s.err != nil {
		return audio.Waveform{}, s.err
	}

	samples := s.samples
	if samples == nil {
		samples = []float32{0, 0.5, -0.5, 0.25}
	}
	return audio.NewWaveform(samples, 24000)
}

func (s *stubSynthesizer) lastCall() (string, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice, s.speed
}

// stubVoiceLister implements server.VoiceLister for tests.
type stubVoiceLister struct {
	voices []tts.Voice
}

func (v *stubVoiceLister) ListVoices() []tts.Voice {
	return v.voices
}

func newTestHandler(synth server.Synthesizer, voices server.VoiceLister) http.Handler {
	return server.NewHandler(synth, voices)
}

// ---------------------------------------------------------------------------
// GET /health
// ---------------------------------------------------------------------------

func TestHealth_Returns200WithStatusOK(t *testing.T) {
	h := newTestHandler(&stubSynthesizer{}, &stubVoiceLister{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body map[string]any
	err := json.NewDecoder(rec.Body).Decode(&body)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body["status"] != "ok" {
		t.Errorf("want status=ok, got %q", body["status"])
	}

	if _, ok := body["version"]; !ok {
		t.Error("want version field in response")
	}

	if _, ok := body["ready"]; ok {
		t.Error("ready field reported without an assistant")
	}
}

// ---------------------------------------------------------------------------
// GET /voices
// ---------------------------------------------------------------------------

func TestVoices_ReturnsJSONArray(t *testing.T) {
	voices := []tts.Voice{
		{ID: "af_sky", Path: "voices/af_sky.bin", License: "apache-2.0"},
		{ID: "am_adam", Path: "voices/am_adam.safetensors", License: "apache-2.0"},
	}
	h := newTestHandler(&stubSynthesizer{}, &stubVoiceLister{voices: voices})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/voices", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var got []tts.Voice
	err := json.NewDecoder(rec.Body).Decode(&got)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("want 2 voices, got %d", len(got))
	}

	if got[0].ID != "af_sky" || got[1].ID != "am_adam" {
		t.Errorf("unexpected voice IDs: %v", got)
	}
}

func TestVoices_ReturnsEmptyArrayWhenNoVoices(t *testing.T) {
	h := newTestHandler(&stubSynthesizer{}, &stubVoiceLister{voices: []tts.Voice{}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/voices", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var got []tts.Voice
	err := json.NewDecoder(rec.Body).Decode(&got)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if len(got) != 0 {
		t.Errorf("want empty array, got %v", got)
	}
}

// ---------------------------------------------------------------------------
// POST /tts
// ---------------------------------------------------------------------------

func TestTTS_ReturnsMissingBodyAs400(t *testing.T) {
	h := newTestHandler(&stubSynthesizer{}, &stubVoiceLister{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tts", nil)
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}

	var body map[string]string
	err := json.NewDecoder(rec.Body).Decode(&body)
	if err != nil {
		t.Fatalf("decode error body: %v", err)
	}

	if body["error"] == "" {
		t.Error("want non-empty error field")
	}
}

func TestTTS_ReturnsEmptyTextAs400(t *testing.T) {
	h := newTestHandler(&stubSynthesizer{}, &stubVoiceLister{})

	body := bytes.NewBufferString(`{"text":"","voice":"af_sky"}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tts", body)
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
}

func TestTTS_ReturnsWAVOnSuccess(t *testing.T) {
	synth := &stubSynthesizer{}
	h := newTestHandler(synth, &stubVoiceLister{})

	body := bytes.NewBufferString(`{"text":"Hello world.","voice":"am_adam","speed":1.25}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tts", body)
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("want Content-Type audio/wav, got %q", ct)
	}

	wf, err := audio.DecodeWAV(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if wf.SampleRate != 24000 || len(wf.Samples) != 4 {
		t.Errorf("got rate %d with %d samples, want 24000 with 4", wf.SampleRate, len(wf.Samples))
	}

	if voice, speed := synth.lastCall(); voice != "am_adam" || speed != 1.25 {
		t.Errorf("synthesizer got voice %q speed %v", voice, speed)
	}
}

func TestTTS_DefaultsVoiceAndSpeed(t *testing.T) {
	synth := &stubSynthesizer{}
	h := server.NewHandler(synth, &stubVoiceLister{}, server.WithDefaultVoice("bf_emma", 0.9))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tts", bytes.NewBufferString(`{"text":"Hi."}`))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if voice, speed := synth.lastCall(); voice != "bf_emma" || speed != 0.9 {
		t.Errorf("synthesizer got voice %q speed %v", voice, speed)
	}
}

func TestTTS_SynthesizerErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errSynthFailed, http.StatusInternalServerError},
		{fmt.Errorf("lookup: %w", tts.ErrUnknownVoice), http.StatusBadRequest},
		{tts.ErrInvalidSpeed, http.StatusBadRequest},
		{tts.ErrInputTooLong, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("%w: unsupported character", phoneme.ErrPhonemization), http.StatusUnprocessableEntity},
		{fmt.Errorf("tts session: %w", onnx.ErrNotInitialized), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newTestHandler(&stubSynthesizer{err: tt.err}, &stubVoiceLister{})

			body := bytes.NewBufferString(`{"text":"Hello.","voice":"af_sky"}`)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/tts", body)
			req.Header.Set("Content-Type", "application/json")
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("want %d, got %d", tt.want, rec.Code)
			}

			var errBody map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&errBody); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if errBody["error"] == "" {
				t.Error("want non-empty error field")
			}
		})
	}
}

func TestTTS_RejectsGet(t *testing.T) {
	h := newTestHandler(&stubSynthesizer{}, &stubVoiceLister{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tts", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("want 405, got %d", rec.Code)
	}
}

func TestTTSStream_WritesStreamingWAV(t *testing.T) {
	samples := make([]float32, 1000)
	for i := range samples {
		samples[i] = 0.5
	}
	h := server.NewHandler(&stubSynthesizer{samples: samples}, &stubVoiceLister{}, server.WithStreamFrames(128))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tts/stream", bytes.NewBufferString(`{"text":"Hello."}`))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	data := rec.Body.Bytes()
	if len(data) != 44+2*len(samples) {
		t.Fatalf("body = %d bytes, want header plus %d frames", len(data), len(samples))
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Errorf("missing RIFF/WAVE header: %q", data[:12])
	}

	pcm := audio.PCM16FromBytes(data[44:])
	if pcm[0] != audio.PCM16(0.5) || pcm[len(pcm)-1] != audio.PCM16(0.5) {
		t.Errorf("frames = %d..%d", pcm[0], pcm[len(pcm)-1])
	}
}

func TestTTSStream_ErrorBeforeHeader(t *testing.T) {
	h := newTestHandler(&stubSynthesizer{err: tts.ErrUnknownVoice}, &stubVoiceLister{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tts/stream", bytes.NewBufferString(`{"text":"Hello.","voice":"nobody"}`))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

var errSynthFailed = &synthError{"synthesis failed"}

type synthError struct{ msg string }

func (e *synthError) Error() string { return e.msg }
