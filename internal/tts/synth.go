// Package tts turns text into a waveform with a style-conditioned
// single-pass acoustic model.
package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/example/go-voice-assistant/internal/assets"
	"github.com/example/go-voice-assistant/internal/audio"
	"github.com/example/go-voice-assistant/internal/onnx"
	"github.com/example/go-voice-assistant/internal/phoneme"
	"github.com/example/go-voice-assistant/internal/text"
)

// DefaultMaxTokens is the model context used when the manifest omits
// max_tokens.
const DefaultMaxTokens = 510

var (
	ErrInvalidSpeed  = errors.New("speed must be a positive number")
	ErrInputTooLong  = errors.New("input exceeds model context")
	ErrNoSampleRate  = errors.New("model reports no sample rate")
	ErrEmptyWaveform = errors.New("model produced no audio")
)

// Sessions resolves a loaded model by id.
type Sessions interface {
	Session(modelID string) (*onnx.Handle, error)
}

// Synthesizer converts text into a clamped mono waveform at the model's
// native sample rate.
type Synthesizer struct {
	sessions   Sessions
	voices     *VoiceManager
	phonemizer phoneme.Converter
	vocab      *Vocabulary
	modelID    string
	chunkChars int
	logger     *slog.Logger
	clipped    metric.Int64Counter
}

type Option func(*Synthesizer)

// WithModel selects the model id used for synthesis.
func WithModel(id string) Option {
	return func(s *Synthesizer) { s.modelID = id }
}

func WithVocabulary(v *Vocabulary) Option {
	return func(s *Synthesizer) {
		if v != nil {
			s.vocab = v
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Synthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMeter sets the meter that owns the clipped-sample counter.
func WithMeter(m metric.Meter) Option {
	return func(s *Synthesizer) {
		if m != nil {
			s.clipped, _ = m.Int64Counter("tts.samples.clipped")
		}
	}
}

// WithChunkChars splits long text at sentence boundaries into chunks of at
// most n characters, one forward pass per chunk. Zero disables chunking.
func WithChunkChars(n int) Option {
	return func(s *Synthesizer) { s.chunkChars = max(0, n) }
}

func NewSynthesizer(sessions Sessions, voices *VoiceManager, conv phoneme.Converter, opts ...Option) (*Synthesizer, error) {
	if sessions == nil {
		return nil, errors.New("tts: session source is required")
	}

	if voices == nil {
		return nil, errors.New("tts: voice manager is required")
	}

	if conv == nil {
		return nil, errors.New("tts: phoneme converter is required")
	}

	s := &Synthesizer{
		sessions:   sessions,
		voices:     voices,
		phonemizer: conv,
		vocab:      DefaultVocabulary(),
		modelID:    "kokoro",
		logger:     slog.Default(),
	}

	s.clipped, _ = meter.Int64Counter(
		"tts.samples.clipped",
		metric.WithDescription("Samples clamped to [-1, 1] after synthesis"),
	)

	for _, opt := range opts {
		opt(s)
	}

	if s.modelID == "" {
		return nil, errors.New("tts: model id is required")
	}

	return s, nil
}

// Voices returns the voice registry.
func (s *Synthesizer) Voices() *VoiceManager { return s.voices }

// Synthesize renders text with the given voice and speed. It never starts
// model initialization; an unloaded model yields onnx.ErrNotInitialized.
func (s *Synthesizer) Synthesize(ctx context.Context, input, voiceID string, speed float64) (wf audio.Waveform, err error) {
	ctx, span := tracer.Start(ctx, "synthesize")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	span.SetAttributes(
		attribute.String("voice", voiceID),
		attribute.Float64("speed", speed),
		attribute.Int("text_len", len(input)),
	)

	if !s.voices.Has(voiceID) {
		return audio.Waveform{}, fmt.Errorf("%w %q", ErrUnknownVoice, voiceID)
	}

	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed <= 0 {
		return audio.Waveform{}, fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}

	chunks, err := s.tokenize(ctx, input)
	if err != nil {
		return audio.Waveform{}, err
	}

	handle, err := s.sessions.Session(s.modelID)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("tts session: %w", err)
	}

	info := handle.Info()
	limit := info.MaxTokens
	if limit <= 0 {
		limit = DefaultMaxTokens
	}

	for _, ids := range chunks {
		if len(ids) > limit {
			return audio.Waveform{}, fmt.Errorf("%w: %d tokens, limit %d", ErrInputTooLong, len(ids), limit)
		}
	}

	style, err := s.voices.Style(voiceID)
	if err != nil {
		return audio.Waveform{}, err
	}

	names := tensorNames(info.Tensors)

	var (
		samples []float32
		rate    int
	)

	for i, ids := range chunks {
		chunk, chunkRate, err := s.run(ctx, handle, names, ids, style, speed)
		if err != nil {
			return audio.Waveform{}, err
		}

		if i > 0 && chunkRate != rate {
			return audio.Waveform{}, fmt.Errorf("tts: chunk %d sample rate %d differs from %d", i, chunkRate, rate)
		}

		rate = chunkRate
		samples = append(samples, chunk...)
	}

	if len(samples) == 0 {
		return audio.Waveform{}, ErrEmptyWaveform
	}

	wf, err = audio.NewWaveform(samples, rate)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("tts: %w", err)
	}

	if wf.Clipped > 0 {
		s.logger.Warn(
			"clamped synthesized samples",
			slog.Int("clipped", wf.Clipped),
			slog.Int("samples", len(wf.Samples)),
			slog.String("voice", voiceID),
		)

		if s.clipped != nil {
			s.clipped.Add(ctx, int64(wf.Clipped), metric.WithAttributes(attribute.String("voice", voiceID)))
		}
	}

	span.SetAttributes(
		attribute.Int("samples", len(wf.Samples)),
		attribute.Int("sample_rate", wf.SampleRate),
	)

	s.logger.Debug(
		"synthesized waveform",
		slog.String("voice", voiceID),
		slog.Int("chunks", len(chunks)),
		slog.Int("samples", len(wf.Samples)),
		slog.Int("sample_rate", wf.SampleRate),
	)

	return wf, nil
}

// SynthesizeWAV renders text into a 16-bit mono WAV file.
func (s *Synthesizer) SynthesizeWAV(ctx context.Context, input, voiceID string, speed float64) ([]byte, error) {
	wf, err := s.Synthesize(ctx, input, voiceID, speed)
	if err != nil {
		return nil, err
	}

	return audio.EncodeWAV(wf)
}

// tokenize phonemizes every chunk of input and maps it to model ids.
func (s *Synthesizer) tokenize(ctx context.Context, input string) ([][]int64, error) {
	normalized, err := text.Normalize(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", phoneme.ErrPhonemization, err)
	}

	var out [][]int64

	for _, chunk := range text.ChunkBySentence(normalized, s.chunkChars) {
		seq, err := s.phonemizer.Phonemize(ctx, chunk)
		if err != nil {
			if errors.Is(err, phoneme.ErrPhonemization) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", phoneme.ErrPhonemization, err)
		}

		ids, unknown := s.vocab.Encode(seq)
		if len(unknown) > 0 {
			s.logger.Debug("dropped phoneme symbols outside the vocabulary", slog.Any("symbols", unknown))
		}

		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: no known phonemes in %q", phoneme.ErrPhonemization, chunk)
		}

		out = append(out, ids)
	}

	return out, nil
}

func (s *Synthesizer) run(ctx context.Context, h *onnx.Handle, names assets.TensorNames, ids []int64, style *Style, speed float64) ([]float32, int, error) {
	padded := make([]int64, 0, len(ids)+2)
	padded = append(padded, PadID)
	padded = append(padded, ids...)
	padded = append(padded, PadID)

	tokens, err := onnx.NewTensor(padded, []int64{1, int64(len(padded))})
	if err != nil {
		return nil, 0, fmt.Errorf("tts: tokens tensor: %w", err)
	}

	ref := append([]float32(nil), style.Row(len(ids))...)

	styleT, err := onnx.NewTensor(ref, []int64{1, int64(style.Dim())})
	if err != nil {
		return nil, 0, fmt.Errorf("tts: style tensor: %w", err)
	}

	speedT, err := onnx.NewTensor([]float32{float32(speed)}, []int64{1})
	if err != nil {
		return nil, 0, fmt.Errorf("tts: speed tensor: %w", err)
	}

	outputs, err := h.Run(ctx, map[string]*onnx.Tensor{
		names.Tokens: tokens,
		names.Style:  styleT,
		names.Speed:  speedT,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("tts: %w", err)
	}

	wave, ok := outputs[names.Waveform]
	if !ok {
		return nil, 0, fmt.Errorf("tts: model output %q missing", names.Waveform)
	}

	samples, err := wave.Float32s()
	if err != nil {
		return nil, 0, fmt.Errorf("tts: output %q: %w", names.Waveform, err)
	}

	rate := h.Info().SampleRate
	if sr, ok := outputs[names.SampleRate]; ok {
		v, err := sr.Scalar()
		if err != nil {
			return nil, 0, fmt.Errorf("tts: output %q: %w", names.SampleRate, err)
		}
		rate = int(v)
	}

	if rate <= 0 {
		return nil, 0, fmt.Errorf("%w for model %q", ErrNoSampleRate, h.ID())
	}

	return samples, rate, nil
}

func tensorNames(n assets.TensorNames) assets.TensorNames {
	if n.Tokens == "" {
		n.Tokens = "input_ids"
	}
	if n.Style == "" {
		n.Style = "style"
	}
	if n.Speed == "" {
		n.Speed = "speed"
	}
	if n.Waveform == "" {
		n.Waveform = "waveform"
	}
	if n.SampleRate == "" {
		n.SampleRate = "sample_rate"
	}
	return n
}
