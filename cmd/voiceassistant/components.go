package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/example/go-voice-assistant/internal/assets"
	"github.com/example/go-voice-assistant/internal/assistant"
	"github.com/example/go-voice-assistant/internal/bus"
	"github.com/example/go-voice-assistant/internal/config"
	"github.com/example/go-voice-assistant/internal/llm"
	"github.com/example/go-voice-assistant/internal/onnx"
	"github.com/example/go-voice-assistant/internal/phoneme"
	"github.com/example/go-voice-assistant/internal/playback"
	"github.com/example/go-voice-assistant/internal/playback/miniaudio"
	"github.com/example/go-voice-assistant/internal/playback/portaudio"
	"github.com/example/go-voice-assistant/internal/telemetry"
	"github.com/example/go-voice-assistant/internal/tts"
)

func newPhonemizer(cfg config.Config) (phoneme.Converter, error) {
	kind, err := config.NormalizePhonemizer(cfg.TTS.Phonemizer)
	if err != nil {
		return nil, err
	}

	if kind == config.PhonemizerEspeak {
		e, err := phoneme.NewEspeak(cfg.TTS.EspeakCommand)
		if err != nil {
			return nil, err
		}
		return e, nil
	}

	var lx *phoneme.Lexicon
	if cfg.Paths.Lexicon != "" {
		lx, err = phoneme.LoadLexicon(cfg.Paths.Lexicon)
	} else {
		lx, err = phoneme.DefaultLexicon()
	}
	if err != nil {
		return nil, err
	}
	return lx, nil
}

func newLanguageModel(cfg config.Config, logger *slog.Logger) (llm.Model, error) {
	backend, err := config.NormalizeLLMBackend(cfg.LLM.Backend)
	if err != nil {
		return nil, err
	}

	if backend == config.LLMBackendEcho {
		return &llm.Echo{}, nil
	}

	c, err := llm.NewClient(llm.Config{
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		Model:        cfg.LLM.Model,
		SystemPrompt: cfg.LLM.SystemPrompt,
		Temperature:  cfg.LLM.Temperature,
		TopK:         cfg.LLM.TopK,
		MaxTokens:    cfg.LLM.MaxTokens,
		Timeout:      time.Duration(cfg.LLM.RequestTimeout) * time.Second,
	}, llm.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// newOpener returns the playback device factory named by the config. The
// stdout device streams WAV to out.
func newOpener(cfg config.Config, logger *slog.Logger, out io.Writer) (playback.Opener, error) {
	device, err := config.NormalizeDevice(cfg.Playback.Device)
	if err != nil {
		return nil, err
	}

	switch device {
	case config.DevicePortaudio:
		if !portaudio.Available {
			return nil, errors.New("portaudio support not compiled in (build with -tags portaudio)")
		}
		o, err := portaudio.NewOpener(cfg.Playback.ChunkFrames)
		if err != nil {
			return nil, err
		}
		return o, nil
	case config.DeviceWAV:
		w, err := playback.NewWAVWriter(cfg.Playback.OutputDir)
		if err != nil {
			return nil, err
		}
		return w, nil
	case config.DeviceDiscard:
		return &playback.Discard{}, nil
	case config.DeviceStdout:
		return playback.NewStream(out), nil
	default:
		return miniaudio.NewOpener(logger), nil
	}
}

func newPlayer(cfg config.Config, logger *slog.Logger, out io.Writer) (*playback.Adapter, error) {
	opener, err := newOpener(cfg, logger, out)
	if err != nil {
		return nil, err
	}

	enc, err := config.NormalizeEncoding(cfg.Playback.Encoding)
	if err != nil {
		return nil, err
	}
	if device, _ := config.NormalizeDevice(cfg.Playback.Device); device == config.DeviceStdout {
		enc = config.EncodingPCM16
	}

	return playback.NewAdapter(opener,
		playback.WithEncoding(playback.Encoding(enc)),
		playback.WithChunkFrames(cfg.Playback.ChunkFrames),
		playback.WithLogger(logger),
	)
}

// pipeline is the speech side: packaged models, voices and the synthesizer.
type pipeline struct {
	loader  *assets.FSLoader
	manager *onnx.Manager
	voices  *tts.VoiceManager
	synth   *tts.Synthesizer
}

func newPipeline(cfg config.Config, logger *slog.Logger) (*pipeline, error) {
	loader, err := assets.NewDirLoader(cfg.Paths.ModelDir)
	if err != nil {
		return nil, err
	}

	voices, err := tts.NewVoiceManager(cfg.Paths.VoiceManifest)
	if err != nil {
		return nil, err
	}

	conv, err := newPhonemizer(cfg)
	if err != nil {
		return nil, err
	}

	engine := onnx.NewORTEngine(onnx.ORTConfig{
		Runtime:  cfg.Runtime,
		CacheDir: cfg.Paths.CacheDir,
	}, logger)

	spec := onnx.ModelSpec{
		ID: cfg.TTS.ModelID,
		Options: onnx.SessionOptions{
			IntraOpThreads: cfg.Runtime.Threads,
			InterOpThreads: cfg.Runtime.InterOpThreads,
			Acceleration:   cfg.Runtime.Acceleration,
		},
	}

	manager, err := onnx.NewManager(engine, loader, []onnx.ModelSpec{spec}, onnx.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	opts := []tts.Option{tts.WithModel(cfg.TTS.ModelID), tts.WithLogger(logger)}
	if cfg.Paths.Vocabulary != "" {
		vocab, err := tts.LoadVocabulary(cfg.Paths.Vocabulary)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tts.WithVocabulary(vocab))
	}

	synth, err := tts.NewSynthesizer(manager, voices, conv, opts...)
	if err != nil {
		return nil, err
	}

	return &pipeline{loader: loader, manager: manager, voices: voices, synth: synth}, nil
}

func (p *pipeline) Close() error {
	return p.manager.Close()
}

// app is the assembled assistant with its optional bus bridge and
// telemetry.
type app struct {
	pipeline *pipeline
	player   *playback.Adapter
	orch     *assistant.Orchestrator
	tel      *telemetry.Telemetry
	embedded *bus.Embedded
	bus      *bus.Client
	logger   *slog.Logger
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer, observers ...func(assistant.StatusEvent)) (*app, error) {
	a := &app{logger: logger}
	if err := a.build(ctx, cfg, out, observers); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, cfg config.Config, out io.Writer, observers []func(assistant.StatusEvent)) error {
	var err error

	a.tel, err = telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     buildVersion(),
	}, a.logger)
	if err != nil {
		return err
	}

	a.pipeline, err = newPipeline(cfg, a.logger)
	if err != nil {
		return err
	}

	model, err := newLanguageModel(cfg, a.logger)
	if err != nil {
		return err
	}

	a.player, err = newPlayer(cfg, a.logger, out)
	if err != nil {
		return err
	}

	opts := []assistant.Option{
		assistant.WithVoice(cfg.TTS.Voice, cfg.TTS.Speed),
		assistant.WithLogger(a.logger),
	}
	for _, fn := range observers {
		opts = append(opts, assistant.WithObserver(fn))
	}

	a.orch, err = assistant.New(model, a.pipeline.manager, a.pipeline.synth, a.player, opts...)
	if err != nil {
		return err
	}

	return a.startBus(ctx, cfg)
}

func (a *app) startBus(ctx context.Context, cfg config.Config) error {
	url := cfg.Bus.URL

	if cfg.Bus.Embedded {
		e, err := bus.StartEmbedded("127.0.0.1", cfg.Bus.EmbeddedPort, a.logger)
		if err != nil {
			return err
		}
		a.embedded = e
		if url == "" {
			url = e.URL()
		}
	}

	if url == "" {
		return nil
	}

	c, err := bus.Connect(ctx, bus.Config{URL: url, SubjectPrefix: cfg.Bus.SubjectPrefix}, a.logger)
	if err != nil {
		return err
	}
	a.bus = c

	if err := c.ServeUtterances(a.orch); err != nil {
		return err
	}

	events, cancel := a.orch.Events()
	go func() {
		defer cancel()
		c.Forward(ctx, events)
	}()

	return nil
}

// Close releases everything in reverse order of construction.
func (a *app) Close() {
	if a.bus != nil {
		a.bus.Close()
	}
	if a.orch != nil {
		if err := a.orch.Close(); err != nil {
			a.logger.Warn("close assistant", slog.Any("error", err))
		}
	} else if a.player != nil {
		_ = a.player.Close()
	}
	a.embedded.Shutdown()
	if a.pipeline != nil {
		if err := a.pipeline.Close(); err != nil {
			a.logger.Warn("close sessions", slog.Any("error", err))
		}
	}
	if a.tel != nil {
		if err := a.tel.Shutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}
}

func describeWaveform(samples, rate int) string {
	return fmt.Sprintf("%d samples at %d Hz", samples, rate)
}
