package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/go-voice-assistant/internal/assets"
	"github.com/example/go-voice-assistant/internal/config"
	"github.com/example/go-voice-assistant/internal/doctor"
	"github.com/example/go-voice-assistant/internal/onnx"
	"github.com/example/go-voice-assistant/internal/tts"
)

func newDoctorCmd() *cobra.Command {
	var skipLLM bool
	var smoke bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime, model and endpoint checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			dcfg := buildDoctorConfig(cfg, slog.Default(), skipLLM, smoke)
			out := cmd.OutOrStdout()

			result := doctor.Run(cmd.Context(), dcfg, out)

			if result.Failed() {
				for _, f := range result.Failures() {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().BoolVar(&skipLLM, "skip-llm", false, "Skip the language model endpoint check")
	cmd.Flags().BoolVar(&smoke, "smoke", false, "Load the TTS model and synthesize a test phrase")

	return cmd
}

func buildDoctorConfig(cfg config.Config, logger *slog.Logger, skipLLM, smoke bool) doctor.Config {
	dcfg := doctor.Config{
		ORTLibrary: func() (string, string, error) {
			info, err := onnx.DetectRuntime(cfg.Runtime)
			return info.LibraryPath, info.Version, err
		},
		APIVersion: cfg.Runtime.APIVersion,
		Models: func() ([]string, error) {
			loader, err := assets.NewDirLoader(cfg.Paths.ModelDir)
			if err != nil {
				return nil, err
			}
			var ids []string
			for _, m := range loader.Models() {
				ids = append(ids, m.ID)
			}
			return ids, nil
		},
		RequiredModels: []string{cfg.TTS.ModelID},
		VoiceFiles:     collectVoiceFiles(cfg.Paths.VoiceManifest),
		Phonemizer: func(ctx context.Context) (string, error) {
			conv, err := newPhonemizer(cfg)
			if err != nil {
				return "", err
			}
			seq, err := conv.Phonemize(ctx, "hello")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%q", seq.String()), nil
		},
	}

	if !skipLLM {
		dcfg.LanguageModel = func(ctx context.Context) (string, error) {
			model, err := newLanguageModel(cfg, logger)
			if err != nil {
				return "", err
			}
			if err := model.Initialize(ctx); err != nil {
				return "", err
			}
			return cfg.LLM.Model, nil
		}
	}

	if smoke {
		dcfg.Smoke = func(ctx context.Context) (string, error) {
			p, err := newPipeline(cfg, logger)
			if err != nil {
				return "", err
			}
			defer func() { _ = p.Close() }()

			if err := p.manager.Initialize(ctx); err != nil {
				return "", err
			}

			h, err := p.manager.Session(cfg.TTS.ModelID)
			if err != nil {
				return "", err
			}
			outputs, err := h.Warmup(ctx)
			if err != nil {
				return "", fmt.Errorf("warmup: %w", err)
			}

			wf, err := p.synth.Synthesize(ctx, "hello", cfg.TTS.Voice, cfg.TTS.Speed)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("warmup produced %d outputs, %s", outputs, describeWaveform(len(wf.Samples), wf.SampleRate)), nil
		}
	}

	return dcfg
}

// collectVoiceFiles returns absolute voice file paths from the manifest,
// resolved against the manifest directory.
func collectVoiceFiles(manifest string) []string {
	vm, err := tts.NewVoiceManager(manifest)
	if err != nil {
		return nil
	}

	voices := vm.ListVoices()

	paths := make([]string, 0, len(voices))
	for _, v := range voices {
		resolved, err := vm.ResolvePath(v.ID)
		if err != nil {
			paths = append(paths, v.Path)
			continue
		}

		if abs, err := filepath.Abs(resolved); err == nil {
			resolved = abs
		}

		paths = append(paths, resolved)
	}

	return paths
}
