package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-voice-assistant/internal/playback"
)

func newSayCmd() *cobra.Command {
	var text string
	var out string

	cmd := &cobra.Command{
		Use:   "say [text]",
		Short: "Synthesize text and play it, or write it as WAV with --out",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if text == "" && len(args) > 0 {
				text = strings.Join(args, " ")
			}
			input, err := readSayText(text, cmd.InOrStdin())
			if err != nil {
				return err
			}

			logger := slog.Default()
			p, err := newPipeline(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			if err := p.manager.Initialize(cmd.Context()); err != nil {
				return err
			}

			if out != "" {
				wav, err := p.synth.SynthesizeWAV(cmd.Context(), input, cfg.TTS.Voice, cfg.TTS.Speed)
				if err != nil {
					return err
				}
				return writeSayOutput(out, wav, cmd.OutOrStdout())
			}

			wf, err := p.synth.Synthesize(cmd.Context(), input, cfg.TTS.Voice, cfg.TTS.Speed)
			if err != nil {
				return err
			}

			player, err := newPlayer(cfg, logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() { _ = player.Close() }()

			if err := player.Play(cmd.Context(), wf); err != nil {
				var devErr *playback.DeviceError
				if errors.As(err, &devErr) {
					return fmt.Errorf("playback: %w", err)
				}
				return err
			}

			logger.Info("spoke", slog.String("voice", cfg.TTS.Voice), slog.String("audio", describeWaveform(len(wf.Samples), wf.SampleRate)))
			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to speak (default: arguments or stdin)")
	cmd.Flags().StringVar(&out, "out", "", "Write WAV to this path instead of playing (- for stdout)")

	return cmd
}

func writeSayOutput(outPath string, wavData []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return errors.New("stdout writer is nil")
		}
		_, err := stdout.Write(wavData)
		return err
	}
	return os.WriteFile(outPath, wavData, 0o644)
}

func readSayText(text string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", errors.New("either provide text or pipe it on stdin")
	}
	return input, nil
}
