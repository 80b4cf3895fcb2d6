package main

import (
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/go-voice-assistant/internal/assistant"
	"github.com/example/go-voice-assistant/internal/capture"
	"github.com/example/go-voice-assistant/internal/config"
)

func newChatCmd() *cobra.Command {
	var waitReady bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Answer utterances read line by line from stdin",
		Long: "Reads one utterance per line from stdin (for example from a speech recognizer),\n" +
			"asks the language model and speaks each reply on the playback device.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Status lines go to stderr; stdout may carry audio.
			replies := cmd.OutOrStdout()
			if device, _ := config.NormalizeDevice(cfg.Playback.Device); device == config.DeviceStdout {
				replies = cmd.ErrOrStderr()
			}

			a, err := newApp(ctx, cfg, slog.Default(), cmd.OutOrStdout(), printStatus(cmd.ErrOrStderr(), replies))
			if err != nil {
				return err
			}
			defer a.Close()

			initErr := make(chan error, 1)
			go func() { initErr <- a.orch.Initialize(ctx) }()

			if waitReady {
				if err := <-initErr; err != nil {
					return err
				}
			}

			if err := a.orch.Listen(ctx, capture.NewLines(cmd.InOrStdin())); err != nil {
				return err
			}

			if err := a.orch.Wait(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&waitReady, "wait-ready", true, "Wait for initialization before reading utterances")

	return cmd
}

// printStatus renders status changes for a terminal.
func printStatus(status, replies io.Writer) func(assistant.StatusEvent) {
	return func(ev assistant.StatusEvent) {
		switch ev.Phase {
		case assistant.Thinking:
			_, _ = fmt.Fprintf(status, "> %s\n", ev.Utterance)
		case assistant.Speaking:
			_, _ = fmt.Fprintln(replies, ev.Response)
		case assistant.Error, assistant.Initializing:
			_, _ = fmt.Fprintln(status, ev.Message)
		}
	}
}
