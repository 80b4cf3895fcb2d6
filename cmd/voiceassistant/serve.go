package main

import (
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-voice-assistant/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server with the conversation loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := slog.Default()
			a, err := newApp(ctx, cfg, logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			// Requests are answered while the models load; synthesis reports
			// 503 and /status shows the phase until then.
			go func() {
				if err := a.orch.Initialize(ctx); err != nil {
					logger.Error("initialization failed", slog.Any("error", err))
				}
			}()

			opts := []server.Option{
				server.WithWorkers(cfg.Server.Workers),
				server.WithMaxTextBytes(cfg.Server.MaxTextBytes),
				server.WithRequestTimeout(time.Duration(cfg.Server.RequestTimeout) * time.Second),
				server.WithDefaultVoice(cfg.TTS.Voice, cfg.TTS.Speed),
				server.WithAssistant(a.orch),
				server.WithLogger(logger),
			}
			if a.tel.Handler != nil {
				opts = append(opts, server.WithMetrics(a.tel.Handler))
			}

			h := server.NewHandler(a.pipeline.synth, a.pipeline.voices, opts...)

			return server.New(cfg.Server.ListenAddr, h).
				WithShutdownTimeout(time.Duration(cfg.Server.ShutdownTimeout) * time.Second).
				WithLogger(logger).
				Start(ctx)
		},
	}

	return cmd
}
