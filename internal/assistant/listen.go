package assistant

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/go-voice-assistant/internal/capture"
)

// Listen submits every utterance from src until src is exhausted or ctx
// ends. Utterances that arrive before initialization finished are dropped
// with a warning.
func (o *Orchestrator) Listen(ctx context.Context, src capture.Source) error {
	for {
		u, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, capture.ErrCancelled) {
				return nil
			}
			return err
		}

		switch err := o.SubmitUtterance(u.Text); {
		case err == nil, errors.Is(err, ErrEmptyUtterance):
		case errors.Is(err, ErrNotInitialized):
			o.logger.Warn("dropped utterance before initialization", slog.String("text", u.Text))
		default:
			return err
		}
	}
}
