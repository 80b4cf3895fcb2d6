package llm

import (
	"context"
	"strings"
	"sync/atomic"
)

// Echo is an offline Model that replies with the prompt, optionally prefixed.
type Echo struct {
	Prefix string

	ready atomic.Bool
}

func (e *Echo) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.ready.Store(true)
	return nil
}

func (e *Echo) Ask(ctx context.Context, prompt string) (string, error) {
	if !e.ready.Load() {
		return "", ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.Prefix + strings.TrimSpace(prompt), nil
}
