// Package llm queries a language model for single-turn replies.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotInitialized is returned by Ask before a successful Initialize.
var ErrNotInitialized = errors.New("language model not initialized")

// Model answers one prompt at a time. Every Ask is independent: no history
// is carried between calls.
type Model interface {
	Initialize(ctx context.Context) error
	Ask(ctx context.Context, prompt string) (string, error)
}

// InferenceError reports a failed model load or query.
type InferenceError struct {
	Reason string
	Err    error
}

func (e *InferenceError) Error() string {
	if e.Err == nil {
		return "inference: " + e.Reason
	}
	return fmt.Sprintf("inference: %s: %v", e.Reason, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
