package onnx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/go-voice-assistant/internal/assets"
)

var (
	// ErrNotInitialized is returned when a session is requested before the
	// manager finished a successful Initialize.
	ErrNotInitialized = errors.New("inference sessions not initialized")
	// ErrUnknownModel is returned for a model id the manager was not built with.
	ErrUnknownModel = errors.New("unknown model")
)

// Acceleration values accepted by SessionOptions.
const (
	AccelerationDefault = ""
	AccelerationCPU     = "cpu"
)

// SessionOptions configures one model session.
type SessionOptions struct {
	IntraOpThreads int
	InterOpThreads int
	Acceleration   string
}

// Validate rejects options the runtime cannot honour.
func (o SessionOptions) Validate() error {
	if o.IntraOpThreads < 0 || o.InterOpThreads < 0 {
		return fmt.Errorf("thread counts must be >= 0 (intra=%d inter=%d)", o.IntraOpThreads, o.InterOpThreads)
	}

	switch strings.ToLower(o.Acceleration) {
	case AccelerationDefault, AccelerationCPU:
		return nil
	default:
		return fmt.Errorf("unsupported acceleration %q", o.Acceleration)
	}
}

// ModelSpec names a packaged model and how to load it.
type ModelSpec struct {
	ID      string
	Options SessionOptions
}

// Engine creates runtime environments. One Manager holds at most one
// Environment at a time.
type Engine interface {
	NewEnvironment(ctx context.Context) (Environment, error)
}

// Environment compiles model bytes into sessions.
type Environment interface {
	NewSession(ctx context.Context, info assets.ModelInfo, model []byte, opts SessionOptions) (Session, error)
	Close() error
}

// Session runs forward passes on a loaded graph.
type Session interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Close() error
}

// ModelLoadError reports a failed environment or session construction.
// Model is empty when the environment itself could not be created.
type ModelLoadError struct {
	Model  string
	Reason string
	Err    error
}

func (e *ModelLoadError) Error() string {
	target := "environment"
	if e.Model != "" {
		target = "model " + e.Model
	}

	if e.Err == nil {
		return fmt.Sprintf("load %s: %s", target, e.Reason)
	}

	return fmt.Sprintf("load %s: %s: %v", target, e.Reason, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }
