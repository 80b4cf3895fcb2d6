package onnx

import (
	"context"
	"fmt"

	"github.com/example/go-voice-assistant/internal/assets"
)

// Handle is a ready model session together with its manifest entry.
type Handle struct {
	info    assets.ModelInfo
	session Session
}

// Info returns the manifest metadata for the loaded model.
func (h *Handle) Info() assets.ModelInfo {
	return h.info
}

// ID returns the model id.
func (h *Handle) ID() string {
	return h.info.ID
}

// Run executes one forward pass.
func (h *Handle) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := h.session.Run(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", h.info.ID, err)
	}

	return out, nil
}

// Warmup runs the graph once on zero-filled inputs built from the manifest
// node list. It returns the number of outputs produced.
func (h *Handle) Warmup(ctx context.Context) (int, error) {
	if len(h.info.Inputs) == 0 {
		return 0, fmt.Errorf("model %q lists no inputs to warm up", h.info.ID)
	}

	inputs := make(map[string]*Tensor, len(h.info.Inputs))
	for _, in := range h.info.Inputs {
		t, err := NewZeroTensor(in.DType, in.Shape)
		if err != nil {
			return 0, fmt.Errorf("warmup input %q: %w", in.Name, err)
		}
		inputs[in.Name] = t
	}

	out, err := h.Run(ctx, inputs)
	if err != nil {
		return 0, err
	}

	return len(out), nil
}
