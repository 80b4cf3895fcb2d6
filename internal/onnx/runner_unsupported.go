//go:build windows || (js && wasm)

package onnx

import (
	"context"
	"errors"
)

// NewEnvironment always fails where the purego ORT binding is unavailable.
// Supply another Engine to NewManager on these platforms.
func (e *ORTEngine) NewEnvironment(context.Context) (Environment, error) {
	return nil, errors.New("native onnx runtime is unavailable on this platform")
}
