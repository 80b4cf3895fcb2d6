package onnx

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/example/go-voice-assistant/internal/onnx"

var tracer = otel.Tracer(scopeName)
