package tts

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/example/go-voice-assistant/internal/tts"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
)
