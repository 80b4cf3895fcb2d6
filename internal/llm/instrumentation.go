package llm

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/example/go-voice-assistant/internal/llm"

var tracer = otel.Tracer(scopeName)
