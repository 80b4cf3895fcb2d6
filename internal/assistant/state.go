package assistant

import (
	"encoding/json"
	"errors"
	"time"
)

// Phase is the conversation phase shown to the user.
type Phase int

const (
	Uninitialized Phase = iota
	Initializing
	Ready
	Thinking
	Speaking
	Error
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase name in JSON payloads.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

var (
	ErrNotInitialized = errors.New("assistant not initialized")
	ErrEmptyUtterance = errors.New("empty utterance")
	ErrClosed         = errors.New("assistant closed")
)

// TurnState is the state of the current conversation turn.
type TurnState struct {
	Phase     Phase
	Utterance string
	Response  string
	Err       error
	TurnID    string
}

// StatusEvent is one phase transition. Seq increases strictly across all
// events of an orchestrator.
type StatusEvent struct {
	Seq       uint64
	TurnID    string
	Phase     Phase
	Message   string
	Utterance string
	Response  string
	Err       error
	At        time.Time
}

// Status messages.
const (
	msgNotInitialized = "Not initialized"
	msgInitializing   = "Initializing..."
	msgReady          = "Ready"
	msgThinking       = "Thinking..."
	msgSpeaking       = "Speaking..."
)

type eventJSON struct {
	Seq       uint64    `json:"seq"`
	TurnID    string    `json:"turn_id,omitempty"`
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message"`
	Utterance string    `json:"utterance,omitempty"`
	Response  string    `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// MarshalJSON renders the event for the HTTP and bus surfaces. Err is
// reduced to its message.
func (ev StatusEvent) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		Seq:       ev.Seq,
		TurnID:    ev.TurnID,
		Phase:     ev.Phase,
		Message:   ev.Message,
		Utterance: ev.Utterance,
		Response:  ev.Response,
		At:        ev.At,
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	return json.Marshal(out)
}
