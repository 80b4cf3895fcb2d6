// Package phoneme converts text into phoneme token sequences for the
// synthesizer. Converters are deterministic and keep no state between calls.
package phoneme

import (
	"context"
	"errors"
	"strings"
)

// ErrPhonemization is returned when text cannot be converted, for example
// blank input or an unsupported script.
var ErrPhonemization = errors.New("phonemization failed")

// Converter turns text into phonemes.
type Converter interface {
	Phonemize(ctx context.Context, text string) (Sequence, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(ctx context.Context, text string) (Sequence, error)

func (f ConverterFunc) Phonemize(ctx context.Context, text string) (Sequence, error) {
	return f(ctx, text)
}

// Sequence is an immutable ordered list of phoneme symbols.
type Sequence struct {
	tokens []string
}

// NewSequence copies tokens into a Sequence.
func NewSequence(tokens []string) Sequence {
	return Sequence{tokens: append([]string(nil), tokens...)}
}

// FromIPA splits an IPA string into one token per rune and collapses runs of
// whitespace into a single space token.
func FromIPA(ipa string) Sequence {
	tokens := make([]string, 0, len(ipa))
	space := false
	for _, r := range strings.TrimSpace(ipa) {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			space = true
			continue
		}
		if space && len(tokens) > 0 {
			tokens = append(tokens, " ")
		}
		space = false
		tokens = append(tokens, string(r))
	}
	return Sequence{tokens: tokens}
}

// Tokens returns a copy of the symbols.
func (s Sequence) Tokens() []string {
	return append([]string(nil), s.tokens...)
}

func (s Sequence) Len() int {
	return len(s.tokens)
}

func (s Sequence) String() string {
	return strings.Join(s.tokens, "")
}
