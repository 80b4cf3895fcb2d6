package text

import (
	"reflect"
	"testing"
)

func TestSentences(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"Hello. World!", []string{"Hello.", "World!"}},
		{"Really?! Yes.", []string{"Really?!", "Yes."}},
		{"Wait... what", []string{"Wait...", "what"}},
		{"Version 3.5 is out. Update now", []string{"Version 3.5 is out.", "Update now"}},
		{"e.g. this", []string{"e.g.", "this"}},
		{"   ", nil},
		{"no terminator", []string{"no terminator"}},
	}

	for _, tt := range tests {
		got := Sentences(tt.input)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Sentences(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestChunkBySentence(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxChars int
		want     []string
	}{
		{
			name:     "disabled",
			input:    "One. Two. Three.",
			maxChars: 0,
			want:     []string{"One. Two. Three."},
		},
		{
			name:     "single sentence kept whole",
			input:    "Only one sentence here",
			maxChars: 5,
			want:     []string{"Only one sentence here"},
		},
		{
			name:     "groups while under limit",
			input:    "One. Two. Three.",
			maxChars: 9,
			want:     []string{"One. Two.", "Three."},
		},
		{
			name:     "everything fits",
			input:    "One. Two. Three.",
			maxChars: 100,
			want:     []string{"One. Two. Three."},
		},
		{
			name:     "oversized sentence stands alone",
			input:    "Hi. This sentence is far too long. Ok.",
			maxChars: 10,
			want:     []string{"Hi.", "This sentence is far too long.", "Ok."},
		},
		{
			name:     "decimals do not split",
			input:    "It costs 4.99 today. Buy it.",
			maxChars: 12,
			want:     []string{"It costs 4.99 today.", "Buy it."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkBySentence(tt.input, tt.maxChars)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ChunkBySentence(%q, %d) = %q, want %q", tt.input, tt.maxChars, got, tt.want)
			}
		})
	}
}
