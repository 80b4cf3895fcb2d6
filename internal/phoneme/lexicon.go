package phoneme

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/example/go-voice-assistant/internal/text"
)

//go:embed lexicon_en.yaml
var defaultLexicon []byte

// Lexicon is a dictionary front end: known words map to IPA, unknown words
// of the lexicon's alphabet are spelled letter by letter.
type Lexicon struct {
	Language    string            `yaml:"language"`
	Words       map[string]string `yaml:"words"`
	Letters     map[string]string `yaml:"letters"`
	Digits      map[string]string `yaml:"digits"`
	Punctuation string            `yaml:"punctuation"`
}

// DefaultLexicon returns the bundled US English lexicon.
func DefaultLexicon() (*Lexicon, error) {
	return ParseLexicon(defaultLexicon)
}

// LoadLexicon reads a YAML lexicon from path.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}

	return ParseLexicon(data)
}

// ParseLexicon decodes YAML lexicon data. Word keys are lower-cased.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var lx Lexicon
	if err := yaml.Unmarshal(data, &lx); err != nil {
		return nil, fmt.Errorf("decode lexicon: %w", err)
	}

	if len(lx.Words) == 0 && len(lx.Letters) == 0 {
		return nil, fmt.Errorf("lexicon has neither words nor letters")
	}

	words := make(map[string]string, len(lx.Words))
	for w, ipa := range lx.Words {
		words[strings.ToLower(w)] = ipa
	}
	lx.Words = words

	if lx.Punctuation == "" {
		lx.Punctuation = ".,!?;:"
	}

	return &lx, nil
}

// Phonemize converts text word by word.
func (lx *Lexicon) Phonemize(ctx context.Context, input string) (Sequence, error) {
	if err := ctx.Err(); err != nil {
		return Sequence{}, err
	}

	normalized, err := text.Normalize(input)
	if err != nil {
		return Sequence{}, fmt.Errorf("%w: %w", ErrPhonemization, err)
	}

	var b strings.Builder
	for _, word := range splitWords(strings.ToLower(normalized), lx.Punctuation) {
		if strings.ContainsRune(lx.Punctuation, []rune(word)[0]) {
			b.WriteString(word)
			continue
		}

		ipa, err := lx.word(word)
		if err != nil {
			return Sequence{}, err
		}

		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(ipa)
	}

	seq := FromIPA(b.String())
	if seq.Len() == 0 {
		return Sequence{}, fmt.Errorf("%w: no pronounceable content in %q", ErrPhonemization, input)
	}

	return seq, nil
}

func (lx *Lexicon) word(w string) (string, error) {
	if ipa, ok := lx.Words[w]; ok {
		return ipa, nil
	}

	// Possessives and contractions not listed fall back to the stem.
	if stem, ok := strings.CutSuffix(w, "'s"); ok {
		if ipa, ok := lx.Words[stem]; ok {
			return ipa + "z", nil
		}
	}

	parts := make([]string, 0, len(w))
	for _, r := range w {
		key := string(r)
		switch {
		case r == '\'' || r == '-':
			continue
		case unicode.IsDigit(r):
			ipa, ok := lx.Digits[key]
			if !ok {
				return "", fmt.Errorf("%w: no pronunciation for digit %q", ErrPhonemization, key)
			}
			parts = append(parts, ipa)
		default:
			ipa, ok := lx.Letters[key]
			if !ok {
				return "", fmt.Errorf("%w: unsupported character %q in %q", ErrPhonemization, key, w)
			}
			parts = append(parts, ipa)
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("%w: no pronunciation for %q", ErrPhonemization, w)
	}

	return strings.Join(parts, " "), nil
}

// splitWords separates words from punctuation marks; each punctuation rune
// becomes its own element.
func splitWords(s, punctuation string) []string {
	var out []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}

	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			flush()
		case strings.ContainsRune(punctuation, r):
			flush()
			out = append(out, string(r))
		case r == '"' || r == '(' || r == ')' || r == '“' || r == '”':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	return out
}
