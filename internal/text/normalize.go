// Package text prepares language model replies for speech: markup removal,
// whitespace cleanup and sentence chunking.
package text

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyText is returned when nothing speakable remains after cleanup.
var ErrEmptyText = errors.New("text is empty")

// markup runes are formatting that chat models emit but nobody reads aloud.
const markup = "*`#~|>"

// Normalize turns a reply into a single line of speakable text. Markdown
// emphasis, headings, code fences and list bullets are removed. Separate
// lines are joined, and a line that does not end a sentence gets a period so
// list items are spoken as separate sentences.
func Normalize(s string) (string, error) {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = cleanLine(line)
		if line != "" {
			lines = append(lines, line)
		}
	}

	if len(lines) == 0 {
		return "", ErrEmptyText
	}

	for i := 0; i < len(lines)-1; i++ {
		if !endsSentence(lines[i]) {
			lines[i] += "."
		}
	}

	return strings.Join(lines, " "), nil
}

func cleanLine(line string) string {
	line = strings.TrimSpace(line)
	line = stripBullet(line)

	var b strings.Builder
	space := false
	for _, r := range line {
		switch {
		case strings.ContainsRune(markup, r):
			continue
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}

	return b.String()
}

// stripBullet removes a leading "- ", "+ " or "* " list marker and a
// numbered "1. " or "1) " marker.
func stripBullet(line string) string {
	for _, p := range []string{"- ", "+ ", "* "} {
		if rest, ok := strings.CutPrefix(line, p); ok {
			return strings.TrimSpace(rest)
		}
	}

	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i+1 < len(line) && (line[i] == '.' || line[i] == ')') && line[i+1] == ' ' {
		return strings.TrimSpace(line[i+2:])
	}

	return line
}

func endsSentence(s string) bool {
	switch s[len(s)-1] {
	case '.', '!', '?', ':', ';', ',':
		return true
	}
	return false
}
