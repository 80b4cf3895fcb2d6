package text

import "strings"

// ChunkBySentence groups whole sentences into chunks of at most maxChars
// bytes. A sentence longer than maxChars becomes a chunk of its own. With
// maxChars <= 0 the text is returned as a single chunk.
func ChunkBySentence(text string, maxChars int) []string {
	if maxChars <= 0 {
		return []string{text}
	}

	sentences := Sentences(text)
	if len(sentences) <= 1 {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder

	for _, s := range sentences {
		if cur.Len() > 0 && cur.Len()+1+len(s) > maxChars {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(s)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}

	return chunks
}

// Sentences splits text after '.', '!' or '?' when the terminator is
// followed by whitespace or the end of input, so "3.5" and "e.g" stay
// whole. Runs of terminators ("?!", "...") stay with their sentence.
func Sentences(text string) []string {
	var out []string
	start := 0

	for i := 0; i < len(text); i++ {
		if !isTerminator(text[i]) {
			continue
		}
		for i+1 < len(text) && isTerminator(text[i+1]) {
			i++
		}
		if i+1 < len(text) && !isSpace(text[i+1]) {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}

	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}

	return out
}

func isTerminator(b byte) bool { return b == '.' || b == '!' || b == '?' }

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' }
