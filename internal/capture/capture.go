// Package capture supplies recognized utterances to the assistant.
package capture

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrCancelled is returned by Next once the source was stopped or ran dry.
var ErrCancelled = errors.New("capture cancelled")

// Utterance is one recognized piece of speech.
type Utterance struct {
	Text string
	At   time.Time
}

// Source yields utterances until the context ends or the source is done.
type Source interface {
	Next(ctx context.Context) (Utterance, error)
}

// Lines reads one utterance per non-empty line, e.g. from a speech
// recognizer piped to stdin.
type Lines struct {
	lines chan string
	errc  chan error
}

// NewLines starts reading r in the background.
func NewLines(r io.Reader) *Lines {
	l := &Lines{lines: make(chan string), errc: make(chan error, 1)}

	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			l.lines <- sc.Text()
		}
		l.errc <- sc.Err()
		close(l.lines)
	}()

	return l
}

func (l *Lines) Next(ctx context.Context) (Utterance, error) {
	for {
		select {
		case <-ctx.Done():
			return Utterance{}, errors.Join(ErrCancelled, ctx.Err())
		case line, ok := <-l.lines:
			if !ok {
				if err := <-l.errc; err != nil {
					return Utterance{}, err
				}
				return Utterance{}, ErrCancelled
			}

			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			return Utterance{Text: text, At: time.Now()}, nil
		}
	}
}

// Static replays a fixed list of utterances.
type Static struct {
	texts []string
}

func NewStatic(texts ...string) *Static {
	return &Static{texts: texts}
}

func (s *Static) Next(ctx context.Context) (Utterance, error) {
	if err := ctx.Err(); err != nil {
		return Utterance{}, errors.Join(ErrCancelled, err)
	}

	if len(s.texts) == 0 {
		return Utterance{}, ErrCancelled
	}

	text := s.texts[0]
	s.texts = s.texts[1:]

	return Utterance{Text: text, At: time.Now()}, nil
}
