package phoneme

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/example/go-voice-assistant/internal/text"
)

// Espeak phonemizes by running an espeak-ng compatible command that reads
// text on stdin and prints IPA on stdout.
type Espeak struct {
	cmd []string
}

// NewEspeak parses command with shell quoting rules. "--stdin" is appended
// when the command does not already name it.
func NewEspeak(command string) (*Espeak, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse espeak command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("espeak command empty")
	}

	hasStdin := false
	for _, a := range args[1:] {
		if a == "--stdin" {
			hasStdin = true
		}
	}
	if !hasStdin {
		args = append(args, "--stdin")
	}

	return &Espeak{cmd: args}, nil
}

// Command returns the resolved argv.
func (e *Espeak) Command() []string {
	return append([]string(nil), e.cmd...)
}

func (e *Espeak) Phonemize(ctx context.Context, input string) (Sequence, error) {
	normalized, err := text.Normalize(input)
	if err != nil {
		return Sequence{}, fmt.Errorf("%w: %w", ErrPhonemization, err)
	}

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = strings.NewReader(normalized)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Sequence{}, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		return Sequence{}, fmt.Errorf("%w: %s: %v (%s)", ErrPhonemization, e.cmd[0], err, msg)
	}

	seq := FromIPA(stdout.String())
	if seq.Len() == 0 {
		return Sequence{}, fmt.Errorf("%w: %s produced no phonemes for %q", ErrPhonemization, e.cmd[0], input)
	}

	return seq, nil
}
