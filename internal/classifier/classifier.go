package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/MimeLyc/sairing/internal/prompt"
)

// Completer is a text-in/text-out model call.
type Completer interface {
	Complete(ctx context.Context, instruction, text string) (string, error)
}

type Verdict int

const (
	// Relevant content carries a claim; the transcript is analyzed as is.
	Relevant Verdict = iota
	// Irrelevant content is casual; frames are read instead.
	Irrelevant
)

func (v Verdict) String() string {
	if v == Irrelevant {
		return "NO"
	}
	return "YES"
}

// Classifier labels a transcript as newsworthy or casual with one model call.
type Classifier struct {
	completer   Completer
	instruction string
}

func New(completer Completer) *Classifier {
	return &Classifier{completer: completer, instruction: prompt.Relevance}
}

// Ask returns the raw model answer for text.
func (c *Classifier) Ask(ctx context.Context, text string) (string, error) {
	answer, err := c.completer.Complete(ctx, c.instruction, text)
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	return answer, nil
}

// Decide maps a raw answer to a verdict. Only an exact "NO" after trimming
// whitespace is Irrelevant; anything else, including "no" or an empty
// answer, is Relevant.
func Decide(answer string) Verdict {
	if strings.TrimSpace(answer) == "NO" {
		return Irrelevant
	}
	return Relevant
}
