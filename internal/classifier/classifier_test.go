package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/MimeLyc/sairing/internal/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	answer      string
	err         error
	instruction string
	text        string
}

func (s *stubCompleter) Complete(_ context.Context, instruction, text string) (string, error) {
	s.instruction, s.text = instruction, text
	return s.answer, s.err
}

func TestDecide(t *testing.T) {
	tests := []struct {
		answer string
		want   Verdict
	}{
		{answer: "NO", want: Irrelevant},
		{answer: "  NO\n", want: Irrelevant},
		{answer: "no", want: Relevant},
		{answer: "No", want: Relevant},
		{answer: "NO.", want: Relevant},
		{answer: "YES", want: Relevant},
		{answer: "", want: Relevant},
		{answer: "maybe", want: Relevant},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.answer))
		})
	}
}

func TestClassifierAsk(t *testing.T) {
	stub := &stubCompleter{answer: "YES"}
	c := New(stub)

	answer, err := c.Ask(context.Background(), "A\n\nB\n\n")
	require.NoError(t, err)
	assert.Equal(t, "YES", answer)
	assert.Equal(t, prompt.Relevance, stub.instruction)
	assert.Equal(t, "A\n\nB\n\n", stub.text)
}

func TestClassifierAskError(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(&stubCompleter{err: boom}).Ask(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "NO", Irrelevant.String())
	assert.Equal(t, "YES", Relevant.String())
}
