package judge_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kiranshivaraju/tutoreval/internal/engine/judge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"ascii", "abcdef", 3, "abc"},
		{"backs off mid rune", "aé", 2, "a"},
		{"keeps whole rune", "aéb", 3, "aé"},
		{"zero", "abc", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := judge.Truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestReadBody(t *testing.T) {
	raw, err := judge.ReadBody(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(raw))

	raw, err = judge.ReadBody(strings.NewReader(strings.Repeat("x", judge.MaxResponseBytes)))
	require.NoError(t, err)
	assert.Len(t, raw, judge.MaxResponseBytes)

	_, err = judge.ReadBody(strings.NewReader(strings.Repeat("x", judge.MaxResponseBytes+1)))
	assert.ErrorIs(t, err, judge.ErrInvalidResponse)
}
