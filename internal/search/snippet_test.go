package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnippet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		terms  []string
		length int
		want   string
	}{
		{
			name:   "centred window",
			text:   "the quick brown fox jumps",
			terms:  []string{"fox"},
			length: 10,
			want:   "rown <b>fox</b> j...",
		},
		{
			name:   "no match returns head without ellipsis",
			text:   "the quick brown fox jumps",
			terms:  []string{"cat"},
			length: 9,
			want:   "the quick",
		},
		{
			name:   "case preserved",
			text:   "Fox and FOX",
			terms:  []string{"fox"},
			length: 40,
			want:   "<b>Fox</b> and <b>FOX</b>...",
		},
		{
			name:   "earliest of several terms",
			text:   "собаки гоняют кота по двору",
			terms:  []string{"кот", "собак"},
			length: 12,
			want:   "<b>собак</b>и...",
		},
		{
			name:   "longest term wins on overlap",
			text:   "котенок",
			terms:  []string{"кот", "котенок"},
			length: 20,
			want:   "<b>котенок</b>...",
		},
		{
			name:   "yo matches ye",
			text:   "Новогодняя ёлка",
			terms:  []string{"елк"},
			length: 40,
			want:   "Новогодняя <b>ёлк</b>а...",
		},
		{
			name:   "capital yo in text and term",
			text:   "Ёлки и елки",
			terms:  []string{"Ёлк"},
			length: 40,
			want:   "<b>Ёлк</b>и и <b>елк</b>и...",
		},
		{
			name:   "markup in text is escaped",
			text:   "a<b fox",
			terms:  []string{"fox"},
			length: 20,
			want:   "a&lt;b <b>fox</b>...",
		},
		{
			name:   "short text",
			text:   "",
			terms:  []string{"fox"},
			length: 10,
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Snippet(tt.text, tt.terms, tt.length))
		})
	}
}
