package morphology

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnalyzeFunctionWords(t *testing.T) {
	t.Parallel()

	analyzer := NewSnowball()
	for _, word := range []string{"и", "в", "ой", "И", "and"} {
		got := analyzer.Analyze(word)
		require.True(t, got.FunctionWord, word)
		require.Len(t, got.NormalForms, 1)
	}
	for _, word := range []string{"не", "только", "даже", "уже", "вот"} {
		got := analyzer.Analyze(word)
		require.False(t, got.FunctionWord, word)
		require.NotEmpty(t, got.NormalForms, word)
	}

	pos, ok := analyzer.PartOfSpeech("через")
	require.True(t, ok)
	require.Equal(t, Preposition, pos)
	_, ok = analyzer.PartOfSpeech("собака")
	require.False(t, ok)
}

func TestAnalyzeSharesStemAcrossInflections(t *testing.T) {
	t.Parallel()

	analyzer := NewSnowball()
	first := analyzer.Analyze("собака")
	second := analyzer.Analyze("собаки")
	require.False(t, first.FunctionWord)
	require.NotEmpty(t, first.NormalForms)
	require.Equal(t, first.NormalForms, second.NormalForms)

	english := analyzer.Analyze("Running")
	require.Equal(t, []string{"run"}, english.NormalForms)
}

func TestAnalyzeRejectsNonWords(t *testing.T) {
	t.Parallel()

	analyzer := NewSnowball()
	for _, word := range []string{"", "   ", "123", "abcабв", "e-mail"} {
		require.Empty(t, analyzer.Analyze(word).NormalForms, word)
	}
}

func TestAnalyzeFoldsYo(t *testing.T) {
	t.Parallel()

	analyzer := NewSnowball()
	require.Equal(t, analyzer.Analyze("елка").NormalForms, analyzer.Analyze("ёлка").NormalForms)
}
