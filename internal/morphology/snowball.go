// Package morphology adapts the Snowball stemmers to the crawler.Analyzer port.
// A word's normal form is its stem; function words are recognised from a
// fixed dictionary so the extractor can drop them.
package morphology

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball"

	"github.com/JakeFAU/site-search/internal/crawler"
)

// PartOfSpeech tags the function-word classes the extractor discards.
type PartOfSpeech string

// Function-word classes.
const (
	Interjection PartOfSpeech = "INTJ"
	Preposition  PartOfSpeech = "PREP"
	Conjunction  PartOfSpeech = "CONJ"
)

// Snowball implements crawler.Analyzer. It is safe for concurrent use.
type Snowball struct {
	functionWords map[string]PartOfSpeech
}

// NewSnowball returns an analyzer backed by the built-in function-word dictionary.
func NewSnowball() *Snowball {
	return &Snowball{functionWords: defaultFunctionWords()}
}

// Analyze returns the normal form of word, or no forms when the word is not
// made of letters of a supported alphabet.
func (s *Snowball) Analyze(word string) crawler.Analysis {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return crawler.Analysis{}
	}
	word = strings.ReplaceAll(word, "ё", "е")
	if _, ok := s.functionWords[word]; ok {
		return crawler.Analysis{NormalForms: []string{word}, FunctionWord: true}
	}
	language := detectLanguage(word)
	if language == "" {
		return crawler.Analysis{}
	}
	stem, err := snowball.Stem(word, language, true)
	if err != nil || stem == "" {
		return crawler.Analysis{}
	}
	return crawler.Analysis{NormalForms: []string{stem}}
}

// PartOfSpeech reports the function-word class of word, if any.
func (s *Snowball) PartOfSpeech(word string) (PartOfSpeech, bool) {
	word = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(word)), "ё", "е")
	pos, ok := s.functionWords[word]
	return pos, ok
}

// detectLanguage picks the stemmer for a single-script word.
func detectLanguage(word string) string {
	var cyrillic, latin bool
	for _, r := range word {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic = true
		case r <= unicode.MaxASCII && unicode.IsLetter(r):
			latin = true
		default:
			return ""
		}
	}
	switch {
	case cyrillic && !latin:
		return "russian"
	case latin && !cyrillic:
		return "english"
	default:
		return ""
	}
}
