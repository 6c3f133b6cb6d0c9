package lemma

import (
	"strings"
	"unicode"

	"github.com/JakeFAU/site-search/internal/crawler"
)

// Extractor counts the normal forms of the content words of a text.
type Extractor struct {
	analyzer crawler.Analyzer
}

// NewExtractor wires an Extractor to a morphology analyzer.
func NewExtractor(analyzer crawler.Analyzer) *Extractor {
	return &Extractor{analyzer: analyzer}
}

// Extract maps each normal form found in text to its number of occurrences.
// Function words and tokens the analyzer cannot resolve are skipped.
func (e *Extractor) Extract(text string) map[string]int {
	counts := make(map[string]int)
	for _, token := range Tokenize(text) {
		if form, ok := e.normalForm(token); ok {
			counts[form]++
		}
	}
	return counts
}

// Lemmas returns the distinct normal forms of text in order of first appearance.
func (e *Extractor) Lemmas(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, token := range Tokenize(text) {
		form, ok := e.normalForm(token)
		if !ok {
			continue
		}
		if _, dup := seen[form]; dup {
			continue
		}
		seen[form] = struct{}{}
		out = append(out, form)
	}
	return out
}

func (e *Extractor) normalForm(token string) (string, bool) {
	analysis := e.analyzer.Analyze(token)
	if analysis.FunctionWord || len(analysis.NormalForms) == 0 {
		return "", false
	}
	return analysis.NormalForms[0], true
}

// Tokenize lowercases text, replaces every rune that is neither a Cyrillic
// letter nor whitespace with a space and splits on whitespace.
func Tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if isCyrillicLetter(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, strings.ToLower(text))
	return strings.Fields(cleaned)
}

func isCyrillicLetter(r rune) bool {
	return (r >= 'а' && r <= 'я') || r == 'ё'
}
