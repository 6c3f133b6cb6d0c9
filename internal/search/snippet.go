package search

import (
	"html"
	"strings"
	"unicode"
)

// Snippet cuts a fragment of at most length runes from text around the
// earliest case- and ё-insensitive occurrence of any of terms and wraps every
// occurrence inside the fragment in <b></b>. Without a match it returns the
// head of the text; with one it appends "...". Text outside the highlights
// is HTML-escaped.
func Snippet(text string, terms []string, length int) string {
	runes := []rune(text)
	lower := make([]rune, len(runes))
	for i, r := range runes {
		lower[i] = fold(r)
	}
	needles := make([][]rune, 0, len(terms))
	for _, term := range terms {
		if term = strings.TrimSpace(term); term != "" {
			needle := []rune(term)
			for i, r := range needle {
				needle[i] = fold(r)
			}
			needles = append(needles, needle)
		}
	}

	first := -1
	for _, needle := range needles {
		if idx := indexRunes(lower, needle); idx >= 0 && (first < 0 || idx < first) {
			first = idx
		}
	}

	if first < 0 {
		end := min(length, len(runes))
		return highlight(runes[:end], lower[:end], needles)
	}
	radius := length / 2
	start := max(0, first-radius)
	end := min(len(runes), first+radius)
	return highlight(runes[start:end], lower[start:end], needles) + "..."
}

// fold lowercases r and maps ё to е, one rune for one rune.
func fold(r rune) rune {
	r = unicode.ToLower(r)
	if r == 'ё' {
		return 'е'
	}
	return r
}

func highlight(runes, lower []rune, needles [][]rune) string {
	var b strings.Builder
	plainFrom := 0
	for i := 0; i < len(runes); {
		n := longestMatch(lower, i, needles)
		if n == 0 {
			i++
			continue
		}
		b.WriteString(html.EscapeString(string(runes[plainFrom:i])))
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(string(runes[i : i+n])))
		b.WriteString("</b>")
		i += n
		plainFrom = i
	}
	b.WriteString(html.EscapeString(string(runes[plainFrom:])))
	return b.String()
}

func longestMatch(hay []rune, at int, needles [][]rune) int {
	best := 0
	for _, needle := range needles {
		if len(needle) > best && hasPrefixAt(hay, needle, at) {
			best = len(needle)
		}
	}
	return best
}

func indexRunes(hay, needle []rune) int {
	for i := 0; i+len(needle) <= len(hay); i++ {
		if hasPrefixAt(hay, needle, i) {
			return i
		}
	}
	return -1
}

func hasPrefixAt(hay, needle []rune, at int) bool {
	if len(needle) == 0 || at+len(needle) > len(hay) {
		return false
	}
	for j, r := range needle {
		if hay[at+j] != r {
			return false
		}
	}
	return true
}
