package lemma

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StripMarkup renders the visible text of an HTML document with whitespace
// collapsed. Script, style and noscript bodies are dropped.
func StripMarkup(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	var b strings.Builder
	collectText(doc.Selection, &b)
	return strings.Join(strings.Fields(b.String()), " ")
}

// Title returns the text of the first <title> element.
func Title(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}

func collectText(s *goquery.Selection, b *strings.Builder) {
	s.Contents().Each(func(_ int, node *goquery.Selection) {
		switch goquery.NodeName(node) {
		case "#text":
			b.WriteString(node.Text())
			b.WriteByte(' ')
		case "#comment", "script", "style", "noscript", "template":
		default:
			collectText(node, b)
		}
	})
}
