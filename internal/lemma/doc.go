// Package lemma turns page text into normal-form frequency maps and renders
// HTML documents into the plain text the indexer and search snippets use.
package lemma
