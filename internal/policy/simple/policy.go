// Package simple holds the crawl admission and politeness rules of a campaign.
package simple

import (
	"math/rand/v2"
	"time"

	"github.com/JakeFAU/site-search/internal/crawler"
)

// Scope admits links that live under one site root and may carry text.
type Scope struct {
	root string
}

// NewScope builds a Scope for a normalised root URL (trailing slash).
func NewScope(root string) Scope {
	return Scope{root: root}
}

// Root returns the site root.
func (s Scope) Root() string { return s.root }

// Admit returns the site-relative path of rawURL when it is in scope.
func (s Scope) Admit(rawURL string) (string, bool) {
	if rawURL == "" || crawler.HasSkippedExtension(rawURL) {
		return "", false
	}
	return crawler.RelativePath(rawURL, s.root)
}

// Delay yields a uniformly random pause in [Min, Max] before each fetch.
type Delay struct {
	Min time.Duration
	Max time.Duration
}

// Next returns the next pause.
func (d Delay) Next() time.Duration {
	if d.Max <= d.Min {
		return max(d.Min, 0)
	}
	return d.Min + rand.N(d.Max-d.Min+1)
}
