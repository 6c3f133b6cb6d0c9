package crawler

import (
	"context"
	"time"
)

// SiteStore persists sites and their status transitions.
type SiteStore interface {
	CreateSite(ctx context.Context, site Site) (Site, error)
	SiteByURL(ctx context.Context, url string) (Site, error)
	SiteByID(ctx context.Context, id int64) (Site, error)
	ListSites(ctx context.Context) ([]Site, error)
	UpdateSiteStatus(ctx context.Context, id int64, status SiteStatus, lastError string, at time.Time) error
	// UpdateSiteStatusIf moves the site to status only while it is still in from.
	UpdateSiteStatusIf(ctx context.Context, id int64, from, to SiteStatus, lastError string, at time.Time) (bool, error)
	// TouchSite refreshes StatusTime while the site is INDEXING.
	TouchSite(ctx context.Context, id int64, at time.Time) error
	SetSiteError(ctx context.Context, id int64, lastError string, at time.Time) error
	// FailIndexingSites marks every INDEXING site FAILED and returns how many changed.
	FailIndexingSites(ctx context.Context, lastError string, at time.Time) (int, error)
	// DeleteSite removes the site with its pages, lemmas and postings.
	DeleteSite(ctx context.Context, id int64) error
}

// PageStore persists crawled pages.
type PageStore interface {
	SavePage(ctx context.Context, page Page) (Page, error)
	PageByPath(ctx context.Context, siteID int64, path string) (Page, error)
	PageByID(ctx context.Context, id int64) (Page, error)
	// DeletePage removes the page and its postings. Lemma frequencies are untouched.
	DeletePage(ctx context.Context, id int64) error
	CountPages(ctx context.Context) (int, error)
	CountPagesBySite(ctx context.Context, siteID int64) (int, error)
	CountPagesBySiteURL(ctx context.Context, url string) (int, error)
}

// LemmaStore maintains per-site lemma frequencies.
type LemmaStore interface {
	// IncrementLemma finds or creates the (site, normal form) row and adds one
	// to its frequency atomically.
	IncrementLemma(ctx context.Context, siteID int64, normalForm string) (Lemma, error)
	// DecrementLemma subtracts one and deletes the row once it reaches zero.
	DecrementLemma(ctx context.Context, lemmaID int64) error
	LemmasByPage(ctx context.Context, pageID int64) ([]Lemma, error)
	CountLemmas(ctx context.Context) (int, error)
	CountLemmasBySite(ctx context.Context, siteID int64) (int, error)
	// TotalFrequency sums the frequency of a normal form across all sites.
	TotalFrequency(ctx context.Context, normalForm string) (int, error)
}

// IndexStore persists and queries postings.
type IndexStore interface {
	SavePosting(ctx context.Context, posting Posting) error
	// PageIDsByLemma lists pages containing the normal form; siteID 0 means all sites.
	PageIDsByLemma(ctx context.Context, normalForm string, siteID int64) ([]int64, error)
	RankByPageAndLemma(ctx context.Context, pageID int64, normalForm string) (float64, error)
}

// Store is the full storage port consumed by the core.
type Store interface {
	SiteStore
	PageStore
	LemmaStore
	IndexStore
	Close() error
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Analyzer maps a raw word to its normal forms.
type Analyzer interface {
	Analyze(word string) Analysis
}

// PageIndexer turns a fetched page into stored postings.
type PageIndexer interface {
	IndexPage(ctx context.Context, site Site, path string, code int, html string) (Page, error)
}

// Limiter throttles outbound requests for a campaign.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces campaign IDs.
type IDGenerator interface {
	NewID() (string, error)
}
