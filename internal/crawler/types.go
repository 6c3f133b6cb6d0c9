package crawler

import (
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"
)

// SiteStatus represents the lifecycle state of an indexed site.
type SiteStatus string

// Site status values persisted in the store.
const (
	SiteStatusIndexing SiteStatus = "INDEXING"
	SiteStatusIndexed  SiteStatus = "INDEXED"
	SiteStatusFailed   SiteStatus = "FAILED"
)

// Terminal reports whether the status can no longer change during a campaign.
func (s SiteStatus) Terminal() bool {
	return s == SiteStatusIndexed || s == SiteStatusFailed
}

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict signals a uniqueness violation (site URL, page path, posting pair).
	ErrConflict = errors.New("record already exists")
)

// SiteConfig names one site the operator wants crawled.
type SiteConfig struct {
	Name string `json:"name" mapstructure:"name"`
	URL  string `json:"url" mapstructure:"url"`
}

// Site is the root of one crawl campaign.
type Site struct {
	ID         int64      `json:"id"`
	URL        string     `json:"url"`
	Name       string     `json:"name"`
	Status     SiteStatus `json:"status"`
	StatusTime time.Time  `json:"status_time"`
	LastError  string     `json:"last_error,omitempty"`
}

// Page is one crawled document, addressed by its site-relative path.
type Page struct {
	ID      int64  `json:"id"`
	SiteID  int64  `json:"site_id"`
	Path    string `json:"path"`
	Code    int    `json:"code"`
	Content string `json:"-"`
}

// Lemma is a normal form counted per site. Frequency is the number of pages
// of the site that contain the lemma at least once.
type Lemma struct {
	ID         int64  `json:"id"`
	SiteID     int64  `json:"site_id"`
	NormalForm string `json:"lemma"`
	Frequency  int    `json:"frequency"`
}

// Posting is one row of the inverted index: how often a lemma occurs on a page.
type Posting struct {
	ID      int64   `json:"id"`
	PageID  int64   `json:"page_id"`
	LemmaID int64   `json:"lemma_id"`
	Rank    float64 `json:"rank"`
}

// Analysis is the morphology answer for a single word.
type Analysis struct {
	NormalForms  []string
	FunctionWord bool
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation. HTTP error
// codes are reported in StatusCode, not as an error.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
}

// IsHTML reports whether the response declared an HTML media type.
func (r FetchResponse) IsHTML() bool {
	if r.ContentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(r.ContentType, ";", 2)[0])
	}
	mediaType = strings.ToLower(mediaType)
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// CampaignEvent is published once a site's crawl campaign reaches a terminal status.
type CampaignEvent struct {
	CampaignID string     `json:"campaign_id"`
	SiteURL    string     `json:"site_url"`
	SiteName   string     `json:"site_name"`
	Status     SiteStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	Pages      int        `json:"pages"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}
