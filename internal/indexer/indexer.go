// Package indexer turns fetched pages into stored pages, lemma frequencies and
// postings, and re-indexes single pages on demand.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-search/internal/crawler"
	"github.com/JakeFAU/site-search/internal/lemma"
	"github.com/JakeFAU/site-search/internal/metrics"
)

// ErrOutOfScope is returned by ReindexPage for URLs outside every configured site.
var ErrOutOfScope = errors.New("page is outside the configured sites")

// Indexer writes pages into the index.
type Indexer struct {
	store     crawler.Store
	extractor *lemma.Extractor
	fetcher   crawler.Fetcher
	sites     []crawler.SiteConfig
	clock     crawler.Clock
	logger    *zap.Logger
}

var _ crawler.PageIndexer = (*Indexer)(nil)

// New constructs an Indexer. sites must carry normalised root URLs; fetcher
// is only used by ReindexPage.
func New(
	store crawler.Store,
	extractor *lemma.Extractor,
	fetcher crawler.Fetcher,
	sites []crawler.SiteConfig,
	clock crawler.Clock,
	logger *zap.Logger,
) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		store:     store,
		extractor: extractor,
		fetcher:   fetcher,
		sites:     sites,
		clock:     clock,
		logger:    logger.Named("indexer"),
	}
}

// IndexPage persists the page and, when it carries content, one lemma
// increment and one posting per distinct normal form. Content is dropped for
// status codes of 400 and above.
func (ix *Indexer) IndexPage(
	ctx context.Context,
	site crawler.Site,
	path string,
	code int,
	html string,
) (crawler.Page, error) {
	content := html
	if code >= 400 {
		content = ""
	}
	page, err := ix.store.SavePage(ctx, crawler.Page{SiteID: site.ID, Path: path, Code: code, Content: content})
	if err != nil {
		return crawler.Page{}, fmt.Errorf("save page: %w", err)
	}
	metrics.ObservePage(site.URL, code, len(html))
	if content == "" {
		return page, nil
	}

	counts := ix.extractor.Extract(lemma.StripMarkup(content))
	forms := make([]string, 0, len(counts))
	for form := range counts {
		forms = append(forms, form)
	}
	sort.Strings(forms)

	for _, form := range forms {
		row, err := ix.store.IncrementLemma(ctx, site.ID, form)
		if err != nil {
			return page, fmt.Errorf("increment lemma: %w", err)
		}
		posting := crawler.Posting{PageID: page.ID, LemmaID: row.ID, Rank: float64(counts[form])}
		if err := ix.store.SavePosting(ctx, posting); err != nil {
			return page, fmt.Errorf("save posting: %w", err)
		}
	}
	metrics.ObserveLemmas(site.URL, len(forms))
	ix.logger.Debug("page indexed",
		zap.String("site", site.URL),
		zap.String("path", path),
		zap.Int("code", code),
		zap.Int("lemmas", len(forms)),
	)
	return page, nil
}

// RemovePage takes back a stored page's contribution: every lemma it carries
// loses one frequency point (and disappears at zero), then the page and its
// postings are deleted. A missing page is not an error.
func (ix *Indexer) RemovePage(ctx context.Context, siteID int64, path string) error {
	page, err := ix.store.PageByPath(ctx, siteID, path)
	if errors.Is(err, crawler.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find page: %w", err)
	}
	lemmas, err := ix.store.LemmasByPage(ctx, page.ID)
	if err != nil {
		return fmt.Errorf("list page lemmas: %w", err)
	}
	for _, l := range lemmas {
		if err := ix.store.DecrementLemma(ctx, l.ID); err != nil && !errors.Is(err, crawler.ErrNotFound) {
			return fmt.Errorf("decrement lemma %q: %w", l.NormalForm, err)
		}
	}
	if err := ix.store.DeletePage(ctx, page.ID); err != nil && !errors.Is(err, crawler.ErrNotFound) {
		return fmt.Errorf("delete page: %w", err)
	}
	return nil
}

// ReindexPage fetches one URL of a configured site and replaces its stored
// page. The site row is created (INDEXED) when it was never crawled.
func (ix *Indexer) ReindexPage(ctx context.Context, rawURL string) (crawler.Page, error) {
	pageURL, err := normalizePageURL(rawURL)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("%w: %v", ErrOutOfScope, err)
	}
	cfg, path, ok := ix.siteFor(pageURL)
	if !ok {
		return crawler.Page{}, ErrOutOfScope
	}
	logger := ix.logger.With(zap.String("site", cfg.URL), zap.String("path", path))

	site, err := ix.ensureSite(ctx, cfg)
	if err != nil {
		return crawler.Page{}, err
	}

	resp, err := ix.fetcher.Fetch(ctx, crawler.FetchRequest{URL: pageURL})
	if err != nil {
		if serr := ix.store.SetSiteError(ctx, site.ID, "crawl error: "+err.Error(), ix.clock.Now()); serr != nil {
			logger.Warn("record site error failed", zap.Error(serr))
		}
		return crawler.Page{}, fmt.Errorf("fetch page: %w", err)
	}
	html := ""
	if resp.StatusCode < 400 && resp.IsHTML() {
		html = string(resp.Body)
	}

	if err := ix.RemovePage(ctx, site.ID, path); err != nil {
		return crawler.Page{}, err
	}
	page, err := ix.IndexPage(ctx, site, path, resp.StatusCode, html)
	if err != nil {
		return crawler.Page{}, err
	}
	logger.Info("page reindexed", zap.Int("code", resp.StatusCode), zap.Int64("page_id", page.ID))
	return page, nil
}

func (ix *Indexer) ensureSite(ctx context.Context, cfg crawler.SiteConfig) (crawler.Site, error) {
	site, err := ix.store.SiteByURL(ctx, cfg.URL)
	if err == nil {
		return site, nil
	}
	if !errors.Is(err, crawler.ErrNotFound) {
		return crawler.Site{}, fmt.Errorf("find site: %w", err)
	}
	site, err = ix.store.CreateSite(ctx, crawler.Site{
		URL:        cfg.URL,
		Name:       cfg.Name,
		Status:     crawler.SiteStatusIndexed,
		StatusTime: ix.clock.Now(),
	})
	if errors.Is(err, crawler.ErrConflict) {
		// Created concurrently by a crawl start.
		return ix.store.SiteByURL(ctx, cfg.URL)
	}
	if err != nil {
		return crawler.Site{}, fmt.Errorf("create site: %w", err)
	}
	return site, nil
}

func (ix *Indexer) siteFor(pageURL string) (crawler.SiteConfig, string, bool) {
	for _, cfg := range ix.sites {
		if path, ok := crawler.RelativePath(pageURL, cfg.URL); ok {
			return cfg, path, true
		}
	}
	return crawler.SiteConfig{}, "", false
}

func normalizePageURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("url %q is not an absolute http(s) url", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
