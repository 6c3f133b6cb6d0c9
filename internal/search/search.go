// Package search answers free-text queries against the lemma index.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-search/internal/crawler"
	"github.com/JakeFAU/site-search/internal/lemma"
	"github.com/JakeFAU/site-search/internal/metrics"
)

// Config tunes ranking and presentation.
type Config struct {
	// MaxLemmaShare drops query lemmas found on more than this share of pages.
	MaxLemmaShare float64
	SnippetLength int
	DefaultLimit  int
}

// Query is one search request. Site optionally restricts results to one root URL.
type Query struct {
	Text   string
	Site   string
	Offset int
	Limit  int
}

// Item is one ranked page.
type Item struct {
	Site      string  `json:"site"`
	SiteName  string  `json:"siteName"`
	URI       string  `json:"uri"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance"`
}

// Result is one page of ranked items plus the number of all matches.
type Result struct {
	Items []Item `json:"data"`
	Total int    `json:"count"`
}

// Engine runs queries.
type Engine struct {
	store     crawler.Store
	extractor *lemma.Extractor
	cfg       Config
	logger    *zap.Logger
}

// New creates an Engine.
func New(store crawler.Store, extractor *lemma.Extractor, cfg Config, logger *zap.Logger) *Engine {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	if cfg.SnippetLength <= 0 {
		cfg.SnippetLength = 200
	}
	if cfg.MaxLemmaShare <= 0 || cfg.MaxLemmaShare > 1 {
		cfg.MaxLemmaShare = 0.8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, extractor: extractor, cfg: cfg, logger: logger.Named("search")}
}

type scored struct {
	pageID    int64
	relevance float64
}

// Search returns the ranked page window described by q.
func (e *Engine) Search(ctx context.Context, q Query) (result Result, err error) {
	start := time.Now()
	defer func() {
		outcome := "hit"
		switch {
		case err != nil:
			outcome = "error"
		case result.Total == 0:
			outcome = "empty"
		}
		metrics.ObserveSearch(outcome, time.Since(start))
	}()

	empty := Result{Items: []Item{}}
	terms := e.extractor.Lemmas(q.Text)
	if len(terms) == 0 {
		return empty, nil
	}

	siteID, totalPages, known, err := e.scope(ctx, q.Site)
	if err != nil {
		return Result{}, err
	}
	if !known {
		e.logger.Debug("query restricted to a site that is not indexed", zap.String("site", q.Site))
		return empty, nil
	}
	terms, err = e.filterTerms(ctx, terms, totalPages)
	if err != nil {
		return Result{}, err
	}
	if len(terms) == 0 {
		return empty, nil
	}

	candidates, err := e.intersect(ctx, terms, siteID)
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return empty, nil
	}

	ranked, err := e.rank(ctx, candidates, terms)
	if err != nil {
		return Result{}, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	offset := max(q.Offset, 0)
	result = Result{Items: []Item{}, Total: len(ranked)}
	if offset >= len(ranked) {
		return result, nil
	}
	window := ranked[offset:min(offset+limit, len(ranked))]

	sites := make(map[int64]crawler.Site)
	for _, s := range window {
		item, err := e.item(ctx, s, terms, sites)
		if err != nil {
			return Result{}, err
		}
		result.Items = append(result.Items, item)
	}
	e.logger.Debug("query answered",
		zap.String("query", q.Text),
		zap.Strings("lemmas", terms),
		zap.Int("total", result.Total),
	)
	return result, nil
}

// scope resolves the optional site restriction and the page count the
// frequency threshold is computed from. known is false when the query names
// a site that is not in the index.
func (e *Engine) scope(ctx context.Context, rawSite string) (siteID int64, totalPages int, known bool, err error) {
	if strings.TrimSpace(rawSite) == "" {
		total, err := e.store.CountPages(ctx)
		if err != nil {
			return 0, 0, false, fmt.Errorf("count pages: %w", err)
		}
		return 0, total, true, nil
	}
	root, err := crawler.NormalizeRootURL(rawSite)
	if err != nil {
		return 0, 0, false, nil
	}
	site, err := e.store.SiteByURL(ctx, root)
	if errors.Is(err, crawler.ErrNotFound) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("find site: %w", err)
	}
	total, err := e.store.CountPagesBySiteURL(ctx, root)
	if err != nil {
		return 0, 0, false, fmt.Errorf("count site pages: %w", err)
	}
	return site.ID, total, true, nil
}

// filterTerms drops lemmas that are unknown or whose total frequency across
// all sites exceeds the threshold, and orders the rest from rarest to most
// frequent.
func (e *Engine) filterTerms(ctx context.Context, terms []string, totalPages int) ([]string, error) {
	threshold := max(1, int(math.Round(float64(totalPages)*e.cfg.MaxLemmaShare)))
	type termFreq struct {
		term string
		freq int
	}
	kept := make([]termFreq, 0, len(terms))
	for _, term := range terms {
		freq, err := e.store.TotalFrequency(ctx, term)
		if err != nil {
			return nil, fmt.Errorf("lemma frequency: %w", err)
		}
		if freq > 0 && freq <= threshold {
			kept = append(kept, termFreq{term: term, freq: freq})
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].freq < kept[j].freq })
	out := make([]string, len(kept))
	for i, k := range kept {
		out[i] = k.term
	}
	return out, nil
}

func (e *Engine) intersect(ctx context.Context, terms []string, siteID int64) ([]int64, error) {
	var current map[int64]struct{}
	for _, term := range terms {
		ids, err := e.store.PageIDsByLemma(ctx, term, siteID)
		if err != nil {
			return nil, fmt.Errorf("pages by lemma: %w", err)
		}
		next := make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			if current == nil {
				next[id] = struct{}{}
				continue
			}
			if _, ok := current[id]; ok {
				next[id] = struct{}{}
			}
		}
		current = next
		if len(current) == 0 {
			return nil, nil
		}
	}
	out := make([]int64, 0, len(current))
	for id := range current {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// rank sums the posting ranks per page, normalises by the best page and
// sorts by relevance (ties by page id).
func (e *Engine) rank(ctx context.Context, pageIDs []int64, terms []string) ([]scored, error) {
	out := make([]scored, 0, len(pageIDs))
	best := 0.0
	for _, id := range pageIDs {
		abs := 0.0
		for _, term := range terms {
			rank, err := e.store.RankByPageAndLemma(ctx, id, term)
			if err != nil && !errors.Is(err, crawler.ErrNotFound) {
				return nil, fmt.Errorf("posting rank: %w", err)
			}
			abs += rank
		}
		best = max(best, abs)
		out = append(out, scored{pageID: id, relevance: abs})
	}
	if best > 0 {
		for i := range out {
			out[i].relevance /= best
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].relevance > out[j].relevance })
	return out, nil
}

func (e *Engine) item(ctx context.Context, s scored, terms []string, sites map[int64]crawler.Site) (Item, error) {
	page, err := e.store.PageByID(ctx, s.pageID)
	if err != nil {
		return Item{}, fmt.Errorf("load page %d: %w", s.pageID, err)
	}
	site, ok := sites[page.SiteID]
	if !ok {
		site, err = e.store.SiteByID(ctx, page.SiteID)
		if err != nil {
			return Item{}, fmt.Errorf("load site %d: %w", page.SiteID, err)
		}
		sites[page.SiteID] = site
	}
	return Item{
		Site:      strings.TrimSuffix(site.URL, "/"),
		SiteName:  site.Name,
		URI:       page.Path,
		Title:     lemma.Title(page.Content),
		Snippet:   Snippet(lemma.StripMarkup(page.Content), terms, e.cfg.SnippetLength),
		Relevance: s.relevance,
	}, nil
}
