// Package worker runs crawl campaigns: one bounded pool of workers per site
// draining a shared frontier until no work is left or the campaign is stopped.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-search/internal/crawler"
	"github.com/JakeFAU/site-search/internal/metrics"
	"github.com/JakeFAU/site-search/internal/policy/simple"
	"github.com/JakeFAU/site-search/internal/queue/memory"
)

// Config controls a campaign.
type Config struct {
	Concurrency int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	// MaxPages caps admitted URLs; 0 means unlimited.
	MaxPages int
	Retry    simple.Retry
}

// Stats are campaign counters.
type Stats struct {
	Visited   int64 `json:"visited"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// Campaign crawls one site.
type Campaign struct {
	site    crawler.Site
	store   crawler.Store
	fetcher crawler.Fetcher
	indexer crawler.PageIndexer
	limiter crawler.Limiter
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger

	scope    simple.Scope
	delay    simple.Delay
	visited  cmap.ConcurrentMap[string, struct{}]
	frontier *memory.Frontier

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	halt     context.CancelFunc

	fatalMu sync.Mutex
	fatal   error

	visitedCount   atomic.Int64
	processedCount atomic.Int64
	failedCount    atomic.Int64

	sleep func(context.Context, time.Duration) error
}

// New prepares a campaign for site. limiter may be nil.
func New(
	site crawler.Site,
	store crawler.Store,
	fetcher crawler.Fetcher,
	indexer crawler.PageIndexer,
	limiter crawler.Limiter,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Campaign {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Campaign{
		site:     site,
		store:    store,
		fetcher:  fetcher,
		indexer:  indexer,
		limiter:  limiter,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("worker").With(zap.String("site", site.URL), zap.Int64("site_id", site.ID)),
		scope:    simple.NewScope(site.URL),
		delay:    simple.Delay{Min: cfg.MinDelay, Max: cfg.MaxDelay},
		visited:  cmap.New[struct{}](),
		frontier: memory.NewFrontier(),
		stopCh:   make(chan struct{}),
		sleep:    sleepContext,
	}
}

// Site returns the site being crawled.
func (c *Campaign) Site() crawler.Site { return c.site }

// Stats returns a snapshot of the counters.
func (c *Campaign) Stats() Stats {
	return Stats{
		Visited:   c.visitedCount.Load(),
		Processed: c.processedCount.Load(),
		Failed:    c.failedCount.Load(),
	}
}

// Stop asks the campaign to finish as soon as possible. Pages already stored
// are kept. Safe to call more than once and before Run.
func (c *Campaign) Stop() {
	c.stopped.Store(true)
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Stopped reports whether Stop was called.
func (c *Campaign) Stopped() bool { return c.stopped.Load() }

// Run crawls the site from its root and blocks until the frontier drains,
// the campaign is stopped, or ctx ends. It returns the terminal status it wrote.
func (c *Campaign) Run(ctx context.Context) (crawler.SiteStatus, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.halt = cancel

	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	c.logger.Info("campaign started", zap.Int("concurrency", c.cfg.Concurrency))
	c.admit(c.scope.Root())

	var wg sync.WaitGroup
	for i := range c.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runWorker(runCtx, i)
		}()
	}
	wg.Wait()
	c.frontier.Close()

	return c.finish(ctx)
}

func (c *Campaign) runWorker(ctx context.Context, id int) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	logger := c.logger.With(zap.Int("worker", id))

	for {
		pageURL, err := c.frontier.Pop(ctx)
		if err != nil {
			if !errors.Is(err, memory.ErrDrained) && !errors.Is(err, memory.ErrClosed) && ctx.Err() == nil {
				logger.Warn("frontier pop failed", zap.Error(err))
			}
			return
		}
		c.safeProcess(ctx, logger, pageURL)
	}
}

// safeProcess marks the item done even when processing panics; a panic
// aborts the whole campaign.
func (c *Campaign) safeProcess(ctx context.Context, logger *zap.Logger, pageURL string) {
	defer c.frontier.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic", zap.Any("panic", r), zap.String("url", pageURL))
			c.abort(fmt.Errorf("worker panic on %s: %v", pageURL, r))
		}
	}()
	c.process(ctx, logger, pageURL)
}

func (c *Campaign) process(ctx context.Context, logger *zap.Logger, pageURL string) {
	if c.stopped.Load() || ctx.Err() != nil {
		return
	}
	path, ok := crawler.RelativePath(pageURL, c.site.URL)
	if !ok {
		return
	}
	if err := c.sleep(ctx, c.delay.Next()); err != nil {
		return
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, pageURL); err != nil {
			return
		}
	}

	resp, err := c.fetch(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.recordFailure(ctx, logger, pageURL, err)
		return
	}

	html := ""
	if resp.StatusCode < 400 && resp.IsHTML() {
		html = string(resp.Body)
	}
	if _, err := c.indexer.IndexPage(ctx, c.site, path, resp.StatusCode, html); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.recordFailure(ctx, logger, pageURL, err)
		return
	}
	c.processedCount.Add(1)
	logger.Debug("page stored", zap.String("path", path), zap.Int("code", resp.StatusCode))

	if err := c.store.TouchSite(ctx, c.site.ID, c.clock.Now()); err != nil && ctx.Err() == nil {
		logger.Warn("touch site failed", zap.Error(err))
	}

	// Children are admitted only after the parent is stored.
	if html == "" {
		return
	}
	base := resp.URL
	if base == "" {
		base = pageURL
	}
	for _, link := range extractLinks(base, html) {
		c.admit(link)
	}
}

func (c *Campaign) fetch(ctx context.Context, pageURL string) (crawler.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := c.fetcher.Fetch(ctx, crawler.FetchRequest{URL: pageURL})
		if err == nil {
			return resp, nil
		}
		if !c.cfg.Retry.ShouldRetry(err, attempt) {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", pageURL, err)
		}
		c.logger.Debug("retrying fetch", zap.String("url", pageURL), zap.Int("attempt", attempt), zap.Error(err))
		if serr := c.sleep(ctx, c.cfg.Retry.Backoff(attempt-1)); serr != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", pageURL, err)
		}
	}
}

// admit queues rawURL when it is in scope, below the page cap and not seen before.
func (c *Campaign) admit(rawURL string) bool {
	if c.stopped.Load() {
		return false
	}
	path, ok := c.scope.Admit(rawURL)
	if !ok {
		return false
	}
	if !c.visited.SetIfAbsent(path, struct{}{}) {
		return false
	}
	if n := c.visitedCount.Add(1); c.cfg.MaxPages > 0 && n > int64(c.cfg.MaxPages) {
		c.visitedCount.Add(-1)
		return false
	}
	return c.frontier.Push(c.site.URL + strings.TrimPrefix(path, "/"))
}

func (c *Campaign) recordFailure(ctx context.Context, logger *zap.Logger, pageURL string, err error) {
	c.failedCount.Add(1)
	logger.Warn("page failed", zap.String("url", pageURL), zap.Error(err))
	msg := fmt.Sprintf("crawl error: %v", err)
	if serr := c.store.SetSiteError(ctx, c.site.ID, msg, c.clock.Now()); serr != nil && ctx.Err() == nil {
		c.abort(fmt.Errorf("record site error: %w", serr))
	}
}

// abort stops the campaign because of an unrecoverable failure.
func (c *Campaign) abort(err error) {
	c.fatalMu.Lock()
	if c.fatal == nil {
		c.fatal = err
	}
	c.fatalMu.Unlock()
	c.frontier.Close()
	if c.halt != nil {
		c.halt()
	}
}

func (c *Campaign) fatalErr() error {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	return c.fatal
}

// finish writes the terminal status. A user stop leaves the status to
// whoever stopped the campaign; otherwise INDEXING becomes INDEXED, or
// FAILED after a fatal error or a cancelled parent context.
func (c *Campaign) finish(ctx context.Context) (crawler.SiteStatus, error) {
	writeCtx := context.WithoutCancel(ctx)
	stats := c.Stats()
	logger := c.logger.With(
		zap.Int64("visited", stats.Visited),
		zap.Int64("processed", stats.Processed),
		zap.Int64("failed", stats.Failed),
	)

	if c.stopped.Load() {
		logger.Info("campaign stopped")
		return c.currentStatus(writeCtx)
	}

	to, lastError := crawler.SiteStatusIndexed, ""
	fatal := c.fatalErr()
	switch {
	case fatal != nil:
		to, lastError = crawler.SiteStatusFailed, fatal.Error()
	case ctx.Err() != nil:
		to, lastError = crawler.SiteStatusFailed, "indexing interrupted: "+ctx.Err().Error()
	default:
		site, err := c.store.SiteByID(writeCtx, c.site.ID)
		if err != nil {
			return "", fmt.Errorf("load site: %w", err)
		}
		lastError = site.LastError
	}

	changed, err := c.store.UpdateSiteStatusIf(writeCtx, c.site.ID, crawler.SiteStatusIndexing, to, lastError, c.clock.Now())
	if err != nil {
		return "", fmt.Errorf("finish campaign: %w", err)
	}
	if !changed {
		// Someone else already moved the site on (a concurrent stop).
		return c.currentStatus(writeCtx)
	}
	logger.Info("campaign finished", zap.String("status", string(to)))
	if fatal != nil {
		return to, fatal
	}
	return to, nil
}

func (c *Campaign) currentStatus(ctx context.Context) (crawler.SiteStatus, error) {
	site, err := c.store.SiteByID(ctx, c.site.ID)
	if err != nil {
		return "", fmt.Errorf("load site: %w", err)
	}
	return site.Status, nil
}

func extractLinks(base, html string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved := crawler.ResolveLink(baseURL, href); resolved != "" {
			if u, err := url.Parse(resolved); err == nil {
				baseURL = u
			}
		}
	}
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if link := crawler.ResolveLink(baseURL, href); link != "" {
			links = append(links, link)
		}
	})
	return links
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
