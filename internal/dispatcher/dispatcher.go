// Package dispatcher is the job registry: it starts one crawl campaign per
// configured site, tracks the running campaigns, and stops them on request.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-search/internal/crawler"
	"github.com/JakeFAU/site-search/internal/metrics"
	"github.com/JakeFAU/site-search/internal/worker"
)

const (
	// StoppedByUser is the error text of sites whose campaign was stopped.
	StoppedByUser = "indexing stopped by user"
	// InterruptedByRestart marks sites left INDEXING by a previous process.
	InterruptedByRestart = "indexing interrupted by restart"

	publishTimeout = 10 * time.Second
)

// Runner is one crawl campaign.
type Runner interface {
	Run(ctx context.Context) (crawler.SiteStatus, error)
	Stop()
	Stats() worker.Stats
}

// Factory builds the campaign for a freshly created site.
type Factory func(site crawler.Site) Runner

// Config holds the registry settings.
type Config struct {
	Sites []crawler.SiteConfig
	// Topic receives a crawler.CampaignEvent per finished campaign; empty disables publishing.
	Topic string
}

type tracked struct {
	id      string
	site    crawler.Site
	runner  Runner
	started time.Time
	stopped bool
}

// Registry owns the set of running campaigns.
type Registry struct {
	store     crawler.Store
	factory   Factory
	publisher crawler.Publisher
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	mu      sync.Mutex
	active  map[string]*tracked
	changed chan struct{}
}

// New creates a Registry. publisher may be nil.
func New(
	store crawler.Store,
	factory Factory,
	publisher crawler.Publisher,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:     store,
		factory:   factory,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("dispatcher"),
		active:    make(map[string]*tracked),
		changed:   make(chan struct{}),
	}
}

// Start launches a campaign for every configured site. It reports false when
// a campaign is already running or some site is still INDEXING.
func (r *Registry) Start(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.active) > 0 {
		return false, nil
	}
	indexing, err := r.anyIndexing(ctx)
	if err != nil {
		return false, err
	}
	if indexing {
		return false, nil
	}

	sites := make([]crawler.Site, 0, len(r.cfg.Sites))
	for _, cfg := range r.cfg.Sites {
		site, err := r.resetSite(ctx, cfg)
		if err != nil {
			if _, ferr := r.store.FailIndexingSites(ctx, err.Error(), r.clock.Now()); ferr != nil {
				r.logger.Error("fail prepared sites", zap.Error(ferr))
			}
			return false, err
		}
		sites = append(sites, site)
	}

	runCtx := context.WithoutCancel(ctx)
	for _, site := range sites {
		id, err := r.ids.NewID()
		if err != nil {
			return false, fmt.Errorf("campaign id: %w", err)
		}
		t := &tracked{id: id, site: site, runner: r.factory(site), started: r.clock.Now()}
		r.active[site.URL] = t
		go r.run(runCtx, t)
	}
	r.notifyLocked()
	r.logger.Info("indexing started", zap.Int("sites", len(sites)))
	return true, nil
}

// Stop stops every running campaign and marks INDEXING sites FAILED. It
// reports false when nothing was left to stop.
func (r *Registry) Stop(ctx context.Context) (bool, error) {
	r.mu.Lock()
	var runners []Runner
	for _, t := range r.active {
		if !t.stopped {
			t.stopped = true
			runners = append(runners, t.runner)
		}
	}
	r.mu.Unlock()
	if len(runners) == 0 {
		return false, nil
	}

	// The status is written before cancelling so a campaign finishing in
	// between cannot report INDEXED.
	failed, err := r.store.FailIndexingSites(ctx, StoppedByUser, r.clock.Now())
	for _, runner := range runners {
		runner.Stop()
	}
	if err != nil {
		return true, fmt.Errorf("mark sites stopped: %w", err)
	}
	r.logger.Info("indexing stopped", zap.Int("campaigns", len(runners)), zap.Int("sites_failed", failed))
	return true, nil
}

// IsActive reports whether any campaign is tracked.
func (r *Registry) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active) > 0
}

// Wait blocks until no campaign is tracked or ctx ends.
func (r *Registry) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		if len(r.active) == 0 {
			r.mu.Unlock()
			return nil
		}
		wait := r.changed
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for campaigns: %w", ctx.Err())
		case <-wait:
		}
	}
}

// RecoverInterrupted fails sites a previous process left INDEXING. It must
// run before the first Start.
func (r *Registry) RecoverInterrupted(ctx context.Context) (int, error) {
	n, err := r.store.FailIndexingSites(ctx, InterruptedByRestart, r.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("recover interrupted sites: %w", err)
	}
	if n > 0 {
		r.logger.Warn("sites left indexing by a previous run marked failed", zap.Int("sites", n))
	}
	return n, nil
}

func (r *Registry) anyIndexing(ctx context.Context) (bool, error) {
	sites, err := r.store.ListSites(ctx)
	if err != nil {
		return false, fmt.Errorf("list sites: %w", err)
	}
	for _, site := range sites {
		if site.Status == crawler.SiteStatusIndexing {
			return true, nil
		}
	}
	return false, nil
}

// resetSite deletes every trace of a previous crawl of cfg and creates a
// fresh INDEXING site.
func (r *Registry) resetSite(ctx context.Context, cfg crawler.SiteConfig) (crawler.Site, error) {
	prior, err := r.store.SiteByURL(ctx, cfg.URL)
	switch {
	case err == nil:
		if err := r.store.DeleteSite(ctx, prior.ID); err != nil && !errors.Is(err, crawler.ErrNotFound) {
			return crawler.Site{}, fmt.Errorf("delete site %s: %w", cfg.URL, err)
		}
	case !errors.Is(err, crawler.ErrNotFound):
		return crawler.Site{}, fmt.Errorf("find site %s: %w", cfg.URL, err)
	}
	site, err := r.store.CreateSite(ctx, crawler.Site{
		URL:        cfg.URL,
		Name:       cfg.Name,
		Status:     crawler.SiteStatusIndexing,
		StatusTime: r.clock.Now(),
	})
	if err != nil {
		return crawler.Site{}, fmt.Errorf("create site %s: %w", cfg.URL, err)
	}
	return site, nil
}

func (r *Registry) run(ctx context.Context, t *tracked) {
	logger := r.logger.With(zap.String("campaign_id", t.id), zap.String("site", t.site.URL))
	status, err := t.runner.Run(ctx)
	if err != nil {
		logger.Error("campaign failed", zap.Error(err))
	}
	if status == "" {
		status = crawler.SiteStatusFailed
	}
	metrics.ObserveCampaign(string(status))
	r.publish(ctx, logger, t, status)

	r.mu.Lock()
	delete(r.active, t.site.URL)
	r.notifyLocked()
	r.mu.Unlock()
}

func (r *Registry) publish(ctx context.Context, logger *zap.Logger, t *tracked, status crawler.SiteStatus) {
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	event := crawler.CampaignEvent{
		CampaignID: t.id,
		SiteURL:    t.site.URL,
		SiteName:   t.site.Name,
		Status:     status,
		Pages:      int(t.runner.Stats().Processed),
		StartedAt:  t.started,
		FinishedAt: r.clock.Now(),
	}
	if site, err := r.store.SiteByID(ctx, t.site.ID); err == nil {
		event.Error = site.LastError
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	msgID, err := r.publisher.Publish(pubCtx, r.cfg.Topic, event)
	if err != nil {
		logger.Warn("publish campaign event failed", zap.Error(err))
		return
	}
	logger.Debug("campaign event published", zap.String("message_id", msgID))
}

func (r *Registry) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}
