// Package app builds the long-lived services from configuration and holds
// them for the commands that need them.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-search/internal/api"
	"github.com/JakeFAU/site-search/internal/clock/system"
	"github.com/JakeFAU/site-search/internal/config"
	"github.com/JakeFAU/site-search/internal/crawler"
	"github.com/JakeFAU/site-search/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/site-search/internal/fetcher/colly"
	"github.com/JakeFAU/site-search/internal/id/uuid"
	"github.com/JakeFAU/site-search/internal/indexer"
	"github.com/JakeFAU/site-search/internal/lemma"
	"github.com/JakeFAU/site-search/internal/metrics"
	"github.com/JakeFAU/site-search/internal/morphology"
	"github.com/JakeFAU/site-search/internal/policy/ratelimit"
	"github.com/JakeFAU/site-search/internal/policy/simple"
	memorypublisher "github.com/JakeFAU/site-search/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/site-search/internal/publisher/pubsub"
	"github.com/JakeFAU/site-search/internal/search"
	"github.com/JakeFAU/site-search/internal/statistics"
	"github.com/JakeFAU/site-search/internal/storage/memory"
	"github.com/JakeFAU/site-search/internal/storage/postgres"
	"github.com/JakeFAU/site-search/internal/storage/sqlite"
	"github.com/JakeFAU/site-search/internal/worker"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type closer interface {
	Close() error
}

// App holds the services shared by the serve, crawl, search and reindex
// commands. It is built once at startup.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Store     crawler.Store
	Indexer   *indexer.Indexer
	Registry  *dispatcher.Registry
	Search    *search.Engine
	Stats     *statistics.Service
	Publisher crawler.Publisher

	ids *uuid.Generator
}

// New wires every service for cfg. It fails fast when the store or the
// publisher cannot be initialised.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	publisher, err := newPublisher(ctx, cfg.PubSub, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	clk := system.New()
	ids := uuid.New()
	extractor := lemma.NewExtractor(morphology.NewSnowball())
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		Referrer:      cfg.Crawler.Referrer,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.Crawler.RequestTimeout(),
	})
	ix := indexer.New(store, extractor, fetcher, cfg.Sites, clk, logger)

	retry := simple.DefaultRetry()
	retry.MaxAttempts = cfg.Crawler.MaxRetries + 1
	workerCfg := worker.Config{
		Concurrency: cfg.Crawler.Concurrency,
		MinDelay:    cfg.Crawler.MinDelay(),
		MaxDelay:    cfg.Crawler.MaxDelay(),
		MaxPages:    cfg.Crawler.MaxPages,
		Retry:       retry,
	}
	limiterCfg := ratelimit.Config{RPS: cfg.Crawler.RateLimitRPS, Burst: cfg.Crawler.RateLimitBurst}
	factory := func(site crawler.Site) dispatcher.Runner {
		return worker.New(site, store, fetcher, ix, ratelimit.New(limiterCfg), clk, workerCfg, logger)
	}

	registry := dispatcher.New(store, factory, publisher, ids, clk, dispatcher.Config{
		Sites: cfg.Sites,
		Topic: cfg.PubSub.TopicName,
	}, logger)

	engine := search.New(store, extractor, search.Config{
		MaxLemmaShare: cfg.Search.MaxLemmaShare,
		SnippetLength: cfg.Search.SnippetLength,
		DefaultLimit:  cfg.Search.DefaultLimit,
	}, logger)

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("sites", len(cfg.Sites)),
		zap.Bool("pubsub", cfg.PubSub.ProjectID != ""),
	)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Indexer:   ix,
		Registry:  registry,
		Search:    engine,
		Stats:     statistics.New(store),
		Publisher: publisher,
		ids:       ids,
	}, nil
}

// Server builds the HTTP API on top of the services.
func (a *App) Server() *api.Server {
	key := ""
	if a.Config.Auth.Enabled {
		key = a.Config.Auth.APIKey
	}
	return api.NewServer(a.Registry, a.Indexer, a.Search, a.Stats, api.Options{
		RequestTimeout: a.Config.Server.RequestTimeout(),
		APIKey:         key,
		Ready:          a.Ready,
		NewID:          a.ids.MustNewID,
	}, a.Logger)
}

// Ready pings the store when the backend supports it.
func (a *App) Ready(ctx context.Context) error {
	if p, ok := a.Store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases the store and the publisher.
func (a *App) Close() error {
	a.Logger.Info("shutting down application services")
	var errs []error
	if c, ok := a.Publisher.(closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (crawler.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		logger.Info("using in-memory store; the index is lost on exit")
		return memory.NewStore(), nil
	case config.BackendPostgres:
		logger.Info("connecting to postgres")
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return store, nil
	case config.BackendSQLite:
		logger.Info("opening sqlite store", zap.String("path", cfg.SQLitePath))
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func newPublisher(ctx context.Context, cfg config.PubSubConfig, logger *zap.Logger) (crawler.Publisher, error) {
	if cfg.ProjectID == "" {
		logger.Info("pubsub project not set; campaign events stay in memory")
		return memorypublisher.New(), nil
	}
	logger.Info("connecting to pubsub", zap.String("topic", cfg.TopicName))
	p, err := pubsubpublisher.New(ctx, cfg.ProjectID, cfg.TopicName)
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	return p, nil
}
