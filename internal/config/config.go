// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-search/internal/crawler"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig         `mapstructure:"server"`
	Auth    AuthConfig           `mapstructure:"auth"`
	Logging LoggingConfig        `mapstructure:"logging"`
	Crawler CrawlerConfig        `mapstructure:"crawler"`
	Sites   []crawler.SiteConfig `mapstructure:"sites"`
	Search  SearchConfig         `mapstructure:"search"`
	Storage StorageConfig        `mapstructure:"storage"`
	PubSub  PubSubConfig         `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig guards the job-control endpoints with an API key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs campaigns and the page fetcher.
type CrawlerConfig struct {
	UserAgent             string  `mapstructure:"user_agent"`
	Referrer              string  `mapstructure:"referrer"`
	MinDelayMs            int     `mapstructure:"min_delay_ms"`
	MaxDelayMs            int     `mapstructure:"max_delay_ms"`
	Concurrency           int     `mapstructure:"concurrency"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds"`
	RateLimitRPS          float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst        int     `mapstructure:"rate_limit_burst"`
	MaxPages              int     `mapstructure:"max_pages"`
	MaxRetries            int     `mapstructure:"max_retries"`
	RespectRobots         bool    `mapstructure:"respect_robots"`
}

// SearchConfig tunes ranking and snippets.
type SearchConfig struct {
	MaxLemmaShare float64 `mapstructure:"max_lemma_share"`
	SnippetLength int     `mapstructure:"snippet_length"`
	DefaultLimit  int     `mapstructure:"default_limit"`
}

// StorageConfig selects and configures the index store.
type StorageConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for campaign-finished notifications. An empty
// project keeps events in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment. Environment variables use the
// SEARCH_ prefix with dots replaced by underscores (SEARCH_SERVER_PORT).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.user_agent", "SiteSearchBot/1.0")
	v.SetDefault("crawler.referrer", "https://www.google.com")
	v.SetDefault("crawler.min_delay_ms", 500)
	v.SetDefault("crawler.max_delay_ms", 5000)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.request_timeout_seconds", 10)
	v.SetDefault("crawler.rate_limit_rps", 0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("search.max_lemma_share", 0.8)
	v.SetDefault("search.snippet_length", 200)
	v.SetDefault("search.default_limit", 20)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.sqlite_path", "site-search.db")
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("storage.min_conns", 1)
	v.SetDefault("storage.max_conn_lifetime", time.Hour)
	v.SetDefault("pubsub.topic_name", "site-search-campaigns")
}

// Validate enforces required values and reasonable limits. Site URLs are
// normalised to their root form in place.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.Concurrency <= 0 {
		return errors.New("crawler.concurrency must be > 0")
	}
	if c.Crawler.MinDelayMs < 0 || c.Crawler.MaxDelayMs < c.Crawler.MinDelayMs {
		return errors.New("crawler delays must satisfy 0 <= min_delay_ms <= max_delay_ms")
	}
	if c.Crawler.RequestTimeoutSeconds <= 0 {
		return errors.New("crawler.request_timeout_seconds must be > 0")
	}
	if c.Crawler.MaxPages < 0 || c.Crawler.MaxRetries < 0 {
		return errors.New("crawler.max_pages and crawler.max_retries must be >= 0")
	}
	if c.Search.MaxLemmaShare <= 0 || c.Search.MaxLemmaShare > 1 {
		return errors.New("search.max_lemma_share must be in (0, 1]")
	}
	if c.Search.SnippetLength <= 0 {
		return errors.New("search.snippet_length must be > 0")
	}
	if c.Search.DefaultLimit <= 0 {
		return errors.New("search.default_limit must be > 0")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres backend")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, postgres, sqlite", c.Storage.Backend)
	}
	return c.normalizeSites()
}

func (c *Config) normalizeSites() error {
	if len(c.Sites) == 0 {
		return errors.New("at least one site must be configured")
	}
	seen := make(map[string]struct{}, len(c.Sites))
	for i, site := range c.Sites {
		root, err := crawler.NormalizeRootURL(site.URL)
		if err != nil {
			return fmt.Errorf("sites[%d]: %w", i, err)
		}
		if _, dup := seen[root]; dup {
			return fmt.Errorf("sites[%d]: duplicate url %s", i, root)
		}
		seen[root] = struct{}{}
		c.Sites[i].URL = root
		if c.Sites[i].Name == "" {
			c.Sites[i].Name = root
		}
	}
	return nil
}

// MinDelay returns the lower politeness delay.
func (c CrawlerConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelayMs) * time.Millisecond
}

// MaxDelay returns the upper politeness delay.
func (c CrawlerConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// RequestTimeout returns the per-fetch timeout.
func (c CrawlerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// RequestTimeout returns the HTTP handler timeout.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
