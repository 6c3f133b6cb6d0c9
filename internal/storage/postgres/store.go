// Package postgres provides the Postgres-backed crawler.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-search/internal/crawler"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements crawler.Store on Postgres.
type Store struct {
	pool pool
}

var _ crawler.Store = (*Store)(nil)

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// CreateSite inserts a site and returns it with its ID.
func (s *Store) CreateSite(ctx context.Context, site crawler.Site) (crawler.Site, error) {
	const query = `
INSERT INTO site (url, name, status, status_time, last_error)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`
	err := s.pool.QueryRow(ctx, query, site.URL, site.Name, string(site.Status), site.StatusTime, site.LastError).
		Scan(&site.ID)
	if err != nil {
		return crawler.Site{}, fmt.Errorf("create site %q: %w", site.URL, mapError(err))
	}
	return site, nil
}

const selectSite = `SELECT id, url, name, status, status_time, last_error FROM site`

// SiteByURL looks a site up by its root URL.
func (s *Store) SiteByURL(ctx context.Context, url string) (crawler.Site, error) {
	site, err := scanSite(s.pool.QueryRow(ctx, selectSite+` WHERE url = $1`, url))
	if err != nil {
		return crawler.Site{}, fmt.Errorf("get site by url: %w", mapError(err))
	}
	return site, nil
}

// SiteByID looks a site up by ID.
func (s *Store) SiteByID(ctx context.Context, id int64) (crawler.Site, error) {
	site, err := scanSite(s.pool.QueryRow(ctx, selectSite+` WHERE id = $1`, id))
	if err != nil {
		return crawler.Site{}, fmt.Errorf("get site by id: %w", mapError(err))
	}
	return site, nil
}

// ListSites returns every site ordered by ID.
func (s *Store) ListSites(ctx context.Context) ([]crawler.Site, error) {
	rows, err := s.pool.Query(ctx, selectSite+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []crawler.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return sites, nil
}

// UpdateSiteStatus sets status, error text and status time.
func (s *Store) UpdateSiteStatus(
	ctx context.Context,
	id int64,
	status crawler.SiteStatus,
	lastError string,
	at time.Time,
) error {
	const query = `UPDATE site SET status = $1, last_error = $2, status_time = $3 WHERE id = $4`
	tag, err := s.pool.Exec(ctx, query, string(status), lastError, at, id)
	if err != nil {
		return fmt.Errorf("update site status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// UpdateSiteStatusIf transitions the site only while it is in from.
func (s *Store) UpdateSiteStatusIf(
	ctx context.Context,
	id int64,
	from, to crawler.SiteStatus,
	lastError string,
	at time.Time,
) (bool, error) {
	const query = `
UPDATE site SET status = $1, last_error = $2, status_time = $3
WHERE id = $4 AND status = $5`
	tag, err := s.pool.Exec(ctx, query, string(to), lastError, at, id, string(from))
	if err != nil {
		return false, fmt.Errorf("update site status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// TouchSite refreshes StatusTime of an INDEXING site.
func (s *Store) TouchSite(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE site SET status_time = $1 WHERE id = $2 AND status = $3`
	if _, err := s.pool.Exec(ctx, query, at, id, string(crawler.SiteStatusIndexing)); err != nil {
		return fmt.Errorf("touch site: %w", err)
	}
	return nil
}

// SetSiteError records the latest crawl error.
func (s *Store) SetSiteError(ctx context.Context, id int64, lastError string, at time.Time) error {
	const query = `UPDATE site SET last_error = $1, status_time = $2 WHERE id = $3`
	tag, err := s.pool.Exec(ctx, query, lastError, at, id)
	if err != nil {
		return fmt.Errorf("set site error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// FailIndexingSites moves every INDEXING site to FAILED.
func (s *Store) FailIndexingSites(ctx context.Context, lastError string, at time.Time) (int, error) {
	const query = `UPDATE site SET status = $1, last_error = $2, status_time = $3 WHERE status = $4`
	tag, err := s.pool.Exec(ctx, query,
		string(crawler.SiteStatusFailed), lastError, at, string(crawler.SiteStatusIndexing))
	if err != nil {
		return 0, fmt.Errorf("fail indexing sites: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteSite removes the site; foreign keys cascade to pages, lemmas and postings.
func (s *Store) DeleteSite(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM site WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// SavePage inserts a page.
func (s *Store) SavePage(ctx context.Context, page crawler.Page) (crawler.Page, error) {
	const query = `
INSERT INTO page (site_id, path, code, content)
VALUES ($1, $2, $3, $4)
RETURNING id`
	if err := s.pool.QueryRow(ctx, query, page.SiteID, page.Path, page.Code, page.Content).Scan(&page.ID); err != nil {
		return crawler.Page{}, fmt.Errorf("save page %q: %w", page.Path, mapError(err))
	}
	return page, nil
}

const selectPage = `SELECT id, site_id, path, code, content FROM page`

// PageByPath returns the page stored at path for the site.
func (s *Store) PageByPath(ctx context.Context, siteID int64, path string) (crawler.Page, error) {
	page, err := scanPage(s.pool.QueryRow(ctx, selectPage+` WHERE site_id = $1 AND path = $2`, siteID, path))
	if err != nil {
		return crawler.Page{}, fmt.Errorf("get page by path: %w", mapError(err))
	}
	return page, nil
}

// PageByID returns a page by ID.
func (s *Store) PageByID(ctx context.Context, id int64) (crawler.Page, error) {
	page, err := scanPage(s.pool.QueryRow(ctx, selectPage+` WHERE id = $1`, id))
	if err != nil {
		return crawler.Page{}, fmt.Errorf("get page by id: %w", mapError(err))
	}
	return page, nil
}

// DeletePage removes a page; its postings cascade.
func (s *Store) DeletePage(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM page WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// CountPages counts every page.
func (s *Store) CountPages(ctx context.Context) (int, error) {
	return s.count(ctx, "count pages", `SELECT COUNT(*) FROM page`)
}

// CountPagesBySite counts the pages of one site.
func (s *Store) CountPagesBySite(ctx context.Context, siteID int64) (int, error) {
	return s.count(ctx, "count pages", `SELECT COUNT(*) FROM page WHERE site_id = $1`, siteID)
}

// CountPagesBySiteURL counts the pages of the site with the given root URL.
func (s *Store) CountPagesBySiteURL(ctx context.Context, url string) (int, error) {
	return s.count(ctx, "count pages",
		`SELECT COUNT(*) FROM page p JOIN site s ON s.id = p.site_id WHERE s.url = $1`, url)
}

// IncrementLemma upserts the (site, lemma) row adding one to its frequency.
func (s *Store) IncrementLemma(ctx context.Context, siteID int64, normalForm string) (crawler.Lemma, error) {
	const query = `
INSERT INTO lemma (site_id, lemma, frequency)
VALUES ($1, $2, 1)
ON CONFLICT (site_id, lemma) DO UPDATE SET frequency = lemma.frequency + 1
RETURNING id, site_id, lemma, frequency`
	lemma, err := scanLemma(s.pool.QueryRow(ctx, query, siteID, normalForm))
	if err != nil {
		return crawler.Lemma{}, fmt.Errorf("increment lemma %q: %w", normalForm, mapError(err))
	}
	return lemma, nil
}

// DecrementLemma subtracts one and removes the row once it reaches zero.
func (s *Store) DecrementLemma(ctx context.Context, lemmaID int64) error {
	var frequency int
	err := s.pool.QueryRow(ctx,
		`UPDATE lemma SET frequency = frequency - 1 WHERE id = $1 RETURNING frequency`, lemmaID).
		Scan(&frequency)
	if err != nil {
		return fmt.Errorf("decrement lemma: %w", mapError(err))
	}
	if frequency > 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM lemma WHERE id = $1 AND frequency <= 0`, lemmaID); err != nil {
		return fmt.Errorf("delete lemma: %w", err)
	}
	return nil
}

// LemmasByPage returns the lemmas with a posting on the page.
func (s *Store) LemmasByPage(ctx context.Context, pageID int64) ([]crawler.Lemma, error) {
	const query = `
SELECT l.id, l.site_id, l.lemma, l.frequency
FROM lemma l JOIN search_index i ON i.lemma_id = l.id
WHERE i.page_id = $1
ORDER BY l.id`
	rows, err := s.pool.Query(ctx, query, pageID)
	if err != nil {
		return nil, fmt.Errorf("list page lemmas: %w", err)
	}
	defer rows.Close()

	var lemmas []crawler.Lemma
	for rows.Next() {
		lemma, err := scanLemma(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lemma: %w", err)
		}
		lemmas = append(lemmas, lemma)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list page lemmas: %w", err)
	}
	return lemmas, nil
}

// CountLemmas counts lemma rows.
func (s *Store) CountLemmas(ctx context.Context) (int, error) {
	return s.count(ctx, "count lemmas", `SELECT COUNT(*) FROM lemma`)
}

// CountLemmasBySite counts lemma rows of one site.
func (s *Store) CountLemmasBySite(ctx context.Context, siteID int64) (int, error) {
	return s.count(ctx, "count lemmas", `SELECT COUNT(*) FROM lemma WHERE site_id = $1`, siteID)
}

// TotalFrequency sums the frequency of the normal form across sites.
func (s *Store) TotalFrequency(ctx context.Context, normalForm string) (int, error) {
	return s.count(ctx, "total frequency",
		`SELECT COALESCE(SUM(frequency), 0) FROM lemma WHERE lemma = $1`, normalForm)
}

// SavePosting inserts a posting.
func (s *Store) SavePosting(ctx context.Context, posting crawler.Posting) error {
	const query = `INSERT INTO search_index (page_id, lemma_id, rank_value) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, posting.PageID, posting.LemmaID, posting.Rank); err != nil {
		return fmt.Errorf("save posting: %w", mapError(err))
	}
	return nil
}

// PageIDsByLemma lists pages with a posting for the normal form; siteID 0 matches all sites.
func (s *Store) PageIDsByLemma(ctx context.Context, normalForm string, siteID int64) ([]int64, error) {
	const query = `
SELECT i.page_id
FROM search_index i JOIN lemma l ON l.id = i.lemma_id
WHERE l.lemma = $1 AND ($2::bigint = 0 OR l.site_id = $2)
ORDER BY i.page_id`
	rows, err := s.pool.Query(ctx, query, normalForm, siteID)
	if err != nil {
		return nil, fmt.Errorf("list pages by lemma: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan page id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pages by lemma: %w", err)
	}
	return ids, nil
}

// RankByPageAndLemma returns the posting rank of the normal form on the page.
func (s *Store) RankByPageAndLemma(ctx context.Context, pageID int64, normalForm string) (float64, error) {
	const query = `
SELECT i.rank_value
FROM search_index i JOIN lemma l ON l.id = i.lemma_id
WHERE i.page_id = $1 AND l.lemma = $2`
	var rank float64
	if err := s.pool.QueryRow(ctx, query, pageID, normalForm).Scan(&rank); err != nil {
		return 0, fmt.Errorf("get rank: %w", mapError(err))
	}
	return rank, nil
}

func (s *Store) count(ctx context.Context, op, query string, args ...any) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(n), nil
}

func scanSite(row pgx.Row) (crawler.Site, error) {
	var (
		site   crawler.Site
		status string
	)
	if err := row.Scan(&site.ID, &site.URL, &site.Name, &status, &site.StatusTime, &site.LastError); err != nil {
		return crawler.Site{}, err
	}
	site.Status = crawler.SiteStatus(status)
	return site, nil
}

func scanPage(row pgx.Row) (crawler.Page, error) {
	var page crawler.Page
	if err := row.Scan(&page.ID, &page.SiteID, &page.Path, &page.Code, &page.Content); err != nil {
		return crawler.Page{}, err
	}
	return page, nil
}

func scanLemma(row pgx.Row) (crawler.Lemma, error) {
	var lemma crawler.Lemma
	if err := row.Scan(&lemma.ID, &lemma.SiteID, &lemma.NormalForm, &lemma.Frequency); err != nil {
		return crawler.Lemma{}, err
	}
	return lemma, nil
}

// mapError translates driver errors into the crawler sentinels.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, crawler.ErrConflict)
		case foreignKeyViolation:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, crawler.ErrNotFound)
		}
	}
	return err
}
