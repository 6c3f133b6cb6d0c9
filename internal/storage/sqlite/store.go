// Package sqlite provides a single-file crawler.Store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/site-search/internal/crawler"
)

// Store implements crawler.Store on a SQLite database file.
type Store struct {
	db *sql.DB
}

var _ crawler.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping checks that the database file is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSite inserts a site and returns it with its ID.
func (s *Store) CreateSite(ctx context.Context, site crawler.Site) (crawler.Site, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO site (url, name, status, status_time, last_error) VALUES (?, ?, ?, ?, ?)",
		site.URL, site.Name, string(site.Status), site.StatusTime.UTC(), site.LastError)
	if err != nil {
		return crawler.Site{}, fmt.Errorf("create site %q: %w", site.URL, mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return crawler.Site{}, fmt.Errorf("create site %q: %w", site.URL, err)
	}
	site.ID = id
	return site, nil
}

const selectSite = "SELECT id, url, name, status, status_time, last_error FROM site"

// SiteByURL looks a site up by its root URL.
func (s *Store) SiteByURL(ctx context.Context, url string) (crawler.Site, error) {
	site, err := scanSite(s.db.QueryRowContext(ctx, selectSite+" WHERE url = ?", url))
	if err != nil {
		return crawler.Site{}, fmt.Errorf("get site by url: %w", mapError(err))
	}
	return site, nil
}

// SiteByID looks a site up by ID.
func (s *Store) SiteByID(ctx context.Context, id int64) (crawler.Site, error) {
	site, err := scanSite(s.db.QueryRowContext(ctx, selectSite+" WHERE id = ?", id))
	if err != nil {
		return crawler.Site{}, fmt.Errorf("get site by id: %w", mapError(err))
	}
	return site, nil
}

// ListSites returns every site ordered by ID.
func (s *Store) ListSites(ctx context.Context) ([]crawler.Site, error) {
	rows, err := s.db.QueryContext(ctx, selectSite+" ORDER BY id")
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
	return sites, rows.Err()
}

// UpdateSiteStatus sets status, error text and status time.
func (s *Store) UpdateSiteStatus(
	ctx context.Context,
	id int64,
	status crawler.SiteStatus,
	lastError string,
	at time.Time,
) error {
	return s.execOne(ctx, "update site status",
		"UPDATE site SET status = ?, last_error = ?, status_time = ? WHERE id = ?",
		string(status), lastError, at.UTC(), id)
}

// UpdateSiteStatusIf transitions the site only while it is in from.
func (s *Store) UpdateSiteStatusIf(
	ctx context.Context,
	id int64,
	from, to crawler.SiteStatus,
	lastError string,
	at time.Time,
) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE site SET status = ?, last_error = ?, status_time = ? WHERE id = ? AND status = ?",
		string(to), lastError, at.UTC(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("update site status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update site status: %w", err)
	}
	return n > 0, nil
}

// TouchSite refreshes StatusTime of an INDEXING site.
func (s *Store) TouchSite(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE site SET status_time = ? WHERE id = ? AND status = ?",
		at.UTC(), id, string(crawler.SiteStatusIndexing))
	if err != nil {
		return fmt.Errorf("touch site: %w", err)
	}
	return nil
}

// SetSiteError records the latest crawl error.
func (s *Store) SetSiteError(ctx context.Context, id int64, lastError string, at time.Time) error {
	return s.execOne(ctx, "set site error",
		"UPDATE site SET last_error = ?, status_time = ? WHERE id = ?", lastError, at.UTC(), id)
}

// FailIndexingSites moves every INDEXING site to FAILED.
func (s *Store) FailIndexingSites(ctx context.Context, lastError string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE site SET status = ?, last_error = ?, status_time = ? WHERE status = ?",
		string(crawler.SiteStatusFailed), lastError, at.UTC(), string(crawler.SiteStatusIndexing))
	if err != nil {
		return 0, fmt.Errorf("fail indexing sites: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail indexing sites: %w", err)
	}
	return int(n), nil
}

// DeleteSite removes the site; foreign keys cascade to everything below it.
func (s *Store) DeleteSite(ctx context.Context, id int64) error {
	return s.execOne(ctx, "delete site", "DELETE FROM site WHERE id = ?", id)
}

// SavePage inserts a page.
func (s *Store) SavePage(ctx context.Context, page crawler.Page) (crawler.Page, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO page (site_id, path, code, content) VALUES (?, ?, ?, ?)",
		page.SiteID, page.Path, page.Code, page.Content)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("save page %q: %w", page.Path, mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return crawler.Page{}, fmt.Errorf("save page %q: %w", page.Path, err)
	}
	page.ID = id
	return page, nil
}

const selectPage = "SELECT id, site_id, path, code, content FROM page"

// PageByPath returns the page stored at path for the site.
func (s *Store) PageByPath(ctx context.Context, siteID int64, path string) (crawler.Page, error) {
	page, err := scanPage(s.db.QueryRowContext(ctx, selectPage+" WHERE site_id = ? AND path = ?", siteID, path))
	if err != nil {
		return crawler.Page{}, fmt.Errorf("get page by path: %w", mapError(err))
	}
	return page, nil
}

// PageByID returns a page by ID.
func (s *Store) PageByID(ctx context.Context, id int64) (crawler.Page, error) {
	page, err := scanPage(s.db.QueryRowContext(ctx, selectPage+" WHERE id = ?", id))
	if err != nil {
		return crawler.Page{}, fmt.Errorf("get page by id: %w", mapError(err))
	}
	return page, nil
}

// DeletePage removes a page; its postings cascade.
func (s *Store) DeletePage(ctx context.Context, id int64) error {
	return s.execOne(ctx, "delete page", "DELETE FROM page WHERE id = ?", id)
}

// CountPages counts every page.
func (s *Store) CountPages(ctx context.Context) (int, error) {
	return s.count(ctx, "count pages", "SELECT COUNT(*) FROM page")
}

// CountPagesBySite counts the pages of one site.
func (s *Store) CountPagesBySite(ctx context.Context, siteID int64) (int, error) {
	return s.count(ctx, "count pages", "SELECT COUNT(*) FROM page WHERE site_id = ?", siteID)
}

// CountPagesBySiteURL counts the pages of the site with the given root URL.
func (s *Store) CountPagesBySiteURL(ctx context.Context, url string) (int, error) {
	return s.count(ctx, "count pages",
		"SELECT COUNT(*) FROM page p JOIN site s ON s.id = p.site_id WHERE s.url = ?", url)
}

// IncrementLemma upserts the (site, lemma) row adding one to its frequency.
func (s *Store) IncrementLemma(ctx context.Context, siteID int64, normalForm string) (crawler.Lemma, error) {
	lemma, err := scanLemma(s.db.QueryRowContext(ctx, `
INSERT INTO lemma (site_id, lemma, frequency) VALUES (?, ?, 1)
ON CONFLICT(site_id, lemma) DO UPDATE SET frequency = frequency + 1
RETURNING id, site_id, lemma, frequency`, siteID, normalForm))
	if err != nil {
		return crawler.Lemma{}, fmt.Errorf("increment lemma %q: %w", normalForm, mapError(err))
	}
	return lemma, nil
}

// DecrementLemma subtracts one and removes the row once it reaches zero.
func (s *Store) DecrementLemma(ctx context.Context, lemmaID int64) error {
	var frequency int
	err := s.db.QueryRowContext(ctx,
		"UPDATE lemma SET frequency = frequency - 1 WHERE id = ? RETURNING frequency", lemmaID).
		Scan(&frequency)
	if err != nil {
		return fmt.Errorf("decrement lemma: %w", mapError(err))
	}
	if frequency > 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM lemma WHERE id = ? AND frequency <= 0", lemmaID); err != nil {
		return fmt.Errorf("delete lemma: %w", err)
	}
	return nil
}

// LemmasByPage returns the lemmas with a posting on the page.
func (s *Store) LemmasByPage(ctx context.Context, pageID int64) ([]crawler.Lemma, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT l.id, l.site_id, l.lemma, l.frequency
FROM lemma l JOIN search_index i ON i.lemma_id = l.id
WHERE i.page_id = ?
ORDER BY l.id`, pageID)
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
	return lemmas, rows.Err()
}

// CountLemmas counts lemma rows.
func (s *Store) CountLemmas(ctx context.Context) (int, error) {
	return s.count(ctx, "count lemmas", "SELECT COUNT(*) FROM lemma")
}

// CountLemmasBySite counts lemma rows of one site.
func (s *Store) CountLemmasBySite(ctx context.Context, siteID int64) (int, error) {
	return s.count(ctx, "count lemmas", "SELECT COUNT(*) FROM lemma WHERE site_id = ?", siteID)
}

// TotalFrequency sums the frequency of the normal form across sites.
func (s *Store) TotalFrequency(ctx context.Context, normalForm string) (int, error) {
	return s.count(ctx, "total frequency",
		"SELECT COALESCE(SUM(frequency), 0) FROM lemma WHERE lemma = ?", normalForm)
}

// SavePosting inserts a posting.
func (s *Store) SavePosting(ctx context.Context, posting crawler.Posting) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO search_index (page_id, lemma_id, rank_value) VALUES (?, ?, ?)",
		posting.PageID, posting.LemmaID, posting.Rank)
	if err != nil {
		return fmt.Errorf("save posting: %w", mapError(err))
	}
	return nil
}

// PageIDsByLemma lists pages with a posting for the normal form; siteID 0 matches all sites.
func (s *Store) PageIDsByLemma(ctx context.Context, normalForm string, siteID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT i.page_id
FROM search_index i JOIN lemma l ON l.id = i.lemma_id
WHERE l.lemma = ? AND (? = 0 OR l.site_id = ?)
ORDER BY i.page_id`, normalForm, siteID, siteID)
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
	return ids, rows.Err()
}

// RankByPageAndLemma returns the posting rank of the normal form on the page.
func (s *Store) RankByPageAndLemma(ctx context.Context, pageID int64, normalForm string) (float64, error) {
	var rank float64
	err := s.db.QueryRowContext(ctx, `
SELECT i.rank_value
FROM search_index i JOIN lemma l ON l.id = i.lemma_id
WHERE i.page_id = ? AND l.lemma = ?`, pageID, normalForm).Scan(&rank)
	if err != nil {
		return 0, fmt.Errorf("get rank: %w", mapError(err))
	}
	return rank, nil
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

func (s *Store) count(ctx context.Context, op, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSite(row scanner) (crawler.Site, error) {
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

func scanPage(row scanner) (crawler.Page, error) {
	var page crawler.Page
	if err := row.Scan(&page.ID, &page.SiteID, &page.Path, &page.Code, &page.Content); err != nil {
		return crawler.Page{}, err
	}
	return page, nil
}

func scanLemma(row scanner) (crawler.Lemma, error) {
	var lemma crawler.Lemma
	if err := row.Scan(&lemma.ID, &lemma.SiteID, &lemma.NormalForm, &lemma.Frequency); err != nil {
		return crawler.Lemma{}, err
	}
	return lemma, nil
}

// mapError translates driver errors into the crawler sentinels.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w", sqliteErr.Error(), crawler.ErrConflict)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: %w", sqliteErr.Error(), crawler.ErrNotFound)
		}
	}
	return err
}
