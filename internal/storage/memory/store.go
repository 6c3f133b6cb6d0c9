// Package memory provides an in-memory crawler.Store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/site-search/internal/crawler"
)

type pageKey struct {
	siteID int64
	path   string
}

type lemmaKey struct {
	siteID     int64
	normalForm string
}

type postingKey struct {
	pageID  int64
	lemmaID int64
}

// Store keeps sites, pages, lemmas and postings in maps guarded by one lock.
// Every read returns a copy.
type Store struct {
	mu sync.RWMutex

	lastSiteID    int64
	lastPageID    int64
	lastLemmaID   int64
	lastPostingID int64

	sites      map[int64]crawler.Site
	pages      map[int64]crawler.Page
	pageIndex  map[pageKey]int64
	lemmas     map[int64]crawler.Lemma
	lemmaIndex map[lemmaKey]int64
	postings   map[postingKey]crawler.Posting
}

var _ crawler.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		sites:      make(map[int64]crawler.Site),
		pages:      make(map[int64]crawler.Page),
		pageIndex:  make(map[pageKey]int64),
		lemmas:     make(map[int64]crawler.Lemma),
		lemmaIndex: make(map[lemmaKey]int64),
		postings:   make(map[postingKey]crawler.Posting),
	}
}

// CreateSite inserts a site; its URL must be unique.
func (s *Store) CreateSite(_ context.Context, site crawler.Site) (crawler.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sites {
		if existing.URL == site.URL {
			return crawler.Site{}, fmt.Errorf("create site %q: %w", site.URL, crawler.ErrConflict)
		}
	}
	s.lastSiteID++
	site.ID = s.lastSiteID
	s.sites[site.ID] = site
	return site, nil
}

// SiteByURL looks a site up by its root URL.
func (s *Store) SiteByURL(_ context.Context, url string) (crawler.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, site := range s.sites {
		if site.URL == url {
			return site, nil
		}
	}
	return crawler.Site{}, crawler.ErrNotFound
}

// SiteByID looks a site up by ID.
func (s *Store) SiteByID(_ context.Context, id int64) (crawler.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[id]
	if !ok {
		return crawler.Site{}, crawler.ErrNotFound
	}
	return site, nil
}

// ListSites returns every site ordered by ID.
func (s *Store) ListSites(_ context.Context) ([]crawler.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Site, 0, len(s.sites))
	for _, site := range s.sites {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateSiteStatus sets the status, error text and status time unconditionally.
func (s *Store) UpdateSiteStatus(
	_ context.Context,
	id int64,
	status crawler.SiteStatus,
	lastError string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[id]
	if !ok {
		return crawler.ErrNotFound
	}
	site.Status = status
	site.LastError = lastError
	site.StatusTime = at
	s.sites[id] = site
	return nil
}

// UpdateSiteStatusIf performs the transition only while the site is in from.
func (s *Store) UpdateSiteStatusIf(
	_ context.Context,
	id int64,
	from, to crawler.SiteStatus,
	lastError string,
	at time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[id]
	if !ok {
		return false, crawler.ErrNotFound
	}
	if site.Status != from {
		return false, nil
	}
	site.Status = to
	site.LastError = lastError
	site.StatusTime = at
	s.sites[id] = site
	return true, nil
}

// TouchSite refreshes StatusTime of an INDEXING site.
func (s *Store) TouchSite(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[id]
	if !ok {
		return crawler.ErrNotFound
	}
	if site.Status == crawler.SiteStatusIndexing {
		site.StatusTime = at
		s.sites[id] = site
	}
	return nil
}

// SetSiteError records the latest crawl error of a site.
func (s *Store) SetSiteError(_ context.Context, id int64, lastError string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[id]
	if !ok {
		return crawler.ErrNotFound
	}
	site.LastError = lastError
	site.StatusTime = at
	s.sites[id] = site
	return nil
}

// FailIndexingSites moves every INDEXING site to FAILED.
func (s *Store) FailIndexingSites(_ context.Context, lastError string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for id, site := range s.sites {
		if site.Status != crawler.SiteStatusIndexing {
			continue
		}
		site.Status = crawler.SiteStatusFailed
		site.LastError = lastError
		site.StatusTime = at
		s.sites[id] = site
		changed++
	}
	return changed, nil
}

// DeleteSite removes a site together with its pages, lemmas and postings.
func (s *Store) DeleteSite(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[id]; !ok {
		return crawler.ErrNotFound
	}
	for pageID, page := range s.pages {
		if page.SiteID == id {
			s.deletePageLocked(pageID)
		}
	}
	for lemmaID, lemma := range s.lemmas {
		if lemma.SiteID == id {
			s.deleteLemmaLocked(lemmaID)
		}
	}
	delete(s.sites, id)
	return nil
}

// SavePage inserts a page; (SiteID, Path) must be unique.
func (s *Store) SavePage(_ context.Context, page crawler.Page) (crawler.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[page.SiteID]; !ok {
		return crawler.Page{}, fmt.Errorf("save page: site %d: %w", page.SiteID, crawler.ErrNotFound)
	}
	key := pageKey{siteID: page.SiteID, path: page.Path}
	if _, exists := s.pageIndex[key]; exists {
		return crawler.Page{}, fmt.Errorf("save page %q: %w", page.Path, crawler.ErrConflict)
	}
	s.lastPageID++
	page.ID = s.lastPageID
	s.pages[page.ID] = page
	s.pageIndex[key] = page.ID
	return page, nil
}

// PageByPath returns the page stored at path for the site.
func (s *Store) PageByPath(_ context.Context, siteID int64, path string) (crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pageIndex[pageKey{siteID: siteID, path: path}]
	if !ok {
		return crawler.Page{}, crawler.ErrNotFound
	}
	return s.pages[id], nil
}

// PageByID returns a page by ID.
func (s *Store) PageByID(_ context.Context, id int64) (crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[id]
	if !ok {
		return crawler.Page{}, crawler.ErrNotFound
	}
	return page, nil
}

// DeletePage removes a page and its postings.
func (s *Store) DeletePage(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[id]; !ok {
		return crawler.ErrNotFound
	}
	s.deletePageLocked(id)
	return nil
}

// CountPages counts pages across all sites.
func (s *Store) CountPages(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages), nil
}

// CountPagesBySite counts the pages of one site.
func (s *Store) CountPagesBySite(_ context.Context, siteID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countPagesLocked(siteID), nil
}

// CountPagesBySiteURL counts the pages of the site with the given root URL.
// An unknown site has zero pages.
func (s *Store) CountPagesBySiteURL(_ context.Context, url string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, site := range s.sites {
		if site.URL == url {
			return s.countPagesLocked(site.ID), nil
		}
	}
	return 0, nil
}

// IncrementLemma finds or creates the lemma row and adds one to its frequency.
func (s *Store) IncrementLemma(_ context.Context, siteID int64, normalForm string) (crawler.Lemma, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[siteID]; !ok {
		return crawler.Lemma{}, fmt.Errorf("increment lemma: site %d: %w", siteID, crawler.ErrNotFound)
	}
	key := lemmaKey{siteID: siteID, normalForm: normalForm}
	if id, ok := s.lemmaIndex[key]; ok {
		lemma := s.lemmas[id]
		lemma.Frequency++
		s.lemmas[id] = lemma
		return lemma, nil
	}
	s.lastLemmaID++
	lemma := crawler.Lemma{ID: s.lastLemmaID, SiteID: siteID, NormalForm: normalForm, Frequency: 1}
	s.lemmas[lemma.ID] = lemma
	s.lemmaIndex[key] = lemma.ID
	return lemma, nil
}

// DecrementLemma subtracts one from the frequency and drops the row at zero.
func (s *Store) DecrementLemma(_ context.Context, lemmaID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lemma, ok := s.lemmas[lemmaID]
	if !ok {
		return crawler.ErrNotFound
	}
	lemma.Frequency--
	if lemma.Frequency <= 0 {
		s.deleteLemmaLocked(lemmaID)
		return nil
	}
	s.lemmas[lemmaID] = lemma
	return nil
}

// LemmasByPage returns the lemmas that have a posting on the page.
func (s *Store) LemmasByPage(_ context.Context, pageID int64) ([]crawler.Lemma, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Lemma
	for key := range s.postings {
		if key.pageID != pageID {
			continue
		}
		if lemma, ok := s.lemmas[key.lemmaID]; ok {
			out = append(out, lemma)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountLemmas counts lemma rows across all sites.
func (s *Store) CountLemmas(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lemmas), nil
}

// CountLemmasBySite counts lemma rows of one site.
func (s *Store) CountLemmasBySite(_ context.Context, siteID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, lemma := range s.lemmas {
		if lemma.SiteID == siteID {
			count++
		}
	}
	return count, nil
}

// TotalFrequency sums the frequency of a normal form over every site.
func (s *Store) TotalFrequency(_ context.Context, normalForm string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, lemma := range s.lemmas {
		if lemma.NormalForm == normalForm {
			total += lemma.Frequency
		}
	}
	return total, nil
}

// SavePosting inserts a posting; (PageID, LemmaID) must be unique.
func (s *Store) SavePosting(_ context.Context, posting crawler.Posting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[posting.PageID]; !ok {
		return fmt.Errorf("save posting: page %d: %w", posting.PageID, crawler.ErrNotFound)
	}
	if _, ok := s.lemmas[posting.LemmaID]; !ok {
		return fmt.Errorf("save posting: lemma %d: %w", posting.LemmaID, crawler.ErrNotFound)
	}
	key := postingKey{pageID: posting.PageID, lemmaID: posting.LemmaID}
	if _, exists := s.postings[key]; exists {
		return fmt.Errorf("save posting: %w", crawler.ErrConflict)
	}
	s.lastPostingID++
	posting.ID = s.lastPostingID
	s.postings[key] = posting
	return nil
}

// PageIDsByLemma lists, in ascending order, the pages with a posting for the
// normal form. siteID 0 matches every site.
func (s *Store) PageIDsByLemma(_ context.Context, normalForm string, siteID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for key := range s.postings {
		lemma := s.lemmas[key.lemmaID]
		if lemma.NormalForm != normalForm {
			continue
		}
		if siteID != 0 && lemma.SiteID != siteID {
			continue
		}
		out = append(out, key.pageID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// RankByPageAndLemma returns the occurrence count of the normal form on the page.
func (s *Store) RankByPageAndLemma(_ context.Context, pageID int64, normalForm string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[pageID]
	if !ok {
		return 0, crawler.ErrNotFound
	}
	lemmaID, ok := s.lemmaIndex[lemmaKey{siteID: page.SiteID, normalForm: normalForm}]
	if !ok {
		return 0, crawler.ErrNotFound
	}
	posting, ok := s.postings[postingKey{pageID: pageID, lemmaID: lemmaID}]
	if !ok {
		return 0, crawler.ErrNotFound
	}
	return posting.Rank, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) countPagesLocked(siteID int64) int {
	count := 0
	for _, page := range s.pages {
		if page.SiteID == siteID {
			count++
		}
	}
	return count
}

func (s *Store) deletePageLocked(id int64) {
	page := s.pages[id]
	for key := range s.postings {
		if key.pageID == id {
			delete(s.postings, key)
		}
	}
	delete(s.pageIndex, pageKey{siteID: page.SiteID, path: page.Path})
	delete(s.pages, id)
}

func (s *Store) deleteLemmaLocked(id int64) {
	lemma := s.lemmas[id]
	for key := range s.postings {
		if key.lemmaID == id {
			delete(s.postings, key)
		}
	}
	delete(s.lemmaIndex, lemmaKey{siteID: lemma.SiteID, normalForm: lemma.NormalForm})
	delete(s.lemmas, id)
}
