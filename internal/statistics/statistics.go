// Package statistics summarises the index per site and overall.
package statistics

import (
	"context"
	"fmt"

	"github.com/JakeFAU/site-search/internal/crawler"
)

// Total aggregates the whole index.
type Total struct {
	Sites    int  `json:"sites"`
	Pages    int  `json:"pages"`
	Lemmas   int  `json:"lemmas"`
	Indexing bool `json:"indexing"`
}

// Detailed describes one site. StatusTime is in Unix milliseconds.
type Detailed struct {
	URL        string             `json:"url"`
	Name       string             `json:"name"`
	Status     crawler.SiteStatus `json:"status"`
	StatusTime int64              `json:"statusTime"`
	Error      string             `json:"error,omitempty"`
	Pages      int                `json:"pages"`
	Lemmas     int                `json:"lemmas"`
}

// Statistics is the full report.
type Statistics struct {
	Total    Total      `json:"total"`
	Detailed []Detailed `json:"detailed"`
}

// Service reads statistics from the store.
type Service struct {
	store crawler.Store
}

// New creates a Service.
func New(store crawler.Store) *Service {
	return &Service{store: store}
}

// Get builds the report. Indexing is true while any site is INDEXING.
func (s *Service) Get(ctx context.Context) (Statistics, error) {
	sites, err := s.store.ListSites(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("list sites: %w", err)
	}
	pages, err := s.store.CountPages(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("count pages: %w", err)
	}
	lemmas, err := s.store.CountLemmas(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("count lemmas: %w", err)
	}

	out := Statistics{
		Total:    Total{Sites: len(sites), Pages: pages, Lemmas: lemmas},
		Detailed: make([]Detailed, 0, len(sites)),
	}
	for _, site := range sites {
		if site.Status == crawler.SiteStatusIndexing {
			out.Total.Indexing = true
		}
		sitePages, err := s.store.CountPagesBySite(ctx, site.ID)
		if err != nil {
			return Statistics{}, fmt.Errorf("count pages of %s: %w", site.URL, err)
		}
		siteLemmas, err := s.store.CountLemmasBySite(ctx, site.ID)
		if err != nil {
			return Statistics{}, fmt.Errorf("count lemmas of %s: %w", site.URL, err)
		}
		out.Detailed = append(out.Detailed, Detailed{
			URL:        site.URL,
			Name:       site.Name,
			Status:     site.Status,
			StatusTime: site.StatusTime.UnixMilli(),
			Error:      site.LastError,
			Pages:      sitePages,
			Lemmas:     siteLemmas,
		})
	}
	return out, nil
}
