// Package storagetest holds behavioural tests shared by every crawler.Store backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-search/internal/crawler"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) crawler.Store

// Run exercises the full crawler.Store contract against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("SiteLifecycle", func(t *testing.T) { testSiteLifecycle(t, newStore(t)) })
	t.Run("ConditionalStatus", func(t *testing.T) { testConditionalStatus(t, newStore(t)) })
	t.Run("FailIndexingSites", func(t *testing.T) { testFailIndexingSites(t, newStore(t)) })
	t.Run("PagesAndCounts", func(t *testing.T) { testPagesAndCounts(t, newStore(t)) })
	t.Run("LemmaFrequency", func(t *testing.T) { testLemmaFrequency(t, newStore(t)) })
	t.Run("Postings", func(t *testing.T) { testPostings(t, newStore(t)) })
	t.Run("DeleteSiteCascades", func(t *testing.T) { testDeleteSiteCascades(t, newStore(t)) })
	t.Run("DeletePageKeepsLemmas", func(t *testing.T) { testDeletePageKeepsLemmas(t, newStore(t)) })
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newSite(t *testing.T, store crawler.Store, url string) crawler.Site {
	t.Helper()
	site, err := store.CreateSite(context.Background(), crawler.Site{
		URL:        url,
		Name:       "site " + url,
		Status:     crawler.SiteStatusIndexing,
		StatusTime: epoch,
	})
	require.NoError(t, err)
	require.NotZero(t, site.ID)
	return site
}

func testSiteLifecycle(t *testing.T, store crawler.Store) {
	ctx := context.Background()
	site := newSite(t, store, "https://a.example/")

	_, err := store.CreateSite(ctx, crawler.Site{URL: site.URL, Status: crawler.SiteStatusIndexing, StatusTime: epoch})
	require.ErrorIs(t, err, crawler.ErrConflict)

	got, err := store.SiteByURL(ctx, site.URL)
	require.NoError(t, err)
	require.Equal(t, site.ID, got.ID)
	require.Equal(t, crawler.SiteStatusIndexing, got.Status)
	require.True(t, got.StatusTime.Equal(epoch))

	_, err = store.SiteByURL(ctx, "https://missing.example/")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = store.SiteByID(ctx, site.ID+100)
	require.ErrorIs(t, err, crawler.ErrNotFound)

	later := epoch.Add(time.Minute)
	require.NoError(t, store.TouchSite(ctx, site.ID, later))
	require.NoError(t, store.SetSiteError(ctx, site.ID, "crawl error: timeout", later))
	got, err = store.SiteByID(ctx, site.ID)
	require.NoError(t, err)
	require.Equal(t, "crawl error: timeout", got.LastError)
	require.True(t, got.StatusTime.Equal(later))

	require.NoError(t, store.UpdateSiteStatus(ctx, site.ID, crawler.SiteStatusIndexed, "", later))
	require.NoError(t, store.TouchSite(ctx, site.ID, later.Add(time.Hour)))
	got, err = store.SiteByID(ctx, site.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.SiteStatusIndexed, got.Status)
	require.True(t, got.StatusTime.Equal(later), "touch must not move a finished site")

	second := newSite(t, store, "https://b.example/")
	sites, err := store.ListSites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	require.Equal(t, site.ID, sites[0].ID)
	require.Equal(t, second.ID, sites[1].ID)
}

func testConditionalStatus(t *testing.T, store crawler.Store) {
	ctx := context.Background()
	site := newSite(t, store, "https://a.example/")

	changed, err := store.UpdateSiteStatusIf(ctx, site.ID, crawler.SiteStatusIndexing, crawler.SiteStatusFailed, "stopped", epoch)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = store.UpdateSiteStatusIf(ctx, site.ID, crawler.SiteStatusIndexing, crawler.SiteStatusIndexed, "", epoch)
	require.NoError(t, err)
	require.False(t, changed)

	got, err := store.SiteByID(ctx, site.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.SiteStatusFailed, got.Status)
	require.Equal(t, "stopped", got.LastError)
}

func testFailIndexingSites(t *testing.T, store crawler.Store) {
	ctx := context.Background()
	first := newSite(t, store, "https://a.example/")
	second := newSite(t, store, "https://b.example/")
	require.NoError(t, store.UpdateSiteStatus(ctx, second.ID, crawler.SiteStatusIndexed, "", epoch))

	changed, err := store.FailIndexingSites(ctx, "indexing stopped by user", epoch)
	require.NoError(t, err)
	require.Equal(t, 1, changed)

	got, err := store.SiteByID(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.SiteStatusFailed, got.Status)
	require.Equal(t, "indexing stopped by user", got.LastError)

	changed, err = store.FailIndexingSites(ctx, "indexing stopped by user", epoch)
	require.NoError(t, err)
	require.Zero(t, changed)
}

func testPagesAndCounts(t *testing.T, store crawler.Store) {
	ctx := context.Background()
	site := newSite(t, store, "https://a.example/")
	other := newSite(t, store, "https://b.example/")

	page, err := store.SavePage(ctx, crawler.Page{SiteID: site.ID, Path: "/", Code: 200, Content: "<html></html>"})
	require.NoError(t, err)
	require.NotZero(t, page.ID)
	_, err = store.SavePage(ctx, crawler.Page{SiteID: site.ID, Path: "/", Code: 200})
	require.ErrorIs(t, err, crawler.ErrConflict)
	_, err = store.SavePage(ctx, crawler.Page{SiteID: site.ID, Path: "/missing", Code: 404})
	require.NoError(t, err)
	_, err = store.SavePage(ctx, crawler.Page{SiteID: other.ID, Path: "/", Code: 200})
	require.NoError(t, err)

	got, err := store.PageByPath(ctx, site.ID, "/")
	require.NoError(t, err)
	require.Equal(t, page.ID, got.ID)
	require.Equal(t, "<html></html>", got.Content)
	got, err = store.PageByID(ctx, page.ID)
	require.NoError(t, err)
	require.Equal(t, "/", got.Path)
	_, err = store.PageByPath(ctx, site.ID, "/nope")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	total, err := store.CountPages(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	bySite, err := store.CountPagesBySite(ctx, site.ID)
	require.NoError(t, err)
	require.Equal(t, 2, bySite)
	byURL, err := store.CountPagesBySiteURL(ctx, other.URL)
	require.NoError(t, err)
	require.Equal(t, 1, byURL)
	unknown, err := store.CountPagesBySiteURL(ctx, "https://unknown.example/")
	require.NoError(t, err)
	require.Zero(t, unknown)
}

func testLemmaFrequency(t *testing.T, store crawler.Store) {
	ctx := context.Background()
	first := newSite(t, store, "https://a.example/")
	second := newSite(t, store, "https://b.example/")

	lemma, err := store.IncrementLemma(ctx, first.ID, "кот")
	require.NoError(t, err)
	require.Equal(t, 1, lemma.Frequency)
	again, err := store.IncrementLemma(ctx, first.ID, "кот")
	require.NoError(t, err)
	require.Equal(t, lemma.ID, again.ID)
	require.Equal(t, 2, again.Frequency)
	_, err = store.IncrementLemma(ctx, second.ID, "кот")
	require.NoError(t, err)
	_, err = store.IncrementLemma(ctx, second.ID, "дом")
	require.NoError(t, err)

	total, err := store.TotalFrequency(ctx, "кот")
	require.NoError(t, err)
	require.Equal(t, 3, total)
	missing, err := store.TotalFrequency(ctx, "пес")
	require.NoError(t, err)
	require.Zero(t, missing)

	count, err := store.CountLemmas(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, count)
	count, err = store.CountLemmasBySite(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.NoError(t, store.DecrementLemma(ctx, lemma.ID))
	total, err = store.TotalFrequency(ctx, "кот")
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.NoError(t, store.DecrementLemma(ctx, lemma.ID))
	count, err = store.CountLemmasBySite(ctx, first.ID)
	require.NoError(t, err)
	require.Zero(t, count, "lemma at zero frequency is removed")
	require.ErrorIs(t, store.DecrementLemma(ctx, lemma.ID), crawler.ErrNotFound)
}

func testPostings(t *testing.T, store crawler.Store) {
	ctx := context.Background()
	first := newSite(t, store, "https://a.example/")
	second := newSite(t, store, "https://b.example/")

	pageA, err := store.SavePage(ctx, crawler.Page{SiteID: first.ID, Path: "/a", Code: 200})
	require.NoError(t, err)
	pageB, err := store.SavePage(ctx, crawler.Page{SiteID: second.ID, Path: "/b", Code: 200})
	require.NoError(t, err)
	lemmaA, err := store.IncrementLemma(ctx, first.ID, "кот")
	require.NoError(t, err)
	lemmaB, err := store.IncrementLemma(ctx, second.ID, "кот")
	require.NoError(t, err)

	require.NoError(t, store.SavePosting(ctx, crawler.Posting{PageID: pageA.ID, LemmaID: lemmaA.ID, Rank: 3}))
	require.NoError(t, store.SavePosting(ctx, crawler.Posting{PageID: pageB.ID, LemmaID: lemmaB.ID, Rank: 1}))
	require.ErrorIs(t, store.SavePosting(ctx, crawler.Posting{PageID: pageA.ID, LemmaID: lemmaA.ID, Rank: 1}), crawler.ErrConflict)

	all, err := store.PageIDsByLemma(ctx, "кот", 0)
	require.NoError(t, err)
	require.Equal(t, []int64{pageA.ID, pageB.ID}, all)
	scoped, err := store.PageIDsByLemma(ctx, "кот", second.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{pageB.ID}, scoped)
	none, err := store.PageIDsByLemma(ctx, "дом", 0)
	require.NoError(t, err)
	require.Empty(t, none)

	rank, err := store.RankByPageAndLemma(ctx, pageA.ID, "кот")
	require.NoError(t, err)
	require.InDelta(t, 3.0, rank, 1e-9)
	_, err = store.RankByPageAndLemma(ctx, pageA.ID, "дом")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	lemmas, err := store.LemmasByPage(ctx, pageA.ID)
	require.NoError(t, err)
	require.Len(t, lemmas, 1)
	require.Equal(t, lemmaA.ID, lemmas[0].ID)
	require.Equal(t, "кот", lemmas[0].NormalForm)
}

func testDeleteSiteCascades(t *testing.T, store crawler.Store) {
	ctx := context.Background()
	site := newSite(t, store, "https://a.example/")
	keep := newSite(t, store, "https://b.example/")

	page, err := store.SavePage(ctx, crawler.Page{SiteID: site.ID, Path: "/", Code: 200})
	require.NoError(t, err)
	lemma, err := store.IncrementLemma(ctx, site.ID, "кот")
	require.NoError(t, err)
	require.NoError(t, store.SavePosting(ctx, crawler.Posting{PageID: page.ID, LemmaID: lemma.ID, Rank: 1}))
	_, err = store.SavePage(ctx, crawler.Page{SiteID: keep.ID, Path: "/", Code: 200})
	require.NoError(t, err)

	require.NoError(t, store.DeleteSite(ctx, site.ID))

	_, err = store.SiteByID(ctx, site.ID)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = store.PageByID(ctx, page.ID)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	total, err := store.TotalFrequency(ctx, "кот")
	require.NoError(t, err)
	require.Zero(t, total)
	ids, err := store.PageIDsByLemma(ctx, "кот", 0)
	require.NoError(t, err)
	require.Empty(t, ids)
	pages, err := store.CountPages(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pages)
}

func testDeletePageKeepsLemmas(t *testing.T, store crawler.Store) {
	ctx := context.Background()
	site := newSite(t, store, "https://a.example/")
	page, err := store.SavePage(ctx, crawler.Page{SiteID: site.ID, Path: "/", Code: 200})
	require.NoError(t, err)
	lemma, err := store.IncrementLemma(ctx, site.ID, "кот")
	require.NoError(t, err)
	require.NoError(t, store.SavePosting(ctx, crawler.Posting{PageID: page.ID, LemmaID: lemma.ID, Rank: 2}))

	require.NoError(t, store.DeletePage(ctx, page.ID))

	ids, err := store.PageIDsByLemma(ctx, "кот", 0)
	require.NoError(t, err)
	require.Empty(t, ids)
	total, err := store.TotalFrequency(ctx, "кот")
	require.NoError(t, err)
	require.Equal(t, 1, total, "the caller owns lemma decrements")
	require.ErrorIs(t, store.DeletePage(ctx, page.ID), crawler.ErrNotFound)
}
