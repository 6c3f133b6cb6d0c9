package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-search/internal/crawler"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestPingReportsPoolErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRunsEveryStatement(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	for range schemaStatements {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSiteReturnsID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	site := crawler.Site{URL: "https://a.example/", Name: "A", Status: crawler.SiteStatusIndexing, StatusTime: now}

	mock.ExpectQuery("INSERT INTO site").
		WithArgs(site.URL, site.Name, "INDEXING", now, "").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(7)))

	got, err := store.CreateSite(context.Background(), site)
	require.NoError(t, err)
	require.Equal(t, int64(7), got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSiteConflict(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO site").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: "site_url_key"})

	_, err := store.CreateSite(context.Background(), crawler.Site{URL: "https://a.example/"})
	require.ErrorIs(t, err, crawler.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSiteByURLScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("FROM site WHERE url").
		WithArgs("https://a.example/").
		WillReturnRows(mock.NewRows([]string{"id", "url", "name", "status", "status_time", "last_error"}).
			AddRow(int64(3), "https://a.example/", "A", "INDEXED", now, ""))

	site, err := store.SiteByURL(context.Background(), "https://a.example/")
	require.NoError(t, err)
	require.Equal(t, crawler.Site{
		ID: 3, URL: "https://a.example/", Name: "A", Status: crawler.SiteStatusIndexed, StatusTime: now,
	}, site)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSiteByURLNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM site WHERE url").
		WithArgs("https://missing.example/").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.SiteByURL(context.Background(), "https://missing.example/")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSiteStatusIf(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE site SET status").
		WithArgs("INDEXED", "", now, int64(3), "INDEXING").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	changed, err := store.UpdateSiteStatusIf(
		context.Background(), 3, crawler.SiteStatusIndexing, crawler.SiteStatusIndexed, "", now)
	require.NoError(t, err)
	require.False(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailIndexingSitesReportsRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE site SET status").
		WithArgs("FAILED", "indexing stopped by user", now, "INDEXING").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	changed, err := store.FailIndexingSites(context.Background(), "indexing stopped by user", now)
	require.NoError(t, err)
	require.Equal(t, 2, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSiteMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM site").
		WithArgs(int64(9)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.ErrorIs(t, store.DeleteSite(context.Background(), 9), crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementLemmaUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("ON CONFLICT").
		WithArgs(int64(1), "кот").
		WillReturnRows(mock.NewRows([]string{"id", "site_id", "lemma", "frequency"}).
			AddRow(int64(11), int64(1), "кот", 4))

	lemma, err := store.IncrementLemma(context.Background(), 1, "кот")
	require.NoError(t, err)
	require.Equal(t, crawler.Lemma{ID: 11, SiteID: 1, NormalForm: "кот", Frequency: 4}, lemma)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementLemmaDeletesAtZero(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE lemma SET frequency").
		WithArgs(int64(11)).
		WillReturnRows(mock.NewRows([]string{"frequency"}).AddRow(0))
	mock.ExpectExec("DELETE FROM lemma").
		WithArgs(int64(11)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.DecrementLemma(context.Background(), 11))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementLemmaKeepsPositive(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE lemma SET frequency").
		WithArgs(int64(11)).
		WillReturnRows(mock.NewRows([]string{"frequency"}).AddRow(2))

	require.NoError(t, store.DecrementLemma(context.Background(), 11))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPageIDsByLemma(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM search_index").
		WithArgs("кот", int64(0)).
		WillReturnRows(mock.NewRows([]string{"page_id"}).AddRow(int64(1)).AddRow(int64(5)))

	ids, err := store.PageIDsByLemma(context.Background(), "кот", 0)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 5}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTotalFrequency(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SUM\\(frequency\\)").
		WithArgs("кот").
		WillReturnRows(mock.NewRows([]string{"sum"}).AddRow(int64(6)))

	total, err := store.TotalFrequency(context.Background(), "кот")
	require.NoError(t, err)
	require.Equal(t, 6, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePostingForeignKey(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO search_index").
		WithArgs(int64(1), int64(2), 3.0).
		WillReturnError(&pgconn.PgError{Code: foreignKeyViolation, ConstraintName: "search_index_page_id_fkey"})

	err := store.SavePosting(context.Background(), crawler.Posting{PageID: 1, LemmaID: 2, Rank: 3})
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
