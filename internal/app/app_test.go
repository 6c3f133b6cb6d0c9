package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-search/internal/app"
	"github.com/JakeFAU/site-search/internal/config"
	"github.com/JakeFAU/site-search/internal/crawler"
	memorypublisher "github.com/JakeFAU/site-search/internal/publisher/memory"
	"github.com/JakeFAU/site-search/internal/storage/memory"
)

// MockStore records Close calls on top of a working memory store.
type MockStore struct {
	*memory.Store
	mock.Mock
}

// Close satisfies crawler.Store for the mock.
func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockPublisher mocks a closable crawler.Publisher.
type MockPublisher struct {
	mock.Mock
}

// Publish satisfies crawler.Publisher for the mock.
func (m *MockPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

// Close lets App.Close release the mock.
func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

func testConfig(t *testing.T, siteURL string) config.Config {
	t.Helper()
	cfg := config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 10},
		Crawler: config.CrawlerConfig{
			UserAgent:             "SiteSearchTest/1.0",
			Concurrency:           2,
			RequestTimeoutSeconds: 5,
			RateLimitBurst:        1,
		},
		Sites:   []crawler.SiteConfig{{Name: "Local", URL: siteURL}},
		Search:  config.SearchConfig{MaxLemmaShare: 0.8, SnippetLength: 200, DefaultLimit: 20},
		Storage: config.StorageConfig{Backend: config.BackendMemory},
		PubSub:  config.PubSubConfig{TopicName: "campaigns"},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewMemoryBackend(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t, "https://example.com"), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, a.Store)
	assert.IsType(t, &memorypublisher.Publisher{}, a.Publisher)
	require.NoError(t, a.Ready(context.Background()))
	require.NoError(t, a.Close())
}

func TestNewSQLiteBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://example.com")
	cfg.Storage = config.StorageConfig{Backend: config.BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "index.db")}

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Ready(context.Background()))
	require.NoError(t, a.Close())
}

func TestNewConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		storage config.StorageConfig
		wantErr string
	}{
		{
			name:    "unknown backend",
			storage: config.StorageConfig{Backend: "redis"},
			wantErr: "unknown storage backend: redis",
		},
		{
			name:    "postgres with invalid dsn",
			storage: config.StorageConfig{Backend: config.BackendPostgres, DSN: "postgres://user@localhost:notaport/db"},
			wantErr: "init postgres store",
		},
		{
			name:    "sqlite without path",
			storage: config.StorageConfig{Backend: config.BackendSQLite},
			wantErr: "init sqlite store",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t, "https://example.com")
			cfg.Storage = tt.storage
			_, err := app.New(context.Background(), cfg, zap.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	t.Parallel()

	store := &MockStore{Store: memory.NewStore()}
	pub := new(MockPublisher)
	store.On("Close").Return(nil).Once()
	pub.On("Close").Return(nil).Once()

	a := &app.App{Logger: zap.NewNop(), Store: store, Publisher: pub}
	require.NoError(t, a.Close())

	store.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestCloseJoinsErrors(t *testing.T) {
	t.Parallel()

	store := &MockStore{Store: memory.NewStore()}
	pub := new(MockPublisher)
	store.On("Close").Return(errors.New("db error")).Once()
	pub.On("Close").Return(errors.New("pubsub error")).Once()

	a := &app.App{Logger: zap.NewNop(), Store: store, Publisher: pub}
	err := a.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error")
	assert.Contains(t, err.Error(), "pubsub error")

	store.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func newLocalSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprint(w, body)
		}
	}
	mux.HandleFunc("/{$}", page(`<html><head><title>Главная</title></head><body>
		<p>Кошки любят тёплое молоко.</p>
		<a href="/a">a</a> <a href="/b#top">b</a> <a href="/missing">m</a>
		<a href="https://elsewhere.example/x">x</a></body></html>`))
	mux.HandleFunc("/a", page(`<html><head><title>Собаки</title></head><body>
		<p>Собаки охраняют дом.</p><a href="/">home</a></body></html>`))
	mux.HandleFunc("/b", page(`<html><head><title>Вместе</title></head><body>
		<p>Кошки и собаки живут дружно.</p><a href="/a">a</a></body></html>`))
	mux.HandleFunc("/missing", http.NotFound)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, target string, out any) int {
	t.Helper()
	resp, err := http.Get(target) //nolint:gosec,noctx // test server URL
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestEndToEndCrawlAndSearch(t *testing.T) {
	t.Parallel()

	site := newLocalSite(t)
	a, err := app.New(context.Background(), testConfig(t, site.URL), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	api := httptest.NewServer(a.Server().Handler())
	t.Cleanup(api.Close)

	var status struct {
		Result bool   `json:"result"`
		Error  string `json:"error"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, api.URL+"/api/startIndexing", &status))
	require.True(t, status.Result)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, a.Registry.Wait(ctx))

	var stats struct {
		Result     bool `json:"result"`
		Statistics struct {
			Total struct {
				Sites    int  `json:"sites"`
				Pages    int  `json:"pages"`
				Indexing bool `json:"indexing"`
			} `json:"total"`
			Detailed []struct {
				Status string `json:"status"`
				Pages  int    `json:"pages"`
				Error  string `json:"error"`
			} `json:"detailed"`
		} `json:"statistics"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, api.URL+"/api/statistics", &stats))
	require.Equal(t, 1, stats.Statistics.Total.Sites)
	require.Equal(t, 4, stats.Statistics.Total.Pages, "three pages plus the stored 404")
	require.False(t, stats.Statistics.Total.Indexing)
	require.Len(t, stats.Statistics.Detailed, 1)
	require.Equal(t, string(crawler.SiteStatusIndexed), stats.Statistics.Detailed[0].Status)
	require.Empty(t, stats.Statistics.Detailed[0].Error)

	var found struct {
		Result bool `json:"result"`
		Count  int  `json:"count"`
		Data   []struct {
			URI     string `json:"uri"`
			Snippet string `json:"snippet"`
		} `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, api.URL+"/api/search?query="+url.QueryEscape("кошка"), &found))
	require.Equal(t, 2, found.Count)
	uris := []string{found.Data[0].URI, found.Data[1].URI}
	require.ElementsMatch(t, []string{"/", "/b"}, uris)
	require.Contains(t, found.Data[0].Snippet, "<b>")

	pub, ok := a.Publisher.(*memorypublisher.Publisher)
	require.True(t, ok)
	events := pub.MessagesFor("campaigns")
	require.Len(t, events, 1)
	event, ok := events[0].Payload.(crawler.CampaignEvent)
	require.True(t, ok)
	require.Equal(t, crawler.SiteStatusIndexed, event.Status)
	require.Equal(t, 4, event.Pages)

	resp, err := http.Post(api.URL+"/api/indexPage?url="+url.QueryEscape(site.URL+"/a"), "text/plain", nil) //nolint:noctx // test
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, http.StatusOK, getJSON(t, api.URL+"/api/statistics", &stats))
	require.Equal(t, 4, stats.Statistics.Total.Pages, "reindex replaces the page")
}
