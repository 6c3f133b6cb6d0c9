package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-search/internal/crawler"
	"github.com/JakeFAU/site-search/internal/indexer"
	"github.com/JakeFAU/site-search/internal/search"
	"github.com/JakeFAU/site-search/internal/statistics"
)

type fakeJobs struct {
	mu      sync.Mutex
	running bool
	err     error
}

func (f *fakeJobs) Start(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.running {
		return false, nil
	}
	f.running = true
	return true, nil
}

func (f *fakeJobs) Stop(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return false, nil
	}
	f.running = false
	return true, nil
}

func (f *fakeJobs) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

type fakeReindexer struct {
	urls []string
	err  error
}

func (f *fakeReindexer) ReindexPage(_ context.Context, rawURL string) (crawler.Page, error) {
	f.urls = append(f.urls, rawURL)
	return crawler.Page{Path: "/"}, f.err
}

type fakeSearcher struct {
	last   search.Query
	result search.Result
	err    error
	panic  bool
}

func (f *fakeSearcher) Search(_ context.Context, q search.Query) (search.Result, error) {
	if f.panic {
		panic("index corrupted")
	}
	f.last = q
	return f.result, f.err
}

type fakeStats struct {
	stats statistics.Statistics
	err   error
}

func (f *fakeStats) Get(context.Context) (statistics.Statistics, error) {
	return f.stats, f.err
}

type testServer struct {
	jobs      *fakeJobs
	reindexer *fakeReindexer
	searcher  *fakeSearcher
	stats     *fakeStats
	server    *Server
}

func newTestServer(opts Options) *testServer {
	ts := &testServer{
		jobs:      &fakeJobs{},
		reindexer: &fakeReindexer{},
		searcher:  &fakeSearcher{result: search.Result{Items: []search.Item{}}},
		stats:     &fakeStats{},
	}
	ts.server = NewServer(ts.jobs, ts.reindexer, ts.searcher, ts.stats, opts, zap.NewNop())
	return ts
}

func (ts *testServer) do(t *testing.T, method, target string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestServerStartStopIndexing(t *testing.T) {
	t.Parallel()
	ts := newTestServer(Options{})

	rec, body := ts.do(t, http.MethodGet, "/api/startIndexing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["result"])

	rec, body = ts.do(t, http.MethodGet, "/api/startIndexing", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, false, body["result"])
	require.Equal(t, "indexing is already running", body["error"])

	rec, body = ts.do(t, http.MethodGet, "/api/stopIndexing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["result"])

	rec, body = ts.do(t, http.MethodGet, "/api/stopIndexing", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "indexing is not running", body["error"])
}

func TestServerStartIndexingError(t *testing.T) {
	t.Parallel()
	ts := newTestServer(Options{})
	ts.jobs.err = errors.New("db down")

	rec, body := ts.do(t, http.MethodGet, "/api/startIndexing", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, false, body["result"])
	require.Equal(t, "db down", body["error"])
}

func TestServerIndexPage(t *testing.T) {
	t.Parallel()
	ts := newTestServer(Options{})

	target := "/api/indexPage?url=" + url.QueryEscape("https://example.com/news")
	rec, body := ts.do(t, http.MethodPost, target, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["result"])
	require.Equal(t, []string{"https://example.com/news"}, ts.reindexer.urls)

	rec, body = ts.do(t, http.MethodPost, "/api/indexPage", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "url is required", body["error"])

	ts.reindexer.err = fmt.Errorf("reindex: %w", indexer.ErrOutOfScope)
	rec, body = ts.do(t, http.MethodPost, "/api/indexPage?url=https://other.org/", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "page is outside the configured sites", body["error"])

	rec, _ = ts.do(t, http.MethodGet, target, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerSearch(t *testing.T) {
	t.Parallel()
	ts := newTestServer(Options{})
	ts.searcher.result = search.Result{
		Total: 7,
		Items: []search.Item{{Site: "https://example.com", SiteName: "Example", URI: "/a", Title: "A",
			Snippet: "<b>кот</b>...", Relevance: 1}},
	}

	rec, body := ts.do(t, http.MethodGet, "/api/search?query=кот&site=https://example.com/&offset=5&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["result"])
	require.EqualValues(t, 7, body["count"])
	data, ok := body["data"].([]any)
	require.True(t, ok)
	require.Len(t, data, 1)
	first := data[0].(map[string]any)
	require.Equal(t, "/a", first["uri"])
	require.Equal(t, "Example", first["siteName"])
	require.Equal(t, search.Query{Text: "кот", Site: "https://example.com/", Offset: 5, Limit: 1}, ts.searcher.last)
}

func TestServerSearchValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(Options{})

	tests := []struct {
		target string
		code   int
		errMsg string
	}{
		{"/api/search?query=a&offset=-1", http.StatusBadRequest, "offset must be a non-negative integer"},
		{"/api/search?query=a&limit=ten", http.StatusBadRequest, "limit must be a non-negative integer"},
	}
	for _, tt := range tests {
		rec, body := ts.do(t, http.MethodGet, tt.target, nil)
		require.Equal(t, tt.code, rec.Code, tt.target)
		require.Equal(t, tt.errMsg, body["error"], tt.target)
	}

	ts.searcher.err = errors.New("storage unavailable")
	rec, body := ts.do(t, http.MethodGet, "/api/search?query=a", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, body["error"], "storage unavailable")
}

func TestServerSearchBlankQueryIsEmpty(t *testing.T) {
	t.Parallel()

	for _, target := range []string{
		"/api/search",
		"/api/search?query=%20%20",
		"/api/search?query=a&site=https://nope.example",
	} {
		ts := newTestServer(Options{})
		rec, body := ts.do(t, http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, rec.Code, target)
		require.Equal(t, true, body["result"], target)
		require.EqualValues(t, 0, body["count"], target)
		data, ok := body["data"].([]any)
		require.True(t, ok, target)
		require.Empty(t, data, target)
	}

	ts := newTestServer(Options{})
	ts.do(t, http.MethodGet, "/api/search?query=%20%20", nil)
	require.Equal(t, "  ", ts.searcher.last.Text)
}

func TestServerStatistics(t *testing.T) {
	t.Parallel()
	ts := newTestServer(Options{})
	ts.stats.stats = statistics.Statistics{
		Total:    statistics.Total{Sites: 1, Pages: 4, Lemmas: 9},
		Detailed: []statistics.Detailed{{URL: "https://example.com/", Name: "Example", Status: crawler.SiteStatusIndexed}},
	}

	rec, body := ts.do(t, http.MethodGet, "/api/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["result"])
	stats := body["statistics"].(map[string]any)
	total := stats["total"].(map[string]any)
	require.EqualValues(t, 4, total["pages"])
	require.Equal(t, false, total["indexing"])
	require.Len(t, stats["detailed"], 1)
}

func TestServerRecoversPanics(t *testing.T) {
	t.Parallel()
	ts := newTestServer(Options{})
	ts.searcher.panic = true

	rec, body := ts.do(t, http.MethodGet, "/api/search?query=кот", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, false, body["result"])
	require.Equal(t, "internal server error", body["error"])
}

func TestServerAPIKeyGuardsJobControl(t *testing.T) {
	t.Parallel()
	ts := newTestServer(Options{APIKey: "secret"})

	rec, _ := ts.do(t, http.MethodGet, "/api/startIndexing", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, ts.jobs.IsActive())

	rec, _ = ts.do(t, http.MethodGet, "/api/startIndexing", http.Header{"X-Api-Key": {"secret"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/stopIndexing?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/search?query=кот", nil)
	require.Equal(t, http.StatusOK, rec.Code, "search stays public")
	rec, _ = ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerProbes(t *testing.T) {
	t.Parallel()

	ready := newTestServer(Options{})
	rec, body := ready.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ready", body["status"])

	down := newTestServer(Options{Ready: func(context.Context) error { return errors.New("no db") }})
	rec, body = down.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "unavailable", body["status"])

	rec, _ = ready.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()
	ts := newTestServer(Options{NewID: func() string { return "req-1" }})

	rec, _ := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	rec, _ = ts.do(t, http.MethodGet, "/healthz", http.Header{"X-Request-Id": {"upstream"}})
	require.Equal(t, "upstream", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.client.Close())
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}
