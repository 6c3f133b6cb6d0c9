package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"mixed case https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2xx", StatusClass(200))
	require.Equal(t, "4xx", StatusClass(404))
	require.Equal(t, "5xx", StatusClass(503))
	require.Equal(t, "error", StatusClass(0))
}

func TestObserversAfterInit(t *testing.T) {
	Init()
	Init()

	ObservePage("https://pages.test/a", 404, 10)
	require.InDelta(t, 1.0, testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("pages.test", "4xx")), 1e-9)
	require.InDelta(t, 10.0, testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("pages.test")), 1e-9)

	ObserveLemmas("https://pages.test/", 3)
	require.InDelta(t, 3.0, testutil.ToFloat64(indexLemmasTotal.WithLabelValues("pages.test")), 1e-9)

	before := testutil.ToFloat64(searchQueriesTotal.WithLabelValues("empty"))
	ObserveSearch("empty", time.Millisecond)
	require.InDelta(t, before+1, testutil.ToFloat64(searchQueriesTotal.WithLabelValues("empty")), 1e-9)

	before = testutil.ToFloat64(crawlerCampaignsTotal.WithLabelValues("INDEXED"))
	ObserveCampaign("INDEXED")
	require.InDelta(t, before+1, testutil.ToFloat64(crawlerCampaignsTotal.WithLabelValues("INDEXED")), 1e-9)
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
