package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"http://example.com/path":  "example.com",
		"https://Example.com/path": "example.com",
		"example.com/path":         "example.com",
		"example.com":              "example.com",
		"example.com:8080":         "example.com",
		"192.168.1.1":              "192.168.1.1",
		"ftp://files.example":      "files.example",
		"http://%":                 unknownSite,
		"":                         unknownSite,
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeSite(in), "SanitizeSite(%q)", in)
	}
}

func TestNewCollectorsRegisterOnce(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_ = newCollectors(reg)
	assert.Panics(t, func() { _ = newCollectors(reg) })
}

func TestInitIdempotent(t *testing.T) {
	Init()
	first := std
	Init()
	require.NotNil(t, first)
	assert.Same(t, first, std)
}

func TestObservePage(t *testing.T) {
	c := get()
	pages := c.pages.WithLabelValues("static", "pages.example", "ok")
	bytes := c.bytes.WithLabelValues("pages.example")
	pagesBefore, bytesBefore := testutil.ToFloat64(pages), testutil.ToFloat64(bytes)

	ObservePage("static", "https://pages.example/search?q=x", "ok", 128)
	ObservePage("static", "https://pages.example/search?q=y", "ok", 0)

	assert.Equal(t, pagesBefore+2, testutil.ToFloat64(pages))
	assert.Equal(t, bytesBefore+128, testutil.ToFloat64(bytes))
}

func TestObserveSearchAttemptAndResults(t *testing.T) {
	c := get()
	attempts := c.searches.WithLabelValues("fallback")
	before := testutil.ToFloat64(attempts)
	ObserveSearchAttempt("fallback")
	assert.Equal(t, before+1, testutil.ToFloat64(attempts))

	results := c.results.WithLabelValues("dynamic")
	resultsBefore := testutil.ToFloat64(results)
	ObserveResults("dynamic", 0)
	ObserveResults("dynamic", 3)
	assert.Equal(t, resultsBefore+3, testutil.ToFloat64(results))
}

func TestBrowserSessionsGauge(t *testing.T) {
	c := get()
	before := testutil.ToFloat64(c.browsers)
	IncBrowserSessions()
	assert.Equal(t, before+1, testutil.ToFloat64(c.browsers))
	DecBrowserSessions()
	assert.Equal(t, before, testutil.ToFloat64(c.browsers))
}

func TestObserveRateLimitDelay(t *testing.T) {
	ObserveRateLimitDelay("example.com", 250*time.Millisecond)
	assert.Positive(t, testutil.CollectAndCount(get().rateLimitWaits))
}

func TestHandlerServesMetrics(t *testing.T) {
	ObserveSearchAttempt("exact")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "search_attempts_total")
}

func FuzzSanitizeSite(f *testing.F) {
	for _, seed := range []string{"http://example.com", "https://google.com", "ftp://example.com", "://"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		if SanitizeSite(in) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", in)
		}
	})
}
