package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
)

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-UA", r.UserAgent())
		w.Header().Set("X-Seen-Lang", r.Header.Get("Accept-Language"))
		_, _ = w.Write([]byte("<html><title>ok</title></html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "default-agent"})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/page",
		Headers: http.Header{"User-Agent": {"override-agent"}, "Accept-Language": {"en-US"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "<title>ok</title>")
	assert.Equal(t, "override-agent", resp.Headers.Get("X-Seen-UA"))
	assert.Equal(t, "en-US", resp.Headers.Get("X-Seen-Lang"))
	assert.Equal(t, srv.URL+"/page", resp.URL)
}

func TestFetchUsesConfiguredUserAgent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.UserAgent()))
	}))
	t.Cleanup(srv.Close)

	resp, err := New(Config{UserAgent: "evidence-crawler/test"}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "evidence-crawler/test", string(resp.Body))
}

func TestFetchReportsErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	resp, err := New(Config{}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetchRevisitsSameURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("again"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{})
	for range 2 {
		resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
		require.NoError(t, err)
		assert.Equal(t, "again", string(resp.Body))
	}
}

func TestFetchHonoursRequestTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	start := time.Now()
	_, err := New(Config{Timeout: time.Minute}).Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL,
		Timeout: 100 * time.Millisecond,
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchRespectsRobotsWhenConfigured(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		_, _ = w.Write([]byte("page"))
	}))
	t.Cleanup(srv.Close)

	polite := New(Config{RespectRobots: true})
	_, err := polite.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/private/report"})
	require.Error(t, err)
	resp, err := polite.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/public"})
	require.NoError(t, err)
	assert.Equal(t, "page", string(resp.Body))

	resp, err = New(Config{}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/private/report"})
	require.NoError(t, err)
	assert.Equal(t, "page", string(resp.Body))
}

func TestFetchTruncatesLargeBodies(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 4096))
	}))
	t.Cleanup(srv.Close)

	resp, err := New(Config{MaxBodySize: 1024}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Len(t, resp.Body, 1024)
}

func TestFetchRejectsUnreachableHost(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Timeout: 2 * time.Second}).Fetch(context.Background(), crawler.FetchRequest{URL: "http://127.0.0.1:1/"})
	require.Error(t, err)
}
