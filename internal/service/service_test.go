package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
	"github.com/JakeFAU/evidence-crawler/internal/evidence"
	"github.com/JakeFAU/evidence-crawler/internal/progress"
	"github.com/JakeFAU/evidence-crawler/internal/publisher/memory"
	"github.com/JakeFAU/evidence-crawler/internal/search"
	"github.com/JakeFAU/evidence-crawler/internal/walker"
)

type fakeCrawler struct {
	category, keywords string
	requestID          string
}

func (f *fakeCrawler) Crawl(ctx context.Context, category, keywords string) crawler.CrawlReport {
	f.category, f.keywords = category, keywords
	f.requestID = progress.RequestID(ctx)
	results := crawler.NewResults()
	results.Add("Ocean warming", "https://example.org/ocean")
	results.Add("Sea ice", "https://example.org/ice")
	return crawler.CrawlReport{Category: category, Keywords: []string{keywords}, Results: results}
}

type fakeSearcher struct{}

func (fakeSearcher) Search(_ context.Context, req search.Request) search.Response {
	results := orderedmap.New[string, []search.Result]()
	attempts := []crawler.SearchAttempt{}
	for _, kw := range req.Keywords {
		results.Set(kw, []search.Result{{Title: kw + " report", URL: "https://example.org/" + kw}})
		attempts = append(attempts, crawler.SearchAttempt{Keyword: kw, Method: crawler.SearchMethodExact, ResultCount: 1})
	}
	return search.Response{BaseURL: req.BaseURL, Keywords: req.Keywords, Results: results, Attempts: attempts}
}

type fakeWalker struct{}

func (fakeWalker) Walk(_ context.Context, req walker.Request) walker.Report {
	return walker.Report{URLs: []string{req.StartURL}, FilePaths: []string{""}, Keywords: req.Keywords, Visited: 1}
}

type fakeExtractor struct{ err error }

func (f fakeExtractor) Extract(_ context.Context, pageURL, keywords string, _ int) (evidence.Record, error) {
	if f.err != nil {
		return evidence.Record{}, f.err
	}
	ev := orderedmap.New[string, []string]()
	ev.Set(keywords, []string{"first paragraph", "second paragraph"})
	return evidence.Record{URL: pageURL, Query: keywords, Evidence: ev}, nil
}

type fakeCatalog struct{}

func (fakeCatalog) Categories() []string    { return []string{"Climate", "General"} }
func (fakeCatalog) DefaultCategory() string { return "General" }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "req-" + string(rune('0'+s.n)), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

type recordingAttempts struct {
	requestID, baseURL string
	attempts           []crawler.SearchAttempt
	err                error
}

func (r *recordingAttempts) StoreAttempts(_ context.Context, requestID, baseURL string, attempts []crawler.SearchAttempt) error {
	r.requestID, r.baseURL, r.attempts = requestID, baseURL, attempts
	return r.err
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func newTestService(t *testing.T, mutate func(*Deps)) (*Service, *memory.Publisher) {
	t.Helper()
	pub := memory.New()
	deps := Deps{
		Crawler:   &fakeCrawler{},
		Searcher:  fakeSearcher{},
		Walker:    fakeWalker{},
		Extractor: fakeExtractor{},
		Catalog:   fakeCatalog{},
		IDs:       &seqIDs{},
		Clock:     fixedClock{},
		Publisher: pub,
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc, err := New(deps, Config{Topic: "crawls"}, nil)
	require.NoError(t, err)
	return svc, pub
}

func TestCrawlAssignsRequestIDAndPublishes(t *testing.T) {
	t.Parallel()

	fc := &fakeCrawler{}
	svc, pub := newTestService(t, func(d *Deps) { d.Crawler = fc })

	report, err := svc.Crawl(context.Background(), CrawlRequest{Category: "Climate", Keywords: "ocean"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", report.RequestID)
	assert.Equal(t, 2, report.Results.Len())

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "crawls", msgs[0].Topic)
	event, ok := msgs[0].Payload.(Event)
	require.True(t, ok)
	assert.Equal(t, Event{
		Kind:        KindCrawl,
		RequestID:   "req-1",
		Subject:     "Climate",
		ResultCount: 2,
		CompletedAt: fixedClock{}.Now(),
	}, event)
}

func TestCrawlDefaultsCategory(t *testing.T) {
	t.Parallel()

	fc := &fakeCrawler{}
	svc, _ := newTestService(t, func(d *Deps) { d.Crawler = fc })

	_, err := svc.Crawl(context.Background(), CrawlRequest{Keywords: "ocean heat"})
	require.NoError(t, err)
	assert.Equal(t, "General", fc.category)
	assert.Equal(t, "ocean heat", fc.keywords)
}

func TestCrawlRejectsBlankKeywords(t *testing.T) {
	t.Parallel()

	svc, pub := newTestService(t, nil)
	_, err := svc.Crawl(context.Background(), CrawlRequest{Category: "Climate", Keywords: "   "})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, pub.Messages())
}

func TestSearchStoresAttempts(t *testing.T) {
	t.Parallel()

	store := &recordingAttempts{}
	svc, pub := newTestService(t, func(d *Deps) { d.Attempts = store })

	resp, err := svc.Search(context.Background(), search.Request{
		BaseURL:  "https://www.ipcc.ch",
		Keywords: []string{"sea level", "warming"},
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "req-1", store.requestID)
	assert.Equal(t, "https://www.ipcc.ch", store.baseURL)
	require.Len(t, store.attempts, 2)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].Payload.(Event).ResultCount)
}

func TestSearchToleratesAttemptStoreFailure(t *testing.T) {
	t.Parallel()

	store := &recordingAttempts{err: errors.New("db down")}
	svc, _ := newTestService(t, func(d *Deps) { d.Attempts = store })

	resp, err := svc.Search(context.Background(), search.Request{BaseURL: "https://example.org", Keywords: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Results.Len())
}

func TestSearchValidatesInput(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	_, err := svc.Search(context.Background(), search.Request{Keywords: []string{"x"}})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Search(context.Background(), search.Request{BaseURL: "https://example.org", Keywords: []string{" "}})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestWalkValidatesStartURL(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	_, err := svc.Walk(context.Background(), walker.Request{StartURL: "ftp://example.org", Keywords: []string{"x"}})
	require.ErrorIs(t, err, ErrInvalidRequest)

	report, err := svc.Walk(context.Background(), walker.Request{StartURL: "https://example.org", Keywords: []string{"x", ""}})
	require.NoError(t, err)
	assert.Equal(t, "req-1", report.RequestID)
	assert.Equal(t, []string{"x"}, report.Keywords)
}

func TestExtractWrapsErrors(t *testing.T) {
	t.Parallel()

	svc, pub := newTestService(t, func(d *Deps) { d.Extractor = fakeExtractor{err: errors.New("status 404")} })
	_, err := svc.Extract(context.Background(), ExtractRequest{URL: "https://example.org/a", Keywords: "ice"})
	require.ErrorContains(t, err, "status 404")
	assert.NotErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, pub.Messages())
}

func TestExtractCountsParagraphs(t *testing.T) {
	t.Parallel()

	svc, pub := newTestService(t, nil)
	record, err := svc.Extract(context.Background(), ExtractRequest{URL: "https://example.org/a", Keywords: "ice"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", record.RequestID)
	require.Len(t, pub.Messages(), 1)
	assert.Equal(t, 2, pub.Messages()[0].Payload.(Event).ResultCount)
}

func TestRequestIDFailure(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, func(d *Deps) { d.IDs = failingIDs{} })
	_, err := svc.Crawl(context.Background(), CrawlRequest{Keywords: "ocean"})
	require.ErrorContains(t, err, "entropy exhausted")
}

func TestCategories(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	assert.Equal(t, CategoryList{Categories: []string{"Climate", "General"}, Default: "General"}, svc.Categories())
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{}, nil)
	require.Error(t, err)
}

func TestNoPublisherIsFine(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, func(d *Deps) { d.Publisher = nil })
	_, err := svc.Crawl(context.Background(), CrawlRequest{Keywords: "ocean"})
	require.NoError(t, err)
}

func TestCrawlEmitsProgressAndTagsContext(t *testing.T) {
	t.Parallel()

	fc := &fakeCrawler{}
	em := &recordingEmitter{}
	svc, _ := newTestService(t, func(d *Deps) {
		d.Crawler = fc
		d.Progress = em
	})

	_, err := svc.Crawl(context.Background(), CrawlRequest{Keywords: "ocean"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", fc.requestID)

	require.Len(t, em.events, 2)
	assert.Equal(t, progress.StageRequestStart, em.events[0].Stage)
	assert.Equal(t, KindCrawl, em.events[0].Kind)
	assert.Equal(t, progress.StageRequestDone, em.events[1].Stage)
	assert.Equal(t, 2, em.events[1].Results)
	for _, evt := range em.events {
		assert.Equal(t, "req-1", evt.RequestID)
		require.NoError(t, evt.Validate())
	}
}

func TestExtractFailureEmitsRequestError(t *testing.T) {
	t.Parallel()

	em := &recordingEmitter{}
	svc, _ := newTestService(t, func(d *Deps) {
		d.Extractor = fakeExtractor{err: errors.New("status 404")}
		d.Progress = em
	})

	_, err := svc.Extract(context.Background(), ExtractRequest{URL: "https://example.org/a", Keywords: "gdp"})
	require.Error(t, err)

	require.Len(t, em.events, 2)
	assert.Equal(t, progress.StageRequestError, em.events[1].Stage)
	assert.Equal(t, KindExtract, em.events[1].Kind)
	assert.Equal(t, "status 404", em.events[1].Note)
}
