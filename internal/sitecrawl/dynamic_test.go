package sitecrawl

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
	"github.com/JakeFAU/evidence-crawler/internal/registry"
)

type fakeSession struct {
	mu        sync.Mutex
	pages     []crawler.RenderedPage
	current   int
	queries   []string
	clickable map[string]bool
	navigated []string
	clicks    []string
	closed    int
	panicOn   int
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.navigated) > 0 {
		s.current++
	}
	s.navigated = append(s.navigated, url)
	return nil
}

func (s *fakeSession) WaitVisible(context.Context, string, time.Duration) error { return nil }

func (s *fakeSession) Rendered(_ context.Context, selector, linkAttr string) (crawler.RenderedPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOn > 0 && s.current+1 == s.panicOn {
		panic("renderer crashed")
	}
	s.queries = append(s.queries, selector+" "+linkAttr)
	if s.current >= len(s.pages) {
		return crawler.RenderedPage{}, errors.New("no such page")
	}
	return s.pages[s.current], nil
}

func (s *fakeSession) Click(_ context.Context, selector string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks = append(s.clicks, selector)
	if s.clickable[selector] && s.current+1 < len(s.pages) {
		s.current++
		return true, nil
	}
	return false, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeLauncher struct {
	session *fakeSession
	err     error
}

func (l *fakeLauncher) Launch(context.Context) (crawler.BrowserSession, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}

// rendered builds a page from "title|href" pairs the way a browser would
// report them.
func rendered(entries ...string) crawler.RenderedPage {
	page := crawler.RenderedPage{Size: 1024}
	for _, e := range entries {
		title, href, _ := strings.Cut(e, "|")
		page.Elements = append(page.Elements, crawler.RenderedElement{Text: title, Href: href})
	}
	return page
}

func dynamicSite() registry.Site {
	site := testSite()
	site.Config.Type = registry.StrategyDynamic
	site.Config.NextPage = ""
	site.Config.Pagination = registry.PaginationClick
	site.Config.NextButton = &registry.Selector{Tag: "a", Attr: "class", Value: "next"}
	return site
}

func newTestDynamic(session *fakeSession, logger *zap.Logger) *DynamicFetcher {
	return NewDynamicFetcher(&fakeLauncher{session: session}, DynamicConfig{Settle: -1}, logger)
}

func TestDynamicFetchSiteClicksThroughPages(t *testing.T) {
	t.Parallel()

	session := &fakeSession{
		pages: []crawler.RenderedPage{
			rendered("One|/1", "Two|/2"),
			rendered("Two|/2-dup", "Three|/3"),
			rendered("Four|/4"),
			rendered("Five|/5"),
		},
		clickable: map[string]bool{"a.next": true},
	}
	results := newTestDynamic(session, nil).FetchSite(context.Background(), dynamicSite(), "melting ice")

	assert.Equal(t, []string{"One", "Two", "Three", "Four"}, titles(results))
	url, _ := results.Get("Two")
	assert.Equal(t, "https://www.example.org/2", url)
	assert.Equal(t, []string{"https://www.example.org/search?q=melting+ice"}, session.navigated)
	assert.Equal(t, []string{"a.next", "a.next"}, session.clicks)
	assert.Equal(t, 1, session.closed)
}

func TestDynamicFetchSiteStopsWithoutNextControl(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	session := &fakeSession{pages: []crawler.RenderedPage{rendered("One|/1"), rendered("Two|/2")}}
	results := newTestDynamic(session, zap.New(core)).FetchSite(context.Background(), dynamicSite(), "kelp")

	assert.Equal(t, []string{"One"}, titles(results))
	assert.Equal(t, append([]string{"a.next"}, FallbackNextSelectors...), session.clicks)
	assert.Equal(t, 1, logs.FilterMessage("no next page control, stopping pagination").Len())
	assert.Equal(t, 1, session.closed)
}

func TestDynamicFetchSiteUsesFallbackControls(t *testing.T) {
	t.Parallel()

	session := &fakeSession{
		pages:     []crawler.RenderedPage{rendered("One|/1"), rendered("Two|/2")},
		clickable: map[string]bool{".pagination-next": true},
	}
	site := dynamicSite()
	site.Config.NextButton = nil
	results := newTestDynamic(session, nil).FetchSite(context.Background(), site, "coral")

	assert.Equal(t, []string{"One", "Two"}, titles(results))
	assert.Contains(t, session.clicks, ".pagination-next")
}

func TestDynamicFetchSiteNavigatesURLParamPages(t *testing.T) {
	t.Parallel()

	session := &fakeSession{pages: []crawler.RenderedPage{
		rendered("One|/1"),
		rendered("Two|/2"),
		rendered("Three|/3"),
	}}
	site := testSite()
	site.Config.Type = registry.StrategyDynamic
	results := newTestDynamic(session, nil).FetchSite(context.Background(), site, "drought")

	assert.Equal(t, []string{"One", "Two", "Three"}, titles(results))
	assert.Equal(t, []string{
		"https://www.example.org/search?q=drought",
		"https://www.example.org/search?q=drought&page=2",
		"https://www.example.org/search?q=drought&page=3",
	}, session.navigated)
	assert.Empty(t, session.clicks)
}

func TestDynamicFetchSiteRecoversPanicAndCloses(t *testing.T) {
	t.Parallel()

	session := &fakeSession{
		pages:     []crawler.RenderedPage{rendered("One|/1"), rendered("Two|/2")},
		clickable: map[string]bool{"a.next": true},
		panicOn:   2,
	}
	var results *crawler.Results
	require.NotPanics(t, func() {
		results = newTestDynamic(session, nil).FetchSite(context.Background(), dynamicSite(), "storm")
	})
	assert.Equal(t, []string{"One"}, titles(results))
	assert.Equal(t, 1, session.closed)
}

func TestDynamicFetchSiteLaunchFailure(t *testing.T) {
	t.Parallel()

	fetcher := NewDynamicFetcher(&fakeLauncher{err: errors.New("no chrome")}, DynamicConfig{}, nil)
	results := fetcher.FetchSite(context.Background(), dynamicSite(), "heat")
	require.NotNil(t, results)
	assert.Equal(t, 0, results.Len())
}

func TestDynamicFetchSiteKeepsOnlyRenderedTextWithLinks(t *testing.T) {
	t.Parallel()

	session := &fakeSession{pages: []crawler.RenderedPage{{
		Location: "https://www.example.org/search/results?q=snow",
		Elements: []crawler.RenderedElement{
			{Text: "  Shown\n  headline ", Href: "/shown"},
			{Text: "", Href: "/hidden-children-only"},
			{Text: "Relative", Href: "item/7"},
			{Text: "Mail", Href: "mailto:x@example.org"},
			{Text: "No link"},
		},
	}}}
	site := dynamicSite()
	site.Config.LinkAttribute = "data-href"
	results := newTestDynamic(session, nil).FetchSite(context.Background(), site, "snow")

	assert.Equal(t, []crawler.ResultEntry{
		{Title: "Shown headline", URL: "https://www.example.org/shown"},
		{Title: "Relative", URL: "https://www.example.org/search/item/7"},
	}, results.Entries())
	assert.Equal(t, []string{"div.result data-href"}, session.queries[:1])
}

func TestDynamicFetchSiteStopsWhenResultsUnreadable(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	results := newTestDynamic(session, nil).FetchSite(context.Background(), dynamicSite(), "hail")
	assert.Equal(t, 0, results.Len())
	assert.Empty(t, session.clicks)
	assert.Equal(t, 1, session.closed)
}

func titles(r *crawler.Results) []string {
	var out []string
	for _, e := range r.Entries() {
		out = append(out, e.Title)
	}
	return out
}
