// Package search finds evidence on an arbitrary site by driving its own
// search page and reading the results with a cascade of selectors.
package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
	"github.com/JakeFAU/evidence-crawler/internal/extract"
	"github.com/JakeFAU/evidence-crawler/internal/metrics"
)

// Defaults.
const (
	DefaultTimeout    = 15 * time.Second
	DefaultMaxResults = 10
	DefaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	maxDescription = 100
)

// resultSelectors run in order; the first one that yields a usable result
// decides the results for the keyword.
var resultSelectors = []string{
	"div.search-results a",
	".search-result a",
	"article.search-result a",
	"div.result a",
	"article.result a",
	"div.results a",
	"article.results a",
	"ul.search-results li a",
	"ol.search-results li a",
	"ul.results li a",
	"ol.results li a",
	".ipcc-search-results a",
	".nasa-search-results a",
	".search-listing a",
	".searchResults a",
	".search-content a",
	"main a",
	"#content a",
	"#main-content a",
	".content a",
	".main-content a",
	"article a",
}

// Archiver stores fetched pages.
type Archiver interface {
	Save(ctx context.Context, kind, sourceURL string, body []byte) (string, error)
}

type waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the Engine.
type Config struct {
	Timeout         time.Duration
	MaxResults      int
	Language        string
	UserAgent       string
	SaveResultPages bool
}

// Result is one link found for a keyword.
type Result struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	FilePath string `json:"file_path,omitempty"`
}

// Request asks for every keyword to be searched on BaseURL.
type Request struct {
	BaseURL    string   `json:"base_url"`
	Keywords   []string `json:"keywords"`
	MaxResults int      `json:"max_results,omitempty"`
	Language   string   `json:"language,omitempty"`
}

// Response collects per-keyword results in request order.
type Response struct {
	RequestID   string                                   `json:"request_id,omitempty"`
	BaseURL     string                                   `json:"base_url"`
	Keywords    []string                                 `json:"keywords"`
	Results     *orderedmap.OrderedMap[string, []Result] `json:"results"`
	SearchPages map[string]string                        `json:"search_pages,omitempty"`
	Attempts    []crawler.SearchAttempt                  `json:"attempts"`
}

// Engine runs keyword searches against a site's own search page.
type Engine struct {
	fetcher  crawler.Fetcher
	archiver Archiver
	limiter  waiter
	cfg      Config
	logger   *zap.Logger
}

// New builds an Engine. archiver and limiter may be nil.
func New(fetcher crawler.Fetcher, archiver Archiver, limiter waiter, cfg Config, logger *zap.Logger) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	cfg.Language = NormalizeLanguage(cfg.Language)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{fetcher: fetcher, archiver: archiver, limiter: limiter, cfg: cfg, logger: logger}
}

// Search runs every keyword in order. Keywords do not affect each other:
// a failing keyword only records an error attempt.
func (e *Engine) Search(ctx context.Context, req Request) Response {
	resp := Response{
		BaseURL:  req.BaseURL,
		Keywords: cleanKeywords(req.Keywords),
		Results:  orderedmap.New[string, []Result](),
		Attempts: []crawler.SearchAttempt{},
	}
	for _, keyword := range resp.Keywords {
		results, attempt, searchPage := e.searchKeyword(ctx, req.BaseURL, keyword, req.MaxResults, req.Language)
		resp.Results.Set(keyword, results)
		resp.Attempts = append(resp.Attempts, attempt)
		if searchPage != "" {
			if resp.SearchPages == nil {
				resp.SearchPages = make(map[string]string)
			}
			resp.SearchPages[keyword] = searchPage
		}
	}
	return resp
}

// SearchKeyword searches one keyword and reports how the results were found.
func (e *Engine) SearchKeyword(ctx context.Context, baseURL, keyword string, maxResults int, language string) ([]Result, crawler.SearchAttempt) {
	results, attempt, _ := e.searchKeyword(ctx, baseURL, keyword, maxResults, language)
	return results, attempt
}

func (e *Engine) searchKeyword(
	ctx context.Context,
	baseURL, keyword string,
	maxResults int,
	language string,
) ([]Result, crawler.SearchAttempt, string) {
	baseURL = crawler.SiteBaseURL(baseURL)
	if maxResults <= 0 {
		maxResults = e.cfg.MaxResults
	}
	if language == "" {
		language = e.cfg.Language
	}
	searchURL := BuildURL(baseURL, keyword, language)
	logger := e.logger.With(zap.String("site", baseURL), zap.String("keyword", keyword), zap.String("url", searchURL))

	attempt := crawler.SearchAttempt{Keyword: keyword}
	fail := func(err error) ([]Result, crawler.SearchAttempt, string) {
		logger.Warn("search failed", zap.Error(err))
		attempt.Method = crawler.SearchMethodError
		attempt.Description = truncate(err.Error(), maxDescription)
		metrics.ObserveSearchAttempt(string(attempt.Method))
		return []Result{}, attempt, ""
	}

	fetched, err := e.fetch(ctx, searchURL)
	if err != nil {
		return fail(err)
	}
	doc, err := extract.Parse(fetched.Body)
	if err != nil {
		return fail(err)
	}

	results, method, description := extractResults(doc, keyword, baseURL, searchURL, maxResults)
	attempt.Method = method
	attempt.Description = description
	attempt.ResultCount = len(results)
	metrics.ObserveSearchAttempt(string(method))
	logger.Info("keyword searched", zap.String("method", string(method)), zap.Int("results", len(results)))

	var searchPage string
	if len(results) > 0 {
		searchPage = e.archive(ctx, "search", searchURL, fetched.Body, logger)
		if e.cfg.SaveResultPages {
			e.saveResultPages(ctx, results, logger)
		}
	}
	return results, attempt, searchPage
}

func (e *Engine) fetch(ctx context.Context, rawURL string) (crawler.FetchResponse, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, rawURL); err != nil {
			return crawler.FetchResponse{}, err
		}
	}
	resp, err := e.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     rawURL,
		Headers: e.headers(),
		Timeout: e.cfg.Timeout,
	})
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return crawler.FetchResponse{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

func (e *Engine) headers() http.Header {
	return http.Header{
		"User-Agent":      {e.cfg.UserAgent},
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": {"en-US,en;q=0.9"},
	}
}

func (e *Engine) archive(ctx context.Context, kind, sourceURL string, body []byte, logger *zap.Logger) string {
	if e.archiver == nil {
		return ""
	}
	uri, err := e.archiver.Save(ctx, kind, sourceURL, body)
	if err != nil {
		logger.Warn("archive failed", zap.String("kind", kind), zap.String("source", sourceURL), zap.Error(err))
		return ""
	}
	return uri
}

func (e *Engine) saveResultPages(ctx context.Context, results []Result, logger *zap.Logger) {
	for i := range results {
		resp, err := e.fetch(ctx, results[i].URL)
		if err != nil {
			logger.Debug("result page fetch failed", zap.String("result", results[i].URL), zap.Error(err))
			continue
		}
		results[i].FilePath = e.archive(ctx, "result", results[i].URL, resp.Body, logger)
	}
}

// extractResults tries each selector in order, then falls back to any link
// whose text mentions the keyword.
func extractResults(doc *goquery.Document, keyword, baseURL, pageURL string, limit int) ([]Result, crawler.SearchMethod, string) {
	for _, selector := range resultSelectors {
		results := collectLinks(doc.Find(selector), baseURL, pageURL, limit, nil)
		if len(results) > 0 {
			return results, crawler.SearchMethodExact, selector
		}
	}

	needle := strings.ToLower(keyword)
	mentions := func(title string) bool {
		return utf8.RuneCountInString(title) > 3 && strings.Contains(strings.ToLower(title), needle)
	}
	if results := collectLinks(doc.Find("a"), baseURL, pageURL, limit, mentions); len(results) > 0 {
		return results, crawler.SearchMethodFallback, "links mentioning keyword"
	}
	return []Result{}, crawler.SearchMethodFailed, "no results found"
}

func collectLinks(anchors *goquery.Selection, baseURL, pageURL string, limit int, keep func(title string) bool) []Result {
	var results []Result
	seen := make(map[string]bool)
	anchors.EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || href == "#" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return true
		}
		title := extract.Text(a)
		if title == "" || (keep != nil && !keep(title)) {
			return true
		}
		link, err := crawler.ResolveLink(href, baseURL, pageURL)
		if err != nil || !crawler.HasHTTPScheme(link) || seen[link] {
			return true
		}
		seen[link] = true
		results = append(results, Result{Title: title, URL: link})
		return len(results) < limit
	})
	return results
}

func cleanKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.Join(strings.Fields(kw), " "); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
