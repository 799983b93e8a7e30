// Package walker crawls outward from a single start URL, keeping the pages
// that mention any of the requested keywords.
package walker

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
	"github.com/JakeFAU/evidence-crawler/internal/extract"
)

// Defaults.
const (
	DefaultMaxPages    = 5
	DefaultVisitBudget = 50
	DefaultTimeout     = 10 * time.Second
)

// Archiver stores matched pages.
type Archiver interface {
	Save(ctx context.Context, kind, sourceURL string, body []byte) (string, error)
}

type waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the Walker.
type Config struct {
	// MaxPages is used when a request leaves its own limit unset.
	MaxPages int
	// VisitBudget caps fetched pages, matched or not, so a walk over pages
	// that never match still ends.
	VisitBudget int
	Timeout     time.Duration
	Headers     http.Header
}

// Request describes one walk.
type Request struct {
	StartURL    string   `json:"start_url"`
	Keywords    []string `json:"keywords"`
	MaxPages    int      `json:"max_pages,omitempty"`
	FollowLinks bool     `json:"follow_links"`
}

// Report lists matched pages in the order they were found.
type Report struct {
	RequestID string   `json:"request_id,omitempty"`
	URLs      []string `json:"urls"`
	FilePaths []string `json:"file_paths"`
	Keywords  []string `json:"keywords"`
	Visited   int      `json:"visited"`
}

// Walker performs breadth-first walks.
type Walker struct {
	fetcher  crawler.Fetcher
	archiver Archiver
	limiter  waiter
	cfg      Config
	logger   *zap.Logger
}

// New builds a Walker. archiver and limiter may be nil.
func New(fetcher crawler.Fetcher, archiver Archiver, limiter waiter, cfg Config, logger *zap.Logger) *Walker {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.VisitBudget <= 0 {
		cfg.VisitBudget = DefaultVisitBudget
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{fetcher: fetcher, archiver: archiver, limiter: limiter, cfg: cfg, logger: logger}
}

// Walk visits pages breadth first from req.StartURL until MaxPages pages
// have matched, the visit budget is spent or the frontier is empty. Fetch
// failures skip the page.
func (w *Walker) Walk(ctx context.Context, req Request) Report {
	report := Report{URLs: []string{}, FilePaths: []string{}, Keywords: req.Keywords}
	if report.Keywords == nil {
		report.Keywords = []string{}
	}
	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = w.cfg.MaxPages
	}
	needles := lowerKeywords(req.Keywords)
	logger := w.logger.With(zap.String("start_url", req.StartURL))

	queue := []string{req.StartURL}
	queued := map[string]bool{normalize(req.StartURL): true}

	for len(queue) > 0 && len(report.URLs) < maxPages && report.Visited < w.cfg.VisitBudget {
		if ctx.Err() != nil {
			logger.Warn("walk canceled", zap.Error(ctx.Err()))
			break
		}
		current := queue[0]
		queue = queue[1:]
		report.Visited++

		resp, doc, ok := w.fetch(ctx, current, logger)
		if !ok {
			continue
		}
		if matches(doc, needles) {
			report.URLs = append(report.URLs, current)
			report.FilePaths = append(report.FilePaths, w.archive(ctx, current, resp.Body, logger))
			logger.Debug("page matched", zap.String("url", current))
		}
		if !req.FollowLinks {
			continue
		}
		for _, next := range links(doc, current) {
			key := normalize(next)
			if queued[key] {
				continue
			}
			queued[key] = true
			queue = append(queue, next)
		}
	}
	logger.Info("walk finished",
		zap.Int("visited", report.Visited),
		zap.Int("matched", len(report.URLs)),
		zap.Int("frontier", len(queue)),
	)
	return report
}

func (w *Walker) fetch(ctx context.Context, rawURL string, logger *zap.Logger) (crawler.FetchResponse, *goquery.Document, bool) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, rawURL); err != nil {
			logger.Debug("rate limit wait failed", zap.String("url", rawURL), zap.Error(err))
			return crawler.FetchResponse{}, nil, false
		}
	}
	resp, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     rawURL,
		Headers: w.cfg.Headers.Clone(),
		Timeout: w.cfg.Timeout,
	})
	if err != nil {
		logger.Debug("fetch failed", zap.String("url", rawURL), zap.Error(err))
		return crawler.FetchResponse{}, nil, false
	}
	if resp.StatusCode != http.StatusOK {
		logger.Debug("non-200 status", zap.String("url", rawURL), zap.Int("status", resp.StatusCode))
		return crawler.FetchResponse{}, nil, false
	}
	doc, err := extract.Parse(resp.Body)
	if err != nil {
		logger.Debug("parse failed", zap.String("url", rawURL), zap.Error(err))
		return crawler.FetchResponse{}, nil, false
	}
	return resp, doc, true
}

func (w *Walker) archive(ctx context.Context, sourceURL string, body []byte, logger *zap.Logger) string {
	if w.archiver == nil {
		return ""
	}
	uri, err := w.archiver.Save(ctx, "walk", sourceURL, body)
	if err != nil {
		logger.Warn("archive failed", zap.String("url", sourceURL), zap.Error(err))
		return ""
	}
	return uri
}

func matches(doc *goquery.Document, needles []string) bool {
	text := strings.ToLower(doc.Text())
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

// links returns absolute and root-relative hrefs of page resolved against
// the current URL. Other relative forms are not followed.
func links(doc *goquery.Document, current string) []string {
	var out []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		switch {
		case strings.HasPrefix(href, "//"), strings.HasPrefix(href, "/"), crawler.HasHTTPScheme(href):
		default:
			return
		}
		link, err := crawler.ResolveLink(href, current, current)
		if err != nil || !crawler.HasHTTPScheme(link) {
			return
		}
		out = append(out, link)
	})
	return out
}

func normalize(rawURL string) string {
	if n, err := crawler.NormalizeURL(rawURL); err == nil {
		return n
	}
	return rawURL
}

func lowerKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
