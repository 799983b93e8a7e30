package sitecrawl

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
	"github.com/JakeFAU/evidence-crawler/internal/extract"
	"github.com/JakeFAU/evidence-crawler/internal/metrics"
	"github.com/JakeFAU/evidence-crawler/internal/registry"
)

// Static fetcher defaults. MaxStaticPages caps the result pages requested
// per site and keyword.
const (
	DefaultStaticPages   = 5
	MaxStaticPages       = 5
	DefaultStaticTimeout = 10 * time.Second
)

// StaticConfig controls StaticFetcher.
type StaticConfig struct {
	Pages   int
	Timeout time.Duration
	Headers http.Header
}

// StaticFetcher fetches result pages over HTTP without a browser.
type StaticFetcher struct {
	fetcher  crawler.Fetcher
	detector crawler.ScriptShellDetector
	limiter  waiter
	cfg      StaticConfig
	logger   *zap.Logger
}

type waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// NewStaticFetcher builds a StaticFetcher. detector and limiter may be nil.
// Pages above MaxStaticPages are clamped.
func NewStaticFetcher(
	fetcher crawler.Fetcher,
	detector crawler.ScriptShellDetector,
	limiter waiter,
	cfg StaticConfig,
	logger *zap.Logger,
) *StaticFetcher {
	if cfg.Pages <= 0 {
		cfg.Pages = DefaultStaticPages
	}
	cfg.Pages = min(cfg.Pages, MaxStaticPages)
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultStaticTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaticFetcher{
		fetcher:  fetcher,
		detector: detector,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
}

// FetchSite fetches every result page of site for keyword at once and merges
// them in page order.
func (s *StaticFetcher) FetchSite(ctx context.Context, site registry.Site, keyword string) *crawler.Results {
	pages := site.PageCount(s.cfg.Pages)
	perPage := make([]*crawler.Results, pages)

	var g errgroup.Group
	for i := 0; i < pages; i++ {
		task := crawler.CrawlTask{SiteURL: site.BaseURL, Keyword: keyword, Page: i + 1}
		g.Go(func() error {
			perPage[i] = s.fetchPage(ctx, site, task)
			return nil
		})
	}
	_ = g.Wait()

	merged := crawler.NewResults()
	for _, page := range perPage {
		merged.MergeFrom(page)
	}
	metrics.ObserveResults(string(registry.StrategyStatic), merged.Len())
	return merged
}

func (s *StaticFetcher) fetchPage(ctx context.Context, site registry.Site, task crawler.CrawlTask) *crawler.Results {
	pageURL := site.PageURL(task.Keyword, task.Page)
	logger := s.logger.With(
		zap.String("site", task.SiteURL),
		zap.String("keyword", task.Keyword),
		zap.Int("page", task.Page),
		zap.String("url", pageURL),
	)

	timeout := site.Config.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, pageURL); err != nil {
			logger.Warn("page skipped", zap.Error(err))
			metrics.ObservePage(string(registry.StrategyStatic), site.BaseURL, "error", 0)
			return nil
		}
	}

	resp, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     pageURL,
		Headers: s.cfg.Headers.Clone(),
		Timeout: timeout,
	})
	if err != nil {
		logger.Warn("page fetch failed", zap.Error(err))
		metrics.ObservePage(string(registry.StrategyStatic), site.BaseURL, "error", 0)
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		logger.Warn("page returned non-200 status", zap.Int("status", resp.StatusCode))
		metrics.ObservePage(string(registry.StrategyStatic), site.BaseURL, statusLabel(resp.StatusCode), len(resp.Body))
		return nil
	}
	metrics.ObservePage(string(registry.StrategyStatic), site.BaseURL, "ok", len(resp.Body))

	doc, err := extract.Parse(resp.Body)
	if err != nil {
		logger.Warn("page parse failed", zap.Error(err))
		return nil
	}
	results := extract.Static(doc, site.Config, site.BaseURL, pageURL)
	if results.Len() == 0 && s.detector != nil && s.detector.LooksScriptRendered(resp) {
		logger.Info("no results on a script-rendered page, the site may need the dynamic strategy")
	}
	logger.Debug("page extracted", zap.Int("results", results.Len()), zap.Duration("duration", resp.Duration))
	return results
}

func statusLabel(code int) string {
	return fmt.Sprintf("http_%d", code)
}
