package sitecrawl

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
	"github.com/JakeFAU/evidence-crawler/internal/extract"
	"github.com/JakeFAU/evidence-crawler/internal/metrics"
	"github.com/JakeFAU/evidence-crawler/internal/registry"
)

// Dynamic fetcher defaults.
const (
	DefaultDynamicPages = 3
	DefaultResultWait   = 5 * time.Second
	DefaultClickWait    = 3 * time.Second
	DefaultSettle       = time.Second
)

// FallbackNextSelectors are tried in order when a site's own next button is
// missing or not clickable.
var FallbackNextSelectors = []string{
	"a[aria-label*='Next']",
	"button[aria-label*='Next']",
	".pagination-next",
	".next-page",
	"[data-testid*='next']",
}

// DynamicConfig controls DynamicFetcher.
type DynamicConfig struct {
	Pages      int
	ResultWait time.Duration
	ClickWait  time.Duration
	// Settle is the pause after moving to the next page, giving scripts
	// time to replace the previous results.
	Settle time.Duration
}

// DynamicFetcher renders result pages in a headless browser.
type DynamicFetcher struct {
	launcher crawler.BrowserLauncher
	cfg      DynamicConfig
	logger   *zap.Logger
}

// NewDynamicFetcher builds a DynamicFetcher. Negative Settle disables the pause.
func NewDynamicFetcher(launcher crawler.BrowserLauncher, cfg DynamicConfig, logger *zap.Logger) *DynamicFetcher {
	if cfg.Pages <= 0 {
		cfg.Pages = DefaultDynamicPages
	}
	if cfg.ResultWait <= 0 {
		cfg.ResultWait = DefaultResultWait
	}
	if cfg.ClickWait <= 0 {
		cfg.ClickWait = DefaultClickWait
	}
	if cfg.Settle == 0 {
		cfg.Settle = DefaultSettle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamicFetcher{launcher: launcher, cfg: cfg, logger: logger}
}

// FetchSite walks up to cfg.Pages result pages in one browser session. The
// session is closed on every path, and a panic while crawling returns the
// results gathered so far.
func (d *DynamicFetcher) FetchSite(ctx context.Context, site registry.Site, keyword string) (results *crawler.Results) {
	results = crawler.NewResults()
	logger := d.logger.With(zap.String("site", site.BaseURL), zap.String("keyword", keyword))
	strategy := string(registry.StrategyDynamic)

	session, err := d.launcher.Launch(ctx)
	if err != nil {
		logger.Warn("browser launch failed", zap.Error(err))
		metrics.ObservePage(strategy, site.BaseURL, "error", 0)
		return results
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dynamic crawl panicked", zap.Any("panic", r), zap.Int("results", results.Len()))
		}
		if err := session.Close(); err != nil {
			logger.Warn("browser close failed", zap.Error(err))
		}
		metrics.ObserveResults(strategy, results.Len())
	}()

	current := site.PageURL(keyword, 1)
	if err := session.Navigate(ctx, current); err != nil {
		logger.Warn("navigation failed", zap.String("url", current), zap.Error(err))
		metrics.ObservePage(strategy, site.BaseURL, "error", 0)
		return results
	}

	selector := site.Config.ResultSelector.CSS()
	for page := 1; page <= d.cfg.Pages; page++ {
		if err := session.WaitVisible(ctx, selector, d.cfg.ResultWait); err != nil {
			if ctx.Err() != nil {
				logger.Warn("dynamic crawl canceled", zap.Int("page", page), zap.Error(ctx.Err()))
				return results
			}
			logger.Debug("results not visible before wait elapsed", zap.Int("page", page), zap.String("selector", selector))
		}

		rendered, err := session.Rendered(ctx, selector, site.Config.LinkAttribute)
		if err != nil {
			logger.Warn("reading results failed", zap.Int("page", page), zap.Error(err))
			metrics.ObservePage(strategy, site.BaseURL, "error", 0)
			return results
		}
		metrics.ObservePage(strategy, site.BaseURL, "ok", rendered.Size)
		location := rendered.Location
		if location == "" {
			location = current
		}
		current = location

		added := results.MergeFrom(extract.Rendered(rendered.Elements, site.BaseURL, location))
		logger.Debug("page extracted", zap.Int("page", page), zap.Int("added", added))

		if page == d.cfg.Pages {
			break
		}
		moved, err := d.nextPage(ctx, session, site, keyword, page+1)
		if err != nil {
			logger.Warn("pagination failed", zap.Int("page", page), zap.Error(err))
			return results
		}
		if !moved {
			logger.Info("no next page control, stopping pagination", zap.Int("page", page))
			return results
		}
		if !sleep(ctx, d.cfg.Settle) {
			return results
		}
	}
	return results
}

// nextPage moves the session to result page n. Sites with a next-page URL
// template in url_param mode are navigated directly; every other site is
// paged by clicking its next button or one of the fallback controls.
func (d *DynamicFetcher) nextPage(
	ctx context.Context,
	session crawler.BrowserSession,
	site registry.Site,
	keyword string,
	n int,
) (bool, error) {
	if site.Config.Pagination == registry.PaginationURLParam && site.Config.NextPage != "" {
		if err := session.Navigate(ctx, site.PageURL(keyword, n)); err != nil {
			return false, err
		}
		return true, nil
	}

	if button := site.Config.NextButton; button != nil && !button.IsZero() {
		clicked, err := session.Click(ctx, button.CSS(), d.cfg.ClickWait)
		if err != nil && ctx.Err() != nil {
			return false, err
		}
		if clicked {
			return true, nil
		}
	}
	for _, selector := range FallbackNextSelectors {
		clicked, err := session.Click(ctx, selector, 0)
		if err != nil {
			if ctx.Err() != nil {
				return false, err
			}
			d.logger.Debug("fallback next control failed", zap.String("selector", selector), zap.Error(err))
			continue
		}
		if clicked {
			return true, nil
		}
	}
	return false, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
