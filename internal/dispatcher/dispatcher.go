// Package dispatcher runs a category crawl: every keyword against every site
// of the category, static sites fanned out in full and dynamic sites bounded
// by the browser pool.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
	"github.com/JakeFAU/evidence-crawler/internal/progress"
	"github.com/JakeFAU/evidence-crawler/internal/registry"
)

// DefaultDynamicParallel bounds concurrent dynamic site crawls per keyword.
const DefaultDynamicParallel = 2

// SiteFetcher crawls the result pages of one site for one keyword.
type SiteFetcher interface {
	FetchSite(ctx context.Context, site registry.Site, keyword string) *crawler.Results
}

// Lookup resolves a category name to its sites.
type Lookup interface {
	Lookup(category string) (string, []registry.Site)
}

// Config controls Dispatcher.
type Config struct {
	DynamicParallel int
	// Progress, when set, receives one event per finished site crawl for
	// requests whose context carries a request id.
	Progress progress.Emitter
}

// Dispatcher fans site crawls out per keyword and merges their results.
type Dispatcher struct {
	registry Lookup
	static   SiteFetcher
	dynamic  SiteFetcher
	cfg      Config
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(reg Lookup, static, dynamic SiteFetcher, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.DynamicParallel <= 0 {
		cfg.DynamicParallel = DefaultDynamicParallel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: reg,
		static:   static,
		dynamic:  dynamic,
		cfg:      cfg,
		logger:   logger,
	}
}

// Crawl searches every site of category for each whitespace-separated
// keyword. Results are merged keyword by keyword, static sites before
// dynamic sites, each in registry order; the first URL seen for a title wins.
// Site failures are logged and contribute nothing.
func (d *Dispatcher) Crawl(ctx context.Context, category, keywords string) crawler.CrawlReport {
	resolved, sites := d.registry.Lookup(category)
	report := crawler.CrawlReport{
		Category: resolved,
		Keywords: strings.Fields(keywords),
		Results:  crawler.NewResults(),
	}
	if len(sites) == 0 || len(report.Keywords) == 0 {
		return report
	}

	static, dynamic := partition(sites)
	for _, keyword := range report.Keywords {
		if ctx.Err() != nil {
			d.logger.Warn("crawl canceled", zap.String("category", resolved), zap.Error(ctx.Err()))
			break
		}
		d.logger.Info("crawling keyword",
			zap.String("category", resolved),
			zap.String("keyword", keyword),
			zap.Int("static_sites", len(static)),
			zap.Int("dynamic_sites", len(dynamic)),
		)
		staticResults := d.fanOut(ctx, d.static, static, keyword, 0)
		dynamicResults := d.fanOut(ctx, d.dynamic, dynamic, keyword, d.cfg.DynamicParallel)

		added := 0
		for _, r := range staticResults {
			added += report.Results.MergeFrom(r)
		}
		for _, r := range dynamicResults {
			added += report.Results.MergeFrom(r)
		}
		d.logger.Info("keyword crawled",
			zap.String("keyword", keyword),
			zap.Int("added", added),
			zap.Int("total", report.Results.Len()),
		)
	}
	return report
}

// fanOut crawls sites concurrently and returns their results indexed like
// sites. limit <= 0 means one goroutine per site.
func (d *Dispatcher) fanOut(
	ctx context.Context,
	fetcher SiteFetcher,
	sites []registry.Site,
	keyword string,
	limit int,
) []*crawler.Results {
	out := make([]*crawler.Results, len(sites))
	if fetcher == nil || len(sites) == 0 {
		return out
	}
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, site := range sites {
		g.Go(func() error {
			out[i] = d.fetchSite(ctx, fetcher, site, keyword)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (d *Dispatcher) fetchSite(ctx context.Context, fetcher SiteFetcher, site registry.Site, keyword string) (results *crawler.Results) {
	start := time.Now()
	defer func() {
		d.siteDone(ctx, site, keyword, results, time.Since(start))
	}()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("site crawl panicked",
				zap.String("site", site.BaseURL),
				zap.String("keyword", keyword),
				zap.String("panic", fmt.Sprint(r)),
			)
			results = nil
		}
	}()
	return fetcher.FetchSite(ctx, site, keyword)
}

func (d *Dispatcher) siteDone(ctx context.Context, site registry.Site, keyword string, results *crawler.Results, dur time.Duration) {
	requestID := progress.RequestID(ctx)
	if d.cfg.Progress == nil || requestID == "" {
		return
	}
	d.cfg.Progress.Emit(progress.Event{
		RequestID: requestID,
		TS:        time.Now().UTC(),
		Stage:     progress.StageSiteDone,
		Site:      site.BaseURL,
		Keyword:   keyword,
		Results:   results.Len(),
		Dur:       dur,
	})
}

func partition(sites []registry.Site) (static, dynamic []registry.Site) {
	for _, site := range sites {
		if site.Config.Type == registry.StrategyDynamic {
			dynamic = append(dynamic, site)
			continue
		}
		static = append(static, site)
	}
	return static, dynamic
}
