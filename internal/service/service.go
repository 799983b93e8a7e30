// Package service is the request layer shared by the CLI and the HTTP API.
// It assigns request ids, validates input, runs the engines and records the
// side effects: search attempts in the database and completion events on the
// publisher.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
	"github.com/JakeFAU/evidence-crawler/internal/evidence"
	"github.com/JakeFAU/evidence-crawler/internal/progress"
	"github.com/JakeFAU/evidence-crawler/internal/search"
	"github.com/JakeFAU/evidence-crawler/internal/walker"
)

// ErrInvalidRequest marks input the caller must fix.
var ErrInvalidRequest = errors.New("invalid request")

// Event kinds published on completion.
const (
	KindCrawl   = "crawl"
	KindSearch  = "search"
	KindWalk    = "walk"
	KindExtract = "extract"
)

// CategoryCrawler runs category crawls.
type CategoryCrawler interface {
	Crawl(ctx context.Context, category, keywords string) crawler.CrawlReport
}

// Searcher runs site searches.
type Searcher interface {
	Search(ctx context.Context, req search.Request) search.Response
}

// Walker runs ad-hoc walks.
type Walker interface {
	Walk(ctx context.Context, req walker.Request) walker.Report
}

// Extractor collects keyword paragraphs from a page.
type Extractor interface {
	Extract(ctx context.Context, pageURL, keywords string, maxResults int) (evidence.Record, error)
}

// Catalog lists configured categories.
type Catalog interface {
	Categories() []string
	DefaultCategory() string
}

// Deps are the collaborators of a Service. Attempts, Publisher and Progress
// may be nil.
type Deps struct {
	Crawler   CategoryCrawler
	Searcher  Searcher
	Walker    Walker
	Extractor Extractor
	Catalog   Catalog
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	Attempts  crawler.AttemptStore
	Publisher crawler.Publisher
	Progress  progress.Emitter
}

// Config controls side effects.
type Config struct {
	// Topic receives completion events. Empty uses the publisher's default.
	Topic string
}

// CrawlRequest asks for a category crawl.
type CrawlRequest struct {
	Category string `json:"category"`
	Keywords string `json:"keywords"`
}

// ExtractRequest asks for the evidence on one page.
type ExtractRequest struct {
	URL        string `json:"url"`
	Keywords   string `json:"keywords"`
	MaxResults int    `json:"max_results,omitempty"`
}

// CategoryList is the answer to a categories request.
type CategoryList struct {
	Categories []string `json:"categories"`
	Default    string   `json:"default"`
}

// Event is published when a request completes.
type Event struct {
	Kind        string    `json:"kind"`
	RequestID   string    `json:"request_id"`
	Subject     string    `json:"subject"`
	ResultCount int       `json:"result_count"`
	CompletedAt time.Time `json:"completed_at"`
}

// Service coordinates one request at a time per call; it is safe for
// concurrent use.
type Service struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and builds a Service.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Crawler == nil:
		return nil, fmt.Errorf("crawler is required")
	case deps.Searcher == nil:
		return nil, fmt.Errorf("searcher is required")
	case deps.Walker == nil:
		return nil, fmt.Errorf("walker is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Catalog == nil:
		return nil, fmt.Errorf("catalog is required")
	case deps.IDs == nil || deps.Clock == nil:
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, cfg: cfg, logger: logger}, nil
}

// Crawl searches every site of a category for the given keywords.
func (s *Service) Crawl(ctx context.Context, req CrawlRequest) (crawler.CrawlReport, error) {
	if strings.TrimSpace(req.Keywords) == "" {
		return crawler.CrawlReport{}, fmt.Errorf("%w: keywords are required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Category) == "" {
		req.Category = s.deps.Catalog.DefaultCategory()
	}
	requestID, err := s.deps.IDs.NewID()
	if err != nil {
		return crawler.CrawlReport{}, fmt.Errorf("request id: %w", err)
	}
	logger := s.logger.With(zap.String("request_id", requestID))
	logger.Info("crawl started", zap.String("category", req.Category), zap.String("keywords", req.Keywords))

	ctx, done := s.begin(ctx, KindCrawl, requestID)
	report := s.deps.Crawler.Crawl(ctx, req.Category, req.Keywords)
	report.RequestID = requestID
	done(report.Results.Len(), nil)

	logger.Info("crawl finished", zap.String("category", report.Category), zap.Int("results", report.Results.Len()))
	s.notify(ctx, logger, KindCrawl, requestID, report.Category, report.Results.Len())
	return report, nil
}

// Search runs each keyword against the site's own search page and stores
// the attempts.
func (s *Service) Search(ctx context.Context, req search.Request) (search.Response, error) {
	if strings.TrimSpace(req.BaseURL) == "" {
		return search.Response{}, fmt.Errorf("%w: base_url is required", ErrInvalidRequest)
	}
	if len(nonBlank(req.Keywords)) == 0 {
		return search.Response{}, fmt.Errorf("%w: keywords are required", ErrInvalidRequest)
	}
	requestID, err := s.deps.IDs.NewID()
	if err != nil {
		return search.Response{}, fmt.Errorf("request id: %w", err)
	}
	logger := s.logger.With(zap.String("request_id", requestID), zap.String("base_url", req.BaseURL))
	logger.Info("search started", zap.Strings("keywords", req.Keywords))

	ctx, done := s.begin(ctx, KindSearch, requestID)
	resp := s.deps.Searcher.Search(ctx, req)
	resp.RequestID = requestID

	if s.deps.Attempts != nil {
		if err := s.deps.Attempts.StoreAttempts(ctx, requestID, req.BaseURL, resp.Attempts); err != nil {
			logger.Warn("storing search attempts failed", zap.Error(err))
		}
	}
	total := 0
	if resp.Results != nil {
		for pair := resp.Results.Oldest(); pair != nil; pair = pair.Next() {
			total += len(pair.Value)
		}
	}
	done(total, nil)
	logger.Info("search finished", zap.Int("results", total), zap.Int("attempts", len(resp.Attempts)))
	s.notify(ctx, logger, KindSearch, requestID, req.BaseURL, total)
	return resp, nil
}

// Walk visits pages from a start URL and archives those mentioning a keyword.
func (s *Service) Walk(ctx context.Context, req walker.Request) (walker.Report, error) {
	if !crawler.HasHTTPScheme(req.StartURL) {
		return walker.Report{}, fmt.Errorf("%w: start_url must be http or https", ErrInvalidRequest)
	}
	req.Keywords = nonBlank(req.Keywords)
	if len(req.Keywords) == 0 {
		return walker.Report{}, fmt.Errorf("%w: keywords are required", ErrInvalidRequest)
	}
	requestID, err := s.deps.IDs.NewID()
	if err != nil {
		return walker.Report{}, fmt.Errorf("request id: %w", err)
	}
	logger := s.logger.With(zap.String("request_id", requestID), zap.String("start_url", req.StartURL))

	ctx, done := s.begin(ctx, KindWalk, requestID)
	report := s.deps.Walker.Walk(ctx, req)
	report.RequestID = requestID
	done(len(report.URLs), nil)

	s.notify(ctx, logger, KindWalk, requestID, req.StartURL, len(report.URLs))
	return report, nil
}

// Extract returns the paragraphs of one page that mention each keyword.
func (s *Service) Extract(ctx context.Context, req ExtractRequest) (evidence.Record, error) {
	if !crawler.HasHTTPScheme(req.URL) {
		return evidence.Record{}, fmt.Errorf("%w: url must be http or https", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Keywords) == "" {
		return evidence.Record{}, fmt.Errorf("%w: keywords are required", ErrInvalidRequest)
	}
	requestID, err := s.deps.IDs.NewID()
	if err != nil {
		return evidence.Record{}, fmt.Errorf("request id: %w", err)
	}
	logger := s.logger.With(zap.String("request_id", requestID), zap.String("url", req.URL))

	ctx, done := s.begin(ctx, KindExtract, requestID)
	record, err := s.deps.Extractor.Extract(ctx, req.URL, req.Keywords, req.MaxResults)
	if err != nil {
		done(0, err)
		logger.Warn("extract failed", zap.Error(err))
		return evidence.Record{}, fmt.Errorf("extract %s: %w", req.URL, err)
	}
	record.RequestID = requestID

	count := 0
	if record.Evidence != nil {
		for pair := record.Evidence.Oldest(); pair != nil; pair = pair.Next() {
			count += len(pair.Value)
		}
	}
	done(count, nil)
	s.notify(ctx, logger, KindExtract, requestID, req.URL, count)
	return record, nil
}

// Categories lists the configured categories in registry order.
func (s *Service) Categories() CategoryList {
	return CategoryList{
		Categories: s.deps.Catalog.Categories(),
		Default:    s.deps.Catalog.DefaultCategory(),
	}
}

// begin emits the start event of a request and returns ctx tagged with
// requestID, plus a func that emits the matching finish event.
func (s *Service) begin(ctx context.Context, kind, requestID string) (context.Context, func(results int, err error)) {
	ctx = progress.WithRequestID(ctx, requestID)
	if s.deps.Progress == nil {
		return ctx, func(int, error) {}
	}
	start := s.deps.Clock.Now()
	s.deps.Progress.Emit(progress.Event{
		RequestID: requestID,
		TS:        start.UTC(),
		Stage:     progress.StageRequestStart,
		Kind:      kind,
	})
	return ctx, func(results int, err error) {
		now := s.deps.Clock.Now()
		evt := progress.Event{
			RequestID: requestID,
			TS:        now.UTC(),
			Stage:     progress.StageRequestDone,
			Kind:      kind,
			Results:   results,
			Dur:       max(now.Sub(start), 0),
		}
		if err != nil {
			evt.Stage = progress.StageRequestError
			evt.Note = err.Error()
		}
		s.deps.Progress.Emit(evt)
	}
}

func (s *Service) notify(ctx context.Context, logger *zap.Logger, kind, requestID, subject string, count int) {
	if s.deps.Publisher == nil {
		return
	}
	event := Event{
		Kind:        kind,
		RequestID:   requestID,
		Subject:     subject,
		ResultCount: count,
		CompletedAt: s.deps.Clock.Now().UTC(),
	}
	id, err := s.deps.Publisher.Publish(ctx, s.cfg.Topic, event)
	if err != nil {
		logger.Warn("publishing completion event failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	logger.Debug("completion event published", zap.String("message_id", id))
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
