// Package evidence pulls the paragraphs of a page that mention given
// keywords, for quoting as supporting evidence.
package evidence

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
	"github.com/JakeFAU/evidence-crawler/internal/extract"
)

// Defaults.
const (
	DefaultMaxResults = 5
	DefaultTimeout    = 15 * time.Second
)

// Archiver stores the fetched page.
type Archiver interface {
	Save(ctx context.Context, kind, sourceURL string, body []byte) (string, error)
}

// Record is the evidence found on one page. Evidence maps each keyword to
// its matching paragraphs in keyword order.
type Record struct {
	RequestID string                                   `json:"request_id,omitempty"`
	URL       string                                   `json:"url"`
	Title     string                                   `json:"title"`
	Query     string                                   `json:"query"`
	Evidence  *orderedmap.OrderedMap[string, []string] `json:"evidence"`
	FilePath  string                                   `json:"file_path,omitempty"`
}

// Config controls the Extractor.
type Config struct {
	// MaxResults caps paragraphs per keyword when a call passes <= 0.
	MaxResults int
	Timeout    time.Duration
	Headers    http.Header
}

// Extractor fetches pages and collects keyword paragraphs.
type Extractor struct {
	fetcher  crawler.Fetcher
	archiver Archiver
	cfg      Config
	logger   *zap.Logger
}

// New builds an Extractor. archiver may be nil.
func New(fetcher crawler.Fetcher, archiver Archiver, cfg Config, logger *zap.Logger) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: fetcher, archiver: archiver, cfg: cfg, logger: logger}
}

// Extract fetches pageURL and returns, for each whitespace-separated
// keyword, up to maxResults distinct <p> texts containing it
// case-insensitively.
func (e *Extractor) Extract(ctx context.Context, pageURL, keywords string, maxResults int) (Record, error) {
	if !crawler.HasHTTPScheme(pageURL) {
		return Record{}, fmt.Errorf("url must be http or https: %q", pageURL)
	}
	resp, err := e.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     pageURL,
		Headers: e.cfg.Headers.Clone(),
		Timeout: e.cfg.Timeout,
	})
	if err != nil {
		return Record{}, fmt.Errorf("fetch page: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Record{}, fmt.Errorf("fetch page: unexpected status %d", resp.StatusCode)
	}
	doc, err := extract.Parse(resp.Body)
	if err != nil {
		return Record{}, err
	}

	if maxResults <= 0 {
		maxResults = e.cfg.MaxResults
	}
	record := Record{
		URL:      pageURL,
		Title:    extract.Text(doc.Find("title").First()),
		Query:    keywords,
		Evidence: Paragraphs(doc, strings.Fields(keywords), maxResults),
	}
	if e.archiver != nil {
		uri, err := e.archiver.Save(ctx, "evidence", pageURL, resp.Body)
		if err != nil {
			e.logger.Warn("archive failed", zap.String("url", pageURL), zap.Error(err))
		}
		record.FilePath = uri
	}
	return record, nil
}

// Paragraphs groups the <p> texts of doc by the keywords they contain.
// maxResults <= 0 uses DefaultMaxResults.
func Paragraphs(doc *goquery.Document, keywords []string, maxResults int) *orderedmap.OrderedMap[string, []string] {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	var paragraphs []string
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := extract.Text(p); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})

	out := orderedmap.New[string, []string]()
	for _, kw := range keywords {
		if _, done := out.Get(kw); done {
			continue
		}
		needle := strings.ToLower(kw)
		found := []string{}
		seen := make(map[string]bool)
		for _, text := range paragraphs {
			if len(found) == maxResults {
				break
			}
			if seen[text] || !strings.Contains(strings.ToLower(text), needle) {
				continue
			}
			seen[text] = true
			found = append(found, text)
		}
		out.Set(kw, found)
	}
	return out
}
