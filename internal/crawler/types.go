package crawler

import (
	"net/http"
	"time"
)

// FetchRequest captures everything needed to fetch a single URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
	// Timeout bounds the whole request. Zero means the fetcher default.
	Timeout time.Duration
}

// FetchResponse is the raw outcome of a fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// RenderedElement is a result element as the browser draws it: its inner
// text and its raw, unresolved link.
type RenderedElement struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// RenderedPage is one results page as reported by a browser session. Size
// is the length of the serialized document.
type RenderedPage struct {
	Location string            `json:"location"`
	Size     int               `json:"size"`
	Elements []RenderedElement `json:"elements"`
}

// ResultEntry is one title/link pair extracted from a results page.
type ResultEntry struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// CrawlTask describes one unit of work. It only exists for logging.
type CrawlTask struct {
	SiteURL  string
	Keyword  string
	Category string
	Page     int
}

// SearchMethod classifies how a search attempt produced its results.
type SearchMethod string

// Search methods recorded per keyword.
const (
	SearchMethodExact    SearchMethod = "exact"
	SearchMethodFallback SearchMethod = "fallback"
	SearchMethodFailed   SearchMethod = "failed"
	SearchMethodError    SearchMethod = "error"
)

// SearchAttempt records the outcome of searching one keyword on one site.
type SearchAttempt struct {
	Keyword     string       `json:"keyword"`
	Method      SearchMethod `json:"method"`
	Description string       `json:"description"`
	ResultCount int          `json:"result_count"`
}

// CrawlReport is the outcome of a category crawl.
type CrawlReport struct {
	RequestID string   `json:"request_id"`
	Category  string   `json:"category"`
	Keywords  []string `json:"keywords"`
	Results   *Results `json:"results"`
}
