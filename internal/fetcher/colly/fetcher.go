// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
)

// DefaultTimeout bounds a fetch when neither the request nor the config sets one.
const DefaultTimeout = 15 * time.Second

var errNoResponse = errors.New("no response received")

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodySize truncates bodies; zero keeps colly's default.
	MaxBodySize int
}

// Fetcher performs single GETs. Each fetch runs on a clone of one base
// collector, so all fetches share the connection pool and the robots.txt
// cache while keeping their callbacks apart.
type Fetcher struct {
	base    *colly.Collector
	timeout time.Duration
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	opts := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	if cfg.MaxBodySize > 0 {
		opts = append(opts, colly.MaxBodySize(cfg.MaxBodySize))
	}
	base := colly.NewCollector(opts...)
	// colly ignores robots.txt unless told otherwise.
	base.IgnoreRobotsTxt = !cfg.RespectRobots
	base.WithTransport(newHTTPTransport())
	// Deadlines come from the per-fetch context instead of the shared client.
	base.SetRequestTimeout(0)
	return &Fetcher{base: base, timeout: cfg.Timeout}
}

// Fetch GETs request.URL. Non-2xx responses are returned with their status
// code rather than as errors.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := f.base.Clone()
	c.Context = ctx

	var (
		result   crawler.FetchResponse
		fetchErr = errNoResponse
		start    = time.Now()
	)
	c.OnRequest(func(r *colly.Request) {
		setHeaders(r.Headers, request.Headers)
	})
	c.OnResponse(func(r *colly.Response) {
		result = toFetchResponse(r, time.Since(start))
		fetchErr = nil
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(request.URL); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ctxErr)
		}
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
	}
	if fetchErr != nil {
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, fetchErr)
	}
	return result, nil
}

func toFetchResponse(r *colly.Response, elapsed time.Duration) crawler.FetchResponse {
	var headers http.Header
	if r.Headers != nil {
		headers = r.Headers.Clone()
	}
	return crawler.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       append([]byte(nil), r.Body...),
		Duration:   elapsed,
	}
}

// setHeaders applies request headers over the collector defaults, so a
// per-request User-Agent wins.
func setHeaders(dst *http.Header, src http.Header) {
	for key, values := range src {
		dst.Del(key)
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
