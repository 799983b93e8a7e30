// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unknownSite = "unknown"

type collectors struct {
	pages          *prometheus.CounterVec
	bytes          *prometheus.CounterVec
	results        *prometheus.CounterVec
	searches       *prometheus.CounterVec
	browsers       prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	rateLimitWaits *prometheus.HistogramVec
}

var (
	std  *collectors
	once sync.Once
)

func newCollectors(reg prometheus.Registerer) *collectors {
	f := promauto.With(reg)
	return &collectors{
		pages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Result pages fetched, labeled by strategy, site and status.",
		}, []string{"strategy", "site", "status"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_bytes_total",
			Help: "Bytes fetched, labeled by site.",
		}, []string{"site"}),
		results: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_results_total",
			Help: "Title/link results extracted, labeled by strategy.",
		}, []string{"strategy"}),
		searches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "search_attempts_total",
			Help: "Keyword searches, labeled by the method that produced the results.",
		}, []string{"method"}),
		browsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_browser_sessions_active",
			Help: "Headless browser sessions currently open.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "API requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "API request latency, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		}, []string{"method", "route"}),
		rateLimitWaits: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delays_seconds",
			Help:    "Time spent waiting on per-domain rate limits.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"domain"}),
	}
}

// Init registers the collectors with the default registry. Repeated calls
// are no-ops.
func Init() {
	once.Do(func() {
		std = newCollectors(prometheus.DefaultRegisterer)
	})
}

func get() *collectors {
	Init()
	return std
}

// SanitizeSite reduces a URL or bare host to its lowercase hostname, or
// "unknown".
func SanitizeSite(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return unknownSite
	}
	if host := u.Hostname(); host != "" {
		return strings.ToLower(host)
	}
	return unknownSite
}

// Handler serves the default registry.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage counts one result page fetch and its size.
func ObservePage(strategy, site, status string, size int) {
	c := get()
	host := SanitizeSite(site)
	c.pages.WithLabelValues(strategy, host, status).Inc()
	if size > 0 {
		c.bytes.WithLabelValues(host).Add(float64(size))
	}
}

// ObserveResults adds count extracted results for strategy.
func ObserveResults(strategy string, count int) {
	if count <= 0 {
		return
	}
	get().results.WithLabelValues(strategy).Add(float64(count))
}

// ObserveSearchAttempt counts one keyword search by method.
func ObserveSearchAttempt(method string) {
	get().searches.WithLabelValues(method).Inc()
}

// IncBrowserSessions marks a browser session as opened.
func IncBrowserSessions() { get().browsers.Inc() }

// DecBrowserSessions marks a browser session as closed.
func DecBrowserSessions() { get().browsers.Dec() }

// ObserveHTTPRequest records one served API request.
func ObserveHTTPRequest(method, route string, code int, elapsed time.Duration) {
	c := get()
	c.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveRateLimitDelay records a rate limit wait for domain.
func ObserveRateLimitDelay(domain string, waited time.Duration) {
	get().rateLimitWaits.WithLabelValues(domain).Observe(waited.Seconds())
}
