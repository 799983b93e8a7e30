package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/evidence-crawler/internal/metrics"
	"github.com/JakeFAU/evidence-crawler/internal/progress"
)

// Site outcomes.
const (
	outcomeResults = "results"
	outcomeEmpty   = "empty"
)

// PrometheusSink turns progress events into request and per-site
// collectors.
type PrometheusSink struct {
	requestsStarted   *prometheus.CounterVec
	requestsCompleted *prometheus.CounterVec
	requestsRunning   prometheus.Gauge
	requestRuntime    *prometheus.HistogramVec

	siteCrawls   *prometheus.CounterVec
	siteDuration *prometheus.HistogramVec

	tracker *requestTracker
}

// NewPrometheusSink registers the collectors against reg. Collectors that
// are already registered, as when several apps share one process, are
// reused.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{tracker: newRequestTracker()}
	var err error
	if s.requestsStarted, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_requests_started_total",
		Help: "Requests started, labeled by kind.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if s.requestsCompleted, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_requests_completed_total",
		Help: "Requests finished, labeled by kind and result.",
	}, []string{"kind", "result"})); err != nil {
		return nil, err
	}
	if s.requestsRunning, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crawler_requests_running",
		Help: "Requests currently in flight.",
	})); err != nil {
		return nil, err
	}
	if s.requestRuntime, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawler_request_runtime_seconds",
		Help:    "Wall time per finished request.",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"kind", "result"})); err != nil {
		return nil, err
	}
	if s.siteCrawls, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_site_crawls_total",
		Help: "Per-keyword site crawls, labeled by site and whether they produced results.",
	}, []string{"site", "outcome"})); err != nil {
		return nil, err
	}
	if s.siteDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawler_site_crawl_duration_seconds",
		Help:    "Time spent crawling one site for one keyword.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"site"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register progress collector: %w", err)
	}
	return c, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRequestStart:
			s.requestsStarted.WithLabelValues(evt.Kind).Inc()
			if s.tracker.start(evt.RequestID) {
				s.requestsRunning.Inc()
			}
		case progress.StageRequestDone:
			s.finish(evt, "success")
		case progress.StageRequestError:
			s.finish(evt, "error")
		case progress.StageSiteDone:
			site := metrics.SanitizeSite(evt.Site)
			outcome := outcomeEmpty
			if evt.Results > 0 {
				outcome = outcomeResults
			}
			s.siteCrawls.WithLabelValues(site, outcome).Inc()
			if evt.Dur > 0 {
				s.siteDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.requestsCompleted.WithLabelValues(evt.Kind, result).Inc()
	if evt.Dur > 0 {
		s.requestRuntime.WithLabelValues(evt.Kind, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RequestID) {
		s.requestsRunning.Dec()
	}
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// requestTracker keeps the running gauge balanced when a start and its
// finish arrive in different batches, or a finish arrives without a start.
type requestTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRequestTracker() *requestTracker {
	return &requestTracker{running: make(map[string]struct{})}
}

func (t *requestTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *requestTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
