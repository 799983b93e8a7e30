// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-crawler/internal/config"
	"github.com/JakeFAU/evidence-crawler/internal/crawler"
	"github.com/JakeFAU/evidence-crawler/internal/evidence"
	"github.com/JakeFAU/evidence-crawler/internal/metrics"
	"github.com/JakeFAU/evidence-crawler/internal/search"
	"github.com/JakeFAU/evidence-crawler/internal/service"
	"github.com/JakeFAU/evidence-crawler/internal/telemetry"
	"github.com/JakeFAU/evidence-crawler/internal/walker"
)

const maxBodyBytes = 1 << 20

// Service is the request layer the handlers call.
type Service interface {
	Crawl(ctx context.Context, req service.CrawlRequest) (crawler.CrawlReport, error)
	Search(ctx context.Context, req search.Request) (search.Response, error)
	Walk(ctx context.Context, req walker.Request) (walker.Report, error)
	Extract(ctx context.Context, req service.ExtractRequest) (evidence.Record, error)
	Categories() service.CategoryList
}

// Server wires HTTP handlers to the service.
type Server struct {
	router chi.Router
	svc    Service
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Service, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, logger: logger.Named("api")}

	timeout := config.Seconds(cfg.Server.RequestTimeoutSeconds)
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(telemetry.Middleware())
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		r.Get("/categories", s.categories)
		r.Post("/crawl", s.crawl)
		r.Post("/search", s.search)
		r.Post("/walk", s.walk)
		r.Post("/extract", s.extract)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once at least one category is configured.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if len(s.svc.Categories().Categories) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no categories configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) categories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Categories())
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	var req service.CrawlRequest
	if !decode(w, r, &req) {
		return
	}
	report, err := s.svc.Crawl(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.svc.Search(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) walk(w http.ResponseWriter, r *http.Request) {
	var req walker.Request
	if !decode(w, r, &req) {
		return
	}
	report, err := s.svc.Walk(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	var req service.ExtractRequest
	if !decode(w, r, &req) {
		return
	}
	record, err := s.svc.Extract(r.Context(), req)
	if err != nil {
		// Anything but bad input is a failure of the page being fetched.
		s.writeServiceError(w, r, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback int) {
	status := fallback
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestIDMiddleware keeps a caller-supplied X-Request-ID when it is a UUID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			fields := []zap.Field{
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			}
			if traceID := telemetry.TraceID(r.Context()); traceID != "" {
				fields = append(fields, zap.String("trace_id", traceID))
			}
			logger.Info("request completed", fields...)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.String("panic", fmt.Sprint(rec)),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
