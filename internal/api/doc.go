// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/categories lists the registry categories.
//   - POST /v1/crawl, /v1/search, /v1/walk and /v1/extract run requests
//     synchronously and answer with their JSON reports.
package api
