// Package api hosts the HTTP server, middleware, and REST handlers.
// Routes:
//   - GET /api/statistics for index totals and per-site status.
//   - GET /api/startIndexing and /api/stopIndexing for crawl control.
//   - POST /api/indexPage?url= to re-index one page.
//   - GET /api/search?query=&site=&offset=&limit= for ranked results.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus.
package api
