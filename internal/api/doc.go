// Package api hosts the HTTP server, middleware, and JSON handlers consumed by
// the dashboard. Notable routes:
//   - GET /healthz and /readyz for probes. readyz pings the store and seen-cache.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/intel..., /v1/competitors for browsing stored intel.
//   - POST /v1/intel/run and /v1/digest/send to trigger work on demand.
package api
