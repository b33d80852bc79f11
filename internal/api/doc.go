// Package api hosts the operator HTTP server that runs alongside a pass.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress and /v1/progress/{run_id} for run progress.
package api
