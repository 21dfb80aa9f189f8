// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs and /v1/runs/standard for run submission.
//   - GET /v1/runs/{run_id}/status|result and POST .../cancel.
//   - GET /v1/progress/runs... for progress reporting via the
//     RunRepository read side.
package api
