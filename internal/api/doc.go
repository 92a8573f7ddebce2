// Package api hosts the HTTP server, middleware, and REST handlers for
// operators and for the page generator that feeds the live document.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats and /v1/sites for warm-up progress.
//   - PUT /v1/document, POST /v1/document/fragments and
//     DELETE /v1/document/nodes to mutate the live document.
//   - POST /v1/scan to signal a mutation the document did not see.
package api
