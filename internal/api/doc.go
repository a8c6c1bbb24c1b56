// Package api hosts the daemon's HTTP server, middleware, and handlers.
// Notable routes:
//   - GET / and /health report status, limits, and live load.
//   - POST /render, /extract, /batch run jobs through the engine.
//   - GET /actions and /actions/{action_id} read the recent-actions log.
//   - GET /metrics for Prometheus scraping.
package api
