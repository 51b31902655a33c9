// Package api implements the HTTP REST API for the netpulse server.
//
// New(deps) returns an http.Handler that serves:
//
//	GET  /api/v1/health                  - status, network count, watched networks, ws clients
//	GET  /api/v1/networks                - registered network ids
//	GET  /api/v1/networks/{id}           - snapshot; opens the network on first access
//	GET  /api/v1/networks/{id}/updates   - one on-demand tick; 404 if not registered
//	GET  /api/v1/networks/{id}/stats     - aggregate statistics plus diagnostic hints
//	GET  /api/v1/networks/{id}/path      - breadcrumb from the root network
//	GET  /api/v1/networks/{id}/metrics   - current values in Prometheus text format
//	GET  /api/v1/networks/{id}/latest    - last diff stored in Redis; 404 without a publisher
//	POST /api/v1/networks/{id}/reset     - reload from the catalog and reset
//	GET  /api/v1/alerts[?network=]       - active and recently resolved alerts
//
// All JSON endpoints respond with Content-Type: application/json and return
// 405 for the wrong method. A token bucket limiter answers 429 when the
// configured rate is exceeded. JSON types are defined in types.go.
package api
