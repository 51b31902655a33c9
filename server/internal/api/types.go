package api

import "github.com/netpulse/netpulse/pkg/types"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status       string   `json:"status"`
	RootNetwork  string   `json:"root_network"`
	NetworkCount int      `json:"network_count"`
	Watching     []string `json:"watching"`
	WSClients    int      `json:"ws_clients"`
	AlertCount   int      `json:"alert_count"`
}

// NetworkListResponse is the payload for GET /api/v1/networks.
type NetworkListResponse struct {
	Networks []string `json:"networks"`
}

// PathResponse is the payload for GET /api/v1/networks/{id}/path.
type PathResponse struct {
	Network string   `json:"network"`
	Path    []string `json:"path"`
}

// StatsResponse is the payload for GET /api/v1/networks/{id}/stats: the
// aggregate plus diagnostic hints derived from it.
type StatsResponse struct {
	types.Stats
	Metric      string           `json:"metric"`
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
