package api

import (
	"time"

	"github.com/artpar/watchdog/internal/shell/notify"
)

// =============================================================================
// Response Types
// =============================================================================

// HealthResponse is the health check response. The status field is what the
// sidecar's health checker compares against.
type HealthResponse struct {
	Status  string `json:"status" yaml:"status"`
	Service string `json:"service,omitempty" yaml:"service,omitempty"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Uptime  string `json:"uptime,omitempty" yaml:"uptime,omitempty"`
}

// StatusResponse is the document served on /api/v1/status.
type StatusResponse struct {
	Service    string           `json:"service" yaml:"service"`
	Version    string           `json:"version" yaml:"version"`
	StartedAt  time.Time        `json:"started_at" yaml:"started_at"`
	Uptime     string           `json:"uptime" yaml:"uptime"`
	Events     notify.BusStatus `json:"events" yaml:"events"`
	Components map[string]any   `json:"components,omitempty" yaml:"components,omitempty"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error" yaml:"error"`
	Code  string `json:"code" yaml:"code"`
}
