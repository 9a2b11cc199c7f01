// Package api serves the read-only status surface of the watchdog: liveness,
// a status document, the recent event log and Prometheus metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"gopkg.in/yaml.v3"

	"github.com/artpar/watchdog/internal/shell/api/resources"
	"github.com/artpar/watchdog/internal/shell/notify"
)

// EventSource is the event log behind the status surface. *notify.Bus
// implements it.
type EventSource interface {
	resources.EventStore
	Status() notify.BusStatus
}

// Component contributes one entry to the status document.
type Component struct {
	Name   string
	Status func() any
}

// Handler serves the health and status endpoints.
type Handler struct {
	service    string
	version    string
	startedAt  time.Time
	events     EventSource
	health     *HealthState
	components []Component
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandler creates the status handler.
func NewHandler(cfg APIConfig) *Handler {
	health := cfg.Health
	if health == nil {
		health = NewHealthState()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:    cfg.Service,
		version:    cfg.Version,
		startedAt:  time.Now().UTC(),
		events:     cfg.Events,
		health:     health,
		components: cfg.Components,
		logger:     logger.With("component", "api"),
		now:        time.Now,
	}
}

// =============================================================================
// Middleware
// =============================================================================

// requestIDHeader copies the request ID to the response header.
func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs every request at debug level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy, reason := h.health.Get()
	resp := HealthResponse{
		Status:  "healthy",
		Service: h.service,
		Uptime:  h.uptime().String(),
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		resp.Reason = reason
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

// =============================================================================
// Status Handlers
// =============================================================================

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := h.Status()
	if wantsYAML(r) {
		h.writeYAML(w, http.StatusOK, resp)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Status builds the status document.
func (h *Handler) Status() StatusResponse {
	resp := StatusResponse{
		Service:   h.service,
		Version:   h.version,
		StartedAt: h.startedAt,
		Uptime:    h.uptime().String(),
	}
	if h.events != nil {
		resp.Events = h.events.Status()
	}
	if len(h.components) > 0 {
		resp.Components = make(map[string]any, len(h.components))
		for _, c := range h.components {
			resp.Components[c.Name] = c.Status()
		}
	}
	return resp
}

func (h *Handler) uptime() time.Duration {
	return h.now().Sub(h.startedAt).Truncate(time.Second)
}

// wantsYAML reports whether the client asked for YAML with ?format=yaml or
// an Accept header naming a yaml media type.
func wantsYAML(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "yaml", "yml":
		return true
	case "json":
		return false
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), "yaml")
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeYAML(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(status)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		h.logger.Warn("failed to encode YAML", "error", err)
	}
	_ = enc.Close()
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
