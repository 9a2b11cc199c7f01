package api

import (
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/manyminds/api2go"

	"github.com/artpar/watchdog/internal/shell/api/middleware"
	"github.com/artpar/watchdog/internal/shell/api/openapi"
	"github.com/artpar/watchdog/internal/shell/api/resources"
)

// =============================================================================
// API Setup
// =============================================================================

// APIConfig holds configuration for the API setup.
type APIConfig struct {
	// Service and Version are reported by /health and /api/v1/status.
	Service string
	Version string

	// Events backs /api/v1/events and the event section of the status.
	// Nil disables both.
	Events EventSource

	// Health is the flag served on /health. Nil reports healthy for as
	// long as the process serves requests.
	Health *HealthState

	// Components are rendered into the status document in order.
	Components []Component

	// Metrics is mounted on /metrics when set.
	Metrics http.Handler

	// AuthToken guards everything but /health when set.
	AuthToken string

	Logger *slog.Logger
}

// SetupAPI creates the router of the status surface.
func SetupAPI(cfg APIConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := NewHandler(cfg)

	router := mux.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(requestIDHeader)
	router.Use(requestLogger(h.logger))
	router.Use(chimw.Recoverer)

	// /health stays open for pollers and container healthchecks
	protect := middleware.NewTokenAuth(middleware.AuthConfig{
		Token:  cfg.AuthToken,
		Logger: h.logger,
	}).Handler

	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet, http.MethodHead)
	router.Handle("/api/v1/status", protect(http.HandlerFunc(h.handleStatus))).Methods(http.MethodGet)

	if cfg.Metrics != nil {
		router.Handle("/metrics", protect(cfg.Metrics)).Methods(http.MethodGet)
	}

	gen := openapi.NewGenerator(
		openapi.WithTitle("Watchdog API"),
		openapi.WithVersion(versionOr(cfg.Version)),
		openapi.WithDescription("Read-only status surface of the container watchdog"),
	)
	gen.RegisterPath(openapi.PathInfo{
		Path:    "/health",
		Summary: "Liveness of the service",
		Tag:     "Health",
		Model:   HealthResponse{},
	})
	gen.RegisterPath(openapi.PathInfo{
		Path:    "/api/v1/status",
		Summary: "Status of the event bus and every monitor",
		Tag:     "Status",
		Model:   StatusResponse{},
		YAML:    true,
	})
	if cfg.Metrics != nil {
		gen.RegisterPath(openapi.PathInfo{
			Path:      "/metrics",
			Summary:   "Prometheus metrics",
			Tag:       "Metrics",
			PlainText: true,
		})
	}

	if cfg.Events != nil {
		jsonAPI := api2go.NewAPIWithResolver("v1", api2go.NewStaticResolver("/api"))
		jsonAPI.ContentType = "application/vnd.api+json"
		jsonAPI.AddResource(resources.Event{}, resources.NewEventResource(cfg.Events))

		gen.RegisterResource(openapi.ResourceInfo{
			Name:    "events",
			Model:   resources.Event{},
			Filters: []string{"filter[severity]", "filter[source]", "filter[category]"},
		})

		// api2go expects paths without the /api prefix (e.g. /v1/events).
		router.PathPrefix("/api/v1/events").Handler(protect(http.StripPrefix("/api", jsonAPI.Handler())))
	}

	router.Handle("/openapi.json", protect(gen.Handler())).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusNotFound, "no route for "+r.URL.Path, "not_found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path, "method_not_allowed")
	})

	return router
}

func versionOr(v string) string {
	if v == "" {
		return "dev"
	}
	return v
}
