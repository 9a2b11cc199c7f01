// Package middleware provides HTTP middleware for the status surface.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// HeaderToken carries the token for clients that cannot set Authorization.
const HeaderToken = "X-Watchdog-Token"

// =============================================================================
// Auth Configuration
// =============================================================================

// AuthConfig holds configuration for the token middleware.
type AuthConfig struct {
	// Token is the shared secret. Empty disables the check.
	Token string

	// Logger for auth middleware logging.
	Logger *slog.Logger
}

// =============================================================================
// Token Middleware
// =============================================================================

// TokenAuth rejects requests that do not present the shared token, either
// as "Authorization: Bearer <token>" or in the X-Watchdog-Token header.
type TokenAuth struct {
	config AuthConfig
}

// NewTokenAuth creates a new token middleware with the given config.
func NewTokenAuth(cfg AuthConfig) *TokenAuth {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TokenAuth{config: cfg}
}

// Enabled reports whether a token is configured.
func (m *TokenAuth) Enabled() bool {
	return m.config.Token != ""
}

// Handler returns the middleware handler function.
func (m *TokenAuth) Handler(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}
	want := []byte(m.config.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := TokenFromRequest(r)
		if got == "" {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "token required")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			m.config.Logger.Warn("invalid status token",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			writeJSONError(w, http.StatusForbidden, "forbidden", "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TokenFromRequest returns the presented token, or "" when there is none.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(HeaderToken))
}

// =============================================================================
// JSON Error Response
// =============================================================================

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}
