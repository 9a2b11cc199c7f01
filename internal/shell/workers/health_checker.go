package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/artpar/watchdog/internal/core/domain"
	"github.com/artpar/watchdog/internal/core/monitoring"
)

// ErrInvalidHealthURL is returned when the health endpoint is not an absolute http(s) URL.
var ErrInvalidHealthURL = errors.New("invalid health check url")

// maxHealthBody bounds how much of a health response is read.
const maxHealthBody = 64 << 10

// HealthCheckerConfig configures the health checker worker.
type HealthCheckerConfig struct {
	// URL is the endpoint polled with GET.
	URL string

	// Interval is the time between checks.
	// Default: 30 seconds.
	Interval time.Duration

	// Timeout bounds a single check.
	// Default: 10 seconds.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures before the
	// target is declared down.
	// Default: 3.
	FailureThreshold int

	// ExpectStatus is compared with the "status" field of a JSON body, when
	// the body has one.
	// Default: "healthy".
	ExpectStatus string

	// SkipBodyCheck accepts any 2xx response regardless of its body.
	SkipBodyCheck bool

	HTTPClient *http.Client
}

// DefaultHealthCheckerConfig returns the default configuration.
func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: monitoring.DefaultFailureThreshold,
		ExpectStatus:     "healthy",
	}
}

// HealthChecker periodically polls an HTTP endpoint of the primary service.
// It publishes one CRITICAL event when the endpoint goes down and one INFO
// event when it recovers.
type HealthChecker struct {
	pub    Publisher
	config HealthCheckerConfig
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	state         *monitoring.HealthState
	totalChecks   int
	totalFailures int
	lastCheck     *time.Time
	lastResponse  time.Duration
	lastError     string
}

// NewHealthChecker creates a new health checker worker.
func NewHealthChecker(pub Publisher, config HealthCheckerConfig, logger *slog.Logger) (*HealthChecker, error) {
	u, err := url.Parse(config.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHealthURL, config.URL)
	}

	defaults := DefaultHealthCheckerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.ExpectStatus == "" {
		config.ExpectStatus = defaults.ExpectStatus
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &HealthChecker{
		pub:    pub,
		config: config,
		client: client,
		logger: logger.With("component", "health_checker", "url", config.URL),
		now:    time.Now,
		state:  monitoring.NewHealthState(config.FailureThreshold),
	}, nil
}

// Name identifies the worker in supervision and status output.
func (h *HealthChecker) Name() string {
	return domain.SourceHealthChecker
}

// Run polls until ctx is cancelled. The first check happens immediately and
// an in-flight request is cancelled with ctx.
func (h *HealthChecker) Run(ctx context.Context) error {
	h.logger.Info("health checker started",
		"interval", h.config.Interval,
		"threshold", h.config.FailureThreshold,
	)

	h.CheckNow(ctx)

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("health checker stopped")
			return nil
		case <-ticker.C:
			h.CheckNow(ctx)
		}
	}
}

// CheckNow performs one check, updates the state and publishes any transition.
func (h *HealthChecker) CheckNow(ctx context.Context) monitoring.HealthOutcome {
	checkCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	ok, elapsed, detail := h.probe(checkCtx)
	cancel()

	if ctx.Err() != nil {
		// Shutting down; a cancelled request says nothing about the target.
		return monitoring.HealthOutcome{}
	}

	now := h.now().UTC()

	h.mu.Lock()
	h.totalChecks++
	if !ok {
		h.totalFailures++
		h.lastError = detail
	} else {
		h.lastError = ""
	}
	h.lastCheck = &now
	h.lastResponse = elapsed
	outcome := h.state.Observe(ok, now)
	h.mu.Unlock()

	ms := roundTo(float64(elapsed)/float64(time.Millisecond), 1)

	switch outcome.Transition {
	case monitoring.HealthWentDown:
		h.logger.Warn("health check target down", "failures", outcome.FailedChecks, "error", detail)
		ev := domain.NewEvent(domain.SeverityCritical, domain.SourceHealthChecker,
			"Health check failed",
			fmt.Sprintf("%s not responding for %d consecutive checks. Last error: %s",
				h.config.URL, outcome.FailedChecks, detail)).
			WithCategory(domain.CategoryMonitor).
			WithFields(map[string]any{
				"url":                  h.config.URL,
				"consecutive_failures": outcome.FailedChecks,
				"last_error":           detail,
				"response_ms":          ms,
			})
		h.pub.Publish(ctx, ev)

	case monitoring.HealthRecovered:
		h.logger.Info("health check target recovered", "downtime", outcome.Downtime)
		ev := domain.NewEvent(domain.SeverityInfo, domain.SourceHealthChecker,
			"Health check recovered",
			fmt.Sprintf("%s responding again (%.0fms)", h.config.URL, ms)).
			WithCategory(domain.CategoryMonitor).
			WithFields(map[string]any{
				"url":           h.config.URL,
				"downtime":      formatDuration(outcome.Downtime),
				"failed_checks": outcome.FailedChecks,
			})
		h.pub.Publish(ctx, ev)

	default:
		if !ok {
			h.logger.Debug("health check failed", "error", detail)
		}
	}

	return outcome
}

// probe issues the GET and interprets the response.
func (h *HealthChecker) probe(ctx context.Context) (bool, time.Duration, string) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.config.URL, nil)
	if err != nil {
		return false, 0, err.Error()
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return false, time.Since(start), describeProbeError(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxHealthBody))
	elapsed := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, elapsed, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}

	if !h.config.SkipBodyCheck {
		var payload struct {
			Status *string `json:"status"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Status != nil &&
			!strings.EqualFold(*payload.Status, h.config.ExpectStatus) {
			return false, elapsed, fmt.Sprintf("status %q", *payload.Status)
		}
	}

	return true, elapsed, "OK"
}

func describeProbeError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "Timeout"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "Connection refused"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err.Error()
	}
	return err.Error()
}

// Status returns a snapshot of the checker state.
func (h *HealthChecker) Status() domain.HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := domain.HealthSnapshot{
		URL:                  h.config.URL,
		Status:               h.state.Status,
		ConsecutiveFailures:  h.state.ConsecutiveFailures,
		ConsecutiveSuccesses: h.state.ConsecutiveSuccesses,
		TotalChecks:          h.totalChecks,
		TotalFailures:        h.totalFailures,
		UptimePercent:        monitoring.UptimePercent(h.totalChecks, h.totalFailures),
		LastResponseMS:       roundTo(float64(h.lastResponse)/float64(time.Millisecond), 1),
		LastError:            h.lastError,
	}
	if h.totalChecks == 0 {
		snap.Status = domain.HealthStatusUnknown
	}
	if h.lastCheck != nil {
		t := *h.lastCheck
		snap.LastCheck = &t
	}
	return snap
}
