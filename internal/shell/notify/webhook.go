package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/artpar/watchdog/internal/core/domain"
)

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	Name        string
	URL         string
	Format      PayloadFormat
	Headers     map[string]string
	MinSeverity domain.Severity
	// RequireTLS refuses plain http endpoints instead of warning.
	RequireTLS   bool
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// DefaultWebhookConfig returns the webhook defaults: one retry, 10s timeout.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Name:         "webhook",
		Format:       FormatJSON,
		MinSeverity:  domain.SeverityWarning,
		Timeout:      10 * time.Second,
		RetryMax:     1,
		RetryWaitMin: time.Second,
		RetryWaitMax: 5 * time.Second,
	}
}

// WebhookError is a non-2xx webhook response.
type WebhookError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// =============================================================================
// Webhook Notifier
// =============================================================================

// WebhookNotifier POSTs events to an HTTP endpoint as json, slack or discord
// payloads. Only the scheme and host of the URL appear in errors and logs.
type WebhookNotifier struct {
	base

	url      string
	redacted string
	format   PayloadFormat
	headers  map[string]string
	client   *retryablehttp.Client
	logger   *slog.Logger
}

// NewWebhookNotifier validates the URL and builds the retrying client.
func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	defaults := DefaultWebhookConfig()
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: webhook url", ErrMissingSetting)
	}
	if cfg.MinSeverity == 0 {
		cfg.MinSeverity = defaults.MinSeverity
	}
	if cfg.Format == "" {
		cfg.Format = defaults.Format
	}
	if _, err := ParsePayloadFormat(string(cfg.Format)); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = defaults.RetryWaitMin
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = defaults.RetryWaitMax
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", ComponentWebhook)

	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: webhook url is not an absolute http(s) url", ErrInvalidNotifier)
	}
	redacted := u.Scheme + "://" + u.Host + "/<redacted>"
	if u.Scheme != "https" {
		if cfg.RequireTLS {
			return nil, fmt.Errorf("%w: %s", ErrInsecureWebhook, redacted)
		}
		logger.Warn("webhook url does not use https, event data will be sent in cleartext", "endpoint", redacted)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.Logger = nil
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.HTTPClient != nil {
		// Copy so the timeout does not leak into the caller's client.
		hc := *cfg.HTTPClient
		client.HTTPClient = &hc
	}
	client.HTTPClient.Timeout = cfg.Timeout

	n := &WebhookNotifier{
		url:      cfg.URL,
		redacted: redacted,
		format:   cfg.Format,
		headers:  cfg.Headers,
		client:   client,
		logger:   logger,
	}
	n.init(cfg.Name, defaults.Name, cfg.MinSeverity)
	return n, nil
}

// Format returns the payload format in use.
func (n *WebhookNotifier) Format() PayloadFormat { return n.format }

// Send posts ev to the webhook.
func (n *WebhookNotifier) Send(ctx context.Context, ev domain.Event) bool {
	if err := n.post(ctx, ev); err != nil {
		n.logger.WarnContext(ctx, "webhook send failed", "event_id", ev.ID, "error", err)
		return false
	}
	return true
}

func (n *WebhookNotifier) post(ctx context.Context, ev domain.Event) error {
	body, err := json.Marshal(n.format.Build(ev))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, body)
	if err != nil {
		return fmt.Errorf("failed to create request for %s", n.redacted)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", n.redacted, stripURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &WebhookError{Endpoint: n.redacted, StatusCode: resp.StatusCode, Body: truncate(string(raw), 200)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close releases idle connections.
func (n *WebhookNotifier) Close() error {
	n.client.HTTPClient.CloseIdleConnections()
	return nil
}
