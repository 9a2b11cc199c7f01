package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/artpar/watchdog/internal/core/domain"
)

// TelegramConfig configures a TelegramNotifier.
type TelegramConfig struct {
	Name        string
	Token       string
	ChatID      string
	BaseURL     string
	MinSeverity domain.Severity
	// MinInterval is the minimum spacing between two messages.
	MinInterval time.Duration
	// MaxRetryWait caps the server requested back-off; longer waits drop the event.
	MaxRetryWait time.Duration
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// DefaultTelegramConfig returns the Telegram defaults.
func DefaultTelegramConfig() TelegramConfig {
	return TelegramConfig{
		Name:         "telegram",
		BaseURL:      "https://api.telegram.org",
		MinSeverity:  domain.SeverityInfo,
		MinInterval:  1500 * time.Millisecond,
		MaxRetryWait: time.Minute,
		Timeout:      10 * time.Second,
	}
}

const defaultTelegramRetryAfter = 5 * time.Second

// RateLimitError is returned when the Bot API answers 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("telegram rate limited, retry after %s", e.RetryAfter)
}

// TelegramError is a non-success Bot API response.
type TelegramError struct {
	StatusCode  int
	Description string
}

func (e *TelegramError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.StatusCode, e.Description)
}

// =============================================================================
// Telegram Notifier
// =============================================================================

// TelegramNotifier posts HTML messages through the Telegram Bot API.
// The bot token only ever appears in the request URL; every error and log
// line uses the redacted endpoint.
type TelegramNotifier struct {
	base

	chatID       string
	endpoint     string
	redacted     string
	maxRetryWait time.Duration
	limiter      *rate.Limiter
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewTelegramNotifier validates the configuration and creates the notifier.
func NewTelegramNotifier(cfg TelegramConfig) (*TelegramNotifier, error) {
	defaults := DefaultTelegramConfig()
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: telegram bot token", ErrMissingSetting)
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("%w: telegram chat id", ErrMissingSetting)
	}
	if cfg.MinSeverity == 0 {
		cfg.MinSeverity = defaults.MinSeverity
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaults.MinInterval
	}
	if cfg.MaxRetryWait <= 0 {
		cfg.MaxRetryWait = defaults.MaxRetryWait
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	n := &TelegramNotifier{
		chatID:       cfg.ChatID,
		endpoint:     baseURL + "/bot" + cfg.Token + "/sendMessage",
		redacted:     baseURL + "/bot<redacted>/sendMessage",
		maxRetryWait: cfg.MaxRetryWait,
		limiter:      rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		httpClient:   cfg.HTTPClient,
		logger:       cfg.Logger.With("component", ComponentTelegram),
	}
	n.init(cfg.Name, defaults.Name, cfg.MinSeverity)
	return n, nil
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type botAPIResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send delivers ev, backing off once on a rate limit answer.
func (n *TelegramNotifier) Send(ctx context.Context, ev domain.Event) bool {
	if err := n.limiter.Wait(ctx); err != nil {
		n.logger.WarnContext(ctx, "telegram send skipped", "event_id", ev.ID, "error", err)
		return false
	}

	msg := sendMessageRequest{
		ChatID:                n.chatID,
		Text:                  FormatHTML(ev),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}

	err := n.post(ctx, msg)
	var rl *RateLimitError
	if errors.As(err, &rl) {
		if rl.RetryAfter > n.maxRetryWait {
			n.logger.WarnContext(ctx, "telegram rate limit too long, dropping event", "event_id", ev.ID, "retry_after", rl.RetryAfter)
			return false
		}
		n.logger.WarnContext(ctx, "telegram rate limited, retrying once", "event_id", ev.ID, "retry_after", rl.RetryAfter)
		if err := sleepCtx(ctx, rl.RetryAfter); err != nil {
			return false
		}
		err = n.post(ctx, msg)
	}
	if err != nil {
		n.logger.WarnContext(ctx, "telegram send failed", "event_id", ev.ID, "error", err)
		return false
	}
	return true
}

func (n *TelegramNotifier) post(ctx context.Context, msg sendMessageRequest) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request for %s", n.redacted)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", n.redacted, stripURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var apiResp botAPIResponse
	_ = json.Unmarshal(raw, &apiResp)

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: retryAfter(apiResp.Parameters.RetryAfter, resp.Header.Get("Retry-After"))}
	}

	desc := apiResp.Description
	if desc == "" {
		desc = truncate(string(raw), 200)
	}
	return fmt.Errorf("POST %s: %w", n.redacted, &TelegramError{StatusCode: resp.StatusCode, Description: desc})
}

// retryAfter prefers the JSON parameter, then the header, then the default.
func retryAfter(param int, header string) time.Duration {
	if param > 0 {
		return time.Duration(param) * time.Second
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultTelegramRetryAfter
}

// stripURL drops the request URL from transport errors, which would carry the token.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
