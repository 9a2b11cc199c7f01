package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/watchdog/internal/core/domain"
)

const testToken = "123456:SECRET-TOKEN"

func newTestTelegram(t *testing.T, baseURL string, logs *bytes.Buffer) *TelegramNotifier {
	t.Helper()
	n, err := NewTelegramNotifier(TelegramConfig{
		Token:       testToken,
		ChatID:      "42",
		BaseURL:     baseURL,
		MinInterval: time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(logs, nil)),
	})
	require.NoError(t, err)
	return n
}

func TestNewTelegramNotifier_RequiresSettings(t *testing.T) {
	_, err := NewTelegramNotifier(TelegramConfig{ChatID: "1"})
	assert.ErrorIs(t, err, ErrMissingSetting)

	_, err = NewTelegramNotifier(TelegramConfig{Token: "t"})
	assert.ErrorIs(t, err, ErrMissingSetting)
}

func TestTelegramNotifier_Send(t *testing.T) {
	var got sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot"+testToken+"/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	var logs bytes.Buffer
	n := newTestTelegram(t, server.URL, &logs)

	assert.True(t, n.Send(context.Background(), sampleEvent()))
	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.True(t, got.DisableWebPagePreview)
	assert.Contains(t, got.Text, "Container died")
	assert.Equal(t, domain.SeverityInfo, n.MinSeverity())
}

func TestTelegramNotifier_RetriesOnceAfterRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"error_code":429,"parameters":{"retry_after":1}}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	var logs bytes.Buffer
	n := newTestTelegram(t, server.URL, &logs)

	start := time.Now()
	assert.True(t, n.Send(context.Background(), sampleEvent()))
	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestTelegramNotifier_DropsAfterSecondRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	var logs bytes.Buffer
	n := newTestTelegram(t, server.URL, &logs)

	assert.False(t, n.Send(context.Background(), sampleEvent()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestTelegramNotifier_ErrorsNeverContainToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	}))
	defer server.Close()

	var logs bytes.Buffer
	n := newTestTelegram(t, server.URL, &logs)

	assert.False(t, n.Send(context.Background(), sampleEvent()))
	assert.Contains(t, logs.String(), "bot<redacted>")
	assert.Contains(t, logs.String(), "Unauthorized")
	assert.NotContains(t, logs.String(), "SECRET-TOKEN")

	err := n.post(context.Background(), sendMessageRequest{ChatID: "42"})
	var apiErr *TelegramError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
}

func TestTelegramNotifier_TransportErrorIsRedacted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	var logs bytes.Buffer
	n := newTestTelegram(t, baseURL, &logs)

	err := n.post(context.Background(), sendMessageRequest{ChatID: "42"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
	assert.Contains(t, err.Error(), "bot<redacted>")
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfter(3, "10"))
	assert.Equal(t, 10*time.Second, retryAfter(0, "10"))
	assert.Equal(t, defaultTelegramRetryAfter, retryAfter(0, "soon"))
}
