package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, healthURL string) *Config {
	t.Helper()
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Docker.Enabled = false
	cfg.Host.Enabled = false
	cfg.Report.Interval = 0
	cfg.Health.URL = healthURL
	cfg.Notify.LogDir = t.TempDir()
	cfg.Notify.File.Console = false
	return cfg
}

func TestNewServer_StatusSurface(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer target.Close()

	cfg := testConfig(t, target.URL)
	srv, err := NewServer(cfg, discardLogger())
	require.NoError(t, err)
	defer srv.close()

	require.NotNil(t, srv.httpServer)
	status := httptest.NewServer(srv.httpServer.Handler)
	defer status.Close()

	resp, err := http.Get(status.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Service    string         `json:"service"`
		Components map[string]any `json:"components"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "watchdog", body.Service)
	assert.Contains(t, body.Components, "monitors")
	assert.Contains(t, body.Components, "health")
	assert.NotContains(t, body.Components, "docker")

	metrics, err := http.Get(status.URL + "/metrics")
	require.NoError(t, err)
	metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}

func TestNewServer_InvalidHealthURL(t *testing.T) {
	cfg := testConfig(t, "ftp://example.com/health")

	_, err := NewServer(cfg, discardLogger())
	var sErr *ServerError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, ExitConfigError, sErr.ExitCode)
}

func TestServer_StartAndShutdown(t *testing.T) {
	cfg := testConfig(t, "")
	srv, err := NewServer(cfg, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}

	log, err := os.ReadFile(filepath.Join(cfg.Notify.LogDir, "notifications.log"))
	require.NoError(t, err)
	assert.Contains(t, string(log), "watchdog started")
	assert.Contains(t, string(log), "watchdog shutting down")
	assert.Contains(t, string(log), "context cancelled")
}

func TestServerError(t *testing.T) {
	err := &ServerError{Op: "Start", Err: assert.AnError, ExitCode: ExitHTTPServerError}
	assert.Equal(t, "Start: "+assert.AnError.Error(), err.Error())
	assert.ErrorIs(t, err, assert.AnError)
}
