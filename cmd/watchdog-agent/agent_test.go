package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/watchdog/internal/core/domain"
)

func testAgentConfig(t *testing.T) *Config {
	t.Helper()
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.Server.Enabled = false
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Agent.InitialBackoff = 10 * time.Millisecond
	cfg.Notify.LogDir = t.TempDir()
	cfg.Notify.File.Console = false
	return cfg
}

func TestAgent_ChildExitCodePassesThrough(t *testing.T) {
	cfg := testAgentConfig(t)
	agent, err := NewAgent(cfg, slog.NewTextHandler(io.Discard, nil), []string{"sh", "-c", "exit 4"})
	require.NoError(t, err)

	code, err := agent.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, code)

	log, err := os.ReadFile(filepath.Join(cfg.Notify.LogDir, "notifications.log"))
	require.NoError(t, err)
	assert.Contains(t, string(log), "tempmail-bot started")
	assert.Contains(t, string(log), "tempmail-bot exited")
	assert.Contains(t, string(log), "tempmail-bot shutting down")
}

func TestAgent_BridgePublishesErrorLogs(t *testing.T) {
	cfg := testAgentConfig(t)
	agent, err := NewAgent(cfg, slog.NewTextHandler(io.Discard, nil), nil)
	require.NoError(t, err)
	defer agent.Shutdown("test done")

	logger := agent.Logger()
	logger.Info("request served")
	logger.With("component", "payments").Error("charge failed", "order", "A-1")
	logger.With("component", "notify.telegram").Error("delivery failed")
	require.NoError(t, agent.bridge.Wait(context.Background()))

	events := agent.Bus().RecentEvents(10)
	require.Len(t, events, 1)
	assert.Equal(t, domain.SeverityError, events[0].Severity)
	assert.Equal(t, "payments", events[0].Source)
	assert.Contains(t, events[0].Title+events[0].Message, "charge failed")
}

func TestAgent_HealthEndpointFollowsChild(t *testing.T) {
	cfg := testAgentConfig(t)
	cfg.Server.Enabled = true
	agent, err := NewAgent(cfg, slog.NewTextHandler(io.Discard, nil), nil)
	require.NoError(t, err)
	defer agent.Shutdown("test done")

	srv := httptest.NewServer(agent.httpServer.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	agent.health.SetUnhealthy("process exited with code 1")
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAgent_StopsOnCancel(t *testing.T) {
	cfg := testAgentConfig(t)
	agent, err := NewAgent(cfg, slog.NewTextHandler(io.Discard, nil), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		code, _ := agent.Start(ctx)
		done <- code
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, ExitSuccess, code)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
}
