package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/watchdog/internal/core/domain"
	"github.com/artpar/watchdog/internal/shell/logbridge"
	"github.com/artpar/watchdog/internal/shell/notify"
)

// =============================================================================
// Test Helpers
// =============================================================================

type recordedHealth struct {
	mu      sync.Mutex
	healthy []bool
	reasons []string
}

func (h *recordedHealth) SetHealthy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy = append(h.healthy, true)
}

func (h *recordedHealth) SetUnhealthy(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy = append(h.healthy, false)
	h.reasons = append(h.reasons, reason)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRunner(t *testing.T, cfg ProcessConfig) (*ProcessRunner, *notify.Bus, *recordedHealth) {
	t.Helper()
	bus := notify.NewBus(notify.BusConfig{Logger: testLogger()})
	health := &recordedHealth{}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 10 * time.Millisecond
	}
	if cfg.Stdout == nil {
		cfg.Stdout = io.Discard
	}
	r := NewProcessRunner(cfg, "tempmail-bot", bus, logbridge.NewLifecycle(bus, "tempmail-bot"), health, testLogger())
	return r, bus, health
}

func titles(events []domain.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Title)
	}
	return out
}

// =============================================================================
// Process Runner Tests
// =============================================================================

func TestProcessRunner_CleanExit(t *testing.T) {
	var stdout bytes.Buffer
	r, bus, health := newRunner(t, ProcessConfig{
		Command: []string{"sh", "-c", "echo ready"},
		Stdout:  &stdout,
	})

	code, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "ready\n", stdout.String())
	assert.Equal(t, []bool{true}, health.healthy)
	assert.Empty(t, bus.RecentEvents(10))
}

func TestProcessRunner_FailureWithoutRestart(t *testing.T) {
	r, bus, health := newRunner(t, ProcessConfig{
		Command: []string{"sh", "-c", "exit 3"},
	})

	code, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, []bool{true, false}, health.healthy)

	events := bus.RecentEvents(10)
	require.Len(t, events, 1)
	assert.Equal(t, domain.SeverityCritical, events[0].Severity)
	assert.Equal(t, "💥 tempmail-bot exited", events[0].Title)
	assert.Equal(t, domain.CategoryCrash, events[0].Category)
	assert.Equal(t, 3, events[0].Metadata["exit_code"])
}

func TestProcessRunner_RestartsUntilLimit(t *testing.T) {
	r, bus, _ := newRunner(t, ProcessConfig{
		Command:     []string{"sh", "-c", "exit 2"},
		Restart:     true,
		MaxRestarts: 2,
	})

	code, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, code)

	assert.Equal(t, []string{
		"💥 tempmail-bot crashed, restarting",
		"💥 tempmail-bot crashed, restarting",
		"💥 tempmail-bot exited",
	}, titles(bus.RecentEvents(10)))
	last := bus.RecentEvents(1)[0]
	assert.Equal(t, 2, last.Metadata["restarts"])
}

func TestProcessRunner_CommandNotFound(t *testing.T) {
	r, bus, _ := newRunner(t, ProcessConfig{
		Command: []string{"/nonexistent/binary"},
		Restart: true,
	})

	code, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitCommandNotFound, code)
	assert.Equal(t, []string{"💥 tempmail-bot exited"}, titles(bus.RecentEvents(10)), "start failures are not retried")
}

func TestProcessRunner_StopsOnCancel(t *testing.T) {
	r, bus, _ := newRunner(t, ProcessConfig{
		Command:     []string{"sleep", "30"},
		StopTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var code int
	var err error
	go func() {
		code, err = r.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Empty(t, bus.RecentEvents(10))
}
