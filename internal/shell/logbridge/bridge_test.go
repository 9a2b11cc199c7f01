package logbridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/watchdog/internal/core/domain"
	"github.com/artpar/watchdog/internal/shell/notify"
)

// =============================================================================
// Test Helpers
// =============================================================================

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	block  chan struct{}
}

func (p *recordingPublisher) Publish(ctx context.Context, ev domain.Event) map[string]bool {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return map[string]bool{"test": true}
}

func (p *recordingPublisher) snapshot() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

func newTestBridge(pub Publisher, out io.Writer) *Bridge {
	return New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}), pub, Config{ErrorWriter: io.Discard})
}

func waitBridge(t *testing.T, b *Bridge) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx))
}

// =============================================================================
// Bridge Tests
// =============================================================================

func TestBridge_PublishesErrorRecords(t *testing.T) {
	pub := &recordingPublisher{}
	var out bytes.Buffer
	bridge := newTestBridge(pub, &out)
	logger := slog.New(bridge).With("component", "scheduler", "job", "cleanup")

	logger.Error("job failed", "error", errors.New("disk full"), "attempt", 3)
	waitBridge(t, bridge)

	events := pub.snapshot()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, domain.SeverityError, ev.Severity)
	assert.Equal(t, "scheduler", ev.Source)
	assert.Equal(t, "job failed", ev.Title)
	assert.Equal(t, "disk full", ev.Message)
	assert.Equal(t, "cleanup", ev.Metadata["job"])
	assert.EqualValues(t, 3, ev.Metadata["attempt"])
	assert.Contains(t, out.String(), "job failed")
}

func TestBridge_BelowMinLevelOnlyLogs(t *testing.T) {
	pub := &recordingPublisher{}
	var out bytes.Buffer
	bridge := newTestBridge(pub, &out)
	logger := slog.New(bridge)

	logger.Info("all good")
	logger.Warn("slightly odd")
	waitBridge(t, bridge)

	assert.Empty(t, pub.snapshot())
	assert.Contains(t, out.String(), "all good")
	assert.Contains(t, out.String(), "slightly odd")
}

func TestBridge_CustomMinLevel(t *testing.T) {
	pub := &recordingPublisher{}
	bridge := New(slog.NewTextHandler(io.Discard, nil), pub, Config{MinLevel: slog.LevelWarn, ErrorWriter: io.Discard})

	slog.New(bridge).Warn("disk filling")
	waitBridge(t, bridge)

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, domain.SeverityWarning, events[0].Severity)
	assert.Equal(t, "app", events[0].Source)
}

func TestBridge_IgnoresNotificationComponents(t *testing.T) {
	tests := []struct {
		component string
		ignored   bool
	}{
		{"notify", true},
		{"notify.bus", true},
		{"notify.telegram", true},
		{"notify.webhook.retry", true},
		{"logbridge", true},
		{"notifyish", false},
		{"scheduler", false},
	}

	for _, tt := range tests {
		t.Run(tt.component, func(t *testing.T) {
			pub := &recordingPublisher{}
			bridge := newTestBridge(pub, io.Discard)
			slog.New(bridge).Error("delivery failed", "component", tt.component)
			waitBridge(t, bridge)

			assert.Equal(t, tt.ignored, bridge.Ignored(tt.component))
			if tt.ignored {
				assert.Empty(t, pub.snapshot())
			} else {
				assert.Len(t, pub.snapshot(), 1)
			}
		})
	}
}

func TestBridge_IgnoreAddsComponent(t *testing.T) {
	pub := &recordingPublisher{}
	bridge := newTestBridge(pub, io.Discard)
	bridge.Ignore("noisy")

	slog.New(bridge).With("component", "noisy.sub").Error("boom")
	waitBridge(t, bridge)

	assert.Empty(t, pub.snapshot())
}

func TestBridge_DropsRecordsFromBridgedPublish(t *testing.T) {
	pub := &recordingPublisher{}
	bridge := newTestBridge(pub, io.Discard)

	ctx := context.WithValue(context.Background(), ctxKeyInBridge, true)
	slog.New(bridge).ErrorContext(ctx, "emitted during publish")
	waitBridge(t, bridge)

	assert.Empty(t, pub.snapshot())
	assert.True(t, InBridge(ctx))
	assert.False(t, InBridge(context.Background()))
}

func TestBridge_GroupsQualifyMetadata(t *testing.T) {
	pub := &recordingPublisher{}
	bridge := newTestBridge(pub, io.Discard)

	slog.New(bridge).With("component", "api").WithGroup("req").Error("handler failed", "path", "/x")
	waitBridge(t, bridge)

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "api", events[0].Source)
	assert.Equal(t, "/x", events[0].Metadata["req.path"])
}

func TestBridge_StackAttrBecomesTrace(t *testing.T) {
	pub := &recordingPublisher{}
	bridge := newTestBridge(pub, io.Discard)

	slog.New(bridge).Error("crashed", "stack", "goroutine 1 [running]")
	waitBridge(t, bridge)

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "goroutine 1 [running]", events[0].Trace)
	assert.NotContains(t, events[0].Metadata, "stack")
}

func TestBridge_DropsWhenTooManyInFlight(t *testing.T) {
	pub := &recordingPublisher{block: make(chan struct{})}
	bridge := New(slog.NewTextHandler(io.Discard, nil), pub, Config{MaxInFlight: 1, ErrorWriter: io.Discard})
	logger := slog.New(bridge)

	logger.Error("first")
	logger.Error("second")
	close(pub.block)
	waitBridge(t, bridge)

	assert.Len(t, pub.snapshot(), 1)
	assert.Equal(t, uint64(1), bridge.Dropped())
}

func TestBridge_LoggingNeverBlocksOnDelivery(t *testing.T) {
	pub := &recordingPublisher{block: make(chan struct{})}
	bridge := newTestBridge(pub, io.Discard)

	start := time.Now()
	slog.New(bridge).Error("slow delivery")
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(pub.block)
	waitBridge(t, bridge)
}

func TestSeverityFromLevel(t *testing.T) {
	tests := []struct {
		level    slog.Level
		expected domain.Severity
	}{
		{slog.LevelDebug, domain.SeverityDebug},
		{slog.LevelInfo, domain.SeverityInfo},
		{slog.LevelWarn, domain.SeverityWarning},
		{slog.LevelError, domain.SeverityError},
		{slog.LevelError + 2, domain.SeverityError},
		{LevelCritical, domain.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, SeverityFromLevel(tt.level))
		})
	}
}

// =============================================================================
// Bus Integration
// =============================================================================

type failingNotifier struct{}

func (failingNotifier) Name() string                            { return "broken" }
func (failingNotifier) MinSeverity() domain.Severity            { return domain.SeverityDebug }
func (failingNotifier) Send(context.Context, domain.Event) bool { panic("transport exploded") }

func TestBridge_DeliveryFailureDoesNotReenterBus(t *testing.T) {
	var bus *notify.Bus
	bridge := New(slog.NewTextHandler(io.Discard, nil), PublisherFunc(func(ctx context.Context, ev domain.Event) map[string]bool {
		return bus.Publish(ctx, ev)
	}), Config{MinLevel: slog.LevelWarn, ErrorWriter: io.Discard})

	bus = notify.NewBus(notify.BusConfig{Capacity: 10, Logger: slog.New(bridge)})
	require.NoError(t, bus.Register(failingNotifier{}))

	slog.New(bridge).With("component", "worker").Error("job failed")
	waitBridge(t, bridge)

	// Give any re-entrant publish a chance to show up.
	time.Sleep(50 * time.Millisecond)
	waitBridge(t, bridge)

	events := bus.RecentEvents(10)
	require.Len(t, events, 1)
	assert.Equal(t, "job failed", events[0].Title)
}
