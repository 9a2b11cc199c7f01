package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/watchdog/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

// scriptedMonitor fails the first `failures` runs (panicking when panics is
// set) and then blocks until cancelled.
type scriptedMonitor struct {
	name     string
	failures int32
	panics   bool
	runs     atomic.Int32
}

func (m *scriptedMonitor) Name() string { return m.name }

func (m *scriptedMonitor) Run(ctx context.Context) error {
	n := m.runs.Add(1)
	if n <= m.failures {
		if m.panics {
			panic("nil pointer dereference")
		}
		return errors.New("stream broken")
	}
	<-ctx.Done()
	return nil
}

type recordingNet struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingNet) Send(_ context.Context, ev domain.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *recordingNet) snapshot() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

type countingRecorder struct{ restarts atomic.Int32 }

func (c *countingRecorder) MonitorRestarted(string) { c.restarts.Add(1) }

func testConfig(net SafetyNet) Config {
	return Config{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		SafetyNet:      net,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func runSupervisor(t *testing.T, s *Supervisor) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("supervisor did not stop")
		}
	})
	return cancel
}

// =============================================================================
// Tests
// =============================================================================

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{6, time.Minute},
		{100, time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, Backoff(tt.attempt, time.Second, time.Minute), "attempt %d", tt.attempt)
	}
}

func TestSupervisor_RestartsFailingMonitor(t *testing.T) {
	net := &recordingNet{}
	rec := &countingRecorder{}
	mon := &scriptedMonitor{name: "docker-monitor", failures: 2}

	cfg := testConfig(net)
	cfg.Metrics = rec
	s, err := New(cfg, mon)
	require.NoError(t, err)
	runSupervisor(t, s)

	require.Eventually(t, func() bool { return mon.runs.Load() == 3 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.Status()[0].Running }, time.Second, time.Millisecond)

	events := net.snapshot()
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, domain.SeverityError, ev.Severity)
		assert.Equal(t, domain.SourceSupervisor, ev.Source)
		assert.Equal(t, domain.CategoryCrash, ev.Category)
		assert.Equal(t, "docker-monitor", ev.Metadata["monitor"])
	}
	assert.Equal(t, 2, events[1].Metadata["restarts"])

	status := s.Status()[0]
	assert.Equal(t, 2, status.Restarts)
	assert.Equal(t, "stream broken", status.LastError)
	assert.NotNil(t, status.LastExit)
	assert.Equal(t, int32(2), rec.restarts.Load())
}

func TestSupervisor_PanicIsCriticalWithTrace(t *testing.T) {
	net := &recordingNet{}
	mon := &scriptedMonitor{name: "host-monitor", failures: 1, panics: true}

	s, err := New(testConfig(net), mon)
	require.NoError(t, err)
	runSupervisor(t, s)

	require.Eventually(t, func() bool { return mon.runs.Load() == 2 }, time.Second, time.Millisecond)

	events := net.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, domain.SeverityCritical, events[0].Severity)
	assert.Equal(t, "Monitor host-monitor crashed", events[0].Title)
	assert.Contains(t, events[0].Message, "panic: nil pointer dereference")
	assert.Contains(t, events[0].Trace, "goroutine")
}

func TestSupervisor_CleanReturnIsRestarted(t *testing.T) {
	var runs atomic.Int32
	mon := monitorFunc{name: "reporter", run: func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return nil
		}
		<-ctx.Done()
		return nil
	}}

	net := &recordingNet{}
	s, err := New(testConfig(net), mon)
	require.NoError(t, err)
	runSupervisor(t, s)

	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, ErrMonitorExited.Error(), s.Status()[0].LastError)
}

func TestSupervisor_FailingMonitorDoesNotAffectOthers(t *testing.T) {
	var steady atomic.Int32
	healthy := monitorFunc{name: "health-checker", run: func(ctx context.Context) error {
		steady.Add(1)
		<-ctx.Done()
		return nil
	}}
	broken := &scriptedMonitor{name: "docker-monitor", failures: 1000}

	s, err := New(testConfig(nil), healthy, broken)
	require.NoError(t, err)
	runSupervisor(t, s)

	require.Eventually(t, func() bool { return broken.runs.Load() > 5 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), steady.Load())
}

func TestSupervisor_CancelStopsAll(t *testing.T) {
	mon := &scriptedMonitor{name: "a"}
	s, err := New(testConfig(nil), mon, &scriptedMonitor{name: "b"})
	require.NoError(t, err)

	cancel := runSupervisor(t, s)
	require.Eventually(t, func() bool { return mon.runs.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	require.Eventually(t, func() bool {
		for _, st := range s.Status() {
			if st.Running {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
}

func TestSupervisor_DuplicateName(t *testing.T) {
	_, err := New(testConfig(nil), &scriptedMonitor{name: "a"}, &scriptedMonitor{name: "a"})
	assert.ErrorIs(t, err, ErrDuplicateMonitor)
}

func TestSupervisor_AddAfterRun(t *testing.T) {
	s, err := New(testConfig(nil), &scriptedMonitor{name: "a"})
	require.NoError(t, err)
	runSupervisor(t, s)

	require.Eventually(t, func() bool {
		return errors.Is(s.Add(&scriptedMonitor{name: "b"}), ErrAlreadyRunning)
	}, time.Second, time.Millisecond)
}

type monitorFunc struct {
	name string
	run  func(ctx context.Context) error
}

func (m monitorFunc) Name() string                  { return m.name }
func (m monitorFunc) Run(ctx context.Context) error { return m.run(ctx) }

func TestRecover_SpawnedGoroutine(t *testing.T) {
	errc := make(chan error, 1)
	go func() {
		var err error
		defer func() { errc <- err }()
		defer Recover(&err)
		panic("sampler bug")
	}()

	var pe *PanicError
	require.ErrorAs(t, <-errc, &pe)
	assert.Equal(t, "sampler bug", pe.Value)
	assert.Contains(t, string(pe.Stack), "goroutine")
}

func TestRecover_NoPanicKeepsError(t *testing.T) {
	want := errors.New("stream broken")
	err := func() (err error) {
		defer Recover(&err)
		return want
	}()
	assert.ErrorIs(t, err, want)
}
