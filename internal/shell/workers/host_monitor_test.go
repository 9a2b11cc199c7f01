package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/watchdog/internal/core/domain"
	"github.com/artpar/watchdog/internal/shell/supervisor"
)

// scriptedSampler returns queued values in order, repeating the last one.
type scriptedSampler struct {
	mu     sync.Mutex
	values []float64
	err    error
	calls  int
}

func (s *scriptedSampler) Sample(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	v := s.values[0]
	if len(s.values) > 1 {
		s.values = s.values[1:]
	}
	return v, nil
}

// sampleAll samples every metric once, sequentially.
func sampleAll(m *HostMonitor) {
	for _, track := range m.metrics {
		m.sample(context.Background(), track)
	}
}

func newTestHostMonitor(pub Publisher, metrics ...MetricConfig) *HostMonitor {
	return NewHostMonitor(pub, HostMonitorConfig{Interval: time.Hour, Metrics: metrics}, discardLogger())
}

func TestDefaultHostMonitorConfig(t *testing.T) {
	config := DefaultHostMonitorConfig()

	require.Len(t, config.Metrics, 3)
	thresholds := map[domain.MetricName]float64{}
	for _, m := range config.Metrics {
		thresholds[m.Name] = m.Threshold
		assert.Equal(t, 5.0, m.RecoveryMargin)
		assert.Equal(t, 95.0, m.ErrorValue)
	}
	assert.Equal(t, map[domain.MetricName]float64{
		domain.MetricCPU:    90,
		domain.MetricMemory: 85,
		domain.MetricDisk:   90,
	}, thresholds)
	assert.Equal(t, 60*time.Second, config.Interval)
}

func TestNewHostMonitor_DefaultSamplers(t *testing.T) {
	m := NewHostMonitor(&fakePublisher{}, HostMonitorConfig{}, nil)

	require.Len(t, m.metrics, 3)
	assert.IsType(t, CPUSampler{}, m.metrics[0].sampler)
	assert.IsType(t, MemorySampler{}, m.metrics[1].sampler)
	assert.Equal(t, DiskSampler{Path: "/"}, m.metrics[2].sampler)
	assert.Equal(t, domain.SourceHostMonitor, m.Name())
}

func TestNewHostMonitor_UnknownMetricSkipped(t *testing.T) {
	m := newTestHostMonitor(&fakePublisher{}, MetricConfig{Name: "gpu", Threshold: 80})
	assert.Empty(t, m.metrics)
}

func TestHostMonitor_Hysteresis(t *testing.T) {
	tests := []struct {
		name       string
		values     []float64
		severities []domain.Severity
	}{
		{
			name:       "oscillation around threshold alerts once",
			values:     []float64{89, 91, 89, 91, 89, 91},
			severities: []domain.Severity{domain.SeverityWarning},
		},
		{
			name:       "recovery only at or below margin",
			values:     []float64{91, 86, 85, 91},
			severities: []domain.Severity{domain.SeverityWarning, domain.SeverityInfo, domain.SeverityWarning},
		},
		{
			name:       "error value escalates immediately",
			values:     []float64{96, 97, 80},
			severities: []domain.Severity{domain.SeverityError, domain.SeverityInfo},
		},
		{
			name:       "breach then error value escalates once",
			values:     []float64{91, 96, 97},
			severities: []domain.Severity{domain.SeverityWarning, domain.SeverityError},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			sampler := &scriptedSampler{values: tt.values}
			m := newTestHostMonitor(pub, MetricConfig{
				Name:           domain.MetricCPU,
				Threshold:      90,
				RecoveryMargin: 5,
				ErrorValue:     95,
				Sampler:        sampler,
			})

			for range tt.values {
				sampleAll(m)
			}

			var got []domain.Severity
			for _, ev := range pub.snapshot() {
				got = append(got, ev.Severity)
				assert.Equal(t, domain.SourceHostMonitor, ev.Source)
				assert.Equal(t, "cpu", ev.Metadata["metric"])
			}
			assert.Equal(t, tt.severities, got)
		})
	}
}

func TestHostMonitor_EscalatesAfterDuration(t *testing.T) {
	pub := &fakePublisher{}
	m := newTestHostMonitor(pub, MetricConfig{
		Name:          domain.MetricDisk,
		Threshold:     90,
		EscalateAfter: 5 * time.Minute,
		Sampler:       &scriptedSampler{values: []float64{92}},
	})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	sampleAll(m)
	now = now.Add(4 * time.Minute)
	sampleAll(m)
	now = now.Add(time.Minute)
	sampleAll(m)
	now = now.Add(time.Minute)
	sampleAll(m)

	events := pub.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, domain.SeverityWarning, events[0].Severity)
	assert.Equal(t, domain.SeverityError, events[1].Severity)
	assert.Contains(t, events[1].Message, "after 5m 0s")
}

func TestHostMonitor_MemoryMessageMentionsPressure(t *testing.T) {
	pub := &fakePublisher{}
	m := newTestHostMonitor(pub, MetricConfig{
		Name:      domain.MetricMemory,
		Threshold: 85,
		Sampler:   &scriptedSampler{values: []float64{88.04}},
	})

	sampleAll(m)

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "High RAM usage", events[0].Title)
	assert.Contains(t, events[0].Message, "RAM at 88.0%")
	assert.Contains(t, events[0].Message, "Memory pressure")
}

func TestHostMonitor_SampleErrorKeepsState(t *testing.T) {
	pub := &fakePublisher{}
	sampler := &scriptedSampler{err: errors.New("permission denied")}
	m := newTestHostMonitor(pub, MetricConfig{Name: domain.MetricDisk, Threshold: 90, Sampler: sampler})

	sampleAll(m)

	assert.Empty(t, pub.snapshot())
	status := m.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "permission denied", status[0].LastError)
	assert.Nil(t, status[0].SampledAt)
}

func TestHostMonitor_Status(t *testing.T) {
	m := newTestHostMonitor(&fakePublisher{},
		MetricConfig{Name: domain.MetricCPU, Threshold: 90, RecoveryMargin: 5, Sampler: &scriptedSampler{values: []float64{93.27}}},
		MetricConfig{Name: domain.MetricDisk, Threshold: 90, RecoveryMargin: 5, Sampler: &scriptedSampler{values: []float64{40}}},
	)

	sampleAll(m)

	status := m.Status()
	require.Len(t, status, 2)
	assert.Equal(t, domain.MetricCPU, status[0].Name)
	assert.Equal(t, 93.3, status[0].Value)
	assert.True(t, status[0].Breached)
	assert.Equal(t, 85.0, status[0].RecoveryThreshold)
	assert.NotNil(t, status[0].SampledAt)
	assert.False(t, status[1].Breached)
}

func TestHostMonitor_SlowSamplerDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	slow := SamplerFunc(func(ctx context.Context) (float64, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return 0, ctx.Err()
	})
	fast := &scriptedSampler{values: []float64{10}}

	m := NewHostMonitor(&fakePublisher{}, HostMonitorConfig{
		Interval:      10 * time.Millisecond,
		SampleTimeout: time.Minute,
		Metrics: []MetricConfig{
			{Name: domain.MetricCPU, Threshold: 90, Sampler: slow},
			{Name: domain.MetricDisk, Threshold: 90, Sampler: fast},
		},
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool {
		fast.mu.Lock()
		defer fast.mu.Unlock()
		return fast.calls >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	close(release)
	require.NoError(t, <-done)
}

func TestHostMonitor_SamplerPanicIsReturned(t *testing.T) {
	broken := SamplerFunc(func(context.Context) (float64, error) {
		panic("sampler bug")
	})
	fast := &scriptedSampler{values: []float64{10}}

	m := NewHostMonitor(&fakePublisher{}, HostMonitorConfig{
		Interval: 10 * time.Millisecond,
		Metrics: []MetricConfig{
			{Name: domain.MetricCPU, Threshold: 90, Sampler: broken},
			{Name: domain.MetricDisk, Threshold: 90, Sampler: fast},
		},
	}, discardLogger())

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	select {
	case err := <-done:
		var pe *supervisor.PanicError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "sampler bug", pe.Value)
		assert.Contains(t, string(pe.Stack), "goroutine")
	case <-time.After(2 * time.Second):
		t.Fatal("host monitor did not return after a sampler panic")
	}
}
