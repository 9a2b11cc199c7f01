package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/errgroup"

	"github.com/artpar/watchdog/internal/core/domain"
	"github.com/artpar/watchdog/internal/core/monitoring"
	"github.com/artpar/watchdog/internal/shell/supervisor"
)

// ErrNoSamples is returned by a sampler that produced no value.
var ErrNoSamples = errors.New("sampler returned no value")

// =============================================================================
// Samplers
// =============================================================================

// MetricSampler reads the current utilisation of one host resource, in percent.
type MetricSampler interface {
	Sample(ctx context.Context) (float64, error)
}

// SamplerFunc adapts a function to MetricSampler.
type SamplerFunc func(ctx context.Context) (float64, error)

// Sample calls f.
func (f SamplerFunc) Sample(ctx context.Context) (float64, error) {
	return f(ctx)
}

// CPUSampler averages total CPU usage over Window.
type CPUSampler struct {
	Window time.Duration
}

func (s CPUSampler) Sample(ctx context.Context) (float64, error) {
	window := s.Window
	if window <= 0 {
		window = time.Second
	}
	pcts, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return 0, fmt.Errorf("cpu percent: %w", err)
	}
	if len(pcts) == 0 {
		return 0, ErrNoSamples
	}
	return pcts[0], nil
}

// MemorySampler reports used virtual memory.
type MemorySampler struct{}

func (MemorySampler) Sample(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("virtual memory: %w", err)
	}
	return vm.UsedPercent, nil
}

// DiskSampler reports used space of the filesystem holding Path.
type DiskSampler struct {
	Path string
}

func (s DiskSampler) Sample(ctx context.Context) (float64, error) {
	path := s.Path
	if path == "" {
		path = "/"
	}
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("disk usage %s: %w", path, err)
	}
	return usage.UsedPercent, nil
}

// =============================================================================
// Configuration
// =============================================================================

// MetricConfig configures one sampled metric.
type MetricConfig struct {
	Name           domain.MetricName
	Threshold      float64
	RecoveryMargin float64
	ErrorValue     float64
	EscalateAfter  time.Duration
	// Sampler defaults to the gopsutil sampler for Name.
	Sampler MetricSampler
}

// HostMonitorConfig configures the host monitor worker.
type HostMonitorConfig struct {
	// Interval is the time between samples of each metric.
	// Default: 60 seconds.
	Interval time.Duration

	// SampleTimeout bounds one sample.
	// Default: 10 seconds.
	SampleTimeout time.Duration

	// DiskPath is the filesystem watched by the default disk sampler.
	// Default: "/".
	DiskPath string

	Metrics []MetricConfig
}

// DefaultHostMonitorConfig returns CPU 90%, RAM 85% and disk 90% thresholds.
func DefaultHostMonitorConfig() HostMonitorConfig {
	return HostMonitorConfig{
		Interval:      60 * time.Second,
		SampleTimeout: 10 * time.Second,
		DiskPath:      "/",
		Metrics: []MetricConfig{
			defaultMetric(domain.MetricCPU, 90),
			defaultMetric(domain.MetricMemory, 85),
			defaultMetric(domain.MetricDisk, 90),
		},
	}
}

func defaultMetric(name domain.MetricName, threshold float64) MetricConfig {
	return MetricConfig{
		Name:           name,
		Threshold:      threshold,
		RecoveryMargin: monitoring.DefaultRecoveryMargin,
		ErrorValue:     95,
		EscalateAfter:  10 * time.Minute,
	}
}

// =============================================================================
// Host Monitor
// =============================================================================

type metricTrack struct {
	config    MetricConfig
	sampler   MetricSampler
	state     *monitoring.ThresholdState
	sampledAt *time.Time
	lastError string
}

// HostMonitor samples host resources and publishes threshold transitions.
// Each metric is sampled by its own goroutine so a slow sampler never delays
// the others.
type HostMonitor struct {
	pub    Publisher
	config HostMonitorConfig
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	metrics []*metricTrack
}

// NewHostMonitor creates a new host monitor worker.
func NewHostMonitor(pub Publisher, config HostMonitorConfig, logger *slog.Logger) *HostMonitor {
	defaults := DefaultHostMonitorConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.SampleTimeout <= 0 {
		config.SampleTimeout = defaults.SampleTimeout
	}
	if config.DiskPath == "" {
		config.DiskPath = defaults.DiskPath
	}
	if config.Metrics == nil {
		config.Metrics = defaults.Metrics
	}

	if logger == nil {
		logger = slog.Default()
	}

	m := &HostMonitor{
		pub:    pub,
		config: config,
		logger: logger.With("component", "host_monitor"),
		now:    time.Now,
	}
	for _, mc := range config.Metrics {
		sampler := mc.Sampler
		if sampler == nil {
			sampler = m.defaultSampler(mc.Name)
		}
		if sampler == nil {
			m.logger.Warn("no sampler for metric, skipping", "metric", mc.Name)
			continue
		}
		m.metrics = append(m.metrics, &metricTrack{
			config:  mc,
			sampler: sampler,
			state: monitoring.NewThresholdState(monitoring.ThresholdConfig{
				Threshold:      mc.Threshold,
				RecoveryMargin: mc.RecoveryMargin,
				EscalateAfter:  mc.EscalateAfter,
				ErrorValue:     mc.ErrorValue,
			}),
		})
	}
	return m
}

func (m *HostMonitor) defaultSampler(name domain.MetricName) MetricSampler {
	switch name {
	case domain.MetricCPU:
		return CPUSampler{Window: time.Second}
	case domain.MetricMemory:
		return MemorySampler{}
	case domain.MetricDisk:
		return DiskSampler{Path: m.config.DiskPath}
	default:
		return nil
	}
}

// Name identifies the worker in supervision and status output.
func (m *HostMonitor) Name() string {
	return domain.SourceHostMonitor
}

// Run samples every metric until ctx is cancelled. A panicking sampler stops
// every loop and is returned as a *supervisor.PanicError.
func (m *HostMonitor) Run(ctx context.Context) error {
	m.logger.Info("host monitor started", "interval", m.config.Interval, "metrics", len(m.metrics))

	g, ctx := errgroup.WithContext(ctx)
	for _, track := range m.metrics {
		g.Go(func() (err error) {
			defer supervisor.Recover(&err)
			return m.loop(ctx, track)
		})
	}
	return g.Wait()
}

func (m *HostMonitor) loop(ctx context.Context, track *metricTrack) error {
	m.sample(ctx, track)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.sample(ctx, track)
		}
	}
}

func (m *HostMonitor) sample(ctx context.Context, track *metricTrack) {
	sampleCtx, cancel := context.WithTimeout(ctx, m.config.SampleTimeout)
	value, err := track.sampler.Sample(sampleCtx)
	cancel()

	if ctx.Err() != nil {
		return
	}

	name := track.config.Name
	if err != nil {
		m.logger.Warn("metric sample failed", "metric", name, "error", err)
		m.mu.Lock()
		track.lastError = err.Error()
		m.mu.Unlock()
		return
	}

	now := m.now().UTC()
	value = roundTo(value, 1)

	m.mu.Lock()
	track.lastError = ""
	track.sampledAt = &now
	outcome := track.state.Observe(value, now)
	m.mu.Unlock()

	if outcome.Transition == monitoring.ThresholdUnchanged {
		m.logger.Debug("metric sampled", "metric", name, "value", value)
		return
	}

	m.logger.Info("metric threshold transition", "metric", name, "value", value, "severity", outcome.Severity)
	m.pub.Publish(ctx, thresholdEvent(track.config, value, outcome))
}

// thresholdEvent builds the notification for a threshold transition.
func thresholdEvent(mc MetricConfig, value float64, outcome monitoring.ThresholdOutcome) domain.Event {
	label := mc.Name.Label()
	recovery := mc.Threshold - max(mc.RecoveryMargin, 0)

	var title, message string
	switch outcome.Transition {
	case monitoring.ThresholdBreached:
		title = fmt.Sprintf("High %s usage", label)
		message = fmt.Sprintf("%s at %.1f%%, above threshold (%.0f%%)", label, value, mc.Threshold)
		if mc.Name == domain.MetricMemory {
			message += ". Memory pressure: the host may start swapping or OOM-killing processes"
		}
	case monitoring.ThresholdEscalated:
		title = fmt.Sprintf("%s usage critical", label)
		message = fmt.Sprintf("%s still at %.1f%% after %s, above threshold (%.0f%%)",
			label, value, formatDuration(outcome.Duration), mc.Threshold)
	case monitoring.ThresholdRecovered:
		title = fmt.Sprintf("%s usage recovered", label)
		message = fmt.Sprintf("%s back to %.1f%%, below %.0f%% (breach lasted %s)",
			label, value, recovery, formatDuration(outcome.Duration))
	}

	return domain.NewEvent(outcome.Severity, domain.SourceHostMonitor, title, message).
		WithCategory(domain.CategoryMonitor).
		WithFields(map[string]any{
			"metric":             string(mc.Name),
			"value":              value,
			"threshold":          mc.Threshold,
			"recovery_threshold": recovery,
		})
}

// Status returns one snapshot per metric in configuration order.
func (m *HostMonitor) Status() []domain.MetricSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.MetricSnapshot, 0, len(m.metrics))
	for _, track := range m.metrics {
		snap := domain.MetricSnapshot{
			Name:              track.config.Name,
			Value:             track.state.LastValue,
			Threshold:         track.state.Config.Threshold,
			RecoveryThreshold: track.state.Config.RecoveryThreshold(),
			Breached:          track.state.Breached,
			Escalated:         track.state.Escalated,
			LastError:         track.lastError,
		}
		if track.sampledAt != nil {
			t := *track.sampledAt
			snap.SampledAt = &t
		}
		out = append(out, snap)
	}
	return out
}
