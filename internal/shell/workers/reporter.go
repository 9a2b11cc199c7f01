package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/artpar/watchdog/internal/core/domain"
)

// StatusReporterName identifies the reporter in supervision and status output.
const StatusReporterName = "status-reporter"

// ReporterConfig configures the periodic status reporter.
type ReporterConfig struct {
	// Interval is the time between reports.
	// Default: 1 hour.
	Interval time.Duration

	// InitialDelay lets the monitors settle before the first report.
	// Default: 1 minute.
	InitialDelay time.Duration

	// Sources of the report. Nil sources are left out.
	Docker interface{ Status() DockerMonitorStatus }
	Health interface{ Status() domain.HealthSnapshot }
	Host   interface{ Status() []domain.MetricSnapshot }
}

// DefaultReporterConfig returns the default configuration.
func DefaultReporterConfig() ReporterConfig {
	return ReporterConfig{
		Interval:     time.Hour,
		InitialDelay: time.Minute,
	}
}

// StatusReporter publishes a DEBUG summary of every monitor at a fixed interval.
type StatusReporter struct {
	pub    Publisher
	config ReporterConfig
	logger *slog.Logger
}

// NewStatusReporter creates a new status reporter.
func NewStatusReporter(pub Publisher, config ReporterConfig, logger *slog.Logger) *StatusReporter {
	defaults := DefaultReporterConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.InitialDelay < 0 {
		config.InitialDelay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusReporter{
		pub:    pub,
		config: config,
		logger: logger.With("component", "status_reporter"),
	}
}

// Name identifies the worker in supervision and status output.
func (r *StatusReporter) Name() string {
	return StatusReporterName
}

// Run reports after InitialDelay and then every Interval until ctx is cancelled.
func (r *StatusReporter) Run(ctx context.Context) error {
	r.logger.Info("status reporter started", "interval", r.config.Interval)

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(r.config.InitialDelay):
	}
	r.ReportNow(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.ReportNow(ctx)
		}
	}
}

// ReportNow publishes one report.
func (r *StatusReporter) ReportNow(ctx context.Context) domain.Event {
	ev := r.Build()
	r.pub.Publish(ctx, ev)
	return ev
}

// Build assembles the report event from the configured sources.
func (r *StatusReporter) Build() domain.Event {
	var sections []string
	fields := map[string]any{}

	if r.config.Docker != nil {
		st := r.config.Docker.Status()
		lines := make([]string, 0, len(st.Containers)+1)
		if !st.Connected {
			lines = append(lines, "Docker: disconnected")
		}
		for _, c := range st.Containers {
			line := fmt.Sprintf("Container '%s': %s\nRestart count: %d | OOM count: %d",
				c.Name, orUnknown(c.Status), c.RestartCount, c.OOMCount)
			if c.InRestartLoop {
				line += " | restart loop"
			}
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			sections = append(sections, strings.Join(lines, "\n"))
		}
		fields["containers"] = len(st.Containers)
		fields["docker_connected"] = st.Connected
	}

	if r.config.Health != nil {
		h := r.config.Health.Status()
		mark := "❌"
		if h.Status == domain.HealthStatusHealthy {
			mark = "✅"
		}
		sections = append(sections, fmt.Sprintf("Health: %s %s (uptime %.1f%%)\nLast response: %.1fms",
			mark, h.Status, h.UptimePercent, h.LastResponseMS))
		fields["health"] = string(h.Status)
		fields["uptime_percent"] = h.UptimePercent
	}

	if r.config.Host != nil {
		var parts []string
		for _, m := range r.config.Host.Status() {
			if m.SampledAt == nil {
				parts = append(parts, m.Name.Label()+": n/a")
				continue
			}
			parts = append(parts, fmt.Sprintf("%s: %.1f%%", m.Name.Label(), m.Value))
			fields[string(m.Name)+"_percent"] = m.Value
		}
		if len(parts) > 0 {
			sections = append(sections, strings.Join(parts, " | "))
		}
	}

	message := strings.Join(sections, "\n\n")
	if message == "" {
		message = "No monitors configured"
	}

	return domain.NewEvent(domain.SeverityDebug, domain.SourceWatchdog, "Watchdog status report", message).
		WithCategory(domain.CategorySystem).
		WithFields(fields)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
