package domain

import "time"

// =============================================================================
// Health Types
// =============================================================================

// HealthStatus is the state of a polled target.
type HealthStatus string

const (
	HealthStatusHealthy HealthStatus = "healthy"
	HealthStatusDown    HealthStatus = "down"
	HealthStatusUnknown HealthStatus = "unknown"
)

// HealthSnapshot is the read-only view of a health checker exposed on the
// status surface.
type HealthSnapshot struct {
	URL                  string       `json:"url" yaml:"url"`
	Status               HealthStatus `json:"status" yaml:"status"`
	ConsecutiveFailures  int          `json:"consecutive_failures" yaml:"consecutive_failures"`
	ConsecutiveSuccesses int          `json:"consecutive_successes" yaml:"consecutive_successes"`
	TotalChecks          int          `json:"total_checks" yaml:"total_checks"`
	TotalFailures        int          `json:"total_failures" yaml:"total_failures"`
	UptimePercent        float64      `json:"uptime_percent" yaml:"uptime_percent"`
	LastCheck            *time.Time   `json:"last_check,omitempty" yaml:"last_check,omitempty"`
	LastResponseMS       float64      `json:"last_response_ms" yaml:"last_response_ms"`
	LastError            string       `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// =============================================================================
// Host Metric Types
// =============================================================================

// MetricName identifies a sampled host resource.
type MetricName string

const (
	MetricCPU    MetricName = "cpu"
	MetricMemory MetricName = "ram"
	MetricDisk   MetricName = "disk"
)

// Label returns the human readable label of the metric.
func (m MetricName) Label() string {
	switch m {
	case MetricCPU:
		return "CPU"
	case MetricMemory:
		return "RAM"
	case MetricDisk:
		return "Disk"
	default:
		return string(m)
	}
}

// MetricSnapshot is the last known value and alert state of one host metric.
type MetricSnapshot struct {
	Name              MetricName `json:"name" yaml:"name"`
	Value             float64    `json:"value" yaml:"value"`
	Threshold         float64    `json:"threshold" yaml:"threshold"`
	RecoveryThreshold float64    `json:"recovery_threshold" yaml:"recovery_threshold"`
	Breached          bool       `json:"breached" yaml:"breached"`
	Escalated         bool       `json:"escalated" yaml:"escalated"`
	SampledAt         *time.Time `json:"sampled_at,omitempty" yaml:"sampled_at,omitempty"`
	LastError         string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// =============================================================================
// Container Event Types (Container Lifecycle)
// =============================================================================

// ContainerAction is the lifecycle action reported by the container runtime.
type ContainerAction string

const (
	ActionDie          ContainerAction = "die"
	ActionOOM          ContainerAction = "oom"
	ActionStart        ContainerAction = "start"
	ActionRestart      ContainerAction = "restart"
	ActionStop         ContainerAction = "stop"
	ActionKill         ContainerAction = "kill"
	ActionHealthStatus ContainerAction = "health_status"
)

// ContainerEvent is a lifecycle event received from the container runtime,
// already reduced to the fields the watchdog cares about.
type ContainerEvent struct {
	ContainerID string            `json:"container_id"`
	Container   string            `json:"container"`
	Action      ContainerAction   `json:"action"`
	ExitCode    string            `json:"exit_code,omitempty"`
	Signal      string            `json:"signal,omitempty"`
	Health      string            `json:"health,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// ContainerState is the inspected state of a watched container.
type ContainerState struct {
	Name         string     `json:"name" yaml:"name"`
	Status       string     `json:"status" yaml:"status"`
	ExitCode     int        `json:"exit_code" yaml:"exit_code"`
	OOMKilled    bool       `json:"oom_killed" yaml:"oom_killed"`
	RestartCount int        `json:"restart_count" yaml:"restart_count"`
	StartedAt    *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// ContainerSnapshot is the per-container view exposed by the docker monitor.
type ContainerSnapshot struct {
	Name           string     `json:"name" yaml:"name"`
	Status         string     `json:"status" yaml:"status"`
	Health         string     `json:"health" yaml:"health"`
	EventsReceived int        `json:"events_received" yaml:"events_received"`
	LastEvent      string     `json:"last_event,omitempty" yaml:"last_event,omitempty"`
	LastEventAt    *time.Time `json:"last_event_at,omitempty" yaml:"last_event_at,omitempty"`
	RestartCount   int        `json:"restart_count" yaml:"restart_count"`
	OOMCount       int        `json:"oom_count" yaml:"oom_count"`
	InRestartLoop  bool       `json:"in_restart_loop" yaml:"in_restart_loop"`
}
