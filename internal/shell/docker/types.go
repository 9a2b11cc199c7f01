// Package docker provides the container runtime client used by the watchdog:
// a lifecycle event stream and container inspection.
package docker

import (
	"context"

	"github.com/artpar/watchdog/internal/core/domain"
)

// =============================================================================
// Event Source Interface
// =============================================================================

// EventSource is what the docker monitor needs from the container runtime.
type EventSource interface {
	// Events streams lifecycle events matching filter. The event channel is
	// closed when the stream ends; the error channel then carries the reason
	// unless ctx was cancelled.
	Events(ctx context.Context, filter EventFilter) (<-chan domain.ContainerEvent, <-chan error)

	// InspectContainer returns the current state of a container by name or ID.
	InspectContainer(ctx context.Context, nameOrID string) (*domain.ContainerState, error)

	// Ping checks that the daemon is reachable.
	Ping(ctx context.Context) error
}

// =============================================================================
// Configuration Types
// =============================================================================

// EventFilter restricts the event stream.
type EventFilter struct {
	// Containers are container names; empty means all containers.
	Containers []string
	// Labels are "key=value" or "key" selectors.
	Labels []string
	// Actions defaults to WatchedActions.
	Actions []domain.ContainerAction
}

// WatchedActions are the lifecycle actions the watchdog subscribes to.
var WatchedActions = []domain.ContainerAction{
	domain.ActionDie,
	domain.ActionOOM,
	domain.ActionStart,
	domain.ActionRestart,
	domain.ActionStop,
	domain.ActionKill,
	domain.ActionHealthStatus,
}

// TLSConfig holds client certificates for a remote daemon.
type TLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
}

// Enabled reports whether any TLS material is configured.
func (t TLSConfig) Enabled() bool {
	return t.CAFile != "" || t.CertFile != "" || t.KeyFile != ""
}

// Config configures the Docker client.
type Config struct {
	// Host overrides DOCKER_HOST, e.g. "unix:///var/run/docker.sock" or "tcp://10.0.0.5:2376".
	Host string
	TLS  TLSConfig
}
