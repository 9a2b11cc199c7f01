package docker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/tlsconfig"

	"github.com/artpar/watchdog/internal/core/domain"
)

const eventBuffer = 64

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient implements EventSource using the Docker SDK.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient creates a new Docker client.
// If no host is configured, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewDockerClient(cfg Config) (*DockerClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}

	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.TLS.Enabled() {
		tlsc, err := tlsconfig.Client(tlsconfig.Options{
			CAFile:             cfg.TLS.CAFile,
			CertFile:           cfg.TLS.CertFile,
			KeyFile:            cfg.TLS.KeyFile,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		})
		if err != nil {
			return nil, NewDockerError("NewDockerClient", "", "", err.Error(), ErrInvalidTLS)
		}
		opts = append(opts, client.WithHTTPClient(&http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsc},
		}))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	if cfg.Host != "" || cfg.TLS.Enabled() {
		return &DockerClient{cli: cli}, nil
	}

	// Try to ping with default settings
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, pingErr := cli.Ping(ctx); pingErr != nil {
		// If default socket fails, try Docker Desktop socket on macOS
		homeDir, _ := os.UserHomeDir()
		dockerDesktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		cli2, err2 := client.NewClientWithOpts(
			client.WithHost(dockerDesktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
				cli.Close()
				return &DockerClient{cli: cli2}, nil
			}
			cli2.Close()
		}
	}

	return &DockerClient{cli: cli}, nil
}

// Ping checks if Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Event Stream
// =============================================================================

// Events subscribes to the daemon event stream and converts every message.
func (d *DockerClient) Events(ctx context.Context, filter EventFilter) (<-chan domain.ContainerEvent, <-chan error) {
	out := make(chan domain.ContainerEvent, eventBuffer)
	errc := make(chan error, 1)

	msgs, sdkErrs := d.cli.Events(ctx, events.ListOptions{Filters: BuildEventFilters(filter)})

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sdkErrs:
				if err == nil || errors.Is(err, context.Canceled) {
					return
				}
				errc <- NewDockerError("Events", "events", "", err.Error(), ErrEventStream)
				return
			case msg := <-msgs:
				ev, ok := ToContainerEvent(msg)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errc
}

// BuildEventFilters translates an EventFilter into daemon-side filters.
func BuildEventFilters(f EventFilter) filters.Args {
	args := filters.NewArgs(filters.Arg("type", string(events.ContainerEventType)))

	actions := f.Actions
	if len(actions) == 0 {
		actions = WatchedActions
	}
	for _, a := range actions {
		args.Add("event", string(a))
	}
	for _, name := range f.Containers {
		args.Add("container", name)
	}
	for _, label := range f.Labels {
		args.Add("label", label)
	}
	return args
}

// ToContainerEvent converts a daemon message. Non-container messages and
// actions the watchdog does not track are rejected.
func ToContainerEvent(msg events.Message) (domain.ContainerEvent, bool) {
	if msg.Type != events.ContainerEventType {
		return domain.ContainerEvent{}, false
	}

	action, health := splitAction(string(msg.Action))
	if !tracked(action) {
		return domain.ContainerEvent{}, false
	}

	attrs := msg.Actor.Attributes
	ev := domain.ContainerEvent{
		ContainerID: msg.Actor.ID,
		Container:   strings.TrimPrefix(attrs["name"], "/"),
		Action:      action,
		ExitCode:    attrs["exitCode"],
		Signal:      attrs["signal"],
		Health:      health,
		Labels:      labelsOf(attrs),
		Timestamp:   eventTime(msg),
	}
	if ev.Container == "" {
		ev.Container = shortID(msg.Actor.ID)
	}
	return ev, true
}

// splitAction separates "health_status: healthy" into action and status.
func splitAction(raw string) (domain.ContainerAction, string) {
	name, status, found := strings.Cut(raw, ":")
	if !found {
		return domain.ContainerAction(raw), ""
	}
	return domain.ContainerAction(strings.TrimSpace(name)), strings.TrimSpace(status)
}

func tracked(a domain.ContainerAction) bool {
	for _, w := range WatchedActions {
		if a == w {
			return true
		}
	}
	return false
}

var nonLabelAttrs = map[string]bool{
	"name": true, "image": true, "exitCode": true, "signal": true, "execDuration": true,
}

func labelsOf(attrs map[string]string) map[string]string {
	labels := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if !nonLabelAttrs[k] {
			labels[k] = v
		}
	}
	return labels
}

func eventTime(msg events.Message) time.Time {
	if msg.TimeNano != 0 {
		return time.Unix(0, msg.TimeNano).UTC()
	}
	if msg.Time != 0 {
		return time.Unix(msg.Time, 0).UTC()
	}
	return time.Now().UTC()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// =============================================================================
// Container Inspection
// =============================================================================

// InspectContainer returns the state of a container.
func (d *DockerClient) InspectContainer(ctx context.Context, nameOrID string) (*domain.ContainerState, error) {
	resp, err := d.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("InspectContainer", "container", nameOrID, "container not found", ErrContainerNotFound)
		}
		return nil, NewDockerError("InspectContainer", "container", nameOrID, err.Error(), err)
	}
	return ToContainerState(resp), nil
}

// ToContainerState reduces an inspect response to the watched fields.
func ToContainerState(resp container.InspectResponse) *domain.ContainerState {
	st := &domain.ContainerState{}
	if resp.ContainerJSONBase == nil {
		return st
	}

	st.Name = strings.TrimPrefix(resp.Name, "/")
	st.RestartCount = resp.RestartCount
	if resp.State == nil {
		return st
	}

	st.Status = resp.State.Status
	st.ExitCode = resp.State.ExitCode
	st.OOMKilled = resp.State.OOMKilled
	st.StartedAt = parseDockerTime(resp.State.StartedAt)
	st.FinishedAt = parseDockerTime(resp.State.FinishedAt)
	return st
}

func parseDockerTime(s string) *time.Time {
	if s == "" || strings.HasPrefix(s, "0001-01-01") {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
