package docker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/watchdog/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

func skipIfNoDocker(t *testing.T) *DockerClient {
	t.Helper()
	cli, err := NewDockerClient(Config{})
	if err != nil {
		t.Skip("Docker not available:", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cli.Ping(ctx); err != nil {
		cli.Close()
		t.Skip("Docker not reachable:", err)
	}
	return cli
}

// =============================================================================
// Filter Tests
// =============================================================================

func TestBuildEventFilters(t *testing.T) {
	tests := []struct {
		name       string
		filter     EventFilter
		events     []string
		containers []string
		labels     []string
	}{
		{
			name:   "defaults watch every tracked action",
			filter: EventFilter{},
			events: []string{"die", "oom", "start", "restart", "stop", "kill", "health_status"},
		},
		{
			name: "containers and labels",
			filter: EventFilter{
				Containers: []string{"api", "worker"},
				Labels:     []string{"env=prod"},
				Actions:    []domain.ContainerAction{domain.ActionDie},
			},
			events:     []string{"die"},
			containers: []string{"api", "worker"},
			labels:     []string{"env=prod"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := BuildEventFilters(tt.filter)
			assert.Equal(t, []string{"container"}, args.Get("type"))
			assert.ElementsMatch(t, tt.events, args.Get("event"))
			assert.ElementsMatch(t, tt.containers, args.Get("container"))
			assert.ElementsMatch(t, tt.labels, args.Get("label"))
		})
	}
}

// =============================================================================
// Event Conversion Tests
// =============================================================================

func TestToContainerEvent(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		msg      events.Message
		ok       bool
		expected domain.ContainerEvent
	}{
		{
			name: "die with exit code",
			msg: events.Message{
				Type:   events.ContainerEventType,
				Action: events.ActionDie,
				Actor: events.Actor{ID: "abc123", Attributes: map[string]string{
					"name": "api", "exitCode": "137", "image": "api:latest", "com.example.team": "core",
				}},
				TimeNano: ts.UnixNano(),
			},
			ok: true,
			expected: domain.ContainerEvent{
				ContainerID: "abc123",
				Container:   "api",
				Action:      domain.ActionDie,
				ExitCode:    "137",
				Labels:      map[string]string{"com.example.team": "core"},
				Timestamp:   ts,
			},
		},
		{
			name: "health status is split",
			msg: events.Message{
				Type:   events.ContainerEventType,
				Action: "health_status: unhealthy",
				Actor:  events.Actor{ID: "abc123", Attributes: map[string]string{"name": "api"}},
				Time:   ts.Unix(),
			},
			ok: true,
			expected: domain.ContainerEvent{
				ContainerID: "abc123",
				Container:   "api",
				Action:      domain.ActionHealthStatus,
				Health:      "unhealthy",
				Labels:      map[string]string{},
				Timestamp:   ts,
			},
		},
		{
			name: "kill keeps signal and falls back to short id",
			msg: events.Message{
				Type:     events.ContainerEventType,
				Action:   events.ActionKill,
				Actor:    events.Actor{ID: "0123456789abcdef", Attributes: map[string]string{"signal": "9"}},
				TimeNano: ts.UnixNano(),
			},
			ok: true,
			expected: domain.ContainerEvent{
				ContainerID: "0123456789abcdef",
				Container:   "0123456789ab",
				Action:      domain.ActionKill,
				Signal:      "9",
				Labels:      map[string]string{},
				Timestamp:   ts,
			},
		},
		{
			name: "untracked action",
			msg:  events.Message{Type: events.ContainerEventType, Action: events.ActionExecStart},
		},
		{
			name: "non-container event",
			msg:  events.Message{Type: events.NetworkEventType, Action: events.ActionDie},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := ToContainerEvent(tt.msg)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, ev)
			}
		})
	}
}

// =============================================================================
// Inspection Tests
// =============================================================================

func TestToContainerState(t *testing.T) {
	resp := container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			Name:         "/api",
			RestartCount: 4,
			State: &container.State{
				Status:     container.StateExited,
				ExitCode:   137,
				OOMKilled:  true,
				StartedAt:  "2024-01-01T10:00:00.5Z",
				FinishedAt: "0001-01-01T00:00:00Z",
			},
		},
	}

	st := ToContainerState(resp)
	assert.Equal(t, "api", st.Name)
	assert.Equal(t, "exited", st.Status)
	assert.Equal(t, 137, st.ExitCode)
	assert.True(t, st.OOMKilled)
	assert.Equal(t, 4, st.RestartCount)
	require.NotNil(t, st.StartedAt)
	assert.Equal(t, 10, st.StartedAt.Hour())
	assert.Nil(t, st.FinishedAt)
}

func TestToContainerState_Empty(t *testing.T) {
	assert.Equal(t, &domain.ContainerState{}, ToContainerState(container.InspectResponse{}))
}

func TestDockerError(t *testing.T) {
	err := NewDockerError("InspectContainer", "container", "api", "container not found", ErrContainerNotFound)
	assert.Equal(t, "InspectContainer container api: container not found", err.Error())
	assert.True(t, errors.Is(err, ErrContainerNotFound))

	err = NewDockerError("Ping", "", "", "refused", ErrConnectionFailed)
	assert.Equal(t, "Ping: refused", err.Error())
}

func TestNewDockerClient_InvalidTLS(t *testing.T) {
	_, err := NewDockerClient(Config{
		Host: "tcp://127.0.0.1:2376",
		TLS:  TLSConfig{CAFile: "/nonexistent/ca.pem"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTLS)
}

// =============================================================================
// Daemon Tests
// =============================================================================

func TestDockerClient_InspectMissingContainer(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	_, err := cli.InspectContainer(context.Background(), "watchdog-test-does-not-exist")
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestDockerClient_EventsStopOnCancel(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	ctx, cancel := context.WithCancel(context.Background())
	out, _ := cli.Events(ctx, EventFilter{Containers: []string{"watchdog-test-none"}})
	cancel()

	select {
	case _, open := <-out:
		assert.False(t, open)
	case <-time.After(5 * time.Second):
		t.Fatal("event channel not closed after cancel")
	}
}
