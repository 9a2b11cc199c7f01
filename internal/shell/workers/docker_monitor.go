package workers

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/artpar/watchdog/internal/core/domain"
	"github.com/artpar/watchdog/internal/core/monitoring"
	"github.com/artpar/watchdog/internal/shell/docker"
	"github.com/artpar/watchdog/internal/shell/supervisor"
)

// errStreamClosed is reported when the event stream ends without an error.
var errStreamClosed = errors.New("event stream closed")

// DockerMonitorConfig configures the docker event monitor.
type DockerMonitorConfig struct {
	// Containers are the watched container names. Empty watches every
	// container matching Labels, or all containers when Labels is empty too.
	Containers []string

	// Labels are "key=value" selectors applied by the daemon.
	Labels []string

	// QueueSize bounds the events buffered between the reader and the processor.
	// Default: 256.
	QueueSize int

	// ReconnectDelay is the wait before re-subscribing after a stream failure.
	// Default: 10 seconds.
	ReconnectDelay time.Duration

	// InspectTimeout bounds container inspection.
	// Default: 5 seconds.
	InspectTimeout time.Duration

	// RestartWindow and RestartThreshold configure restart loop detection.
	// Defaults: 5 minutes, 3 restarts.
	RestartWindow    time.Duration
	RestartThreshold int
}

// DefaultDockerMonitorConfig returns the default configuration.
func DefaultDockerMonitorConfig() DockerMonitorConfig {
	return DockerMonitorConfig{
		QueueSize:        256,
		ReconnectDelay:   10 * time.Second,
		InspectTimeout:   5 * time.Second,
		RestartWindow:    monitoring.DefaultRestartWindow,
		RestartThreshold: monitoring.DefaultRestartThreshold,
	}
}

// DockerMonitorStatus is the status view of the docker monitor.
type DockerMonitorStatus struct {
	Connected      bool                       `json:"connected" yaml:"connected"`
	Reconnects     int                        `json:"reconnects" yaml:"reconnects"`
	EventsReceived int                        `json:"events_received" yaml:"events_received"`
	Containers     []domain.ContainerSnapshot `json:"containers" yaml:"containers"`
}

type containerTrack struct {
	snapshot       domain.ContainerSnapshot
	diedBefore     bool
	restartCounted bool
}

// DockerMonitor consumes container lifecycle events, classifies them and
// publishes the noteworthy ones. A dedicated reader goroutine drains the
// daemon stream into a bounded queue; the processing loop owns all state
// transitions.
type DockerMonitor struct {
	source docker.EventSource
	pub    Publisher
	config DockerMonitorConfig
	logger *slog.Logger
	now    func() time.Time

	mu             sync.Mutex
	containers     map[string]*containerTrack
	restarts       *monitoring.RestartWindow
	connected      bool
	outage         bool
	reconnects     int
	eventsReceived int
}

// NewDockerMonitor creates a new docker event monitor.
func NewDockerMonitor(source docker.EventSource, pub Publisher, config DockerMonitorConfig, logger *slog.Logger) *DockerMonitor {
	defaults := DefaultDockerMonitorConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}
	if config.InspectTimeout <= 0 {
		config.InspectTimeout = defaults.InspectTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	m := &DockerMonitor{
		source:     source,
		pub:        pub,
		config:     config,
		logger:     logger.With("component", "docker_monitor"),
		now:        time.Now,
		containers: make(map[string]*containerTrack),
		restarts:   monitoring.NewRestartWindow(config.RestartWindow, config.RestartThreshold),
	}
	for _, name := range config.Containers {
		m.track(name)
	}
	return m
}

// Name identifies the worker in supervision and status output.
func (m *DockerMonitor) Name() string {
	return domain.SourceDockerMonitor
}

// Run consumes events until ctx is cancelled. A panic in the stream reader is
// returned as a *supervisor.PanicError.
func (m *DockerMonitor) Run(ctx context.Context) error {
	m.logger.Info("docker monitor started",
		"containers", m.config.Containers,
		"labels", m.config.Labels,
	)

	m.inspectWatched(ctx)

	// The subscription lives no longer than this call, however it returns.
	runCtx, cancel := context.WithCancel(ctx)
	queue := make(chan domain.ContainerEvent, m.config.QueueSize)
	readerDone := make(chan struct{})
	var readerErr error
	go func() {
		defer close(readerDone)
		defer supervisor.Recover(&readerErr)
		m.read(runCtx, queue)
	}()
	defer func() {
		cancel()
		<-readerDone
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-readerDone:
			return readerErr
		case ev := <-queue:
			m.Handle(runCtx, ev)
		}
	}
}

// inspectWatched reports watched containers that do not exist yet.
func (m *DockerMonitor) inspectWatched(ctx context.Context) {
	for _, name := range m.config.Containers {
		inspectCtx, cancel := context.WithTimeout(ctx, m.config.InspectTimeout)
		state, err := m.source.InspectContainer(inspectCtx, name)
		cancel()

		switch {
		case errors.Is(err, docker.ErrContainerNotFound):
			m.logger.Warn("watched container not found", "container", name)
			ev := domain.NewEvent(domain.SeverityWarning, domain.SourceDockerMonitor,
				"Watched container not found",
				fmt.Sprintf("Container %s not found, waiting for it to be created", name)).
				WithCategory(domain.CategoryMonitor).
				WithMetadata("container", name)
			m.pub.Publish(ctx, ev)
		case err != nil:
			m.logger.Warn("failed to inspect watched container", "container", name, "error", err)
		default:
			m.logger.Info("watched container found", "container", name, "status", state.Status)
			m.mu.Lock()
			t := m.track(name)
			t.snapshot.Status = state.Status
			t.snapshot.RestartCount = state.RestartCount
			m.mu.Unlock()
		}
	}
}

// read subscribes to the daemon and re-subscribes after failures until ctx ends.
func (m *DockerMonitor) read(ctx context.Context, queue chan<- domain.ContainerEvent) {
	for {
		err := m.stream(ctx, queue)
		if ctx.Err() != nil {
			return
		}
		m.streamFailed(ctx, err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.config.ReconnectDelay):
		}
	}
}

func (m *DockerMonitor) stream(ctx context.Context, queue chan<- domain.ContainerEvent) error {
	pingCtx, cancel := context.WithTimeout(ctx, m.config.InspectTimeout)
	err := m.source.Ping(pingCtx)
	cancel()
	if err != nil {
		return err
	}

	streamCtx, stop := context.WithCancel(ctx)
	defer stop()

	events, errs := m.source.Events(streamCtx, docker.EventFilter{
		Containers: m.config.Containers,
		Labels:     m.config.Labels,
	})
	m.streamConnected(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			if err != nil {
				return err
			}
			errs = nil
		case ev, ok := <-events:
			if !ok {
				select {
				case err := <-errs:
					if err != nil {
						return err
					}
				default:
				}
				return errStreamClosed
			}
			if !m.Watches(ev.Container) {
				continue
			}
			select {
			case queue <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (m *DockerMonitor) streamConnected(ctx context.Context) {
	m.mu.Lock()
	m.connected = true
	restored := m.outage
	m.outage = false
	m.mu.Unlock()

	if !restored {
		m.logger.Info("subscribed to docker events")
		return
	}
	m.logger.Info("docker event stream restored")
	ev := domain.NewEvent(domain.SeverityInfo, domain.SourceDockerMonitor,
		"Docker connection restored", "Reconnected to the Docker daemon event stream").
		WithCategory(domain.CategoryMonitor)
	m.pub.Publish(ctx, ev)
}

func (m *DockerMonitor) streamFailed(ctx context.Context, err error) {
	m.mu.Lock()
	m.connected = false
	m.reconnects++
	first := !m.outage
	m.outage = true
	m.mu.Unlock()

	m.logger.Warn("docker event stream failed", "error", err, "retry_in", m.config.ReconnectDelay)
	if !first {
		return
	}
	ev := domain.NewEvent(domain.SeverityError, domain.SourceDockerMonitor,
		"Docker connection lost",
		fmt.Sprintf("Cannot reach the Docker daemon: %v", err)).
		WithCategory(domain.CategoryMonitor).
		WithMetadata("retry_in", m.config.ReconnectDelay.String())
	m.pub.Publish(ctx, ev)
}

// Watches reports whether events of the named container are processed.
// The daemon matches container names by prefix, so names are re-checked here.
func (m *DockerMonitor) Watches(name string) bool {
	if len(m.config.Containers) == 0 {
		return true
	}
	return slices.Contains(m.config.Containers, name)
}

// Handle classifies one event, updates the container state and publishes
// the resulting notifications.
func (m *DockerMonitor) Handle(ctx context.Context, ev domain.ContainerEvent) monitoring.Classification {
	at := ev.Timestamp
	if at.IsZero() {
		at = m.now().UTC()
	}

	m.mu.Lock()
	t := m.track(ev.Container)
	prevHealth := t.snapshot.Health
	diedBefore := t.diedBefore
	restartCounted := t.restartCounted
	m.mu.Unlock()

	var state *domain.ContainerState
	if ev.Action == domain.ActionDie || (ev.Action == domain.ActionStart && diedBefore) {
		state = m.inspect(ctx, ev)
	}

	cls := monitoring.ClassifyContainerEvent(monitoring.ClassifyInput{
		Event:          ev,
		State:          state,
		PreviousHealth: prevHealth,
		DiedBefore:     diedBefore,
		RestartCounted: restartCounted,
	})

	var verdict monitoring.RestartVerdict
	m.mu.Lock()
	m.eventsReceived++
	t.snapshot.EventsReceived++
	t.snapshot.LastEvent = string(ev.Action)
	eventAt := at
	t.snapshot.LastEventAt = &eventAt
	applyAction(t, ev, cls)
	if state != nil {
		t.snapshot.RestartCount = max(t.snapshot.RestartCount, state.RestartCount)
	}
	if cls.OOM {
		t.snapshot.OOMCount++
	}
	if cls.CountsAsRestart {
		verdict = m.restarts.Record(ev.Container, at)
		if state == nil {
			t.snapshot.RestartCount++
		}
	}
	t.snapshot.InRestartLoop = m.restarts.Looping(ev.Container, at)
	m.mu.Unlock()

	m.logger.Debug("container event", "container", ev.Container, "action", ev.Action, "emit", cls.Emit)

	if cls.Emit {
		out := domain.NewEvent(cls.Severity, domain.SourceDockerMonitor, cls.Title, cls.Message).
			WithCategory(domain.CategoryMonitor).
			WithFields(eventFields(ev))
		if cls.OOM {
			out = out.WithMetadata("oom", true)
		}
		m.pub.Publish(ctx, out)
	}

	if verdict.Fire {
		window := formatDuration(m.restarts.Window)
		m.logger.Warn("restart loop detected", "container", ev.Container, "restarts", verdict.Count)
		loop := domain.NewEvent(domain.SeverityCritical, domain.SourceRestartDetector,
			"Restart loop detected",
			monitoring.RestartLoopMessage(ev.Container, verdict.Count, window)).
			WithCategory(domain.CategoryMonitor).
			WithFields(map[string]any{
				"container": ev.Container,
				"restarts":  verdict.Count,
				"window":    window,
			})
		m.pub.Publish(ctx, loop)
	}

	return cls
}

func (m *DockerMonitor) inspect(ctx context.Context, ev domain.ContainerEvent) *domain.ContainerState {
	target := ev.ContainerID
	if target == "" {
		target = ev.Container
	}
	inspectCtx, cancel := context.WithTimeout(ctx, m.config.InspectTimeout)
	defer cancel()

	state, err := m.source.InspectContainer(inspectCtx, target)
	if err != nil {
		m.logger.Warn("failed to inspect container", "container", ev.Container, "error", err)
		return nil
	}
	return state
}

// applyAction updates the tracked status for an action. Caller holds the lock.
func applyAction(t *containerTrack, ev domain.ContainerEvent, cls monitoring.Classification) {
	switch ev.Action {
	case domain.ActionDie:
		t.snapshot.Status = "exited"
		t.diedBefore = true
		t.restartCounted = false
	case domain.ActionStart:
		t.snapshot.Status = "running"
		t.diedBefore = false
		t.restartCounted = cls.CountsAsRestart
	case domain.ActionRestart:
		t.snapshot.Status = "running"
		t.diedBefore = false
		t.restartCounted = false
	case domain.ActionStop:
		t.snapshot.Status = "exited"
	case domain.ActionHealthStatus:
		t.snapshot.Health = ev.Health
	}
}

func eventFields(ev domain.ContainerEvent) map[string]any {
	fields := map[string]any{
		"container": ev.Container,
		"action":    string(ev.Action),
	}
	if ev.ContainerID != "" {
		fields["container_id"] = ev.ContainerID
	}
	if ev.ExitCode != "" {
		fields["exit_code"] = ev.ExitCode
	}
	if ev.Signal != "" {
		fields["signal"] = ev.Signal
	}
	if ev.Health != "" {
		fields["health"] = ev.Health
	}
	return fields
}

// track returns the state of name, creating it. Caller holds the lock or
// is the constructor.
func (m *DockerMonitor) track(name string) *containerTrack {
	t, ok := m.containers[name]
	if !ok {
		t = &containerTrack{snapshot: domain.ContainerSnapshot{Name: name, Status: "unknown", Health: "unknown"}}
		m.containers[name] = t
	}
	return t
}

// Status returns a snapshot of the monitor and every seen container, sorted by name.
func (m *DockerMonitor) Status() DockerMonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := DockerMonitorStatus{
		Connected:      m.connected,
		Reconnects:     m.reconnects,
		EventsReceived: m.eventsReceived,
		Containers:     make([]domain.ContainerSnapshot, 0, len(m.containers)),
	}
	for _, t := range m.containers {
		snap := t.snapshot
		if snap.LastEventAt != nil {
			at := *snap.LastEventAt
			snap.LastEventAt = &at
		}
		status.Containers = append(status.Containers, snap)
	}
	slices.SortFunc(status.Containers, func(a, b domain.ContainerSnapshot) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return status
}
