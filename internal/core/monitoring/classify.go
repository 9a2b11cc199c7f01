package monitoring

import (
	"fmt"

	"github.com/artpar/watchdog/internal/core/domain"
)

// =============================================================================
// Container Event Classification
// =============================================================================

// ClassifyInput carries everything needed to classify one container event.
type ClassifyInput struct {
	Event domain.ContainerEvent
	// State is the inspected container state, if inspection succeeded.
	State *domain.ContainerState
	// PreviousHealth is the last health status seen for the container.
	PreviousHealth string
	// DiedBefore is true when the last lifecycle action seen was a die.
	DiedBefore bool
	// RestartCounted is true when a start after a die already counted the
	// current restart cycle. The daemon reports a restart action after
	// kill, die, stop and start, so that action must not count again.
	RestartCounted bool
}

// Classification is the watchdog's verdict on a container event.
type Classification struct {
	// Emit is false when the event produces no notification.
	Emit     bool
	Severity domain.Severity
	Title    string
	Message  string
	// OOM is true when the container was killed for running out of memory.
	OOM bool
	// CountsAsRestart feeds the event into the restart loop detector.
	CountsAsRestart bool
}

// ClassifyContainerEvent maps a container lifecycle event to a severity and message.
func ClassifyContainerEvent(in ClassifyInput) Classification {
	ev := in.Event
	name := ev.Container

	switch ev.Action {
	case domain.ActionOOM:
		return Classification{
			Emit:     true,
			Severity: domain.SeverityCritical,
			Title:    "Container OOM killed",
			Message:  ContainerEventMessage(domain.ActionOOM, name),
			OOM:      true,
		}

	case domain.ActionDie:
		if in.State != nil && in.State.OOMKilled {
			return Classification{
				Emit:     true,
				Severity: domain.SeverityCritical,
				Title:    "Container OOM killed",
				Message:  fmt.Sprintf("%s (exit code %s)", ContainerEventMessage(domain.ActionOOM, name), exitCode(in)),
				OOM:      true,
			}
		}
		code := exitCode(in)
		if code == "0" {
			return Classification{
				Emit:     true,
				Severity: domain.SeverityInfo,
				Title:    "Container exited",
				Message:  fmt.Sprintf("Container %s exited cleanly (exit code 0)", name),
			}
		}
		return Classification{
			Emit:     true,
			Severity: domain.SeverityCritical,
			Title:    "Container died",
			Message:  fmt.Sprintf("%s (exit code %s)", ContainerEventMessage(domain.ActionDie, name), code),
		}

	case domain.ActionRestart:
		if in.RestartCounted {
			return Classification{Severity: domain.SeverityDebug}
		}
		return Classification{
			Emit:            true,
			Severity:        domain.SeverityWarning,
			Title:           "Container restarted",
			Message:         ContainerEventMessage(domain.ActionRestart, name),
			CountsAsRestart: true,
		}

	case domain.ActionStart:
		// A start after a die is a restart by policy; a first start is routine.
		if !in.DiedBefore {
			return Classification{Severity: domain.SeverityDebug}
		}
		msg := ContainerEventMessage(domain.ActionRestart, name)
		if in.State != nil && in.State.RestartCount > 0 {
			msg = fmt.Sprintf("%s (restart count %d)", msg, in.State.RestartCount)
		}
		return Classification{
			Emit:            true,
			Severity:        domain.SeverityWarning,
			Title:           "Container restarted",
			Message:         msg,
			CountsAsRestart: true,
		}

	case domain.ActionStop:
		return Classification{
			Emit:     true,
			Severity: domain.SeverityWarning,
			Title:    "Container stopped",
			Message:  ContainerEventMessage(domain.ActionStop, name),
		}

	case domain.ActionKill:
		msg := ContainerEventMessage(domain.ActionKill, name)
		if ev.Signal != "" {
			msg = fmt.Sprintf("%s (signal %s)", msg, ev.Signal)
		}
		return Classification{
			Emit:     true,
			Severity: domain.SeverityWarning,
			Title:    "Container killed",
			Message:  msg,
		}

	case domain.ActionHealthStatus:
		switch {
		case ev.Health == "unhealthy" && in.PreviousHealth != "unhealthy":
			return Classification{
				Emit:     true,
				Severity: domain.SeverityError,
				Title:    "Container unhealthy",
				Message:  fmt.Sprintf("Container %s health check failed", name),
			}
		case ev.Health == "healthy" && in.PreviousHealth == "unhealthy":
			return Classification{
				Emit:     true,
				Severity: domain.SeverityInfo,
				Title:    "Container healthy again",
				Message:  fmt.Sprintf("Container %s health check passed", name),
			}
		}
		return Classification{Severity: domain.SeverityDebug}
	}

	return Classification{Severity: domain.SeverityDebug}
}

// ContainerEventMessage generates a human-readable message for container events.
func ContainerEventMessage(action domain.ContainerAction, containerName string) string {
	switch action {
	case domain.ActionStart:
		return "Container " + containerName + " started"
	case domain.ActionStop:
		return "Container " + containerName + " stopped"
	case domain.ActionRestart:
		return "Container " + containerName + " restarted"
	case domain.ActionDie:
		return "Container " + containerName + " died unexpectedly"
	case domain.ActionOOM:
		return "Container " + containerName + " killed due to out of memory"
	case domain.ActionKill:
		return "Container " + containerName + " was killed"
	case domain.ActionHealthStatus:
		return "Container " + containerName + " health status changed"
	default:
		return "Container " + containerName + " event: " + string(action)
	}
}

// RestartLoopMessage describes a detected restart loop.
func RestartLoopMessage(containerName string, count int, window string) string {
	return fmt.Sprintf("Container %s restarted %d times in the last %s", containerName, count, window)
}

func exitCode(in ClassifyInput) string {
	if in.Event.ExitCode != "" {
		return in.Event.ExitCode
	}
	if in.State != nil {
		return fmt.Sprintf("%d", in.State.ExitCode)
	}
	return "unknown"
}
