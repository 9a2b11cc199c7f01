package docker

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrContainerNotFound = errors.New("container not found")
	ErrConnectionFailed  = errors.New("docker connection failed")
	ErrEventStream       = errors.New("docker event stream failed")
	ErrInvalidTLS        = errors.New("invalid docker tls configuration")
)

// DockerError wraps errors with additional context.
type DockerError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (container, events)
	ID      string // Entity ID if applicable
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, entity, id, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
