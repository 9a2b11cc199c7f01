// Package compose contains pure functions for discovering watched containers
// from Docker Compose specifications.
// This is part of the Functional Core - all functions are pure with no I/O.
package compose

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("compose spec is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Compose structure errors
	ErrNoServices = errors.New("compose spec must define at least one service")

	// ErrNoTargets is returned when every service is excluded from monitoring.
	ErrNoTargets = errors.New("no services left to watch")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "services.web.labels"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
