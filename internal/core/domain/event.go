// Package domain contains the core domain types for the watchdog.
package domain

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Severity
// =============================================================================

// Severity is the ordered classification used for notifier filtering.
// Values line up with the usual log levels so comparisons are plain integer
// comparisons: SeverityError > SeverityWarning.
type Severity int

const (
	SeverityDebug    Severity = 10
	SeverityInfo     Severity = 20
	SeverityWarning  Severity = 30
	SeverityError    Severity = 40
	SeverityCritical Severity = 50
)

// ErrUnknownSeverity is returned when a severity name cannot be parsed.
var ErrUnknownSeverity = errors.New("unknown severity")

// String returns the upper-case label of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("SEVERITY(%d)", int(s))
	}
}

// Emoji returns the marker used by chat-style notifiers.
func (s Severity) Emoji() string {
	switch s {
	case SeverityDebug:
		return "🔍"
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityError:
		return "❌"
	case SeverityCritical:
		return "🔥"
	default:
		return "•"
	}
}

// ParseSeverity parses a case-insensitive severity name.
// "warn" is accepted as an alias of "warning".
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return SeverityDebug, nil
	case "info":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "critical", "fatal":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSeverity, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// =============================================================================
// Event Sources and Categories
// =============================================================================

// Well-known event producers.
const (
	SourceDockerMonitor   = "docker-monitor"
	SourceHealthChecker   = "health-checker"
	SourceHostMonitor     = "host-monitor"
	SourceRestartDetector = "restart-detector"
	SourceWatchdog        = "watchdog"
	SourceLifecycle       = "lifecycle"
	SourcePanic           = "panic"
	SourceSupervisor      = "supervisor"
)

// Semantic categories. Free strings, not an enum, so producers outside this
// repository can add their own.
const (
	CategoryLifecycle = "lifecycle"
	CategoryCrash     = "crash"
	CategoryMonitor   = "monitor"
	CategorySystem    = "system"
)

// =============================================================================
// Event
// =============================================================================

// Event is one noteworthy occurrence. It is created once by a producer and
// never mutated afterwards; the With* helpers return modified copies.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Severity  Severity       `json:"severity"`
	Source    string         `json:"source"`
	Category  string         `json:"category"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Trace     string         `json:"trace,omitempty"`
}

// NewEvent creates a new event stamped with a fresh ID and the current UTC time.
func NewEvent(severity Severity, source, title, message string) Event {
	return Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Severity:  severity,
		Source:    source,
		Category:  CategorySystem,
		Title:     title,
		Message:   message,
	}
}

// WithMetadata returns a copy of the event with key set in its metadata.
func (e Event) WithMetadata(key string, value any) Event {
	meta := make(map[string]any, len(e.Metadata)+1)
	maps.Copy(meta, e.Metadata)
	meta[key] = value
	e.Metadata = meta
	return e
}

// WithFields returns a copy of the event with all fields merged into its metadata.
func (e Event) WithFields(fields map[string]any) Event {
	if len(fields) == 0 {
		return e
	}
	meta := make(map[string]any, len(e.Metadata)+len(fields))
	maps.Copy(meta, e.Metadata)
	maps.Copy(meta, fields)
	e.Metadata = meta
	return e
}

// WithCategory returns a copy of the event with the given category.
func (e Event) WithCategory(category string) Event {
	e.Category = category
	return e
}

// WithTrace returns a copy of the event carrying a stack trace.
func (e Event) WithTrace(trace string) Event {
	e.Trace = trace
	return e
}

// Clone returns a deep copy of the event's metadata map so a consumer holding
// the copy cannot observe later changes to a shared map.
func (e Event) Clone() Event {
	if e.Metadata != nil {
		e.Metadata = maps.Clone(e.Metadata)
	}
	return e
}

// FormatPlain renders the single-line text form used by console and file outputs.
func (e Event) FormatPlain() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(e.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
	b.WriteString("] [")
	b.WriteString(e.Severity.String())
	b.WriteString("] [")
	b.WriteString(e.Category)
	b.WriteString("]")
	if e.Source != "" {
		b.WriteString(" [")
		b.WriteString(e.Source)
		b.WriteString("]")
	}
	if e.Title != "" {
		b.WriteString(" ")
		b.WriteString(e.Title)
		if e.Message != "" {
			b.WriteString(":")
		}
	}
	if e.Message != "" {
		b.WriteString(" ")
		b.WriteString(e.Message)
	}
	if e.Trace != "" {
		b.WriteString("\n")
		b.WriteString(e.Trace)
	}
	return b.String()
}
