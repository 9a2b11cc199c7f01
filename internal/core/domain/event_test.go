package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Severity Tests
// =============================================================================

func TestSeverity_Ordering(t *testing.T) {
	assert.Less(t, SeverityDebug, SeverityInfo)
	assert.Less(t, SeverityInfo, SeverityWarning)
	assert.Less(t, SeverityWarning, SeverityError)
	assert.Less(t, SeverityError, SeverityCritical)
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input    string
		expected Severity
	}{
		{"debug", SeverityDebug},
		{"INFO", SeverityInfo},
		{"warn", SeverityWarning},
		{"Warning", SeverityWarning},
		{"error", SeverityError},
		{" critical ", SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSeverity(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseSeverity_Unknown(t *testing.T) {
	_, err := ParseSeverity("loud")
	assert.ErrorIs(t, err, ErrUnknownSeverity)
}

func TestSeverity_TextRoundTrip(t *testing.T) {
	data, err := json.Marshal(map[string]Severity{"min": SeverityWarning})
	require.NoError(t, err)
	assert.JSONEq(t, `{"min":"WARNING"}`, string(data))

	var decoded map[string]Severity
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, SeverityWarning, decoded["min"])
}

// =============================================================================
// Event Tests
// =============================================================================

func TestNewEvent(t *testing.T) {
	ev := NewEvent(SeverityError, SourceHealthChecker, "Health check failed", "no response")

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, SeverityError, ev.Severity)
	assert.Equal(t, SourceHealthChecker, ev.Source)
	assert.Equal(t, CategorySystem, ev.Category)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	assert.WithinDuration(t, time.Now(), ev.Timestamp, time.Second)
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	a := NewEvent(SeverityInfo, "x", "a", "")
	b := NewEvent(SeverityInfo, "x", "b", "")
	assert.NotEqual(t, a.ID, b.ID)
}

func TestEvent_WithMetadata_DoesNotMutateOriginal(t *testing.T) {
	original := NewEvent(SeverityInfo, "x", "t", "m").WithMetadata("container", "app")
	derived := original.WithMetadata("exit_code", "137")

	assert.Len(t, original.Metadata, 1)
	assert.Len(t, derived.Metadata, 2)
	assert.Equal(t, "app", derived.Metadata["container"])
}

func TestEvent_WithFields(t *testing.T) {
	ev := NewEvent(SeverityInfo, "x", "t", "m").WithFields(map[string]any{"a": 1, "b": "two"})
	assert.Equal(t, 1, ev.Metadata["a"])
	assert.Equal(t, "two", ev.Metadata["b"])

	same := ev.WithFields(nil)
	assert.Equal(t, ev.Metadata, same.Metadata)
}

func TestEvent_Clone_IsolatesMetadata(t *testing.T) {
	ev := NewEvent(SeverityInfo, "x", "t", "m").WithMetadata("k", "v")
	clone := ev.Clone()
	clone.Metadata["k"] = "changed"

	assert.Equal(t, "v", ev.Metadata["k"])
}

func TestEvent_FormatPlain(t *testing.T) {
	ev := NewEvent(SeverityCritical, SourceDockerMonitor, "Container died", "exit code 1").
		WithCategory(CategoryMonitor)
	ev.Timestamp = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	assert.Equal(t,
		"[2024-03-01 12:30:00 UTC] [CRITICAL] [monitor] [docker-monitor] Container died: exit code 1",
		ev.FormatPlain(),
	)
}

func TestEvent_FormatPlain_WithTrace(t *testing.T) {
	ev := NewEvent(SeverityCritical, SourcePanic, "panic", "boom").WithTrace("goroutine 1 [running]")
	lines := strings.Split(ev.FormatPlain(), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "goroutine 1 [running]", lines[1])
}
