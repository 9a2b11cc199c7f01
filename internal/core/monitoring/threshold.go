package monitoring

import (
	"time"

	"github.com/artpar/watchdog/internal/core/domain"
)

// DefaultRecoveryMargin is the distance below the threshold a metric must
// fall to before its alert clears.
const DefaultRecoveryMargin = 5.0

// =============================================================================
// Threshold State Machine (Hysteresis)
// =============================================================================

// ThresholdConfig configures one metric.
type ThresholdConfig struct {
	// Threshold triggers a breach when value >= Threshold.
	Threshold float64
	// RecoveryMargin sets the recovery bound at Threshold - RecoveryMargin.
	RecoveryMargin float64
	// EscalateAfter is how long a breach must persist before it is escalated
	// to ERROR. Zero disables time-based escalation.
	EscalateAfter time.Duration
	// ErrorValue escalates immediately when a sample reaches it. Zero disables.
	ErrorValue float64
}

// RecoveryThreshold returns the value at or below which a breach clears.
func (c ThresholdConfig) RecoveryThreshold() float64 {
	return c.Threshold - c.RecoveryMargin
}

// ThresholdTransition describes what a sample did to the metric state.
type ThresholdTransition int

const (
	ThresholdUnchanged ThresholdTransition = iota
	ThresholdBreached
	ThresholdEscalated
	ThresholdRecovered
)

// ThresholdOutcome is the result of one sample.
type ThresholdOutcome struct {
	Transition ThresholdTransition
	Severity   domain.Severity
	// Duration is how long the breach has lasted (escalation and recovery).
	Duration time.Duration
}

// ThresholdState tracks one metric: breach at Threshold, recovery only once
// the value is at or below the lower recovery bound. One breach outcome, at
// most one escalation and one recovery per episode.
type ThresholdState struct {
	Config     ThresholdConfig
	Breached   bool
	Escalated  bool
	BreachedAt time.Time
	LastValue  float64
}

// NewThresholdState creates a cleared state for the given configuration.
// A negative margin is treated as zero.
func NewThresholdState(cfg ThresholdConfig) *ThresholdState {
	if cfg.RecoveryMargin < 0 {
		cfg.RecoveryMargin = 0
	}
	return &ThresholdState{Config: cfg}
}

// Observe records one sample taken at now.
func (s *ThresholdState) Observe(value float64, now time.Time) ThresholdOutcome {
	s.LastValue = value
	cfg := s.Config

	if !s.Breached {
		if value < cfg.Threshold {
			return ThresholdOutcome{}
		}
		s.Breached = true
		s.BreachedAt = now
		if cfg.ErrorValue > 0 && value >= cfg.ErrorValue {
			s.Escalated = true
			return ThresholdOutcome{Transition: ThresholdBreached, Severity: domain.SeverityError}
		}
		return ThresholdOutcome{Transition: ThresholdBreached, Severity: domain.SeverityWarning}
	}

	if value <= cfg.RecoveryThreshold() {
		lasted := now.Sub(s.BreachedAt)
		s.Breached = false
		s.Escalated = false
		s.BreachedAt = time.Time{}
		return ThresholdOutcome{Transition: ThresholdRecovered, Severity: domain.SeverityInfo, Duration: lasted}
	}

	if s.Escalated {
		return ThresholdOutcome{}
	}

	lasted := now.Sub(s.BreachedAt)
	byTime := cfg.EscalateAfter > 0 && lasted >= cfg.EscalateAfter
	byValue := cfg.ErrorValue > 0 && value >= cfg.ErrorValue
	if byTime || byValue {
		s.Escalated = true
		return ThresholdOutcome{Transition: ThresholdEscalated, Severity: domain.SeverityError, Duration: lasted}
	}
	return ThresholdOutcome{}
}
