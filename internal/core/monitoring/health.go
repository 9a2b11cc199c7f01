// Package monitoring provides the pure state machines behind the watchdog's
// detectors. The package performs no I/O; callers pass in observations and clocks.
// Each machine is owned by exactly one monitor loop and is not safe for
// concurrent use.
package monitoring

import (
	"time"

	"github.com/artpar/watchdog/internal/core/domain"
)

// DefaultFailureThreshold is the number of consecutive failed polls that
// turns a healthy target into a down one.
const DefaultFailureThreshold = 3

// =============================================================================
// Health State Machine (Pure Functions)
// =============================================================================

// HealthTransition describes what an observation did to the health state.
type HealthTransition int

const (
	// HealthUnchanged means no alert is due.
	HealthUnchanged HealthTransition = iota
	// HealthWentDown means the failure threshold was just reached.
	HealthWentDown
	// HealthRecovered means the first success after a down episode arrived.
	HealthRecovered
)

// HealthOutcome is the result of a single observation.
type HealthOutcome struct {
	Transition HealthTransition
	// FailedChecks is the failure streak that caused the transition.
	FailedChecks int
	// Downtime is set on recovery: time since the first failure of the episode.
	Downtime time.Duration
}

// HealthState tracks one polled target. HEALTHY -> DOWN after Threshold
// consecutive failures, DOWN -> HEALTHY on the first success. Exactly one
// outcome with a transition is produced per episode.
type HealthState struct {
	Threshold            int
	Status               domain.HealthStatus
	ConsecutiveFailures  int
	ConsecutiveSuccesses int

	firstFailureAt time.Time
}

// NewHealthState creates a healthy state with the given failure threshold.
func NewHealthState(threshold int) *HealthState {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &HealthState{
		Threshold: threshold,
		Status:    domain.HealthStatusHealthy,
	}
}

// Observe records one poll result taken at now.
func (s *HealthState) Observe(ok bool, now time.Time) HealthOutcome {
	if ok {
		s.ConsecutiveSuccesses++
		failed := s.ConsecutiveFailures
		s.ConsecutiveFailures = 0

		if s.Status != domain.HealthStatusDown {
			s.Status = domain.HealthStatusHealthy
			return HealthOutcome{}
		}

		s.Status = domain.HealthStatusHealthy
		out := HealthOutcome{Transition: HealthRecovered, FailedChecks: failed}
		if !s.firstFailureAt.IsZero() {
			out.Downtime = now.Sub(s.firstFailureAt)
		}
		s.firstFailureAt = time.Time{}
		return out
	}

	s.ConsecutiveSuccesses = 0
	s.ConsecutiveFailures++
	if s.ConsecutiveFailures == 1 {
		s.firstFailureAt = now
	}

	if s.Status != domain.HealthStatusDown && s.ConsecutiveFailures >= s.Threshold {
		s.Status = domain.HealthStatusDown
		return HealthOutcome{Transition: HealthWentDown, FailedChecks: s.ConsecutiveFailures}
	}
	return HealthOutcome{}
}

// UptimePercent returns the share of successful checks, rounded to two decimals.
// Returns 100 when nothing has been checked yet.
func UptimePercent(total, failures int) float64 {
	if total <= 0 {
		return 100
	}
	pct := (1 - float64(failures)/float64(total)) * 100
	return float64(int64(pct*100+0.5)) / 100
}
