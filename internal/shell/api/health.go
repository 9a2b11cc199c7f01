package api

import "sync"

// HealthState is the liveness flag served on /health. The primary service
// flips it when it knows it cannot do useful work; the sidecar polls it.
type HealthState struct {
	mu      sync.RWMutex
	healthy bool
	reason  string
}

// NewHealthState returns a state that starts healthy.
func NewHealthState() *HealthState {
	return &HealthState{healthy: true}
}

// SetHealthy marks the service healthy and clears the reason.
func (s *HealthState) SetHealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = true
	s.reason = ""
}

// SetUnhealthy marks the service unhealthy with a short reason.
func (s *HealthState) SetUnhealthy(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = false
	s.reason = reason
}

// Get returns the current flag and reason.
func (s *HealthState) Get() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy, s.reason
}
