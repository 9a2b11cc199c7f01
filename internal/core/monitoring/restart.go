package monitoring

import "time"

// Restart loop defaults: 3 restarts within 5 minutes.
const (
	DefaultRestartWindow    = 5 * time.Minute
	DefaultRestartThreshold = 3
)

// RestartVerdict is the result of recording one restart.
type RestartVerdict struct {
	// Fire is true exactly once per excursion above the threshold.
	Fire bool
	// Count is the number of restarts inside the window, including this one.
	Count int
}

// RestartWindow keeps, per container, the restart timestamps inside a
// trailing window and decides when a restart loop alert is due.
type RestartWindow struct {
	Window    time.Duration
	Threshold int

	times  map[string][]time.Time
	firing map[string]bool
}

// NewRestartWindow creates a detector. Non-positive values fall back to the defaults.
func NewRestartWindow(window time.Duration, threshold int) *RestartWindow {
	if window <= 0 {
		window = DefaultRestartWindow
	}
	if threshold <= 0 {
		threshold = DefaultRestartThreshold
	}
	return &RestartWindow{
		Window:    window,
		Threshold: threshold,
		times:     make(map[string][]time.Time),
		firing:    make(map[string]bool),
	}
}

// Record registers a restart of container at the given time.
func (w *RestartWindow) Record(container string, at time.Time) RestartVerdict {
	kept := w.prune(container, at)
	if len(kept) < w.Threshold {
		w.firing[container] = false
	}

	kept = append(kept, at)
	w.times[container] = kept

	verdict := RestartVerdict{Count: len(kept)}
	if len(kept) >= w.Threshold && !w.firing[container] {
		w.firing[container] = true
		verdict.Fire = true
	}
	return verdict
}

// Count returns the restarts of container inside the window ending at now.
func (w *RestartWindow) Count(container string, now time.Time) int {
	return len(w.prune(container, now))
}

// Looping reports whether container is currently above the threshold.
func (w *RestartWindow) Looping(container string, now time.Time) bool {
	return w.Count(container, now) >= w.Threshold
}

func (w *RestartWindow) prune(container string, now time.Time) []time.Time {
	times := w.times[container]
	cutoff := now.Add(-w.Window)
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	kept := append(times[:0:0], times[i:]...)
	if len(kept) == 0 {
		delete(w.times, container)
		return nil
	}
	w.times[container] = kept
	return kept
}
