// Package workers contains the background monitors of the watchdog.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/watchdog/internal/core/domain"
)

// Publisher receives the events produced by the monitors. *notify.Bus
// implements it.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) map[string]bool
}

// formatDuration renders a duration as "Xm Ys", or "Xh Ym" past one hour.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	if secs >= 3600 {
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

func roundTo(v float64, places int) float64 {
	p := 1.0
	for range places {
		p *= 10
	}
	if v < 0 {
		return float64(int64(v*p-0.5)) / p
	}
	return float64(int64(v*p+0.5)) / p
}
