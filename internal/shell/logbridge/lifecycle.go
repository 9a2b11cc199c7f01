package logbridge

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/artpar/watchdog/internal/core/domain"
)

// Lifecycle emits startup, shutdown and crash-restart events for a service.
type Lifecycle struct {
	pub     Publisher
	service string
	started time.Time
	now     func() time.Time
}

// NewLifecycle creates an emitter for the named service.
func NewLifecycle(pub Publisher, service string) *Lifecycle {
	return &Lifecycle{pub: pub, service: service, now: time.Now}
}

// Startup records the start time and publishes an INFO event.
func (l *Lifecycle) Startup(ctx context.Context) {
	l.started = l.now()
	host, _ := os.Hostname()
	ev := domain.NewEvent(domain.SeverityInfo, domain.SourceLifecycle, "🟢 "+l.service+" started", "").
		WithCategory(domain.CategoryLifecycle).
		WithFields(map[string]any{
			"go_version": runtime.Version(),
			"platform":   runtime.GOOS + "/" + runtime.GOARCH,
			"pid":        strconv.Itoa(os.Getpid()),
			"hostname":   host,
		})
	l.pub.Publish(ctx, ev)
}

// Shutdown publishes an INFO event with the reason and uptime.
func (l *Lifecycle) Shutdown(ctx context.Context, reason string) {
	if reason == "" {
		reason = "normal shutdown"
	}
	ev := domain.NewEvent(domain.SeverityInfo, domain.SourceLifecycle, "🔴 "+l.service+" shutting down", reason).
		WithCategory(domain.CategoryLifecycle)
	if !l.started.IsZero() {
		ev = ev.WithMetadata("uptime", FormatUptime(l.now().Sub(l.started)))
	}
	l.pub.Publish(ctx, ev)
}

// CrashRestart publishes a CRITICAL event for a failure the service is
// about to restart from.
func (l *Lifecycle) CrashRestart(ctx context.Context, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	ev := domain.NewEvent(domain.SeverityCritical, domain.SourceLifecycle, "💥 "+l.service+" crashed, restarting", msg).
		WithCategory(domain.CategoryCrash)
	l.pub.Publish(ctx, ev)
}

// FormatUptime renders d as "1h 2m 3s".
func FormatUptime(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%dh %dm %ds", total/3600, (total%3600)/60, total%60)
}
