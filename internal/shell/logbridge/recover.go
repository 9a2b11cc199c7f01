package logbridge

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/artpar/watchdog/internal/core/domain"
)

// PanicReportTimeout bounds the synchronous publish of a crash event.
const PanicReportTimeout = 10 * time.Second

// RecoverAndReport publishes a CRITICAL crash event for a panic and then
// re-panics. It must be deferred directly:
//
//	defer logbridge.RecoverAndReport(bus, "worker")
func RecoverAndReport(pub Publisher, source string) {
	r := recover()
	if r == nil {
		return
	}
	ReportPanic(pub, source, r, debug.Stack())
	panic(r)
}

// ReportPanic publishes a crash event for value and waits for delivery.
func ReportPanic(pub Publisher, source string, value any, stack []byte) map[string]bool {
	if source == "" {
		source = domain.SourcePanic
	}
	ev := domain.NewEvent(domain.SeverityCritical, source, "Unhandled panic", fmt.Sprintf("panic: %v", value)).
		WithCategory(domain.CategoryCrash).
		WithTrace(string(stack))
	if err, ok := value.(error); ok {
		ev = ev.WithMetadata("error_type", fmt.Sprintf("%T", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), PanicReportTimeout)
	defer cancel()
	return pub.Publish(context.WithValue(ctx, ctxKeyInBridge, true), ev)
}

// Go runs fn in a goroutine that reports and re-raises any panic.
func Go(pub Publisher, source string, fn func()) {
	go func() {
		defer RecoverAndReport(pub, source)
		fn()
	}()
}
