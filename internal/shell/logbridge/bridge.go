// Package logbridge turns log records and panics of the host process into
// watchdog events. The Bridge is an slog.Handler: every record still reaches
// the wrapped handler, and records at or above the minimum level are also
// published to the event bus.
//
// Records from the notification subsystem itself are never published, so a
// delivery failure cannot loop back into the bus.
package logbridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artpar/watchdog/internal/core/domain"
)

// SourceKey is the log attribute naming the emitting component.
const SourceKey = "component"

// LevelCritical is the slog level mapped to CRITICAL events.
const LevelCritical = slog.LevelError + 4

// Component is the bridge's own component name.
const Component = "logbridge"

// DefaultIgnored lists the components whose records are never published.
// Matching is by prefix, so "notify" also covers "notify.telegram".
var DefaultIgnored = []string{
	"notify",
	"notify.bus",
	"notify.telegram",
	"notify.webhook",
	"notify.file",
	Component,
}

// Publisher is the part of the event bus the bridge needs.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) map[string]bool
}

// PublisherFunc adapts a function to Publisher. It lets the bridge be built
// before the bus whose logger it becomes.
type PublisherFunc func(ctx context.Context, ev domain.Event) map[string]bool

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, ev domain.Event) map[string]bool {
	return f(ctx, ev)
}

// Config configures a Bridge.
type Config struct {
	// MinLevel defaults to slog.LevelError.
	MinLevel slog.Leveler
	// Ignore adds components to DefaultIgnored.
	Ignore []string
	// DefaultSource is used when a record has no component attribute.
	DefaultSource string
	// MaxInFlight bounds concurrent publishes; records beyond it are dropped.
	MaxInFlight    int
	PublishTimeout time.Duration
	// ErrorWriter receives the bridge's own failures. Defaults to os.Stderr.
	ErrorWriter io.Writer
}

type ctxKey struct{}

var ctxKeyInBridge = ctxKey{}

// InBridge reports whether ctx belongs to a publish started by the bridge.
func InBridge(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(ctxKeyInBridge).(bool)
	return v
}

// =============================================================================
// Bridge
// =============================================================================

type shared struct {
	pub           Publisher
	minLevel      slog.Leveler
	defaultSource string
	timeout       time.Duration
	errOut        io.Writer
	sem           chan struct{}
	wg            sync.WaitGroup
	dropped       atomic.Uint64

	mu      sync.RWMutex
	ignored []string
}

// Bridge is an slog.Handler publishing records to the event bus.
type Bridge struct {
	next   slog.Handler
	st     *shared
	source string
	group  string
	attrs  []slog.Attr
}

// New wraps next so that qualifying records are also published to pub.
func New(next slog.Handler, pub Publisher, cfg Config) *Bridge {
	if cfg.MinLevel == nil {
		cfg.MinLevel = slog.LevelError
	}
	if cfg.DefaultSource == "" {
		cfg.DefaultSource = "app"
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 16
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Second
	}
	if cfg.ErrorWriter == nil {
		cfg.ErrorWriter = os.Stderr
	}

	st := &shared{
		pub:           pub,
		minLevel:      cfg.MinLevel,
		defaultSource: cfg.DefaultSource,
		timeout:       cfg.PublishTimeout,
		errOut:        cfg.ErrorWriter,
		sem:           make(chan struct{}, cfg.MaxInFlight),
		ignored:       append(append([]string{}, DefaultIgnored...), cfg.Ignore...),
	}
	return &Bridge{next: next, st: st}
}

// Ignore adds a component to the ignored set.
func (b *Bridge) Ignore(component string) {
	b.st.mu.Lock()
	defer b.st.mu.Unlock()
	b.st.ignored = append(b.st.ignored, component)
}

// Ignored reports whether records of component are dropped.
func (b *Bridge) Ignored(component string) bool {
	b.st.mu.RLock()
	defer b.st.mu.RUnlock()
	for _, prefix := range b.st.ignored {
		if component == prefix || strings.HasPrefix(component, prefix+".") {
			return true
		}
	}
	return false
}

// Dropped returns how many records were not published because too many
// publishes were already in flight.
func (b *Bridge) Dropped() uint64 {
	return b.st.dropped.Load()
}

// Enabled implements slog.Handler.
func (b *Bridge) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= b.st.minLevel.Level() || b.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (b *Bridge) Handle(ctx context.Context, r slog.Record) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	if b.next.Enabled(ctx, r.Level) {
		err = b.next.Handle(ctx, r)
	}

	if r.Level < b.st.minLevel.Level() || InBridge(ctx) {
		return err
	}

	ev, ok := b.toEvent(r)
	if !ok {
		return err
	}
	b.publish(ctx, ev)
	return err
}

// WithAttrs implements slog.Handler.
func (b *Bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	nb := b.clone()
	nb.next = b.next.WithAttrs(attrs)
	for _, a := range attrs {
		if b.group == "" && a.Key == SourceKey {
			nb.source = a.Value.String()
			continue
		}
		nb.attrs = append(nb.attrs, qualify(b.group, a))
	}
	return nb
}

// WithGroup implements slog.Handler.
func (b *Bridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	nb := b.clone()
	nb.next = b.next.WithGroup(name)
	if b.group == "" {
		nb.group = name
	} else {
		nb.group = b.group + "." + name
	}
	return nb
}

// Wait blocks until in-flight publishes finish or ctx ends.
func (b *Bridge) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.st.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) clone() *Bridge {
	nb := *b
	nb.attrs = append([]slog.Attr(nil), b.attrs...)
	return &nb
}

func (b *Bridge) toEvent(r slog.Record) (domain.Event, bool) {
	source := b.source
	meta := make(map[string]any, len(b.attrs)+r.NumAttrs())
	for _, a := range b.attrs {
		meta[a.Key] = a.Value.Resolve().Any()
	}

	var message, trace string
	r.Attrs(func(a slog.Attr) bool {
		switch {
		case b.group == "" && a.Key == SourceKey:
			source = a.Value.String()
		case b.group == "" && a.Key == "error":
			message = a.Value.String()
		case b.group == "" && a.Key == "stack":
			trace = a.Value.String()
		default:
			q := qualify(b.group, a)
			meta[q.Key] = q.Value.Resolve().Any()
		}
		return true
	})

	if source == "" {
		source = b.st.defaultSource
	}
	if b.Ignored(source) {
		return domain.Event{}, false
	}

	ev := domain.NewEvent(SeverityFromLevel(r.Level), source, r.Message, message).WithFields(meta)
	if trace != "" {
		ev = ev.WithTrace(trace)
	}
	if !r.Time.IsZero() {
		ev.Timestamp = r.Time.UTC()
	}
	return ev, true
}

func (b *Bridge) publish(ctx context.Context, ev domain.Event) {
	select {
	case b.st.sem <- struct{}{}:
	default:
		b.st.dropped.Add(1)
		fmt.Fprintf(b.st.errOut, "logbridge: dropped event, too many in flight: %s\n", ev.FormatPlain())
		return
	}

	b.st.wg.Add(1)
	go func() {
		defer b.st.wg.Done()
		defer func() { <-b.st.sem }()
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(b.st.errOut, "logbridge: publish panicked: %v\n", r)
			}
		}()

		pctx := context.WithValue(context.WithoutCancel(ctx), ctxKeyInBridge, true)
		pctx, cancel := context.WithTimeout(pctx, b.st.timeout)
		defer cancel()
		b.st.pub.Publish(pctx, ev)
	}()
}

// SeverityFromLevel maps a log level to an event severity.
func SeverityFromLevel(l slog.Level) domain.Severity {
	switch {
	case l >= LevelCritical:
		return domain.SeverityCritical
	case l >= slog.LevelError:
		return domain.SeverityError
	case l >= slog.LevelWarn:
		return domain.SeverityWarning
	case l >= slog.LevelInfo:
		return domain.SeverityInfo
	default:
		return domain.SeverityDebug
	}
}

func qualify(group string, a slog.Attr) slog.Attr {
	if group == "" {
		return a
	}
	return slog.Attr{Key: group + "." + a.Key, Value: a.Value}
}
