package notify

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/watchdog/internal/core/domain"
	"github.com/artpar/watchdog/internal/core/eventlog"
)

// DefaultSendTimeout bounds a single notifier delivery.
const DefaultSendTimeout = 30 * time.Second

// Recorder receives bus activity for metrics. Implementations must be safe
// for concurrent use.
type Recorder interface {
	EventPublished(ev domain.Event)
	DeliveryFinished(notifier string, delivered bool, took time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) EventPublished(domain.Event)                  {}
func (nopRecorder) DeliveryFinished(string, bool, time.Duration) {}

// BusConfig configures a Bus.
type BusConfig struct {
	Capacity    int
	SendTimeout time.Duration
	Logger      *slog.Logger
	Metrics     Recorder
}

// BusStatus is a snapshot of the bus for the status surface.
type BusStatus struct {
	Notifiers []NotifierInfo `json:"notifiers" yaml:"notifiers"`
	LogSize   int            `json:"log_size" yaml:"log_size"`
	Capacity  int            `json:"capacity" yaml:"capacity"`
	Published uint64         `json:"published" yaml:"published"`
	LastEvent *domain.Event  `json:"last_event,omitempty" yaml:"last_event,omitempty"`
}

// =============================================================================
// Event Bus
// =============================================================================

// Bus fans events out to notifiers and keeps the most recent ones.
type Bus struct {
	mu        sync.Mutex
	log       *eventlog.Ring[domain.Event]
	notifiers []Notifier
	published uint64

	sendTimeout time.Duration
	logger      *slog.Logger
	metrics     Recorder
}

// NewBus creates an empty bus.
func NewBus(cfg BusConfig) *Bus {
	if cfg.Capacity <= 0 {
		cfg.Capacity = eventlog.DefaultCapacity
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopRecorder{}
	}

	return &Bus{
		log:         eventlog.NewRing[domain.Event](cfg.Capacity),
		sendTimeout: cfg.SendTimeout,
		logger:      cfg.Logger.With("component", ComponentBus),
		metrics:     cfg.Metrics,
	}
}

// Register adds a notifier. Names must be unique.
func (b *Bus) Register(n Notifier) error {
	if n == nil || n.Name() == "" {
		return ErrInvalidNotifier
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.notifiers {
		if existing.Name() == n.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateNotifier, n.Name())
		}
	}
	b.notifiers = append(b.notifiers, n)
	b.logger.Debug("notifier registered", "notifier", n.Name(), "min_severity", n.MinSeverity())
	return nil
}

// Unregister removes the named notifier and reports whether it was present.
func (b *Bus) Unregister(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, n := range b.notifiers {
		if n.Name() == name {
			b.notifiers = slices.Delete(b.notifiers, i, i+1)
			return true
		}
	}
	return false
}

// Lookup returns the registered notifier with the given name.
func (b *Bus) Lookup(name string) (Notifier, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, n := range b.notifiers {
		if n.Name() == name {
			return n, true
		}
	}
	return nil, false
}

// Notifiers lists the registered notifiers in registration order.
func (b *Bus) Notifiers() []NotifierInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]NotifierInfo, 0, len(b.notifiers))
	for _, n := range b.notifiers {
		out = append(out, infoOf(n))
	}
	return out
}

// Publish records ev and delivers it to every eligible notifier concurrently.
// The result maps notifier name to delivery outcome; notifiers below the
// event's severity are absent from it.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) map[string]bool {
	ev = ev.Clone()

	b.mu.Lock()
	b.log.Push(ev)
	b.published++
	targets := slices.Clone(b.notifiers)
	b.mu.Unlock()

	b.metrics.EventPublished(ev)

	results := make(map[string]bool, len(targets))
	var resultsMu sync.Mutex
	var g errgroup.Group

	for _, n := range targets {
		if n.MinSeverity() > ev.Severity {
			continue
		}
		g.Go(func() error {
			ok := b.deliver(ctx, n, ev)
			resultsMu.Lock()
			results[n.Name()] = ok
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (b *Bus) deliver(ctx context.Context, n Notifier, ev domain.Event) (ok bool) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "notifier panicked",
				"notifier", n.Name(),
				"event_id", ev.ID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			ok = false
		}
		b.metrics.DeliveryFinished(n.Name(), ok, time.Since(start))
	}()

	sendCtx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()

	ok = n.Send(sendCtx, ev)
	if !ok {
		b.logger.WarnContext(ctx, "notifier dropped event", "notifier", n.Name(), "event_id", ev.ID, "severity", ev.Severity)
	}
	return ok
}

// RecentEvents returns up to n of the newest events, oldest first.
func (b *Bus) RecentEvents(n int) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.log.Last(n)
	for i := range events {
		events[i] = events[i].Clone()
	}
	return events
}

// Event looks up a buffered event by ID.
func (b *Bus) Event(id string) (domain.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ev := range b.log.Last(b.log.Cap()) {
		if ev.ID == id {
			return ev.Clone(), true
		}
	}
	return domain.Event{}, false
}

// Status returns a snapshot of the bus.
func (b *Bus) Status() BusStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BusStatus{
		Notifiers: make([]NotifierInfo, 0, len(b.notifiers)),
		LogSize:   b.log.Len(),
		Capacity:  b.log.Cap(),
		Published: b.published,
	}
	for _, n := range b.notifiers {
		st.Notifiers = append(st.Notifiers, infoOf(n))
	}
	if last, ok := b.log.Newest(); ok {
		last = last.Clone()
		st.LastEvent = &last
	}
	return st
}

// Close closes every notifier holding resources. All notifiers are closed
// even if some fail; the first error is returned.
func (b *Bus) Close() error {
	b.mu.Lock()
	targets := slices.Clone(b.notifiers)
	b.mu.Unlock()

	var first error
	for _, n := range targets {
		c, ok := n.(closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = fmt.Errorf("close notifier %s: %w", n.Name(), err)
		}
	}
	return first
}

// =============================================================================
// Convenience Publishers
// =============================================================================

// Info publishes an INFO event.
func (b *Bus) Info(ctx context.Context, source, title, message string, meta map[string]any) map[string]bool {
	return b.Publish(ctx, domain.NewEvent(domain.SeverityInfo, source, title, message).WithFields(meta))
}

// Warning publishes a WARNING event.
func (b *Bus) Warning(ctx context.Context, source, title, message string, meta map[string]any) map[string]bool {
	return b.Publish(ctx, domain.NewEvent(domain.SeverityWarning, source, title, message).WithFields(meta))
}

// Error publishes an ERROR event.
func (b *Bus) Error(ctx context.Context, source, title, message string, meta map[string]any) map[string]bool {
	return b.Publish(ctx, domain.NewEvent(domain.SeverityError, source, title, message).WithFields(meta))
}

// Critical publishes a CRITICAL event.
func (b *Bus) Critical(ctx context.Context, source, title, message string, meta map[string]any) map[string]bool {
	return b.Publish(ctx, domain.NewEvent(domain.SeverityCritical, source, title, message).WithFields(meta))
}
