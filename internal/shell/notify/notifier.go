// Package notify delivers watchdog events to external channels.
// The Bus keeps the recent event log and fans every event out to the
// registered notifiers; one notifier failing never affects another.
package notify

import (
	"context"
	"errors"

	"github.com/artpar/watchdog/internal/core/domain"
)

// Component names used as the "component" log attribute. The logging bridge
// ignores everything under ComponentPrefix.
const (
	ComponentPrefix   = "notify"
	ComponentBus      = "notify.bus"
	ComponentFile     = "notify.file"
	ComponentTelegram = "notify.telegram"
	ComponentWebhook  = "notify.webhook"
)

// Errors returned by the bus and the notifier constructors.
var (
	ErrDuplicateNotifier = errors.New("notifier already registered")
	ErrInvalidNotifier   = errors.New("invalid notifier")
	ErrInsecureWebhook   = errors.New("webhook url must use https")
	ErrMissingSetting    = errors.New("missing notifier setting")
	ErrNoNotifiers       = errors.New("no notifier could be configured")
)

// =============================================================================
// Notifier Interface
// =============================================================================

// Notifier is a delivery channel. Send returns true when the event was
// delivered and false when it was dropped; it must not panic or block past ctx.
type Notifier interface {
	Name() string
	MinSeverity() domain.Severity
	Send(ctx context.Context, ev domain.Event) bool
}

// closer is implemented by notifiers holding resources.
type closer interface {
	Close() error
}

// NotifierInfo describes a registered notifier.
type NotifierInfo struct {
	Name        string          `json:"name" yaml:"name"`
	MinSeverity domain.Severity `json:"min_severity" yaml:"min_severity"`
}

func infoOf(n Notifier) NotifierInfo {
	return NotifierInfo{
		Name:        n.Name(),
		MinSeverity: n.MinSeverity(),
	}
}

// base carries the fields shared by the built-in notifiers.
type base struct {
	name string
	min  domain.Severity
}

func (b *base) init(name, fallback string, minSeverity domain.Severity) {
	if name == "" {
		name = fallback
	}
	b.name = name
	b.min = minSeverity
}

// Name returns the notifier name.
func (b *base) Name() string { return b.name }

// MinSeverity returns the lowest severity the notifier accepts.
func (b *base) MinSeverity() domain.Severity { return b.min }
