// Package resources provides the JSON:API resources of the status surface.
package resources

import (
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/manyminds/api2go"

	"github.com/artpar/watchdog/internal/core/domain"
)

// EventStore is the bounded event log read by the events resource.
type EventStore interface {
	RecentEvents(n int) []domain.Event
	Event(id string) (domain.Event, bool)
}

// =============================================================================
// Event JSON:API Model
// =============================================================================

// Event wraps domain.Event for the JSON:API format.
type Event struct {
	ID        string         `json:"-"`
	Timestamp time.Time      `json:"timestamp"`
	Severity  string         `json:"severity"`
	Source    string         `json:"source"`
	Category  string         `json:"category"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Trace     string         `json:"trace,omitempty"`
}

// GetID returns the event ID for JSON:API.
func (e Event) GetID() string {
	return e.ID
}

// SetID sets the event ID for JSON:API.
func (e *Event) SetID(id string) error {
	e.ID = id
	return nil
}

// GetName returns the JSON:API resource type name.
func (e Event) GetName() string {
	return "events"
}

// EventFromDomain converts a domain.Event to a JSON:API Event.
func EventFromDomain(ev domain.Event) Event {
	return Event{
		ID:        ev.ID,
		Timestamp: ev.Timestamp,
		Severity:  ev.Severity.String(),
		Source:    ev.Source,
		Category:  ev.Category,
		Title:     ev.Title,
		Message:   ev.Message,
		Metadata:  ev.Metadata,
		Trace:     ev.Trace,
	}
}

// =============================================================================
// EventResource - Read Operations
// =============================================================================

// EventResource implements the read side of the api2go resource interface
// over the in-memory event log. Events are listed newest first.
type EventResource struct {
	Store EventStore
}

// NewEventResource creates a new event resource handler.
func NewEventResource(s EventStore) *EventResource {
	return &EventResource{Store: s}
}

// EventQuery is the parsed list query.
type EventQuery struct {
	Limit       int
	MinSeverity domain.Severity
	Source      string
	Category    string
}

// ParseEventQuery reads page[size], filter[severity], filter[source] and
// filter[category]. A missing or non-positive page[size] lists everything.
func ParseEventQuery(params map[string][]string) (EventQuery, error) {
	q := EventQuery{Limit: math.MaxInt32}

	if v := first(params, "page[size]"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, fmt.Errorf("invalid page[size] %q", v)
		}
		if n > 0 {
			q.Limit = n
		}
	}
	if v := first(params, "filter[severity]"); v != "" {
		sev, err := domain.ParseSeverity(v)
		if err != nil {
			return q, err
		}
		q.MinSeverity = sev
	}
	q.Source = first(params, "filter[source]")
	q.Category = first(params, "filter[category]")
	return q, nil
}

// Match reports whether ev passes the filters.
func (q EventQuery) Match(ev domain.Event) bool {
	if ev.Severity < q.MinSeverity {
		return false
	}
	if q.Source != "" && !strings.EqualFold(ev.Source, q.Source) {
		return false
	}
	if q.Category != "" && !strings.EqualFold(ev.Category, q.Category) {
		return false
	}
	return true
}

// FindAll returns the buffered events, newest first.
// GET /api/v1/events
func (r EventResource) FindAll(req api2go.Request) (api2go.Responder, error) {
	q, err := ParseEventQuery(req.QueryParams)
	if err != nil {
		return &Response{Code: http.StatusBadRequest}, api2go.NewHTTPError(err, err.Error(), http.StatusBadRequest)
	}

	events := r.Store.RecentEvents(math.MaxInt32)
	slices.Reverse(events)

	matched := 0
	result := make([]Event, 0, min(len(events), q.Limit))
	for _, ev := range events {
		if !q.Match(ev) {
			continue
		}
		matched++
		if len(result) < q.Limit {
			result = append(result, EventFromDomain(ev))
		}
	}

	return &Response{
		Code: http.StatusOK,
		Res:  result,
		Meta: map[string]interface{}{
			"total":    matched,
			"returned": len(result),
			"buffered": len(events),
		},
	}, nil
}

// FindOne returns a single buffered event by ID.
// GET /api/v1/events/{id}
func (r EventResource) FindOne(id string, req api2go.Request) (api2go.Responder, error) {
	ev, ok := r.Store.Event(id)
	if !ok {
		return &Response{Code: http.StatusNotFound}, api2go.NewHTTPError(
			fmt.Errorf("event %s not found", id),
			"Event not found or no longer buffered",
			http.StatusNotFound,
		)
	}
	return &Response{
		Code: http.StatusOK,
		Res:  EventFromDomain(ev),
	}, nil
}

// =============================================================================
// Response
// =============================================================================

// Response implements api2go.Responder.
type Response struct {
	Code int
	Res  interface{}
	Meta map[string]interface{}
}

// Metadata returns additional metadata for the response.
func (r *Response) Metadata() map[string]interface{} {
	return r.Meta
}

// Result returns the response data.
func (r *Response) Result() interface{} {
	return r.Res
}

// StatusCode returns the HTTP status code.
func (r *Response) StatusCode() int {
	return r.Code
}

func first(params map[string][]string, key string) string {
	if v, ok := params[key]; ok && len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}
