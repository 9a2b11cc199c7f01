package resources

import (
	"math"
	"net/http"
	"testing"

	"github.com/manyminds/api2go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/watchdog/internal/core/domain"
)

type sliceStore []domain.Event

func (s sliceStore) RecentEvents(n int) []domain.Event {
	if n > len(s) {
		n = len(s)
	}
	return append([]domain.Event(nil), s[len(s)-n:]...)
}

func (s sliceStore) Event(id string) (domain.Event, bool) {
	for _, ev := range s {
		if ev.ID == id {
			return ev, true
		}
	}
	return domain.Event{}, false
}

func TestParseEventQuery(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string][]string
		want    EventQuery
		wantErr bool
	}{
		{"empty", nil, EventQuery{Limit: math.MaxInt32}, false},
		{"page size", map[string][]string{"page[size]": {"5"}}, EventQuery{Limit: 5}, false},
		{"zero page size lists all", map[string][]string{"page[size]": {"0"}}, EventQuery{Limit: math.MaxInt32}, false},
		{"bad page size", map[string][]string{"page[size]": {"ten"}}, EventQuery{}, true},
		{
			name:   "filters",
			params: map[string][]string{"filter[severity]": {"error"}, "filter[source]": {"docker-monitor"}},
			want:   EventQuery{Limit: math.MaxInt32, MinSeverity: domain.SeverityError, Source: "docker-monitor"},
		},
		{"bad severity", map[string][]string{"filter[severity]": {"loud"}}, EventQuery{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEventQuery(tt.params)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventResource_FindAll(t *testing.T) {
	store := sliceStore{
		domain.NewEvent(domain.SeverityDebug, domain.SourceWatchdog, "Watchdog status report", ""),
		domain.NewEvent(domain.SeverityWarning, domain.SourceHostMonitor, "High RAM usage", ""),
		domain.NewEvent(domain.SeverityCritical, domain.SourceDockerMonitor, "Container died", ""),
	}
	r := NewEventResource(store)

	resp, err := r.FindAll(api2go.Request{QueryParams: map[string][]string{
		"filter[severity]": {"warning"},
		"page[size]":       {"1"},
	}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	events := resp.Result().([]Event)
	require.Len(t, events, 1)
	assert.Equal(t, "Container died", events[0].Title)
	assert.Equal(t, 2, resp.Metadata()["total"])
	assert.Equal(t, 3, resp.Metadata()["buffered"])
}

func TestEventResource_FindOne(t *testing.T) {
	ev := domain.NewEvent(domain.SeverityError, domain.SourceSupervisor, "Monitor host-monitor failed", "").
		WithMetadata("restarts", 2)
	r := NewEventResource(sliceStore{ev})

	resp, err := r.FindOne(ev.ID, api2go.Request{})
	require.NoError(t, err)
	got := resp.Result().(Event)
	assert.Equal(t, "ERROR", got.Severity)
	assert.Equal(t, 2, got.Metadata["restarts"])

	resp, err = r.FindOne("missing", api2go.Request{})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode())
}
