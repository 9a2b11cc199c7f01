// Package metrics exposes watchdog activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artpar/watchdog/internal/core/domain"
)

const namespace = "watchdog"

// Metrics holds the watchdog collectors on a private registry.
// It implements notify.Recorder and supervisor.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	eventsPublished  *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	monitorRestarts  *prometheus.CounterVec

	healthUp          prometheus.Gauge
	healthUptime      prometheus.Gauge
	hostUsage         *prometheus.GaugeVec
	hostBreached      *prometheus.GaugeVec
	containerRestarts *prometheus.GaugeVec
	containerLooping  *prometheus.GaugeVec
}

// New creates the collectors and registers them together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published on the bus.",
		}, []string{"severity", "source"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifier_deliveries_total",
			Help:      "Notifier deliveries by result.",
		}, []string{"notifier", "result"}),
		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notifier_delivery_seconds",
			Help:      "Time spent in one notifier delivery.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30},
		}, []string{"notifier"}),
		monitorRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_restarts_total",
			Help:      "Monitor restarts after a crash or unexpected exit.",
		}, []string{"monitor"}),
		healthUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_check_up",
			Help:      "1 when the polled health endpoint is healthy.",
		}),
		healthUptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_check_uptime_percent",
			Help:      "Share of successful health checks.",
		}),
		hostUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_usage_percent",
			Help:      "Last sampled host resource usage.",
		}, []string{"metric"}),
		hostBreached: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_threshold_breached",
			Help:      "1 while a host metric is above its threshold.",
		}, []string{"metric"}),
		containerRestarts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "container_restarts",
			Help:      "Restarts seen per watched container.",
		}, []string{"container"}),
		containerLooping: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "container_restart_loop",
			Help:      "1 while a container is in a restart loop.",
		}, []string{"container"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsPublished,
		m.deliveries,
		m.deliveryDuration,
		m.monitorRestarts,
		m.healthUp,
		m.healthUptime,
		m.hostUsage,
		m.hostBreached,
		m.containerRestarts,
		m.containerLooping,
	)
	return m
}

// Registry returns the registry backing the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry. refresh, when set, runs before each scrape so
// gauges reflect current monitor state.
func (m *Metrics) Handler(refresh func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	if refresh == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh()
		h.ServeHTTP(w, r)
	})
}

// =============================================================================
// Recorders
// =============================================================================

// EventPublished counts one published event.
func (m *Metrics) EventPublished(ev domain.Event) {
	m.eventsPublished.WithLabelValues(ev.Severity.String(), ev.Source).Inc()
}

// DeliveryFinished records one notifier delivery.
func (m *Metrics) DeliveryFinished(notifier string, ok bool, took time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.deliveries.WithLabelValues(notifier, result).Inc()
	m.deliveryDuration.WithLabelValues(notifier).Observe(took.Seconds())
}

// MonitorRestarted counts one monitor restart.
func (m *Metrics) MonitorRestarted(name string) {
	m.monitorRestarts.WithLabelValues(name).Inc()
}

// =============================================================================
// State Gauges
// =============================================================================

// ObserveHealth updates the health check gauges.
func (m *Metrics) ObserveHealth(snap domain.HealthSnapshot) {
	m.healthUp.Set(boolGauge(snap.Status == domain.HealthStatusHealthy))
	m.healthUptime.Set(snap.UptimePercent)
}

// ObserveHost updates the host metric gauges.
func (m *Metrics) ObserveHost(snaps []domain.MetricSnapshot) {
	for _, s := range snaps {
		name := string(s.Name)
		if s.SampledAt != nil {
			m.hostUsage.WithLabelValues(name).Set(s.Value)
		}
		m.hostBreached.WithLabelValues(name).Set(boolGauge(s.Breached))
	}
}

// ObserveContainers updates the per-container gauges.
func (m *Metrics) ObserveContainers(snaps []domain.ContainerSnapshot) {
	for _, s := range snaps {
		m.containerRestarts.WithLabelValues(s.Name).Set(float64(s.RestartCount))
		m.containerLooping.WithLabelValues(s.Name).Set(boolGauge(s.InRestartLoop))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
