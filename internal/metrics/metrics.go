// Package metrics holds the Prometheus collectors of the bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "musebridge"

// Command outcomes
const (
	OutcomeOK             = "ok"
	OutcomeError          = "error"
	OutcomeNotImplemented = "not_implemented"
)

// UnknownMethod is the method label of every command name the bridge does not know
const UnknownMethod = "unknown"

// Metrics collects bridge counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	commands      *prometheus.CounterVec
	eventsEmitted *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	activeSinks   *prometheus.GaugeVec
	clients       prometheus.Gauge
	published     *prometheus.CounterVec
}

// New creates unregistered collectors
func New() *Metrics {
	return &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands dispatched by method and outcome.",
		}, []string{"method", "outcome"}),
		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Events delivered to a stream subscriber.",
		}, []string{"category"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because no subscriber was attached.",
		}, []string{"category"}),
		activeSinks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sinks",
			Help:      "1 if the stream category has a subscriber.",
		}, []string{"category"}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected WebSocket clients.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_published_total",
			Help:      "Events published to MQTT by category and outcome.",
		}, []string{"category", "outcome"}),
	}
}

// Collectors returns every collector for registration
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commands,
		m.eventsEmitted,
		m.eventsDropped,
		m.activeSinks,
		m.clients,
		m.published,
	}
}

// NewRegistry creates a registry holding m plus the Go runtime collectors
func NewRegistry(m *Metrics) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	if m != nil {
		registry.MustRegister(m.Collectors()...)
	}
	return registry
}

// Handler serves registry in the Prometheus exposition format
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Command(method, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(method, outcome).Inc()
}

// Event records one emission attempt
func (m *Metrics) Event(category string, delivered bool) {
	if m == nil {
		return
	}
	if delivered {
		m.eventsEmitted.WithLabelValues(category).Inc()
	} else {
		m.eventsDropped.WithLabelValues(category).Inc()
	}
}

func (m *Metrics) SinkActive(category string, active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.activeSinks.WithLabelValues(category).Set(v)
}

func (m *Metrics) ClientConnected() {
	if m != nil {
		m.clients.Inc()
	}
}

func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.clients.Dec()
	}
}

func (m *Metrics) Published(category string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.published.WithLabelValues(category, outcome).Inc()
}
