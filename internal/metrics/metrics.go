// Package metrics exposes Prometheus instrumentation for the bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "farmbridge"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Metrics holds every collector the bridge updates.
type Metrics struct {
	TelemetryAccepted prometheus.Counter
	TelemetryIgnored  prometheus.Counter
	CommandsForwarded prometheus.Counter
	CommandsFailed    prometheus.Counter
	StreamSessions    *prometheus.GaugeVec
	StreamEvents      *prometheus.CounterVec
	BrokerConnected   prometheus.Gauge
}

// New creates and registers the bridge metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TelemetryAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "messages_accepted_total",
			Help:      "Telemetry messages stored in the latest-value cache.",
		}),
		TelemetryIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "messages_ignored_total",
			Help:      "Broker messages dropped because of an unrecognized topic.",
		}),
		CommandsForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "forwarded_total",
			Help:      "Commands published to the broker.",
		}),
		CommandsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "failed_total",
			Help:      "Commands lost because the publish failed.",
		}),
		StreamSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_sessions",
			Help:      "Open push-stream sessions.",
		}, []string{"transport"}),
		StreamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_sent_total",
			Help:      "Readings written to push-stream clients.",
		}, []string{"transport"}),
		BrokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connected",
			Help:      "1 while the broker link is connected.",
		}),
	}

	reg.MustRegister(
		m.TelemetryAccepted,
		m.TelemetryIgnored,
		m.CommandsForwarded,
		m.CommandsFailed,
		m.StreamSessions,
		m.StreamEvents,
		m.BrokerConnected,
	)
	return m
}

func (m *Metrics) Accepted() { m.TelemetryAccepted.Inc() }
func (m *Metrics) Ignored()  { m.TelemetryIgnored.Inc() }

func (m *Metrics) CommandForwarded() { m.CommandsForwarded.Inc() }
func (m *Metrics) CommandFailed()    { m.CommandsFailed.Inc() }

func (m *Metrics) SessionOpened(transport string) { m.StreamSessions.WithLabelValues(transport).Inc() }
func (m *Metrics) SessionClosed(transport string) { m.StreamSessions.WithLabelValues(transport).Dec() }
func (m *Metrics) EventSent(transport string)     { m.StreamEvents.WithLabelValues(transport).Inc() }

// BrokerUp records the broker link state.
func (m *Metrics) BrokerUp(up bool) {
	if up {
		m.BrokerConnected.Set(1)
		return
	}
	m.BrokerConnected.Set(0)
}
