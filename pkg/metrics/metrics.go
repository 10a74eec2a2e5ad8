// Package metrics exposes Prometheus collectors for the battery server.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-volt/pkg/protocol"
)

// Metrics holds the server's collectors.
type Metrics struct {
	registry *prometheus.Registry

	ticks       prometheus.Counter
	level       *prometheus.GaugeVec
	multiplier  *prometheus.GaugeVec
	status      *prometheus.GaugeVec
	readings    *prometheus.CounterVec
	connections prometheus.Gauge
	sessions    prometheus.Gauge
	broadcasts  *prometheus.CounterVec
	reconnects  prometheus.Counter
}

// New creates collectors on a fresh registry that also carries the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "volt_ticks_total",
			Help: "Total battery ticks across all sessions",
		}),
		level: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "volt_energy_level",
			Help: "Current battery level by session",
		}, []string{"session"}),
		multiplier: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "volt_stress_multiplier",
			Help: "Current stress multiplier by session",
		}, []string{"session"}),
		status: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "volt_status",
			Help: "1 for the session's current status, 0 otherwise",
		}, []string{"session", "status"}),
		readings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "volt_readings_total",
			Help: "Sensor readings by ingest result",
		}, []string{"result"}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "volt_ws_connections",
			Help: "Open WebSocket connections",
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "volt_sessions",
			Help: "Active sessions",
		}),
		broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "volt_broadcasts_total",
			Help: "Snapshot broadcasts by trigger",
		}, []string{"trigger"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "volt_reconnects_total",
			Help: "Client reconnect attempts after a dropped or failed connection",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveState records a state published for a session.
func (m *Metrics) ObserveState(session string, s protocol.EnergyState) {
	if m == nil {
		return
	}
	m.level.WithLabelValues(session).Set(s.CurrentLevel)
	m.multiplier.WithLabelValues(session).Set(s.StressMultiplier)
	for _, st := range []protocol.Status{
		protocol.StatusIdle, protocol.StatusRecharging,
		protocol.StatusDraining, protocol.StatusCritical,
	} {
		v := 0.0
		if st == s.Status {
			v = 1
		}
		m.status.WithLabelValues(session, string(st)).Set(v)
	}
}

// Tick counts one engine tick.
func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

// Broadcast counts a snapshot push by trigger (connect, tick, home, reset).
func (m *Metrics) Broadcast(trigger string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(trigger).Inc()
}

// Reading counts an ingested reading by result.
func (m *Metrics) Reading(result string) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(result).Inc()
}

// ConnectionOpened increments the open connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed decrements the open connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// SessionOpened increments the session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// SessionClosed decrements the session gauge and drops its series.
func (m *Metrics) SessionClosed(session string) {
	if m == nil {
		return
	}
	m.sessions.Dec()
	m.level.DeleteLabelValues(session)
	m.multiplier.DeleteLabelValues(session)
	m.status.DeletePartialMatch(prometheus.Labels{"session": session})
}

// Reconnect counts one client reconnect attempt.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
