// File: control/metrics.go
// Prometheus instrumentation for the server core. Scoped to one server
// instance; no process-wide registry is touched.
// License: Apache-2.0

package control

import "github.com/prometheus/client_golang/prometheus"

// ServerMetrics aggregates the core's counters and gauges.
type ServerMetrics struct {
	// Dispatched counts requests handed to each target loop, labeled by
	// loop name.
	Dispatched *prometheus.CounterVec

	// BindFailures counts listen/bind errors across Start calls.
	BindFailures prometheus.Counter

	// AcceptorsRunning tracks the current acceptor count.
	AcceptorsRunning prometheus.Gauge
}

// NewServerMetrics registers the metric set on reg; nil gets a private
// registry so independent servers never collide.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &ServerMetrics{
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evhttp",
			Name:      "requests_dispatched_total",
			Help:      "Requests dispatched, by target loop.",
		}, []string{"loop"}),
		BindFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "evhttp",
			Name:      "bind_failures_total",
			Help:      "Listener bind failures.",
		}),
		AcceptorsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "evhttp",
			Name:      "acceptors_running",
			Help:      "Acceptor loops currently running.",
		}),
	}
	reg.MustRegister(m.Dispatched, m.BindFailures, m.AcceptorsRunning)
	return m
}
