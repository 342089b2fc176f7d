// Package metrics exposes control-plane prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/navcom/groupctl/internal/feedback"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/transport"
)

const namespace = "groupctl"

// Metrics holds the control-plane collectors and their registry.
type Metrics struct {
	Registry *prometheus.Registry

	diagnostics *prometheus.CounterVec
	commands    *prometheus.CounterVec
	ingested    *prometheus.CounterVec
	rotations   *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "diagnostics_total",
			Help:      "Dispatcher diagnostics by kind and mode.",
		}, []string{"kind", "requested_mode", "resolved_mode"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "total",
			Help:      "Group commands by action and outcome reason.",
		}, []string{"action", "reason"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "projection",
			Name:      "events_total",
			Help:      "Events folded into projections, split applied/dropped.",
		}, []string{"result"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "attempts_total",
			Help:      "Key rotation attempts by result.",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(
		m.diagnostics, m.commands, m.ingested, m.rotations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe implements transport.Observer.
func (m *Metrics) Observe(d transport.Diagnostic) {
	m.diagnostics.WithLabelValues(string(d.Kind), string(d.RequestedMode), string(d.ResolvedMode)).Inc()
}

// Command counts one command outcome.
func (m *Metrics) Command(action model.Action, o feedback.Outcome) {
	reason := "ok"
	if !o.OK {
		reason = string(o.Reason)
	}
	m.commands.WithLabelValues(string(action), reason).Inc()
}

// Ingested counts applied and dropped events.
func (m *Metrics) Ingested(applied, dropped int) {
	m.ingested.WithLabelValues("applied").Add(float64(applied))
	m.ingested.WithLabelValues("dropped").Add(float64(dropped))
}

// Rotation counts one rotation attempt.
func (m *Metrics) Rotation(ok bool) {
	if ok {
		m.rotations.WithLabelValues("ok").Inc()
		return
	}
	m.rotations.WithLabelValues("failed").Inc()
}
