// Package observability carries the process metrics and tracing setup.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's prometheus instruments on a private
// registry.
type Metrics struct {
	registry *prometheus.Registry

	// TurnsTotal counts completed turns by outcome (reply, interrupt,
	// error).
	TurnsTotal *prometheus.CounterVec

	// InterruptsTotal counts interrupts by type.
	InterruptsTotal *prometheus.CounterVec

	// TurnDuration observes wall time per turn, HITL wait excluded.
	TurnDuration prometheus.Histogram

	// StepDuration observes executed plan steps by capability.
	StepDuration *prometheus.HistogramVec

	// LLMCallsTotal counts gateway calls by provider and status.
	LLMCallsTotal *prometheus.CounterVec

	// HTTPRequests counts webhook requests by route and code.
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics registers every instrument on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donna_turns_total",
			Help: "Completed pipeline turns by outcome.",
		}, []string{"outcome"}),
		InterruptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donna_interrupts_total",
			Help: "Pipeline interrupts by type.",
		}, []string{"type"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "donna_turn_duration_seconds",
			Help:    "Turn wall time, HITL wait excluded.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "donna_step_duration_seconds",
			Help:    "Executed plan step duration by capability.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"capability"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donna_llm_calls_total",
			Help: "LLM gateway calls by provider and status.",
		}, []string{"provider", "status"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donna_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TurnsTotal, m.InterruptsTotal, m.TurnDuration, m.StepDuration,
		m.LLMCallsTotal, m.HTTPRequests,
	)
	return m
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(d.Seconds())
}

// ObserveStep records one executed step.
func (m *Metrics) ObserveStep(capability string, d time.Duration) {
	m.StepDuration.WithLabelValues(capability).Observe(d.Seconds())
}
