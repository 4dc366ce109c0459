// Package metrics exposes engine counters in Prometheus format. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	matchesCreated     *prometheus.CounterVec
	activeMatches      prometheus.Gauge
	settlements        *prometheus.CounterVec
	settlementFailures prometheus.Counter
	droppedMessages    prometheus.Counter
	queueDepth         *prometheus.GaugeVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		matchesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sixking_matches_created_total",
			Help: "Matches formed, by how they were formed.",
		}, []string{"source"}),
		activeMatches: f.NewGauge(prometheus.GaugeOpts{
			Name: "sixking_matches_active",
			Help: "Matches currently held in the directory.",
		}),
		settlements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sixking_settlements_total",
			Help: "Settled matches by outcome.",
		}, []string{"outcome"}),
		settlementFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "sixking_settlement_failures_total",
			Help: "Ledger credits that exhausted retries and need reconciliation.",
		}),
		droppedMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "sixking_ws_dropped_messages_total",
			Help: "Outbound messages dropped because a client buffer was full.",
		}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sixking_queue_depth",
			Help: "Players waiting per stake tier.",
		}, []string{"stake"}),
	}
}

func (m *Metrics) MatchCreated(source string) {
	if m == nil {
		return
	}
	m.matchesCreated.WithLabelValues(source).Inc()
}

func (m *Metrics) SetActiveMatches(n int) {
	if m == nil {
		return
	}
	m.activeMatches.Set(float64(n))
}

func (m *Metrics) Settled(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SettlementFailed() {
	if m == nil {
		return
	}
	m.settlementFailures.Inc()
}

func (m *Metrics) MessageDropped() {
	if m == nil {
		return
	}
	m.droppedMessages.Inc()
}

func (m *Metrics) SetQueueDepth(stake string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(stake).Set(float64(n))
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
