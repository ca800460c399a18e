// Package metrics exposes Prometheus instrumentation for the routing and
// execution core.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hrygo/switchboard/agent"
)

const namespace = "switchboard"

// Metrics holds the Prometheus collectors. Construct one per process and
// register it on a registry owned by the host.
type Metrics struct {
	routingDecisions *prometheus.CounterVec
	routingLatency   prometheus.Histogram
	requestLatency   *prometheus.HistogramVec
	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	modelFallbacks   *prometheus.CounterVec
	speculativeRuns  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		routingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by agent and source.",
		}, []string{"agent", "source"}),

		routingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "routing_latency_seconds",
			Help:      "Time spent producing a routing decision.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "End-to-end request latency by agent.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"agent"}),

		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "success"}),

		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool invocation duration by tool.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"tool"}),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cache_hits_total",
			Help:      "Response cache hits.",
		}),

		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cache_misses_total",
			Help:      "Response cache misses.",
		}),

		modelFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_fallbacks_total",
			Help:      "Completions resolved by a non-primary chain entry, by index.",
		}, []string{"index"}),

		speculativeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speculative_rounds_total",
			Help:      "Speculative rounds by winning agent and cross-validation outcome.",
		}, []string{"agent", "cross_validated"}),
	}

	reg.MustRegister(
		m.routingDecisions,
		m.routingLatency,
		m.requestLatency,
		m.toolCalls,
		m.toolDuration,
		m.cacheHits,
		m.cacheMisses,
		m.modelFallbacks,
		m.speculativeRuns,
	)
	return m
}

// ObserveRoutingDecision records one routing decision.
func (m *Metrics) ObserveRoutingDecision(ag agent.ID, source string, elapsed time.Duration) {
	m.routingDecisions.WithLabelValues(string(ag), source).Inc()
	m.routingLatency.Observe(elapsed.Seconds())
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(ag agent.ID, elapsed time.Duration) {
	m.requestLatency.WithLabelValues(string(ag)).Observe(elapsed.Seconds())
}

// ObserveToolCall records one tool invocation.
func (m *Metrics) ObserveToolCall(tool string, success bool, elapsed time.Duration) {
	m.toolCalls.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveCacheHit records a response cache hit or miss.
func (m *Metrics) ObserveCacheHit(hit bool) {
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}

// ObserveModelFallback records which chain index served a completion.
// Index 0 is the primary and is not counted.
func (m *Metrics) ObserveModelFallback(index int) {
	if index <= 0 {
		return
	}
	m.modelFallbacks.WithLabelValues(strconv.Itoa(index)).Inc()
}

// ObserveSpeculativeRound records a resolved speculative round.
func (m *Metrics) ObserveSpeculativeRound(winner agent.ID, crossValidated bool) {
	m.speculativeRuns.WithLabelValues(string(winner), strconv.FormatBool(crossValidated)).Inc()
}
