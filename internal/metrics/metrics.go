// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Chat outcome labels.
const (
	OutcomeOK               = "ok"
	OutcomeInvalidInput     = "invalid_input"
	OutcomePermissionDenied = "permission_denied"
	OutcomeNotFound         = "not_found"
	OutcomeConflict         = "conflict"
	OutcomeAgentUnavailable = "agent_unavailable"
	OutcomeAgentRejected    = "agent_rejected"
	OutcomeError            = "error"
)

// Recorder is the narrow recording interface the orchestrator uses.
type Recorder interface {
	RecordChat(outcome string)
	RecordAgentLatency(duration time.Duration)
	RecordSequenceConflict()
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	chats        *prometheus.CounterVec
	agentLatency prometheus.Histogram
	conflicts    prometheus.Counter
}

// NewCollector registers the chat metrics on the given registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		chats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flyerdeck_chat_requests_total",
			Help: "Chat orchestrations by outcome",
		}, []string{"outcome"}),
		agentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flyerdeck_agent_latency_seconds",
			Help:    "Latency of agent invocations",
			Buckets: prometheus.DefBuckets,
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flyerdeck_sequence_conflicts_total",
			Help: "Optimistic concurrency conflicts on session append",
		}),
	}

	reg.MustRegister(c.chats, c.agentLatency, c.conflicts)
	return c
}

func (c *Collector) RecordChat(outcome string) {
	c.chats.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordAgentLatency(duration time.Duration) {
	c.agentLatency.Observe(duration.Seconds())
}

func (c *Collector) RecordSequenceConflict() {
	c.conflicts.Inc()
}

// Noop discards all recordings. Used when metrics are not wired.
type Noop struct{}

func (Noop) RecordChat(string)                {}
func (Noop) RecordAgentLatency(time.Duration) {}
func (Noop) RecordSequenceConflict()          {}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Noop{}
)
