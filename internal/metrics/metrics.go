// Package metrics exposes the orchestrator's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DuplicatesSuppressed counts inbound messages dropped as echoes.
	DuplicatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alyn_duplicates_suppressed_total",
		Help: "Messages suppressed by the duplicate detector.",
	})

	// TriggersFired counts trigger dispatches.
	TriggersFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alyn_triggers_fired_total",
		Help: "Trigger executions dispatched by the scheduler.",
	})

	// TriggerFailures counts failed trigger executions.
	TriggerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alyn_trigger_failures_total",
		Help: "Trigger executions that returned an error.",
	})

	// AgentRuns counts execution-agent runs by outcome.
	AgentRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alyn_agent_runs_total",
		Help: "Execution agent runs by outcome.",
	}, []string{"outcome"})

	// OutboundMessages counts messages handed to the outbound transport.
	OutboundMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alyn_outbound_messages_total",
		Help: "Messages delivered through the outbound transport.",
	})
)
