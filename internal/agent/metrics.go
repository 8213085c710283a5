package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricLLMCalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluux_agent",
		Subsystem: "runtime",
		Name:      "llm_calls_total",
		Help:      "Completion requests sent to the LLM backend.",
	})
	metricToolCalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluux_agent",
		Subsystem: "runtime",
		Name:      "tool_calls_total",
		Help:      "Skill executions requested by the model.",
	})
	metricTurns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluux_agent",
		Subsystem: "runtime",
		Name:      "turns_total",
		Help:      "Conversational turns processed.",
	})
)
