package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annals",
		Subsystem: "ingest",
		Name:      "units_total",
		Help:      "Units seen by the ingestion orchestrator by outcome.",
	}, []string{"outcome"})

	PersonResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annals",
		Subsystem: "identity",
		Name:      "resolutions_total",
		Help:      "Person resolutions by action.",
	}, []string{"action"})

	EdgesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annals",
		Subsystem: "relation",
		Name:      "edges_total",
		Help:      "Relation candidates by outcome.",
	}, []string{"outcome"})

	WriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "annals",
		Subsystem: "store",
		Name:      "write_failures_total",
		Help:      "Store writes that returned an error.",
	})

	LLMRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "annals",
		Subsystem: "llm",
		Name:      "retries_total",
		Help:      "LLM calls retried after a transient failure.",
	})

	RepairActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annals",
		Subsystem: "repair",
		Name:      "actions_total",
		Help:      "Corrections applied by the repair tool by kind.",
	}, []string{"kind"})
)
