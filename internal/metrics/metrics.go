// Package metrics exposes Prometheus counters for the research pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draftmill_runs_started_total",
		Help: "Research runs accepted by the API.",
	})

	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "draftmill_runs_completed_total",
		Help: "Research runs that reached a terminal state.",
	}, []string{"status"})

	SectionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "draftmill_sections_processed_total",
		Help: "Outline sections researched, by outcome.",
	}, []string{"status"})

	SourceLookupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "draftmill_source_lookup_failures_total",
		Help: "Source backend lookups that returned an error.",
	}, []string{"backend"})

	SynthesisRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draftmill_synthesis_retries_total",
		Help: "Section syntheses retried after an off-topic first draft.",
	})
)
