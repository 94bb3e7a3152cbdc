// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Outcomes counts how each ensure request ended, by work kind.
	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipforge_work_outcomes_total",
		Help: "Ensure requests by kind and outcome.",
	}, []string{"kind", "outcome"})

	LockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clipforge_lock_wait_seconds",
		Help:    "Time spent waiting for a task lock.",
		Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 60, 300, 600},
	}, []string{"kind"})

	ProcessRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipforge_external_process_runs_total",
		Help: "External tool invocations by tool and result.",
	}, []string{"tool", "result"})

	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clipforge_jobs_in_flight",
		Help: "Jobs currently being processed.",
	})
)
