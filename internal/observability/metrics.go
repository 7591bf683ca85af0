// Package observability provides metrics and tracing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes of NeedsReview.
const (
	OutcomeCreated     = "created"
	OutcomeReactivated = "reactivated"
)

var (
	// ReviewablesCreated counts NeedsReview calls by kind and outcome.
	ReviewablesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewqueue_reviewables_created_total",
		Help: "Reviewables created or reactivated",
	}, []string{"kind", "outcome"})

	// ReviewableTransitions counts committed status transitions.
	ReviewableTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewqueue_reviewable_transitions_total",
		Help: "Committed reviewable status transitions",
	}, []string{"kind", "status"})

	// ReviewablePerformDuration records perform latency by kind, action and result.
	ReviewablePerformDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reviewqueue_reviewable_perform_seconds",
		Help:    "Time spent performing reviewable actions",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "action", "result"})
)

// ObservePerform records one perform call.
func ObservePerform(kind, action, result string, start time.Time) {
	ReviewablePerformDuration.WithLabelValues(kind, action, result).Observe(time.Since(start).Seconds())
}
