// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchRunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_runs_completed_total",
			Help: "Total number of completed matching runs",
		},
		[]string{"trigger"},
	)

	MatchRunsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_runs_failed_total",
			Help: "Total number of failed matching runs",
		},
		[]string{"trigger", "error_code"},
	)

	MatchRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "matching_run_duration_seconds",
			Help:    "Duration of one user's matching run in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"trigger"},
	)

	CandidatesEvaluated = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matching_candidates_evaluated",
			Help:    "Candidates scored per matching run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	MatchSetsStale = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matching_sets_marked_stale_total",
			Help: "Match sets marked stale by list mutations",
		},
	)

	RecomputeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "matching_recompute_queue_depth",
			Help: "Pending tokens on the recompute stream",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_notifications_sent_total",
			Help: "New-match notifications published",
		},
		[]string{"channel"},
	)
)
