package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	suggestionPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "suggestion_service",
		Subsystem: "persistence",
		Name:      "last_suggestion_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent accepted suggestion persisted to Postgres.",
	})

	tasksCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "suggestion_service",
		Subsystem: "engine",
		Name:      "tasks_total",
		Help:      "Pipeline units by terminal state (completed, failed, cancelled).",
	}, []string{"state"})

	taskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "suggestion_service",
		Subsystem: "engine",
		Name:      "task_duration_seconds",
		Help:      "End-to-end pipeline unit duration.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	rateLimitSkips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "suggestion_service",
		Subsystem: "engine",
		Name:      "rate_limit_skips_total",
		Help:      "Events dropped because a lane bucket was exhausted.",
	}, []string{"lane"})

	validationOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "suggestion_service",
		Subsystem: "validation",
		Name:      "candidates_total",
		Help:      "Validated candidates by outcome (accepted or rejection reason).",
	}, []string{"outcome"})

	pollResponses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "suggestion_service",
		Subsystem: "delivery",
		Name:      "poll_responses_total",
		Help:      "Poll responses by kind (not_modified, batch, empty).",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		suggestionPersistGauge,
		tasksCounter,
		taskDuration,
		rateLimitSkips,
		validationOutcomes,
		pollResponses,
	)
}

// RecordSuggestionPersisted updates the persistence watermark gauge.
func RecordSuggestionPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	suggestionPersistGauge.Set(float64(ts.Unix()))
}

// RecordTaskFinished tracks one pipeline unit reaching a terminal state.
func RecordTaskFinished(state string, elapsed time.Duration) {
	tasksCounter.WithLabelValues(state).Inc()
	taskDuration.Observe(elapsed.Seconds())
}

// RecordRateLimitSkip counts a lane drop.
func RecordRateLimitSkip(lane string) {
	rateLimitSkips.WithLabelValues(lane).Inc()
}

// RecordValidation counts one candidate verdict.
func RecordValidation(outcome string) {
	validationOutcomes.WithLabelValues(outcome).Inc()
}

// RecordPollResponse counts one poll response by kind.
func RecordPollResponse(kind string) {
	pollResponses.WithLabelValues(kind).Inc()
}
