// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "whittle"

var (
	// SyncRuns counts per-user sync runs by result
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Total number of per-user sync runs",
		},
		[]string{"result"},
	)

	// SyncDuration measures per-user sync duration
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of per-user sync runs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ArticlesIngested counts articles created from mail
	ArticlesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_ingested_total",
			Help:      "Total number of articles created from mail",
		},
	)

	// ArticlesDuplicate counts messages skipped because the article already existed
	ArticlesDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_duplicate_total",
			Help:      "Total number of messages that were already stored",
		},
	)

	// TriageMoves counts placements by target box
	TriageMoves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triage_moves_total",
			Help:      "Total number of article placements",
		},
		[]string{"box"},
	)

	// ArchiveFailures counts failed provider archive calls
	ArchiveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_failures_total",
			Help:      "Total number of failed archive calls",
		},
	)

	// EventsProcessed counts stream events by type and status
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Total number of processed events",
		},
		[]string{"event_type", "status"},
	)
)

// RecordSync records one per-user sync run
func RecordSync(result string, seconds float64) {
	SyncRuns.WithLabelValues(result).Inc()
	SyncDuration.Observe(seconds)
}
