package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetch_attempts_total",
			Help: "Fetch attempts by fetcher and outcome.",
		},
		[]string{"fetcher", "outcome"}, // outcome: success, blocked, transient, other, error
	)

	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_runs_total",
			Help: "Pipeline runs by terminal state.",
		},
		[]string{"state"},
	)

	RecordsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_records_extracted_total",
			Help: "Product records extracted across runs.",
		},
	)

	ContainersSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_containers_skipped_total",
			Help: "Containers skipped during extraction by reason.",
		},
		[]string{"reason"},
	)

	OutboxEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_outbox_events_total",
			Help: "Outbox events relayed to Redis by result.",
		},
		[]string{"result"}, // result: published, failed
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_run_duration_seconds",
			Help:    "Duration of pipeline runs.",
			Buckets: []float64{1, 5, 10, 15, 30, 60, 120},
		},
	)
)
