// Package metrics exposes Prometheus instrumentation for the ingestion pipeline.
//
// Metrics are served at /metrics:
//   - weather_ingest_fetches_total{mode,outcome}
//   - weather_ingest_fetch_duration_seconds{mode}
//   - weather_ingest_rows_returned_total{mode}
//   - weather_ingest_rows_inserted_total{mode}
//   - weather_ingest_rows_purged_total
//   - weather_ingest_provider_breaker_state{name} (0=closed, 1=half-open, 2=open)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "weather_ingest"

// Outcome labels for FetchesTotal.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Provider fetch operations by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "End-to-end fetch, normalize and upsert duration",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	RowsReturned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_returned_total",
			Help:      "Normalized rows returned by the provider",
		},
		[]string{"mode"},
	)

	RowsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_inserted_total",
			Help:      "Rows persisted by the upsert engine",
		},
		[]string{"mode"},
	)

	RowsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_purged_total",
			Help:      "Raw observations removed by purge operations",
		},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_breaker_state",
			Help:      "Provider circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordFetch records the outcome of one fetch operation.
func RecordFetch(mode string, err error, d time.Duration, returned, inserted int) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	FetchesTotal.WithLabelValues(mode, outcome).Inc()
	FetchDuration.WithLabelValues(mode).Observe(d.Seconds())
	if err != nil {
		return
	}
	RowsReturned.WithLabelValues(mode).Add(float64(returned))
	RowsInserted.WithLabelValues(mode).Add(float64(inserted))
}
