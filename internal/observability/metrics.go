// Package observability registers the prometheus metrics exposed on /metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncRunsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grouptracker",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Number of per-athlete sync attempts.",
	})
	syncErrorsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grouptracker",
		Subsystem: "sync",
		Name:      "errors_total",
		Help:      "Number of per-athlete sync attempts that failed.",
	})
	upsertedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grouptracker",
		Subsystem: "sync",
		Name:      "activities_upserted_total",
		Help:      "Number of activities written or refreshed by sync.",
	})
	skippedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grouptracker",
		Subsystem: "sync",
		Name:      "activities_skipped_total",
		Help:      "Number of fetched activities dropped by the type filter.",
	})
	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "grouptracker",
		Subsystem: "sync",
		Name:      "last_sync_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful athlete sync.",
	})
)

func init() {
	prometheus.MustRegister(syncRunsCounter, syncErrorsCounter, upsertedCounter, skippedCounter, lastSyncGauge)
}

func RecordSyncRun() {
	syncRunsCounter.Inc()
}

func RecordSyncError() {
	syncErrorsCounter.Inc()
}

func RecordActivitiesUpserted(n int) {
	if n > 0 {
		upsertedCounter.Add(float64(n))
	}
}

func RecordActivitiesSkipped(n int) {
	if n > 0 {
		skippedCounter.Add(float64(n))
	}
}

func RecordSyncCompleted(ts time.Time) {
	if !ts.IsZero() {
		lastSyncGauge.Set(float64(ts.Unix()))
	}
}
