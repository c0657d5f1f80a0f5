// Package metrics exposes the Prometheus gauges, counters, and
// histograms a sync run reports, plus the Timer helper used to feed
// them from push/pull/upload call sites.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PullItemDuration times a single PullOne call, by kind.
	PullItemDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dxsync_pull_item_duration_seconds",
			Help:    "Time taken to pull a single artifact, by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// PushItemDuration times a single PushOne call, by kind.
	PushItemDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dxsync_push_item_duration_seconds",
			Help:    "Time taken to push a single artifact, by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// RunDuration times one kind's whole push or pull run within a
	// Coordinator run, by kind and direction.
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dxsync_run_duration_seconds",
			Help:    "Time taken for a full push or pull run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"kind", "direction"},
	)

	// RetryTotal counts retryable item failures requeued by the Bulk
	// Driver, by kind.
	RetryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxsync_retry_total",
			Help: "Total number of retryable item failures requeued",
		},
		[]string{"kind"},
	)

	// BulkQueueDepth reports the number of items still queued or
	// in-flight within a Bulk Driver run, by kind.
	BulkQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dxsync_bulk_queue_depth",
			Help: "Number of items queued or in-flight in the current run",
		},
		[]string{"kind"},
	)

	// ItemsSucceededTotal and ItemsFailedTotal count terminal per-item
	// outcomes across every run, by kind and direction.
	ItemsSucceededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxsync_items_succeeded_total",
			Help: "Total number of artifacts successfully synced",
		},
		[]string{"kind", "direction"},
	)

	ItemsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxsync_items_failed_total",
			Help: "Total number of artifacts that failed to sync",
		},
		[]string{"kind", "direction"},
	)

	// KnownArtifactsTotal tracks the Hash Store's known-path count per
	// kind, sampled periodically by a Collector.
	KnownArtifactsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dxsync_known_artifacts_total",
			Help: "Number of artifacts the Hash Store has a record for, by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(PullItemDuration)
	prometheus.MustRegister(PushItemDuration)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(RetryTotal)
	prometheus.MustRegister(BulkQueueDepth)
	prometheus.MustRegister(ItemsSucceededTotal)
	prometheus.MustRegister(ItemsFailedTotal)
	prometheus.MustRegister(KnownArtifactsTotal)
}

// Handler returns the Prometheus HTTP handler, served by the CLI's
// optional --metrics-addr flag during a long bulk run.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
