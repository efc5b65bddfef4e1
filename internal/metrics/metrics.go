// Package metrics exposes kvsd's Prometheus collectors and the /metrics
// HTTP handler, modeled on the teacher's internal/metrics wiring.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector kvsd's components publish into.
type Metrics struct {
	SessionsActive         prometheus.Gauge
	SessionsAccepted       prometheus.Counter
	SessionsRejected       prometheus.Counter
	RingBufferOccupancy    prometheus.Gauge
	SnapshotChildrenActive prometheus.Gauge
	SnapshotsCompleted     prometheus.Counter
	SnapshotsFailed        prometheus.Counter
	NotificationsSent      prometheus.Counter
	NotificationsDropped   prometheus.Counter
	JobFilesProcessed      prometheus.Counter
	BucketLockWait         prometheus.Histogram
	SIGUSR1Resets          prometheus.Counter
}

// New registers and returns kvsd's collector set.
func New() *Metrics {
	return &Metrics{
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsd_sessions_active",
			Help: "Number of currently accepted client sessions.",
		}),
		SessionsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_sessions_accepted_total",
			Help: "Total number of connection records admitted into the ring buffer.",
		}),
		SessionsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_sessions_rejected_total",
			Help: "Total number of connection frames rejected as malformed or unreadable.",
		}),
		RingBufferOccupancy: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsd_ring_buffer_occupancy",
			Help: "Current number of pending connection records in the admission ring buffer.",
		}),
		SnapshotChildrenActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsd_snapshot_children_active",
			Help: "Number of currently running snapshot goroutines.",
		}),
		SnapshotsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_snapshots_completed_total",
			Help: "Total number of snapshots written successfully.",
		}),
		SnapshotsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_snapshots_failed_total",
			Help: "Total number of snapshots that failed.",
		}),
		NotificationsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_notifications_sent_total",
			Help: "Total number of notification frames written to subscribers.",
		}),
		NotificationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_notifications_dropped_total",
			Help: "Total number of notifications dropped due to a failed subscriber sink.",
		}),
		JobFilesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_job_files_processed_total",
			Help: "Total number of job files fully processed by the job runner pool.",
		}),
		BucketLockWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvsd_bucket_lock_wait_seconds",
			Help:    "Time spent waiting to acquire bucket locks for a batch.",
			Buckets: prometheus.DefBuckets,
		}),
		SIGUSR1Resets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_sigusr1_resets_total",
			Help: "Total number of SIGUSR1-triggered global session resets.",
		}),
	}
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
