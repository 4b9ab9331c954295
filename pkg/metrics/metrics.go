package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsByState reports how many configured backup sets are currently in
	// each JobState.
	JobsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backupd_jobs_by_state",
			Help: "Number of backup jobs currently in each state",
		},
		[]string{"state"},
	)

	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupd_backups_total",
			Help: "Total number of completed backup runs by set and outcome",
		},
		[]string{"set", "outcome"},
	)

	BackupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backupd_backup_duration_seconds",
			Help:    "Time taken to complete a backup run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"set"},
	)

	BackupAddedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupd_backup_added_bytes_total",
			Help: "Total bytes added to a repository by completed backups",
		},
		[]string{"set"},
	)

	PrunesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupd_prunes_total",
			Help: "Total number of retention prune runs by set and outcome",
		},
		[]string{"set", "outcome"},
	)

	RepositorySizeBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backupd_repository_size_bytes",
			Help: "Last known on-disk size of a backup set's repository",
		},
		[]string{"set"},
	)

	SnapshotsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backupd_snapshots_total",
			Help: "Number of snapshots currently in a set's repository",
		},
		[]string{"set"},
	)

	MountsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backupd_mounts_active",
			Help: "Number of backup sets currently mounted via FUSE",
		},
	)

	WatcherEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupd_watcher_events_total",
			Help: "Total number of filesystem change events attributed to a set",
		},
		[]string{"set"},
	)

	IPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupd_ipc_requests_total",
			Help: "Total number of control-socket requests by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	IPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backupd_ipc_request_duration_seconds",
			Help:    "Control-socket request handling duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "backupd_reconciliation_cycles_total",
			Help: "Total number of configuration reconciliation cycles completed",
		},
	)

	StatusRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backupd_status_refresh_duration_seconds",
			Help:    "Time taken to refresh a backup set's status from the engine",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		JobsByState,
		BackupsTotal,
		BackupDuration,
		BackupAddedBytes,
		PrunesTotal,
		RepositorySizeBytes,
		SnapshotsTotal,
		MountsActive,
		WatcherEventsTotal,
		IPCRequestsTotal,
		IPCRequestDuration,
		ReconciliationCyclesTotal,
		StatusRefreshDuration,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
