/*
Package metrics defines and registers backupd's Prometheus metrics and
exposes them over an HTTP /metrics endpoint for scraping.

All metrics are package-level variables registered at init() via
prometheus.MustRegister: job state (backupd_jobs_by_state), per-set backup
and prune outcomes and durations, repository size and snapshot counts,
watcher and IPC activity, and reconciliation cycle counts. Collector
samples job state, active mounts and repository size on a 15-second
ticker. Of the other
series, only backupd_watcher_events_total is updated, by the daemon's
watcher callback; the rest are registered and exported but nothing in
backupd increments or observes them.

	timer := metrics.NewTimer()
	result, err := engine.Backup(ctx, set)
	timer.ObserveDurationVec(metrics.BackupDuration, set.Name)

Package health.go provides a separate, generic component health registry
(RegisterComponent/UpdateComponent) backing the /health, /ready, and /live
HTTP handlers, independent of the Prometheus metrics above.
*/
package metrics
