package backup

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/backupd/internal/config"
	"github.com/cuemby/backupd/internal/mount"
	"github.com/cuemby/backupd/internal/paths"
	"github.com/cuemby/backupd/pkg/events"
)

// Engine is the subset of engine.Adapter the manager needs. Accepting it
// as an interface keeps this package free of any dependency on how the
// backup engine's commands are actually shelled out.
type Engine interface {
	Init(ctx context.Context, target string) error
	Backup(ctx context.Context, set *Set) (*BackupResult, error)
	Snapshots(ctx context.Context, target string) ([]SnapshotInfo, error)
	Prune(ctx context.Context, set *Set) (uint64, error)
	Mount(ctx context.Context, target, snapshotID, mountPoint string) (*mount.Handle, error)
}

// pollInterval is how often a debouncing job worker rechecks the timer.
const pollInterval = 500 * time.Millisecond

type job struct {
	set              *Set
	state            JobState
	lastChange       time.Time
	hasChange        bool
	lastBackup       *BackupResult
	isMounted        bool
	mountProcess     *mount.Handle
	immediateTrigger bool
	workerActive     bool
	snapshotCount    *int
	totalBytes       *uint64
}

// Manager owns every backup set's job state machine: debounce timers,
// engine invocations, mount lifecycle, and the cross-set target
// coordination that keeps two sets sharing a repository in sync.
type Manager struct {
	mu     sync.Mutex
	jobs   map[string]*job
	engine Engine
	cache  *Cache
	broker *events.Broker
	log    zerolog.Logger

	globalRetention atomic.Pointer[config.RetentionPolicy]
	globalDebounce  atomic.Uint64

	wg sync.WaitGroup
}

// NewManager builds a Manager for the given configuration. Jobs start
// Idle; call InitializeStatus to populate LastBackup/snapshot counts from
// the engine before serving status queries.
func NewManager(cfg *config.Config, eng Engine, cache *Cache, broker *events.Broker, log zerolog.Logger) *Manager {
	m := &Manager{
		jobs:   make(map[string]*job, len(cfg.BackupSets)),
		engine: eng,
		cache:  cache,
		broker: broker,
		log:    log.With().Str("component", "backup-manager").Logger(),
	}
	m.globalDebounce.Store(cfg.Global.DebounceSeconds)
	if cfg.Global.Retention != nil {
		m.globalRetention.Store(cfg.Global.Retention)
	}
	for i := range cfg.BackupSets {
		set := NewSet(&cfg.BackupSets[i], &cfg.Global)
		m.jobs[set.Name] = &job{set: set, state: IdleState()}
	}
	return m
}

// InitializeStatus seeds each set's last backup from the status cache, then
// queries the engine for every set's latest snapshot and repository size.
// Call once at daemon startup.
func (m *Manager) InitializeStatus(ctx context.Context) {
	names := m.jobNames()
	if m.cache != nil {
		cached := make(map[string]*BackupResult, len(names))
		for _, name := range names {
			if st, ok := m.cache.Get(name); ok && st.LastBackup != nil {
				cached[name] = st.LastBackup
			}
		}
		m.mu.Lock()
		for name, last := range cached {
			if j, ok := m.jobs[name]; ok && j.lastBackup == nil {
				j.lastBackup = last
			}
		}
		m.mu.Unlock()
	}
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			m.refreshSetStatus(ctx, name)
		}(name)
	}
	wg.Wait()
}

func (m *Manager) jobNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.jobs))
	for name := range m.jobs {
		names = append(names, name)
	}
	return names
}

// refreshSetStatus queries the engine outside the lock and applies results
// under it, so a slow engine call never blocks file-change handling for
// other sets.
func (m *Manager) refreshSetStatus(ctx context.Context, name string) {
	m.mu.Lock()
	j, ok := m.jobs[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	target := j.set.Target
	m.mu.Unlock()

	snapshots, snapErr := m.engine.Snapshots(ctx, target)
	size := dirSize(target)
	isMounted := mount.IsMountPoint(paths.MountPath(name))

	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok = m.jobs[name]
	if !ok {
		return
	}

	if snapErr == nil {
		count := len(snapshots)
		j.snapshotCount = &count
		if count > 0 {
			latest := snapshots[count-1]
			result := BackupResult{
				SnapshotID: latest.ShortID,
				Timestamp:  latest.Timestamp,
				Success:    true,
			}
			if j.lastBackup != nil && j.lastBackup.SnapshotID == latest.ShortID {
				result.AddedBytes = j.lastBackup.AddedBytes
				result.DurationSecs = j.lastBackup.DurationSecs
			}
			j.lastBackup = &result
		} else {
			j.lastBackup = nil
		}
	} else {
		m.log.Warn().Err(snapErr).Str("set", name).Msg("failed to query snapshots")
	}
	j.totalBytes = size

	if isMounted {
		j.isMounted = true
	} else if j.isMounted && j.mountProcess == nil {
		j.isMounted = false
	}

	if m.cache != nil {
		status := m.statusLocked(name, j)
		if err := m.cache.Put(status); err != nil {
			m.log.Warn().Err(err).Str("set", name).Msg("failed to persist status cache")
		}
	}
}

func dirSize(path string) *uint64 {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return dirSizeWalk(path)
}

func dirSizeWalk(path string) *uint64 {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	var total uint64
	for _, e := range entries {
		full := path + string(os.PathSeparator) + e.Name()
		if e.IsDir() {
			if sub := dirSizeWalk(full); sub != nil {
				total += *sub
			}
			continue
		}
		if info, err := e.Info(); err == nil {
			total += uint64(info.Size())
		}
	}
	return &total
}

// SyncConfig reconciles live jobs against a freshly loaded configuration:
// removed sets are unmounted and dropped, changed or new sets are
// (re)registered, and every set is queued for a background status
// refresh so manual repository changes made outside the daemon are picked
// up.
func (m *Manager) SyncConfig(ctx context.Context, cfg *config.Config) {
	newNames := make(map[string]bool, len(cfg.BackupSets))
	for i := range cfg.BackupSets {
		newNames[cfg.BackupSets[i].Name] = true
	}

	var toRefresh []string

	m.mu.Lock()
	for name, j := range m.jobs {
		if newNames[name] {
			continue
		}
		m.log.Info().Str("set", name).Msg("backup set removed from config")
		if j.isMounted {
			if err := mount.Unmount(ctx, paths.MountPath(name), j.mountProcess); err != nil {
				m.log.Error().Err(err).Str("set", name).Msg("failed to unmount removed set")
			}
		}
		delete(m.jobs, name)
		if m.cache != nil {
			_ = m.cache.Delete(name)
		}
	}

	for i := range cfg.BackupSets {
		set := NewSet(&cfg.BackupSets[i], &cfg.Global)
		if j, ok := m.jobs[set.Name]; ok {
			if j.set.Target != set.Target {
				m.log.Debug().Str("set", set.Name).Str("old_target", j.set.Target).
					Str("new_target", set.Target).Msg("target changed, resetting status")
				j.lastBackup = nil
				j.snapshotCount = nil
				j.totalBytes = nil
			}
			j.set = set
		} else {
			m.log.Info().Str("set", set.Name).Msg("new backup set added to config")
			m.jobs[set.Name] = &job{set: set, state: IdleState()}
		}
		toRefresh = append(toRefresh, set.Name)
	}

	m.globalDebounce.Store(cfg.Global.DebounceSeconds)
	if cfg.Global.Retention != nil {
		m.globalRetention.Store(cfg.Global.Retention)
	} else {
		m.globalRetention.Store(nil)
	}
	m.mu.Unlock()

	for _, name := range toRefresh {
		name := name
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.refreshSetStatus(ctx, name)
		}()
	}

	if m.broker != nil {
		m.broker.Publish(&events.Event{Type: events.EventConfigReloaded})
	}
}

// refreshRelatedSets re-queries every other set sharing target, since a
// backup or prune against a shared repository changes what they'd report
// too.
func (m *Manager) refreshRelatedSets(ctx context.Context, target, exclude string) {
	m.mu.Lock()
	var related []string
	for name, j := range m.jobs {
		if name != exclude && j.set.Target == target {
			related = append(related, name)
		}
	}
	m.mu.Unlock()

	for _, name := range related {
		name := name
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.refreshSetStatus(ctx, name)
		}()
	}
}

// HandleFileChange records a filesystem change for set and ensures a job
// worker is running to debounce it. Resets rather than queues: repeated
// calls while already debouncing just push the deadline out.
func (m *Manager) HandleFileChange(ctx context.Context, setName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[setName]
	if !ok {
		return fmt.Errorf("backup: unknown backup set %q", setName)
	}

	j.lastChange = time.Now()
	j.hasChange = true

	switch j.state.Kind {
	case JobStateIdle, JobStateError:
		debounce := m.debounceFor(j)
		j.state = DebouncingState(debounce)
		m.ensureWorker(ctx, setName, j)
	case JobStateDebouncing:
		// last_change already recorded above; the worker's poll loop
		// will notice it moved and restart its wait.
	case JobStateRunning:
		// picked up when the running backup finishes.
	}
	return nil
}

// TriggerBackup forces an immediate backup for setName, skipping any
// remaining debounce wait. Returns an error if a backup is already
// running.
func (m *Manager) TriggerBackup(ctx context.Context, setName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[setName]
	if !ok {
		return fmt.Errorf("backup: unknown backup set %q", setName)
	}

	switch j.state.Kind {
	case JobStateRunning:
		return fmt.Errorf("backup: set %q is already running", setName)
	case JobStateDebouncing:
		j.immediateTrigger = true
	case JobStateIdle, JobStateError:
		j.state = RunningState()
		m.ensureWorker(ctx, setName, j)
	}
	return nil
}

func (m *Manager) debounceFor(j *job) time.Duration {
	secs := m.globalDebounce.Load()
	if j.set.DebounceSeconds != 0 {
		secs = j.set.DebounceSeconds
	}
	return time.Duration(secs) * time.Second
}

// ensureWorker must be called with m.mu held. It starts the job's worker
// goroutine if one isn't already running; worker_active prevents two
// workers racing on the same set.
func (m *Manager) ensureWorker(ctx context.Context, setName string, j *job) {
	if j.workerActive {
		return
	}
	j.workerActive = true
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.jobWorker(ctx, setName)
	}()
}

// jobWorker drives one backup set through debounce -> running -> idle (or
// error), looping back to debounce if new changes arrived during the
// backup it just ran.
func (m *Manager) jobWorker(ctx context.Context, setName string) {
	defer func() {
		m.mu.Lock()
		if j, ok := m.jobs[setName]; ok {
			j.workerActive = false
			// A file change or trigger that arrived while this worker was
			// finishing found workerActive still set; start its worker now.
			if ctx.Err() == nil && (j.state.Kind == JobStateDebouncing || j.state.Kind == JobStateRunning) {
				m.ensureWorker(ctx, setName, j)
			}
		}
		m.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		if !m.waitOutDebounce(ctx, setName) {
			return
		}

		backupSet, ok := m.snapshotSetForRun(setName)
		if !ok {
			return
		}

		start := time.Now()
		result, err := m.engine.Backup(ctx, backupSet)
		if err != nil {
			m.log.Error().Err(err).Str("set", setName).Msg("backup job error")
			m.mu.Lock()
			if j, ok := m.jobs[setName]; ok {
				j.state = ErrorState()
			}
			m.mu.Unlock()
			m.publish(events.EventBackupFailed, setName, map[string]string{"error": err.Error()})
			return
		}

		m.log.Info().Str("set", setName).Bool("success", result.Success).
			Dur("elapsed", time.Since(start)).Msg("backup finished")

		again, target := m.applyBackupResult(setName, start, result)
		if !result.Success {
			m.publish(events.EventBackupFailed, setName, map[string]string{"error": result.ErrorMessage})
			return
		}

		m.publish(events.EventBackupComplete, setName, map[string]string{
			"snapshot_id": result.SnapshotID,
		})

		if m.hasRetentionConfigured(setName) {
			if _, perr := m.Prune(ctx, setName); perr != nil {
				m.log.Warn().Err(perr).Str("set", setName).Msg("automatic post-backup prune failed")
			}
		} else if target != "" {
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.refreshSetStatus(ctx, setName)
				m.refreshRelatedSets(ctx, target, setName)
			}()
		}
		if again {
			continue
		}
		return
	}
}

// hasRetentionConfigured reports whether setName's effective retention
// policy (its own, falling back to the global one) has at least one
// keep_* rule, i.e. whether an automatic post-backup prune should run.
func (m *Manager) hasRetentionConfigured(setName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[setName]
	if !ok {
		return false
	}
	return m.effectiveRetentionLocked(j).HasKeepRule()
}

// effectiveRetentionLocked must be called with m.mu held.
func (m *Manager) effectiveRetentionLocked(j *job) *config.RetentionPolicy {
	if j.set.Retention != nil {
		return j.set.Retention
	}
	return m.globalRetention.Load()
}

// waitOutDebounce polls until the job's debounce timer has genuinely
// elapsed, restarting its own deadline whenever it observes last_change
// move forward, or returns immediately for an immediate-trigger job. It
// reports false if the job disappeared or the daemon is shutting down.
func (m *Manager) waitOutDebounce(ctx context.Context, setName string) bool {
	m.mu.Lock()
	j, ok := m.jobs[setName]
	if !ok {
		m.mu.Unlock()
		return false
	}
	var duration time.Duration
	var start time.Time
	if j.state.Kind == JobStateRunning {
		j.immediateTrigger = false
		m.mu.Unlock()
		return true
	}
	duration = m.debounceFor(j)
	start = j.lastChange
	if start.IsZero() {
		start = time.Now()
	}
	m.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}

		m.mu.Lock()
		j, ok = m.jobs[setName]
		if !ok {
			m.mu.Unlock()
			return false
		}
		if j.state.Kind == JobStateRunning {
			m.mu.Unlock()
			return true
		}
		if j.immediateTrigger {
			j.immediateTrigger = false
			j.state = RunningState()
			m.mu.Unlock()
			return true
		}
		if j.hasChange && j.lastChange.After(start) {
			start = j.lastChange
		}
		elapsed := time.Since(start)
		if elapsed >= duration {
			j.state = RunningState()
			m.mu.Unlock()
			return true
		}
		j.state = DebouncingState(duration - elapsed)
		m.mu.Unlock()
	}
}

// snapshotSetForRun copies the set config to run against, releasing the
// lock before the (potentially slow) engine call.
func (m *Manager) snapshotSetForRun(setName string) (*Set, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[setName]
	if !ok {
		return nil, false
	}
	cp := *j.set
	return &cp, true
}

// applyBackupResult records result and decides whether the worker should
// loop back into another debounce cycle because a change arrived mid-run.
// Returns the set's target when the job is settling to Idle, for the
// related-set refresh.
func (m *Manager) applyBackupResult(setName string, runStart time.Time, result *BackupResult) (reDebounce bool, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[setName]
	if !ok {
		return false, ""
	}
	j.lastBackup = result

	if !result.Success {
		j.state = ErrorState()
		return false, ""
	}

	if j.hasChange && j.lastChange.After(runStart) {
		j.state = DebouncingState(m.debounceFor(j))
		return true, ""
	}

	j.state = IdleState()
	return false, j.set.Target
}

func (m *Manager) publish(t events.EventType, setName string, meta map[string]string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{Type: t, SetName: setName, Metadata: meta})
}

// GetStatus returns the status of every configured backup set.
func (m *Manager) GetStatus() []SetStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SetStatus, 0, len(m.jobs))
	for name, j := range m.jobs {
		m.reapDeadMountLocked(name, j)
		out = append(out, m.statusLocked(name, j))
	}
	return out
}

// StatusOf returns the status of a single set.
func (m *Manager) StatusOf(name string) (SetStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[name]
	if !ok {
		return SetStatus{}, fmt.Errorf("backup: unknown backup set %q", name)
	}
	m.reapDeadMountLocked(name, j)
	return m.statusLocked(name, j), nil
}

// reapDeadMountLocked performs a non-blocking try_wait on name's mount
// child, if it has one, and reconciles is_mounted against the kernel mount
// table when the child turns out to have exited without anyone noticing.
func (m *Manager) reapDeadMountLocked(name string, j *job) {
	if !j.isMounted || j.mountProcess == nil {
		return
	}
	if !j.mountProcess.Alive() {
		m.log.Warn().Err(j.mountProcess.Err()).Str("set", name).Msg("mount process exited unexpectedly")
		j.mountProcess = nil
		j.isMounted = mount.IsMountPoint(paths.MountPath(name))
	}
}

func (m *Manager) statusLocked(name string, j *job) SetStatus {
	return SetStatus{
		Name:        name,
		State:       j.state,
		LastBackup:  j.lastBackup,
		SourcePaths: j.set.SourcePaths,
		Target:      j.set.Target,
		IsMounted:   j.isMounted,
	}
}

// Snapshots lists snapshots for a set directly from the engine.
func (m *Manager) Snapshots(ctx context.Context, setName string) ([]SnapshotInfo, error) {
	m.mu.Lock()
	j, ok := m.jobs[setName]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("backup: unknown backup set %q", setName)
	}
	target := j.set.Target
	m.mu.Unlock()

	return m.engine.Snapshots(ctx, target)
}

// Mount starts (or reuses) a FUSE mount of setName's repository.
func (m *Manager) Mount(ctx context.Context, setName, snapshotID string) (string, error) {
	m.mu.Lock()
	j, ok := m.jobs[setName]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("backup: unknown backup set %q", setName)
	}
	if j.isMounted {
		mp := paths.MountPath(setName)
		m.mu.Unlock()
		return mp, nil
	}
	target := j.set.Target
	m.mu.Unlock()

	mountPoint := paths.MountPath(setName)
	if err := os.MkdirAll(mountPoint, 0o700); err != nil {
		return "", fmt.Errorf("backup: create mount dir: %w", err)
	}
	if err := os.Chmod(mountPoint, 0o700); err != nil {
		return "", fmt.Errorf("backup: set mount dir permissions: %w", err)
	}

	h, err := m.engine.Mount(ctx, target, snapshotID, mountPoint)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	j, ok = m.jobs[setName]
	if ok {
		j.mountProcess = h
		j.isMounted = true
	}
	m.mu.Unlock()

	m.publish(events.EventSetMounted, setName, nil)
	return mountPoint, nil
}

// Unmount tears down a single set's mount, or every mounted set when
// setName is empty.
func (m *Manager) Unmount(ctx context.Context, setName string) error {
	names := []string{setName}
	if setName == "" {
		m.mu.Lock()
		names = names[:0]
		for n := range m.jobs {
			names = append(names, n)
		}
		m.mu.Unlock()
	}

	var firstErr error
	for _, name := range names {
		if err := m.unmountOne(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) unmountOne(ctx context.Context, name string) error {
	m.mu.Lock()
	j, ok := m.jobs[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("backup: unknown backup set %q", name)
	}
	if !j.isMounted {
		m.mu.Unlock()
		return nil
	}
	if j.state.Kind == JobStateRunning {
		m.log.Warn().Str("set", name).Msg("unmounting while backup is running")
	}
	proc := j.mountProcess
	m.mu.Unlock()

	if err := mount.Unmount(ctx, paths.MountPath(name), proc); err != nil {
		return fmt.Errorf("backup: unmount %s: %w", name, err)
	}

	m.mu.Lock()
	if j, ok := m.jobs[name]; ok {
		j.isMounted = false
		j.mountProcess = nil
	}
	m.mu.Unlock()

	m.publish(events.EventSetUnmounted, name, nil)
	return nil
}

// Prune forgets and removes snapshots outside a set's retention policy,
// returning the bytes the engine reclaimed. Refuses to run when the set
// has no keep_* rule configured at all, since the engine would otherwise
// forget every snapshot.
func (m *Manager) Prune(ctx context.Context, setName string) (uint64, error) {
	m.mu.Lock()
	j, ok := m.jobs[setName]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("backup: unknown backup set %q", setName)
	}
	retention := m.effectiveRetentionLocked(j)
	if !retention.HasKeepRule() {
		m.mu.Unlock()
		return 0, fmt.Errorf("backup: set %q has no retention policy configured, refusing to prune", setName)
	}
	cp := *j.set
	cp.Retention = retention
	target := j.set.Target
	m.mu.Unlock()

	reclaimed, err := m.engine.Prune(ctx, &cp)
	if err != nil {
		return 0, err
	}

	m.publish(events.EventPruneComplete, setName, map[string]string{
		"reclaimed_bytes": strconv.FormatUint(reclaimed, 10),
	})
	m.refreshRelatedSets(ctx, target, setName)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.refreshSetStatus(ctx, setName)
	}()
	return reclaimed, nil
}

// Wait blocks until every background goroutine spawned by the manager
// (job workers, status refreshes) has returned. Intended for graceful
// shutdown after the daemon's context has been cancelled.
func (m *Manager) Wait() {
	m.wg.Wait()
}
