// Package backup implements the core job state machine: one BackupSet maps
// to one Job, whose JobState walks Idle -> Debouncing -> Running -> Idle (or
// Error) in response to filesystem events and engine completions.
package backup

import (
	"time"

	"github.com/cuemby/backupd/internal/config"
)

// JobStateKind is the small enum driving a Job's state machine, following
// the string-enum idiom used for node/container status elsewhere in this
// codebase rather than a tagged union.
type JobStateKind string

const (
	JobStateIdle       JobStateKind = "idle"
	JobStateDebouncing JobStateKind = "debouncing"
	JobStateRunning    JobStateKind = "running"
	JobStateError      JobStateKind = "error"
)

// JobState is the current state of a backup set's job, with
// RemainingSeconds populated only while Kind is JobStateDebouncing.
type JobState struct {
	Kind             JobStateKind `json:"type"`
	RemainingSeconds uint64       `json:"remaining_secs,omitempty"`
}

// IdleState, DebouncingState, RunningState, and ErrorState are convenience
// constructors matching how callers build a JobState value.
func IdleState() JobState   { return JobState{Kind: JobStateIdle} }
func RunningState() JobState { return JobState{Kind: JobStateRunning} }
func ErrorState() JobState   { return JobState{Kind: JobStateError} }

func DebouncingState(remaining time.Duration) JobState {
	secs := int64(remaining / time.Second)
	if secs < 0 {
		secs = 0
	}
	return JobState{Kind: JobStateDebouncing, RemainingSeconds: uint64(secs)}
}

// BackupResult records the outcome of a single completed or failed backup
// operation.
type BackupResult struct {
	SnapshotID   string    `json:"snapshot_id"`
	Timestamp    time.Time `json:"timestamp"`
	AddedBytes   uint64    `json:"added_bytes"`
	DurationSecs float64   `json:"duration_secs"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// SnapshotInfo mirrors one entry of the engine's `snapshots --json` output.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	ShortID   string    `json:"short_id"`
	Timestamp time.Time `json:"timestamp"`
	Paths     []string  `json:"paths"`
	Tags      []string  `json:"tags,omitempty"`
}

// SetStatus is the externally visible summary of a backup set returned over
// the control socket.
type SetStatus struct {
	Name        string        `json:"name"`
	State       JobState      `json:"state"`
	LastBackup  *BackupResult `json:"last_backup,omitempty"`
	SourcePaths []string      `json:"source_paths"`
	Target      string        `json:"target"`
	IsMounted   bool          `json:"is_mounted"`
}

// Set is a backup set resolved from configuration: absolute, ~-expanded
// paths and the debounce/retention values actually in effect for it.
type Set struct {
	Name            string
	SourcePaths     []string
	Target          string
	Exclude         []string
	DebounceSeconds uint64
	Retention       *config.RetentionPolicy
}

// NewSet resolves a config.BackupSet against the given global defaults.
func NewSet(cs *config.BackupSet, global *config.GlobalConfig) *Set {
	debounce := global.DebounceSeconds
	if cs.DebounceSeconds != nil {
		debounce = *cs.DebounceSeconds
	}
	return &Set{
		Name:            cs.Name,
		SourcePaths:     cs.ResolvedSources(),
		Target:          cs.Target,
		Exclude:         cs.Exclude,
		DebounceSeconds: debounce,
		Retention:       config.EffectiveRetention(cs, global.Retention),
	}
}
