// Package engine wraps the external backup engine binary (a restic-like
// CLI speaking init/backup/snapshots/forget/mount) as an opaque child
// process. Nothing here understands the engine's repository format; it
// only shells out and parses the engine's own JSON output.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/backupd/internal/backup"
	"github.com/cuemby/backupd/internal/mount"
	"github.com/cuemby/backupd/internal/paths"
)

// BinaryName is the engine executable looked up on PATH. Overridable in
// tests.
var BinaryName = "restic"

// Adapter shells out to the engine binary for every repository operation.
type Adapter struct{}

// New returns an Adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) passwordFile() string {
	return paths.PasswordPath()
}

// run executes the engine binary with args, returning stdout/stderr. A
// nonzero exit is only an error if the caller doesn't find what it needs
// in stdout afterward (the engine can exit nonzero on warnings that still
// produced a usable summary). Cancelling ctx sends the child SIGTERM and
// kills it if it has not exited within a short grace window.
func (a *Adapter) run(ctx context.Context, args []string) (stdout, stderr string, exitErr error) {
	cmd := exec.CommandContext(ctx, BinaryName, args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 2 * time.Second
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// Init creates a new repository at target.
func (a *Adapter) Init(ctx context.Context, target string) error {
	args := []string{"init", "--repo", target, "--password-file", a.passwordFile()}
	_, stderr, err := a.run(ctx, args)
	if err != nil {
		return fmt.Errorf("engine: init %s: %w: %s", target, err, strings.TrimSpace(stderr))
	}
	return nil
}

type engineSummary struct {
	MessageType    string  `json:"message_type"`
	DataAdded      uint64  `json:"data_added"`
	TotalDuration  float64 `json:"total_duration"`
	SnapshotID     string  `json:"snapshot_id"`
}

// Backup runs a backup for set and returns the parsed result. Engine
// failures are reported as a non-success BackupResult rather than a Go
// error, mirroring the daemon's "record the failure, don't crash" policy.
func (a *Adapter) Backup(ctx context.Context, set *backup.Set) (*backup.BackupResult, error) {
	args := []string{
		"backup", "--repo", set.Target,
		"--password-file", a.passwordFile(),
		"--json",
	}
	for _, ex := range set.Exclude {
		args = append(args, "--exclude", ex)
	}
	args = append(args, set.SourcePaths...)

	stdout, stderr, runErr := a.run(ctx, args)
	if runErr != nil && strings.TrimSpace(stdout) == "" {
		return &backup.BackupResult{
			Timestamp:    time.Now().UTC(),
			Success:      false,
			ErrorMessage: fmt.Sprintf("%v: %s", runErr, strings.TrimSpace(stderr)),
		}, nil
	}

	summary, found := findSummaryLine(stdout)
	if !found {
		msg := "no summary in engine output"
		if runErr != nil {
			msg = fmt.Sprintf("%v: %s", runErr, strings.TrimSpace(stderr))
		}
		return &backup.BackupResult{
			Timestamp:    time.Now().UTC(),
			Success:      false,
			ErrorMessage: msg,
		}, nil
	}

	return &backup.BackupResult{
		SnapshotID:   summary.SnapshotID,
		Timestamp:    time.Now().UTC(),
		AddedBytes:   summary.DataAdded,
		DurationSecs: summary.TotalDuration,
		Success:      true,
	}, nil
}

// findSummaryLine scans engine --json output (one JSON object per line) in
// reverse for the message_type:"summary" line. The engine interleaves
// progress lines with the final summary; reading backward returns the last
// summary line if there is more than one.
func findSummaryLine(stdout string) (engineSummary, bool) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var s engineSummary
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			continue
		}
		if s.MessageType == "summary" {
			return s, true
		}
	}
	return engineSummary{}, false
}

type engineSnapshot struct {
	ID      string    `json:"id"`
	ShortID string    `json:"short_id"`
	Time    time.Time `json:"time"`
	Paths   []string  `json:"paths"`
	Tags    []string  `json:"tags"`
}

// Snapshots lists all snapshots in target's repository, oldest first (the
// engine's own ordering).
func (a *Adapter) Snapshots(ctx context.Context, target string) ([]backup.SnapshotInfo, error) {
	args := []string{"snapshots", "--repo", target, "--password-file", a.passwordFile(), "--json"}
	stdout, stderr, err := a.run(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("engine: snapshots %s: %w: %s", target, err, strings.TrimSpace(stderr))
	}

	var raw []engineSnapshot
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return nil, fmt.Errorf("engine: parse snapshots output: %w", err)
	}

	out := make([]backup.SnapshotInfo, 0, len(raw))
	for _, s := range raw {
		out = append(out, backup.SnapshotInfo{
			ID:        s.ID,
			ShortID:   s.ShortID,
			Timestamp: s.Time,
			Paths:     s.Paths,
			Tags:      s.Tags,
		})
	}
	return out, nil
}

// reclaimedPattern matches a number immediately followed by one of the
// engine's size units, e.g. "12.3 MiB" or "482B". Order matters: longer
// unit names must be tried before the "B" they end with.
var reclaimedPattern = regexp.MustCompile(`(?i)([\d.]+)\s*(TiB|GiB|MiB|KiB|B)\b`)

var unitScale = map[string]float64{
	"B":   1,
	"KIB": 1 << 10,
	"MIB": 1 << 20,
	"GIB": 1 << 30,
	"TIB": 1 << 40,
}

// parseReclaimedBytes scans the engine's textual prune report for a "total
// bytes reclaimed" style figure, scaled from whichever unit it's reported
// in. Reports it can't make sense of yield zero rather than an error: the
// prune itself already succeeded by the time this runs.
func parseReclaimedBytes(report string) uint64 {
	for _, line := range strings.Split(report, "\n") {
		if !strings.Contains(strings.ToLower(line), "reclaim") {
			continue
		}
		m := reclaimedPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		val, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		scale, ok := unitScale[strings.ToUpper(m[2])]
		if !ok {
			continue
		}
		return uint64(val * scale)
	}
	return 0
}

// Prune forgets snapshots outside set's retention policy and reclaims
// their space, returning the bytes the engine reports reclaiming. Callers
// must have already verified the policy has at least one keep_* rule; the
// engine itself would otherwise delete everything.
func (a *Adapter) Prune(ctx context.Context, set *backup.Set) (uint64, error) {
	args := []string{
		"forget", "--repo", set.Target,
		"--password-file", a.passwordFile(),
		"--prune",
	}
	if r := set.Retention; r != nil {
		if r.KeepLast != nil {
			args = append(args, "--keep-last", fmt.Sprint(*r.KeepLast))
		}
		if r.KeepDaily != nil {
			args = append(args, "--keep-daily", fmt.Sprint(*r.KeepDaily))
		}
		if r.KeepWeekly != nil {
			args = append(args, "--keep-weekly", fmt.Sprint(*r.KeepWeekly))
		}
		if r.KeepMonthly != nil {
			args = append(args, "--keep-monthly", fmt.Sprint(*r.KeepMonthly))
		}
	}
	stdout, stderr, err := a.run(ctx, args)
	if err != nil {
		return 0, fmt.Errorf("engine: prune %s: %w: %s", set.Target, err, strings.TrimSpace(stderr))
	}
	return parseReclaimedBytes(stdout), nil
}

// mountStartupWindow is how long Mount waits after starting the engine's
// FUSE process before handing back a live handle. Long enough to catch an
// immediate failure (missing FUSE helper, bad snapshot id, busy
// mountpoint), short enough not to stall the caller for a mount that's
// fine.
const mountStartupWindow = 200 * time.Millisecond

// Mount starts the engine's own FUSE mount process and hands back a handle
// the caller can track the lifetime of. snapshotID may be empty to mount
// the latest snapshot of every path. If the child has already exited
// nonzero by the end of the startup window, Mount reports that as an
// error with the captured stderr instead of returning a dead handle.
func (a *Adapter) Mount(ctx context.Context, target, snapshotID, mountPoint string) (*mount.Handle, error) {
	args := []string{"mount", "--repo", target, "--password-file", a.passwordFile()}
	if snapshotID != "" {
		args = append(args, "--snapshot", snapshotID)
	}
	args = append(args, mountPoint)

	cmd := exec.CommandContext(ctx, BinaryName, args...)
	cmd.Stdout = nil
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("engine: spawn mount: %w", err)
	}

	h := mount.NewHandle(cmd)
	select {
	case <-h.Done():
		return nil, fmt.Errorf("engine: mount exited immediately: %v: %s", h.Err(), strings.TrimSpace(errBuf.String()))
	case <-time.After(mountStartupWindow):
		return h, nil
	}
}

// DirSize walks path and sums file sizes, returning nil if path doesn't
// exist or can't be read rather than erroring the caller's whole status
// refresh.
func DirSize(path string) *uint64 {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	var total uint64
	for _, e := range entries {
		full := path + string(os.PathSeparator) + e.Name()
		if e.IsDir() {
			if sub := DirSize(full); sub != nil {
				total += *sub
			}
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		total += uint64(fi.Size())
	}
	return &total
}
