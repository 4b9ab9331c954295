package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/backupd/internal/backup"
	"github.com/cuemby/backupd/internal/config"
	"github.com/cuemby/backupd/internal/mount"
	"github.com/cuemby/backupd/pkg/events"
)

type nopEngine struct{}

func (nopEngine) Init(ctx context.Context, target string) error { return nil }

func (nopEngine) Backup(ctx context.Context, set *backup.Set) (*backup.BackupResult, error) {
	return &backup.BackupResult{Success: true, AddedBytes: 1024, Timestamp: time.Now().UTC()}, nil
}

func (nopEngine) Snapshots(ctx context.Context, target string) ([]backup.SnapshotInfo, error) {
	return nil, nil
}

func (nopEngine) Prune(ctx context.Context, set *backup.Set) (uint64, error) { return 0, nil }

func (nopEngine) Mount(ctx context.Context, target, snapshotID, mountPoint string) (*mount.Handle, error) {
	return nil, nil
}

func TestCollectorSamplesJobState(t *testing.T) {
	dir := t.TempDir()
	cache, err := backup.OpenCache(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	defer cache.Close()

	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))

	cfg := &config.Config{
		Global: config.GlobalConfig{DebounceSeconds: 60},
		BackupSets: []config.BackupSet{
			{Name: "photos", Source: &src, Target: "t:photos"},
		},
	}

	mgr := backup.NewManager(cfg, nopEngine{}, cache, events.NewBroker(), zerolog.Nop())

	c := NewCollector(mgr)
	c.collect()

	require.Equal(t, float64(1), testutil.ToFloat64(JobsByState.WithLabelValues("idle")))
}
