package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/backupd/internal/backup"
	"github.com/cuemby/backupd/internal/config"
	"github.com/cuemby/backupd/internal/mount"
)

type nopEngine struct{}

func (nopEngine) Init(ctx context.Context, target string) error { return nil }
func (nopEngine) Backup(ctx context.Context, set *backup.Set) (*backup.BackupResult, error) {
	return &backup.BackupResult{Success: true}, nil
}
func (nopEngine) Snapshots(ctx context.Context, target string) ([]backup.SnapshotInfo, error) {
	return nil, nil
}
func (nopEngine) Prune(ctx context.Context, set *backup.Set) (uint64, error) { return 0, nil }
func (nopEngine) Mount(ctx context.Context, target, snapshotID, mountPoint string) (*mount.Handle, error) {
	return nil, nil
}

func writeConfigFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestReloadPicksUpNewSet(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	writeConfigFile(t, cfgPath, `
[[backup_set]]
name = "photos"
source = "`+dir+`"
target = "t:photos"
`)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	mgr := backup.NewManager(cfg, nopEngine{}, nil, nil, zerolog.Nop())

	r := New(cfgPath, mgr, zerolog.Nop())

	writeConfigFile(t, cfgPath, `
[[backup_set]]
name = "photos"
source = "`+dir+`"
target = "t:photos"

[[backup_set]]
name = "docs"
source = "`+dir+`"
target = "t:docs"
`)

	require.NoError(t, r.Reload(context.Background()))

	statuses := mgr.GetStatus()
	names := map[string]bool{}
	for _, s := range statuses {
		names[s.Name] = true
	}
	assert.True(t, names["docs"])
	assert.True(t, names["photos"])
}

func TestStartStopDoesNotPanic(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	writeConfigFile(t, cfgPath, `
[[backup_set]]
name = "photos"
source = "`+dir+`"
target = "t:photos"
`)
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	mgr := backup.NewManager(cfg, nopEngine{}, nil, nil, zerolog.Nop())

	r := New(cfgPath, mgr, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
}
