package engine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/backupd/internal/backup"
	"github.com/cuemby/backupd/internal/config"
)

// fakeBinary writes an executable shell script standing in for the engine
// binary and points BinaryName at it for the duration of the test.
func fakeBinary(t *testing.T, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine binary requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-engine")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))

	prev := BinaryName
	BinaryName = path
	t.Cleanup(func() { BinaryName = prev })
}

func TestFindSummaryLine(t *testing.T) {
	out := `{"message_type":"status","percent_done":0.5}
{"message_type":"summary","data_added":1024,"total_duration":3.5,"snapshot_id":"abc123"}`
	s, ok := findSummaryLine(out)
	require.True(t, ok)
	assert.Equal(t, "abc123", s.SnapshotID)
	assert.Equal(t, uint64(1024), s.DataAdded)
}

func TestFindSummaryLineMissing(t *testing.T) {
	_, ok := findSummaryLine(`{"message_type":"status"}`)
	assert.False(t, ok)
}

func TestBackupParsesSummary(t *testing.T) {
	fakeBinary(t, `echo '{"message_type":"summary","data_added":42,"total_duration":1.2,"snapshot_id":"deadbeef"}'
exit 0`)

	a := New()
	set := &backup.Set{Name: "photos", Target: "/tmp/repo", SourcePaths: []string{"/tmp/src"}}
	result, err := a.Backup(context.Background(), set)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "deadbeef", result.SnapshotID)
	assert.Equal(t, uint64(42), result.AddedBytes)
}

func TestBackupHandlesEngineFailure(t *testing.T) {
	fakeBinary(t, `echo "boom" 1>&2
exit 1`)

	a := New()
	set := &backup.Set{Name: "photos", Target: "/tmp/repo", SourcePaths: []string{"/tmp/src"}}
	result, err := a.Backup(context.Background(), set)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "boom")
}

func TestInitPropagatesError(t *testing.T) {
	fakeBinary(t, `echo "already initialized" 1>&2
exit 1`)

	a := New()
	err := a.Init(context.Background(), "/tmp/repo")
	assert.ErrorContains(t, err, "already initialized")
}

func TestSnapshotsParsesList(t *testing.T) {
	fakeBinary(t, `echo '[{"id":"aaaa1111","short_id":"aaaa111","time":"2024-01-01T00:00:00Z","paths":["/tmp/src"],"tags":["nightly"]}]'`)

	a := New()
	snaps, err := a.Snapshots(context.Background(), "/tmp/repo")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "aaaa111", snaps[0].ShortID)
	assert.Equal(t, []string{"nightly"}, snaps[0].Tags)
}

func TestPruneParsesReclaimedBytes(t *testing.T) {
	fakeBinary(t, `echo "repository contains 3 packs"
echo "total reclaimed: 12.5 MiB"
exit 0`)

	a := New()
	last := 2
	set := &backup.Set{Name: "photos", Target: "/tmp/repo", Retention: &config.RetentionPolicy{KeepLast: &last}}
	reclaimed, err := a.Prune(context.Background(), set)
	require.NoError(t, err)
	assert.Equal(t, uint64(12.5*1024*1024), reclaimed)
}

func TestPruneUnparseableReportYieldsZero(t *testing.T) {
	fakeBinary(t, `echo "no snapshots were removed"
exit 0`)

	a := New()
	set := &backup.Set{Name: "photos", Target: "/tmp/repo"}
	reclaimed, err := a.Prune(context.Background(), set)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), reclaimed)
}

func TestParseReclaimedBytesUnits(t *testing.T) {
	assert.Equal(t, uint64(5), parseReclaimedBytes("reclaimed 5B"))
	assert.Equal(t, uint64(2*1024), parseReclaimedBytes("reclaimed 2 KiB"))
	assert.Equal(t, uint64(1024*1024*1024), parseReclaimedBytes("total bytes reclaimed: 1 GiB"))
	assert.Equal(t, uint64(0), parseReclaimedBytes("nothing useful here"))
}

func TestMountFastFailsOnImmediateExit(t *testing.T) {
	fakeBinary(t, `echo "fusermount3: failed to access mountpoint" 1>&2
exit 1`)

	a := New()
	_, err := a.Mount(context.Background(), "/tmp/repo", "", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to access mountpoint")
}

func TestMountReturnsLiveHandle(t *testing.T) {
	fakeBinary(t, `sleep 2`)

	a := New()
	h, err := a.Mount(context.Background(), "/tmp/repo", "", t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.Alive())
	h.Cmd.Process.Kill()
}

func TestDirSizeMissingPathReturnsNil(t *testing.T) {
	assert.Nil(t, DirSize("/nonexistent/does/not/exist"))
}

func TestDirSizeSumsFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 10), 0o644))
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b"), make([]byte, 20), 0o644))

	size := DirSize(dir)
	require.NotNil(t, size)
	assert.Equal(t, uint64(30), *size)
}
