package backup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := OpenCache(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCachePutGet(t *testing.T) {
	c := openTestCache(t)

	status := SetStatus{
		Name:        "photos",
		State:       IdleState(),
		Target:      "b2:bucket:photos",
		SourcePaths: []string{"/home/user/Photos"},
		LastBackup: &BackupResult{
			SnapshotID: "abc123",
			Timestamp:  time.Now().UTC().Truncate(time.Second),
			Success:    true,
		},
	}
	require.NoError(t, c.Put(status))

	got, ok := c.Get("photos")
	require.True(t, ok)
	assert.Equal(t, status.Name, got.Name)
	assert.Equal(t, status.Target, got.Target)
	require.NotNil(t, got.LastBackup)
	assert.Equal(t, "abc123", got.LastBackup.SnapshotID)
}

func TestCacheGetMissing(t *testing.T) {
	c := openTestCache(t)
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestCacheDelete(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Put(SetStatus{Name: "photos"}))
	require.NoError(t, c.Delete("photos"))
	_, ok := c.Get("photos")
	assert.False(t, ok)
}
