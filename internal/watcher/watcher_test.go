package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/backupd/internal/backup"
)

type hitCollector struct {
	mu   sync.Mutex
	hits []string
}

func (c *hitCollector) handler(setName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = append(c.hits, setName)
}

func (c *hitCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hits)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcherAttributesChangeToSet(t *testing.T) {
	dir := t.TempDir()
	set := &backup.Set{Name: "photos", SourcePaths: []string{dir}}

	collector := &hitCollector{}
	w, err := New([]*backup.Set{set}, zerolog.Nop(), collector.handler)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("x"), 0o644))

	waitFor(t, func() bool { return collector.count() > 0 })
	assert.Equal(t, "photos", collector.hits[0])
}

func TestWatcherExcludesMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	set := &backup.Set{Name: "photos", SourcePaths: []string{dir}, Exclude: []string{"*.tmp"}}

	collector := &hitCollector{}
	w, err := New([]*backup.Set{set}, zerolog.Nop(), collector.handler)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.tmp"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, collector.count())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.jpg"), []byte("x"), 0o644))
	waitFor(t, func() bool { return collector.count() > 0 })
}

func TestFindRootMatchesPrefix(t *testing.T) {
	dir := t.TempDir()
	set := &backup.Set{Name: "photos", SourcePaths: []string{dir}}
	collector := &hitCollector{}
	w, err := New([]*backup.Set{set}, zerolog.Nop(), collector.handler)
	require.NoError(t, err)
	defer w.Close()

	root, name := w.findRoot(filepath.Join(dir, "nested", "file.txt"))
	assert.Equal(t, dir, root)
	assert.Equal(t, "photos", name)
}
