package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadAppliesDebounceDefault(t *testing.T) {
	p := writeConfig(t, `
[[backup_set]]
name = "photos"
source = "/home/user/Photos"
target = "b2:bucket:photos"
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultDebounceSeconds), cfg.Global.DebounceSeconds)
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	p := writeConfig(t, `
[[backup_set]]
name = "photos"
source = "/a"
target = "t:a"

[[backup_set]]
name = "photos"
source = "/b"
target = "t:b"
`)
	_, err := Load(p)
	assert.ErrorContains(t, err, "duplicate")
}

func TestLoadRejectsBothSourceAndSources(t *testing.T) {
	p := writeConfig(t, `
[[backup_set]]
name = "photos"
source = "/a"
sources = ["/b"]
target = "t:a"
`)
	_, err := Load(p)
	assert.ErrorContains(t, err, "cannot have both")
}

func TestLoadRejectsMissingSource(t *testing.T) {
	p := writeConfig(t, `
[[backup_set]]
name = "photos"
target = "t:a"
`)
	_, err := Load(p)
	assert.ErrorContains(t, err, "must have either")
}

func TestLoadRejectsInvalidName(t *testing.T) {
	p := writeConfig(t, `
[[backup_set]]
name = "photos set"
source = "/a"
target = "t:a"
`)
	_, err := Load(p)
	assert.ErrorContains(t, err, "invalid name")
}

func TestLoadExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	p := writeConfig(t, `
[[backup_set]]
name = "photos"
source = "~/Photos"
target = "~/backups/photos"
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, home+"/Photos", *cfg.BackupSets[0].Source)
	assert.Equal(t, home+"/backups/photos", cfg.BackupSets[0].Target)
}

func TestEffectiveRetentionFallsBackToGlobal(t *testing.T) {
	last := 5
	global := &RetentionPolicy{KeepLast: &last}
	set := &BackupSet{Name: "photos"}
	assert.Same(t, global, EffectiveRetention(set, global))

	ownLast := 9
	set.Retention = &RetentionPolicy{KeepLast: &ownLast}
	assert.Same(t, set.Retention, EffectiveRetention(set, global))
}

func TestHasKeepRule(t *testing.T) {
	var nilPolicy *RetentionPolicy
	assert.False(t, nilPolicy.HasKeepRule())

	empty := &RetentionPolicy{}
	assert.False(t, empty.HasKeepRule())

	last := 3
	withLast := &RetentionPolicy{KeepLast: &last}
	assert.True(t, withLast.HasKeepRule())
}
