package paths

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSocketPathPrefersRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, "/run/user/1000/backupd.sock", SocketPath())
	assert.Equal(t, "/run/user/1000/backupd.pid", PIDPath())
}

func TestSocketPathFallsBackToTmp(t *testing.T) {
	os.Unsetenv("XDG_RUNTIME_DIR")
	assert.Contains(t, SocketPath(), "/tmp/backupd-")
	assert.Contains(t, SocketPath(), ".sock")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	assert.NoError(t, err)
	assert.Equal(t, home+"/backups", ExpandHome("~/backups"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, home, ExpandHome("~"))
}

func TestMountPath(t *testing.T) {
	assert.Contains(t, MountPath("photos"), "mnt/photos")
}
