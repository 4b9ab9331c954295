package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/backupd/internal/config"
)

func TestIdleRunningErrorStates(t *testing.T) {
	assert.Equal(t, JobStateIdle, IdleState().Kind)
	assert.Equal(t, JobStateRunning, RunningState().Kind)
	assert.Equal(t, JobStateError, ErrorState().Kind)
}

func TestDebouncingStateRemainingSeconds(t *testing.T) {
	s := DebouncingState(30 * time.Second)
	assert.Equal(t, JobStateDebouncing, s.Kind)
	assert.Equal(t, uint64(30), s.RemainingSeconds)
}

func TestDebouncingStateClampsNegative(t *testing.T) {
	s := DebouncingState(-5 * time.Second)
	assert.Equal(t, uint64(0), s.RemainingSeconds)
}

func TestNewSetAppliesGlobalDefaults(t *testing.T) {
	global := &config.GlobalConfig{DebounceSeconds: 45}
	cs := &config.BackupSet{Name: "photos", Target: "t:photos"}
	set := NewSet(cs, global)
	assert.Equal(t, uint64(45), set.DebounceSeconds)
}

func TestNewSetPrefersOwnDebounce(t *testing.T) {
	global := &config.GlobalConfig{DebounceSeconds: 45}
	own := uint64(5)
	cs := &config.BackupSet{Name: "photos", Target: "t:photos", DebounceSeconds: &own}
	set := NewSet(cs, global)
	assert.Equal(t, uint64(5), set.DebounceSeconds)
}
