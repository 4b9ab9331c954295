// Package reconcile watches the on-disk configuration file and keeps the
// backup manager's live job set synchronized with it.
package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/cuemby/backupd/internal/backup"
	"github.com/cuemby/backupd/internal/config"
)

// fallbackInterval re-checks the config file even without a filesystem
// event, since some editors replace a file via rename-into-place in a way
// that can race a watch re-registration.
const fallbackInterval = 10 * time.Second

// Reconciler watches configPath and calls Manager.SyncConfig whenever its
// contents change.
type Reconciler struct {
	path    string
	manager *backup.Manager
	log     zerolog.Logger

	mu       sync.Mutex
	lastHash string

	stopCh chan struct{}
}

// New builds a Reconciler for configPath, driving mgr.
func New(configPath string, mgr *backup.Manager, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		path:    configPath,
		manager: mgr,
		log:     log.With().Str("component", "reconciler").Logger(),
		stopCh:  make(chan struct{}),
	}
}

// Start begins watching in the background. ctx cancellation also stops
// the loop; Stop is an alternative explicit trigger.
func (r *Reconciler) Start(ctx context.Context) {
	if hash, err := fileHash(r.path); err == nil {
		r.lastHash = hash
	}
	go r.run(ctx)
}

// Stop halts the reconciliation loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.log.Error().Err(err).Msg("failed to create config watcher, relying on polling only")
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(r.path)); err != nil {
			r.log.Warn().Err(err).Str("path", r.path).Msg("failed to watch config directory")
		}
	}

	ticker := time.NewTicker(fallbackInterval)
	defer ticker.Stop()

	r.log.Info().Str("path", r.path).Msg("config reconciler started")

	var fsEvents <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		fsEvents = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(r.path) {
				r.maybeReconcile(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.log.Warn().Err(err).Msg("config watcher error")
		case <-ticker.C:
			r.maybeReconcile(ctx)
		case <-ctx.Done():
			r.log.Info().Msg("config reconciler stopped")
			return
		case <-r.stopCh:
			r.log.Info().Msg("config reconciler stopped")
			return
		}
	}
}

// maybeReconcile reloads the config file only if its contents actually
// changed since the last successful sync, to avoid re-syncing (and
// re-publishing ConfigReloaded events) on every unrelated directory
// event.
func (r *Reconciler) maybeReconcile(ctx context.Context) {
	hash, err := fileHash(r.path)
	if err != nil {
		r.log.Debug().Err(err).Msg("could not hash config file, skipping")
		return
	}

	r.mu.Lock()
	unchanged := hash == r.lastHash
	r.mu.Unlock()
	if unchanged {
		return
	}

	cfg, err := config.Load(r.path)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to reload config, keeping previous configuration")
		return
	}

	r.manager.SyncConfig(ctx, cfg)

	r.mu.Lock()
	r.lastHash = hash
	r.mu.Unlock()

	r.log.Info().Msg("configuration reloaded")
}

// Reload forces an immediate reload regardless of whether the file's
// content hash looks unchanged, used to serve an explicit ReloadConfig
// IPC request.
func (r *Reconciler) Reload(ctx context.Context) error {
	cfg, err := config.Load(r.path)
	if err != nil {
		return err
	}
	r.manager.SyncConfig(ctx, cfg)

	if hash, err := fileHash(r.path); err == nil {
		r.mu.Lock()
		r.lastHash = hash
		r.mu.Unlock()
	}
	return nil
}

func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
