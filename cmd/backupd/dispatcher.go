package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/backupd/internal/backup"
	"github.com/cuemby/backupd/internal/ipc"
	"github.com/cuemby/backupd/internal/reconcile"
)

// dispatcher implements ipc.Handler by translating wire Requests into
// backup.Manager calls. A request targeting a specific set_name resolves
// to one Manager call; a request with no set_name fans out across every
// configured set and aggregates failures.
type dispatcher struct {
	manager    *backup.Manager
	reconciler *reconcile.Reconciler
	shutdown   context.CancelFunc
	log        zerolog.Logger
}

func (d *dispatcher) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Type {
	case ipc.RequestPing:
		return ipc.PongResponse()

	case ipc.RequestStatus:
		return ipc.OkResponse(&ipc.ResponseData{
			Kind: ipc.DataStatus,
			Sets: d.manager.GetStatus(),
		})

	case ipc.RequestSnapshots:
		name := *req.Payload.SetName
		snaps, err := d.manager.Snapshots(ctx, name)
		if err != nil {
			return errToResponse(err)
		}
		// Snapshots arrive oldest first; a limit keeps the most recent ones.
		if lim := req.Payload.Limit; lim != nil && *lim >= 0 && len(snaps) > *lim {
			snaps = snaps[len(snaps)-*lim:]
		}
		return ipc.OkResponse(&ipc.ResponseData{Kind: ipc.DataSnapshots, Snapshots: snaps})

	case ipc.RequestBackup:
		return d.handleBackup(ctx, req)

	case ipc.RequestPrune:
		return d.handlePrune(ctx, req)

	case ipc.RequestMount:
		name := *req.Payload.SetName
		snapshotID := ""
		if req.Payload.SnapshotID != nil {
			snapshotID = *req.Payload.SnapshotID
		}
		path, err := d.manager.Mount(ctx, name, snapshotID)
		if err != nil {
			return errToResponse(err)
		}
		return ipc.OkResponse(&ipc.ResponseData{Kind: ipc.DataMountPath, SetName: name, Path: path})

	case ipc.RequestUnmount:
		name := ""
		if req.Payload.SetName != nil {
			name = *req.Payload.SetName
		}
		if err := d.manager.Unmount(ctx, name); err != nil {
			return errToResponse(err)
		}
		return ipc.OkResponse(nil)

	case ipc.RequestReloadConfig:
		if err := d.reconciler.Reload(ctx); err != nil {
			return errToResponse(err)
		}
		return ipc.OkResponse(&ipc.ResponseData{Kind: ipc.DataConfigReloaded})

	case ipc.RequestShutdown:
		d.log.Info().Msg("shutdown requested over control socket")
		go d.shutdown()
		return ipc.OkResponse(nil)

	default:
		return ipc.ErrorResponse(ipc.ErrInvalidRequest, fmt.Sprintf("unhandled request type %q", req.Type))
	}
}

func (d *dispatcher) handleBackup(ctx context.Context, req ipc.Request) ipc.Response {
	if req.Payload.SetName != nil {
		name := *req.Payload.SetName
		if err := d.manager.TriggerBackup(ctx, name); err != nil {
			return errToResponse(err)
		}
		return ipc.OkResponse(&ipc.ResponseData{Kind: ipc.DataBackupStarted, SetName: name})
	}

	var started []string
	var failed []ipc.NamedError
	for _, s := range d.manager.GetStatus() {
		if err := d.manager.TriggerBackup(ctx, s.Name); err != nil {
			failed = append(failed, ipc.NamedError{SetName: s.Name, Error: err.Error()})
			continue
		}
		started = append(started, s.Name)
	}
	return ipc.OkResponse(&ipc.ResponseData{Kind: ipc.DataBackupsTriggered, Started: started, Failed: failed})
}

func (d *dispatcher) handlePrune(ctx context.Context, req ipc.Request) ipc.Response {
	if req.Payload.SetName != nil {
		name := *req.Payload.SetName
		reclaimed, err := d.manager.Prune(ctx, name)
		if err != nil {
			return errToResponse(err)
		}
		return ipc.OkResponse(&ipc.ResponseData{Kind: ipc.DataPruneComplete, SetName: name, ReclaimedBytes: reclaimed})
	}

	var succeeded []ipc.NamedReclaim
	var failed []ipc.NamedError
	for _, s := range d.manager.GetStatus() {
		reclaimed, err := d.manager.Prune(ctx, s.Name)
		if err != nil {
			failed = append(failed, ipc.NamedError{SetName: s.Name, Error: err.Error()})
			continue
		}
		succeeded = append(succeeded, ipc.NamedReclaim{SetName: s.Name, ReclaimedBytes: reclaimed})
	}
	return ipc.OkResponse(&ipc.ResponseData{Kind: ipc.DataPrunesTriggered, Succeeded: succeeded, Failed: failed})
}

func errToResponse(err error) ipc.Response {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unknown backup set"):
		return ipc.ErrorResponse(ipc.ErrUnknownSet, msg)
	case strings.Contains(msg, "already running"):
		return ipc.ErrorResponse(ipc.ErrDaemonBusy, msg)
	case strings.Contains(msg, "mount"):
		return ipc.ErrorResponse(ipc.ErrMountFailed, msg)
	default:
		return ipc.ErrorResponse(ipc.ErrEngineError, msg)
	}
}
