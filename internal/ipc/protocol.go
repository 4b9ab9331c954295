// Package ipc defines the wire protocol spoken over the daemon's
// Unix-domain control socket: one JSON object per line, request in,
// response(s) out, with a side channel of broadcast events a connection
// can opt into.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/backupd/internal/backup"
)

// RequestType names a Request variant; it is the wire "type" tag.
type RequestType string

const (
	RequestPing         RequestType = "Ping"
	RequestStatus       RequestType = "Status"
	RequestBackup       RequestType = "Backup"
	RequestPrune        RequestType = "Prune"
	RequestSnapshots    RequestType = "Snapshots"
	RequestMount        RequestType = "Mount"
	RequestUnmount      RequestType = "Unmount"
	RequestReloadConfig RequestType = "ReloadConfig"
	RequestShutdown     RequestType = "Shutdown"
)

// Request is one line of client input. Payload fields are set according
// to Type; unused fields are omitted on the wire.
type Request struct {
	Type       RequestType `json:"type"`
	Payload    struct {
		SetName    *string `json:"set_name,omitempty"`
		Limit      *int    `json:"limit,omitempty"`
		SnapshotID *string `json:"snapshot_id,omitempty"`
	} `json:"payload,omitempty"`
}

// ResponseKind names a Response variant.
type ResponseKind string

const (
	ResponseOk    ResponseKind = "Ok"
	ResponseError ResponseKind = "Error"
	ResponsePong  ResponseKind = "Pong"
)

// Response is one line of daemon output.
type Response struct {
	Type    ResponseKind `json:"type"`
	Payload *ResponseData `json:"payload,omitempty"`
}

// ResponseDataKind names the "kind" discriminant inside a successful
// ResponseData payload.
type ResponseDataKind string

const (
	DataStatus            ResponseDataKind = "Status"
	DataSnapshots          ResponseDataKind = "Snapshots"
	DataBackupStarted      ResponseDataKind = "BackupStarted"
	DataBackupsTriggered   ResponseDataKind = "BackupsTriggered"
	DataBackupComplete     ResponseDataKind = "BackupComplete"
	DataBackupFailed       ResponseDataKind = "BackupFailed"
	DataMountPath          ResponseDataKind = "MountPath"
	DataPruneResult        ResponseDataKind = "PruneResult"
	DataPrunesTriggered    ResponseDataKind = "PrunesTriggered"
	DataPruneComplete      ResponseDataKind = "PruneComplete"
	DataConfigReloaded     ResponseDataKind = "ConfigReloaded"
)

// NamedError pairs a set name with an error message, used in the "one
// operation fanned out across every set" response variants.
type NamedError struct {
	SetName string `json:"set_name"`
	Error   string `json:"error"`
}

// NamedReclaim pairs a set name with bytes reclaimed by pruning it.
type NamedReclaim struct {
	SetName        string `json:"set_name"`
	ReclaimedBytes uint64 `json:"reclaimed_bytes"`
}

// ResponseData is the tagged success payload of an Ok response. Only the
// field(s) matching Kind are populated.
type ResponseData struct {
	Kind ResponseDataKind `json:"kind"`

	Sets             []backup.SetStatus     `json:"sets,omitempty"`
	Snapshots        []backup.SnapshotInfo  `json:"snapshots,omitempty"`
	SetName          string                 `json:"set_name,omitempty"`
	Started          []string               `json:"started,omitempty"`
	Failed           []NamedError           `json:"failed,omitempty"`
	SnapshotID       string                 `json:"snapshot_id,omitempty"`
	AddedBytes       uint64                 `json:"added_bytes,omitempty"`
	DurationSecs     float64                `json:"duration_secs,omitempty"`
	Error            string                 `json:"error,omitempty"`
	Path             string                 `json:"path,omitempty"`
	ReclaimedBytes   uint64                 `json:"reclaimed_bytes,omitempty"`
	Succeeded        []NamedReclaim         `json:"succeeded,omitempty"`
}

// Error codes used in Response{Type: Error}.
const (
	ErrUnknownSet     = "UnknownSet"
	ErrBackupFailed   = "BackupFailed"
	ErrEngineError    = "ResticError"
	ErrMountFailed    = "MountFailed"
	ErrNotMounted     = "NotMounted"
	ErrDaemonBusy     = "DaemonBusy"
	ErrInvalidRequest = "InvalidRequest"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MarshalJSON encodes Response using the tagged {"type":...,"payload":...}
// wire form, leaving "payload" out when there is none. An Error response
// uses the same ResponseData payload shape as a success: its code is
// carried in "kind" and its message in "error"; the {code,message} shape
// of errorPayload is not used on the wire.
func (r Response) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type    ResponseKind `json:"type"`
		Payload interface{}  `json:"payload,omitempty"`
	}
	w := wire{Type: r.Type}
	if r.Payload != nil {
		w.Payload = r.Payload
	}
	return json.Marshal(w)
}

// OkResponse builds a successful response, optionally carrying data.
func OkResponse(data *ResponseData) Response {
	return Response{Type: ResponseOk, Payload: data}
}

// ErrorResponse builds an error response.
func ErrorResponse(code, message string) Response {
	return Response{
		Type: ResponseError,
		Payload: &ResponseData{
			Kind:  ResponseDataKind(code),
			Error: message,
		},
	}
}

// PongResponse answers a Ping.
func PongResponse() Response {
	return Response{Type: ResponsePong}
}

// ErrorPayload extracts the code/message of an Error response, returning
// false if r is not one.
func (r Response) ErrorPayload() (code, message string, ok bool) {
	if r.Type != ResponseError || r.Payload == nil {
		return "", "", false
	}
	return string(r.Payload.Kind), r.Payload.Error, true
}

func stringPtr(s string) *string { return &s }

// NewBackupRequest builds a Backup request, setName empty meaning "all".
func NewBackupRequest(setName string) Request {
	var r Request
	r.Type = RequestBackup
	if setName != "" {
		r.Payload.SetName = stringPtr(setName)
	}
	return r
}

// NewSnapshotsRequest builds a Snapshots request for a specific set.
func NewSnapshotsRequest(setName string, limit *int) Request {
	var r Request
	r.Type = RequestSnapshots
	r.Payload.SetName = stringPtr(setName)
	r.Payload.Limit = limit
	return r
}

// NewMountRequest builds a Mount request; snapshotID empty means latest.
func NewMountRequest(setName, snapshotID string) Request {
	var r Request
	r.Type = RequestMount
	r.Payload.SetName = stringPtr(setName)
	if snapshotID != "" {
		r.Payload.SnapshotID = stringPtr(snapshotID)
	}
	return r
}

// NewUnmountRequest builds an Unmount request, setName empty meaning "all".
func NewUnmountRequest(setName string) Request {
	var r Request
	r.Type = RequestUnmount
	if setName != "" {
		r.Payload.SetName = stringPtr(setName)
	}
	return r
}

// NewPruneRequest builds a Prune request, setName empty meaning "all".
func NewPruneRequest(setName string) Request {
	var r Request
	r.Type = RequestPrune
	if setName != "" {
		r.Payload.SetName = stringPtr(setName)
	}
	return r
}

// simpleRequest builds a Request with no payload fields set.
func simpleRequest(t RequestType) Request {
	return Request{Type: t}
}

// NewPingRequest, NewStatusRequest, NewReloadConfigRequest, and
// NewShutdownRequest build their respective payload-less requests.
func NewPingRequest() Request         { return simpleRequest(RequestPing) }
func NewStatusRequest() Request       { return simpleRequest(RequestStatus) }
func NewReloadConfigRequest() Request { return simpleRequest(RequestReloadConfig) }
func NewShutdownRequest() Request     { return simpleRequest(RequestShutdown) }

// ValidateRequest reports whether req is a recognized, well-formed
// request, returning an InvalidRequest-flavored error if not.
func ValidateRequest(req Request) error {
	switch req.Type {
	case RequestPing, RequestStatus, RequestReloadConfig, RequestShutdown,
		RequestBackup, RequestPrune, RequestUnmount:
		return nil
	case RequestSnapshots, RequestMount:
		if req.Payload.SetName == nil || *req.Payload.SetName == "" {
			return fmt.Errorf("ipc: %s requires set_name", req.Type)
		}
		return nil
	default:
		return fmt.Errorf("ipc: unknown request type %q", req.Type)
	}
}
