package ipc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	req := NewBackupRequest("photos")
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var got Request
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, req, got)
}

func TestRequestRoundTripNoPayload(t *testing.T) {
	req := NewPingRequest()
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var got Request
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, RequestPing, got.Type)
}

func TestResponseOkRoundTrip(t *testing.T) {
	resp := OkResponse(&ResponseData{Kind: DataMountPath, Path: "/mnt/photos"})
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"Ok"`)
	assert.Contains(t, string(data), `"path":"/mnt/photos"`)
}

func TestErrorResponseFields(t *testing.T) {
	resp := ErrorResponse(ErrUnknownSet, "no such set")
	code, message, ok := resp.ErrorPayload()
	require.True(t, ok)
	assert.Equal(t, ErrUnknownSet, code)
	assert.Equal(t, "no such set", message)
}

func TestPongResponseHasNoPayload(t *testing.T) {
	data, err := json.Marshal(PongResponse())
	require.NoError(t, err)
	assert.Equal(t, `{"type":"Pong"}`, string(data))
}

func TestValidateRequestRejectsMissingSetName(t *testing.T) {
	req := Request{Type: RequestMount}
	assert.Error(t, ValidateRequest(req))
}

func TestValidateRequestRejectsUnknownType(t *testing.T) {
	req := Request{Type: "Bogus"}
	assert.Error(t, ValidateRequest(req))
}

func TestValidateRequestAcceptsBackupWithoutSetName(t *testing.T) {
	req := NewBackupRequest("")
	assert.NoError(t, ValidateRequest(req))
}
