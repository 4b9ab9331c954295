package ipc

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/backupd/pkg/events"
)

type echoHandler struct{}

func (echoHandler) Handle(ctx context.Context, req Request) Response {
	switch req.Type {
	case RequestPing:
		return PongResponse()
	case RequestStatus:
		return OkResponse(StatusResponseData(nil))
	default:
		return ErrorResponse(ErrInvalidRequest, "unsupported in test")
	}
}

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "backupd.sock")
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	srv, err := Listen(sockPath, echoHandler{}, broker, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)
	t.Cleanup(func() { srv.Close(); srv.Wait() })

	return srv, sockPath
}

func TestServerRespondsToPing(t *testing.T) {
	_, sockPath := startTestServer(t)

	client, err := Dial(sockPath)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call(NewPingRequest())
	require.NoError(t, err)
	assert.Equal(t, ResponsePong, resp.Type)
}

func TestServerRespondsToStatus(t *testing.T) {
	_, sockPath := startTestServer(t)

	client, err := Dial(sockPath)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call(NewStatusRequest())
	require.NoError(t, err)
	assert.Equal(t, ResponseOk, resp.Type)
	require.NotNil(t, resp.Payload)
	assert.Equal(t, DataStatus, resp.Payload.Kind)
}

func TestServerRejectsMalformedLine(t *testing.T) {
	_, sockPath := startTestServer(t)

	client, err := Dial(sockPath)
	require.NoError(t, err)
	defer client.Close()

	_, werr := client.conn.Write([]byte("not json\n"))
	require.NoError(t, werr)

	client.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.True(t, client.scanner.Scan())
	var resp Response
	require.NoError(t, json.Unmarshal(client.scanner.Bytes(), &resp))
	assert.Equal(t, ResponseError, resp.Type)
	code, _, ok := resp.ErrorPayload()
	require.True(t, ok)
	assert.Equal(t, ErrInvalidRequest, code)
}
