package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/backupd/internal/backup"
	"github.com/cuemby/backupd/pkg/events"
)

// Handler resolves each Request into a Response. It is implemented by the
// daemon's command dispatcher, which in turn calls into *backup.Manager.
type Handler interface {
	Handle(ctx context.Context, req Request) Response
}

// Server accepts connections on a Unix-domain socket and speaks one
// request/response pair (plus optional event broadcast) per line.
type Server struct {
	listener net.Listener
	handler  Handler
	broker   *events.Broker
	log      zerolog.Logger

	wg sync.WaitGroup
}

// Listen binds a Unix socket at socketPath, removing any stale file left
// behind by a prior, uncleanly-terminated process.
func Listen(socketPath string, handler Handler, broker *events.Broker, log zerolog.Logger) (*Server, error) {
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return nil, fmt.Errorf("ipc: remove stale socket %s: %w", socketPath, err)
		}
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("ipc: set socket permissions: %w", err)
	}

	return &Server{
		listener: ln,
		handler:  handler,
		broker:   broker,
		log:      log.With().Str("component", "ipc-server").Logger(),
	}, nil
}

// Addr returns the socket path being served.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled or the listener closes.
// Each connection is handled in its own goroutine; Serve returns once the
// listener is closed, but does not itself wait for in-flight connections
// to finish (call Wait after Serve returns).
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ipc: accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Wait blocks until every accepted connection's goroutine has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Close closes the listener, unblocking Serve.
func (s *Server) Close() error {
	return s.listener.Close()
}

// handleConn processes one client connection: request lines in, response
// lines out, with an event broker subscription multiplexed onto the same
// write side so a connected client observes both its own replies and
// broadcasts from other clients' actions.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	connLog := s.log.With().Str("conn_id", connID).Logger()
	connLog.Debug().Msg("client connected")
	defer connLog.Debug().Msg("client disconnected")

	writeCh := make(chan interface{}, 64)
	connDone := make(chan struct{})
	defer close(connDone)

	var sub events.Subscriber
	if s.broker != nil {
		sub = s.broker.Subscribe()
		defer s.broker.Unsubscribe(sub)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writeLoop(conn, writeCh, sub, connDone)
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			connLog.Warn().Err(err).Msg("malformed request line")
			writeCh <- ErrorResponse(ErrInvalidRequest, err.Error())
			continue
		}
		if err := ValidateRequest(req); err != nil {
			connLog.Warn().Err(err).Msg("invalid request")
			writeCh <- ErrorResponse(ErrInvalidRequest, err.Error())
			continue
		}

		connLog.Debug().Str("type", string(req.Type)).Msg("handling request")
		resp := s.handler.Handle(ctx, req)
		writeCh <- resp
	}
}

func (s *Server) writeLoop(conn net.Conn, writeCh chan interface{}, sub events.Subscriber, done chan struct{}) {
	enc := json.NewEncoder(conn)
	for {
		select {
		case v := <-writeCh:
			if err := enc.Encode(v); err != nil {
				return
			}
		case ev, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			if err := enc.Encode(newEventEnvelope(ev)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// eventWireType tags broadcast events on the wire distinctly from request
// responses, so clients can demultiplex a single connection's stream.
const eventWireType = "Event"

type eventEnvelope struct {
	Type  string        `json:"type"`
	Event *events.Event `json:"event"`
}

func newEventEnvelope(ev *events.Event) eventEnvelope {
	return eventEnvelope{Type: eventWireType, Event: ev}
}

// StatusResponseData builds the ResponseData for a Status reply.
func StatusResponseData(sets []backup.SetStatus) *ResponseData {
	return &ResponseData{Kind: DataStatus, Sets: sets}
}

// SnapshotsResponseData builds the ResponseData for a Snapshots reply.
func SnapshotsResponseData(snaps []backup.SnapshotInfo) *ResponseData {
	return &ResponseData{Kind: DataSnapshots, Snapshots: snaps}
}
