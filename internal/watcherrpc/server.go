package watcherrpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/serenorg/seren-replicator/internal/sqlitequeue"
)

// Server dispatches authenticated requests against a change queue.
type Server struct {
	queue  *sqlitequeue.ChangeQueue
	token  string
	logger zerolog.Logger
}

// NewServer builds a Server bound to queue, requiring token on every call.
func NewServer(queue *sqlitequeue.ChangeQueue, token string, logger zerolog.Logger) *Server {
	return &Server{queue: queue, token: token, logger: logger.With().Str("component", "watcherrpc").Logger()}
}

// Handle dispatches a single validated request.
func (s *Server) Handle(req Request) Response {
	if req.Authorization != "Bearer "+s.token {
		return Response{Error: "unauthenticated: invalid authorization header"}
	}

	switch req.Method {
	case MethodHealthCheck:
		return Response{Status: "ok"}

	case MethodListChanges:
		limit := clampListLimit(req.Limit)
		rows, err := s.queue.FetchBatch(limit)
		if err != nil {
			return Response{Error: err.Error()}
		}
		changes := make([]Change, len(rows))
		for i, row := range rows {
			changes[i] = changeToWire(row)
		}
		return Response{Changes: changes}

	case MethodAckChanges:
		count, err := s.queue.AckUpTo(req.UpToChangeID)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Acknowledged: count}

	case MethodGetState:
		state, err := s.queue.GetState(req.TableName)
		if err != nil {
			return Response{Error: err.Error()}
		}
		if state == nil {
			return Response{Exists: false}
		}
		resp := Response{Exists: true, LastChangeID: state.LastChangeID}
		if state.LastWalFrame != nil {
			resp.LastWalFrame = *state.LastWalFrame
		}
		if state.Cursor != nil {
			resp.Cursor = *state.Cursor
		}
		return resp

	case MethodSetState:
		if req.TableName == "" {
			return Response{Error: "invalid_argument: table_name is required"}
		}
		state := sqlitequeue.QueueState{TableName: req.TableName, LastChangeID: req.LastChangeID}
		if req.LastWalFrame != "" {
			state.LastWalFrame = &req.LastWalFrame
		}
		if req.Cursor != "" {
			state.Cursor = &req.Cursor
		}
		if err := s.queue.SetState(state); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{}

	default:
		return Response{Error: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

func (s *Server) serve(listener net.Listener, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-stop:
				wg.Wait()
				return
			default:
				s.logger.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = encoder.Encode(Response{Error: "malformed request: " + err.Error()})
			continue
		}
		if err := encoder.Encode(s.Handle(req)); err != nil {
			return
		}
	}
}

// Handle owns a running listener and its accept loop.
type Handle struct {
	listener net.Listener
	stop     chan struct{}
	done     chan struct{}
	sockPath string
}

// Stop closes the listener, waits for in-flight connections to drain, and
// removes the Unix socket file if one was bound.
func (h *Handle) Stop() {
	close(h.stop)
	h.listener.Close()
	<-h.done
	if h.sockPath != "" {
		_ = os.Remove(h.sockPath)
	}
}

// SpawnTCP binds addr and serves requests against server until Stop is called.
func SpawnTCP(server *Server, addr string) (*Handle, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("watcherrpc: bind tcp listener on %s: %w", addr, err)
	}
	return spawn(server, listener, "")
}

// SpawnUnix binds a Unix domain socket at path, removing any stale socket
// file left behind by a previous, uncleanly terminated process.
func SpawnUnix(server *Server, path string) (*Handle, error) {
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("watcherrpc: remove stale socket %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("watcherrpc: stat socket path %s: %w", path, err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("watcherrpc: bind unix socket %s: %w", path, err)
	}
	return spawn(server, listener, path)
}

func spawn(server *Server, listener net.Listener, sockPath string) (*Handle, error) {
	h := &Handle{
		listener: listener,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		sockPath: sockPath,
	}
	go server.serve(listener, h.stop, h.done)
	return h, nil
}
