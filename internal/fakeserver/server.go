// Package fakeserver provides a WebSocket server speaking the rpcws wire
// protocol in front of an in-memory backend, for tests of the rpcws client
// and of anything built on it.
//
// The WebSocket server is implemented using the `gws` library.
//
// Failures can be injected per method: an RPC error, a delay before the
// response, a dropped TCP connection or a WebSocket close frame.
package fakeserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lxzan/gws"

	"github.com/whyfailclub/whyfail.go/internal/codec"
	"github.com/whyfailclub/whyfail.go/pkg/backend/memory"
	"github.com/whyfailclub/whyfail.go/pkg/backend/rpcws/wire"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

// FailureType represents the type of failure to inject during request processing
type FailureType string

const (
	// FailureError answers the request with Failure.Err
	FailureError FailureType = "error"
	// FailureRequestDelay delays before processing the request
	FailureRequestDelay FailureType = "request_delay"
	// FailureDropConnection immediately closes the underlying network connection
	FailureDropConnection FailureType = "drop_connection"
	// FailureWebSocketClose sends a WebSocket close frame
	FailureWebSocketClose FailureType = "websocket_close"
)

// Failure is applied to the next Times requests of Method, or of any
// method when Method is empty. Times zero means every request.
type Failure struct {
	Method wire.Method
	Type   FailureType
	Times  int
	Delay  time.Duration
	Err    *remote.RPCError
	// CloseCode defaults to 1001 (going away).
	CloseCode uint16
}

type Server struct {
	addr     string
	listener net.Listener
	server   *gws.Server
	backend  *memory.Backend
	codec    *codec.CBOR
	logger   logger.Logger

	mu       sync.Mutex
	sessions map[*gws.Conn]*session
	failures []*Failure
	requests map[wire.Method]int
	opened   int
}

type session struct {
	socket   *gws.Conn
	mu       sync.Mutex
	channels map[string]remote.Channel
}

// Handler implements the gws.Handler interface for WebSocket connections
type Handler struct {
	server *Server
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a server in front of backend.
// Use "127.0.0.1:0" to bind to a random available port.
func New(addr string, backend *memory.Backend, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		backend:  backend,
		codec:    codec.NewCBOR(),
		logger:   logger.Nop(),
		sessions: make(map[*gws.Conn]*session),
		requests: make(map[wire.Method]int),
	}
	for _, o := range opts {
		o(s)
	}

	s.server = gws.NewServer(&Handler{server: s}, &gws.ServerOption{})
	s.server.OnError = func(_ net.Conn, err error) {
		if !isClosedError(err) {
			s.logger.Error("fakeserver error", "error", err)
		}
	}
	return s
}

// Backend returns the backend the server fronts.
func (s *Server) Backend() *memory.Backend {
	return s.backend
}

// Start starts the server and begins accepting WebSocket connections.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.server.RunListener(listener); err != nil && !isClosedError(err) {
			s.logger.Error("fakeserver stopped", "error", err)
		}
	}()
	return nil
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	s.DropConnections()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Address returns the actual address the server is listening on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL is the ws:// URL clients dial.
func (s *Server) URL() string {
	return "ws://" + s.Address()
}

// Inject queues a failure.
func (s *Server) Inject(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &f)
}

// DropConnections closes the network connection of every client and
// returns how many were dropped.
func (s *Server) DropConnections() int {
	s.mu.Lock()
	sockets := make([]*gws.Conn, 0, len(s.sessions))
	for socket := range s.sessions {
		sockets = append(sockets, socket)
	}
	s.mu.Unlock()

	for _, socket := range sockets {
		_ = socket.NetConn().Close()
	}
	return len(sockets)
}

// Requests returns how many requests of method the server received.
func (s *Server) Requests(method wire.Method) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method]
}

// Connections returns how many connections were ever opened.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func (s *Server) nextFailure(method wire.Method) *Failure {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, f := range s.failures {
		if f.Method != "" && f.Method != method {
			continue
		}
		out := *f
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				s.failures = append(s.failures[:i], s.failures[i+1:]...)
			}
		}
		return &out
	}
	return nil
}

func (h *Handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	h.server.sessions[socket] = &session{socket: socket, channels: make(map[string]remote.Channel)}
	h.server.opened++
	h.server.mu.Unlock()
}

func (h *Handler) OnClose(socket *gws.Conn, err error) {
	h.server.mu.Lock()
	sess := h.server.sessions[socket]
	delete(h.server.sessions, socket)
	h.server.mu.Unlock()
	if sess == nil {
		return
	}

	sess.mu.Lock()
	channels := sess.channels
	sess.channels = map[string]remote.Channel{}
	sess.mu.Unlock()
	for _, ch := range channels {
		_ = h.server.backend.Unsubscribe(context.Background(), ch)
	}
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		h.server.logger.Debug("fakeserver failed to write pong", "error", err)
	}
}

func (h *Handler) OnPong(socket *gws.Conn, payload []byte) {
}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	var req wire.ServerRequest
	if err := h.server.codec.Unmarshal(message.Bytes(), &req); err != nil {
		h.sendError(socket, "", &remote.RPCError{Code: remote.CodeParse, Message: "parse error"})
		return
	}

	h.server.mu.Lock()
	h.server.requests[req.Method]++
	sess := h.server.sessions[socket]
	h.server.mu.Unlock()
	if sess == nil {
		return
	}

	if f := h.server.nextFailure(req.Method); f != nil {
		switch f.Type {
		case FailureError:
			h.sendError(socket, req.ID, f.Err)
			return
		case FailureRequestDelay:
			time.Sleep(f.Delay)
		case FailureDropConnection:
			_ = socket.NetConn().Close()
			return
		case FailureWebSocketClose:
			code := f.CloseCode
			if code == 0 {
				code = 1001
			}
			socket.WriteClose(code, []byte("failure injection"))
			return
		}
	}

	result, err := h.dispatch(sess, &req)
	if err != nil {
		h.sendError(socket, req.ID, toRPCError(err))
		return
	}
	h.sendResponse(socket, req.ID, result)
}

func (h *Handler) param(req *wire.ServerRequest, i int, dst any) error {
	if i >= len(req.Params) {
		return fmt.Errorf("%w: %s expects at least %d params", errInvalidParams, req.Method, i+1)
	}
	if err := h.server.codec.Unmarshal(req.Params[i], dst); err != nil {
		return fmt.Errorf("%w: %s param %d: %v", errInvalidParams, req.Method, i, err)
	}
	return nil
}

var errInvalidParams = errors.New("invalid params")

//nolint:gocyclo
func (h *Handler) dispatch(sess *session, req *wire.ServerRequest) (any, error) {
	ctx := context.Background()
	b := h.server.backend

	switch req.Method {
	case wire.MethodPing:
		return nil, nil

	case wire.MethodSelect:
		var q remote.SelectQuery
		if err := h.param(req, 0, &q); err != nil {
			return nil, err
		}
		return b.Select(ctx, q)

	case wire.MethodInsert:
		var table string
		var row remote.Row
		if err := h.params(req, &table, &row); err != nil {
			return nil, err
		}
		return b.Insert(ctx, table, row)

	case wire.MethodUpdate:
		var table string
		var filters []remote.Filter
		var patch remote.Row
		if err := h.params(req, &table, &filters, &patch); err != nil {
			return nil, err
		}
		return nil, b.Update(ctx, table, filters, patch)

	case wire.MethodDelete:
		var table string
		var filters []remote.Filter
		if err := h.params(req, &table, &filters); err != nil {
			return nil, err
		}
		return nil, b.Delete(ctx, table, filters)

	case wire.MethodInvoke:
		var name string
		var args map[string]any
		if err := h.params(req, &name, &args); err != nil {
			return nil, err
		}
		return b.Invoke(ctx, name, args)

	case wire.MethodSubscribe:
		var id, table, predicate string
		if err := h.params(req, &id, &table, &predicate); err != nil {
			return nil, err
		}
		filter, err := models.ParseRealtimeFilter(table, predicate)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
		}
		return nil, h.subscribe(ctx, sess, id, filter)

	case wire.MethodUnsubscribe:
		var id string
		if err := h.param(req, 0, &id); err != nil {
			return nil, err
		}
		sess.mu.Lock()
		ch, ok := sess.channels[id]
		delete(sess.channels, id)
		sess.mu.Unlock()
		if !ok {
			return nil, nil
		}
		return nil, b.Unsubscribe(ctx, ch)
	}

	return nil, &remote.RPCError{Code: remote.CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
}

func (h *Handler) params(req *wire.ServerRequest, dst ...any) error {
	for i, d := range dst {
		if err := h.param(req, i, d); err != nil {
			return err
		}
	}
	return nil
}

// subscribe opens a backend channel and forwards its events as
// notifications until it closes. A channel the backend drops is reported
// to the client as closed.
func (h *Handler) subscribe(ctx context.Context, sess *session, id string, filter models.RealtimeFilter) error {
	ch, err := h.server.backend.Subscribe(ctx, filter)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	sess.channels[id] = ch
	sess.mu.Unlock()

	go func() {
		for ev := range ch.Events() {
			ev := ev
			h.send(sess.socket, wire.Frame{Notification: &wire.Notification{Channel: id, Event: &ev}})
		}
		if err := ch.Err(); err != nil {
			h.send(sess.socket, wire.Frame{Notification: &wire.Notification{Channel: id, Closed: true, Reason: err.Error()}})
			sess.mu.Lock()
			if sess.channels[id] == ch {
				delete(sess.channels, id)
			}
			sess.mu.Unlock()
		}
	}()
	return nil
}

func (h *Handler) sendResponse(socket *gws.Conn, id string, result any) {
	raw, err := h.server.codec.Marshal(result)
	if err != nil {
		h.sendError(socket, id, &remote.RPCError{Code: remote.CodeInternal, Message: fmt.Sprintf("sendResponse: %v", err)})
		return
	}
	h.send(socket, wire.Frame{ID: id, Result: raw})
}

func (h *Handler) sendError(socket *gws.Conn, id string, rpcErr *remote.RPCError) {
	h.send(socket, wire.Frame{ID: id, Error: rpcErr})
}

func (h *Handler) send(socket *gws.Conn, f wire.Frame) {
	data, err := h.server.codec.Marshal(f)
	if err != nil {
		h.server.logger.Error("fakeserver failed to marshal frame", "error", err)
		return
	}
	if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil && !isClosedError(err) {
		h.server.logger.Debug("fakeserver failed to write frame", "error", err)
	}
}

// toRPCError strips the adapter's read/write wrapping; the client adds its
// own with the table it asked about.
func toRPCError(err error) *remote.RPCError {
	var re *remote.ReadError
	var we *remote.WriteError
	switch {
	case errors.As(err, &re):
		err = re.Err
	case errors.As(err, &we):
		err = we.Err
	}
	if errors.Is(err, errInvalidParams) {
		return &remote.RPCError{Code: remote.CodeInvalidParams, Message: err.Error()}
	}
	return remote.ToRPCError(err)
}

func isClosedError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) || strings.HasSuffix(err.Error(), "use of closed network connection")
}
