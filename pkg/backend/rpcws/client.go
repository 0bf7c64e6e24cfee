// Package rpcws is a backend adapter speaking CBOR-encoded RPC over a
// WebSocket. The connection is dialed lazily and redialed on the next call
// after it drops; live channels do not survive a drop, their Events close
// with the connection error so the bridge can reopen them.
package rpcws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/uuid"
	gorilla "github.com/gorilla/websocket"

	"github.com/whyfailclub/whyfail.go/internal/codec"
	"github.com/whyfailclub/whyfail.go/pkg/backend/rpcws/wire"
	"github.com/whyfailclub/whyfail.go/pkg/constants"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

// DefaultDialer is the gorilla dialer used unless WithDialer is given.
//
// It is gorilla's default dialer with compression enabled and the cbor
// subprotocol requested.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{wire.Subprotocol},
}

type Option func(c *Client)

// WithTimeout bounds every request. Zero leaves timeouts to the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithDialer(d *gorilla.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func WithEventBuffer(n int) Option {
	return func(c *Client) {
		c.buffer = n
	}
}

type Client struct {
	url     string
	dialer  *gorilla.Dialer
	codec   *codec.CBOR
	timeout time.Duration
	buffer  int
	logger  logger.Logger

	// dialMu serializes dials so that concurrent calls share one connection.
	dialMu sync.Mutex
	// writeMu serializes frame writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *conn
	pending  map[string]chan wire.Frame
	channels map[string]*channel
	closed   bool
}

// conn is one dialed connection and the lifetime of its read loop.
type conn struct {
	ws   *gorilla.Conn
	done chan struct{}
	err  error
}

// New validates the URL and returns a client. No connection is made until
// the first call.
func New(rawURL string, opts ...Option) (*Client, error) {
	if rawURL == "" {
		return nil, constants.ErrNoBaseURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != constants.WebsocketScheme && u.Scheme != constants.SecureWebsocketScheme {
		return nil, fmt.Errorf("backend url scheme must be %s or %s, got %q",
			constants.WebsocketScheme, constants.SecureWebsocketScheme, u.Scheme)
	}

	c := &Client{
		url:      rawURL,
		dialer:   DefaultDialer,
		codec:    codec.NewCBOR(),
		timeout:  constants.DefaultWSTimeout,
		buffer:   constants.DefaultEventBuffer,
		logger:   logger.Default(),
		pending:  make(map[string]chan wire.Frame),
		channels: make(map[string]*channel),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// connect returns the live connection, dialing a new one if needed.
func (c *Client) connect(ctx context.Context) (*conn, error) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, constants.ErrClosed
	}
	if c.conn != nil {
		cn := c.conn
		c.mu.Unlock()
		return cn, nil
	}
	c.mu.Unlock()

	ws, res, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}

	cn := &conn{ws: ws, done: make(chan struct{})}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return nil, constants.ErrClosed
	}
	c.conn = cn
	c.mu.Unlock()

	c.logger.Debug("rpcws connected", "url", c.url)
	go c.readLoop(cn)
	return cn, nil
}

func (c *Client) readLoop(cn *conn) {
	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			c.drop(cn, err)
			return
		}
		c.handleFrame(data)
	}
}

// drop forgets cn, fails its pending requests and disconnects its channels.
func (c *Client) drop(cn *conn, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == cn {
		c.conn = nil
	}
	if cn.err != nil {
		return
	}
	if c.closed {
		cause = constants.ErrClosed
	}
	cn.err = cause
	close(cn.done)
	_ = cn.ws.Close()

	for id, ch := range c.channels {
		ch.close(fmt.Errorf("%w: %v", ErrDisconnected, cause))
		delete(c.channels, id)
	}
	if !c.closed {
		c.logger.Warn("rpcws connection lost", "url", c.url, "error", cause)
	}
}

func (c *Client) handleFrame(data []byte) {
	var f wire.Frame
	if err := c.codec.Unmarshal(data, &f); err != nil {
		c.logger.Error("rpcws failed to decode frame", "error", err)
		return
	}

	if f.Notification != nil {
		c.notify(f.Notification)
		return
	}
	if f.ID == "" {
		c.logger.Error("rpcws frame without id", "error", fmt.Sprint(f.Error))
		return
	}

	c.mu.Lock()
	resCh, ok := c.pending[f.ID]
	delete(c.pending, f.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("rpcws response for unknown request", "id", f.ID)
		return
	}
	resCh <- f
}

func (c *Client) notify(n *wire.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.channels[n.Channel]
	if !ok {
		return
	}
	if n.Closed {
		ch.close(fmt.Errorf("%w: %s", ErrChannelClosedByServer, n.Reason))
		delete(c.channels, n.Channel)
		return
	}
	if n.Event == nil {
		return
	}
	if !ch.deliver(*n.Event) {
		c.logger.Warn("rpcws dropping slow live channel", "channel", ch.id)
		ch.close(errOverflow)
		delete(c.channels, ch.id)
	}
}

// Send performs one request and returns the raw result.
func (c *Client) Send(ctx context.Context, method wire.Method, params ...any) (cbor.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.Must(uuid.NewV4()).String()
	data, err := c.codec.Marshal(wire.Request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	resCh := make(chan wire.Frame, 1)
	c.mu.Lock()
	c.pending[id] = resCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(cn, data); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", constants.ErrTimeout, method)
		}
		return nil, ctx.Err()
	case <-cn.done:
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, cn.err)
	case f := <-resCh:
		if f.Error != nil {
			return nil, f.Error
		}
		return f.Result, nil
	}
}

func (c *Client) write(cn *conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := cn.ws.WriteMessage(gorilla.BinaryMessage, data); err != nil {
		c.drop(cn, err)
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

func (c *Client) decode(raw cbor.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return c.codec.Unmarshal(raw, dst)
}

// Ping round-trips an empty request.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Send(ctx, wire.MethodPing)
	return err
}

func (c *Client) Select(ctx context.Context, q remote.SelectQuery) ([]remote.Row, error) {
	if err := q.Validate(); err != nil {
		return nil, &remote.ReadError{Table: q.Table, Err: err}
	}
	raw, err := c.Send(ctx, wire.MethodSelect, q)
	if err != nil {
		if remote.IsNoRows(err) {
			return nil, err
		}
		return nil, &remote.ReadError{Table: q.Table, Err: err}
	}
	var rows []remote.Row
	if err := c.decode(raw, &rows); err != nil {
		return nil, &remote.ReadError{Table: q.Table, Err: err}
	}
	return rows, nil
}

func (c *Client) Insert(ctx context.Context, table string, row remote.Row) (remote.Row, error) {
	raw, err := c.Send(ctx, wire.MethodInsert, table, row)
	if err != nil {
		return nil, &remote.WriteError{Op: string(wire.MethodInsert), Table: table, Err: err}
	}
	var stored remote.Row
	if err := c.decode(raw, &stored); err != nil {
		return nil, &remote.WriteError{Op: string(wire.MethodInsert), Table: table, Err: err}
	}
	return stored, nil
}

func (c *Client) Update(ctx context.Context, table string, filters []remote.Filter, patch remote.Row) error {
	if _, err := c.Send(ctx, wire.MethodUpdate, table, filters, patch); err != nil {
		return &remote.WriteError{Op: string(wire.MethodUpdate), Table: table, Err: err}
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, table string, filters []remote.Filter) error {
	if _, err := c.Send(ctx, wire.MethodDelete, table, filters); err != nil {
		return &remote.WriteError{Op: string(wire.MethodDelete), Table: table, Err: err}
	}
	return nil
}

func (c *Client) Invoke(ctx context.Context, procedure string, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.Send(ctx, wire.MethodInvoke, procedure, args)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", procedure, err)
	}
	var out any
	if err := c.decode(raw, &out); err != nil {
		return nil, fmt.Errorf("invoke %s: decode result: %w", procedure, err)
	}
	return out, nil
}

// Close sends a close frame, closes the connection and disconnects every
// channel with ErrClosed.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cn := c.conn
	for id, ch := range c.channels {
		ch.close(constants.ErrClosed)
		delete(c.channels, id)
	}
	c.mu.Unlock()

	if cn == nil {
		return nil
	}

	c.writeMu.Lock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Second)
	}
	err := cn.ws.WriteControl(gorilla.CloseMessage,
		gorilla.FormatCloseMessage(constants.CloseMessageCode, ""), deadline)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Debug("rpcws failed to write close message", "error", err)
	}

	_ = cn.ws.Close()
	select {
	case <-cn.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

var _ remote.Collaborator = (*Client)(nil)

