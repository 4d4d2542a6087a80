package wsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/store"
)

var (
	// ErrConnectionLost is reported to OnDisconnect when the socket ends
	// without the client asking for it.
	ErrConnectionLost = errors.New("connection lost")
	// ErrSubscriptionRejected is passed to a subscription's error callback.
	ErrSubscriptionRejected = errors.New("subscription rejected")
)

// Connector dials a Handler.
type Connector struct {
	url              string
	logger           *slog.Logger
	dialOptions      *websocket.DialOptions
	handshakeTimeout time.Duration
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithLogger sets the connector's logger.
func WithLogger(logger *slog.Logger) ConnectorOption {
	return func(c *Connector) { c.logger = logger }
}

// WithDialOptions sets the options used to dial.
func WithDialOptions(opts *websocket.DialOptions) ConnectorOption {
	return func(c *Connector) { c.dialOptions = opts }
}

// WithHandshakeTimeout bounds dialing plus the hello exchange.
func WithHandshakeTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) { c.handshakeTimeout = d }
}

// NewConnector returns a Connector for the ws:// or wss:// url.
func NewConnector(url string, opts ...ConnectorOption) *Connector {
	c := &Connector{url: url, logger: slog.Default(), handshakeTimeout: handshakeTimeout}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "wsstore", "url", url)
	return c
}

// Connect starts dialing in the background and returns the handle at once.
func (c *Connector) Connect(ctx context.Context, opts store.ConnectOptions) (store.Conn, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("wsstore: a dispatcher is required")
	}
	cn := &clientConn{
		connector: c,
		opts:      opts,
		logger:    c.logger,
		tables:    store.NewTables(),
		live:      store.NewLiveQueries(),
		subs:      make(map[store.SubID]*clientSub),
	}
	cn.reducers = &clientReducers{conn: cn}
	go cn.run(ctx)
	return cn, nil
}

type clientConn struct {
	connector *Connector
	opts      store.ConnectOptions
	logger    *slog.Logger
	tables    *store.Tables
	results   store.ResultCallbacks
	live      *store.LiveQueries
	reducers  *clientReducers

	mu     sync.Mutex
	ws     *websocket.Conn
	active bool
	closed bool
	subs   map[store.SubID]*clientSub
}

func (c *clientConn) post(fn func()) { c.opts.Dispatcher.Post(fn) }

func (c *clientConn) connectError(err error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.logger.Warn("Handshake failed", "event", "connect_error", "error", err)
	if c.opts.OnConnectError != nil {
		c.post(func() { c.opts.OnConnectError(err) })
	}
}

func (c *clientConn) run(ctx context.Context) {
	hctx, cancel := context.WithTimeout(ctx, c.connector.handshakeTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(hctx, c.connector.url, c.connector.dialOptions)
	if err != nil {
		c.connectError(fmt.Errorf("dial %s: %w", c.connector.url, err))
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.CloseNow()
		return
	}
	c.ws = ws
	c.mu.Unlock()

	id, token, err := c.handshake(hctx, ws)
	if err != nil {
		c.connectError(err)
		ws.CloseNow()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.active = true
	c.logger = c.logger.With("identity", id.String())
	c.mu.Unlock()

	c.logger.Info("Connected", "event", "ws_connected")
	if c.opts.OnConnect != nil {
		c.post(func() { c.opts.OnConnect(c, id, token) })
	}
	c.readPump(ws)
}

func (c *clientConn) handshake(ctx context.Context, ws *websocket.Conn) (domain.Identity, string, error) {
	if err := wsjson.Write(ctx, ws, Frame{Type: TypeHello, Token: c.opts.Token}); err != nil {
		return domain.Identity{}, "", fmt.Errorf("send hello: %w", err)
	}
	var f Frame
	if err := wsjson.Read(ctx, ws, &f); err != nil {
		return domain.Identity{}, "", fmt.Errorf("read handshake reply: %w", err)
	}
	switch f.Type {
	case TypeIdentity:
		id, err := domain.ParseIdentity(f.Identity)
		if err != nil {
			return domain.Identity{}, "", err
		}
		return id, f.Token, nil
	case TypeConnectError:
		if f.Code == CodeInvalidToken {
			return domain.Identity{}, "", fmt.Errorf("%w: %s", store.ErrInvalidToken, f.Error)
		}
		return domain.Identity{}, "", fmt.Errorf("%w: %s", ErrRejected, f.Error)
	}
	return domain.Identity{}, "", fmt.Errorf("unexpected %q frame during handshake", f.Type)
}

func (c *clientConn) readPump(ws *websocket.Conn) {
	for {
		var f Frame
		if err := wsjson.Read(context.Background(), ws, &f); err != nil {
			c.lost(err)
			return
		}
		c.handleFrame(f)
	}
}

func (c *clientConn) lost(err error) {
	c.mu.Lock()
	wasActive := c.active
	byClient := c.closed
	c.active = false
	c.live.Clear()
	c.mu.Unlock()
	if !wasActive {
		return
	}

	var cause error
	if !byClient {
		cause = fmt.Errorf("%w: %v", ErrConnectionLost, err)
		c.logger.Warn("Connection lost", "event", "ws_connection_lost", "error", err)
	}
	if c.opts.OnDisconnect != nil {
		c.post(func() { c.opts.OnDisconnect(c, cause) })
	}
}

func (c *clientConn) handleFrame(f Frame) {
	switch f.Type {
	case TypeInsert, TypeUpdate, TypeDelete:
		ev, err := decodeRowFrame(f)
		if err != nil {
			c.logger.Error("Dropping undecodable row", "event", "ws_decode_error", "table", f.Table, "error", err)
			return
		}
		c.post(func() {
			if c.live.Admits(ev) {
				c.tables.Fire(ev)
			}
		})

	case TypeApplied:
		sub := c.sub(f.ID)
		if sub == nil {
			return
		}
		c.post(func() {
			if !c.live.Live(sub.id) {
				return
			}
			sub.applied.Store(true)
			if sub.onApplied != nil {
				sub.onApplied()
			}
		})

	case TypeSubscriptionError:
		sub := c.sub(f.ID)
		if sub == nil {
			return
		}
		err := fmt.Errorf("%w: %s", ErrSubscriptionRejected, f.Error)
		c.post(func() {
			if !c.live.Remove(sub.id) {
				return
			}
			c.forget(sub.id)
			if sub.onError != nil {
				sub.onError(err)
			}
		})

	case TypeResult:
		ev := store.ReducerEvent{Reducer: f.Reducer, Status: parseStatus(f.Status), Message: f.Message}
		c.post(func() { c.results.Fire(ev) })

	default:
		c.logger.Warn("Unexpected frame", "event", "ws_unexpected_frame", "type", f.Type)
	}
}

func decodeRowFrame(f Frame) (store.RowEvent, error) {
	ev := store.RowEvent{Table: f.Table}
	switch f.Type {
	case TypeInsert:
		ev.Kind = store.RowInsert
	case TypeUpdate:
		ev.Kind = store.RowUpdate
	case TypeDelete:
		ev.Kind = store.RowDelete
	}
	var err error
	if len(f.Old) > 0 {
		if ev.Old, err = domain.DecodeRow(f.Table, f.Old); err != nil {
			return store.RowEvent{}, err
		}
	}
	if len(f.New) > 0 {
		if ev.New, err = domain.DecodeRow(f.Table, f.New); err != nil {
			return store.RowEvent{}, err
		}
	}
	return ev, nil
}

func (c *clientConn) sub(id store.SubID) *clientSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

func (c *clientConn) forget(id store.SubID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

func (c *clientConn) write(f Frame) error {
	c.mu.Lock()
	ws, active := c.ws, c.active
	c.mu.Unlock()
	if !active {
		return store.ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, f)
}

func (c *clientConn) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *clientConn) Users() store.Table[domain.User]       { return c.tables.Users }
func (c *clientConn) Rooms() store.Table[domain.Room]       { return c.tables.Rooms }
func (c *clientConn) Messages() store.Table[domain.Message] { return c.tables.Messages }
func (c *clientConn) Pointers() store.Table[domain.Pointer] { return c.tables.Pointers }
func (c *clientConn) Reducers() store.Reducers              { return c.reducers }

// Subscribe validates src locally, then asks the server for it.
func (c *clientConn) Subscribe(src string, onApplied func(), onError func(err error)) (store.Subscription, error) {
	q, err := store.ParseQuery(src)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil, store.ErrNotConnected
	}
	id := c.live.Add(q)
	sub := &clientSub{conn: c, id: id, query: src, onApplied: onApplied, onError: onError}
	c.subs[id] = sub
	c.mu.Unlock()

	if err := c.write(Frame{Type: TypeSubscribe, ID: id, Query: src}); err != nil {
		c.live.Remove(id)
		c.forget(id)
		return nil, fmt.Errorf("send subscribe: %w", err)
	}
	return sub, nil
}

// Disconnect closes the socket. OnDisconnect follows with a nil error.
func (c *clientConn) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		return ws.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

type clientSub struct {
	conn      *clientConn
	id        store.SubID
	query     string
	onApplied func()
	onError   func(err error)
	applied   atomic.Bool
}

func (s *clientSub) Query() string { return s.query }

func (s *clientSub) IsActive() bool {
	return s.applied.Load() && s.conn.live.Live(s.id)
}

// Unsubscribe stops local delivery at once and tells the server, whose
// deletes for released rows follow.
func (s *clientSub) Unsubscribe() error {
	c := s.conn
	if !c.live.Remove(s.id) {
		return nil
	}
	c.forget(s.id)
	if err := c.write(Frame{Type: TypeUnsubscribe, ID: s.id}); err != nil && !errors.Is(err, store.ErrNotConnected) {
		return fmt.Errorf("send unsubscribe: %w", err)
	}
	return nil
}

type clientReducers struct {
	conn *clientConn
}

func (r *clientReducers) SendMessage(text string, roomID uint64) error {
	return r.call(store.ReducerSendMessage, sendMessageArgs{Text: text, Room: roomID})
}

func (r *clientReducers) SetName(name string) error {
	return r.call(store.ReducerSetName, setNameArgs{Name: name})
}

func (r *clientReducers) SetPointerPosition(x, y float64) error {
	return r.call(store.ReducerSetPointerPosition, pointerArgs{X: x, Y: y})
}

func (r *clientReducers) OnResult(fn func(ev store.ReducerEvent)) store.CallbackID {
	return r.conn.results.OnResult(fn)
}

func (r *clientReducers) RemoveOnResult(id store.CallbackID) { r.conn.results.RemoveOnResult(id) }

func (r *clientReducers) call(reducer string, args any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return r.conn.write(Frame{Type: TypeCall, Reducer: reducer, Args: raw})
}
