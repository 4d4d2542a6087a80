package memstore

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/pubsub"
	"github.com/nfrund/quickchat/internal/store"
	"github.com/nfrund/quickchat/internal/store/query"
)

// conn is one client connection. Its subscription state lives behind mu and
// is only changed under Server.mu or by the bus handler, so the rows a client
// sees always follow commit order.
type conn struct {
	server   *Server
	opts     store.ConnectOptions
	logger   *slog.Logger
	tables   *store.Tables
	reducers *reducers

	mu        sync.Mutex
	identity  domain.Identity
	active    bool
	closed    bool
	live      *store.LiveQueries
	cache     *store.ClientCache
	cancelBus context.CancelFunc
}

func newConn(s *Server, opts store.ConnectOptions) *conn {
	c := &conn{
		server: s,
		opts:   opts,
		logger: s.logger.With("conn", uuid.NewString()),
		tables: store.NewTables(),
		live:   store.NewLiveQueries(),
		cache:  store.NewClientCache(),
	}
	c.reducers = &reducers{conn: c}
	return c
}

func (c *conn) post(fn func()) {
	c.opts.Dispatcher.Post(fn)
}

func (c *conn) connectError(err error) {
	c.logger.Warn("Handshake failed", "event", "connect_error", "error", err)
	if c.opts.OnConnectError != nil {
		c.post(func() { c.opts.OnConnectError(err) })
	}
}

// handshake authenticates the token, registers the connection and runs the
// client_connected hook.
func (c *conn) handshake(ctx context.Context) {
	token := c.opts.Token
	if token == "" {
		token = store.MintToken()
	}
	id, err := store.IdentityFromToken(token)
	if err != nil {
		c.connectError(err)
		return
	}
	if err := ctx.Err(); err != nil {
		c.connectError(err)
		return
	}

	s := c.server
	busCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		c.connectError(ErrConnectionLost)
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.mu.Unlock()
		cancel()
		return
	}
	c.identity = id
	c.active = true
	c.cancelBus = cancel
	c.logger = c.logger.With("identity", id.String())
	c.mu.Unlock()

	if err := s.bus.Subscribe(busCtx, RowsTopic, c.handleChange); err != nil {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
		s.mu.Unlock()
		cancel()
		c.connectError(err)
		return
	}
	s.conns[c] = struct{}{}
	s.clientConnectedLocked(ctx, id)
	s.mu.Unlock()

	c.logger.Info("Client connected", "event", "client_connected")
	if c.opts.OnConnect != nil {
		c.post(func() { c.opts.OnConnect(c, id, token) })
	}
}

// close ends the connection and runs the client_disconnected hook. It
// reports whether this call closed it.
func (c *conn) close(cause error) bool {
	s := c.server
	s.mu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.mu.Unlock()
		return false
	}
	wasActive := c.active
	c.closed = true
	c.active = false
	c.live.Clear()
	cancel := c.cancelBus
	id := c.identity
	c.mu.Unlock()

	if wasActive {
		delete(s.conns, c)
		s.clientDisconnectedLocked(context.Background(), id)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasActive {
		c.logger.Info("Client disconnected", "event", "client_disconnected", "cause", cause)
		if c.opts.OnDisconnect != nil {
			c.post(func() { c.opts.OnDisconnect(c, cause) })
		}
	}
	return true
}

// handleChange turns one committed change into events for this client.
func (c *conn) handleChange(_ context.Context, msg pubsub.Message) error {
	table, key, row, err := decodeChange(msg.Payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}
	var probe query.Row
	if r, ok := row.(query.Row); ok {
		probe = r
	}
	matching, others := c.live.Partition(table, probe)
	for _, ev := range c.cache.Apply(table, key, row, matching, others) {
		c.deliver(ev)
	}
	return nil
}

// deliver queues ev for the client's callbacks. The admission check runs on
// the dispatcher so that an unsubscribe issued in between wins.
func (c *conn) deliver(ev store.RowEvent) {
	c.post(func() {
		if c.live.Admits(ev) {
			c.tables.Fire(ev)
		}
	})
}

func (c *conn) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *conn) Users() store.Table[domain.User]       { return c.tables.Users }
func (c *conn) Rooms() store.Table[domain.Room]       { return c.tables.Rooms }
func (c *conn) Messages() store.Table[domain.Message] { return c.tables.Messages }
func (c *conn) Pointers() store.Table[domain.Pointer] { return c.tables.Pointers }
func (c *conn) Reducers() store.Reducers              { return c.reducers }

// Subscribe registers src and queues its initial rows followed by onApplied.
// The in-process store never rejects a query after accepting it, so onError
// is not called.
func (c *conn) Subscribe(src string, onApplied func(), _ func(err error)) (store.Subscription, error) {
	q, err := store.ParseQuery(src)
	if err != nil {
		return nil, err
	}

	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil, store.ErrNotConnected
	}

	id := c.live.Add(q)
	sub := &subscription{conn: c, id: id, query: src}
	for _, row := range s.matchingLocked(q) {
		key, err := domain.RowKey(row)
		if err != nil {
			continue
		}
		if ev, ok := c.cache.Put(id, q.Table, key, row); ok {
			c.deliver(ev)
		}
	}
	c.post(func() {
		if !c.live.Live(id) {
			return
		}
		sub.applied.Store(true)
		c.logger.Debug("Subscription applied", "event", "subscription_applied", "query", src)
		if onApplied != nil {
			onApplied()
		}
	})
	return sub, nil
}

// Disconnect closes the connection from the client side.
func (c *conn) Disconnect() error {
	c.close(nil)
	return nil
}

type subscription struct {
	conn    *conn
	id      store.SubID
	query   string
	applied atomic.Bool
}

func (s *subscription) Query() string { return s.query }

func (s *subscription) IsActive() bool {
	return s.applied.Load() && s.conn.live.Live(s.id)
}

// Unsubscribe drops the subscription and queues deletes for the rows no
// other subscription holds. Calling it again is a no-op.
func (s *subscription) Unsubscribe() error {
	c := s.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live.Remove(s.id) {
		return nil
	}
	for _, ev := range c.cache.Release(s.id) {
		c.deliver(ev)
	}
	return nil
}
