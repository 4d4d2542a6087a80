package surrealstore

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nfrund/quickchat/internal/database"
	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/store"
	"github.com/nfrund/quickchat/internal/store/query"
)

// conn is one client connection. Row state for the client lives behind mu;
// feedMu serializes the creation of the per-table live feeds and is never
// held while waiting on mu from a feed handler.
type conn struct {
	store    *Store
	opts     store.ConnectOptions
	logger   *slog.Logger
	tables   *store.Tables
	reducers *reducers

	feedMu sync.Mutex

	mu       sync.Mutex
	identity domain.Identity
	active   bool
	closed   bool
	live     *store.LiveQueries
	cache    *store.ClientCache
	feeds    map[string]string
}

func newConn(s *Store, opts store.ConnectOptions) *conn {
	c := &conn{
		store:  s,
		opts:   opts,
		logger: s.logger.With("conn", uuid.NewString()),
		tables: store.NewTables(),
		live:   store.NewLiveQueries(),
		cache:  store.NewClientCache(),
		feeds:  make(map[string]string),
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

// handshake authenticates the token and marks the user online, keeping any
// name it already had.
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

	err = c.store.exec(ctx, "UPSERT type::thing('user', $id) SET identity = $id, online = true",
		map[string]any{"id": id.String()})
	if err != nil {
		c.connectError(err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.markOffline(id)
		return
	}
	c.identity = id
	c.active = true
	c.logger = c.logger.With("identity", id.String())
	c.mu.Unlock()

	c.logger.Info("Client connected", "event", "client_connected")
	if c.opts.OnConnect != nil {
		c.post(func() { c.opts.OnConnect(c, id, token) })
	}
}

func (c *conn) markOffline(id domain.Identity) {
	err := c.store.exec(context.Background(),
		"UPDATE type::thing('user', $id) SET online = false; DELETE type::thing('pointer', $id);",
		map[string]any{"id": id.String()})
	if err != nil {
		c.logger.Error("Failed to mark user offline", "event", "client_disconnect_error", "error", err)
	}
}

// close ends the connection, stops its feeds and marks the user offline. It
// reports whether this call closed it.
func (c *conn) close(cause error) bool {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	wasActive := c.active
	c.closed = true
	c.active = false
	c.live.Clear()
	feeds := c.feeds
	c.feeds = make(map[string]string)
	id := c.identity
	c.mu.Unlock()

	for table, subID := range feeds {
		if err := c.store.live.Unsubscribe(subID); err != nil {
			c.logger.Warn("Failed to stop live feed", "event", "feed_stop_error", "table", table, "error", err)
		}
	}
	if !wasActive {
		return true
	}

	c.markOffline(id)
	c.logger.Info("Client disconnected", "event", "client_disconnected", "cause", cause)
	if c.opts.OnDisconnect != nil {
		c.post(func() { c.opts.OnDisconnect(c, cause) })
	}
	return true
}

// ensureFeed starts the live feed of table unless it is running.
func (c *conn) ensureFeed(ctx context.Context, table string) error {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()

	c.mu.Lock()
	_, running := c.feeds[table]
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return store.ErrNotConnected
	}
	if running {
		return nil
	}

	sub, err := c.store.live.Subscribe(ctx, table, nil, c.handleNotification(table))
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.feeds[table] = sub.ID
	c.mu.Unlock()
	c.logger.Debug("Live feed started", "event", "feed_started", "table", table, "live_id", sub.ID)
	return nil
}

// handleNotification turns feed notifications of table into events for
// this client.
func (c *conn) handleNotification(table string) database.LiveQueryHandler {
	return func(_ context.Context, action database.LiveQueryAction, data any) {
		row, key, err := decodeNotification(table, data)
		if action == database.ActionDelete {
			row = nil
		} else if err != nil {
			key = ""
		}
		if key == "" {
			c.logger.Warn("Dropping undecodable notification", "event", "notification_decode_error",
				"table", table, "action", action, "error", err)
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.active {
			return
		}
		var probe query.Row
		if r, ok := row.(query.Row); ok {
			probe = r
		}
		matching, others := c.live.Partition(table, probe)
		for _, ev := range c.cache.Apply(table, key, row, matching, others) {
			c.deliver(ev)
		}
	}
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

// Subscribe registers src and loads its initial rows in the background. The
// table's live feed is started before the initial select, so no change
// committed after the select can be missed.
func (c *conn) Subscribe(src string, onApplied func(), onError func(err error)) (store.Subscription, error) {
	q, err := store.ParseQuery(src)
	if err != nil {
		return nil, err
	}
	if _, _, err := selectStatement(q); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil, store.ErrNotConnected
	}
	id := c.live.Add(q)
	c.mu.Unlock()

	sub := &subscription{conn: c, id: id, query: src}
	go c.load(sub, q, onApplied, onError)
	return sub, nil
}

func (c *conn) load(sub *subscription, q query.Query, onApplied func(), onError func(err error)) {
	ctx := context.Background()
	fail := func(err error) {
		c.mu.Lock()
		removed := c.live.Remove(sub.id)
		for _, ev := range c.cache.Release(sub.id) {
			c.deliver(ev)
		}
		c.mu.Unlock()
		if !removed {
			return
		}
		c.logger.Warn("Subscription failed", "event", "subscription_error", "query", sub.query, "error", err)
		if onError != nil {
			c.post(func() { onError(err) })
		}
	}

	if err := c.ensureFeed(ctx, q.Table); err != nil {
		fail(err)
		return
	}
	rows, err := c.store.selectRows(ctx, q)
	if err != nil {
		fail(err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live.Live(sub.id) {
		return
	}
	for _, row := range rows {
		key, err := domain.RowKey(row)
		if err != nil {
			continue
		}
		// A feed notification that already reached the cache is at least
		// as recent as the select result.
		if current, ok := c.cache.Get(q.Table, key); ok {
			row = current
		}
		if ev, ok := c.cache.Put(sub.id, q.Table, key, row); ok {
			c.deliver(ev)
		}
	}
	c.post(func() {
		if !c.live.Live(sub.id) {
			return
		}
		sub.applied.Store(true)
		c.logger.Debug("Subscription applied", "event", "subscription_applied", "query", sub.query)
		if onApplied != nil {
			onApplied()
		}
	})
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
// other subscription holds. Calling it again is a no-op. The table's feed
// keeps running for the lifetime of the connection.
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
