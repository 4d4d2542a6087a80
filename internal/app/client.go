// Package app composes the chat client: a session, the subscription
// controller and the four view caches, all driven by one event loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nfrund/quickchat/internal/coords"
	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/session"
	"github.com/nfrund/quickchat/internal/store"
	"github.com/nfrund/quickchat/internal/subscription"
	"github.com/nfrund/quickchat/internal/viewcache"
)

// ErrNoRoom is returned by SendMessage when no room is selected.
var ErrNoRoom = errors.New("no room selected")

// Client is the state a renderer reads from and the mutations it issues.
// Reads and mutations are safe from any goroutine; the caches change only on
// the event loop.
type Client struct {
	deps       Dependencies
	logger     *slog.Logger
	session    *session.Session
	controller *subscription.Controller

	messages *viewcache.Messages
	users    *viewcache.Users
	rooms    *viewcache.Rooms
	pointers *viewcache.Pointers

	warm atomic.Bool
	room atomic.Uint64

	// Loop confined.
	conn      store.Conn
	resultID  store.CallbackID
	hasResult bool

	mu          sync.Mutex
	listeners   []func()
	lastPointer time.Time
}

// New builds a client. Nothing connects until Start.
func New(deps Dependencies) *Client {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = logNotifier{logger: deps.Logger}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	c := &Client{deps: deps, logger: deps.Logger.With("component", "client")}
	c.room.Store(deps.Room)

	c.messages = viewcache.NewMessages(viewcache.WithOnChange[uint64, domain.Message](c.changed))
	c.users = viewcache.NewUsers(viewcache.WithOnChange[string, domain.User](c.changed))
	c.rooms = viewcache.NewRooms(viewcache.WithOnChange[uint64, domain.Room](c.changed))
	c.pointers = viewcache.NewPointers(deps.Viewport, viewcache.WithOnChange[string, domain.Pointer](c.changed))

	c.controller = subscription.New(
		subscription.WithLogger(deps.Logger),
		subscription.WithOnWarm(func() {
			c.warm.Store(true)
			c.changed()
		}),
	)
	if deps.Room != 0 {
		// No connection yet, so this only records the room.
		_ = c.controller.SetRoom(deps.Room)
	}

	c.session = session.New(session.Options{
		Connector:    deps.Connector,
		Credentials:  deps.Credentials,
		Dispatcher:   deps.Loop,
		Logger:       deps.Logger,
		OnReady:      c.handleReady,
		OnDisconnect: c.handleDisconnect,
	})
	return c
}

// Start opens the session. The event loop must be running.
func (c *Client) Start(ctx context.Context) error {
	return c.session.Open(ctx)
}

func (c *Client) handleReady(conn store.Conn, self domain.Identity) {
	c.detach()
	c.conn = conn

	var errs []error
	errs = append(errs,
		c.messages.Attach(conn.Messages()),
		c.users.Attach(conn.Users()),
		c.rooms.Attach(conn.Rooms()),
		c.pointers.Attach(conn.Pointers()),
	)
	c.resultID = conn.Reducers().OnResult(c.handleResult)
	c.hasResult = true

	errs = append(errs, c.controller.Start(conn, self))
	if err := errors.Join(errs...); err != nil {
		c.logger.Error("Client start incomplete", "event", "client_start_error", "error", err)
	}
	c.changed()
}

func (c *Client) handleDisconnect(error) {
	c.controller.ConnectionChanged(false)
	c.warm.Store(false)
	c.detach()
	// Cursors are live state; the server drops them with the connection.
	c.pointers.Clear()
	c.changed()
}

func (c *Client) handleResult(ev store.ReducerEvent) {
	if ev.Status != store.StatusFailed {
		return
	}
	c.deps.Notifier.Notify(ev.Reducer, ev.Message)
}

func (c *Client) detach() {
	c.messages.Detach()
	c.users.Detach()
	c.rooms.Detach()
	c.pointers.Detach()
	if c.conn != nil && c.hasResult {
		c.conn.Reducers().RemoveOnResult(c.resultID)
	}
	c.hasResult = false
	c.conn = nil
}

// OnChange registers fn to run on the event loop after any change to the
// client's state.
func (c *Client) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Client) changed() {
	c.mu.Lock()
	listeners := append([]func(){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// SelectRoom switches the message view to room.
func (c *Client) SelectRoom(room uint64) {
	c.room.Store(room)
	c.deps.Loop.Post(func() {
		if err := c.controller.SetRoom(room); err != nil {
			c.logger.Error("Room switch failed", "event", "room_switch_error", "room", room, "error", err)
		}
		c.changed()
	})
}

// SendMessage posts text to the selected room. Blank text is ignored.
func (c *Client) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	room := c.room.Load()
	if room == 0 {
		return ErrNoRoom
	}
	conn, err := c.activeConn()
	if err != nil {
		return err
	}
	return conn.Reducers().SendMessage(text, room)
}

// SetName renames the local user. Blank names are ignored.
func (c *Client) SetName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	conn, err := c.activeConn()
	if err != nil {
		return err
	}
	return conn.Reducers().SetName(name)
}

// MovePointer publishes the local pointer at device position (x, y).
// Movements closer together than the configured interval are dropped.
func (c *Client) MovePointer(x, y float64) error {
	p, err := coords.Normalize(coords.Point{X: x, Y: y}, c.deps.Viewport.Viewport())
	if err != nil {
		return err
	}
	if c.deps.PointerInterval > 0 {
		now := c.deps.Now()
		c.mu.Lock()
		if !c.lastPointer.IsZero() && now.Sub(c.lastPointer) < c.deps.PointerInterval {
			c.mu.Unlock()
			return nil
		}
		c.lastPointer = now
		c.mu.Unlock()
	}
	conn, err := c.activeConn()
	if err != nil {
		return err
	}
	return conn.Reducers().SetPointerPosition(p.X, p.Y)
}

func (c *Client) activeConn() (store.Conn, error) {
	conn := c.session.Conn()
	if conn == nil || !c.session.Connected() {
		return nil, store.ErrNotConnected
	}
	return conn, nil
}

// Messages returns the selected room's messages, oldest first.
func (c *Client) Messages() []domain.Message {
	return viewcache.SortedMessages(c.messages.Snapshot())
}

func (c *Client) Users() viewcache.Snapshot[string, domain.User]       { return c.users.Snapshot() }
func (c *Client) Rooms() viewcache.Snapshot[uint64, domain.Room]       { return c.rooms.Snapshot() }
func (c *Client) Pointers() viewcache.Snapshot[string, domain.Pointer] { return c.pointers.Snapshot() }

// Connected reports whether the session is connected.
func (c *Client) Connected() bool { return c.session.Connected() }

// Identity returns the local user's identity once known.
func (c *Client) Identity() (domain.Identity, bool) { return c.session.Identity() }

// Warm reports whether every baseline subscription was applied.
func (c *Client) Warm() bool { return c.warm.Load() }

// Room returns the selected room, zero if none.
func (c *Client) Room() uint64 { return c.room.Load() }

// DisplayName is the local user's name, or a short identity while unnamed.
func (c *Client) DisplayName() string {
	id, ok := c.Identity()
	if !ok {
		return ""
	}
	fallback := id.String()[:8]
	if u, ok := c.users.Snapshot().Get(domain.UserKey(domain.User{Identity: id})); ok {
		return u.DisplayName(fallback)
	}
	return fallback
}

// Close ends every subscription, detaches the caches and disconnects. It must
// not be called from the event loop.
func (c *Client) Close(ctx context.Context) error {
	err := c.deps.Loop.Do(ctx, func() {
		c.controller.Teardown()
		c.detach()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("Loop unavailable during close", "event", "client_close", "error", err)
	}
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}
