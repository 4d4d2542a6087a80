// Package subscription drives the lifecycle of the client's query
// subscriptions: the baseline filters issued once the connection is ready
// and the per-room message filter that follows the user's navigation.
package subscription

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/store"
)

// State is the lifecycle state of one logical filter.
type State int

const (
	Inactive State = iota
	Pending
	Active
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Pending:
		return "pending"
	case Active:
		return "active"
	}
	return "unknown"
}

// Filter names.
const (
	FilterRooms    = "rooms"
	FilterUsers    = "users"
	FilterPointers = "pointers"
	FilterMessages = "messages"
)

// ErrNoConnection is returned when a filter is issued before Start.
var ErrNoConnection = errors.New("subscription controller has no connection")

// RoomsQuery, UsersQuery, PointersQuery and MessagesQuery build the queries
// behind each filter.
func RoomsQuery() string { return "SELECT * FROM " + domain.TableRoom }

func UsersQuery() string { return "SELECT * FROM " + domain.TableUser }

func PointersQuery(self domain.Identity) string {
	return fmt.Sprintf("SELECT * FROM %s WHERE owner != '%s'", domain.TablePointer, self)
}

func MessagesQuery(room uint64) string {
	return fmt.Sprintf("SELECT * FROM %s WHERE room = %d", domain.TableMessage, room)
}

type filter struct {
	name  string
	query string
	state State
	sub   store.Subscription
	// gen identifies the instance a callback belongs to, so acknowledgments
	// of a replaced instance are ignored.
	gen uint64
}

// Controller is confined to the client's event loop: every method and every
// callback it registers runs there.
type Controller struct {
	logger  *slog.Logger
	onWarm  func()
	conn    store.Conn
	self    domain.Identity
	filters map[string]*filter
	gen     uint64

	baseline []string
	applied  int
	warm     bool

	room    uint64
	hasRoom bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithOnWarm registers a function run when every baseline filter is applied.
func WithOnWarm(fn func()) Option {
	return func(c *Controller) { c.onWarm = fn }
}

// New returns an idle controller.
func New(opts ...Option) *Controller {
	c := &Controller{
		logger:   slog.Default(),
		filters:  make(map[string]*filter),
		baseline: []string{FilterRooms, FilterUsers, FilterPointers},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "subscription")
	for _, name := range append(c.baseline, FilterMessages) {
		c.filters[name] = &filter{name: name}
	}
	return c
}

// Start issues the baseline filters on conn, plus the room filter if a room
// was selected. Filters already Pending or Active on the same connection are
// left alone, so calling Start again does not duplicate subscriptions.
func (c *Controller) Start(conn store.Conn, self domain.Identity) error {
	if c.conn != nil && c.conn != conn {
		c.Teardown()
	}
	c.conn = conn
	c.self = self

	var errs []error
	for _, name := range c.baseline {
		f := c.filters[name]
		if f.state != Inactive {
			continue
		}
		f.query = c.queryFor(name)
		if err := c.issue(f); err != nil {
			errs = append(errs, err)
		}
	}
	if c.hasRoom && c.filters[FilterMessages].state == Inactive {
		f := c.filters[FilterMessages]
		f.query = MessagesQuery(c.room)
		if err := c.issue(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) queryFor(name string) string {
	switch name {
	case FilterRooms:
		return RoomsQuery()
	case FilterUsers:
		return UsersQuery()
	case FilterPointers:
		return PointersQuery(c.self)
	}
	return ""
}

// SetRoom switches the message filter to room. The previous room's
// subscription is ended before the new one is issued. Without a connection
// the room is remembered for the next Start.
func (c *Controller) SetRoom(room uint64) error {
	f := c.filters[FilterMessages]
	if c.hasRoom && c.room == room && f.state != Inactive {
		return nil
	}
	c.room, c.hasRoom = room, true
	if c.conn == nil {
		return nil
	}

	c.end(f)
	f.query = MessagesQuery(room)
	return c.issue(f)
}

// Room returns the selected room.
func (c *Controller) Room() (uint64, bool) { return c.room, c.hasRoom }

// ConnectionChanged records a change of the connection's active-ness. When
// the connection is lost every filter drops to Inactive; the server side
// subscriptions died with it. The warm latch resets so that it reflects the
// next connection.
func (c *Controller) ConnectionChanged(active bool) {
	if active {
		return
	}
	for _, f := range c.filters {
		f.state = Inactive
		f.sub = nil
		f.gen = 0
	}
	c.conn = nil
	c.applied = 0
	c.warm = false
	c.logger.Info("Connection lost, subscriptions reset", "event", "subscriptions_reset")
}

// Teardown unsubscribes every Active or Pending filter.
func (c *Controller) Teardown() {
	for _, f := range c.filters {
		c.end(f)
	}
	c.conn = nil
	c.applied = 0
	c.warm = false
}

// State returns the state of the named filter.
func (c *Controller) State(name string) State {
	if f, ok := c.filters[name]; ok {
		return f.state
	}
	return Inactive
}

// Query returns the query of the named filter's current instance.
func (c *Controller) Query(name string) string {
	if f, ok := c.filters[name]; ok && f.state != Inactive {
		return f.query
	}
	return ""
}

// Warm reports whether every baseline filter has been applied.
func (c *Controller) Warm() bool { return c.warm }

// AppliedCount returns how many baseline filters have been applied.
func (c *Controller) AppliedCount() int { return c.applied }

func (c *Controller) issue(f *filter) error {
	if c.conn == nil {
		return ErrNoConnection
	}
	c.gen++
	gen := c.gen
	sub, err := c.conn.Subscribe(f.query,
		func() { c.handleApplied(f, gen) },
		func(err error) { c.handleError(f, gen, err) },
	)
	if err != nil {
		c.logger.Error("Subscribe failed", "event", "subscribe_error", "filter", f.name, "query", f.query, "error", err)
		f.state = Inactive
		return fmt.Errorf("subscribe %s: %w", f.name, err)
	}
	f.sub = sub
	f.gen = gen
	f.state = Pending
	c.logger.Debug("Subscription issued", "event", "subscription_issued", "filter", f.name, "query", f.query)
	return nil
}

func (c *Controller) end(f *filter) {
	if f.state == Inactive {
		return
	}
	if f.sub != nil {
		if err := f.sub.Unsubscribe(); err != nil {
			c.logger.Warn("Unsubscribe failed", "event", "unsubscribe_error", "filter", f.name, "error", err)
		}
	}
	f.sub = nil
	f.gen = 0
	f.state = Inactive
	c.logger.Debug("Subscription ended", "event", "subscription_ended", "filter", f.name, "query", f.query)
}

func (c *Controller) isBaseline(name string) bool {
	for _, b := range c.baseline {
		if b == name {
			return true
		}
	}
	return false
}

func (c *Controller) handleApplied(f *filter, gen uint64) {
	if f.gen != gen || f.state != Pending {
		return
	}
	f.state = Active
	c.logger.Debug("Subscription applied", "event", "subscription_applied", "filter", f.name)

	if !c.isBaseline(f.name) {
		return
	}
	c.applied++
	if c.applied == len(c.baseline) && !c.warm {
		c.warm = true
		c.logger.Info("Client cache initialized", "event", "client_cache_initialized")
		if c.onWarm != nil {
			c.onWarm()
		}
	}
}

func (c *Controller) handleError(f *filter, gen uint64, err error) {
	if f.gen != gen {
		return
	}
	c.logger.Error("Subscription failed", "event", "subscription_error", "filter", f.name, "query", f.query, "error", err)
	f.state = Inactive
	f.sub = nil
	f.gen = 0
}
