// Package memstore is an in-process implementation of the remote store. It
// owns the chat tables, runs the reducers and turns every committed change
// into subscription events for each connected client.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/pubsub"
	"github.com/nfrund/quickchat/internal/store"
	"github.com/nfrund/quickchat/internal/store/query"
)

// RowsTopic is the bus topic committed row changes are published on.
const RowsTopic = "quickchat.rows"

// ErrConnectionLost is reported to OnDisconnect when the server drops a client.
var ErrConnectionLost = errors.New("connection lost")

// Bus carries row changes from the server to the client connections. It must
// deliver to each subscriber in publish order.
type Bus interface {
	pubsub.Publisher
	pubsub.Subscriber
}

// rowChange is the bus payload. Row is absent when the row was deleted.
type rowChange struct {
	Table string          `json:"table"`
	Key   string          `json:"key"`
	Row   json.RawMessage `json:"row,omitempty"`
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the time source used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// Server holds the tables. Lock order is Server.mu before conn.mu; changes
// are published while Server.mu is held, so every connection observes them
// in commit order.
type Server struct {
	mu     sync.Mutex
	bus    Bus
	logger *slog.Logger
	now    func() time.Time

	users    map[string]domain.User
	rooms    map[uint64]domain.Room
	messages map[uint64]domain.Message
	pointers map[string]domain.Pointer

	nextRoomID    uint64
	nextMessageID uint64

	conns  map[*conn]struct{}
	closed bool
}

// NewServer creates a server publishing on bus and seeds the default rooms.
func NewServer(bus Bus, opts ...Option) *Server {
	s := &Server{
		bus:      bus,
		logger:   slog.Default(),
		now:      time.Now,
		users:    make(map[string]domain.User),
		rooms:    make(map[uint64]domain.Room),
		messages: make(map[uint64]domain.Message),
		pointers: make(map[string]domain.Pointer),
		conns:    make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "memstore")

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range domain.SeedRooms {
		if s.roomByNameLocked(name) {
			continue
		}
		s.nextRoomID++
		s.putLocked(context.Background(), "", domain.TableRoom, domain.Room{ID: s.nextRoomID, Name: name})
	}
	return s
}

func (s *Server) roomByNameLocked(name string) bool {
	for _, r := range s.rooms {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Connect implements store.Connector. The handshake completes in the
// background; its outcome is reported through opts.
func (s *Server) Connect(ctx context.Context, opts store.ConnectOptions) (store.Conn, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("memstore: connect without dispatcher")
	}
	c := newConn(s, opts)
	go c.handshake(ctx)
	return c, nil
}

// Disconnect drops every connection of id, as if the network failed. It
// returns the number of dropped connections.
func (s *Server) Disconnect(id domain.Identity) int {
	s.mu.Lock()
	var victims []*conn
	for c := range s.conns {
		if c.identity == id {
			victims = append(victims, c)
		}
	}
	s.mu.Unlock()

	for _, c := range victims {
		c.close(ErrConnectionLost)
	}
	return len(victims)
}

// Close disconnects every client.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	victims := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		victims = append(victims, c)
	}
	s.mu.Unlock()

	for _, c := range victims {
		c.close(ErrConnectionLost)
	}
	return nil
}

// Users returns a copy of the user table, ordered by identity.
func (s *Server) Users() []domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.String() < out[j].Identity.String() })
	return out
}

// Rooms returns a copy of the room table, ordered by id.
func (s *Server) Rooms() []domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomsLocked()
}

func (s *Server) roomsLocked() []domain.Room {
	out := make([]domain.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Messages returns a copy of the message table, ordered by id.
func (s *Server) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesLocked()
}

func (s *Server) messagesLocked() []domain.Message {
	out := make([]domain.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pointer returns the stored pointer of id.
func (s *Server) Pointer(id domain.Identity) (domain.Pointer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pointers[id.String()]
	return p, ok
}

// rowsLocked returns every row of table.
func (s *Server) rowsLocked(table string) []any {
	var out []any
	switch table {
	case domain.TableUser:
		for _, r := range s.users {
			out = append(out, r)
		}
	case domain.TableRoom:
		for _, r := range s.roomsLocked() {
			out = append(out, r)
		}
	case domain.TableMessage:
		for _, r := range s.messagesLocked() {
			out = append(out, r)
		}
	case domain.TablePointer:
		for _, r := range s.pointers {
			out = append(out, r)
		}
	}
	return out
}

// putLocked stores row and publishes the change.
func (s *Server) putLocked(ctx context.Context, actor, table string, row any) {
	key, err := domain.RowKey(row)
	if err != nil {
		s.logger.Error("Refusing to store row without key", "event", "store_invalid_row", "table", table, "error", err)
		return
	}
	switch r := row.(type) {
	case domain.User:
		s.users[key] = r
	case domain.Room:
		s.rooms[r.ID] = r
	case domain.Message:
		s.messages[r.ID] = r
	case domain.Pointer:
		s.pointers[key] = r
	}
	s.publishLocked(ctx, actor, table, key, row)
}

// deleteLocked removes the row stored under key and publishes the change.
func (s *Server) deleteLocked(ctx context.Context, actor, table, key string) {
	switch table {
	case domain.TableUser:
		delete(s.users, key)
	case domain.TablePointer:
		delete(s.pointers, key)
	default:
		s.logger.Warn("Delete not supported", "event", "store_unsupported_delete", "table", table)
		return
	}
	s.publishLocked(ctx, actor, table, key, nil)
}

func (s *Server) publishLocked(ctx context.Context, actor, table, key string, row any) {
	change := rowChange{Table: table, Key: key}
	if row != nil {
		data, err := json.Marshal(row)
		if err != nil {
			s.logger.Error("Failed to encode row", "event", "store_encode_error", "table", table, "key", key, "error", err)
			return
		}
		change.Row = data
	}
	payload, err := json.Marshal(change)
	if err != nil {
		s.logger.Error("Failed to encode change", "event", "store_encode_error", "table", table, "key", key, "error", err)
		return
	}
	msg := pubsub.Message{
		Topic:    RowsTopic,
		UserID:   actor,
		Payload:  payload,
		Metadata: map[string]string{"table": table},
	}
	if err := s.bus.Publish(ctx, msg); err != nil {
		s.logger.Error("Failed to publish change", "event", "store_publish_error", "table", table, "key", key, "error", err)
	}
}

// decodeChange parses a bus payload into the table, key and row (nil for a
// delete).
func decodeChange(payload []byte) (string, string, any, error) {
	var change rowChange
	if err := json.Unmarshal(payload, &change); err != nil {
		return "", "", nil, fmt.Errorf("decode change: %w", err)
	}
	if len(change.Row) == 0 {
		return change.Table, change.Key, nil, nil
	}
	row, err := domain.DecodeRow(change.Table, change.Row)
	if err != nil {
		return "", "", nil, err
	}
	return change.Table, change.Key, row, nil
}

// matchingLocked returns the rows of q's table that q selects.
func (s *Server) matchingLocked(q query.Query) []any {
	var out []any
	for _, row := range s.rowsLocked(q.Table) {
		if r, ok := row.(query.Row); ok && q.Match(r) {
			out = append(out, row)
		}
	}
	return out
}
