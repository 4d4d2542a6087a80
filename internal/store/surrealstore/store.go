// Package surrealstore implements the remote store on top of SurrealDB.
// Clients read through LIVE SELECT feeds, one per table and connection, and
// reducers run as SurrealQL statements validated by the domain rules.
package surrealstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/nfrund/quickchat/internal/database"
	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/store"
	"github.com/nfrund/quickchat/internal/store/query"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the time source used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a store.Connector backed by a SurrealDB database.
type Store struct {
	db     *database.Connection
	live   database.LiveQueryService
	logger *slog.Logger
	now    func() time.Time
}

// New creates a store over an established connection.
func New(db *database.Connection, live database.LiveQueryService, opts ...Option) *Store {
	s := &Store{
		db:     db,
		live:   live,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "surrealstore")
	return s
}

// Init creates the seed rooms that do not exist yet.
func (s *Store) Init(ctx context.Context) error {
	for _, name := range domain.SeedRooms {
		existing, err := queryRecords[roomRecord](ctx, s, "SELECT * FROM room WHERE name = $name", map[string]any{"name": name})
		if err != nil {
			return fmt.Errorf("seed room %q: %w", name, err)
		}
		if len(existing) > 0 {
			continue
		}
		num, err := s.nextNum(ctx, domain.TableRoom)
		if err != nil {
			return fmt.Errorf("seed room %q: %w", name, err)
		}
		err = s.exec(ctx, "CREATE type::thing('room', $num) SET num = $num, name = $name",
			map[string]any{"num": num, "name": name})
		if err != nil {
			return fmt.Errorf("seed room %q: %w", name, err)
		}
		s.logger.Info("Seeded room", "event", "room_seeded", "room", num, "name", name)
	}
	return nil
}

// Connect implements store.Connector. The handshake completes in the
// background; its outcome is reported through opts.
func (s *Store) Connect(ctx context.Context, opts store.ConnectOptions) (store.Conn, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("surrealstore: connect without dispatcher")
	}
	c := newConn(s, opts)
	go c.handshake(ctx)
	return c, nil
}

func queryRecords[T any](ctx context.Context, s *Store, stmt string, params map[string]any) ([]T, error) {
	ctx, cancel := s.db.QueryContext(ctx)
	defer cancel()
	var out []T
	err := s.db.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		out, err = database.Query[T](ctx, db, stmt, params)
		return err
	})
	return out, err
}

func (s *Store) exec(ctx context.Context, stmt string, params map[string]any) error {
	ctx, cancel := s.db.QueryContext(ctx)
	defer cancel()
	return s.db.WithConnection(ctx, func(db *surrealdb.DB) error {
		return database.Execute(ctx, db, stmt, params)
	})
}

// nextNum allocates the next primary key of table.
func (s *Store) nextNum(ctx context.Context, table string) (uint64, error) {
	recs, err := queryRecords[counterRecord](ctx, s,
		"UPSERT type::thing('counter', $table) SET value = (value OR 0) + 1 RETURN AFTER",
		map[string]any{"table": table})
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, fmt.Errorf("counter %s: %w", table, database.ErrNotFound)
	}
	return recs[0].Value, nil
}

// selectStatement renders q as SurrealQL. Table and column names were
// checked by store.ParseQuery; the literal is always bound as $v.
func selectStatement(q query.Query) (string, map[string]any, error) {
	stmt := "SELECT * FROM " + q.Table
	params := map[string]any{}
	if q.Where != nil {
		v, err := paramValue(q.Table, q.Where.Column, q.Where.Value)
		if err != nil {
			return "", nil, fmt.Errorf("%s.%s: %w", q.Table, q.Where.Column, err)
		}
		stmt += fmt.Sprintf(" WHERE %s %s $v", field(q.Table, q.Where.Column), q.Where.Op)
		params["v"] = v
	}
	if q.Table == domain.TableRoom || q.Table == domain.TableMessage {
		stmt += " ORDER BY num"
	}
	return stmt, params, nil
}

// selectRows returns the rows currently matching q.
func (s *Store) selectRows(ctx context.Context, q query.Query) ([]any, error) {
	stmt, params, err := selectStatement(q)
	if err != nil {
		return nil, err
	}

	var (
		rows []any
		errs []error
	)
	switch q.Table {
	case domain.TableUser:
		recs, err := queryRecords[userRecord](ctx, s, stmt, params)
		if err != nil {
			return nil, err
		}
		rows, errs = toDomain[domain.User](recs)
	case domain.TableRoom:
		recs, err := queryRecords[roomRecord](ctx, s, stmt, params)
		if err != nil {
			return nil, err
		}
		rows, errs = toDomain[domain.Room](recs)
	case domain.TableMessage:
		recs, err := queryRecords[messageRecord](ctx, s, stmt, params)
		if err != nil {
			return nil, err
		}
		rows, errs = toDomain[domain.Message](recs)
	case domain.TablePointer:
		recs, err := queryRecords[pointerRecord](ctx, s, stmt, params)
		if err != nil {
			return nil, err
		}
		rows, errs = toDomain[domain.Pointer](recs)
	default:
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, q.Table)
	}
	for _, err := range errs {
		s.logger.Warn("Skipping undecodable record", "event", "record_decode_error", "table", q.Table, "error", err)
	}
	return rows, nil
}
