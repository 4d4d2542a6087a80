package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// LiveQueryAction represents the type of change in a live query update
type LiveQueryAction string

const (
	ActionCreate LiveQueryAction = "CREATE"
	ActionUpdate LiveQueryAction = "UPDATE"
	ActionDelete LiveQueryAction = "DELETE"
)

// LiveQueryHandler is called for every change of a live query. Calls for one
// subscription are sequential and in notification order.
type LiveQueryHandler func(ctx context.Context, action LiveQueryAction, data any)

// LiveQueryFilter narrows a table subscription.
type LiveQueryFilter struct {
	Where  string         // SurrealQL WHERE clause
	Params map[string]any // Query parameters
}

// Subscription represents an active live query subscription
type Subscription struct {
	ID    string
	Table string
}

// LiveQueryService provides real-time data subscriptions via SurrealDB Live Queries
type LiveQueryService interface {
	Subscribe(ctx context.Context, table string, filter *LiveQueryFilter, handler LiveQueryHandler) (*Subscription, error)
	SubscribeQuery(ctx context.Context, query string, params map[string]any, handler LiveQueryHandler) (*Subscription, error)
	Unsubscribe(subID string) error
}

// DBConnection is what the live query service needs from a Connection.
type DBConnection interface {
	WithConnection(ctx context.Context, fn func(*surrealdb.DB) error) error
}

// SurrealLiveQueryService implements LiveQueryService using SurrealDB
type SurrealLiveQueryService struct {
	db     DBConnection
	logger *slog.Logger

	mu            sync.Mutex
	subscriptions map[string]*subscriptionState
}

type subscriptionState struct {
	id          string
	table       string
	handler     LiveQueryHandler
	cancel      context.CancelFunc
	liveQueryID string
	done        chan struct{}
}

// NewSurrealLiveQueryService creates a new live query service
func NewSurrealLiveQueryService(db DBConnection, logger *slog.Logger) *SurrealLiveQueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SurrealLiveQueryService{
		db:            db,
		logger:        logger.With("component", "live_query"),
		subscriptions: make(map[string]*subscriptionState),
	}
}

// Subscribe creates a live query subscription for a table
func (s *SurrealLiveQueryService) Subscribe(ctx context.Context, table string, filter *LiveQueryFilter, handler LiveQueryHandler) (*Subscription, error) {
	query := fmt.Sprintf("LIVE SELECT * FROM %s", table)
	params := map[string]any{}
	if filter != nil {
		if filter.Where != "" {
			query = fmt.Sprintf("%s WHERE %s", query, filter.Where)
		}
		if filter.Params != nil {
			params = filter.Params
		}
	}
	return s.subscribeQuery(ctx, table, query, params, handler)
}

// SubscribeQuery creates a live query subscription with a custom query
func (s *SurrealLiveQueryService) SubscribeQuery(ctx context.Context, query string, params map[string]any, handler LiveQueryHandler) (*Subscription, error) {
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "LIVE SELECT") {
		return nil, fmt.Errorf("query must start with 'LIVE SELECT', got: %s", query)
	}
	if params == nil {
		params = map[string]any{}
	}
	return s.subscribeQuery(ctx, extractTableFromQuery(query), query, params, handler)
}

func (s *SurrealLiveQueryService) subscribeQuery(ctx context.Context, table, query string, params map[string]any, handler LiveQueryHandler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	subCtx, cancel := context.WithCancel(context.Background())
	state := &subscriptionState{
		id:      uuid.NewString(),
		table:   table,
		handler: handler,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	err := s.db.WithConnection(ctx, func(db *surrealdb.DB) error {
		results, err := surrealdb.Query[any](ctx, db, query, params)
		if err != nil {
			return fmt.Errorf("failed to execute live query: %w", err)
		}
		if results == nil || len(*results) == 0 {
			return errors.New("live query returned no results")
		}
		result := (*results)[0]
		if result.Status != "OK" {
			return fmt.Errorf("live query failed with status: %s", result.Status)
		}
		id, err := liveQueryID(result.Result)
		if err != nil {
			return err
		}
		state.liveQueryID = id

		notifications, err := db.LiveNotifications(id)
		if err != nil {
			return fmt.Errorf("failed to get notification channel: %w", err)
		}

		go s.listen(subCtx, state, notifications)
		go s.cleanupOnCancel(subCtx, state, db)
		return nil
	})
	if err != nil {
		cancel()
		return nil, NewDBError(err, "failed to start live query").WithQuery(query)
	}

	s.mu.Lock()
	s.subscriptions[state.id] = state
	s.mu.Unlock()
	s.logger.Info("Live query established", "event", "live_query_started",
		"sub_id", state.id, "live_query_id", state.liveQueryID, "table", table)
	return &Subscription{ID: state.id, Table: table}, nil
}

func liveQueryID(v any) (string, error) {
	switch id := v.(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case models.UUID:
		return id.String(), nil
	case map[string]any:
		if inner, ok := id["id"]; ok {
			return liveQueryID(inner)
		}
	}
	return "", fmt.Errorf("unexpected live query result: %T %+v", v, v)
}

// Unsubscribe stops delivery for subID. Once it returns the handler is not
// invoked again. It must not be called from a handler.
func (s *SurrealLiveQueryService) Unsubscribe(subID string) error {
	s.mu.Lock()
	state, ok := s.subscriptions[subID]
	delete(s.subscriptions, subID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	state.cancel()
	<-state.done
	s.logger.Info("Live query subscription removed", "event", "live_query_stopped", "sub_id", subID)
	return nil
}

// Close ends every subscription.
func (s *SurrealLiveQueryService) Close() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		_ = s.Unsubscribe(id)
	}
}

func (s *SurrealLiveQueryService) cleanupOnCancel(ctx context.Context, state *subscriptionState, db *surrealdb.DB) {
	<-ctx.Done()
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.CloseLiveNotifications(state.liveQueryID); err != nil {
		s.logger.Warn("Failed to close live notifications", "error", err, "live_query_id", state.liveQueryID)
	}
	if err := Execute(cleanupCtx, db, "KILL $id", map[string]any{"id": state.liveQueryID}); err != nil {
		s.logger.Warn("Failed to kill live query", "error", err, "live_query_id", state.liveQueryID)
	}
}

// listen delivers notifications one at a time so handlers see them in order.
func (s *SurrealLiveQueryService) listen(ctx context.Context, state *subscriptionState, notifications <-chan connection.Notification) {
	defer close(state.done)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				s.logger.Debug("Live query notification channel closed", "sub_id", state.id)
				return
			}
			var action LiveQueryAction
			switch n.Action {
			case connection.CreateAction:
				action = ActionCreate
			case connection.UpdateAction:
				action = ActionUpdate
			case connection.DeleteAction:
				action = ActionDelete
			default:
				s.logger.Warn("Unknown notification action", "sub_id", state.id, "action", n.Action)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.deliver(ctx, state, action, n.Result)
		}
	}
}

func (s *SurrealLiveQueryService) deliver(ctx context.Context, state *subscriptionState, action LiveQueryAction, data any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in live query handler", "event", "live_query_panic", "sub_id", state.id, "panic", r)
		}
	}()
	state.handler(ctx, action, data)
}

// extractTableFromQuery returns the word after FROM.
func extractTableFromQuery(query string) string {
	parts := strings.Fields(query)
	for i, part := range parts {
		if strings.EqualFold(part, "FROM") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return "unknown"
}
