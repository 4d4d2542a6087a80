package surrealstore

import (
	"context"
	"errors"
	"time"

	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/store"
)

// reducers runs mutations on behalf of one connection. Calls run in the
// caller's goroutine, so one client's mutations commit in call order.
type reducers struct {
	conn    *conn
	results store.ResultCallbacks
}

func (r *reducers) SendMessage(text string, roomID uint64) error {
	return r.call(store.ReducerSendMessage, func(ctx context.Context, id domain.Identity) error {
		return r.conn.store.sendMessage(ctx, id, text, roomID)
	})
}

func (r *reducers) SetName(name string) error {
	return r.call(store.ReducerSetName, func(ctx context.Context, id domain.Identity) error {
		return r.conn.store.setName(ctx, id, name)
	})
}

func (r *reducers) SetPointerPosition(x, y float64) error {
	return r.call(store.ReducerSetPointerPosition, func(ctx context.Context, id domain.Identity) error {
		return r.conn.store.setPointerPosition(ctx, id, x, y)
	})
}

func (r *reducers) OnResult(fn func(ev store.ReducerEvent)) store.CallbackID {
	return r.results.OnResult(fn)
}

func (r *reducers) RemoveOnResult(id store.CallbackID) { r.results.RemoveOnResult(id) }

func (r *reducers) call(name string, fn func(ctx context.Context, id domain.Identity) error) error {
	c := r.conn
	c.mu.Lock()
	active, id := c.active, c.identity
	c.mu.Unlock()
	if !active {
		return store.ErrNotConnected
	}

	ev := store.ReducerEvent{Reducer: name, Status: store.StatusCommitted}
	if err := fn(context.Background(), id); err != nil {
		ev.Status = store.StatusFailed
		ev.Message = domain.RejectionMessage(err)
		var rule *domain.RuleError
		if errors.As(err, &rule) {
			c.logger.Info("Reducer rejected", "event", "reducer_failed", "reducer", name, "reason", ev.Message)
		} else {
			c.logger.Error("Reducer failed", "event", "reducer_error", "reducer", name, "error", err)
		}
	}
	c.post(func() { r.results.Fire(ev) })
	return nil
}

func (s *Store) setName(ctx context.Context, id domain.Identity, name string) error {
	if err := domain.ValidateName(name); err != nil {
		return err
	}
	users, err := queryRecords[userRecord](ctx, s,
		"UPDATE type::thing('user', $id) SET name = $name RETURN AFTER",
		map[string]any{"id": id.String(), "name": name})
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return domain.Reject(domain.MsgUnknownUser)
	}
	return nil
}

func (s *Store) sendMessage(ctx context.Context, id domain.Identity, text string, roomID uint64) error {
	rooms, err := queryRecords[roomRecord](ctx, s, "SELECT * FROM type::thing('room', $room)",
		map[string]any{"room": roomID})
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		return domain.Reject(domain.MsgRoomNotFound)
	}
	if err := domain.ValidateMessage(text); err != nil {
		return err
	}

	num, err := s.nextNum(ctx, domain.TableMessage)
	if err != nil {
		return err
	}
	return s.exec(ctx, "CREATE type::thing('message', $num) CONTENT $content", map[string]any{
		"num": num,
		"content": map[string]any{
			"num":    num,
			"sender": id.String(),
			"room":   roomID,
			"text":   text,
			"sent":   s.now().UTC().Truncate(time.Microsecond).UnixMicro(),
		},
	})
}

func (s *Store) setPointerPosition(ctx context.Context, id domain.Identity, x, y float64) error {
	if err := domain.ValidatePoint(x, y); err != nil {
		return err
	}
	return s.exec(ctx,
		"UPSERT type::thing('pointer', $id) SET owner = $id, position_x = $x, position_y = $y",
		map[string]any{"id": id.String(), "x": x, "y": y})
}
