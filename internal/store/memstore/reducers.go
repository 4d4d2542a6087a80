package memstore

import (
	"context"
	"time"

	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/store"
)

// reducers runs mutations on behalf of one connection.
type reducers struct {
	conn    *conn
	results store.ResultCallbacks
}

func (r *reducers) SendMessage(text string, roomID uint64) error {
	return r.call(store.ReducerSendMessage, func(ctx context.Context, id domain.Identity) error {
		return r.conn.server.sendMessage(ctx, id, text, roomID)
	})
}

func (r *reducers) SetName(name string) error {
	return r.call(store.ReducerSetName, func(ctx context.Context, id domain.Identity) error {
		return r.conn.server.setName(ctx, id, name)
	})
}

func (r *reducers) SetPointerPosition(x, y float64) error {
	return r.call(store.ReducerSetPointerPosition, func(ctx context.Context, id domain.Identity) error {
		return r.conn.server.setPointerPosition(ctx, id, x, y)
	})
}

func (r *reducers) OnResult(fn func(ev store.ReducerEvent)) store.CallbackID {
	return r.results.OnResult(fn)
}

func (r *reducers) RemoveOnResult(id store.CallbackID) { r.results.RemoveOnResult(id) }

// call runs fn as the connection's identity and queues the outcome for the
// result callbacks.
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
		c.logger.Info("Reducer rejected", "event", "reducer_failed", "reducer", name, "reason", ev.Message)
	}
	c.post(func() { r.results.Fire(ev) })
	return nil
}

func (s *Server) clientConnectedLocked(ctx context.Context, id domain.Identity) {
	user, ok := s.users[id.String()]
	if !ok {
		user = domain.User{Identity: id}
		s.logger.Info("Created user", "event", "user_created", "identity", id.String())
	}
	user.Online = true
	s.putLocked(ctx, id.String(), domain.TableUser, user)
}

func (s *Server) clientDisconnectedLocked(ctx context.Context, id domain.Identity) {
	user, ok := s.users[id.String()]
	if !ok {
		s.logger.Warn("Disconnect event for unknown user", "event", "unknown_user_disconnected", "identity", id.String())
		return
	}
	user.Online = false
	s.putLocked(ctx, id.String(), domain.TableUser, user)
	if _, ok := s.pointers[id.String()]; ok {
		s.deleteLocked(ctx, id.String(), domain.TablePointer, id.String())
	}
}

func (s *Server) setName(ctx context.Context, id domain.Identity, name string) error {
	if err := domain.ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id.String()]
	if !ok {
		return domain.Reject(domain.MsgUnknownUser)
	}
	user.Name = &name
	s.putLocked(ctx, id.String(), domain.TableUser, user)
	return nil
}

func (s *Server) sendMessage(ctx context.Context, id domain.Identity, text string, roomID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return domain.Reject(domain.MsgRoomNotFound)
	}
	if err := domain.ValidateMessage(text); err != nil {
		return err
	}
	s.nextMessageID++
	s.putLocked(ctx, id.String(), domain.TableMessage, domain.Message{
		ID:     s.nextMessageID,
		Sender: id,
		Room:   roomID,
		Text:   text,
		Sent:   s.now().UTC().Truncate(time.Microsecond),
	})
	return nil
}

func (s *Server) setPointerPosition(ctx context.Context, id domain.Identity, x, y float64) error {
	if err := domain.ValidatePoint(x, y); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(ctx, id.String(), domain.TablePointer, domain.Pointer{Owner: id, PositionX: x, PositionY: y})
	return nil
}
