package viewcache

import (
	"github.com/nfrund/quickchat/internal/coords"
	"github.com/nfrund/quickchat/internal/domain"
)

type (
	// Messages is the message view, keyed by message id.
	Messages = Cache[uint64, domain.Message]
	// Users is the user view, keyed by identity hex.
	Users = Cache[string, domain.User]
	// Rooms is the room view, keyed by room id.
	Rooms = Cache[uint64, domain.Room]
	// Pointers is the pointer view, keyed by owner identity hex, holding
	// positions in device pixels.
	Pointers = Cache[string, domain.Pointer]
)

func NewMessages(opts ...Option[uint64, domain.Message]) *Messages {
	return New("messages", domain.MessageKey, opts...)
}

func NewUsers(opts ...Option[string, domain.User]) *Users {
	return New("users", domain.UserKey, opts...)
}

func NewRooms(opts ...Option[uint64, domain.Room]) *Rooms {
	return New("rooms", domain.RoomKey, opts...)
}

// NewPointers returns a pointer cache that denormalizes incoming positions
// against the viewport current at the time each event is applied.
func NewPointers(viewport coords.ViewportSource, opts ...Option[string, domain.Pointer]) *Pointers {
	denormalize := func(p domain.Pointer) domain.Pointer {
		px := coords.Denormalize(coords.Point{X: p.PositionX, Y: p.PositionY}, viewport.Viewport())
		p.PositionX, p.PositionY = px.X, px.Y
		return p
	}
	opts = append([]Option[string, domain.Pointer]{WithTransform[string](denormalize)}, opts...)
	return New("pointers", domain.PointerKey, opts...)
}

// SortedMessages orders messages by sent time, oldest first; messages sent at
// the same instant keep their arrival order.
func SortedMessages(s Snapshot[uint64, domain.Message]) []domain.Message {
	return s.Values(func(a, b domain.Message) bool {
		return a.Sent.Before(b.Sent)
	})
}
