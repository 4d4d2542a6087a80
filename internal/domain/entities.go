package domain

import (
	"strconv"
	"time"
)

// Table names as known by the remote store.
const (
	TableUser    = "user"
	TableRoom    = "room"
	TableMessage = "message"
	TablePointer = "pointer"
)

// SeedRooms are the rooms every store starts out with.
var SeedRooms = []string{"General", "Fun Links", "Book Club", "Videos"}

// User is a connected or previously connected chat participant.
type User struct {
	Identity Identity `json:"identity"`
	Name     *string  `json:"name,omitempty"`
	Online   bool     `json:"online"`
}

// DisplayName returns the user's name, or fallback when none is set.
func (u User) DisplayName(fallback string) string {
	if u.Name == nil || *u.Name == "" {
		return fallback
	}
	return *u.Name
}

func (u User) Column(name string) (string, bool) {
	switch name {
	case "identity":
		return u.Identity.String(), true
	case "name":
		if u.Name == nil {
			return "", true
		}
		return *u.Name, true
	case "online":
		return strconv.FormatBool(u.Online), true
	}
	return "", false
}

// Room is a named chat channel.
type Room struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

func (r Room) Column(name string) (string, bool) {
	switch name {
	case "id":
		return strconv.FormatUint(r.ID, 10), true
	case "name":
		return r.Name, true
	}
	return "", false
}

// Message is a chat line posted to a room.
type Message struct {
	ID     uint64    `json:"id"`
	Sender Identity  `json:"sender"`
	Room   uint64    `json:"room"`
	Text   string    `json:"text"`
	Sent   time.Time `json:"sent"`
}

func (m Message) Column(name string) (string, bool) {
	switch name {
	case "id":
		return strconv.FormatUint(m.ID, 10), true
	case "sender":
		return m.Sender.String(), true
	case "room":
		return strconv.FormatUint(m.Room, 10), true
	case "text":
		return m.Text, true
	case "sent":
		return strconv.FormatInt(m.Sent.UnixMicro(), 10), true
	}
	return "", false
}

// Pointer is the live cursor of a connected peer. Positions are percentages of
// the viewport when stored remotely and device pixels once cached locally.
type Pointer struct {
	Owner     Identity `json:"owner"`
	PositionX float64  `json:"position_x"`
	PositionY float64  `json:"position_y"`
}

func (p Pointer) Column(name string) (string, bool) {
	switch name {
	case "owner":
		return p.Owner.String(), true
	case "position_x":
		return strconv.FormatFloat(p.PositionX, 'f', -1, 64), true
	case "position_y":
		return strconv.FormatFloat(p.PositionY, 'f', -1, 64), true
	}
	return "", false
}
