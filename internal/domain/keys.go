package domain

import (
	"fmt"
	"strconv"
)

// UserKey identifies a user by the hex encoding of its identity.
func UserKey(u User) string { return u.Identity.String() }

// PointerKey identifies a pointer by the hex encoding of its owner.
func PointerKey(p Pointer) string { return p.Owner.String() }

// RoomKey identifies a room by its id.
func RoomKey(r Room) uint64 { return r.ID }

// MessageKey identifies a message by its id.
func MessageKey(m Message) uint64 { return m.ID }

// RowKey returns the string form of the primary key of any table row.
func RowKey(row any) (string, error) {
	switch r := row.(type) {
	case User:
		return UserKey(r), nil
	case Pointer:
		return PointerKey(r), nil
	case Room:
		return strconv.FormatUint(r.ID, 10), nil
	case Message:
		return strconv.FormatUint(r.ID, 10), nil
	}
	return "", fmt.Errorf("no primary key for %T", row)
}

// TableOf returns the table a row belongs to.
func TableOf(row any) (string, bool) {
	switch row.(type) {
	case User:
		return TableUser, true
	case Room:
		return TableRoom, true
	case Message:
		return TableMessage, true
	case Pointer:
		return TablePointer, true
	}
	return "", false
}
