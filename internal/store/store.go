// Package store defines the boundary to the remote real-time store: query
// subscriptions, per-table change callbacks and the reducer (mutation) API.
//
// The remote store itself is an external collaborator. The sub packages
// provide an in-process implementation (memstore), a WebSocket transport
// (transport/wsstore) and a SurrealDB backed one (surrealstore).
package store

import (
	"context"
	"errors"

	"github.com/nfrund/quickchat/internal/domain"
)

var (
	// ErrNotConnected is returned for operations on an inactive connection.
	ErrNotConnected = errors.New("not connected")
	// ErrUnknownTable is returned when a query names a table the store lacks.
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnknownColumn is returned when a query filters on a missing column.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrInvalidToken is returned during the handshake for a malformed credential.
	ErrInvalidToken = errors.New("invalid credential token")
)

// CallbackID identifies a registered callback for later removal.
type CallbackID uint64

// Dispatcher runs callbacks on the client's single event loop.
type Dispatcher interface {
	Post(fn func())
}

// Table gives access to change notifications for one table. Callbacks run on
// the connection's dispatcher, in delivery order.
type Table[T any] interface {
	OnInsert(fn func(row T)) CallbackID
	RemoveOnInsert(id CallbackID)
	OnUpdate(fn func(oldRow, newRow T)) CallbackID
	RemoveOnUpdate(id CallbackID)
	OnDelete(fn func(row T)) CallbackID
	RemoveOnDelete(id CallbackID)
}

// Subscription is a handle on a query issued against the store.
type Subscription interface {
	// Query returns the query text the subscription was issued with.
	Query() string
	// IsActive reports whether the subscription was applied and not yet ended.
	IsActive() bool
	// Unsubscribe ends the subscription. Rows held only by it are deleted
	// from the client cache. No applied callback or row event caused by it
	// is delivered once Unsubscribe returns.
	Unsubscribe() error
}

// Status is the outcome of a reducer call.
type Status int

const (
	StatusCommitted Status = iota
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCommitted:
		return "committed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Reducer names.
const (
	ReducerSendMessage        = "send_message"
	ReducerSetName            = "set_name"
	ReducerSetPointerPosition = "set_pointer_position"
)

// ReducerEvent reports the completion of a reducer call made by this client.
type ReducerEvent struct {
	Reducer string
	Status  Status
	Message string
}

// Reducers is the mutation interface. Calls are fire-and-forget; outcomes are
// reported to OnResult callbacks.
type Reducers interface {
	SendMessage(text string, roomID uint64) error
	SetName(name string) error
	SetPointerPosition(x, y float64) error
	OnResult(fn func(ev ReducerEvent)) CallbackID
	RemoveOnResult(id CallbackID)
}

// Conn is an established (or establishing) connection to the store.
type Conn interface {
	// IsActive reports whether the handshake completed and the connection is open.
	IsActive() bool
	Users() Table[domain.User]
	Rooms() Table[domain.Room]
	Messages() Table[domain.Message]
	Pointers() Table[domain.Pointer]
	// Subscribe issues a query. onApplied runs once the initial rows were
	// delivered; onError runs if the store rejects the query asynchronously.
	Subscribe(query string, onApplied func(), onError func(err error)) (Subscription, error)
	Reducers() Reducers
	Disconnect() error
}

// ConnectOptions carries the credential and the lifecycle callbacks of a
// connection. All callbacks run on Dispatcher.
type ConnectOptions struct {
	Token          string
	Dispatcher     Dispatcher
	OnConnect      func(conn Conn, identity domain.Identity, token string)
	OnDisconnect   func(conn Conn, err error)
	OnConnectError func(err error)
}

// Connector opens connections to a store. Connect returns as soon as the
// connection handle exists; the handshake completes asynchronously.
type Connector interface {
	Connect(ctx context.Context, opts ConnectOptions) (Conn, error)
}
