// Package wsstore carries the store protocol over a WebSocket: a Handler
// that serves any store.Connector and a Connector that dials it.
package wsstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nfrund/quickchat/internal/store"
)

// Frame types.
const (
	TypeHello             = "hello"
	TypeIdentity          = "identity"
	TypeConnectError      = "connect_error"
	TypeSubscribe         = "subscribe"
	TypeApplied           = "applied"
	TypeSubscriptionError = "subscription_error"
	TypeUnsubscribe       = "unsubscribe"
	TypeInsert            = "insert"
	TypeUpdate            = "update"
	TypeDelete            = "delete"
	TypeCall              = "call"
	TypeResult            = "result"
)

// Error codes of connect_error frames.
const (
	CodeInvalidToken = "invalid_token"
	CodeUnavailable  = "unavailable"
)

// ErrRejected is returned when the server refuses the handshake for a reason
// other than the token.
var ErrRejected = errors.New("connection rejected")

// Frame is the single JSON envelope of every message on the socket. Which
// fields are set depends on Type.
type Frame struct {
	Type     string          `json:"type"`
	ID       store.SubID     `json:"id,omitempty"`
	Token    string          `json:"token,omitempty"`
	Identity string          `json:"identity,omitempty"`
	Query    string          `json:"query,omitempty"`
	Code     string          `json:"code,omitempty"`
	Error    string          `json:"error,omitempty"`
	Table    string          `json:"table,omitempty"`
	Old      json.RawMessage `json:"old,omitempty"`
	New      json.RawMessage `json:"new,omitempty"`
	Reducer  string          `json:"reducer,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Status   string          `json:"status,omitempty"`
	Message  string          `json:"message,omitempty"`
}

type sendMessageArgs struct {
	Text string `json:"text"`
	Room uint64 `json:"room"`
}

type setNameArgs struct {
	Name string `json:"name"`
}

type pointerArgs struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func rowFrame(ev store.RowEvent) (Frame, error) {
	f := Frame{Table: ev.Table}
	switch ev.Kind {
	case store.RowInsert:
		f.Type = TypeInsert
	case store.RowUpdate:
		f.Type = TypeUpdate
	case store.RowDelete:
		f.Type = TypeDelete
	default:
		return Frame{}, fmt.Errorf("unknown row event kind %d", ev.Kind)
	}
	var err error
	if ev.Old != nil {
		if f.Old, err = json.Marshal(ev.Old); err != nil {
			return Frame{}, err
		}
	}
	if ev.New != nil {
		if f.New, err = json.Marshal(ev.New); err != nil {
			return Frame{}, err
		}
	}
	return f, nil
}

func parseStatus(s string) store.Status {
	if s == store.StatusCommitted.String() {
		return store.StatusCommitted
	}
	return store.StatusFailed
}
