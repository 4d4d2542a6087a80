package app

import (
	"log/slog"
	"time"

	"github.com/nfrund/quickchat/internal/coords"
	"github.com/nfrund/quickchat/internal/credentials"
	"github.com/nfrund/quickchat/internal/eventloop"
	"github.com/nfrund/quickchat/internal/store"
)

// Dependencies holds the services a Client is built from. It is assembled by
// the application entrypoint.
type Dependencies struct {
	Connector   store.Connector
	Credentials credentials.Store
	Loop        *eventloop.Loop
	Viewport    coords.ViewportSource
	Notifier    Notifier
	Logger      *slog.Logger

	// Room is the room selected at startup. Zero means none.
	Room uint64
	// PointerInterval is the minimum time between two outbound pointer
	// updates. Zero sends every movement.
	PointerInterval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Notifier shows a blocking notification to the user.
type Notifier interface {
	Notify(title, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(title, message string)

func (f NotifierFunc) Notify(title, message string) { f(title, message) }

type logNotifier struct{ logger *slog.Logger }

func (n logNotifier) Notify(title, message string) {
	n.logger.Warn(message, "event", "user_notification", "title", title)
}
