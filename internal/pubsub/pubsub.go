// Package pubsub is the in-process message bus the in-memory store uses to
// fan committed row changes out to every client connection.
package pubsub

import (
	"context"
)

// Message is the structure passed between components on the bus.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g. "quickchat.rows").
	Topic string
	// UserID identifies the identity whose action produced the message, if any.
	UserID string
	// Payload contains the encoded event.
	Payload []byte
	// Metadata carries extra key-value pairs.
	Metadata map[string]string
}

// Handler processes one received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber receives messages from the bus.
type Subscriber interface {
	// Subscribe starts delivering messages of topic to handler in the
	// background. Delivery stops when ctx is canceled.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}
