// Package mqtt wraps the paho.golang v5 client behind a small interface:
// start once, publish, and subscribe with handlers that survive reconnects.
package mqtt

import (
	"context"
)

// MessageHandler processes one received publish. Handlers run off the reader
// loop, so they may block without stalling the connection.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is the MQTT surface the rest of the system programs against. The
// underlying connection manager reconnects on its own; registered
// subscriptions are replayed after every reconnect.
type Client interface {
	// Start opens the connection. It returns immediately; use AwaitConnection
	// to block until the broker accepted us.
	Start(ctx context.Context) error

	// Disconnect closes the connection cleanly.
	Disconnect(ctx context.Context)

	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers handler for a topic filter and sends the SUBSCRIBE
	// packet. The registration is kept for reconnect replay.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	// Unsubscribe drops the handler and sends an UNSUBSCRIBE packet.
	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until connected or ctx ends.
	AwaitConnection(ctx context.Context) error
}

var _ Client = (*pahoClient)(nil)
