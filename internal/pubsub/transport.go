package pubsub

import (
	"context"

	"chatsync/internal/channels"
)

// Transport is an already connected pub/sub connection. It delivers events of
// attached channels at least once and in order per channel.
type Transport interface {
	// ConnectionID identifies this connection on events it published.
	ConnectionID() string
	Attach(ctx context.Context, channel string) error
	Detach(ctx context.Context, channel string) error
	// Events is closed when the transport shuts down.
	Events() <-chan channels.Envelope
}

// Publisher is implemented by transports that can also publish.
type Publisher interface {
	Publish(ctx context.Context, channel string, name channels.EventName, data any) error
}
