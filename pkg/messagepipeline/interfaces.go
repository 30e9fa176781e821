package messagepipeline

import (
	"context"
)

// MessageConsumer defines the interface for a message source (e.g., MQTT, Pub/Sub).
// It is responsible for receiving deliveries and handing them off to the listener.
type MessageConsumer interface {
	// Messages returns a read-only channel of deliveries. The channel is closed
	// once the consumer has stopped and will deliver nothing more.
	Messages() <-chan Message
	// Start connects to the source and begins consumption.
	Start(ctx context.Context) error
	// Stop ceases consumption, releases the connection and closes Messages().
	Stop(ctx context.Context) error
	// Done returns a channel that is closed when the consumer has completely shut down.
	Done() <-chan struct{}
}

// MessageHandler processes a single delivery. It owns all error handling for
// the message: nothing it does may break the subscription.
type MessageHandler func(ctx context.Context, msg *Message)
