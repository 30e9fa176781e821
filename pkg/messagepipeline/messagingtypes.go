package messagepipeline

import (
	"time"
)

// AttributeTopic is the attribute key under which consumers record the
// source topic of a delivery.
const AttributeTopic = "topic"

// Message is the internal representation of a delivery from a broker.
type Message struct {
	// MessageData contains the core payload.
	MessageData

	// Attributes holds metadata from the message broker (e.g., Pub/Sub attributes, MQTT topic).
	Attributes map[string]string

	// Ack signals that the message has been handled and should not be redelivered.
	Ack func()

	// Nack asks the broker to redeliver the message.
	Nack func()
}

// MessageData holds the essential payload of a message.
type MessageData struct {
	// ID is the identifier for the message from the source broker.
	ID string `json:"id"`

	// Payload is the raw byte content of the message.
	Payload []byte `json:"payload"`

	// PublishTime is when the broker published the message, or when it was
	// received if the broker does not say.
	PublishTime time.Time `json:"publishTime"`
}

// Topic returns the source topic recorded by the consumer.
func (m *Message) Topic() string {
	return m.Attributes[AttributeTopic]
}
