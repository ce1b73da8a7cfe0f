package types

import "time"

// ConsumedMessage represents a message received from a message broker
// like Google Pub/Sub. It contains the raw, unprocessed payload.
type ConsumedMessage struct {
	// ID is the unique identifier for the message from the source broker.
	ID string
	// Payload is the raw byte content of the message.
	Payload []byte
	// Attributes are the broker attributes attached to the message, if any.
	Attributes map[string]string
	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time
	// Ack is a function to call to acknowledge that the message has been
	// successfully processed.
	Ack func()
	// Nack is a function to call to signal that processing has failed and the
	// message should be redelivered.
	Nack func()
}

// BatchedMessage pairs the original consumed message with its decoded payload,
// so ack/nack can happen once the processor knows the outcome.
type BatchedMessage[T any] struct {
	OriginalMessage ConsumedMessage
	Payload         *T
}

// AckOriginal acks the source message if it carries an Ack function.
func (m *BatchedMessage[T]) AckOriginal() {
	if m.OriginalMessage.Ack != nil {
		m.OriginalMessage.Ack()
	}
}

// NackOriginal nacks the source message if it carries a Nack function.
func (m *BatchedMessage[T]) NackOriginal() {
	if m.OriginalMessage.Nack != nil {
		m.OriginalMessage.Nack()
	}
}
