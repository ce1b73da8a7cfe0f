package consumers

import (
	"context"

	"github.com/illmade-knight/captionflow/pkg/types"
)

// MessageProcessor is any component that receives decoded messages and owns
// their ack/nack. annotate.Processor, hub.Relay, icestore.Batcher and
// bqstore.BatchInserter all implement it.
type MessageProcessor[T any] interface {
	// Input returns a write-only channel for sending decoded messages to the processor.
	Input() chan<- *types.BatchedMessage[T]
	// Start begins the processor's operations.
	Start()
	// Stop gracefully shuts down the processor, draining anything already handed to it.
	Stop()
}

// MessageConsumer defines the interface for a message source (e.g., Pub/Sub).
type MessageConsumer interface {
	// Messages returns a read-only channel from which raw messages can be consumed.
	Messages() <-chan types.ConsumedMessage
	// Start initiates the consumption of messages.
	Start(ctx context.Context) error
	// Stop gracefully ceases message consumption.
	Stop() error
	// Done returns a channel that is closed when the consumer has fully stopped.
	Done() <-chan struct{}
}

// PayloadDecoder transforms the raw payload of a ConsumedMessage into T.
// Returning (nil, nil) means "ack and skip".
type PayloadDecoder[T any] func(payload []byte) (*T, error)
