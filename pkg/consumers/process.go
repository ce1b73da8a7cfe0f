package consumers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultNumWorkers is used when a service is created with a non-positive worker count.
const DefaultNumWorkers = 5

// ProcessingService pulls messages from a MessageConsumer, decodes them with
// a PayloadDecoder and hands the results to a MessageProcessor, using a
// fixed pool of workers. Undecodable messages are nacked.
type ProcessingService[T any] struct {
	numWorkers int
	consumer   MessageConsumer
	processor  MessageProcessor[T]
	decoder    PayloadDecoder[T]
	logger     zerolog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewProcessingService creates a ProcessingService.
func NewProcessingService[T any](
	numWorkers int,
	consumer MessageConsumer,
	processor MessageProcessor[T],
	decoder PayloadDecoder[T],
	logger zerolog.Logger,
) (*ProcessingService[T], error) {
	switch {
	case consumer == nil:
		return nil, errors.New("MessageConsumer cannot be nil")
	case processor == nil:
		return nil, errors.New("MessageProcessor cannot be nil")
	case decoder == nil:
		return nil, errors.New("PayloadDecoder cannot be nil")
	}
	if numWorkers <= 0 {
		logger.Warn().Int("provided_workers", numWorkers).Int("default_workers", DefaultNumWorkers).
			Msg("Non-positive worker count, using the default.")
		numWorkers = DefaultNumWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessingService[T]{
		numWorkers: numWorkers,
		consumer:   consumer,
		processor:  processor,
		decoder:    decoder,
		logger:     logger.With().Str("service", "ProcessingService").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start starts the processor, then the consumer, then the workers.
func (s *ProcessingService[T]) Start() error {
	s.processor.Start()
	if err := s.consumer.Start(s.ctx); err != nil {
		s.processor.Stop()
		return fmt.Errorf("failed to start message consumer: %w", err)
	}

	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Processing service started")
	return nil
}

func (s *ProcessingService[T]) worker(id int) {
	defer s.wg.Done()
	log := s.logger.With().Int("worker_id", id).Logger()

	for {
		select {
		case <-s.ctx.Done():
			log.Debug().Msg("Worker stopping")
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				log.Debug().Msg("Consumer channel closed, worker exiting")
				return
			}
			s.dispatch(msg, log)
		}
	}
}

// dispatch decodes one message and passes it on. A nil payload is acked and
// dropped; a message that cannot be handed over before shutdown is nacked.
func (s *ProcessingService[T]) dispatch(msg types.ConsumedMessage, log zerolog.Logger) {
	payload, err := s.decoder(msg.Payload)
	if err != nil {
		log.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to decode payload, Nacking message.")
		if msg.Nack != nil {
			msg.Nack()
		}
		return
	}

	batched := &types.BatchedMessage[T]{OriginalMessage: msg, Payload: payload}
	if payload == nil {
		log.Warn().Str("msg_id", msg.ID).Msg("Decoder returned nil payload, Acking and skipping.")
		batched.AckOriginal()
		return
	}

	select {
	case s.processor.Input() <- batched:
	case <-s.ctx.Done():
		log.Warn().Str("msg_id", msg.ID).Msg("Shutdown in progress, Nacking message.")
		batched.NackOriginal()
	}
}

// Stop cancels the consumer and workers, waits for both, then stops the
// processor so it can flush what it holds.
func (s *ProcessingService[T]) Stop() {
	s.cancel()

	<-s.consumer.Done()
	if err := s.consumer.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("Message consumer reported an error while stopping.")
	}
	s.wg.Wait()
	s.processor.Stop()

	s.logger.Info().Msg("Processing service stopped")
}
