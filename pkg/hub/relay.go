package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/illmade-knight/captionflow/pkg/consumers"
	"github.com/illmade-knight/captionflow/pkg/notify"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
)

// Relay forwards envelopes received from the broadcast subscription to a
// local broadcaster, normally a Hub. It implements
// consumers.MessageProcessor[types.BroadcastMessage].
type Relay struct {
	target       notify.Broadcaster
	logger       zerolog.Logger
	inputChan    chan *types.BatchedMessage[types.BroadcastMessage]
	wg           sync.WaitGroup
	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
}

// NewRelay creates a Relay writing to target.
func NewRelay(target notify.Broadcaster, logger zerolog.Logger) *Relay {
	shutdownCtx, shutdownFunc := context.WithCancel(context.Background())
	return &Relay{
		target:       target,
		logger:       logger.With().Str("component", "HubRelay").Logger(),
		inputChan:    make(chan *types.BatchedMessage[types.BroadcastMessage], 16),
		shutdownCtx:  shutdownCtx,
		shutdownFunc: shutdownFunc,
	}
}

// Input returns the channel the processing service writes to.
func (r *Relay) Input() chan<- *types.BatchedMessage[types.BroadcastMessage] {
	return r.inputChan
}

// Start launches the forwarding loop. Envelopes are forwarded in arrival order.
func (r *Relay) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range r.inputChan {
			r.forward(msg)
		}
	}()
}

func (r *Relay) forward(msg *types.BatchedMessage[types.BroadcastMessage]) {
	if err := r.target.Broadcast(r.shutdownCtx, msg.Payload); err != nil {
		r.logger.Error().Err(err).Str("msg_id", msg.OriginalMessage.ID).Msg("Failed to relay broadcast, Nacking")
		msg.NackOriginal()
		return
	}
	msg.AckOriginal()
}

// Stop drains the input channel and waits for the loop to finish.
func (r *Relay) Stop() {
	close(r.inputChan)
	r.wg.Wait()
	r.shutdownFunc()
}

// NewRelayService wires a Relay behind the generic ProcessingService,
// decoding payloads with types.BroadcastMessageDecoder. A single worker keeps
// envelopes in subscription order as far as Pub/Sub delivers them in order.
func NewRelayService(consumer consumers.MessageConsumer, relay *Relay, logger zerolog.Logger) (*consumers.ProcessingService[types.BroadcastMessage], error) {
	svc, err := consumers.NewProcessingService[types.BroadcastMessage](
		1,
		consumer,
		relay,
		types.BroadcastMessageDecoder,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create processing service for hub relay: %w", err)
	}
	return svc, nil
}
