package bqstore

import (
	"context"
	"sync"
	"time"

	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
)

// DataBatchInserter inserts a batch of items of type T into a table.
type DataBatchInserter[T any] interface {
	InsertBatch(ctx context.Context, items []*T) error
	Close() error
}

// BatchInserterConfig holds configuration for the BatchInserter.
type BatchInserterConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
	// InsertTimeout bounds one InsertBatch call.
	InsertTimeout time.Duration `mapstructure:"insert_timeout"`
}

// BatchInserter manages batching and insertion of items of type T. It
// implements consumers.MessageProcessor[T].
type BatchInserter[T any] struct {
	config    BatchInserterConfig
	inserter  DataBatchInserter[T]
	logger    zerolog.Logger
	inputChan chan *types.BatchedMessage[T]
	wg        sync.WaitGroup
}

// NewBatchInserter creates a BatchInserter. Zero config values take defaults.
func NewBatchInserter[T any](config *BatchInserterConfig, inserter DataBatchInserter[T], logger zerolog.Logger) *BatchInserter[T] {
	cfg := BatchInserterConfig{BatchSize: 500, FlushTimeout: 10 * time.Second, InsertTimeout: 30 * time.Second}
	if config != nil {
		if config.BatchSize > 0 {
			cfg.BatchSize = config.BatchSize
		}
		if config.FlushTimeout > 0 {
			cfg.FlushTimeout = config.FlushTimeout
		}
		if config.InsertTimeout > 0 {
			cfg.InsertTimeout = config.InsertTimeout
		}
	}
	return &BatchInserter[T]{
		config:    cfg,
		inserter:  inserter,
		logger:    logger.With().Str("component", "BatchInserter").Logger(),
		inputChan: make(chan *types.BatchedMessage[T], cfg.BatchSize*2),
	}
}

// Start begins the batching worker.
func (b *BatchInserter[T]) Start() {
	b.logger.Info().
		Int("batch_size", b.config.BatchSize).
		Dur("flush_timeout", b.config.FlushTimeout).
		Msg("Starting BatchInserter worker...")
	b.wg.Add(1)
	go b.worker()
}

// Stop flushes the final batch and closes the inserter.
func (b *BatchInserter[T]) Stop() {
	b.logger.Info().Msg("Stopping BatchInserter...")
	close(b.inputChan)
	b.wg.Wait()
	if err := b.inserter.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Error closing data inserter")
	}
	b.logger.Info().Msg("BatchInserter stopped.")
}

// Input returns the channel to which payloads should be sent.
func (b *BatchInserter[T]) Input() chan<- *types.BatchedMessage[T] {
	return b.inputChan
}

func (b *BatchInserter[T]) worker() {
	defer b.wg.Done()
	defer b.logger.Info().Msg("BatchInserter worker stopped.")

	batch := make([]*types.BatchedMessage[T], 0, b.config.BatchSize)
	ticker := time.NewTicker(b.config.FlushTimeout)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-b.inputChan:
			if !ok {
				b.logger.Info().Msg("Input channel closed. Flushing final batch...")
				b.flush(batch)
				return
			}
			batch = append(batch, msg)
			if len(batch) >= b.config.BatchSize {
				b.logger.Debug().Int("current_batch_size", len(batch)).Msg("Batch size reached. Flushing batch.")
				b.flush(batch)
				batch = make([]*types.BatchedMessage[T], 0, b.config.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.logger.Debug().Int("current_batch_size", len(batch)).Msg("Flush timeout reached. Flushing batch.")
				b.flush(batch)
				batch = make([]*types.BatchedMessage[T], 0, b.config.BatchSize)
			}
		}
	}
}

// flush inserts the batch, then acks every message on success or nacks every
// message on failure.
func (b *BatchInserter[T]) flush(batch []*types.BatchedMessage[T]) {
	if len(batch) == 0 {
		return
	}
	payloads := make([]*T, len(batch))
	for i, msg := range batch {
		payloads[i] = msg.Payload
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.config.InsertTimeout)
	defer cancel()

	if err := b.inserter.InsertBatch(ctx, payloads); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to insert batch, Nacking messages.")
		for _, msg := range batch {
			msg.NackOriginal()
		}
		return
	}
	b.logger.Info().Int("batch_size", len(batch)).Msg("Flushed batch, Acking messages.")
	for _, msg := range batch {
		msg.AckOriginal()
	}
}
