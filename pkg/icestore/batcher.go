package icestore

import (
	"context"
	"sync"
	"time"

	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
)

// BatcherConfig holds configuration for the Batcher.
type BatcherConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
	// UploadTimeout bounds one UploadBatch call.
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
}

func (c *BatcherConfig) withDefaults() *BatcherConfig {
	out := BatcherConfig{BatchSize: 100, FlushTimeout: 30 * time.Second, UploadTimeout: 2 * time.Minute}
	if c != nil {
		if c.BatchSize > 0 {
			out.BatchSize = c.BatchSize
		}
		if c.FlushTimeout > 0 {
			out.FlushTimeout = c.FlushTimeout
		}
		if c.UploadTimeout > 0 {
			out.UploadTimeout = c.UploadTimeout
		}
	}
	return &out
}

// Batcher collects items of type T and flushes them to a DataUploader when
// the batch is full or FlushTimeout passes. Every item of a flushed batch is
// acked when the upload succeeds and nacked when it fails.
// It implements consumers.MessageProcessor[T].
type Batcher[T any] struct {
	config    *BatcherConfig
	uploader  DataUploader[T]
	logger    zerolog.Logger
	inputChan chan *types.BatchedMessage[T]
	wg        sync.WaitGroup
}

// NewBatcher creates a Batcher. Zero config values take defaults.
func NewBatcher[T any](config *BatcherConfig, uploader DataUploader[T], logger zerolog.Logger) *Batcher[T] {
	cfg := config.withDefaults()
	return &Batcher[T]{
		config:    cfg,
		uploader:  uploader,
		logger:    logger.With().Str("component", "IceStoreBatcher").Logger(),
		inputChan: make(chan *types.BatchedMessage[T], cfg.BatchSize*2),
	}
}

// Start begins the batching worker goroutine.
func (b *Batcher[T]) Start() {
	b.logger.Info().
		Int("batch_size", b.config.BatchSize).
		Dur("flush_timeout", b.config.FlushTimeout).
		Msg("Starting icestore Batcher worker...")
	b.wg.Add(1)
	go b.worker()
}

// Stop flushes anything pending and closes the uploader. Nothing may be
// sent to Input after Stop.
func (b *Batcher[T]) Stop() {
	b.logger.Info().Msg("Stopping icestore Batcher...")
	close(b.inputChan)
	b.wg.Wait()
	if err := b.uploader.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Error closing underlying data uploader")
	}
	b.logger.Info().Msg("IceStore Batcher stopped.")
}

// Input returns the write-only channel to which batched messages should be sent.
func (b *Batcher[T]) Input() chan<- *types.BatchedMessage[T] {
	return b.inputChan
}

func (b *Batcher[T]) worker() {
	defer b.wg.Done()
	batch := make([]*types.BatchedMessage[T], 0, b.config.BatchSize)
	ticker := time.NewTicker(b.config.FlushTimeout)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-b.inputChan:
			if !ok {
				b.flush(batch)
				return
			}
			batch = append(batch, msg)
			if len(batch) >= b.config.BatchSize {
				b.flush(batch)
				batch = make([]*types.BatchedMessage[T], 0, b.config.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(batch)
				batch = make([]*types.BatchedMessage[T], 0, b.config.BatchSize)
			}
		}
	}
}

func (b *Batcher[T]) flush(batch []*types.BatchedMessage[T]) {
	if len(batch) == 0 {
		return
	}

	payloads := make([]*T, len(batch))
	for i, msg := range batch {
		payloads[i] = msg.Payload
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.config.UploadTimeout)
	defer cancel()

	if err := b.uploader.UploadBatch(ctx, payloads); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to upload batch, Nacking messages.")
		for _, msg := range batch {
			msg.NackOriginal()
		}
		return
	}
	b.logger.Info().Int("batch_size", len(batch)).Msg("Uploaded batch, Acking messages.")
	for _, msg := range batch {
		msg.AckOriginal()
	}
}
