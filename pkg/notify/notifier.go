package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
)

// ErrFeedClosed is returned by a ChangeFeed that has been closed.
var ErrFeedClosed = errors.New("change feed closed")

// ChangeFeed delivers ordered batches of inserted or updated documents.
// Next blocks until a batch is available or ctx ends.
type ChangeFeed interface {
	Next(ctx context.Context) (types.ChangeBatch, error)
	// Checkpoint records that batch has been handled.
	Checkpoint(ctx context.Context, batch types.ChangeBatch) error
	Close() error
}

// Broadcaster sends one envelope to every connected client.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg *types.BroadcastMessage) error
}

// Notifier is the host adapter for the change-feed fan-out: one broadcast per
// non-empty batch, no deduplication, no state between batches.
type Notifier struct {
	feed        ChangeFeed
	broadcaster Broadcaster
	logger      zerolog.Logger

	errs   chan error
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewNotifier creates a Notifier.
func NewNotifier(feed ChangeFeed, broadcaster Broadcaster, logger zerolog.Logger) (*Notifier, error) {
	if feed == nil {
		return nil, errors.New("change feed cannot be nil")
	}
	if broadcaster == nil {
		return nil, errors.New("broadcaster cannot be nil")
	}
	return &Notifier{
		feed:        feed,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "ChangeFeedNotifier").Logger(),
		errs:        make(chan error, 1),
	}, nil
}

// HandleBatch broadcasts one batch. It reports whether a message was sent.
func (n *Notifier) HandleBatch(ctx context.Context, batch types.ChangeBatch) (bool, error) {
	msg, err := BuildBroadcast(batch)
	if err != nil {
		return false, fmt.Errorf("batch of %d documents dropped: %w", batch.Len(), err)
	}
	if msg == nil {
		return false, nil
	}
	if err := n.broadcaster.Broadcast(ctx, msg); err != nil {
		return false, fmt.Errorf("broadcast of %d documents failed: %w", batch.Len(), err)
	}
	return true, nil
}

// Run consumes the feed until ctx ends or the feed fails.
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.Info().Msg("Change feed notifier listening")
	for {
		batch, err := n.feed.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrFeedClosed) || ctx.Err() != nil {
				n.logger.Info().Msg("Change feed notifier stopped")
				return nil
			}
			return fmt.Errorf("change feed read failed: %w", err)
		}
		if batch.Len() == 0 {
			continue
		}

		n.logger.Info().Int("documents", batch.Len()).Msg("Change feed batch received")
		sent, err := n.HandleBatch(ctx, batch)
		if err != nil {
			n.logger.Error().Err(err).Msg("Failed to notify clients of batch")
			continue
		}
		if sent {
			n.logger.Info().Int("documents", batch.Len()).Msg("Broadcast message sent to clients")
		}
		if err := n.feed.Checkpoint(ctx, batch); err != nil {
			n.logger.Warn().Err(err).Msg("Failed to record change feed checkpoint")
		}
	}
}

// Errors delivers the error that ended the background loop, if any.
func (n *Notifier) Errors() <-chan error {
	return n.errs
}

// Start runs the notifier in the background.
func (n *Notifier) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return errors.New("notifier already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.done = make(chan struct{})
	go func() {
		defer close(n.done)
		if err := n.Run(ctx); err != nil {
			n.logger.Error().Err(err).Msg("Change feed notifier exited with error")
			n.errs <- err
		}
	}()
	return nil
}

// Stop cancels the background loop, waits for it and closes the feed.
func (n *Notifier) Stop() {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	if err := n.feed.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("Error closing change feed")
	}
}
