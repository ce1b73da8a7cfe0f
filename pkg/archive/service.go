package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/captionflow/pkg/consumers"
	"github.com/illmade-knight/captionflow/pkg/notify"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultMaxPendingBatches bounds how many change batches may wait for sink
// acks before the feed is no longer read.
const DefaultMaxPendingBatches = 64

// Sink receives archive rows; icestore.Batcher and bqstore.BatchInserter both qualify.
type Sink = consumers.MessageProcessor[types.ArchivedAnnotation]

// Service copies every changed annotation document into each sink. Reading
// the feed does not wait for the sinks: dispatched batches are checkpointed
// in feed order as soon as every sink has acked every row of them, so rows
// of many change batches share one sink flush.
type Service struct {
	feed       notify.ChangeFeed
	sinks      []Sink
	logger     zerolog.Logger
	now        func() time.Time
	maxPending int

	errs     chan error
	cancel   context.CancelFunc
	readDone chan struct{}
	done     chan struct{}
}

// NewService creates an archive Service.
func NewService(feed notify.ChangeFeed, sinks []Sink, logger zerolog.Logger) (*Service, error) {
	if feed == nil {
		return nil, errors.New("change feed cannot be nil")
	}
	if len(sinks) == 0 {
		return nil, errors.New("at least one archive sink is required")
	}
	return &Service{
		feed:       feed,
		sinks:      sinks,
		logger:     logger.With().Str("component", "ArchiveService").Logger(),
		now:        time.Now,
		maxPending: DefaultMaxPendingBatches,
		errs:       make(chan error, 1),
	}, nil
}

// batchTracker counts outstanding acks for one change batch.
type batchTracker struct {
	mu      sync.Mutex
	pending int
	failed  int
	done    chan struct{}
}

func newBatchTracker(pending int) *batchTracker {
	t := &batchTracker{pending: pending, done: make(chan struct{})}
	if pending == 0 {
		close(t.done)
	}
	return t
}

func (t *batchTracker) settle(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == 0 {
		return
	}
	if !ok {
		t.failed++
	}
	t.pending--
	if t.pending == 0 {
		close(t.done)
	}
}

func (t *batchTracker) failures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Pending is a change batch whose rows have been handed to the sinks.
type Pending struct {
	Batch   types.ChangeBatch
	writes  int
	tracker *batchTracker
}

// Wait blocks until every sink has settled every row of the batch. It
// returns an error when any write was nacked or ctx ends first.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.tracker.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if n := p.tracker.failures(); n > 0 {
		return fmt.Errorf("%d of %d archive writes failed", n, p.writes)
	}
	return nil
}

// HandleBatch hands every convertible document to every sink and returns
// without waiting for the sinks to flush. Documents that do not convert are
// logged and skipped.
func (s *Service) HandleBatch(ctx context.Context, batch types.ChangeBatch) (*Pending, error) {
	archivedAt := s.now()
	rows := make([]*types.ArchivedAnnotation, 0, batch.Len())
	for _, doc := range batch.Documents {
		row, err := ToArchived(doc, archivedAt)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Skipping document that is not an annotation")
			continue
		}
		rows = append(rows, row)
	}

	p := &Pending{Batch: batch, writes: len(rows) * len(s.sinks)}
	p.tracker = newBatchTracker(p.writes)
	for _, row := range rows {
		for _, sink := range s.sinks {
			msg := &types.BatchedMessage[types.ArchivedAnnotation]{
				OriginalMessage: types.ConsumedMessage{
					ID:   row.DocumentID,
					Ack:  func() { p.tracker.settle(true) },
					Nack: func() { p.tracker.settle(false) },
				},
				Payload: row,
			}
			if !deliver(ctx, sink.Input(), msg) {
				return nil, ctx.Err()
			}
		}
	}
	return p, nil
}

// Run consumes the feed until ctx ends, the feed closes or a read fails.
// Batches still waiting for the sinks when reading stops are checkpointed
// once the sinks settle them.
func (s *Service) Run(ctx context.Context) error {
	return s.run(ctx, nil)
}

func (s *Service) run(ctx context.Context, readDone chan<- struct{}) error {
	s.logger.Info().Int("sinks", len(s.sinks)).Msg("Archive service listening")

	pending := make(chan *Pending, s.maxPending)
	checkpointed := make(chan struct{})
	go func() {
		defer close(checkpointed)
		s.checkpointLoop(context.WithoutCancel(ctx), pending)
	}()

	err := s.readLoop(ctx, pending)
	close(pending)
	if readDone != nil {
		close(readDone)
	}
	<-checkpointed
	return err
}

func (s *Service) readLoop(ctx context.Context, pending chan<- *Pending) error {
	for {
		batch, err := s.feed.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, notify.ErrFeedClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("change feed read failed: %w", err)
		}
		if batch.Len() == 0 {
			continue
		}
		p, err := s.HandleBatch(ctx, batch)
		if err != nil {
			return nil
		}
		if !deliver(ctx, pending, p) {
			return nil
		}
	}
}

// deliver sends v on ch, preferring a free buffer slot over a cancelled ctx
// so that a batch read before shutdown is still tracked.
func deliver[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
	}
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// checkpointLoop settles dispatched batches in feed order. A batch with a
// failed write is logged and not checkpointed.
func (s *Service) checkpointLoop(ctx context.Context, pending <-chan *Pending) {
	for p := range pending {
		if err := p.Wait(ctx); err != nil {
			s.logger.Error().Err(err).Int("documents", p.Batch.Len()).Msg("Archive batch incomplete, not checkpointing")
			continue
		}
		if err := s.feed.Checkpoint(ctx, p.Batch); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to record archive checkpoint")
			continue
		}
		s.logger.Debug().Int("documents", p.Batch.Len()).Msg("Archive batch complete")
	}
}

// Errors delivers the error that ended the background loop, if any.
func (s *Service) Errors() <-chan error {
	return s.errs
}

// Start starts the sinks and runs the service in the background.
func (s *Service) Start() error {
	if s.cancel != nil {
		return errors.New("archive service already started")
	}
	for _, sink := range s.sinks {
		sink.Start()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.readDone = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.run(ctx, s.readDone); err != nil {
			s.logger.Error().Err(err).Msg("Archive service exited with error")
			s.errs <- err
		}
	}()
	return nil
}

// Stop stops reading, flushes the sinks, waits for the last checkpoints and
// closes the feed.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.readDone
	}
	for _, sink := range s.sinks {
		sink.Stop()
	}
	if s.done != nil {
		<-s.done
	}
	if err := s.feed.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing change feed")
	}
	s.logger.Info().Msg("Archive service stopped")
}
