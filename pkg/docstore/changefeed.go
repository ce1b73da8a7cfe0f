package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/captionflow/pkg/notify"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultLeaseCollection holds checkpoint documents when none is configured.
const DefaultLeaseCollection = "leases"

// ChangeFeedConfig configures a FirestoreChangeFeed.
type ChangeFeedConfig struct {
	Collection      string
	LeaseCollection string
	// FeedName identifies the checkpoint document; each consumer of the
	// collection needs its own.
	FeedName string
	// Owner is recorded on the checkpoint document.
	Owner string
	// StartFromBeginning delivers the documents already in the collection
	// as the first batch.
	StartFromBeginning bool
}

// Checkpoint is the lease document kept for one feed.
type Checkpoint struct {
	Owner        string    `firestore:"owner"`
	LastReadTime time.Time `firestore:"last_read_time"`
	Batches      int64     `firestore:"batches"`
	Documents    int64     `firestore:"documents"`
}

// docChange is the part of a Firestore document change the feed uses.
type docChange struct {
	Kind       firestore.DocumentChangeKind
	ID         string
	Fields     map[string]interface{}
	UpdateTime time.Time
}

// batchFromChanges keeps added and modified documents in snapshot order.
// Documents updated at or before since are dropped when since is set.
func batchFromChanges(changes []docChange, readTime, since time.Time) types.ChangeBatch {
	batch := types.ChangeBatch{ReadTime: readTime}
	for _, c := range changes {
		if c.Kind == firestore.DocumentRemoved {
			continue
		}
		if !since.IsZero() && !c.UpdateTime.After(since) {
			continue
		}
		batch.Documents = append(batch.Documents, types.Document{
			ID:         c.ID,
			Fields:     c.Fields,
			UpdateTime: c.UpdateTime,
		})
	}
	return batch
}

func changesFromSnapshot(snap *firestore.QuerySnapshot) []docChange {
	changes := make([]docChange, 0, len(snap.Changes))
	for _, ch := range snap.Changes {
		if ch.Doc == nil {
			continue
		}
		changes = append(changes, docChange{
			Kind:       ch.Kind,
			ID:         ch.Doc.Ref.ID,
			Fields:     ch.Doc.Data(),
			UpdateTime: ch.Doc.UpdateTime,
		})
	}
	return changes
}

type feedResult struct {
	batch types.ChangeBatch
	err   error
}

// FirestoreChangeFeed implements notify.ChangeFeed with a collection
// snapshot listener.
type FirestoreChangeFeed struct {
	client   *firestore.Client
	cfg      ChangeFeedConfig
	lease    *firestore.DocumentRef
	logger   zerolog.Logger
	results  chan feedResult
	cancel   context.CancelFunc
	done     chan struct{}
	ready    chan struct{}
	stopOnce sync.Once
}

// NewFirestoreChangeFeed opens a listener on cfg.Collection. Without
// StartFromBeginning, documents already present are skipped, except those
// updated after the feed's last checkpoint.
func NewFirestoreChangeFeed(ctx context.Context, client *firestore.Client, cfg ChangeFeedConfig, logger zerolog.Logger) (*FirestoreChangeFeed, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if cfg.Collection == "" || cfg.FeedName == "" {
		return nil, errors.New("collection and feed name are required for a change feed")
	}
	if cfg.LeaseCollection == "" {
		cfg.LeaseCollection = DefaultLeaseCollection
	}

	f := &FirestoreChangeFeed{
		client:  client,
		cfg:     cfg,
		lease:   client.Collection(cfg.LeaseCollection).Doc(cfg.FeedName),
		logger:  logger.With().Str("component", "FirestoreChangeFeed").Str("collection", cfg.Collection).Str("feed", cfg.FeedName).Logger(),
		results: make(chan feedResult),
		done:    make(chan struct{}),
		ready:   make(chan struct{}),
	}

	var since time.Time
	if !cfg.StartFromBeginning {
		cp, err := f.LoadCheckpoint(ctx)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			since = cp.LastReadTime
			f.logger.Info().Time("last_read_time", since).Msg("Resuming change feed from checkpoint")
		}
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.listen(listenCtx, since)
	return f, nil
}

func (f *FirestoreChangeFeed) listen(ctx context.Context, since time.Time) {
	defer close(f.done)
	defer close(f.results)

	it := f.client.Collection(f.cfg.Collection).Snapshots(ctx)
	defer it.Stop()

	first := true
	for {
		snap, err := it.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) || isCanceled(err) {
				return
			}
			f.send(ctx, feedResult{err: fmt.Errorf("snapshot listener on %s: %w", f.cfg.Collection, err)})
			return
		}

		var batch types.ChangeBatch
		switch {
		case !first:
			batch = batchFromChanges(changesFromSnapshot(snap), snap.ReadTime, time.Time{})
		case f.cfg.StartFromBeginning:
			batch = batchFromChanges(changesFromSnapshot(snap), snap.ReadTime, time.Time{})
		case !since.IsZero():
			batch = batchFromChanges(changesFromSnapshot(snap), snap.ReadTime, since)
		default:
			f.logger.Debug().Int("existing", snap.Size).Msg("Skipping initial snapshot")
		}
		if first {
			close(f.ready)
			first = false
		}

		if batch.Len() == 0 {
			continue
		}
		if !f.send(ctx, feedResult{batch: batch}) {
			return
		}
	}
}

func (f *FirestoreChangeFeed) send(ctx context.Context, r feedResult) bool {
	select {
	case f.results <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// Ready is closed once the initial snapshot has been received. Changes made
// after that are delivered whatever StartFromBeginning says.
func (f *FirestoreChangeFeed) Ready() <-chan struct{} {
	return f.ready
}

// Next blocks until the listener yields a non-empty batch.
func (f *FirestoreChangeFeed) Next(ctx context.Context) (types.ChangeBatch, error) {
	select {
	case <-ctx.Done():
		return types.ChangeBatch{}, ctx.Err()
	case r, ok := <-f.results:
		if !ok {
			return types.ChangeBatch{}, notify.ErrFeedClosed
		}
		return r.batch, r.err
	}
}

// Checkpoint upserts the feed's lease document. The lease collection is
// created by the first write.
func (f *FirestoreChangeFeed) Checkpoint(ctx context.Context, batch types.ChangeBatch) error {
	readTime := batch.ReadTime
	if readTime.IsZero() {
		readTime = time.Now().UTC()
	}
	_, err := f.lease.Set(ctx, map[string]interface{}{
		"owner":          f.cfg.Owner,
		"last_read_time": readTime,
		"batches":        firestore.Increment(1),
		"documents":      firestore.Increment(batch.Len()),
		"updated_at":     firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("checkpoint %s/%s: %w", f.cfg.LeaseCollection, f.cfg.FeedName, err)
	}
	return nil
}

// LoadCheckpoint reads the feed's lease document. It returns nil when the
// feed has never checkpointed.
func (f *FirestoreChangeFeed) LoadCheckpoint(ctx context.Context) (*Checkpoint, error) {
	snap, err := f.lease.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint %s/%s: %w", f.cfg.LeaseCollection, f.cfg.FeedName, err)
	}
	var cp Checkpoint
	if err := snap.DataTo(&cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s/%s: %w", f.cfg.LeaseCollection, f.cfg.FeedName, err)
	}
	return &cp, nil
}

// Close stops the listener. It is safe to call more than once.
func (f *FirestoreChangeFeed) Close() error {
	f.stopOnce.Do(func() {
		f.cancel()
		<-f.done
		f.logger.Info().Msg("Change feed closed")
	})
	return nil
}

var _ notify.ChangeFeed = (*FirestoreChangeFeed)(nil)
