package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/illmade-knight/captionflow/pkg/annotate"
	"github.com/illmade-knight/captionflow/pkg/archive"
	"github.com/illmade-knight/captionflow/pkg/config"
	"github.com/illmade-knight/captionflow/pkg/consumers"
	"github.com/illmade-knight/captionflow/pkg/docstore"
	"github.com/illmade-knight/captionflow/pkg/hub"
	"github.com/illmade-knight/captionflow/pkg/notify"
	"github.com/illmade-knight/captionflow/pkg/server"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/illmade-knight/captionflow/pkg/vision"
	"github.com/rs/zerolog"
)

var (
	_ server.FailureReporter = (*notify.Notifier)(nil)
	_ server.FailureReporter = (*archive.Service)(nil)
)

// cleanupTimeout bounds teardown calls that talk to the cloud.
const cleanupTimeout = 10 * time.Second

// lifecycle adapts plain start and stop functions to server.CoreService.
type lifecycle struct {
	start func() error
	stop  func()
}

func (l lifecycle) Start() error {
	if l.start == nil {
		return nil
	}
	return l.start()
}

func (l lifecycle) Stop() {
	if l.stop != nil {
		l.stop()
	}
}

// onStop runs fn when the server shuts down.
func onStop(fn func()) server.CoreService {
	return lifecycle{stop: fn}
}

// instanceID returns the configured instance ID or generates one.
func instanceID(cfg *config.Config) string {
	if cfg.InstanceID != "" {
		return cfg.InstanceID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "captionflow"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func serverConfig(cfg *config.Config, name string) server.Config {
	return server.Config{
		ServiceName:     name,
		HTTPPort:        cfg.HTTPPort,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
}

func closeFirestore(client *firestore.Client, logger zerolog.Logger) func() {
	return func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error closing Firestore client")
		}
	}
}

// newIngestService wires the upload subscription to the annotate processor.
func newIngestService(ctx context.Context, cfg *config.Config, store *firestore.Client, logger zerolog.Logger) (*consumers.ProcessingService[types.UploadEvent], error) {
	describer, err := vision.NewDescriber(ctx, cfg.Vision, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create description client: %w", err)
	}
	writer, err := docstore.NewFirestoreWriter(store, cfg.Store.Collection, logger)
	if err != nil {
		return nil, err
	}
	processor := annotate.NewProcessor(
		annotate.ProcessorConfig{NumWorkers: cfg.Ingest.NumWorkers},
		annotate.NewAnnotator(describer, logger),
		writer,
		logger,
	)
	consumer, err := consumers.NewGooglePubSubConsumer(ctx, &consumers.GooglePubSubConsumerConfig{
		ProjectID:              cfg.PubSub.ProjectID,
		SubscriptionID:         cfg.PubSub.IngestSubscription,
		CredentialsFile:        cfg.PubSub.CredentialsFile,
		MaxOutstandingMessages: cfg.PubSub.MaxOutstandingMessages,
		NumGoroutines:          cfg.PubSub.NumGoroutines,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload consumer: %w", err)
	}
	return annotate.NewIngestService(cfg.Ingest.NumWorkers, consumer, processor, logger)
}

// newChangeFeed opens a named change feed over the annotation collection.
func newChangeFeed(ctx context.Context, cfg *config.Config, store *firestore.Client, feedName, owner string, logger zerolog.Logger) (*docstore.FirestoreChangeFeed, error) {
	return docstore.NewFirestoreChangeFeed(ctx, store, docstore.ChangeFeedConfig{
		Collection:         cfg.Store.Collection,
		LeaseCollection:    cfg.Store.LeaseCollection,
		FeedName:           feedName,
		Owner:              owner,
		StartFromBeginning: cfg.Feed.StartFromBeginning,
	}, logger)
}

// newNotifier builds the change-feed notifier publishing to broadcaster.
func newNotifier(ctx context.Context, cfg *config.Config, store *firestore.Client, broadcaster notify.Broadcaster, owner string, logger zerolog.Logger) (*notify.Notifier, error) {
	feed, err := newChangeFeed(ctx, cfg, store, cfg.Feed.NotifyName, owner, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open notify change feed: %w", err)
	}
	n, err := notify.NewNotifier(feed, broadcaster, logger)
	if err != nil {
		_ = feed.Close()
		return nil, err
	}
	return n, nil
}

// newHub builds the websocket hub and the negotiator issuing its tokens.
func newHub(cfg *config.Config, logger zerolog.Logger) (*hub.Hub, *hub.Negotiator, error) {
	conn, err := hub.ParseConnectionString(cfg.Hub.ConnectionString)
	if err != nil {
		return nil, nil, err
	}
	tokens := hub.NewTokenIssuer(conn.AccessKey, cfg.Hub.TokenTTL)
	h, err := hub.NewHub(cfg.Hub.Config, conn, tokens, logger)
	if err != nil {
		return nil, nil, err
	}
	return h, hub.NewNegotiator(conn, cfg.Hub.Name, tokens), nil
}

// mountHub exposes negotiation and the client websocket endpoint.
func mountHub(srv *server.Server, h *hub.Hub, n *hub.Negotiator, logger zerolog.Logger) {
	negotiate := hub.NegotiateHandler(n, logger)
	srv.Router().Get("/api/negotiate", negotiate)
	srv.Router().Post("/api/negotiate", negotiate)
	srv.Router().Handle("/client/", h)
}
