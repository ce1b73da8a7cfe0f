package docstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreWriter writes annotation records to a collection.
type FirestoreWriter struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
}

// NewFirestoreWriter creates a writer for collection.
func NewFirestoreWriter(client *firestore.Client, collection string, logger zerolog.Logger) (*FirestoreWriter, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if collection == "" {
		return nil, errors.New("collection name is required")
	}
	return &FirestoreWriter{
		client:     client,
		collection: collection,
		logger:     logger.With().Str("component", "FirestoreWriter").Str("collection", collection).Logger(),
	}, nil
}

// WriteAnnotation creates <collection>/<id>. A document that already exists
// was written by an earlier delivery of the same event and counts as success.
func (w *FirestoreWriter) WriteAnnotation(ctx context.Context, id string, rec *types.AnnotationRecord) error {
	if rec == nil {
		return errors.New("annotation record cannot be nil")
	}
	_, err := w.client.Collection(w.collection).Doc(id).Create(ctx, rec)
	if err != nil {
		if IsAlreadyExists(err) {
			w.logger.Info().Str("doc_id", id).Msg("Annotation already written, skipping")
			return nil
		}
		return fmt.Errorf("firestore Create for %s: %w", id, err)
	}
	w.logger.Debug().Str("doc_id", id).Str("image_url", rec.SourceURL).Msg("Annotation written")
	return nil
}

// IsAlreadyExists reports whether err is a gRPC AlreadyExists status.
func IsAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}

// isCanceled reports whether err means the listener's context ended.
func isCanceled(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return status.Code(err) == codes.Canceled
}
