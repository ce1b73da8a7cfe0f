package icestore

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// DataUploader writes a batch of items to durable storage.
type DataUploader[T any] interface {
	UploadBatch(ctx context.Context, items []*T) error
	Close() error
}

// GCSClient and the handle interfaces below narrow *storage.Client to what
// the uploader needs, so tests can replace it.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

type GCSObjectHandle interface {
	NewWriter(ctx context.Context) GCSWriter
}

type GCSWriter interface {
	io.WriteCloser
	// Attrs returns the attributes applied to the object on its first Write.
	Attrs() *storage.ObjectAttrs
}

type gcsClientAdapter struct{ client *storage.Client }

// NewGCSClientAdapter wraps a storage client.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &bucketHandleAdapter{BucketHandle: a.client.Bucket(name)}
}

type bucketHandleAdapter struct{ *storage.BucketHandle }

func (a *bucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &objectHandleAdapter{ObjectHandle: a.BucketHandle.Object(name)}
}

type objectHandleAdapter struct{ *storage.ObjectHandle }

func (a *objectHandleAdapter) NewWriter(ctx context.Context) GCSWriter {
	return &writerAdapter{Writer: a.ObjectHandle.NewWriter(ctx)}
}

type writerAdapter struct{ *storage.Writer }

func (w *writerAdapter) Attrs() *storage.ObjectAttrs { return &w.Writer.ObjectAttrs }

var (
	_ GCSClient       = (*gcsClientAdapter)(nil)
	_ GCSBucketHandle = (*bucketHandleAdapter)(nil)
	_ GCSObjectHandle = (*objectHandleAdapter)(nil)
	_ GCSWriter       = (*writerAdapter)(nil)
)

// NewStorageClient creates a GCS client. STORAGE_EMULATOR_HOST is honoured
// by the client library itself.
func NewStorageClient(ctx context.Context, credentialsFile string, logger zerolog.Logger) (*storage.Client, error) {
	var opts []option.ClientOption
	if host := os.Getenv("STORAGE_EMULATOR_HOST"); host != "" {
		logger.Info().Str("emulator_host", host).Msg("Using GCS emulator")
		opts = append(opts, option.WithoutAuthentication())
	} else if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return client, nil
}
