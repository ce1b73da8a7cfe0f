package icestore

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Batchable items name the group, and so the object path, they are written under.
type Batchable interface {
	GetBatchKey() string
}

// GCSBatchUploaderConfig holds configuration for the GCS uploader.
type GCSBatchUploaderConfig struct {
	BucketName   string `mapstructure:"bucket"`
	ObjectPrefix string `mapstructure:"prefix"`
}

// GCSBatchUploader writes each group of a batch to its own gzip JSONL object,
// <prefix>/<batch key>/<uuid>.jsonl.gz. It implements DataUploader[T].
type GCSBatchUploader[T Batchable] struct {
	client GCSClient
	config GCSBatchUploaderConfig
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewGCSBatchUploader creates an uploader for config.BucketName.
func NewGCSBatchUploader[T Batchable](gcsClient GCSClient, config GCSBatchUploaderConfig, logger zerolog.Logger) (*GCSBatchUploader[T], error) {
	if gcsClient == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSBatchUploader[T]{
		client: gcsClient,
		config: config,
		logger: logger.With().Str("component", "GCSBatchUploader").Str("bucket", config.BucketName).Logger(),
	}, nil
}

// UploadBatch groups items by batch key and uploads the groups concurrently.
// Items with an empty key are skipped. The returned error joins every failed group.
func (u *GCSBatchUploader[T]) UploadBatch(ctx context.Context, items []*T) error {
	groups := make(map[string][]*T)
	for _, item := range items {
		if item == nil {
			continue
		}
		key := (*item).GetBatchKey()
		if key == "" {
			u.logger.Warn().Msg("Item has an empty batch key, skipping.")
			continue
		}
		groups[key] = append(groups[key], item)
	}
	if len(groups) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for key, group := range groups {
		wg.Add(1)
		u.wg.Add(1)
		go func(key string, group []*T) {
			defer wg.Done()
			defer u.wg.Done()
			if err := u.uploadGroup(ctx, key, group); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(key, group)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// uploadGroup streams one group through gzip into a GCS object writer.
func (u *GCSBatchUploader[T]) uploadGroup(ctx context.Context, key string, group []*T) error {
	objectName := path.Join(u.config.ObjectPrefix, key, uuid.NewString()+".jsonl.gz")
	log := u.logger.With().Str("object_name", objectName).Logger()
	log.Debug().Int("item_count", len(group)).Msg("Starting upload for group")

	w := u.client.Bucket(u.config.BucketName).Object(objectName).NewWriter(ctx)
	if attrs := w.Attrs(); attrs != nil {
		attrs.ContentType = "application/x-ndjson"
		attrs.Metadata = map[string]string{"batch_key": key, "item_count": fmt.Sprint(len(group))}
	}

	pr, pw := io.Pipe()
	go func() {
		var err error
		defer func() { pw.CloseWithError(err) }()

		gz := gzip.NewWriter(pw)
		enc := json.NewEncoder(gz)
		for _, item := range group {
			if err = enc.Encode(item); err != nil {
				err = fmt.Errorf("json encoding failed for %s: %w", objectName, err)
				return
			}
		}
		if err = gz.Close(); err != nil {
			err = fmt.Errorf("gzip close failed for %s: %w", objectName, err)
		}
	}()

	written, copyErr := io.Copy(w, pr)
	// Close finalizes the object, or aborts it after a failed copy.
	closeErr := w.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to stream GCS object %s: %w", objectName, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to finalize GCS object %s: %w", objectName, closeErr)
	}

	log.Info().Int("item_count", len(group)).Int64("bytes_written", written).Msg("Uploaded group to GCS")
	return nil
}

// Close waits for in-flight uploads.
func (u *GCSBatchUploader[T]) Close() error {
	u.wg.Wait()
	return nil
}
