package bqstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// BigQueryInserterConfig holds configuration for the BigQuery inserter.
type BigQueryInserterConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	DatasetID       string `mapstructure:"dataset"`
	TableID         string `mapstructure:"table"`
	CredentialsFile string `mapstructure:"credentials_file"`
	// PartitionField, when set, day-partitions a table created on demand.
	PartitionField string `mapstructure:"partition_field"`
}

// InsertIDer is implemented by rows that carry their own deduplication ID.
type InsertIDer interface {
	InsertID() string
}

// NewBigQueryClient creates a BigQuery client.
func NewBigQueryClient(ctx context.Context, cfg *BigQueryInserterConfig, logger zerolog.Logger, opts ...option.ClientOption) (*bigquery.Client, error) {
	if cfg == nil || cfg.ProjectID == "" {
		return nil, errors.New("ProjectID is required for the BigQuery client")
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for BigQuery client")
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	return client, nil
}

// BigQueryInserter streams rows of type T into one table. It implements
// DataBatchInserter[T].
type BigQueryInserter[T any] struct {
	table    *bigquery.Table
	inserter *bigquery.Inserter
	schema   bigquery.Schema
	logger   zerolog.Logger
}

// NewBigQueryInserter prepares the table, creating it with a schema inferred
// from T when it does not exist.
func NewBigQueryInserter[T any](ctx context.Context, client *bigquery.Client, cfg *BigQueryInserterConfig, logger zerolog.Logger) (*BigQueryInserter[T], error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil || cfg.DatasetID == "" || cfg.TableID == "" {
		return nil, errors.New("DatasetID and TableID must be provided in BigQueryInserterConfig")
	}
	log := logger.With().Str("component", "BigQueryInserter").Str("dataset", cfg.DatasetID).Str("table", cfg.TableID).Logger()

	var zero T
	schema, err := bigquery.InferSchema(zero)
	if err != nil {
		return nil, fmt.Errorf("failed to infer schema for %T: %w", zero, err)
	}

	table := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	meta, err := table.Metadata(ctx)
	switch {
	case isNotFound(err):
		log.Warn().Msg("BigQuery table not found. Creating with inferred schema.")
		md := &bigquery.TableMetadata{Schema: schema}
		if cfg.PartitionField != "" {
			md.TimePartitioning = &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: cfg.PartitionField}
		}
		if err := table.Create(ctx, md); err != nil {
			return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, err)
		}
		log.Info().Msg("BigQuery table created.")
	case err != nil:
		return nil, fmt.Errorf("failed to get BigQuery table metadata for %s.%s: %w", cfg.DatasetID, cfg.TableID, err)
	default:
		log.Info().Int("schema_length", len(meta.Schema)).Msg("BigQuery table metadata loaded.")
	}

	return &BigQueryInserter[T]{
		table:    table,
		inserter: table.Inserter(),
		schema:   schema,
		logger:   log,
	}, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// InsertBatch streams items to the table. Nil items are skipped.
func (i *BigQueryInserter[T]) InsertBatch(ctx context.Context, items []*T) error {
	savers := make([]*bigquery.StructSaver, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		saver := &bigquery.StructSaver{Struct: item, Schema: i.schema}
		if ider, ok := any(*item).(InsertIDer); ok {
			saver.InsertID = ider.InsertID()
		}
		savers = append(savers, saver)
	}
	if len(savers) == 0 {
		return nil
	}

	if err := i.inserter.Put(ctx, savers); err != nil {
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				i.logger.Error().Int("row_index", rowErr.RowIndex).Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put: %w", err)
	}
	i.logger.Debug().Int("batch_size", len(savers)).Msg("Inserted batch into BigQuery")
	return nil
}

// Close is a no-op; the client lifecycle is managed by the caller.
func (i *BigQueryInserter[T]) Close() error {
	return nil
}
