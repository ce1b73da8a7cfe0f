package cmd

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/captionflow/pkg/archive"
	"github.com/illmade-knight/captionflow/pkg/bqstore"
	"github.com/illmade-knight/captionflow/pkg/config"
	"github.com/illmade-knight/captionflow/pkg/docstore"
	"github.com/illmade-knight/captionflow/pkg/icestore"
	"github.com/illmade-knight/captionflow/pkg/server"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Copy changed annotation documents to Cloud Storage and BigQuery",
	Long: `The archive command follows the annotation collection with its own
checkpoint and writes every changed document as a row to gzipped JSONL
objects grouped by day, and, when a dataset and table are configured, to a
day-partitioned BigQuery table.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		mustValidate(cfg, config.ArchiveSettings...)
		ctx := cmd.Context()
		logger := log.Logger

		store, err := docstore.NewClient(ctx, cfg.Store, logger)
		if err != nil {
			return fmt.Errorf("failed to create Firestore client: %w", err)
		}
		gcsClient, err := icestore.NewStorageClient(ctx, cfg.Store.CredentialsFile, logger)
		if err != nil {
			store.Close()
			return err
		}
		uploader, err := icestore.NewGCSBatchUploader[types.ArchivedAnnotation](icestore.NewGCSClientAdapter(gcsClient), cfg.Archive.GCS, logger)
		if err != nil {
			gcsClient.Close()
			store.Close()
			return err
		}
		sinks := []archive.Sink{
			icestore.NewBatcher[types.ArchivedAnnotation](&cfg.Archive.GCSBatch, uploader, logger),
		}

		var bqClient *bigquery.Client
		if cfg.Archive.BigQuery.DatasetID != "" && cfg.Archive.BigQuery.TableID != "" {
			bqClient, err = bqstore.NewBigQueryClient(ctx, &cfg.Archive.BigQuery, logger)
			if err != nil {
				gcsClient.Close()
				store.Close()
				return err
			}
			inserter, err := bqstore.NewBigQueryInserter[types.ArchivedAnnotation](ctx, bqClient, &cfg.Archive.BigQuery, logger)
			if err != nil {
				bqClient.Close()
				gcsClient.Close()
				store.Close()
				return err
			}
			sinks = append(sinks, bqstore.NewBatchInserter[types.ArchivedAnnotation](&cfg.Archive.BQBatch, inserter, logger))
		} else {
			log.Info().Msg("No BigQuery dataset and table configured, archiving to Cloud Storage only")
		}

		cleanup := onStop(func() {
			if bqClient != nil {
				if err := bqClient.Close(); err != nil {
					logger.Warn().Err(err).Msg("Error closing BigQuery client")
				}
			}
			if err := gcsClient.Close(); err != nil {
				logger.Warn().Err(err).Msg("Error closing GCS client")
			}
			closeFirestore(store, logger)()
		})

		feed, err := newChangeFeed(ctx, cfg, store, cfg.Feed.ArchiveName, instanceID(cfg), logger)
		if err != nil {
			cleanup.Stop()
			return fmt.Errorf("failed to open archive change feed: %w", err)
		}
		svc, err := archive.NewService(feed, sinks, logger)
		if err != nil {
			_ = feed.Close()
			cleanup.Stop()
			return err
		}

		srv, err := server.NewServer(serverConfig(cfg, "archive"), logger, cleanup, svc)
		if err != nil {
			cleanup.Stop()
			return err
		}
		return srv.Run(context.Background())
	},
}

func init() {
	archiveCmd.Flags().Bool("start-from-beginning", false, "Archive documents that already exist when the feed starts")
	rootCmd.AddCommand(archiveCmd)
}
