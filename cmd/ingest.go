package cmd

import (
	"context"
	"fmt"

	"github.com/illmade-knight/captionflow/pkg/config"
	"github.com/illmade-knight/captionflow/pkg/docstore"
	"github.com/illmade-knight/captionflow/pkg/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Annotate uploaded images and store one document per caption",
	Long: `The ingest command consumes "object created" events from the ingest
subscription, asks the description service for captions of each image, and
writes the best caption as a document. Images without captions are skipped.`,
	Example: `  captionflow ingest --config ./captionflow.yaml
  CAPTIONFLOW_VISION_KEY=... captionflow ingest --project-id my-project`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		mustValidate(cfg, config.IngestSettings...)
		ctx := cmd.Context()
		logger := log.Logger

		store, err := docstore.NewClient(ctx, cfg.Store, logger)
		if err != nil {
			return fmt.Errorf("failed to create Firestore client: %w", err)
		}
		ingest, err := newIngestService(ctx, cfg, store, logger)
		if err != nil {
			store.Close()
			return err
		}

		srv, err := server.NewServer(serverConfig(cfg, "ingest"), logger, onStop(closeFirestore(store, logger)), ingest)
		if err != nil {
			store.Close()
			return err
		}
		return srv.Run(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
