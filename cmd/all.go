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

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run ingest, notify and the hub in one process",
	Long: `The all command runs the ingest pipeline, the change-feed notifier and an
in-process hub together. Broadcasts go straight to the local hub, so no
broadcast topic is needed. Suitable for a single instance or local
development against the emulators.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		mustValidate(cfg, config.AllSettings...)
		ctx := cmd.Context()
		logger := log.Logger

		h, negotiator, err := newHub(cfg, logger)
		if err != nil {
			return err
		}
		store, err := docstore.NewClient(ctx, cfg.Store, logger)
		if err != nil {
			return fmt.Errorf("failed to create Firestore client: %w", err)
		}
		ingest, err := newIngestService(ctx, cfg, store, logger)
		if err != nil {
			store.Close()
			return err
		}
		notifier, err := newNotifier(ctx, cfg, store, h, instanceID(cfg), logger)
		if err != nil {
			store.Close()
			return err
		}

		cleanup := onStop(func() {
			h.Close()
			closeFirestore(store, logger)()
		})
		srv, err := server.NewServer(serverConfig(cfg, "captionflow"), logger, cleanup, ingest, notifier)
		if err != nil {
			cleanup.Stop()
			return err
		}
		mountHub(srv, h, negotiator, logger)
		return srv.Run(context.Background())
	},
}

func init() {
	allCmd.Flags().Bool("start-from-beginning", false, "Deliver documents that already exist when the feed starts")
	rootCmd.AddCommand(allCmd)
}
