package cmd

import (
	"context"
	"fmt"

	"github.com/illmade-knight/captionflow/pkg/config"
	"github.com/illmade-knight/captionflow/pkg/docstore"
	"github.com/illmade-knight/captionflow/pkg/hub"
	"github.com/illmade-knight/captionflow/pkg/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Broadcast every batch of changed annotation documents",
	Long: `The notify command follows the annotation collection and publishes one
broadcast envelope per non-empty batch of changes to the broadcast topic,
from which every hub instance relays it to its clients. Progress is
checkpointed in the lease collection.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		mustValidate(cfg, config.NotifySettings...)
		ctx := cmd.Context()
		logger := log.Logger

		store, err := docstore.NewClient(ctx, cfg.Store, logger)
		if err != nil {
			return fmt.Errorf("failed to create Firestore client: %w", err)
		}
		broadcaster, err := hub.NewPubSubBroadcaster(ctx, &hub.PubSubBroadcasterConfig{
			ProjectID:       cfg.PubSub.ProjectID,
			TopicID:         cfg.PubSub.BroadcastTopic,
			CredentialsFile: cfg.PubSub.CredentialsFile,
		}, logger)
		if err != nil {
			store.Close()
			return err
		}
		notifier, err := newNotifier(ctx, cfg, store, broadcaster, instanceID(cfg), logger)
		if err != nil {
			broadcaster.Stop()
			store.Close()
			return err
		}

		cleanup := onStop(func() {
			broadcaster.Stop()
			closeFirestore(store, logger)()
		})
		srv, err := server.NewServer(serverConfig(cfg, "notify"), logger, cleanup, notifier)
		if err != nil {
			return err
		}
		return srv.Run(context.Background())
	},
}

func init() {
	notifyCmd.Flags().Bool("start-from-beginning", false, "Deliver documents that already exist when the feed starts")
	rootCmd.AddCommand(notifyCmd)
}
