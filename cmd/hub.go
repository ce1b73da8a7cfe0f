package cmd

import (
	"context"
	"fmt"

	"github.com/illmade-knight/captionflow/pkg/config"
	"github.com/illmade-knight/captionflow/pkg/consumers"
	"github.com/illmade-knight/captionflow/pkg/hub"
	"github.com/illmade-knight/captionflow/pkg/provision"
	"github.com/illmade-knight/captionflow/pkg/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Serve negotiation and websocket connections for broadcast clients",
	Long: `The hub command serves /api/negotiate and the /client/ websocket endpoint.
Each instance creates its own expiring subscription on the broadcast topic
and relays every envelope to its connected clients. The subscription is
deleted on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		mustValidate(cfg, config.HubSettings...)
		ctx := cmd.Context()
		logger := log.Logger
		id := instanceID(cfg)

		h, negotiator, err := newHub(cfg, logger)
		if err != nil {
			return err
		}

		psClient, err := provision.NewPubSubClient(ctx, cfg.PubSub.ProjectID, cfg.PubSub.CredentialsFile, logger)
		if err != nil {
			return err
		}
		provisioner, err := provision.NewProvisioner(psClient, nil, hubProvisionConfig(cfg), logger)
		if err != nil {
			psClient.Close()
			return err
		}
		subscription, err := provisioner.EnsureInstanceSubscription(ctx, id)
		if err != nil {
			psClient.Close()
			return fmt.Errorf("failed to create instance subscription: %w", err)
		}
		log.Info().Str("instance_id", id).Str("subscription_id", subscription).Msg("Hub instance subscription ready")

		cleanup := onStop(func() {
			h.Close()
			ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer cancel()
			if err := provisioner.DeleteSubscription(ctx, subscription); err != nil {
				logger.Warn().Err(err).Msg("Failed to delete instance subscription")
			}
			psClient.Close()
		})

		consumer, err := consumers.NewGooglePubSubConsumer(ctx, &consumers.GooglePubSubConsumerConfig{
			ProjectID:              cfg.PubSub.ProjectID,
			SubscriptionID:         subscription,
			CredentialsFile:        cfg.PubSub.CredentialsFile,
			MaxOutstandingMessages: cfg.PubSub.MaxOutstandingMessages,
			NumGoroutines:          1,
		}, logger)
		if err != nil {
			cleanup.Stop()
			return fmt.Errorf("failed to create broadcast consumer: %w", err)
		}
		relay, err := hub.NewRelayService(consumer, hub.NewRelay(h, logger), logger)
		if err != nil {
			cleanup.Stop()
			return err
		}

		srv, err := server.NewServer(serverConfig(cfg, "hub"), logger, cleanup, relay)
		if err != nil {
			cleanup.Stop()
			return err
		}
		mountHub(srv, h, negotiator, logger)
		return srv.Run(context.Background())
	},
}

// hubProvisionConfig drops the upload bucket, which hub instances never manage.
func hubProvisionConfig(cfg *config.Config) provision.Config {
	pc := cfg.PubSub.Config
	pc.UploadBucket = ""
	return pc
}

func init() {
	rootCmd.AddCommand(hubCmd)
}
