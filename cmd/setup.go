package cmd

import (
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/captionflow/pkg/config"
	"github.com/illmade-knight/captionflow/pkg/icestore"
	"github.com/illmade-knight/captionflow/pkg/provision"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the topics, subscriptions and bucket notification",
	Long: `The setup command provisions the upload topic and ingest subscription,
the broadcast topic and, when pubsub.upload_bucket is set, the bucket
notification that publishes "object finalized" events to the upload topic.
Running it again changes nothing.`,
	Example: `  captionflow setup --project-id my-project
  CAPTIONFLOW_PUBSUB_UPLOAD_BUCKET=uploads captionflow setup -c ./captionflow.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		mustValidate(cfg, config.SetupSettings...)
		ctx := cmd.Context()
		logger := log.Logger

		psClient, err := provision.NewPubSubClient(ctx, cfg.PubSub.ProjectID, cfg.PubSub.CredentialsFile, logger)
		if err != nil {
			return err
		}
		defer psClient.Close()

		var gcsClient *storage.Client
		if cfg.PubSub.UploadBucket != "" {
			gcsClient, err = icestore.NewStorageClient(ctx, cfg.PubSub.CredentialsFile, logger)
			if err != nil {
				return err
			}
			defer gcsClient.Close()
		}

		provisioner, err := provision.NewProvisioner(psClient, gcsClient, cfg.PubSub.Config, logger)
		if err != nil {
			return err
		}
		if err := provisioner.Setup(ctx); err != nil {
			return fmt.Errorf("resource setup failed: %w", err)
		}
		log.Info().Str("project_id", cfg.PubSub.ProjectID).Msg("Setup completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
