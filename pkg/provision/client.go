package provision

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// NewPubSubClient creates a Pub/Sub client for the given project, using the
// emulator when PUBSUB_EMULATOR_HOST is set, otherwise the credentials file
// or Application Default Credentials.
func NewPubSubClient(ctx context.Context, projectID, credentialsFile string, logger zerolog.Logger) (*pubsub.Client, error) {
	var opts []option.ClientOption
	pubsubEmulatorHost := os.Getenv("PUBSUB_EMULATOR_HOST")

	if pubsubEmulatorHost != "" {
		logger.Info().Str("emulator_host", pubsubEmulatorHost).Msg("Using Pub/Sub emulator")
		opts = append(opts, option.WithEndpoint(pubsubEmulatorHost), option.WithoutAuthentication())
	} else if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using credentials file for Pub/Sub")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for Pub/Sub")
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}
	return client, nil
}
