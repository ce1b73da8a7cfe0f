package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// Config holds configuration for the Firestore document store.
type Config struct {
	ProjectID       string `mapstructure:"project_id"`
	DatabaseID      string `mapstructure:"database"`
	Collection      string `mapstructure:"collection"`
	LeaseCollection string `mapstructure:"lease_collection"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// NewClient creates a Firestore client for cfg.
// For the emulator, set FIRESTORE_EMULATOR_HOST.
func NewClient(ctx context.Context, cfg Config, logger zerolog.Logger) (*firestore.Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore project ID is required")
	}
	database := cfg.DatabaseID
	if database == "" {
		database = firestore.DefaultDatabaseID
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for Firestore")
	} else if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		logger.Info().Msg("Using Application Default Credentials (ADC) for Firestore")
	}

	client, err := firestore.NewClientWithDatabase(ctx, cfg.ProjectID, database, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClientWithDatabase: %w", err)
	}
	logger.Info().Str("project_id", cfg.ProjectID).Str("database", database).Msg("Firestore client created")
	return client, nil
}
