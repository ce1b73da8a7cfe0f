package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/illmade-knight/captionflow/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// appConfig is loaded by the root command before any subcommand runs.
var appConfig *config.Config

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "captionflow",
	Short: "Caption uploaded images and push the results to connected clients.",
	Long: `captionflow annotates uploaded images with a description service,
stores each annotation as a document, and broadcasts every change to
websocket clients that negotiated a connection with the hub.

Settings come from defaults, an optional YAML file (--config),
CAPTIONFLOW_* environment variables and flags, in that order.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		appConfig = cfg

		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(consoleWriter).With().Timestamp().Logger()

		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			log.Warn().Str("provided_level", cfg.LogLevel).Msg("Invalid log level provided. Defaulting to 'info'.")
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		} else {
			zerolog.SetGlobalLevel(level)
		}
		log.Debug().Msg("Logger initialized.")
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Set the logging level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().String("http-port", ":8080", "Address the HTTP server listens on")
	rootCmd.PersistentFlags().String("project-id", "", "GCP project ID of the document store (also the default for Pub/Sub and BigQuery)")
	rootCmd.PersistentFlags().String("instance-id", "", "Name of this process in checkpoints and subscriptions (generated when empty)")
}

// mustValidate stops the process when required settings are missing.
func mustValidate(cfg *config.Config, required ...string) {
	if err := cfg.Validate(required...); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
}
