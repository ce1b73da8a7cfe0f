package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/illmade-knight/captionflow/pkg/bqstore"
	"github.com/illmade-knight/captionflow/pkg/docstore"
	"github.com/illmade-knight/captionflow/pkg/hub"
	"github.com/illmade-knight/captionflow/pkg/icestore"
	"github.com/illmade-knight/captionflow/pkg/provision"
	"github.com/illmade-knight/captionflow/pkg/vision"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CAPTIONFLOW_VISION_KEY.
const EnvPrefix = "CAPTIONFLOW"

// ErrMissingSetting is returned by Validate when required settings are empty.
var ErrMissingSetting = errors.New("missing required setting")

// Config holds all configuration for the application.
type Config struct {
	LogLevel        string        `mapstructure:"log_level"`
	HTTPPort        string        `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// InstanceID names this process in checkpoints and subscriptions.
	InstanceID string `mapstructure:"instance_id"`

	Vision vision.Config   `mapstructure:"vision"`
	Store  docstore.Config `mapstructure:"store"`

	Feed struct {
		StartFromBeginning bool   `mapstructure:"start_from_beginning"`
		NotifyName         string `mapstructure:"notify_name"`
		ArchiveName        string `mapstructure:"archive_name"`
	} `mapstructure:"feed"`

	Hub struct {
		hub.Config       `mapstructure:",squash"`
		ConnectionString string        `mapstructure:"connection_string"`
		TokenTTL         time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"hub"`

	PubSub struct {
		provision.Config       `mapstructure:",squash"`
		CredentialsFile        string `mapstructure:"credentials_file"`
		MaxOutstandingMessages int    `mapstructure:"max_outstanding_messages"`
		NumGoroutines          int    `mapstructure:"num_goroutines"`
	} `mapstructure:"pubsub"`

	Ingest struct {
		NumWorkers int `mapstructure:"num_workers"`
	} `mapstructure:"ingest"`

	Archive struct {
		GCS      icestore.GCSBatchUploaderConfig `mapstructure:"gcs"`
		GCSBatch icestore.BatcherConfig          `mapstructure:"gcs_batch"`
		BigQuery bqstore.BigQueryInserterConfig  `mapstructure:"bigquery"`
		BQBatch  bqstore.BatchInserterConfig     `mapstructure:"bigquery_batch"`
	} `mapstructure:"archive"`
}

// defaults lists every key with its default. Keys without a real default are
// registered empty so environment variables can set them.
var defaults = map[string]interface{}{
	"log_level":        "info",
	"http_port":        ":8080",
	"shutdown_timeout": 15 * time.Second,
	"instance_id":      "",

	"vision.provider":       vision.ProviderAzure,
	"vision.endpoint":       "",
	"vision.key":            "",
	"vision.max_candidates": 1,
	"vision.language":       "en",

	"store.project_id":       "",
	"store.database":         "",
	"store.collection":       "",
	"store.lease_collection": docstore.DefaultLeaseCollection,
	"store.credentials_file": "",

	"feed.start_from_beginning": false,
	"feed.notify_name":          "notify",
	"feed.archive_name":         "archive",

	"hub.name":              "captions",
	"hub.connection_string": "",
	"hub.token_ttl":         hub.DefaultTokenTTL,
	"hub.send_queue_size":   hub.DefaultSendQueueSize,

	"pubsub.project_id":                   "",
	"pubsub.upload_topic":                 "image-uploads",
	"pubsub.ingest_subscription":          "image-uploads-ingest",
	"pubsub.broadcast_topic":              "caption-broadcasts",
	"pubsub.instance_subscription_prefix": "",
	"pubsub.upload_bucket":                "",
	"pubsub.upload_object_prefix":         "",
	"pubsub.ack_deadline":                 60 * time.Second,
	"pubsub.instance_subscription_ttl":    24 * time.Hour,
	"pubsub.credentials_file":             "",
	"pubsub.max_outstanding_messages":     100,
	"pubsub.num_goroutines":               5,

	"ingest.num_workers": 5,

	"archive.gcs.bucket":                   "",
	"archive.gcs.prefix":                   "annotations",
	"archive.gcs_batch.batch_size":         100,
	"archive.gcs_batch.flush_timeout":      30 * time.Second,
	"archive.bigquery.project_id":          "",
	"archive.bigquery.dataset":             "captionflow",
	"archive.bigquery.table":               "annotations",
	"archive.bigquery.partition_field":     "archived_at",
	"archive.bigquery_batch.batch_size":    500,
	"archive.bigquery_batch.flush_timeout": 10 * time.Second,
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"log-level":            "log_level",
	"http-port":            "http_port",
	"project-id":           "store.project_id",
	"instance-id":          "instance_id",
	"start-from-beginning": "feed.start_from_beginning",
}

// Load builds the configuration: defaults, then the optional YAML file named
// by the "config" flag, then CAPTIONFLOW_* environment variables, then flags
// that were set explicitly. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for flagName, key := range flagKeys {
			if f := flags.Lookup(flagName); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", flagName, err)
				}
			}
		}
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", f.Value.String(), err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.applyFallbacks()
	return &cfg, nil
}

// applyFallbacks lets the store project stand in for the other project IDs.
func (c *Config) applyFallbacks() {
	if c.PubSub.ProjectID == "" {
		c.PubSub.ProjectID = c.Store.ProjectID
	}
	if c.Archive.BigQuery.ProjectID == "" {
		c.Archive.BigQuery.ProjectID = c.Store.ProjectID
	}
	if c.Archive.BigQuery.CredentialsFile == "" {
		c.Archive.BigQuery.CredentialsFile = c.Store.CredentialsFile
	}
}

// Required setting groups, by the component that needs them.
var (
	IngestSettings  = []string{"vision.key", "vision.endpoint", "store.project_id", "store.database", "store.collection", "pubsub.ingest_subscription"}
	NotifySettings  = []string{"store.project_id", "store.database", "store.collection", "pubsub.project_id", "pubsub.broadcast_topic"}
	HubSettings     = []string{"hub.connection_string", "pubsub.project_id", "pubsub.broadcast_topic"}
	ArchiveSettings = []string{"store.project_id", "store.database", "store.collection", "archive.gcs.bucket"}
	SetupSettings   = []string{"pubsub.project_id"}
	AllSettings     = []string{"vision.key", "vision.endpoint", "store.project_id", "store.database", "store.collection", "hub.connection_string"}
)

func (c *Config) lookup(key string) (string, bool) {
	switch key {
	case "vision.key":
		return c.Vision.Key, true
	case "vision.endpoint":
		return c.Vision.Endpoint, true
	case "store.project_id":
		return c.Store.ProjectID, true
	case "store.database":
		return c.Store.DatabaseID, true
	case "store.collection":
		return c.Store.Collection, true
	case "hub.connection_string":
		return c.Hub.ConnectionString, true
	case "pubsub.project_id":
		return c.PubSub.ProjectID, true
	case "pubsub.ingest_subscription":
		return c.PubSub.IngestSubscription, true
	case "pubsub.broadcast_topic":
		return c.PubSub.BroadcastTopic, true
	case "archive.gcs.bucket":
		return c.Archive.GCS.BucketName, true
	}
	return "", false
}

// Validate reports every key in required whose value is empty, naming its
// environment variable.
func (c *Config) Validate(required ...string) error {
	var missing []string
	for _, key := range required {
		value, known := c.lookup(key)
		if !known {
			return fmt.Errorf("unknown setting %q", key)
		}
		if strings.TrimSpace(value) == "" {
			missing = append(missing, fmt.Sprintf("%s (%s)", key, EnvVar(key)))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
	}
	return nil
}

// EnvVar returns the environment variable that sets key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
