package provision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
)

// Config names the messaging resources the pipeline needs.
type Config struct {
	ProjectID               string            `mapstructure:"project_id"`
	UploadTopic             string            `mapstructure:"upload_topic"`
	IngestSubscription      string            `mapstructure:"ingest_subscription"`
	BroadcastTopic          string            `mapstructure:"broadcast_topic"`
	InstanceSubPrefix       string            `mapstructure:"instance_subscription_prefix"`
	UploadBucket            string            `mapstructure:"upload_bucket"`
	UploadObjectPrefix      string            `mapstructure:"upload_object_prefix"`
	AckDeadline             time.Duration     `mapstructure:"ack_deadline"`
	InstanceSubscriptionTTL time.Duration     `mapstructure:"instance_subscription_ttl"`
	Labels                  map[string]string `mapstructure:"labels"`
}

const (
	defaultAckDeadline = 60 * time.Second
	// Pub/Sub rejects expiration policies shorter than a day.
	minInstanceSubscriptionTTL = 24 * time.Hour
	// Shortest retention Pub/Sub accepts; old broadcasts are worthless to a hub.
	instanceSubscriptionRetention = 10 * time.Minute
)

// Provisioner creates and removes the topics, subscriptions and bucket
// notification used by the pipeline. Every operation is idempotent.
type Provisioner struct {
	pubsub  *pubsub.Client
	storage *storage.Client
	cfg     Config
	logger  zerolog.Logger
}

// NewProvisioner creates a Provisioner. storageClient may be nil when no
// upload bucket is configured.
func NewProvisioner(pubsubClient *pubsub.Client, storageClient *storage.Client, cfg Config, logger zerolog.Logger) (*Provisioner, error) {
	if pubsubClient == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	if cfg.UploadBucket != "" && storageClient == nil {
		return nil, errors.New("a storage client is required to configure the upload bucket")
	}
	if cfg.AckDeadline <= 0 {
		cfg.AckDeadline = defaultAckDeadline
	}
	if cfg.InstanceSubscriptionTTL < minInstanceSubscriptionTTL {
		cfg.InstanceSubscriptionTTL = minInstanceSubscriptionTTL
	}
	if cfg.InstanceSubPrefix == "" {
		cfg.InstanceSubPrefix = cfg.BroadcastTopic + "-hub"
	}
	return &Provisioner{
		pubsub:  pubsubClient,
		storage: storageClient,
		cfg:     cfg,
		logger:  logger.With().Str("component", "Provisioner").Logger(),
	}, nil
}

// Setup ensures the upload topic and ingest subscription, the broadcast
// topic, and the bucket notification feeding the upload topic.
func (p *Provisioner) Setup(ctx context.Context) error {
	if p.cfg.UploadTopic == "" || p.cfg.IngestSubscription == "" || p.cfg.BroadcastTopic == "" {
		return errors.New("upload topic, ingest subscription and broadcast topic are required")
	}
	p.logger.Info().Str("project_id", p.cfg.ProjectID).Msg("Starting resource setup")

	upload, err := p.ensureTopic(ctx, p.cfg.UploadTopic)
	if err != nil {
		return err
	}
	if _, err := p.ensureTopic(ctx, p.cfg.BroadcastTopic); err != nil {
		return err
	}
	if err := p.ensureSubscription(ctx, p.cfg.IngestSubscription, pubsub.SubscriptionConfig{
		Topic:       upload,
		AckDeadline: p.cfg.AckDeadline,
		Labels:      p.cfg.Labels,
		RetryPolicy: &pubsub.RetryPolicy{MinimumBackoff: 10 * time.Second, MaximumBackoff: 10 * time.Minute},
	}); err != nil {
		return err
	}
	if p.cfg.UploadBucket != "" {
		if err := p.ensureBucketNotification(ctx); err != nil {
			return err
		}
	}
	p.logger.Info().Msg("Resource setup completed successfully")
	return nil
}

func (p *Provisioner) ensureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	topic := p.pubsub.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check existence of topic '%s': %w", name, err)
	}
	if exists {
		p.logger.Info().Str("topic_id", name).Msg("Topic already exists")
		return topic, nil
	}
	created, err := p.pubsub.CreateTopicWithConfig(ctx, name, &pubsub.TopicConfig{Labels: p.cfg.Labels})
	if err != nil {
		return nil, fmt.Errorf("failed to create topic '%s': %w", name, err)
	}
	p.logger.Info().Str("topic_id", name).Msg("Topic created")
	return created, nil
}

func (p *Provisioner) ensureSubscription(ctx context.Context, name string, cfg pubsub.SubscriptionConfig) error {
	sub := p.pubsub.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check existence of subscription '%s': %w", name, err)
	}
	if exists {
		_, err := sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{
			AckDeadline: cfg.AckDeadline,
			Labels:      cfg.Labels,
			RetryPolicy: cfg.RetryPolicy,
		})
		if err != nil {
			p.logger.Warn().Err(err).Str("subscription_id", name).Msg("Failed to update existing subscription")
		}
		return nil
	}
	if _, err := p.pubsub.CreateSubscription(ctx, name, cfg); err != nil {
		return fmt.Errorf("failed to create subscription '%s' for topic '%s': %w", name, cfg.Topic.ID(), err)
	}
	p.logger.Info().Str("subscription_id", name).Str("topic_id", cfg.Topic.ID()).Msg("Subscription created")
	return nil
}

// ensureBucketNotification makes object finalization in the upload bucket
// publish a JSON notification to the upload topic.
func (p *Provisioner) ensureBucketNotification(ctx context.Context) error {
	bucket := p.storage.Bucket(p.cfg.UploadBucket)
	existing, err := bucket.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("failed to list notifications of bucket '%s': %w", p.cfg.UploadBucket, err)
	}
	for id, n := range existing {
		if n.TopicID == p.cfg.UploadTopic && n.TopicProjectID == p.cfg.ProjectID && n.ObjectNamePrefix == p.cfg.UploadObjectPrefix {
			p.logger.Info().Str("bucket", p.cfg.UploadBucket).Str("notification_id", id).Msg("Bucket notification already exists")
			return nil
		}
	}
	n, err := bucket.AddNotification(ctx, &storage.Notification{
		TopicProjectID:   p.cfg.ProjectID,
		TopicID:          p.cfg.UploadTopic,
		PayloadFormat:    storage.JSONPayload,
		EventTypes:       []string{storage.ObjectFinalizeEvent},
		ObjectNamePrefix: p.cfg.UploadObjectPrefix,
	})
	if err != nil {
		return fmt.Errorf("failed to add notification to bucket '%s': %w", p.cfg.UploadBucket, err)
	}
	p.logger.Info().Str("bucket", p.cfg.UploadBucket).Str("notification_id", n.ID).Msg("Bucket notification created")
	return nil
}

var invalidSubscriptionChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.~+%]`)

// InstanceSubscriptionName is the broadcast subscription of one hub instance.
func (p *Provisioner) InstanceSubscriptionName(instanceID string) string {
	name := p.cfg.InstanceSubPrefix + "-" + invalidSubscriptionChars.ReplaceAllString(instanceID, "-")
	if len(name) > 255 {
		name = name[:255]
	}
	return strings.TrimRight(name, "-")
}

// EnsureInstanceSubscription creates the broadcast subscription for one hub
// instance, so every instance receives every broadcast. The subscription
// expires if the instance disappears without deleting it.
func (p *Provisioner) EnsureInstanceSubscription(ctx context.Context, instanceID string) (string, error) {
	if p.cfg.BroadcastTopic == "" {
		return "", errors.New("broadcast topic is required")
	}
	name := p.InstanceSubscriptionName(instanceID)
	err := p.ensureSubscription(ctx, name, pubsub.SubscriptionConfig{
		Topic:             p.pubsub.Topic(p.cfg.BroadcastTopic),
		AckDeadline:       10 * time.Second,
		RetentionDuration: instanceSubscriptionRetention,
		ExpirationPolicy:  p.cfg.InstanceSubscriptionTTL,
		Labels:            p.cfg.Labels,
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// DeleteSubscription removes a subscription. A missing subscription is not an error.
func (p *Provisioner) DeleteSubscription(ctx context.Context, name string) error {
	sub := p.pubsub.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check existence of subscription '%s': %w", name, err)
	}
	if !exists {
		return nil
	}
	if err := sub.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete subscription '%s': %w", name, err)
	}
	p.logger.Info().Str("subscription_id", name).Msg("Subscription deleted")
	return nil
}
