package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/captionflow/pkg/provision"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
)

// PubSubBroadcasterConfig holds configuration for the broadcast topic publisher.
type PubSubBroadcasterConfig struct {
	ProjectID       string
	TopicID         string
	CredentialsFile string
}

// PubSubBroadcaster publishes broadcast envelopes to a topic that every hub
// instance subscribes to.
type PubSubBroadcaster struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewPubSubBroadcaster creates a publisher for the broadcast topic.
func NewPubSubBroadcaster(ctx context.Context, cfg *PubSubBroadcasterConfig, logger zerolog.Logger) (*PubSubBroadcaster, error) {
	if cfg == nil || cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, errors.New("ProjectID and TopicID are required for the broadcaster")
	}
	client, err := provision.NewPubSubClient(ctx, cfg.ProjectID, cfg.CredentialsFile, logger)
	if err != nil {
		return nil, err
	}
	return NewPubSubBroadcasterWithClient(client, cfg.TopicID, logger), nil
}

// NewPubSubBroadcasterWithClient uses an existing client. The broadcaster
// takes ownership of it.
func NewPubSubBroadcasterWithClient(client *pubsub.Client, topicID string, logger zerolog.Logger) *PubSubBroadcaster {
	topic := client.Topic(topicID)
	// One envelope per change batch; send it without waiting for more.
	topic.PublishSettings.DelayThreshold = 10 * time.Millisecond
	topic.PublishSettings.CountThreshold = 1
	topic.PublishSettings.Timeout = 30 * time.Second

	logger.Info().Str("topic_id", topicID).Msg("PubSubBroadcaster initialized successfully")
	return &PubSubBroadcaster{
		client: client,
		topic:  topic,
		logger: logger.With().Str("component", "PubSubBroadcaster").Str("topic_id", topicID).Logger(),
	}
}

// Broadcast publishes msg and waits for the server to accept it.
func (p *PubSubBroadcaster) Broadcast(ctx context.Context, msg *types.BroadcastMessage) error {
	if msg == nil {
		return errors.New("cannot broadcast a nil message")
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"target": msg.Target},
	})
	msgID, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish broadcast to %s: %w", p.topic.ID(), err)
	}
	p.logger.Debug().Str("message_id", msgID).Int("arguments", len(msg.Arguments)).Msg("Broadcast published")
	return nil
}

// Stop flushes pending messages and closes the Pub/Sub client.
func (p *PubSubBroadcaster) Stop() {
	p.logger.Info().Msg("Stopping PubSubBroadcaster...")
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Error closing Pub/Sub client")
	}
}
