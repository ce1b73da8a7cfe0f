package consumers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// --- Google Cloud Pub/Sub Consumer Implementation ---

// GooglePubSubConsumerConfig holds configuration for a Pub/Sub consumer.
type GooglePubSubConsumerConfig struct {
	ProjectID       string
	SubscriptionID  string
	CredentialsFile string // Optional
	// MaxOutstandingMessages controls how many messages the client library holds unacked.
	MaxOutstandingMessages int
	// NumGoroutines is the number of goroutines the client library uses to pull messages.
	NumGoroutines int
}

// GooglePubSubConsumer implements MessageConsumer for Google Cloud Pub/Sub.
type GooglePubSubConsumer struct {
	client             *pubsub.Client
	subscription       *pubsub.Subscription
	config             *GooglePubSubConsumerConfig
	logger             zerolog.Logger
	outputChan         chan types.ConsumedMessage
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	doneChan           chan struct{}
}

// NewGooglePubSubConsumer creates a new consumer for Google Cloud Pub/Sub.
// PUBSUB_EMULATOR_HOST is honoured, and the subscription must already exist
// when running against the emulator.
func NewGooglePubSubConsumer(ctx context.Context, cfg *GooglePubSubConsumerConfig, logger zerolog.Logger) (*GooglePubSubConsumer, error) {
	if cfg == nil {
		return nil, errors.New("GooglePubSubConsumerConfig cannot be nil")
	}
	if cfg.ProjectID == "" || cfg.SubscriptionID == "" {
		return nil, errors.New("ProjectID and SubscriptionID are required for the Pub/Sub consumer")
	}
	if cfg.MaxOutstandingMessages <= 0 {
		cfg.MaxOutstandingMessages = 100
	}
	if cfg.NumGoroutines <= 0 {
		cfg.NumGoroutines = 5
	}

	var opts []option.ClientOption
	pubsubEmulatorHost := os.Getenv("PUBSUB_EMULATOR_HOST")

	if pubsubEmulatorHost != "" {
		logger.Info().Str("emulator_host", pubsubEmulatorHost).Str("subscription_id", cfg.SubscriptionID).Msg("Using Pub/Sub emulator for consumer.")
		opts = append(opts, option.WithEndpoint(pubsubEmulatorHost), option.WithoutAuthentication())
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Str("subscription_id", cfg.SubscriptionID).Msg("Using specified credentials file for Pub/Sub consumer")
	} else {
		logger.Info().Str("subscription_id", cfg.SubscriptionID).Msg("Using Application Default Credentials (ADC) for Pub/Sub consumer")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient for subscription %s: %w", cfg.SubscriptionID, err)
	}

	sub := client.Subscription(cfg.SubscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	if pubsubEmulatorHost != "" {
		exists, err := sub.Exists(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("subscription.Exists check for %s: %w", cfg.SubscriptionID, err)
		}
		if !exists {
			client.Close()
			return nil, fmt.Errorf("pub/sub subscription %s does not exist in project %s", cfg.SubscriptionID, cfg.ProjectID)
		}
	}

	return &GooglePubSubConsumer{
		client:       client,
		subscription: sub,
		config:       cfg,
		logger:       logger.With().Str("component", "GooglePubSubConsumer").Str("subscription_id", cfg.SubscriptionID).Logger(),
		outputChan:   make(chan types.ConsumedMessage, cfg.MaxOutstandingMessages),
		doneChan:     make(chan struct{}),
	}, nil
}

// Messages returns the output channel.
func (c *GooglePubSubConsumer) Messages() <-chan types.ConsumedMessage {
	return c.outputChan
}

// Start begins consuming messages from the Pub/Sub subscription. It returns
// immediately; Receive runs until ctx is cancelled or Stop is called.
func (c *GooglePubSubConsumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting Pub/Sub message consumption...")

	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelSubscription = cancel

	go func() {
		defer close(c.doneChan)
		defer close(c.outputChan)
		defer c.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")

		err := c.subscription.Receive(receiveCtx, func(ctx context.Context, msg *pubsub.Message) {
			c.logger.Debug().Str("msg_id", msg.ID).Msg("Received Pub/Sub message")
			payloadCopy := make([]byte, len(msg.Data))
			copy(payloadCopy, msg.Data)

			consumedMsg := types.ConsumedMessage{
				ID:          msg.ID,
				Payload:     payloadCopy,
				Attributes:  msg.Attributes,
				PublishTime: msg.PublishTime,
				Ack:         msg.Ack,
				Nack:        msg.Nack,
			}

			select {
			case c.outputChan <- consumedMsg:
			case <-receiveCtx.Done():
				c.logger.Warn().Str("msg_id", msg.ID).Msg("Consumer stopping, Nacking message.")
				msg.Nack()
			case <-ctx.Done():
				c.logger.Warn().Str("msg_id", msg.ID).Msg("Message context done, Nacking message.")
				msg.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

// Stop gracefully stops the Pub/Sub consumer and closes its client.
// It is safe to call more than once.
func (c *GooglePubSubConsumer) Stop() error {
	var closeErr error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Pub/Sub consumer...")
		if c.cancelSubscription != nil {
			c.cancelSubscription()
			select {
			case <-c.Done():
				c.logger.Info().Msg("Pub/Sub Receive goroutine confirmed stopped.")
			case <-time.After(30 * time.Second):
				c.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
			}
		}
		if c.client != nil {
			if closeErr = c.client.Close(); closeErr != nil {
				c.logger.Error().Err(closeErr).Msg("Error closing Pub/Sub client")
			}
		}
	})
	return closeErr
}

// Done returns a channel that is closed when the consumer has stopped.
func (c *GooglePubSubConsumer) Done() <-chan struct{} {
	return c.doneChan
}
