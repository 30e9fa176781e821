package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-sensorbridge/pkg/ingestion"
	"github.com/rs/zerolog"
)

// PubsubPublisherConfig holds configuration for publishing dead letters.
type PubsubPublisherConfig struct {
	TopicID            string
	TopicExistsTimeout time.Duration
}

// NewPubsubPublisherDefaults returns a config for topicID.
func NewPubsubPublisherDefaults(topicID string) *PubsubPublisherConfig {
	return &PubsubPublisherConfig{
		TopicID:            topicID,
		TopicExistsTimeout: 15 * time.Second,
	}
}

// PubsubPublisher publishes each dead letter as one JSON message. The reason,
// source topic and message ID are copied into attributes so subscribers can
// filter without decoding.
type PubsubPublisher struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewPubsubPublisher checks that the topic exists and returns a publisher for it.
func NewPubsubPublisher(ctx context.Context, cfg *PubsubPublisherConfig, client *pubsub.Client, logger zerolog.Logger) (*PubsubPublisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	if cfg == nil || cfg.TopicID == "" {
		return nil, errors.New("dead-letter topic ID is required")
	}
	timeout := cfg.TopicExistsTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	topic := client.Topic(cfg.TopicID)
	// One dead letter at a time; no reason to hold messages for a batch.
	topic.PublishSettings.CountThreshold = 1

	existsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("Dead-letter publisher initialized.")
	return &PubsubPublisher{
		topic:  topic,
		logger: logger.With().Str("component", "PubsubPublisher").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Archive publishes letter and waits for the server to confirm it.
func (p *PubsubPublisher) Archive(ctx context.Context, letter ingestion.DeadLetter) error {
	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}
	attrs := map[string]string{"reason": string(letter.Reason)}
	if letter.Topic != "" {
		attrs["source_topic"] = letter.Topic
	}
	if letter.MessageID != "" {
		attrs["source_message_id"] = letter.MessageID
	}

	res := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := res.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}
	p.logger.Debug().Str("published_id", id).Str("reason", string(letter.Reason)).Msg("Published dropped message.")
	return nil
}

// Stop flushes pending publishes.
func (p *PubsubPublisher) Stop() {
	p.topic.Stop()
}

var _ ingestion.DeadLetterSink = (*PubsubPublisher)(nil)
