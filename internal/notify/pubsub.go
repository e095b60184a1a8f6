package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubSink publishes every activation event to a Pub/Sub topic for durable,
// at-least-once delivery to downstream consumers (audit pipelines, chat
// bridges).
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *log.Logger
}

// NewPubSubSink connects to the topic, creating it if it does not exist.
func NewPubSubSink(ctx context.Context, projectID, topicID string) (*PubSubSink, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
	}

	sink := &PubSubSink{
		client: client,
		topic:  topic,
		logger: log.New(log.Writer(), "[PUBSUB] ", log.LstdFlags),
	}
	sink.logger.Printf("connected to topic projects/%s/topics/%s", projectID, topicID)
	return sink, nil
}

func (s *PubSubSink) Name() string { return "pubsub" }

func (s *PubSubSink) CanSend() bool { return s.topic != nil }

func (s *PubSubSink) Send(ctx context.Context, event *Event) error {
	payload, err := event.JSON()
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"type":       string(event.Type),
			"request_id": event.RequestID,
			"project":    event.Project,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	return nil
}

// Close flushes and shuts down the client.
func (s *PubSubSink) Close() error {
	s.topic.Stop()
	return s.client.Close()
}
