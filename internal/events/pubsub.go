package events

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// PubSubPublisher publishes to one Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func NewPubSubPublisher(client *pubsub.Client, topicID string) *PubSubPublisher {
	return &PubSubPublisher{client: client, topic: client.Topic(topicID)}
}

func (p *PubSubPublisher) Publish(ctx context.Context, payload []byte) error {
	result := p.topic.Publish(ctx, &pubsub.Message{Data: payload})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic.ID(), err)
	}
	return nil
}

func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return nil
}

// NopPublisher drops every event. Used in local development when no
// broker is configured and in tests that ignore notifications.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, []byte) error { return nil }
func (NopPublisher) Close() error                          { return nil }
