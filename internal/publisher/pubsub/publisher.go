// Package pubsub implements a Google Cloud Pub/Sub crawl event publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/toonfeed/crawler/internal/comic"
)

// Publisher delivers crawl events to a Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
}

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Publish marshals the event to JSON and publishes it, waiting for the
// server acknowledgement.
func (p *Publisher) Publish(ctx context.Context, event comic.CrawlEvent) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal crawl event: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"series_key": event.SeriesKey,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish crawl event: %w", err)
	}
	return nil
}
