package events

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	domain "github.com/hanko-field/orders/internal/domain"
)

// PubSubPublisher publishes order events to a Pub/Sub topic. Messages for the
// same order share an ordering key.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a Pub/Sub backed order event publisher and
// enables message ordering on the topic.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{
		topic:   topic,
		marshal: defaultMarshal,
	}, nil
}

// PublishOrderEvents publishes the events in order and waits for every result.
func (p *PubSubPublisher) PublishOrderEvents(ctx context.Context, events ...domain.Event) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}
	if len(events) == 0 {
		return nil
	}

	type pending struct {
		key    string
		name   string
		result *pubsub.PublishResult
	}
	results := make([]pending, 0, len(events))
	for _, event := range events {
		msg, err := encode(ctx, event, p.marshal)
		if err != nil {
			return err
		}
		results = append(results, pending{
			key:  msg.key,
			name: event.EventName(),
			result: p.topic.Publish(ctx, &pubsub.Message{
				Data:        msg.data,
				Attributes:  msg.attributes,
				OrderingKey: msg.key,
			}),
		})
	}

	var errs []error
	for _, r := range results {
		if _, err := r.result.Get(ctx); err != nil {
			// a failed publish pauses its ordering key until resumed
			p.topic.ResumePublish(r.key)
			errs = append(errs, fmt.Errorf("publish %s for order %s: %w", r.name, r.key, err))
		}
	}
	return errors.Join(errs...)
}
