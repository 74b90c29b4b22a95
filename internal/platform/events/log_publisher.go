package events

import (
	"context"

	domain "github.com/hanko-field/orders/internal/domain"
)

// LogPublisher records events through a logger instead of a broker. It is the
// publisher used when no transport is configured.
type LogPublisher struct {
	logger func(context.Context, string, map[string]any)
}

func NewLogPublisher(logger func(context.Context, string, map[string]any)) *LogPublisher {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishOrderEvents(ctx context.Context, events ...domain.Event) error {
	for _, event := range events {
		if event == nil {
			continue
		}
		p.logger(ctx, event.EventName(), map[string]any{
			"eventId":    event.EventID(),
			"orderId":    event.AggregateID(),
			"merchantId": event.Merchant(),
			"occurredAt": event.OccurredAt(),
		})
	}
	return nil
}
