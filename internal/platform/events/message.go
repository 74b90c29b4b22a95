// Package events carries order domain events to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/observability"
)

// message is the transport-neutral form of an event. Attributes are mirrored
// into Pub/Sub attributes and Kafka headers so consumers can filter without
// decoding the payload.
type message struct {
	key        string
	data       []byte
	attributes map[string]string
}

func encode(ctx context.Context, event domain.Event, marshal func(any) ([]byte, error)) (message, error) {
	if event == nil {
		return message{}, errors.New("encode event: event is nil")
	}
	data, err := marshal(event)
	if err != nil {
		return message{}, fmt.Errorf("marshal %s event %s: %w", event.EventName(), event.EventID(), err)
	}

	attrs := make(map[string]string, 6)
	setAttr(attrs, "eventId", event.EventID())
	setAttr(attrs, "eventName", event.EventName())
	setAttr(attrs, "orderId", event.AggregateID())
	setAttr(attrs, "merchantId", event.Merchant())
	if at := event.OccurredAt(); !at.IsZero() {
		attrs["occurredAt"] = at.UTC().Format(time.RFC3339Nano)
	}
	setAttr(attrs, "traceContext", observability.CloudTraceHeader(ctx))

	return message{
		key:        event.AggregateID(),
		data:       data,
		attributes: attrs,
	}, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

var defaultMarshal = json.Marshal
