package events

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/observability"
)

type stubKafkaWriter struct {
	writeFn  func(ctx context.Context, msgs ...kafka.Message) error
	messages []kafka.Message
	closed   bool
}

func (s *stubKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if s.writeFn != nil {
		return s.writeFn(ctx, msgs...)
	}
	s.messages = append(s.messages, msgs...)
	return nil
}

func (s *stubKafkaWriter) Close() error {
	s.closed = true
	return nil
}

func TestKafkaPublisherPropagatesTraceContext(t *testing.T) {
	writer := &stubKafkaWriter{}
	publisher := newKafkaPublisher(writer)
	ctx := observability.ContextWithCloudTrace(context.Background(), "105445aa7843bc8bf206b12000100000/1;o=1", "orders-dev")

	if err := publisher.PublishOrderEvents(ctx, sampleEvents()[0]); err != nil {
		t.Fatalf("PublishOrderEvents: %v", err)
	}
	var trace string
	for _, h := range writer.messages[0].Headers {
		if h.Key == "traceContext" {
			trace = string(h.Value)
		}
	}
	if trace != "105445aa7843bc8bf206b12000100000/0000000000000001;o=1" {
		t.Fatalf("unexpected trace header %q", trace)
	}
}

func TestKafkaPublisherWritesKeyedBatch(t *testing.T) {
	writer := &stubKafkaWriter{}
	publisher := newKafkaPublisher(writer)

	if err := publisher.PublishOrderEvents(context.Background(), sampleEvents()...); err != nil {
		t.Fatalf("PublishOrderEvents: %v", err)
	}
	if len(writer.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(writer.messages))
	}
	for _, msg := range writer.messages {
		if string(msg.Key) != "ord_1" {
			t.Fatalf("expected key ord_1, got %q", msg.Key)
		}
	}
	headers := map[string]string{}
	for _, h := range writer.messages[1].Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["eventName"] != domain.EventOrderStatusChanged || headers["eventId"] != "evt_2" {
		t.Fatalf("unexpected headers %#v", headers)
	}
	if headers["occurredAt"] != "2025-05-06T09:00:00Z" {
		t.Fatalf("unexpected occurredAt header %q", headers["occurredAt"])
	}

	if err := publisher.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer to close, err=%v", err)
	}
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	writer := &stubKafkaWriter{writeFn: func(context.Context, ...kafka.Message) error { return boom }}
	publisher := newKafkaPublisher(writer)

	err := publisher.PublishOrderEvents(context.Background(), sampleEvents()...)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestKafkaPublisherSkipsEmptyBatch(t *testing.T) {
	writer := &stubKafkaWriter{writeFn: func(context.Context, ...kafka.Message) error {
		t.Fatalf("writer should not be called")
		return nil
	}}
	if err := newKafkaPublisher(writer).PublishOrderEvents(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewKafkaPublisherValidatesConfig(t *testing.T) {
	if _, err := NewKafkaPublisher(KafkaConfig{Topic: "order-events"}); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatalf("expected error without topic")
	}
	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{" localhost:9092 ", ""}, Topic: "order-events"})
	if err != nil {
		t.Fatalf("NewKafkaPublisher: %v", err)
	}
	_ = p.Close()
}

func TestLogPublisherLogsEachEvent(t *testing.T) {
	var names []string
	publisher := NewLogPublisher(func(_ context.Context, event string, fields map[string]any) {
		names = append(names, event)
		if fields["orderId"] != "ord_1" {
			t.Fatalf("unexpected fields %#v", fields)
		}
	})
	if err := publisher.PublishOrderEvents(context.Background(), sampleEvents()...); err != nil {
		t.Fatalf("PublishOrderEvents: %v", err)
	}
	if len(names) != 2 || names[0] != domain.EventOrderPlaced {
		t.Fatalf("unexpected logged events %v", names)
	}
}
