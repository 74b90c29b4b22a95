package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/observability"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes order events to a Kafka topic keyed by order id, so a
// single partition sees every event of one order.
type KafkaPublisher struct {
	writer  kafkaWriter
	marshal func(any) ([]byte, error)
}

// KafkaConfig describes the writer created by NewKafkaPublisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	Logger       *zap.Logger
}

// NewKafkaPublisher builds a synchronous kafka-go writer for the topic.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka order publisher: brokers are required")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, errors.New("kafka order publisher: topic is required")
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("kafka")

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: batchTimeout,
		Logger:       observability.NewLevelPrintfAdapter(logger, zapcore.DebugLevel),
		ErrorLogger:  observability.NewLevelPrintfAdapter(logger, zapcore.WarnLevel),
	}
	return newKafkaPublisher(writer), nil
}

func newKafkaPublisher(writer kafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, marshal: defaultMarshal}
}

// PublishOrderEvents writes the events as one batch.
func (p *KafkaPublisher) PublishOrderEvents(ctx context.Context, events ...domain.Event) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka order publisher: not initialised")
	}
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		msg, err := encode(ctx, event, p.marshal)
		if err != nil {
			return err
		}
		headers := make([]kafka.Header, 0, len(msg.attributes))
		for _, key := range []string{"eventId", "eventName", "orderId", "merchantId", "occurredAt", "traceContext"} {
			if v, ok := msg.attributes[key]; ok {
				headers = append(headers, kafka.Header{Key: key, Value: []byte(v)})
			}
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(msg.key),
			Value:   msg.data,
			Headers: headers,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d order events: %w", len(msgs), err)
	}
	return nil
}

// Close flushes pending writes and releases the connection.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
