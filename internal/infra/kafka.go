package infra

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer publishes ledger outbox records to Kafka.
type KafkaProducer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaProducer creates a producer for a comma-separated broker list.
// With no brokers every Publish is a no-op.
func NewKafkaProducer(brokers string, logger *slog.Logger) *KafkaProducer {
	if brokers == "" {
		logger.Info("kafka producer disabled")
		return &KafkaProducer{logger: logger}
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	logger.Info("kafka producer initialized", "brokers", brokers)
	return &KafkaProducer{writer: w, logger: logger}
}

// Publish sends one outbox record. Records of one user share a partition
// key, so a consumer sees that user's movements in commit order.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, r OutboxRecord) error {
	if p.writer == nil {
		return nil
	}
	return p.writer.WriteMessages(ctx, KafkaMessage(topic, r))
}

// Close shuts down the Kafka writer.
func (p *KafkaProducer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

// KafkaMessage maps an outbox record onto a Kafka message. The event type
// travels as a header so consumers can filter without decoding the value.
func KafkaMessage(topic string, r OutboxRecord) kafka.Message {
	return kafka.Message{
		Topic: topic,
		Key:   []byte(r.PartitionKey),
		Value: OutboxMessage(r),
		Time:  r.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(r.EventType)},
			{Key: "aggregate_type", Value: []byte(r.AggregateType)},
			{Key: "event_id", Value: []byte(r.EventID.String())},
		},
	}
}
