package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Publisher sends one outbox record to a topic. *KafkaProducer implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, r OutboxRecord) error
}

// TxStarter opens transactions. *pgxpool.Pool implements it.
type TxStarter interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// OutboxRecord is one unpublished row of event_outbox.
type OutboxRecord struct {
	ID            int64
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	PartitionKey  string
	Payload       json.RawMessage
	OccurredAt    time.Time
}

// OutboxPoller relays event_outbox rows to Kafka. Rows are claimed with
// FOR UPDATE SKIP LOCKED so several relays can run side by side.
type OutboxPoller struct {
	db        TxStarter
	publisher Publisher
	topic     string
	metrics   *Metrics
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewOutboxPoller creates a new outbox poller publishing to topic.
func NewOutboxPoller(db TxStarter, publisher Publisher, topic string, metrics *Metrics, logger *slog.Logger) *OutboxPoller {
	return &OutboxPoller{
		db:        db,
		publisher: publisher,
		topic:     topic,
		metrics:   metrics,
		logger:    logger,
		interval:  500 * time.Millisecond,
		batchSize: 100,
	}
}

// Run polls until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	p.logger.Info("outbox poller started", "interval", p.interval, "batch_size", p.batchSize, "topic", p.topic)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox poller stopped")
			return
		case <-ticker.C:
			n, err := p.poll(ctx)
			if err != nil {
				p.logger.Error("outbox poll error", "error", err)
				continue
			}
			if n > 0 {
				p.logger.Debug("outbox poll complete", "published", n)
			}
		}
	}
}

// poll publishes one batch. A row is marked published only after Kafka
// acknowledged it; the first publish failure stops the batch so per-user
// order is preserved.
func (p *OutboxPoller) poll(ctx context.Context) (int, error) {
	published := 0
	err := pgx.BeginTxFunc(ctx, p.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, event_id, aggregate_type, aggregate_id, event_type, partition_key, payload, occurred_at
			FROM event_outbox
			WHERE published_at IS NULL
			ORDER BY id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, p.batchSize)
		if err != nil {
			return fmt.Errorf("fetch outbox: %w", err)
		}
		records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OutboxRecord, error) {
			var r OutboxRecord
			err := row.Scan(&r.ID, &r.EventID, &r.AggregateType, &r.AggregateID, &r.EventType,
				&r.PartitionKey, &r.Payload, &r.OccurredAt)
			return r, err
		})
		if err != nil {
			return fmt.Errorf("scan outbox: %w", err)
		}

		var ids []int64
		for _, r := range records {
			if err := p.publisher.Publish(ctx, p.topic, r); err != nil {
				p.metrics.OutboxPublished("error", 1)
				p.logger.Error("kafka publish failed", "event_id", r.EventID, "error", err)
				break
			}
			ids = append(ids, r.ID)
		}
		if len(ids) == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `UPDATE event_outbox SET published_at = now() WHERE id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("mark published: %w", err)
		}
		published = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	p.metrics.OutboxPublished("ok", published)
	return published, nil
}

// OutboxMessage builds the Kafka message value for an outbox row.
func OutboxMessage(r OutboxRecord) []byte {
	msg, _ := json.Marshal(map[string]interface{}{
		"event_id":       r.EventID,
		"aggregate_type": r.AggregateType,
		"aggregate_id":   r.AggregateID,
		"event_type":     r.EventType,
		"payload":        r.Payload,
		"occurred_at":    r.OccurredAt,
	})
	return msg
}
