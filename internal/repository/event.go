package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type eventRepo struct{}

// NewEventRepository returns a pgx-backed EventRepository.
func NewEventRepository() EventRepository {
	return &eventRepo{}
}

const eventColumns = `id, event_id, source, type, payment_intent_id, payload, status,
	processing_error, result, attempts, created_at, processed_at`

func (r *eventRepo) Insert(ctx context.Context, db DBTX, e *domain.WebhookEvent) (bool, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = domain.WebhookReceived
	}
	row := db.QueryRow(ctx, `
		INSERT INTO webhook_events (id, event_id, source, type, payment_intent_id, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source, event_id) DO NOTHING
		RETURNING created_at`,
		e.ID, e.EventID, e.Source, e.Type, e.PaymentIntentID, e.Payload, string(e.Status))
	if err := row.Scan(&e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	return true, nil
}

func (r *eventRepo) FindByEventID(ctx context.Context, db DBTX, source, eventID string) (*domain.WebhookEvent, error) {
	row := db.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM webhook_events WHERE source = $1 AND event_id = $2`, source, eventID)
	return scanEvent(row)
}

func (r *eventRepo) MarkDone(ctx context.Context, db DBTX, id uuid.UUID, status domain.WebhookEventStatus, result string) error {
	_, err := db.Exec(ctx, `
		UPDATE webhook_events
		SET status = $2, result = $3, processing_error = NULL, attempts = attempts + 1, processed_at = now()
		WHERE id = $1`, id, string(status), result)
	if err != nil {
		return fmt.Errorf("mark webhook event %s: %w", status, err)
	}
	return nil
}

func (r *eventRepo) MarkFailed(ctx context.Context, db DBTX, id uuid.UUID, processingErr string) error {
	_, err := db.Exec(ctx, `
		UPDATE webhook_events
		SET status = 'failed', processing_error = $2, attempts = attempts + 1, processed_at = now()
		WHERE id = $1`, id, processingErr)
	if err != nil {
		return fmt.Errorf("mark webhook event failed: %w", err)
	}
	return nil
}

func (r *eventRepo) ListRetryable(ctx context.Context, db DBTX, olderThan time.Time, maxAttempts, limit int) ([]domain.WebhookEvent, error) {
	rows, err := db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM webhook_events
		WHERE status IN ('received', 'failed') AND attempts < $2
		  AND COALESCE(processed_at, created_at) < $1
		ORDER BY created_at ASC
		LIMIT $3`, olderThan, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("query retryable events: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	err := row.Scan(&e.ID, &e.EventID, &e.Source, &e.Type, &e.PaymentIntentID, &e.Payload,
		&e.Status, &e.ProcessingError, &e.Result, &e.Attempts, &e.CreatedAt, &e.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan webhook event: %w", err)
	}
	return &e, nil
}

type idempotencyRepo struct{}

// NewIdempotencyRepository returns a pgx-backed IdempotencyRepository.
func NewIdempotencyRepository() IdempotencyRepository {
	return &idempotencyRepo{}
}

func (r *idempotencyRepo) Claim(ctx context.Context, db DBTX, scope, key string) (bool, error) {
	tag, err := db.Exec(ctx, `
		INSERT INTO idempotency_keys (scope, key)
		VALUES ($1, $2)
		ON CONFLICT (scope, key) DO NOTHING`, scope, key)
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
