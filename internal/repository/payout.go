package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type payoutRepo struct{}

// NewPayoutRepository returns a pgx-backed PayoutRepository.
func NewPayoutRepository() PayoutRepository {
	return &payoutRepo{}
}

const payoutColumns = `id, account_id, transaction_id, user_id, currency, amount, status, method,
	idempotency_key, external_id, external_status, failure_reason, created_at, updated_at`

func (r *payoutRepo) Create(ctx context.Context, db DBTX, p *domain.Payout) error {
	row := db.QueryRow(ctx, `
		INSERT INTO payouts
		  (id, account_id, transaction_id, user_id, currency, amount, status, method, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		p.ID, p.AccountID, p.TransactionID, p.UserID, p.Currency,
		infra.Int64ToNumeric(p.Amount), string(p.Status), string(p.Method), p.IdempotencyKey,
	)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return mapWriteErr("insert payout", err)
	}
	return nil
}

func (r *payoutRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payout, error) {
	return scanPayout(db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
}

func (r *payoutRepo) LockByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payout, error) {
	return scanPayout(db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1 FOR UPDATE`, id))
}

func (r *payoutRepo) FindByIdempotencyKey(ctx context.Context, db DBTX, userID uuid.UUID, key string) (*domain.Payout, error) {
	return scanPayout(db.QueryRow(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
}

func (r *payoutRepo) FindByExternalID(ctx context.Context, db DBTX, externalID string) (*domain.Payout, error) {
	return scanPayout(db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE external_id = $1`, externalID))
}

func (r *payoutRepo) Update(ctx context.Context, db DBTX, id uuid.UUID, upd domain.PayoutUpdate) (*domain.Payout, error) {
	row := db.QueryRow(ctx, `
		UPDATE payouts SET
			status = $2,
			external_id = COALESCE($3, external_id),
			external_status = COALESCE($4, external_status),
			failure_reason = COALESCE($5, failure_reason),
			updated_at = now()
		WHERE id = $1
		RETURNING `+payoutColumns,
		id, string(upd.Status), upd.ExternalID, upd.ExternalStatus, upd.FailureReason)
	p, err := scanPayout(row)
	if err != nil {
		return nil, mapWriteErr("update payout", err)
	}
	return p, nil
}

func (r *payoutRepo) ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit, offset int) ([]domain.Payout, error) {
	rows, err := db.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, pageLimit(limit), max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("query payouts: %w", err)
	}
	defer rows.Close()
	return collectPayouts(rows)
}

func (r *payoutRepo) ListStale(ctx context.Context, db DBTX, olderThan time.Time, limit int) ([]domain.Payout, error) {
	rows, err := db.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE status IN ('pending', 'processing') AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale payouts: %w", err)
	}
	defer rows.Close()
	return collectPayouts(rows)
}

func (r *payoutRepo) SumSince(ctx context.Context, db DBTX, userID uuid.UUID, currency string, since time.Time) (int64, error) {
	var total int64
	err := db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM payouts
		WHERE user_id = $1 AND currency = $2 AND created_at >= $3
		  AND status NOT IN ('failed', 'canceled')`,
		userID, currency, since).Scan(money(&total))
	if err != nil {
		return 0, fmt.Errorf("sum payouts: %w", err)
	}
	return total, nil
}

func scanPayout(row pgx.Row) (*domain.Payout, error) {
	var p domain.Payout
	err := row.Scan(
		&p.ID, &p.AccountID, &p.TransactionID, &p.UserID, &p.Currency, money(&p.Amount),
		&p.Status, &p.Method, &p.IdempotencyKey, &p.ExternalID, &p.ExternalStatus,
		&p.FailureReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payout: %w", err)
	}
	return &p, nil
}

func collectPayouts(rows pgx.Rows) ([]domain.Payout, error) {
	var payouts []domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *p)
	}
	return payouts, rows.Err()
}
