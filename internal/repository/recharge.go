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

type rechargeRepo struct{}

// NewRechargeRepository returns a pgx-backed RechargeRepository.
func NewRechargeRepository() RechargeRepository {
	return &rechargeRepo{}
}

const rechargeColumns = `id, user_id, amount, currency, status, idempotency_key, checkout_session_id,
	payment_intent_id, transaction_id, description, created_at, updated_at`

func (r *rechargeRepo) Create(ctx context.Context, db DBTX, rc *domain.Recharge) error {
	row := db.QueryRow(ctx, `
		INSERT INTO recharges
		  (id, user_id, amount, currency, status, idempotency_key, checkout_session_id, payment_intent_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		rc.ID, rc.UserID, infra.Int64ToNumeric(rc.Amount), rc.Currency, string(rc.Status),
		rc.IdempotencyKey, rc.CheckoutSessionID, rc.PaymentIntentID, rc.Description,
	)
	if err := row.Scan(&rc.CreatedAt, &rc.UpdatedAt); err != nil {
		return mapWriteErr("insert recharge", err)
	}
	return nil
}

func (r *rechargeRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Recharge, error) {
	return scanRecharge(db.QueryRow(ctx, `SELECT `+rechargeColumns+` FROM recharges WHERE id = $1`, id))
}

func (r *rechargeRepo) LockByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Recharge, error) {
	return scanRecharge(db.QueryRow(ctx, `SELECT `+rechargeColumns+` FROM recharges WHERE id = $1 FOR UPDATE`, id))
}

func (r *rechargeRepo) FindByIdempotencyKey(ctx context.Context, db DBTX, userID uuid.UUID, key string) (*domain.Recharge, error) {
	return scanRecharge(db.QueryRow(ctx, `
		SELECT `+rechargeColumns+`
		FROM recharges WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
}

func (r *rechargeRepo) FindBySessionID(ctx context.Context, db DBTX, sessionID string) (*domain.Recharge, error) {
	return scanRecharge(db.QueryRow(ctx, `SELECT `+rechargeColumns+` FROM recharges WHERE checkout_session_id = $1`, sessionID))
}

func (r *rechargeRepo) FindByIntentID(ctx context.Context, db DBTX, intentID string) (*domain.Recharge, error) {
	return scanRecharge(db.QueryRow(ctx, `SELECT `+rechargeColumns+` FROM recharges WHERE payment_intent_id = $1`, intentID))
}

func (r *rechargeRepo) Update(ctx context.Context, db DBTX, id uuid.UUID, upd domain.RechargeUpdate) (*domain.Recharge, error) {
	row := db.QueryRow(ctx, `
		UPDATE recharges SET
			status = $2,
			checkout_session_id = COALESCE($3, checkout_session_id),
			payment_intent_id = COALESCE($4, payment_intent_id),
			transaction_id = COALESCE($5, transaction_id),
			updated_at = now()
		WHERE id = $1
		RETURNING `+rechargeColumns,
		id, string(upd.Status), upd.CheckoutSessionID, upd.PaymentIntentID, upd.TransactionID)
	rc, err := scanRecharge(row)
	if err != nil {
		return nil, mapWriteErr("update recharge", err)
	}
	return rc, nil
}

func (r *rechargeRepo) ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit, offset int) ([]domain.Recharge, error) {
	rows, err := db.Query(ctx, `
		SELECT `+rechargeColumns+`
		FROM recharges WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, pageLimit(limit), max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("query recharges: %w", err)
	}
	defer rows.Close()
	return collectRecharges(rows)
}

func (r *rechargeRepo) ListStale(ctx context.Context, db DBTX, olderThan time.Time, limit int) ([]domain.Recharge, error) {
	rows, err := db.Query(ctx, `
		SELECT `+rechargeColumns+`
		FROM recharges
		WHERE status = 'pending' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale recharges: %w", err)
	}
	defer rows.Close()
	return collectRecharges(rows)
}

func scanRecharge(row pgx.Row) (*domain.Recharge, error) {
	var rc domain.Recharge
	err := row.Scan(
		&rc.ID, &rc.UserID, money(&rc.Amount), &rc.Currency, &rc.Status, &rc.IdempotencyKey,
		&rc.CheckoutSessionID, &rc.PaymentIntentID, &rc.TransactionID, &rc.Description,
		&rc.CreatedAt, &rc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan recharge: %w", err)
	}
	return &rc, nil
}

func collectRecharges(rows pgx.Rows) ([]domain.Recharge, error) {
	var out []domain.Recharge
	for rows.Next() {
		rc, err := scanRecharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rc)
	}
	return out, rows.Err()
}
