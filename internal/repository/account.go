package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type accountRepo struct{}

// NewAccountRepository returns a pgx-backed AccountRepository.
func NewAccountRepository() AccountRepository {
	return &accountRepo{}
}

const accountColumns = `id, user_id, currency, balance, status, created_at, updated_at`

func (r *accountRepo) Ensure(ctx context.Context, db DBTX, userID uuid.UUID, currency string) (*domain.Account, error) {
	_, err := db.Exec(ctx, `
		INSERT INTO accounts (user_id, currency)
		VALUES ($1, $2)
		ON CONFLICT (user_id, currency) DO NOTHING`, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	return r.FindByUserCurrency(ctx, db, userID, currency)
}

func (r *accountRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Account, error) {
	row := db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (r *accountRepo) FindByUserCurrency(ctx context.Context, db DBTX, userID uuid.UUID, currency string) (*domain.Account, error) {
	row := db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE user_id = $1 AND currency = $2`, userID, currency)
	return scanAccount(row)
}

func (r *accountRepo) ListByUser(ctx context.Context, db DBTX, userID uuid.UUID) ([]domain.Account, error) {
	rows, err := db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE user_id = $1
		ORDER BY currency`, userID)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// ApplyDelta is the only statement that changes a balance. The WHERE clause
// makes the non-negative and active checks part of the update itself.
func (r *accountRepo) ApplyDelta(ctx context.Context, db DBTX, id uuid.UUID, delta int64, guard domain.DeltaGuard) (*domain.Account, error) {
	row := db.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $2, updated_at = now()
		WHERE id = $1
		  AND balance + $2 >= 0
		  AND (status = 'active' OR $3)
		RETURNING `+accountColumns,
		id, infra.Int64ToNumeric(delta), guard.AllowBlocked)
	return scanAccount(row)
}

func (r *accountRepo) SetStatus(ctx context.Context, db DBTX, id uuid.UUID, status domain.AccountStatus) (*domain.Account, error) {
	row := db.QueryRow(ctx, `
		UPDATE accounts SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+accountColumns, id, string(status))
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Currency, money(&a.Balance), &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}
