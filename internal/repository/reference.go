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

type paymentIntentRepo struct{}

// NewPaymentIntentRepository returns a pgx-backed PaymentIntentRepository.
func NewPaymentIntentRepository() PaymentIntentRepository {
	return &paymentIntentRepo{}
}

func (r *paymentIntentRepo) Upsert(ctx context.Context, db DBTX, pi *domain.PaymentIntent) error {
	meta := pi.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	_, err := db.Exec(ctx, `
		INSERT INTO payment_intents (id, amount, currency, status, customer_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			customer_id = COALESCE(EXCLUDED.customer_id, payment_intents.customer_id),
			metadata = EXCLUDED.metadata,
			updated_at = now()`,
		pi.ID, infra.Int64ToNumeric(pi.Amount), pi.Currency, pi.Status, pi.CustomerID, meta)
	if err != nil {
		return fmt.Errorf("upsert payment intent: %w", err)
	}
	return nil
}

func (r *paymentIntentRepo) FindByID(ctx context.Context, db DBTX, id string) (*domain.PaymentIntent, error) {
	var pi domain.PaymentIntent
	err := db.QueryRow(ctx, `
		SELECT id, amount, currency, status, customer_id, metadata, updated_at
		FROM payment_intents WHERE id = $1`, id).
		Scan(&pi.ID, money(&pi.Amount), &pi.Currency, &pi.Status, &pi.CustomerID, &pi.Metadata, &pi.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment intent: %w", err)
	}
	return &pi, nil
}

type connectedAccountRepo struct{}

// NewConnectedAccountRepository returns a pgx-backed ConnectedAccountRepository.
func NewConnectedAccountRepository() ConnectedAccountRepository {
	return &connectedAccountRepo{}
}

// Upsert links the account to its user through users.stripe_account_id.
func (r *connectedAccountRepo) Upsert(ctx context.Context, db DBTX, a *domain.ConnectedAccount) error {
	_, err := db.Exec(ctx, `
		INSERT INTO connected_accounts (id, user_id, charges_enabled, payouts_enabled, details_submitted)
		VALUES ($1, (SELECT id FROM users WHERE stripe_account_id = $1), $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			user_id = COALESCE(EXCLUDED.user_id, connected_accounts.user_id),
			charges_enabled = EXCLUDED.charges_enabled,
			payouts_enabled = EXCLUDED.payouts_enabled,
			details_submitted = EXCLUDED.details_submitted,
			updated_at = now()`,
		a.ID, a.ChargesEnabled, a.PayoutsEnabled, a.DetailsSubmitted)
	if err != nil {
		return fmt.Errorf("upsert connected account: %w", err)
	}
	return nil
}

func (r *connectedAccountRepo) FindByID(ctx context.Context, db DBTX, id string) (*domain.ConnectedAccount, error) {
	var a domain.ConnectedAccount
	err := db.QueryRow(ctx, `
		SELECT id, user_id, charges_enabled, payouts_enabled, details_submitted, updated_at
		FROM connected_accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.UserID, &a.ChargesEnabled, &a.PayoutsEnabled, &a.DetailsSubmitted, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan connected account: %w", err)
	}
	return &a, nil
}

type userRepo struct{}

// NewUserRepository returns a pgx-backed UserRepository.
func NewUserRepository() UserRepository {
	return &userRepo{}
}

const userColumns = `id, email, stripe_customer_id, stripe_account_id`

func (r *userRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.User, error) {
	return scanUser(db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *userRepo) FindByEmail(ctx context.Context, db DBTX, email string) (*domain.User, error) {
	return scanUser(db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (r *userRepo) SetStripeCustomerID(ctx context.Context, db DBTX, id uuid.UUID, customerID string) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE users SET stripe_customer_id = $2
		WHERE id = $1 AND stripe_customer_id IS NULL
		  AND NOT EXISTS (SELECT 1 FROM users WHERE stripe_customer_id = $2)`, id, customerID)
	if err != nil {
		return false, mapWriteErr("set stripe customer", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.StripeCustomerID, &u.StripeAccountID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
