package repository

import (
	"context"
	"time"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Pool is the store handle services are constructed with: it runs statements
// outside a transaction and opens new ones. *pgxpool.Pool satisfies it.
type Pool interface {
	DBTX
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// AccountRepository provides access to wallet accounts.
type AccountRepository interface {
	// Ensure inserts a zero-balance account for (user, currency) if none exists
	// and returns the stored row.
	Ensure(ctx context.Context, db DBTX, userID uuid.UUID, currency string) (*domain.Account, error)

	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Account, error)
	FindByUserCurrency(ctx context.Context, db DBTX, userID uuid.UUID, currency string) (*domain.Account, error)
	ListByUser(ctx context.Context, db DBTX, userID uuid.UUID) ([]domain.Account, error)

	// ApplyDelta adds delta to the balance with a single compare-and-set
	// update. It returns nil when the account is missing, blocked (unless
	// guard.AllowBlocked) or the result would be negative.
	ApplyDelta(ctx context.Context, db DBTX, id uuid.UUID, delta int64, guard domain.DeltaGuard) (*domain.Account, error)

	SetStatus(ctx context.Context, db DBTX, id uuid.UUID, status domain.AccountStatus) (*domain.Account, error)
}

// TransactionRepository provides access to the append-only transactions table.
type TransactionRepository interface {
	// Insert writes a movement. A duplicate correlation or reversal surfaces
	// as CONSTRAINT_CONFLICT.
	Insert(ctx context.Context, db DBTX, tx *domain.Transaction) (*domain.Transaction, error)

	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Transaction, error)
	FindByCorrelation(ctx context.Context, db DBTX, accountID uuid.UUID, txType domain.TransactionType, correlationID string) (*domain.Transaction, error)
	FindReversal(ctx context.Context, db DBTX, originalID uuid.UUID) (*domain.Transaction, error)

	// UpdateStatus moves a pending transaction to status. Amounts never change.
	UpdateStatus(ctx context.Context, db DBTX, id uuid.UUID, status domain.TransactionStatus) (*domain.Transaction, error)

	// ListByUser returns a page of the user's movements, newest first, and the total count.
	ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit, offset int) ([]domain.Transaction, int, error)

	// ListByAccount returns every movement of the account in commit order.
	ListByAccount(ctx context.Context, db DBTX, accountID uuid.UUID) ([]domain.Transaction, error)
}

// PayoutRepository provides access to payouts.
type PayoutRepository interface {
	Create(ctx context.Context, db DBTX, p *domain.Payout) error
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payout, error)
	LockByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payout, error)
	FindByIdempotencyKey(ctx context.Context, db DBTX, userID uuid.UUID, key string) (*domain.Payout, error)
	FindByExternalID(ctx context.Context, db DBTX, externalID string) (*domain.Payout, error)
	Update(ctx context.Context, db DBTX, id uuid.UUID, upd domain.PayoutUpdate) (*domain.Payout, error)
	ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit, offset int) ([]domain.Payout, error)

	// ListStale returns non-terminal payouts last updated before olderThan.
	ListStale(ctx context.Context, db DBTX, olderThan time.Time, limit int) ([]domain.Payout, error)

	// SumSince totals the user's payouts created since the given time that
	// have not failed or been canceled.
	SumSince(ctx context.Context, db DBTX, userID uuid.UUID, currency string, since time.Time) (int64, error)
}

// RechargeRepository provides access to wallet recharges.
type RechargeRepository interface {
	Create(ctx context.Context, db DBTX, r *domain.Recharge) error
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Recharge, error)
	LockByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Recharge, error)
	FindByIdempotencyKey(ctx context.Context, db DBTX, userID uuid.UUID, key string) (*domain.Recharge, error)
	FindBySessionID(ctx context.Context, db DBTX, sessionID string) (*domain.Recharge, error)
	FindByIntentID(ctx context.Context, db DBTX, intentID string) (*domain.Recharge, error)
	Update(ctx context.Context, db DBTX, id uuid.UUID, upd domain.RechargeUpdate) (*domain.Recharge, error)
	ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit, offset int) ([]domain.Recharge, error)
	// ListStale returns pending recharges last updated before olderThan.
	ListStale(ctx context.Context, db DBTX, olderThan time.Time, limit int) ([]domain.Recharge, error)
}

// ReservationRepository provides access to reservations and trip seat counts.
type ReservationRepository interface {
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Reservation, error)
	LockByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Reservation, error)
	FindBySessionID(ctx context.Context, db DBTX, sessionID string) (*domain.Reservation, error)
	FindByIntentID(ctx context.Context, db DBTX, intentID string) (*domain.Reservation, error)
	Update(ctx context.Context, db DBTX, id uuid.UUID, upd domain.ReservationUpdate) (*domain.Reservation, error)
	Delete(ctx context.Context, db DBTX, id uuid.UUID) error

	// HoldSeat decrements the trip's availability if a seat is left.
	HoldSeat(ctx context.Context, db DBTX, tripID uuid.UUID) (bool, error)
	ReleaseSeat(ctx context.Context, db DBTX, tripID uuid.UUID) error
}

// EventRepository provides access to stored webhook events.
type EventRepository interface {
	// Insert stores the event unless (source, event_id) already exists.
	Insert(ctx context.Context, db DBTX, e *domain.WebhookEvent) (bool, error)
	FindByEventID(ctx context.Context, db DBTX, source, eventID string) (*domain.WebhookEvent, error)
	// MarkDone records a final status with the message the event was
	// acknowledged with.
	MarkDone(ctx context.Context, db DBTX, id uuid.UUID, status domain.WebhookEventStatus, result string) error
	MarkFailed(ctx context.Context, db DBTX, id uuid.UUID, processingErr string) error

	// ListRetryable returns received or failed events older than olderThan
	// with fewer than maxAttempts attempts.
	ListRetryable(ctx context.Context, db DBTX, olderThan time.Time, maxAttempts, limit int) ([]domain.WebhookEvent, error)
}

// IdempotencyRepository stores claimed idempotency keys.
type IdempotencyRepository interface {
	// Claim records (scope, key) and reports whether this call created it.
	Claim(ctx context.Context, db DBTX, scope, key string) (bool, error)
}

// PaymentIntentRepository tracks provider payment intents for audit.
type PaymentIntentRepository interface {
	Upsert(ctx context.Context, db DBTX, pi *domain.PaymentIntent) error
	FindByID(ctx context.Context, db DBTX, id string) (*domain.PaymentIntent, error)
}

// ConnectedAccountRepository mirrors users' provider accounts.
type ConnectedAccountRepository interface {
	Upsert(ctx context.Context, db DBTX, a *domain.ConnectedAccount) error
	FindByID(ctx context.Context, db DBTX, id string) (*domain.ConnectedAccount, error)
}

// UserRepository reads the user fields the payment flows need and links
// provider customers.
type UserRepository interface {
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.User, error)
	FindByEmail(ctx context.Context, db DBTX, email string) (*domain.User, error)

	// SetStripeCustomerID links a provider customer to a user that has none.
	// It reports false when the user is already linked or another user
	// holds the customer.
	SetStripeCustomerID(ctx context.Context, db DBTX, id uuid.UUID, customerID string) (bool, error)
}

// OutboxRepository writes ledger events in the caller's transaction.
type OutboxRepository interface {
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error
}
