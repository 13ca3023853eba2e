package guard

import (
	"context"
	"fmt"

	"github.com/carpoolhub/platform/internal/repository"
	"github.com/google/uuid"
)

// Claim is the outcome of claiming an idempotency key.
type Claim int

const (
	Claimed Claim = iota
	AlreadyExists
)

func (c Claim) String() string {
	if c == Claimed {
		return "claimed"
	}
	return "already-exists"
}

// WebhookScope namespaces provider event ids per webhook source.
func WebhookScope(source string) string { return "webhook:" + source }

// PayoutScope namespaces client payout keys per user.
func PayoutScope(userID uuid.UUID) string { return "payout:" + userID.String() }

// RechargeScope namespaces client recharge keys per user.
func RechargeScope(userID uuid.UUID) string { return "recharge:" + userID.String() }

// Idempotency records (scope, key) pairs in the idempotency_keys table.
// The claim joins the caller's transaction: if that transaction rolls back,
// the key is released and a retry can claim it again.
type Idempotency struct {
	repo repository.IdempotencyRepository
}

// NewIdempotency creates a guard over the given repository.
func NewIdempotency(repo repository.IdempotencyRepository) *Idempotency {
	return &Idempotency{repo: repo}
}

// Claim reports whether this call is the first to present key in scope.
// On AlreadyExists the caller must return the previously recorded result.
func (g *Idempotency) Claim(ctx context.Context, db repository.DBTX, scope, key string) (Claim, error) {
	if key == "" {
		return Claimed, nil
	}
	ok, err := g.repo.Claim(ctx, db, scope, key)
	if err != nil {
		return 0, fmt.Errorf("claim %s/%s: %w", scope, key, err)
	}
	if !ok {
		return AlreadyExists, nil
	}
	return Claimed, nil
}
