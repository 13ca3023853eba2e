package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountStatus controls whether an account accepts movements.
type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountBlocked AccountStatus = "blocked"
)

// Account is a wallet balance for one user in one currency.
// Balance is in minor currency units.
type Account struct {
	ID        uuid.UUID     `json:"id"`
	UserID    uuid.UUID     `json:"user_id"`
	Currency  string        `json:"currency"`
	Balance   int64         `json:"balance_cents"`
	Status    AccountStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// DeltaGuard relaxes the checks of a compare-and-set balance update.
type DeltaGuard struct {
	AllowBlocked bool
}

// User is the subset of the user profile the payment flows need.
type User struct {
	ID               uuid.UUID `json:"id"`
	Email            string    `json:"email"`
	StripeCustomerID *string   `json:"stripe_customer_id,omitempty"`
	StripeAccountID  *string   `json:"stripe_account_id,omitempty"`
}

// ConnectedAccount mirrors the capability flags of a user's provider account.
type ConnectedAccount struct {
	ID               string     `json:"id"`
	UserID           *uuid.UUID `json:"user_id,omitempty"`
	ChargesEnabled   bool       `json:"charges_enabled"`
	PayoutsEnabled   bool       `json:"payouts_enabled"`
	DetailsSubmitted bool       `json:"details_submitted"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
