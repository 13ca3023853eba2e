package domain

import (
	"time"

	"github.com/google/uuid"
)

// Recharge is a deposit into the wallet through a provider checkout.
type Recharge struct {
	ID                uuid.UUID      `json:"id"`
	UserID            uuid.UUID      `json:"user_id"`
	Amount            int64          `json:"amount"`
	Currency          string         `json:"currency"`
	Status            RechargeStatus `json:"status"`
	IdempotencyKey    *string        `json:"idempotency_key,omitempty"`
	CheckoutSessionID *string        `json:"checkout_session_id,omitempty"`
	PaymentIntentID   *string        `json:"payment_intent_id,omitempty"`
	TransactionID     *uuid.UUID     `json:"transaction_id,omitempty"`
	Description       string         `json:"description"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// RechargeUpdate carries the mutable columns of a recharge. Nil pointers keep
// the stored value.
type RechargeUpdate struct {
	Status            RechargeStatus
	CheckoutSessionID *string
	PaymentIntentID   *string
	TransactionID     *uuid.UUID
}

// InitiateRechargeParams is the input to a wallet top-up.
type InitiateRechargeParams struct {
	UserID         uuid.UUID
	Amount         int64
	Currency       string
	IdempotencyKey string
	SuccessURL     string
	CancelURL      string
}

// RechargeCheckout is returned when a top-up checkout has been created.
type RechargeCheckout struct {
	Recharge    *Recharge `json:"recharge"`
	CheckoutURL string    `json:"checkout_url,omitempty"`
	Idempotent  bool      `json:"idempotent"`
}
