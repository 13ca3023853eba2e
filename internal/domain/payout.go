package domain

import (
	"time"

	"github.com/google/uuid"
)

// PayoutMethod is the provider payout speed.
type PayoutMethod string

const (
	PayoutStandard PayoutMethod = "standard"
	PayoutInstant  PayoutMethod = "instant"
)

// Payout is a withdrawal of wallet funds to the user's external account.
// The debit is taken when the payout is created; TransactionID references it.
type Payout struct {
	ID             uuid.UUID    `json:"id"`
	AccountID      uuid.UUID    `json:"account_id"`
	TransactionID  uuid.UUID    `json:"transaction_id"`
	UserID         uuid.UUID    `json:"user_id"`
	Currency       string       `json:"currency"`
	Amount         int64        `json:"amount"`
	Status         PayoutStatus `json:"status"`
	Method         PayoutMethod `json:"method"`
	IdempotencyKey string       `json:"idempotency_key"`
	ExternalID     *string      `json:"external_id,omitempty"`
	ExternalStatus *string      `json:"external_status,omitempty"`
	FailureReason  *string      `json:"failure_reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// PayoutUpdate carries the mutable columns of a payout. Nil pointers keep the
// stored value.
type PayoutUpdate struct {
	Status         PayoutStatus
	ExternalID     *string
	ExternalStatus *string
	FailureReason  *string
}

// RequestPayoutParams is the input to the payout orchestrator.
type RequestPayoutParams struct {
	UserID         uuid.UUID
	Amount         int64
	Currency       string
	Method         PayoutMethod
	IdempotencyKey string
}

// PayoutResult is returned by payout operations.
type PayoutResult struct {
	Payout      *Payout
	Transaction *Transaction
	Idempotent  bool
}

// PayoutStatusFromProvider maps a provider payout status to the local status.
func PayoutStatusFromProvider(status string) PayoutStatus {
	switch status {
	case "paid":
		return PayoutSucceeded
	case "failed":
		return PayoutFailed
	case "canceled":
		return PayoutCanceled
	default:
		return PayoutProcessing
	}
}
