package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType enumerates ledger movement kinds.
type TransactionType string

const (
	TxDeposit            TransactionType = "deposit"
	TxReservationPayment TransactionType = "reservation_payment"
	TxReservationRevenue TransactionType = "reservation_revenue"
	TxCommission         TransactionType = "commission"
	TxRefund             TransactionType = "refund"
	TxRefundReversal     TransactionType = "refund_reversal"
	TxAdjustment         TransactionType = "adjustment"
	TxPayout             TransactionType = "payout"
)

// ReversalType returns the type of the movement that undoes one of the given
// signed amount: debits come back as refunds, credits are taken back as
// refund reversals.
func ReversalType(amount int64) TransactionType {
	if amount < 0 {
		return TxRefund
	}
	return TxRefundReversal
}

// Transaction is an immutable ledger movement with its balance snapshot.
type Transaction struct {
	ID            uuid.UUID         `json:"id"`
	AccountID     uuid.UUID         `json:"account_id"`
	UserID        uuid.UUID         `json:"user_id"`
	Currency      string            `json:"currency"`
	ReservationID *uuid.UUID        `json:"reservation_id,omitempty"`
	Type          TransactionType   `json:"type"`
	Amount        int64             `json:"amount"`
	BalanceBefore int64             `json:"balance_before"`
	BalanceAfter  int64             `json:"balance_after"`
	Description   string            `json:"description"`
	CorrelationID *string           `json:"correlation_id,omitempty"`
	ReversalOf    *uuid.UUID        `json:"reversal_of,omitempty"`
	Status        TransactionStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// MovementParams is the input to Engine.ApplyMovement.
type MovementParams struct {
	AccountID     uuid.UUID
	Type          TransactionType
	Amount        int64 // signed, minor units
	Description   string
	CorrelationID string // unique per (account, type) when set
	ReservationID *uuid.UUID
	ReversalOf    *uuid.UUID
	Status        TransactionStatus // defaults to succeeded

	// Compensation marks a credit that returns funds the ledger already took
	// from this account. It is accepted on blocked accounts.
	Compensation bool
}

// MovementResult is returned by the engine's movement operations.
type MovementResult struct {
	Transaction *Transaction
	Account     *Account
	Events      []OutboxDraft
	Idempotent  bool // true if the movement already existed and was returned as-is
}

// SplitParams is the input to Engine.SplitAndApply.
type SplitParams struct {
	Gross             int64
	PayerAccountID    uuid.UUID
	PayeeAccountID    uuid.UUID
	PlatformAccountID uuid.UUID
	ReservationID     *uuid.UUID
	CorrelationID     string
	Description       string
	Rate              *decimal.Decimal // nil uses the engine's configured rate
}

// Split is the commission breakdown of a gross amount.
type Split struct {
	Gross      int64 `json:"gross"`
	Commission int64 `json:"commission"`
	Net        int64 `json:"net"`
}

// SplitResult holds the three movements of a split. Platform is nil when the
// commission rounds to zero.
type SplitResult struct {
	Split      Split
	Payer      *Transaction
	Payee      *Transaction
	Platform   *Transaction
	Idempotent bool
}

// Transactions returns the non-nil movements of the split.
func (r *SplitResult) Transactions() []*Transaction {
	out := make([]*Transaction, 0, 3)
	for _, tx := range []*Transaction{r.Payer, r.Payee, r.Platform} {
		if tx != nil {
			out = append(out, tx)
		}
	}
	return out
}
