package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the ledger events published through the outbox.
type EventType string

const (
	EventTransactionPosted     EventType = "wallet.transaction.posted"
	EventTransactionSettled    EventType = "wallet.transaction.settled"
	EventPayoutStatusChanged   EventType = "wallet.payout.status_changed"
	EventRechargeStatusChanged EventType = "wallet.recharge.status_changed"
	EventAccountStatusChanged  EventType = "wallet.account.status_changed"
	EventRechargeLatePayment   EventType = "wallet.recharge.late_payment"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateWallet   AggregateType = "wallet"
	AggregatePayout   AggregateType = "payout"
	AggregateRecharge AggregateType = "recharge"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	EventID       uuid.UUID       `json:"event_id"`
	AggregateType AggregateType   `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     EventType       `json:"event_type"`
	PartitionKey  string          `json:"partition_key"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
