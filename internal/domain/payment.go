package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookEventStatus is the processing state of a stored provider event.
type WebhookEventStatus string

const (
	WebhookReceived  WebhookEventStatus = "received"
	WebhookProcessed WebhookEventStatus = "processed"
	WebhookFailed    WebhookEventStatus = "failed"
	WebhookIgnored   WebhookEventStatus = "ignored"
)

// WebhookEvent is the write-once dedup and audit record of a provider event.
type WebhookEvent struct {
	ID              uuid.UUID          `json:"id"`
	EventID         string             `json:"event_id"`
	Source          string             `json:"source"`
	Type            string             `json:"type"`
	PaymentIntentID *string            `json:"payment_intent_id,omitempty"`
	Payload         json.RawMessage    `json:"payload"`
	Status          WebhookEventStatus `json:"status"`
	ProcessingError *string            `json:"processing_error,omitempty"`
	Result          *string            `json:"result,omitempty"`
	Attempts        int                `json:"attempts"`
	CreatedAt       time.Time          `json:"created_at"`
	ProcessedAt     *time.Time         `json:"processed_at,omitempty"`
}

// PaymentIntent is the locally tracked copy of a provider payment intent.
type PaymentIntent struct {
	ID         string            `json:"id"`
	Amount     int64             `json:"amount"`
	Currency   string            `json:"currency"`
	Status     string            `json:"status"`
	CustomerID *string           `json:"customer_id,omitempty"`
	Metadata   map[string]string `json:"metadata"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// WebhookAck is the body returned for every authenticated webhook delivery.
type WebhookAck struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
