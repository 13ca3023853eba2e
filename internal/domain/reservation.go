package domain

import (
	"time"

	"github.com/google/uuid"
)

// Reservation is a passenger's seat on a trip, paid by card or from the wallet.
// SeatHeld records whether the trip's availability was decremented for it.
type Reservation struct {
	ID                uuid.UUID         `json:"id"`
	TripID            uuid.UUID         `json:"trip_id"`
	PassengerID       uuid.UUID         `json:"passenger_id"`
	DriverID          uuid.UUID         `json:"driver_id"`
	Amount            int64             `json:"amount"`
	Currency          string            `json:"currency"`
	Status            ReservationStatus `json:"status"`
	SeatHeld          bool              `json:"seat_held"`
	CheckoutSessionID *string           `json:"checkout_session_id,omitempty"`
	PaymentIntentID   *string           `json:"payment_intent_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// ReservationUpdate carries the mutable columns of a reservation. Nil pointers
// keep the stored value.
type ReservationUpdate struct {
	Status            ReservationStatus
	SeatHeld          *bool
	CheckoutSessionID *string
	PaymentIntentID   *string
}

// ReservationPayment is returned by the reservation payment flows.
type ReservationPayment struct {
	Reservation *Reservation `json:"reservation"`
	Split       *Split       `json:"split,omitempty"`
	CheckoutURL string       `json:"checkout_url,omitempty"`
	// ClientSecret lets the client confirm a card authorization.
	ClientSecret string `json:"client_secret,omitempty"`
	Idempotent   bool   `json:"idempotent"`
}
