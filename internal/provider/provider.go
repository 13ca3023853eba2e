// Package provider is the boundary to the payment provider. The ledger only
// sees the PaymentProvider interface and the event objects decoded here.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// PaymentProvider is the subset of the provider API the wallet uses.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, id, idempotencyKey string) (*PaymentIntent, error)
	CreatePayout(ctx context.Context, p PayoutParams) (*Payout, error)
	RetrievePayout(ctx context.Context, id, connectedAccount string) (*Payout, error)
	RetrieveAccount(ctx context.Context, id string) (*Account, error)
}

// CheckoutParams describes a one-line hosted checkout.
type CheckoutParams struct {
	Amount         int64
	Currency       string
	ProductName    string
	CustomerID     string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentIntentParams describes a payment intent.
type PaymentIntentParams struct {
	Amount         int64
	Currency       string
	CustomerID     string
	ManualCapture  bool
	Metadata       map[string]string
	IdempotencyKey string
}

// PayoutParams describes a payout from a connected account to its bank.
type PayoutParams struct {
	Amount           int64
	Currency         string
	Method           string
	ConnectedAccount string
	Metadata         map[string]string
	IdempotencyKey   string
}

// APIError is a response the provider answered with a non-2xx status.
type APIError struct {
	StatusCode int    `json:"-"`
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error (status %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether the provider may accept the same request later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsTimeout reports whether err means the outcome of the call is unknown:
// the request may or may not have reached the provider.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsTransient reports whether err is worth counting against the provider's
// health: timeouts, transport failures and 5xx/429 answers.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}
