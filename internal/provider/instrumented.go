package provider

import (
	"context"
	"time"

	"github.com/carpoolhub/platform/internal/guard"
	"github.com/carpoolhub/platform/internal/infra"
)

// Instrumented decorates a PaymentProvider with a circuit breaker per
// operation and latency metrics. An open circuit fails fast with
// PROVIDER_UNAVAILABLE before any request is sent.
type Instrumented struct {
	next    PaymentProvider
	breaker *guard.CircuitBreaker
	metrics *infra.Metrics
}

// NewInstrumented wraps next. breaker may be nil.
func NewInstrumented(next PaymentProvider, breaker *guard.CircuitBreaker, metrics *infra.Metrics) *Instrumented {
	return &Instrumented{next: next, breaker: breaker, metrics: metrics}
}

// Available reports whether op may be called now, without consuming a half-open call.
func (p *Instrumented) Available(op string) bool {
	return p.breaker == nil || p.breaker.State(op) != guard.CircuitOpen
}

func call[T any](ctx context.Context, p *Instrumented, op string, fn func() (T, error)) (T, error) {
	var zero T
	if p.breaker != nil {
		if res := p.breaker.Check(ctx, op); !res.Allowed {
			return zero, res.Err()
		}
	}
	started := time.Now()
	out, err := fn()
	p.metrics.ProviderCall(op, started, err)
	if p.breaker != nil {
		if IsTransient(err) {
			p.breaker.RecordFailure(op)
		} else {
			p.breaker.RecordSuccess(op)
		}
	}
	return out, err
}

func (p *Instrumented) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	return call(ctx, p, "create_checkout_session", func() (*CheckoutSession, error) {
		return p.next.CreateCheckoutSession(ctx, params)
	})
}

func (p *Instrumented) RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	return call(ctx, p, "retrieve_checkout_session", func() (*CheckoutSession, error) {
		return p.next.RetrieveCheckoutSession(ctx, id)
	})
}

func (p *Instrumented) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntent, error) {
	return call(ctx, p, "create_payment_intent", func() (*PaymentIntent, error) {
		return p.next.CreatePaymentIntent(ctx, params)
	})
}

func (p *Instrumented) CapturePaymentIntent(ctx context.Context, id, idempotencyKey string) (*PaymentIntent, error) {
	return call(ctx, p, "capture_payment_intent", func() (*PaymentIntent, error) {
		return p.next.CapturePaymentIntent(ctx, id, idempotencyKey)
	})
}

func (p *Instrumented) CreatePayout(ctx context.Context, params PayoutParams) (*Payout, error) {
	return call(ctx, p, "create_payout", func() (*Payout, error) {
		return p.next.CreatePayout(ctx, params)
	})
}

func (p *Instrumented) RetrievePayout(ctx context.Context, id, connectedAccount string) (*Payout, error) {
	return call(ctx, p, "retrieve_payout", func() (*Payout, error) {
		return p.next.RetrievePayout(ctx, id, connectedAccount)
	})
}

func (p *Instrumented) RetrieveAccount(ctx context.Context, id string) (*Account, error) {
	return call(ctx, p, "retrieve_account", func() (*Account, error) {
		return p.next.RetrieveAccount(ctx, id)
	})
}

var (
	_ PaymentProvider = (*StripeProvider)(nil)
	_ PaymentProvider = (*Instrumented)(nil)
)
