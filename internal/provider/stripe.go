package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSignature is returned for webhook deliveries that fail verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// SignatureTolerance is how old a signed webhook timestamp may be.
const SignatureTolerance = 300 * time.Second

// StripeProvider wraps Stripe API operations.
type StripeProvider struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	client        *http.Client
	logger        *slog.Logger
}

// NewStripeProvider creates a Stripe provider. Requests time out after timeout.
func NewStripeProvider(secretKey, webhookSecret, baseURL string, timeout time.Duration, logger *slog.Logger) *StripeProvider {
	return &StripeProvider{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

// CreateCheckoutSession creates a payment-mode checkout session.
func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(p.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", p.ProductName)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	if p.CustomerID != "" {
		form.Set("customer", p.CustomerID)
	}
	setMetadata(form, "metadata", p.Metadata)
	// Card payments of a checkout carry the same metadata on their intent.
	setMetadata(form, "payment_intent_data[metadata]", p.Metadata)

	var session CheckoutSession
	if err := s.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, p.IdempotencyKey, "", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RetrieveCheckoutSession reads a checkout session.
func (s *StripeProvider) RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	var session CheckoutSession
	if err := s.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(id), nil, "", "", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CreatePaymentIntent creates a card payment intent.
func (s *StripeProvider) CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(p.Amount, 10))
	form.Set("currency", strings.ToLower(p.Currency))
	if p.CustomerID != "" {
		form.Set("customer", p.CustomerID)
	}
	if p.ManualCapture {
		form.Set("capture_method", "manual")
	}
	setMetadata(form, "metadata", p.Metadata)

	var pi PaymentIntent
	if err := s.do(ctx, http.MethodPost, "/v1/payment_intents", form, p.IdempotencyKey, "", &pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

// CapturePaymentIntent captures an authorized payment intent.
func (s *StripeProvider) CapturePaymentIntent(ctx context.Context, id, idempotencyKey string) (*PaymentIntent, error) {
	var pi PaymentIntent
	path := "/v1/payment_intents/" + url.PathEscape(id) + "/capture"
	if err := s.do(ctx, http.MethodPost, path, url.Values{}, idempotencyKey, "", &pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

// CreatePayout pays out from the connected account's balance.
func (s *StripeProvider) CreatePayout(ctx context.Context, p PayoutParams) (*Payout, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(p.Amount, 10))
	form.Set("currency", strings.ToLower(p.Currency))
	if p.Method != "" {
		form.Set("method", p.Method)
	}
	setMetadata(form, "metadata", p.Metadata)

	var payout Payout
	if err := s.do(ctx, http.MethodPost, "/v1/payouts", form, p.IdempotencyKey, p.ConnectedAccount, &payout); err != nil {
		return nil, err
	}
	return &payout, nil
}

// RetrievePayout reads a payout of the connected account.
func (s *StripeProvider) RetrievePayout(ctx context.Context, id, connectedAccount string) (*Payout, error) {
	var payout Payout
	if err := s.do(ctx, http.MethodGet, "/v1/payouts/"+url.PathEscape(id), nil, "", connectedAccount, &payout); err != nil {
		return nil, err
	}
	return &payout, nil
}

// RetrieveAccount reads a connected account.
func (s *StripeProvider) RetrieveAccount(ctx context.Context, id string) (*Account, error) {
	var acct Account
	if err := s.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(id), nil, "", "", &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *StripeProvider) do(ctx context.Context, method, path string, form url.Values, idempotencyKey, account string, out any) error {
	if s.secretKey == "" {
		return fmt.Errorf("stripe secret key not configured")
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if account != "" {
		req.Header.Set("Stripe-Account", account)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("stripe %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
			apiErr = envelope.Error
			apiErr.StatusCode = resp.StatusCode
		} else {
			apiErr.Message = string(raw)
		}
		s.logger.Warn("stripe request rejected", "method", method, "path", path, "status", resp.StatusCode, "code", apiErr.Code)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode stripe response: %w", err)
	}
	return nil
}

func setMetadata(form url.Values, prefix string, metadata map[string]string) {
	for k, v := range metadata {
		form.Set(prefix+"["+k+"]", v)
	}
}

// VerifyWebhookSignature verifies a Stripe webhook signature.
// Returns the parsed event if valid.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, sigHeader string) (*Event, error) {
	if s.webhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret not configured")
	}
	if err := verifySignature(payload, sigHeader, s.webhookSecret, time.Now()); err != nil {
		return nil, err
	}
	return ParseEvent(payload)
}

func verifySignature(payload []byte, sigHeader, secret string, now time.Time) error {
	// Parse Stripe-Signature header: t=timestamp,v1=signature
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(sigHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return fmt.Errorf("%w: invalid signature header format", ErrInvalidSignature)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp", ErrInvalidSignature)
	}
	if now.Sub(time.Unix(ts, 0)) > SignatureTolerance {
		return fmt.Errorf("%w: webhook timestamp too old", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignPayload builds a Stripe-Signature header for payload. Used by tests
// and local tooling that replays events.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
