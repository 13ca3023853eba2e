package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/ledger"
	"github.com/carpoolhub/platform/internal/policy"
	"github.com/carpoolhub/platform/internal/provider"
	"github.com/carpoolhub/platform/internal/repository"
	"github.com/carpoolhub/platform/internal/repository/memrepo"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeProvider records calls and answers from in-memory objects.
type fakeProvider struct {
	mu        sync.Mutex
	seq       int
	sessions  map[string]*provider.CheckoutSession
	payouts   map[string]*provider.Payout
	accounts  map[string]*provider.Account
	intents   map[string]*provider.PaymentIntent
	intentKey map[string]string
	byKey     map[string]*provider.Payout
	checkouts []provider.CheckoutParams
	payoutReq []provider.PayoutParams
	intentReq []provider.PaymentIntentParams
	captures  []string

	checkoutErr error
	payoutErr   error
	captureErr  error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		sessions:  map[string]*provider.CheckoutSession{},
		payouts:   map[string]*provider.Payout{},
		accounts:  map[string]*provider.Account{},
		intents:   map[string]*provider.PaymentIntent{},
		intentKey: map[string]string{},
		byKey:     map[string]*provider.Payout{},
	}
}

func (p *fakeProvider) next(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s_%d", prefix, p.seq)
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, params provider.CheckoutParams) (*provider.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts = append(p.checkouts, params)
	if err := p.checkoutErr; err != nil {
		p.checkoutErr = nil
		return nil, err
	}
	id := p.next("cs")
	s := &provider.CheckoutSession{
		ID:            id,
		URL:           "https://checkout.test/" + id,
		Status:        "open",
		PaymentStatus: "unpaid",
		PaymentIntent: p.next("pi"),
		AmountTotal:   params.Amount,
		Currency:      params.Currency,
		Metadata:      params.Metadata,
	}
	p.sessions[id] = s
	cp := *s
	return &cp, nil
}

func (p *fakeProvider) RetrieveCheckoutSession(_ context.Context, id string) (*provider.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	if !ok {
		return nil, &provider.APIError{StatusCode: 404, Message: "no such checkout session"}
	}
	cp := *s
	return &cp, nil
}

func (p *fakeProvider) CreatePaymentIntent(_ context.Context, params provider.PaymentIntentParams) (*provider.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intentReq = append(p.intentReq, params)
	if id, ok := p.intentKey[params.IdempotencyKey]; ok {
		cp := *p.intents[id]
		return &cp, nil
	}
	id := p.next("pi")
	pi := &provider.PaymentIntent{
		ID:           id,
		Amount:       params.Amount,
		Currency:     params.Currency,
		Status:       "requires_payment_method",
		ClientSecret: id + "_secret",
		Metadata:     params.Metadata,
	}
	if params.ManualCapture {
		pi.CaptureMethod = "manual"
	}
	p.intents[id] = pi
	p.intentKey[params.IdempotencyKey] = id
	cp := *pi
	return &cp, nil
}

// authorize puts an intent in the state a confirmed manual-capture card
// payment reaches.
func (p *fakeProvider) authorize(id string) provider.PaymentIntent {
	p.mu.Lock()
	defer p.mu.Unlock()
	pi := p.intents[id]
	pi.Status = "requires_capture"
	return *pi
}

func (p *fakeProvider) CapturePaymentIntent(_ context.Context, id, _ string) (*provider.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures = append(p.captures, id)
	if err := p.captureErr; err != nil {
		p.captureErr = nil
		return nil, err
	}
	pi, ok := p.intents[id]
	if !ok {
		return nil, &provider.APIError{StatusCode: 404, Message: "no such payment intent"}
	}
	pi.Status = "succeeded"
	pi.AmountReceived = pi.Amount
	cp := *pi
	return &cp, nil
}

func (p *fakeProvider) captureCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.captures...)
}

func (p *fakeProvider) CreatePayout(_ context.Context, params provider.PayoutParams) (*provider.Payout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payoutReq = append(p.payoutReq, params)
	if err := p.payoutErr; err != nil {
		p.payoutErr = nil
		return nil, err
	}
	if po, ok := p.byKey[params.IdempotencyKey]; ok {
		cp := *po
		return &cp, nil
	}
	po := &provider.Payout{
		ID:       p.next("po"),
		Amount:   params.Amount,
		Currency: params.Currency,
		Status:   "pending",
		Method:   params.Method,
		Metadata: params.Metadata,
	}
	p.payouts[po.ID] = po
	p.byKey[params.IdempotencyKey] = po
	cp := *po
	return &cp, nil
}

func (p *fakeProvider) RetrievePayout(_ context.Context, id, _ string) (*provider.Payout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	po, ok := p.payouts[id]
	if !ok {
		return nil, &provider.APIError{StatusCode: 404, Message: "no such payout"}
	}
	cp := *po
	return &cp, nil
}

func (p *fakeProvider) RetrieveAccount(_ context.Context, id string) (*provider.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[id]
	if !ok {
		return nil, &provider.APIError{StatusCode: 404, Message: "no such account"}
	}
	cp := *a
	return &cp, nil
}

func (p *fakeProvider) setSession(id string, fn func(s *provider.CheckoutSession)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.sessions[id])
}

func (p *fakeProvider) setPayout(id string, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payouts[id].Status = status
}

func (p *fakeProvider) payoutCalls() []provider.PayoutParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.PayoutParams(nil), p.payoutReq...)
}

func (p *fakeProvider) checkoutCalls() []provider.CheckoutParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.CheckoutParams(nil), p.checkouts...)
}

type fixture struct {
	store        *memrepo.Store
	repos        repository.Repositories
	engine       *ledger.Engine
	prov         *fakeProvider
	wallet       *WalletService
	payouts      *PayoutService
	recharges    *RechargeService
	reservations *ReservationService
	reconciler   *Reconciler
	sweeper      *Sweeper
	platform     uuid.UUID
	seq          int
}

// newFixture wires every service over one in-memory store. opts adjust the
// payout service before the reconciler and the sweeper take it.
func newFixture(t *testing.T, opts ...func(*PayoutService)) *fixture {
	t.Helper()
	store := memrepo.New()
	repos := store.Repositories()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := ledger.NewEngine(repos, decimal.RequireFromString("0.15"), nil)
	prov := newFakeProvider()
	urls := CheckoutURLs{Success: "https://app.test/ok", Cancel: "https://app.test/cancel"}

	f := &fixture{
		store:    store,
		repos:    repos,
		engine:   engine,
		prov:     prov,
		platform: uuid.New(),
	}
	f.wallet = NewWalletService(store, repos, engine, logger)
	f.payouts = NewPayoutService(store, repos, engine, prov, nil, policy.DefaultPayoutLimits(), nil, logger)
	f.recharges = NewRechargeService(store, repos, engine, prov, urls, nil, logger)
	f.reservations = NewReservationService(store, repos, engine, prov, urls, f.platform, nil, logger)
	for _, opt := range opts {
		opt(f.payouts)
	}
	f.reconciler = NewReconciler(store, repos, f.payouts, f.recharges, f.reservations, nil, logger)
	f.sweeper = NewSweeper(store, repos, f.payouts, f.recharges, f.reconciler,
		SweepConfig{StaleAfter: 10 * time.Minute, BatchSize: 50, MaxAttempts: 5}, nil, logger)
	return f
}

// user adds a user with a payout-enabled connected account.
func (f *fixture) user(t *testing.T) uuid.UUID {
	t.Helper()
	f.seq++
	id := uuid.New()
	acct := fmt.Sprintf("acct_%d", f.seq)
	f.store.AddUser(domain.User{ID: id, Email: fmt.Sprintf("user%d@example.com", f.seq), StripeAccountID: &acct})
	f.prov.mu.Lock()
	f.prov.accounts[acct] = &provider.Account{ID: acct, ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true}
	f.prov.mu.Unlock()
	return id
}

// fund deposits amount to the user's EUR wallet.
func (f *fixture) fund(t *testing.T, userID uuid.UUID, amount int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, pgx.BeginTxFunc(ctx, f.store, pgx.TxOptions{}, func(tx pgx.Tx) error {
		acct, err := f.engine.EnsureAccount(ctx, tx, userID, "EUR")
		if err != nil {
			return err
		}
		_, err = f.engine.ApplyMovement(ctx, tx, domain.MovementParams{
			AccountID: acct.ID,
			Type:      domain.TxDeposit,
			Amount:    amount,
		})
		return err
	}))
}

func (f *fixture) balance(userID uuid.UUID) int64 {
	acct := f.store.AccountFor(userID, "EUR")
	if acct == nil {
		return 0
	}
	return acct.Balance
}

func (f *fixture) payout(t *testing.T, id uuid.UUID) *domain.Payout {
	t.Helper()
	p, err := f.repos.Payouts.FindByID(context.Background(), f.store, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (f *fixture) transaction(t *testing.T, id uuid.UUID) *domain.Transaction {
	t.Helper()
	tx, err := f.repos.Transactions.FindByID(context.Background(), f.store, id)
	require.NoError(t, err)
	require.NotNil(t, tx)
	return tx
}

// audit asserts the ledger invariants of the user's accounts.
func (f *fixture) audit(t *testing.T, userID uuid.UUID) {
	t.Helper()
	results, err := f.wallet.Audit(context.Background(), userID)
	require.NoError(t, err)
	for _, r := range results {
		require.True(t, r.AllPassed, "%+v", r.Invariants)
	}
}

// deliver sends a provider event with a fresh id.
func (f *fixture) deliver(t *testing.T, eventType string, object any) *domain.WebhookAck {
	t.Helper()
	f.seq++
	return f.deliverID(t, fmt.Sprintf("evt_%d", f.seq), eventType, object)
}

func (f *fixture) deliverID(t *testing.T, id, eventType string, object any) *domain.WebhookAck {
	t.Helper()
	obj, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":      id,
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]json.RawMessage{"object": obj},
	})
	require.NoError(t, err)
	event, err := provider.ParseEvent(payload)
	require.NoError(t, err)
	ack, err := f.reconciler.Handle(context.Background(), "stripe", payload, event)
	require.NoError(t, err)
	return ack
}
