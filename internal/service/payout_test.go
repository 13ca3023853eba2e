package service

import (
	"context"
	"testing"
	"time"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/guard"
	"github.com/carpoolhub/platform/internal/policy"
	"github.com/carpoolhub/platform/internal/provider"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestPayout(userID uuid.UUID, amount int64, key string) domain.RequestPayoutParams {
	return domain.RequestPayoutParams{UserID: userID, Amount: amount, Currency: "EUR", IdempotencyKey: key}
}

func TestRequestPayout_DebitsAndSubmits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t)
	f.fund(t, user, 10_000)

	res, err := f.payouts.RequestPayout(ctx, requestPayout(user, 2_500, "k-1"))
	require.NoError(t, err)

	assert.False(t, res.Idempotent)
	assert.Equal(t, domain.PayoutProcessing, res.Payout.Status)
	require.NotNil(t, res.Payout.ExternalID)
	assert.Equal(t, int64(7_500), f.balance(user))
	assert.Equal(t, domain.TxPending, f.transaction(t, res.Payout.TransactionID).Status)
	assert.Equal(t, domain.TxPayout, res.Transaction.Type)
	assert.Equal(t, int64(-2_500), res.Transaction.Amount)

	calls := f.prov.payoutCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "payout-"+res.Payout.ID.String(), calls[0].IdempotencyKey)
	assert.Equal(t, res.Payout.ID.String(), calls[0].Metadata[MetaPayoutID])
	assert.NotEmpty(t, calls[0].ConnectedAccount)
	f.audit(t, user)
}

func TestRequestPayout_SameKeyReturnsFirstPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t)
	f.fund(t, user, 10_000)

	first, err := f.payouts.RequestPayout(ctx, requestPayout(user, 1_000, "k-1"))
	require.NoError(t, err)
	second, err := f.payouts.RequestPayout(ctx, requestPayout(user, 1_000, "k-1"))
	require.NoError(t, err)

	assert.True(t, second.Idempotent)
	assert.Equal(t, first.Payout.ID, second.Payout.ID)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, int64(9_000), f.balance(user))
	assert.Len(t, f.prov.payoutCalls(), 1)
}

func TestRequestPayout_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		funded   int64
		params   func(user uuid.UUID) domain.RequestPayoutParams
		setup    func(t *testing.T, f *fixture, user uuid.UUID)
		wantCode string
	}{
		{
			name:     "insufficient funds",
			funded:   1_000,
			params:   func(u uuid.UUID) domain.RequestPayoutParams { return requestPayout(u, 5_000, "k") },
			wantCode: domain.CodeInsufficientFunds,
		},
		{
			name:     "below single minimum",
			funded:   1_000,
			params:   func(u uuid.UUID) domain.RequestPayoutParams { return requestPayout(u, 100, "k") },
			wantCode: domain.CodeLimitExceeded,
		},
		{
			name:     "zero amount",
			funded:   1_000,
			params:   func(u uuid.UUID) domain.RequestPayoutParams { return requestPayout(u, 0, "k") },
			wantCode: domain.CodeInvalidAmount,
		},
		{
			name:   "bad currency",
			funded: 1_000,
			params: func(u uuid.UUID) domain.RequestPayoutParams {
				p := requestPayout(u, 600, "k")
				p.Currency = "EURO"
				return p
			},
			wantCode: domain.CodeValidation,
		},
		{
			name:     "missing idempotency key",
			funded:   1_000,
			params:   func(u uuid.UUID) domain.RequestPayoutParams { return requestPayout(u, 600, "") },
			wantCode: domain.CodeValidation,
		},
		{
			name:   "payouts disabled on connected account",
			funded: 1_000,
			params: func(u uuid.UUID) domain.RequestPayoutParams { return requestPayout(u, 600, "k") },
			setup: func(_ *testing.T, f *fixture, _ uuid.UUID) {
				f.prov.mu.Lock()
				defer f.prov.mu.Unlock()
				for _, a := range f.prov.accounts {
					a.PayoutsEnabled = false
				}
			},
			wantCode: domain.CodeForbidden,
		},
		{
			name:   "blocked wallet",
			funded: 1_000,
			params: func(u uuid.UUID) domain.RequestPayoutParams { return requestPayout(u, 600, "k") },
			setup: func(t *testing.T, f *fixture, u uuid.UUID) {
				_, err := f.wallet.SetAccountStatus(context.Background(), u, "EUR", domain.AccountBlocked)
				require.NoError(t, err)
			},
			wantCode: domain.CodeWalletBlocked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			user := f.user(t)
			f.fund(t, user, tt.funded)
			if tt.setup != nil {
				tt.setup(t, f, user)
			}

			_, err := f.payouts.RequestPayout(context.Background(), tt.params(user))
			require.Error(t, err)
			assert.True(t, domain.HasCode(err, tt.wantCode), "got %v", err)
			assert.Equal(t, tt.funded, f.balance(user))
			assert.Empty(t, f.prov.payoutCalls())
		})
	}
}

func TestRequestPayout_RejectedKeyCanBeRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t)
	f.fund(t, user, 1_000)

	_, err := f.payouts.RequestPayout(ctx, requestPayout(user, 2_000, "k-1"))
	require.True(t, domain.HasCode(err, domain.CodeInsufficientFunds))

	f.fund(t, user, 5_000)
	res, err := f.payouts.RequestPayout(ctx, requestPayout(user, 2_000, "k-1"))
	require.NoError(t, err)
	assert.False(t, res.Idempotent)
	assert.Equal(t, int64(4_000), f.balance(user))
}

func TestRequestPayout_ProviderRejectionCompensates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t)
	f.fund(t, user, 10_000)
	f.prov.payoutErr = &provider.APIError{StatusCode: 400, Code: "balance_insufficient", Message: "not enough funds"}

	_, err := f.payouts.RequestPayout(ctx, requestPayout(user, 3_000, "k-1"))
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeProviderCallFailed))
	assert.Equal(t, int64(10_000), f.balance(user))

	p, err := f.repos.Payouts.FindByIdempotencyKey(ctx, f.store, user, "k-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, domain.PayoutFailed, p.Status)
	require.NotNil(t, p.FailureReason)
	assert.Contains(t, *p.FailureReason, "not enough funds")
	assert.Equal(t, domain.TxFailed, f.transaction(t, p.TransactionID).Status)

	refund, err := f.repos.Transactions.FindReversal(ctx, f.store, p.TransactionID)
	require.NoError(t, err)
	require.NotNil(t, refund)
	assert.Equal(t, domain.TxRefund, refund.Type)
	assert.Equal(t, int64(3_000), refund.Amount)

	// A later payout.failed event and a sweep leave the single credit alone.
	f.deliver(t, "payout.failed", provider.Payout{
		ID: "po_late", Status: "failed", Amount: 3_000, Currency: "eur",
		Metadata: map[string]string{MetaPayoutID: p.ID.String()},
	})
	f.store.Age(time.Hour)
	f.sweeper.SweepOnce(ctx)

	var credits int
	for _, tx := range f.store.Transactions() {
		if tx.ReversalOf != nil && *tx.ReversalOf == p.TransactionID {
			credits++
			assert.Positive(t, tx.Amount)
		}
	}
	assert.Equal(t, 1, credits)
	assert.Len(t, f.store.Transactions(), 3)
	assert.Equal(t, int64(10_000), f.balance(user))
	f.audit(t, user)
}

func TestRequestPayout_TimeoutLeftPendingThenSwept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t)
	f.fund(t, user, 10_000)
	f.prov.payoutErr = context.DeadlineExceeded

	res, err := f.payouts.RequestPayout(ctx, requestPayout(user, 3_000, "k-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutPending, res.Payout.Status)
	assert.Nil(t, res.Payout.ExternalID)
	assert.Equal(t, int64(7_000), f.balance(user))

	f.store.Age(time.Hour)
	report := f.sweeper.SweepOnce(ctx)
	assert.Equal(t, 1, report.Payouts)
	assert.Zero(t, report.AuditFailures)

	p := f.payout(t, res.Payout.ID)
	assert.Equal(t, domain.PayoutProcessing, p.Status)
	require.NotNil(t, p.ExternalID)

	calls := f.prov.payoutCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].IdempotencyKey, calls[1].IdempotencyKey)
	assert.Equal(t, int64(7_000), f.balance(user))
}

func TestRequestPayout_ResubmissionNotCompensatedOnTransientError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t)
	f.fund(t, user, 10_000)
	f.prov.payoutErr = context.DeadlineExceeded

	res, err := f.payouts.RequestPayout(ctx, requestPayout(user, 3_000, "k-1"))
	require.NoError(t, err)

	f.store.Age(time.Hour)
	f.prov.payoutErr = &provider.APIError{StatusCode: 503, Message: "unavailable"}
	f.sweeper.SweepOnce(ctx)

	assert.Equal(t, domain.PayoutPending, f.payout(t, res.Payout.ID).Status)
	assert.Equal(t, int64(7_000), f.balance(user))
}

func TestRequestPayout_OpenCircuitFailsBeforeDebit(t *testing.T) {
	breaker := guard.NewCircuitBreaker(2, time.Minute)
	breaker.RecordFailure(opCreatePayout)
	breaker.RecordFailure(opCreatePayout)

	f := newFixture(t, func(s *PayoutService) {
		s.provider = provider.NewInstrumented(s.provider, breaker, nil)
	})
	user := f.user(t)
	f.fund(t, user, 10_000)

	_, err := f.payouts.RequestPayout(context.Background(), requestPayout(user, 1_000, "k-1"))
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeProviderUnavailable))
	assert.Equal(t, int64(10_000), f.balance(user))
	assert.Empty(t, f.prov.payoutCalls())
}

func TestRequestPayout_DailyLimit(t *testing.T) {
	f := newFixture(t, func(s *PayoutService) {
		s.limits = policy.PayoutLimitPolicy{SingleMin: 100, SingleMax: 10_000, DailyMax: 3_000}
	})
	ctx := context.Background()
	user := f.user(t)
	f.fund(t, user, 10_000)

	_, err := f.payouts.RequestPayout(ctx, requestPayout(user, 2_000, "k-1"))
	require.NoError(t, err)
	_, err = f.payouts.RequestPayout(ctx, requestPayout(user, 2_000, "k-2"))
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeLimitExceeded))
	assert.Equal(t, int64(8_000), f.balance(user))
}

func TestRequestPayout_RateLimited(t *testing.T) {
	f := newFixture(t, func(s *PayoutService) {
		s.limiter = guard.NewRateLimiter(1, time.Minute)
	})
	ctx := context.Background()
	user := f.user(t)
	f.fund(t, user, 10_000)

	_, err := f.payouts.RequestPayout(ctx, requestPayout(user, 1_000, "k-1"))
	require.NoError(t, err)

	// A replay is answered before the limiter.
	_, err = f.payouts.RequestPayout(ctx, requestPayout(user, 1_000, "k-1"))
	require.NoError(t, err)

	_, err = f.payouts.RequestPayout(ctx, requestPayout(user, 1_000, "k-2"))
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeRateLimited))
}

func TestReconcilePayoutEvents(t *testing.T) {
	tests := []struct {
		name        string
		events      []string // provider statuses, in delivery order
		wantStatus  domain.PayoutStatus
		wantTx      domain.TransactionStatus
		wantBalance int64
	}{
		{"paid", []string{"paid"}, domain.PayoutSucceeded, domain.TxSucceeded, 7_000},
		{"failed", []string{"failed"}, domain.PayoutFailed, domain.TxFailed, 10_000},
		{"canceled", []string{"canceled"}, domain.PayoutCanceled, domain.TxCanceled, 10_000},
		{"in transit then paid", []string{"in_transit", "paid"}, domain.PayoutSucceeded, domain.TxSucceeded, 7_000},
		{"paid then failed keeps first terminal", []string{"paid", "failed"}, domain.PayoutSucceeded, domain.TxSucceeded, 7_000},
		{"failed then paid keeps first terminal", []string{"failed", "paid"}, domain.PayoutFailed, domain.TxFailed, 10_000},
		{"failed twice refunds once", []string{"failed", "failed"}, domain.PayoutFailed, domain.TxFailed, 10_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			user := f.user(t)
			f.fund(t, user, 10_000)
			res, err := f.payouts.RequestPayout(ctx, requestPayout(user, 3_000, "k-1"))
			require.NoError(t, err)
			extID := *res.Payout.ExternalID

			for _, status := range tt.events {
				ack := f.deliver(t, "payout.updated", provider.Payout{ID: extID, Status: status, Amount: 3_000, Currency: "eur"})
				assert.NotEqual(t, AckError, ack.Status, ack.Message)
			}

			p := f.payout(t, res.Payout.ID)
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, tt.wantTx, f.transaction(t, p.TransactionID).Status)
			assert.Equal(t, tt.wantBalance, f.balance(user))
			f.audit(t, user)
		})
	}
}

func TestReconcilePayoutEvent_MatchesByMetadataAndBackfills(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t)
	f.fund(t, user, 10_000)
	f.prov.payoutErr = context.DeadlineExceeded
	res, err := f.payouts.RequestPayout(ctx, requestPayout(user, 3_000, "k-1"))
	require.NoError(t, err)
	require.Nil(t, res.Payout.ExternalID)

	ack := f.deliver(t, "payout.paid", provider.Payout{
		ID:       "po_external",
		Status:   "paid",
		Metadata: map[string]string{MetaPayoutID: res.Payout.ID.String()},
	})
	assert.Equal(t, string(domain.WebhookProcessed), ack.Status)

	p := f.payout(t, res.Payout.ID)
	assert.Equal(t, domain.PayoutSucceeded, p.Status)
	require.NotNil(t, p.ExternalID)
	assert.Equal(t, "po_external", *p.ExternalID)
}

func TestReconcilePayoutEvent_Unmatched(t *testing.T) {
	f := newFixture(t)
	ack := f.deliver(t, "payout.paid", provider.Payout{ID: "po_unknown", Status: "paid"})
	assert.Equal(t, string(domain.WebhookIgnored), ack.Status)
	assert.Contains(t, ack.Message, "po_unknown")

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.WebhookIgnored, events[0].Status)
}

func TestPayoutSweep_RefreshesFromProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t)
	f.fund(t, user, 10_000)
	res, err := f.payouts.RequestPayout(ctx, requestPayout(user, 3_000, "k-1"))
	require.NoError(t, err)

	f.prov.setPayout(*res.Payout.ExternalID, "failed")
	f.store.Age(time.Hour)
	report := f.sweeper.SweepOnce(ctx)
	assert.Equal(t, 1, report.Payouts)
	assert.Zero(t, report.AuditFailures)

	assert.Equal(t, domain.PayoutFailed, f.payout(t, res.Payout.ID).Status)
	assert.Equal(t, int64(10_000), f.balance(user))
}

func TestPayoutService_Get(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t)
	f.fund(t, user, 10_000)
	res, err := f.payouts.RequestPayout(ctx, requestPayout(user, 1_000, "k-1"))
	require.NoError(t, err)

	got, err := f.payouts.Get(ctx, user, res.Payout.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Payout.ID, got.ID)

	_, err = f.payouts.Get(ctx, uuid.New(), res.Payout.ID)
	assert.True(t, domain.HasCode(err, domain.CodeNotFound))
}
