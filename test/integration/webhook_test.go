//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/provider"
	"github.com/carpoolhub/platform/test/integration/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Provider Webhook Tests ────────────────────────────────────────────────

func TestWebhook_InvalidSignatureStoresNothing(t *testing.T) {
	env := testutil.NewTestEnv(t)

	payload := []byte(`{"id":"evt_forged","type":"payout.paid","data":{"object":{"id":"po_1"}}}`)
	resp := env.RawWebhook(payload, provider.SignPayload(payload, "whsec_forged", time.Now()))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	events, err := env.Repos.Events.ListRetryable(context.Background(), env.Pool, time.Now().Add(time.Hour), 10, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	env := testutil.NewTestEnv(t)
	id := testutil.EventID()
	intent := provider.PaymentIntent{ID: "pi_int_1", Amount: 1_200, Currency: "eur", Status: "processing"}

	resp := env.Webhook(id, "payment_intent.processing", intent)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var ack domain.WebhookAck
	testutil.DecodeJSON(t, resp, &ack)
	assert.Equal(t, string(domain.WebhookProcessed), ack.Status)

	first := ack
	resp = env.Webhook(id, "payment_intent.processing", intent)
	testutil.AssertStatus(t, resp, http.StatusOK)
	ack = domain.WebhookAck{}
	testutil.DecodeJSON(t, resp, &ack)
	assert.Equal(t, first, ack)

	pi, err := env.Repos.PaymentIntents.FindByID(context.Background(), env.Pool, "pi_int_1")
	require.NoError(t, err)
	require.NotNil(t, pi)
	assert.Equal(t, "processing", pi.Status)
}

func TestWebhook_AccountUpdated(t *testing.T) {
	env := testutil.NewTestEnv(t)
	ctx := context.Background()
	user := env.CreateUser("driver@test.com")
	_, err := env.Pool.Exec(ctx, "UPDATE users SET stripe_account_id = 'acct_int_1' WHERE id = $1", user)
	require.NoError(t, err)

	resp := env.Webhook(testutil.EventID(), "account.updated", provider.Account{
		ID: "acct_int_1", ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true,
	})
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	mirror, err := env.Repos.ConnectedAccounts.FindByID(ctx, env.Pool, "acct_int_1")
	require.NoError(t, err)
	require.NotNil(t, mirror)
	assert.True(t, mirror.PayoutsEnabled)
	require.NotNil(t, mirror.UserID)
	assert.Equal(t, user, *mirror.UserID)
}

func TestWebhook_UnmatchedPayoutIgnored(t *testing.T) {
	env := testutil.NewTestEnv(t)

	resp := env.Webhook(testutil.EventID(), "payout.paid", provider.Payout{ID: "po_unknown", Status: "paid"})
	testutil.AssertStatus(t, resp, http.StatusOK)
	var ack domain.WebhookAck
	testutil.DecodeJSON(t, resp, &ack)
	assert.Equal(t, string(domain.WebhookIgnored), ack.Status)
}
