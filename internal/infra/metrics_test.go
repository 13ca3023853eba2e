package infra

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.WebhookEvent("payout.paid", "processed")
		m.LedgerMovement("deposit")
		m.Payout("accepted")
		m.ProviderCall("create_payout", time.Now(), errors.New("boom"))
		m.OutboxPublished("ok", 3)
		m.SweepItem("payout", "reconciled")
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.WebhookEvent("payout.paid", "processed")
	m.WebhookEvent("payout.paid", "processed")
	m.LedgerMovement("deposit")
	m.OutboxPublished("ok", 3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.webhookEvents.WithLabelValues("payout.paid", "processed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ledgerMovements.WithLabelValues("deposit")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.outboxPublished.WithLabelValues("ok")))
}

func TestMetricsMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Payout("accepted")

	w := httptest.NewRecorder()
	metricsMux(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "carpool_wallet_payouts_total")

	w = httptest.NewRecorder()
	metricsMux(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOutboxMessage(t *testing.T) {
	r := OutboxRecord{
		ID:            7,
		EventID:       uuid.New(),
		AggregateType: "wallet",
		AggregateID:   "acc-1",
		EventType:     "wallet.transaction.posted",
		PartitionKey:  "user-1",
		Payload:       json.RawMessage(`{"amount":100}`),
		OccurredAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(OutboxMessage(r), &msg))
	assert.Equal(t, r.EventID.String(), msg["event_id"])
	assert.Equal(t, "wallet.transaction.posted", msg["event_type"])
	assert.Equal(t, map[string]interface{}{"amount": float64(100)}, msg["payload"])
}

func TestKafkaMessage(t *testing.T) {
	r := OutboxRecord{
		EventID:       uuid.New(),
		AggregateType: "payout",
		EventType:     "wallet.payout.status_changed",
		PartitionKey:  "user-1",
		Payload:       json.RawMessage(`{}`),
		OccurredAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	msg := KafkaMessage("carpool.wallet.events", r)
	assert.Equal(t, "carpool.wallet.events", msg.Topic)
	assert.Equal(t, []byte("user-1"), msg.Key)
	assert.Equal(t, r.OccurredAt, msg.Time)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "wallet.payout.status_changed", headers["event_type"])
	assert.Equal(t, "payout", headers["aggregate_type"])
	assert.Equal(t, r.EventID.String(), headers["event_id"])
}

func TestKafkaProducer_DisabledIsNoop(t *testing.T) {
	p := NewKafkaProducer("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, p.Publish(context.Background(), "t", OutboxRecord{}))
	assert.NoError(t, p.Close())
}
