// Package service holds the payment flows: wallet reads, recharges,
// reservation payments, payouts and provider event reconciliation. Every
// method that writes runs its store work in a single transaction and calls
// the payment provider only outside of one.
package service

import (
	"context"

	"github.com/carpoolhub/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Metadata keys attached to provider objects so events can be matched back
// to local rows.
const (
	MetaType          = "type"
	MetaUserID        = "user_id"
	MetaRechargeID    = "recharge_id"
	MetaReservationID = "reservation_id"
	MetaPayoutID      = "payout_id"

	metaTypeRecharge    = "recharge"
	metaTypeReservation = "reservation"
)

// CheckoutURLs are the default redirect targets of hosted checkouts.
type CheckoutURLs struct {
	Success string
	Cancel  string
}

func inTx(ctx context.Context, pool repository.Pool, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func metaUUID(meta map[string]string, key string) (uuid.UUID, bool) {
	raw, ok := meta[key]
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
