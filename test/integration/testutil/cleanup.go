//go:build integration

package testutil

import (
	"context"
	"time"
)

// CleanAll truncates every wallet table.
func (env *TestEnv) CleanAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tables := []string{
		"event_outbox",
		"connected_accounts",
		"payment_intents",
		"idempotency_keys",
		"webhook_events",
		"recharges",
		"payouts",
		"transactions",
		"accounts",
		"reservations",
		"trips",
		"users",
	}
	for _, table := range tables {
		if _, err := env.Pool.Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			env.t.Fatalf("truncate %s: %v", table, err)
		}
	}
}
