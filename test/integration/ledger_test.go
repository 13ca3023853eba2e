//go:build integration

package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/test/integration/testutil"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Ledger Engine on Postgres ─────────────────────────────────────────────

func TestLedger_MovementWritesRowAndOutbox(t *testing.T) {
	env := testutil.NewTestEnv(t)
	user := env.CreateUser("rider@test.com")

	acct := env.Fund(user, 2_500)
	assert.Equal(t, int64(2_500), acct.Balance)

	testutil.AssertBalance(t, env, user, 2_500)
	assert.Equal(t, 1, testutil.CountTransactions(t, env, user))
	assert.Equal(t, 1, testutil.CountOutboxEvents(t, env, user))
}

func TestLedger_OverdraftRejectedWithoutRow(t *testing.T) {
	env := testutil.NewTestEnv(t)
	ctx := context.Background()
	user := env.CreateUser("overdraft@test.com")
	acct := env.Fund(user, 300)

	err := pgx.BeginTxFunc(ctx, env.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := env.Services.Engine.ApplyMovement(ctx, tx, domain.MovementParams{
			AccountID: acct.ID,
			Type:      domain.TxPayout,
			Amount:    -301,
		})
		return err
	})
	assert.True(t, domain.HasCode(err, domain.CodeInsufficientFunds), err)

	testutil.AssertBalance(t, env, user, 300)
	assert.Equal(t, 1, testutil.CountTransactions(t, env, user))
}

func TestLedger_CorrelationReplay(t *testing.T) {
	env := testutil.NewTestEnv(t)
	ctx := context.Background()
	user := env.CreateUser("replay@test.com")
	acct := env.Fund(user, 1_000)

	apply := func(amount int64) (*domain.MovementResult, error) {
		var res *domain.MovementResult
		err := pgx.BeginTxFunc(ctx, env.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
			var err error
			res, err = env.Services.Engine.ApplyMovement(ctx, tx, domain.MovementParams{
				AccountID:     acct.ID,
				Type:          domain.TxPayout,
				Amount:        amount,
				CorrelationID: "payout:test-1",
			})
			return err
		})
		return res, err
	}

	first, err := apply(-400)
	require.NoError(t, err)
	assert.False(t, first.Idempotent)

	again, err := apply(-400)
	require.NoError(t, err)
	assert.True(t, again.Idempotent)
	assert.Equal(t, first.Transaction.ID, again.Transaction.ID)

	_, err = apply(-500)
	assert.True(t, domain.HasCode(err, domain.CodeDuplicateMovement), err)

	testutil.AssertBalance(t, env, user, 600)
}

func TestLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	env := testutil.NewTestEnv(t)
	ctx := context.Background()
	user := env.CreateUser("concurrent@test.com")
	acct := env.Fund(user, 500)

	const workers = 10
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pgx.BeginTxFunc(ctx, env.Pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
				_, err := env.Services.Engine.ApplyMovement(ctx, tx, domain.MovementParams{
					AccountID: acct.ID,
					Type:      domain.TxPayout,
					Amount:    -100,
				})
				return err
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case domain.HasCode(err, domain.CodeInsufficientFunds):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), succeeded.Load())
	assert.Equal(t, int32(5), rejected.Load())
	testutil.AssertBalance(t, env, user, 0)

	results, err := env.Services.Wallet.Audit(ctx, user)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].AllPassed, "%+v", results[0].Invariants)
}
