package ledger

import (
	"context"
	"testing"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/repository"
	"github.com/carpoolhub/platform/internal/repository/memrepo"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store  *memrepo.Store
	repos  repository.Repositories
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memrepo.New()
	repos := store.Repositories()
	return &fixture{
		store:  store,
		repos:  repos,
		engine: NewEngine(repos, decimal.RequireFromString("0.15"), nil),
	}
}

// inTx runs fn in one store transaction, like the services do.
func (f *fixture) inTx(t *testing.T, fn func(tx pgx.Tx) error) error {
	t.Helper()
	return pgx.BeginTxFunc(context.Background(), f.store, pgx.TxOptions{}, fn)
}

// funded creates an EUR account holding balance.
func (f *fixture) funded(t *testing.T, balance int64) *domain.Account {
	t.Helper()
	ctx := context.Background()
	var acct *domain.Account
	require.NoError(t, f.inTx(t, func(tx pgx.Tx) error {
		var err error
		acct, err = f.engine.EnsureAccount(ctx, tx, uuid.New(), "EUR")
		if err != nil || balance == 0 {
			return err
		}
		res, err := f.engine.ApplyMovement(ctx, tx, domain.MovementParams{
			AccountID: acct.ID,
			Type:      domain.TxDeposit,
			Amount:    balance,
		})
		if err != nil {
			return err
		}
		acct = res.Account
		return nil
	}))
	return acct
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	acct := f.store.Account(id)
	require.NotNil(t, acct)
	return acct.Balance
}
