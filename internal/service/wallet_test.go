package service

import (
	"context"
	"testing"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletService_Balances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t)

	empty, err := f.wallet.Balances(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, empty)

	f.fund(t, user, 1_200)
	balances, err := f.wallet.Balances(ctx, user)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "EUR", balances[0].Currency)
	assert.Equal(t, int64(1_200), balances[0].BalanceCents)
	assert.Equal(t, domain.AccountActive, balances[0].Status)
}

func TestWalletService_Transactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t)
	for i := 1; i <= 3; i++ {
		f.fund(t, user, int64(i*100))
	}

	page, err := f.wallet.Transactions(ctx, user, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(300), page.Items[0].Amount)

	page, err = f.wallet.Transactions(ctx, user, 0, -5)
	require.NoError(t, err)
	assert.Equal(t, 20, page.Limit)
	assert.Zero(t, page.Offset)
	assert.Len(t, page.Items, 3)

	none, err := f.wallet.Transactions(ctx, uuid.New(), 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, none.Items)
	assert.Zero(t, none.Total)
}

func TestWalletService_SetAccountStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t)
	f.fund(t, user, 5_000)

	acct, err := f.wallet.SetAccountStatus(ctx, user, "eur", domain.AccountBlocked)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountBlocked, acct.Status)

	_, err = f.payouts.RequestPayout(ctx, requestPayout(user, 1_000, "p-1"))
	assert.True(t, domain.HasCode(err, domain.CodeWalletBlocked), err)

	acct, err = f.wallet.SetAccountStatus(ctx, user, "EUR", domain.AccountActive)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountActive, acct.Status)

	_, err = f.wallet.SetAccountStatus(ctx, user, "USD", domain.AccountBlocked)
	assert.True(t, domain.HasCode(err, domain.CodeAccountNotFound))

	_, err = f.wallet.SetAccountStatus(ctx, user, "EUR", domain.AccountStatus("frozen"))
	assert.True(t, domain.HasCode(err, domain.CodeValidation))
}

func TestWalletService_ListsNeverNil(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t)

	payouts, err := f.wallet.Payouts(ctx, user, 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, payouts)

	recharges, err := f.wallet.Recharges(ctx, user, 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, recharges)

	f.initiate(t, user, 700, "r-1")
	recharges, err = f.wallet.Recharges(ctx, user, 10, 0)
	require.NoError(t, err)
	assert.Len(t, recharges, 1)
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		limit, offset     int
		wantLim, wantOffs int
	}{
		{0, 0, 20, 0},
		{500, 10, 100, 10},
		{5, -1, 5, 0},
	}
	for _, tt := range tests {
		l, o := clampPage(tt.limit, tt.offset)
		assert.Equal(t, tt.wantLim, l)
		assert.Equal(t, tt.wantOffs, o)
	}
}
