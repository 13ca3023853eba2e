package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAccount_CreatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	first, err := f.engine.EnsureAccount(ctx, f.store, userID, "eur")
	require.NoError(t, err)
	second, err := f.engine.EnsureAccount(ctx, f.store, userID, "EUR")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "EUR", first.Currency)
	assert.Equal(t, int64(0), first.Balance)
	assert.Equal(t, domain.AccountActive, first.Status)

	_, err = f.engine.EnsureAccount(ctx, f.store, userID, "EURO")
	assert.True(t, domain.HasCode(err, domain.CodeValidation))
}

func TestApplyMovement(t *testing.T) {
	tests := []struct {
		name        string
		balance     int64
		amount      int64
		blocked     bool
		compensate  bool
		wantCode    string
		wantBalance int64
	}{
		{"credit", 100, 50, false, false, "", 150},
		{"debit within balance", 100, -60, false, false, "", 40},
		{"debit to zero", 100, -100, false, false, "", 0},
		{"debit beyond balance", 100, -101, false, false, domain.CodeInsufficientFunds, 100},
		{"zero amount", 100, 0, false, false, domain.CodeInvalidAmount, 100},
		{"credit on blocked wallet", 100, 50, true, false, domain.CodeWalletBlocked, 100},
		{"debit on blocked wallet", 100, -50, true, false, domain.CodeWalletBlocked, 100},
		{"compensation on blocked wallet", 100, 50, true, true, "", 150},
		{"compensation cannot overdraw", 100, -150, true, true, domain.CodeInsufficientFunds, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			acct := f.funded(t, tt.balance)
			if tt.blocked {
				_, err := f.engine.SetAccountStatus(ctx, f.store, acct.ID, domain.AccountBlocked)
				require.NoError(t, err)
			}

			var res *domain.MovementResult
			err := f.inTx(t, func(tx pgx.Tx) error {
				var err error
				res, err = f.engine.ApplyMovement(ctx, tx, domain.MovementParams{
					AccountID:    acct.ID,
					Type:         domain.TxAdjustment,
					Amount:       tt.amount,
					Compensation: tt.compensate,
				})
				return err
			})

			assert.Equal(t, tt.wantBalance, f.balance(t, acct.ID))
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, domain.HasCode(err, tt.wantCode), err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.balance, res.Transaction.BalanceBefore)
			assert.Equal(t, tt.wantBalance, res.Transaction.BalanceAfter)
			assert.Equal(t, domain.TxSucceeded, res.Transaction.Status)
			assert.Len(t, res.Events, 1)
		})
	}
}

func TestApplyMovement_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ApplyMovement(context.Background(), f.store, domain.MovementParams{
		AccountID: uuid.New(),
		Type:      domain.TxDeposit,
		Amount:    10,
	})
	assert.True(t, domain.HasCode(err, domain.CodeAccountNotFound))
}

func TestApplyMovement_CorrelationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.funded(t, 0)

	params := domain.MovementParams{
		AccountID:     acct.ID,
		Type:          domain.TxDeposit,
		Amount:        500,
		CorrelationID: "cs_test_1",
	}
	first, err := f.engine.ApplyMovement(ctx, f.store, params)
	require.NoError(t, err)
	assert.False(t, first.Idempotent)

	for i := 0; i < 3; i++ {
		again, err := f.engine.ApplyMovement(ctx, f.store, params)
		require.NoError(t, err)
		assert.True(t, again.Idempotent)
		assert.Equal(t, first.Transaction.ID, again.Transaction.ID)
	}
	assert.Equal(t, int64(500), f.balance(t, acct.ID))

	t.Run("different amount is a duplicate movement", func(t *testing.T) {
		params.Amount = 600
		_, err := f.engine.ApplyMovement(ctx, f.store, params)
		assert.True(t, errors.Is(err, domain.ErrDuplicateMovement("")))
	})

	t.Run("same correlation on another type is independent", func(t *testing.T) {
		params.Amount = -100
		params.Type = domain.TxReservationPayment
		res, err := f.engine.ApplyMovement(ctx, f.store, params)
		require.NoError(t, err)
		assert.False(t, res.Idempotent)
	})
}

func TestApplyMovement_FailedInsertLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.funded(t, 100)
	f.store.FailOn("transactions.insert", errors.New("disk full"))

	err := f.inTx(t, func(tx pgx.Tx) error {
		_, err := f.engine.ApplyMovement(ctx, tx, domain.MovementParams{
			AccountID: acct.ID,
			Type:      domain.TxAdjustment,
			Amount:    -40,
		})
		return err
	})

	require.Error(t, err)
	assert.Equal(t, int64(100), f.balance(t, acct.ID))
	assert.Len(t, f.store.Transactions(), 1)
	assert.Len(t, f.store.Outbox(), 1)
}

// The memrepo store serializes whole transactions, so this checks the
// outcome of competing debits, not the balance compare-and-set itself. The
// interleaved case runs against Postgres in test/integration/ledger_test.go.
func TestApplyMovement_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.funded(t, 100)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.inTx(t, func(tx pgx.Tx) error {
				_, err := f.engine.ApplyMovement(ctx, tx, domain.MovementParams{
					AccountID: acct.ID,
					Type:      domain.TxPayout,
					Amount:    -60,
				})
				return err
			})
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case domain.HasCode(err, domain.CodeInsufficientFunds):
			insufficient++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, int64(40), f.balance(t, acct.ID))
}

func TestReverseMovement_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		amount   int64
		wantType domain.TransactionType
	}{
		{"debit comes back as refund", -30, domain.TxRefund},
		{"credit is taken back", 30, domain.TxRefundReversal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			acct := f.funded(t, 100)

			orig, err := f.engine.ApplyMovement(ctx, f.store, domain.MovementParams{
				AccountID: acct.ID,
				Type:      domain.TxAdjustment,
				Amount:    tt.amount,
			})
			require.NoError(t, err)

			rev, err := f.engine.ReverseMovement(ctx, f.store, orig.Transaction.ID, "")
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, rev.Transaction.Type)
			assert.Equal(t, -tt.amount, rev.Transaction.Amount)
			require.NotNil(t, rev.Transaction.ReversalOf)
			assert.Equal(t, orig.Transaction.ID, *rev.Transaction.ReversalOf)
			assert.Equal(t, int64(100), f.balance(t, acct.ID))

			again, err := f.engine.ReverseMovement(ctx, f.store, orig.Transaction.ID, "")
			require.NoError(t, err)
			assert.True(t, again.Idempotent)
			assert.Equal(t, rev.Transaction.ID, again.Transaction.ID)
			assert.Equal(t, int64(100), f.balance(t, acct.ID))
			assert.Len(t, f.store.Transactions(), 3)
		})
	}
}

func TestReverseMovement_RefundReachesBlockedWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.funded(t, 100)

	orig, err := f.engine.ApplyMovement(ctx, f.store, domain.MovementParams{
		AccountID: acct.ID,
		Type:      domain.TxPayout,
		Amount:    -50,
	})
	require.NoError(t, err)
	_, err = f.engine.SetAccountStatus(ctx, f.store, acct.ID, domain.AccountBlocked)
	require.NoError(t, err)

	_, err = f.engine.ReverseMovement(ctx, f.store, orig.Transaction.ID, "payout failed")
	require.NoError(t, err)
	assert.Equal(t, int64(100), f.balance(t, acct.ID))
}

func TestReverseMovement_Unknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ReverseMovement(context.Background(), f.store, uuid.New(), "")
	assert.True(t, domain.HasCode(err, domain.CodeNotFound))
}

func TestSplitAndApply_Exact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.funded(t, 1000)
	payee := f.funded(t, 0)
	platform := f.funded(t, 0)
	reservationID := uuid.New()

	var res *domain.SplitResult
	require.NoError(t, f.inTx(t, func(tx pgx.Tx) error {
		var err error
		res, err = f.engine.SplitAndApply(ctx, tx, domain.SplitParams{
			Gross:             1000,
			PayerAccountID:    payer.ID,
			PayeeAccountID:    payee.ID,
			PlatformAccountID: platform.ID,
			ReservationID:     &reservationID,
			CorrelationID:     "pi_1",
		})
		return err
	}))

	assert.Equal(t, domain.Split{Gross: 1000, Commission: 150, Net: 850}, res.Split)
	assert.Equal(t, int64(0), f.balance(t, payer.ID))
	assert.Equal(t, int64(850), f.balance(t, payee.ID))
	assert.Equal(t, int64(150), f.balance(t, platform.ID))

	var sum int64
	for _, tx := range res.Transactions() {
		sum += tx.Amount
		assert.Equal(t, reservationID, *tx.ReservationID)
	}
	assert.Zero(t, sum)
	assert.Equal(t, domain.TxReservationPayment, res.Payer.Type)
	assert.Equal(t, domain.TxReservationRevenue, res.Payee.Type)
	assert.Equal(t, domain.TxCommission, res.Platform.Type)

	t.Run("replay is idempotent", func(t *testing.T) {
		again, err := f.engine.SplitAndApply(ctx, f.store, domain.SplitParams{
			Gross:             1000,
			PayerAccountID:    payer.ID,
			PayeeAccountID:    payee.ID,
			PlatformAccountID: platform.ID,
			CorrelationID:     "pi_1",
		})
		require.NoError(t, err)
		assert.True(t, again.Idempotent)
		assert.Equal(t, res.Payer.ID, again.Payer.ID)
		assert.Equal(t, int64(850), f.balance(t, payee.ID))
	})
}

func TestSplitAndApply_ZeroCommissionSkipsPlatform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.funded(t, 100)
	payee := f.funded(t, 0)
	platform := f.funded(t, 0)
	zero := decimal.Zero

	res, err := f.engine.SplitAndApply(ctx, f.store, domain.SplitParams{
		Gross:             100,
		PayerAccountID:    payer.ID,
		PayeeAccountID:    payee.ID,
		PlatformAccountID: platform.ID,
		Rate:              &zero,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Platform)
	assert.Len(t, res.Transactions(), 2)
	assert.Equal(t, int64(100), f.balance(t, payee.ID))
}

func TestSplitAndApply_IsAtomic(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture) (payer, payee, platform uuid.UUID)
		code  string
	}{
		{
			name: "payer cannot cover gross",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, uuid.UUID, uuid.UUID) {
				return f.funded(t, 999).ID, f.funded(t, 0).ID, f.funded(t, 0).ID
			},
			code: domain.CodeInsufficientFunds,
		},
		{
			name: "payee blocked",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, uuid.UUID, uuid.UUID) {
				payee := f.funded(t, 0)
				_, err := f.engine.SetAccountStatus(context.Background(), f.store, payee.ID, domain.AccountBlocked)
				require.NoError(t, err)
				return f.funded(t, 1000).ID, payee.ID, f.funded(t, 0).ID
			},
			code: domain.CodeWalletBlocked,
		},
		{
			name: "platform account missing",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, uuid.UUID, uuid.UUID) {
				return f.funded(t, 1000).ID, f.funded(t, 0).ID, uuid.New()
			},
			code: domain.CodeAccountNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			payer, payee, platform := tt.setup(t, f)
			before := f.store.Transactions()

			err := f.inTx(t, func(tx pgx.Tx) error {
				_, err := f.engine.SplitAndApply(ctx, tx, domain.SplitParams{
					Gross:             1000,
					PayerAccountID:    payer,
					PayeeAccountID:    payee,
					PlatformAccountID: platform,
				})
				return err
			})

			require.Error(t, err)
			assert.True(t, domain.HasCode(err, tt.code), err)
			assert.Equal(t, before, f.store.Transactions())
		})
	}
}

func TestSplitAndApply_InvalidRate(t *testing.T) {
	f := newFixture(t)
	rate := decimal.RequireFromString("1.5")
	_, err := f.engine.SplitAndApply(context.Background(), f.store, domain.SplitParams{
		Gross: 100,
		Rate:  &rate,
	})
	assert.True(t, domain.HasCode(err, domain.CodeInvalidCommission))
}

func TestSettleTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.funded(t, 100)

	res, err := f.engine.ApplyMovement(ctx, f.store, domain.MovementParams{
		AccountID: acct.ID,
		Type:      domain.TxPayout,
		Amount:    -50,
		Status:    domain.TxPending,
	})
	require.NoError(t, err)

	settled, changed, err := f.engine.SettleTransaction(ctx, f.store, res.Transaction.ID, domain.TxSucceeded)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.TxSucceeded, settled.Status)

	_, changed, err = f.engine.SettleTransaction(ctx, f.store, res.Transaction.ID, domain.TxSucceeded)
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = f.engine.SettleTransaction(ctx, f.store, res.Transaction.ID, domain.TxFailed)
	assert.True(t, domain.HasCode(err, domain.CodeTerminalState))
	assert.Equal(t, int64(50), f.balance(t, acct.ID))
}

func TestSetAccountStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.funded(t, 0)

	blocked, err := f.engine.SetAccountStatus(ctx, f.store, acct.ID, domain.AccountBlocked)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountBlocked, blocked.Status)

	_, err = f.engine.SetAccountStatus(ctx, f.store, acct.ID, "frozen")
	assert.True(t, domain.HasCode(err, domain.CodeValidation))

	_, err = f.engine.SetAccountStatus(ctx, f.store, uuid.New(), domain.AccountActive)
	assert.True(t, domain.HasCode(err, domain.CodeAccountNotFound))

	last := f.store.Outbox()[len(f.store.Outbox())-1]
	assert.Equal(t, domain.EventAccountStatusChanged, last.EventType)
}

func TestStrPtr(t *testing.T) {
	assert.Nil(t, strPtr(""))
	require.NotNil(t, strPtr("x"))
	assert.Equal(t, "x", *strPtr("x"))
}
