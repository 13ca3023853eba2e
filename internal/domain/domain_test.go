package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Validator Tests ---

func TestValidateCurrency(t *testing.T) {
	tests := []struct {
		name     string
		currency string
		wantErr  bool
	}{
		{"valid EUR", "EUR", false},
		{"valid USD", "USD", false},
		{"valid GBP", "GBP", false},
		{"lowercase", "eur", true},
		{"mixed case", "Eur", true},
		{"too short", "EU", true},
		{"too long", "EURO", true},
		{"empty", "", true},
		{"numbers", "123", true},
		{"with space", "EU ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCurrency(tt.currency)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid currency code")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNormalizeCurrency(t *testing.T) {
	assert.Equal(t, "EUR", NormalizeCurrency("eur"))
	assert.Equal(t, "USD", NormalizeCurrency(" usd "))
}

func TestValidatePositiveAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		wantErr bool
	}{
		{"positive", 100, false},
		{"one cent", 1, false},
		{"large amount", 999_999_999, false},
		{"zero", 0, true},
		{"negative", -100, true},
		{"min int64", -9223372036854775808, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePositiveAmount(tt.amount)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, HasCode(err, CodeInvalidAmount))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidatePayoutMethod(t *testing.T) {
	require.NoError(t, ValidatePayoutMethod(PayoutStandard))
	require.NoError(t, ValidatePayoutMethod(PayoutInstant))
	assert.Error(t, ValidatePayoutMethod("wire"))
}

// --- AppError Tests ---

func TestAppError_Error(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := ErrNotFound("payout", "abc-123")
		assert.Equal(t, "NOT_FOUND: payout abc-123 not found", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := ErrInternal("database error", cause)
		assert.Contains(t, err.Error(), "INTERNAL_ERROR")
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := ErrProviderCallFailed(cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestAppError_IsMatchesCodeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("request payout: %w", ErrInsufficientFunds())

	assert.True(t, errors.Is(wrapped, ErrInsufficientFunds()))
	assert.False(t, errors.Is(wrapped, ErrWalletBlocked()))
	assert.True(t, HasCode(wrapped, CodeInsufficientFunds))
	assert.False(t, HasCode(errors.New("plain"), CodeInsufficientFunds))
}

func TestErrorFactories(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantCode   string
		wantStatus int
	}{
		{"ErrNotFound", ErrNotFound("payout", "123"), CodeNotFound, 404},
		{"ErrValidation", ErrValidation("bad input"), CodeValidation, 400},
		{"ErrUnauthorized", ErrUnauthorized("no token"), CodeUnauthorized, 401},
		{"ErrForbidden", ErrForbidden("not allowed"), CodeForbidden, 403},
		{"ErrInsufficientFunds", ErrInsufficientFunds(), CodeInsufficientFunds, 400},
		{"ErrWalletBlocked", ErrWalletBlocked(), CodeWalletBlocked, 403},
		{"ErrAccountNotFound", ErrAccountNotFound("a"), CodeAccountNotFound, 404},
		{"ErrDuplicateMovement", ErrDuplicateMovement("cs_1"), CodeDuplicateMovement, 409},
		{"ErrInvalidCommission", ErrInvalidCommission("rate"), CodeInvalidCommission, 422},
		{"ErrDuplicateEvent", ErrDuplicateEvent("evt_1"), CodeDuplicateEvent, 200},
		{"ErrUnmatchedReference", ErrUnmatchedReference("payout", "po_1"), CodeUnmatchedReference, 200},
		{"ErrProviderCallFailed", ErrProviderCallFailed(nil), CodeProviderCallFailed, 502},
		{"ErrProviderUnavailable", ErrProviderUnavailable(), CodeProviderUnavailable, 503},
		{"ErrConstraintConflict", ErrConstraintConflict("dup", nil), CodeConstraintConflict, 409},
		{"ErrRateLimited", ErrRateLimited("slow down"), CodeRateLimited, 429},
		{"ErrLimitExceeded", ErrLimitExceeded("daily", 10, 20), CodeLimitExceeded, 422},
		{"ErrInternal", ErrInternal("oops", nil), CodeInternal, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.Equal(t, tt.wantStatus, tt.err.Status)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

// --- Lifecycle Tests ---

func TestPayoutStatus_Advance(t *testing.T) {
	tests := []struct {
		name        string
		from, to    PayoutStatus
		want        PayoutStatus
		wantChanged bool
		wantCode    string
	}{
		{"pending to processing", PayoutPending, PayoutProcessing, PayoutProcessing, true, ""},
		{"pending straight to failed", PayoutPending, PayoutFailed, PayoutFailed, true, ""},
		{"processing to succeeded", PayoutProcessing, PayoutSucceeded, PayoutSucceeded, true, ""},
		{"processing replay", PayoutProcessing, PayoutProcessing, PayoutProcessing, false, ""},
		{"succeeded replay", PayoutSucceeded, PayoutSucceeded, PayoutSucceeded, false, ""},
		{"failed after succeeded", PayoutSucceeded, PayoutFailed, PayoutSucceeded, false, CodeTerminalState},
		{"processing after failed", PayoutFailed, PayoutProcessing, PayoutFailed, false, CodeTerminalState},
		{"back to pending", PayoutProcessing, PayoutPending, PayoutProcessing, false, CodeInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed, err := tt.from.Advance(tt.to)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantChanged, changed)
			if tt.wantCode == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, HasCode(err, tt.wantCode))
			}
		})
	}
}

func TestPayoutStatus_EventSequenceFirstTerminalWins(t *testing.T) {
	status := PayoutPending
	for _, next := range []PayoutStatus{PayoutProcessing, PayoutSucceeded, PayoutFailed} {
		if s, _, err := status.Advance(next); err == nil {
			status = s
		}
	}
	assert.Equal(t, PayoutSucceeded, status)
}

func TestRechargeStatus_Advance(t *testing.T) {
	got, changed, err := RechargePending.Advance(RechargeExpired)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, RechargeExpired, got)

	_, _, err = RechargeExpired.Advance(RechargeSucceeded)
	assert.True(t, HasCode(err, CodeTerminalState))
	assert.True(t, RechargeSucceeded.IsTerminal())
	assert.False(t, RechargePending.IsTerminal())
}

func TestReservationStatus_Advance(t *testing.T) {
	got, changed, err := ReservationPending.Advance(ReservationCompleted)
	require.NoError(t, err)
	assert.True(t, changed)

	got, changed, err = got.Advance(ReservationPaid)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, ReservationPaid, got)

	_, _, err = ReservationPaid.Advance(ReservationCanceled)
	assert.True(t, HasCode(err, CodeTerminalState))
}

func TestTransactionStatus_Terminal(t *testing.T) {
	assert.False(t, TxPending.IsTerminal())
	for _, s := range []TransactionStatus{TxSucceeded, TxFailed, TxCanceled} {
		assert.True(t, s.IsTerminal(), s)
	}
}

func TestPayoutStatusFromProvider(t *testing.T) {
	tests := map[string]PayoutStatus{
		"paid":       PayoutSucceeded,
		"failed":     PayoutFailed,
		"canceled":   PayoutCanceled,
		"pending":    PayoutProcessing,
		"in_transit": PayoutProcessing,
		"":           PayoutProcessing,
	}
	for in, want := range tests {
		assert.Equal(t, want, PayoutStatusFromProvider(in), in)
	}
}

func TestReversalType(t *testing.T) {
	assert.Equal(t, TxRefund, ReversalType(-500))
	assert.Equal(t, TxRefundReversal, ReversalType(500))
}

// --- Event Factory Tests ---

func TestNewTransactionPostedEvent(t *testing.T) {
	userID := uuid.New()
	tx := &Transaction{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		UserID:    userID,
		Type:      TxDeposit,
		Amount:    10000,
	}

	event := NewTransactionPostedEvent(tx)

	assert.NotEqual(t, uuid.Nil, event.EventID)
	assert.Equal(t, AggregateWallet, event.AggregateType)
	assert.Equal(t, tx.AccountID.String(), event.AggregateID)
	assert.Equal(t, EventTransactionPosted, event.EventType)
	assert.Equal(t, userID.String(), event.PartitionKey)
	assert.False(t, event.OccurredAt.IsZero())

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, float64(10000), payload["amount"])
}

func TestNewPayoutStatusEvent(t *testing.T) {
	p := &Payout{ID: uuid.New(), UserID: uuid.New(), Status: PayoutSucceeded, Amount: 500, Currency: "EUR"}
	event := NewPayoutStatusEvent(p, PayoutProcessing)

	assert.Equal(t, AggregatePayout, event.AggregateType)
	assert.Equal(t, EventPayoutStatusChanged, event.EventType)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, "processing", payload["from"])
	assert.Equal(t, "succeeded", payload["to"])
}

func TestSplitResult_Transactions(t *testing.T) {
	r := &SplitResult{Payer: &Transaction{}, Payee: &Transaction{}}
	assert.Len(t, r.Transactions(), 2)
	r.Platform = &Transaction{}
	assert.Len(t, r.Transactions(), 3)
}
