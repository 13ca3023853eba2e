package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

func newDraft(aggregate AggregateType, aggregateID string, partition string, evt EventType, payload any) OutboxDraft {
	body, _ := json.Marshal(payload)
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: aggregate,
		AggregateID:   aggregateID,
		EventType:     evt,
		PartitionKey:  partition,
		Headers:       json.RawMessage(`{}`),
		Payload:       body,
		OccurredAt:    time.Now(),
	}
}

// NewTransactionPostedEvent creates the standard wallet event for a ledger movement.
func NewTransactionPostedEvent(tx *Transaction) OutboxDraft {
	return newDraft(AggregateWallet, tx.AccountID.String(), tx.UserID.String(), EventTransactionPosted, tx)
}

// NewTransactionSettledEvent is emitted when a pending movement reaches a terminal status.
func NewTransactionSettledEvent(tx *Transaction) OutboxDraft {
	return newDraft(AggregateWallet, tx.AccountID.String(), tx.UserID.String(), EventTransactionSettled, map[string]any{
		"transaction_id": tx.ID,
		"status":         tx.Status,
	})
}

// NewPayoutStatusEvent records a payout lifecycle transition.
func NewPayoutStatusEvent(p *Payout, from PayoutStatus) OutboxDraft {
	return newDraft(AggregatePayout, p.ID.String(), p.UserID.String(), EventPayoutStatusChanged, map[string]any{
		"payout_id":   p.ID,
		"user_id":     p.UserID,
		"from":        from,
		"to":          p.Status,
		"amount":      p.Amount,
		"currency":    p.Currency,
		"external_id": p.ExternalID,
	})
}

// NewRechargeStatusEvent records a recharge lifecycle transition.
func NewRechargeStatusEvent(r *Recharge, from RechargeStatus) OutboxDraft {
	return newDraft(AggregateRecharge, r.ID.String(), r.UserID.String(), EventRechargeStatusChanged, map[string]any{
		"recharge_id": r.ID,
		"user_id":     r.UserID,
		"from":        from,
		"to":          r.Status,
		"amount":      r.Amount,
		"currency":    r.Currency,
	})
}

// NewRechargeLatePaymentEvent flags provider funds reported for a recharge
// that was already closed locally. Nothing is credited; support settles it.
func NewRechargeLatePaymentEvent(r *Recharge, amount int64, sessionID, intentID string) OutboxDraft {
	return newDraft(AggregateRecharge, r.ID.String(), r.UserID.String(), EventRechargeLatePayment, map[string]any{
		"recharge_id":       r.ID,
		"user_id":           r.UserID,
		"status":            r.Status,
		"amount":            amount,
		"currency":          r.Currency,
		"session_id":        sessionID,
		"payment_intent_id": intentID,
	})
}

// NewAccountStatusEvent records a block or unblock of a wallet account.
func NewAccountStatusEvent(a *Account) OutboxDraft {
	return newDraft(AggregateWallet, a.ID.String(), a.UserID.String(), EventAccountStatusChanged, map[string]any{
		"account_id": a.ID,
		"user_id":    a.UserID,
		"status":     a.Status,
	})
}
