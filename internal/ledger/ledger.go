// Package ledger is the only writer of account balances and transaction rows.
// Every operation runs inside the caller's database transaction: balances are
// moved with a single compare-and-set update, the transaction row records the
// before/after snapshot returned by that update, and an outbox event is
// written alongside.
package ledger

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/infra"
	"github.com/carpoolhub/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine provides the ledger operations.
type Engine struct {
	accounts     repository.AccountRepository
	transactions repository.TransactionRepository
	outbox       repository.OutboxRepository
	rate         decimal.Decimal
	metrics      *infra.Metrics
}

// NewEngine creates a ledger engine. rate is the default commission rate
// applied by SplitAndApply.
func NewEngine(repos repository.Repositories, rate decimal.Decimal, metrics *infra.Metrics) *Engine {
	return &Engine{
		accounts:     repos.Accounts,
		transactions: repos.Transactions,
		outbox:       repos.Outbox,
		rate:         rate,
		metrics:      metrics,
	}
}

// Rate returns the configured commission rate.
func (e *Engine) Rate() decimal.Decimal { return e.rate }

// EnsureAccount returns the (user, currency) account, creating it with a zero
// balance on first use.
func (e *Engine) EnsureAccount(ctx context.Context, db repository.DBTX, userID uuid.UUID, currency string) (*domain.Account, error) {
	currency = domain.NormalizeCurrency(currency)
	if err := domain.ValidateCurrency(currency); err != nil {
		return nil, err
	}
	acct, err := e.accounts.Ensure(ctx, db, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	return acct, nil
}

// ApplyMovement moves a signed amount on one account.
//
// A movement with a correlation id is recorded at most once per (account,
// type): a replay returns the stored row with Idempotent set, and a replay
// carrying a different amount is a DUPLICATE_MOVEMENT.
func (e *Engine) ApplyMovement(ctx context.Context, db repository.DBTX, p domain.MovementParams) (*domain.MovementResult, error) {
	if p.Amount == 0 {
		return nil, domain.ErrInvalidAmount("amount must be non-zero")
	}

	if p.CorrelationID != "" {
		existing, err := e.transactions.FindByCorrelation(ctx, db, p.AccountID, p.Type, p.CorrelationID)
		if err != nil {
			return nil, fmt.Errorf("find movement: %w", err)
		}
		if existing != nil {
			if existing.Amount != p.Amount {
				return nil, domain.ErrDuplicateMovement(p.CorrelationID)
			}
			acct, err := e.accounts.FindByID(ctx, db, p.AccountID)
			if err != nil {
				return nil, fmt.Errorf("find account: %w", err)
			}
			return &domain.MovementResult{Transaction: existing, Account: acct, Idempotent: true}, nil
		}
	}

	acct, err := e.accounts.ApplyDelta(ctx, db, p.AccountID, p.Amount, domain.DeltaGuard{AllowBlocked: p.Compensation})
	if err != nil {
		return nil, fmt.Errorf("apply delta: %w", err)
	}
	if acct == nil {
		return nil, e.rejection(ctx, db, p)
	}

	status := p.Status
	if status == "" {
		status = domain.TxSucceeded
	}
	row := &domain.Transaction{
		AccountID:     acct.ID,
		UserID:        acct.UserID,
		Currency:      acct.Currency,
		ReservationID: p.ReservationID,
		Type:          p.Type,
		Amount:        p.Amount,
		BalanceBefore: acct.Balance - p.Amount,
		BalanceAfter:  acct.Balance,
		Description:   p.Description,
		CorrelationID: strPtr(p.CorrelationID),
		ReversalOf:    p.ReversalOf,
		Status:        status,
	}
	entry, err := e.transactions.Insert(ctx, db, row)
	if err != nil {
		if domain.HasCode(err, domain.CodeConstraintConflict) {
			return nil, domain.ErrDuplicateMovement(p.CorrelationID)
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	event := domain.NewTransactionPostedEvent(entry)
	if err := e.outbox.Insert(ctx, db, event); err != nil {
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}
	e.metrics.LedgerMovement(string(entry.Type))

	return &domain.MovementResult{
		Transaction: entry,
		Account:     acct,
		Events:      []domain.OutboxDraft{event},
	}, nil
}

// rejection explains why the compare-and-set update matched no row.
func (e *Engine) rejection(ctx context.Context, db repository.DBTX, p domain.MovementParams) error {
	acct, err := e.accounts.FindByID(ctx, db, p.AccountID)
	if err != nil {
		return fmt.Errorf("find account: %w", err)
	}
	switch {
	case acct == nil:
		return domain.ErrAccountNotFound(p.AccountID.String())
	case acct.Status == domain.AccountBlocked && !p.Compensation:
		return domain.ErrWalletBlocked()
	default:
		return domain.ErrInsufficientFunds()
	}
}

// ReverseMovement appends the opposite of the original movement. A debit comes
// back as a refund, which a blocked wallet still accepts; a credit is taken
// back as a refund_reversal. Each original is reversed at most once.
func (e *Engine) ReverseMovement(ctx context.Context, db repository.DBTX, originalID uuid.UUID, description string) (*domain.MovementResult, error) {
	original, err := e.transactions.FindByID(ctx, db, originalID)
	if err != nil {
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	if original == nil {
		return nil, domain.ErrNotFound("transaction", originalID.String())
	}

	prior, err := e.transactions.FindReversal(ctx, db, original.ID)
	if err != nil {
		return nil, fmt.Errorf("find reversal: %w", err)
	}
	if prior != nil {
		acct, err := e.accounts.FindByID(ctx, db, original.AccountID)
		if err != nil {
			return nil, fmt.Errorf("find account: %w", err)
		}
		return &domain.MovementResult{Transaction: prior, Account: acct, Idempotent: true}, nil
	}

	if description == "" {
		description = fmt.Sprintf("reversal of %s", original.ID)
	}
	res, err := e.ApplyMovement(ctx, db, domain.MovementParams{
		AccountID:     original.AccountID,
		Type:          domain.ReversalType(original.Amount),
		Amount:        -original.Amount,
		Description:   description,
		ReservationID: original.ReservationID,
		ReversalOf:    &original.ID,
		Compensation:  original.Amount < 0,
	})
	if err != nil {
		return nil, fmt.Errorf("reverse %s: %w", original.ID, err)
	}
	return res, nil
}

type leg struct {
	slot   **domain.Transaction
	params domain.MovementParams
}

// SplitAndApply debits the gross amount from the payer and credits the net
// amount to the payee and the commission to the platform. Zero legs are
// skipped. Legs are applied in account id order so concurrent splits lock
// rows in the same order.
func (e *Engine) SplitAndApply(ctx context.Context, db repository.DBTX, p domain.SplitParams) (*domain.SplitResult, error) {
	if err := domain.ValidatePositiveAmount(p.Gross); err != nil {
		return nil, err
	}
	rate := e.rate
	if p.Rate != nil {
		rate = *p.Rate
	}
	split, err := ComputeSplit(p.Gross, rate)
	if err != nil {
		return nil, err
	}

	result := &domain.SplitResult{Split: split}
	legs := []leg{
		{&result.Payer, domain.MovementParams{AccountID: p.PayerAccountID, Type: domain.TxReservationPayment, Amount: -split.Gross}},
		{&result.Payee, domain.MovementParams{AccountID: p.PayeeAccountID, Type: domain.TxReservationRevenue, Amount: split.Net}},
		{&result.Platform, domain.MovementParams{AccountID: p.PlatformAccountID, Type: domain.TxCommission, Amount: split.Commission}},
	}
	legs = slices.DeleteFunc(legs, func(l leg) bool { return l.params.Amount == 0 })
	slices.SortStableFunc(legs, func(a, b leg) int {
		return bytes.Compare(a.params.AccountID[:], b.params.AccountID[:])
	})

	applied, replayed := 0, 0
	for _, l := range legs {
		l.params.Description = p.Description
		l.params.CorrelationID = p.CorrelationID
		l.params.ReservationID = p.ReservationID
		res, err := e.ApplyMovement(ctx, db, l.params)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", l.params.Type, err)
		}
		*l.slot = res.Transaction
		if res.Idempotent {
			replayed++
		} else {
			applied++
		}
	}
	if replayed > 0 && applied > 0 {
		// A partial replay means a leg was recorded outside this split.
		return nil, domain.ErrDuplicateMovement(p.CorrelationID)
	}
	result.Idempotent = replayed > 0
	return result, nil
}

// SettleTransaction moves a pending movement to a terminal status. Settling
// to the current status is a no-op; a terminal movement never changes.
func (e *Engine) SettleTransaction(ctx context.Context, db repository.DBTX, id uuid.UUID, status domain.TransactionStatus) (*domain.Transaction, bool, error) {
	current, err := e.transactions.FindByID(ctx, db, id)
	if err != nil {
		return nil, false, fmt.Errorf("find transaction: %w", err)
	}
	if current == nil {
		return nil, false, domain.ErrNotFound("transaction", id.String())
	}
	_, changed, err := current.Status.Advance(status)
	if err != nil || !changed {
		return current, false, err
	}

	updated, err := e.transactions.UpdateStatus(ctx, db, id, status)
	if err != nil {
		return nil, false, fmt.Errorf("update transaction status: %w", err)
	}
	if updated == nil {
		return nil, false, domain.ErrTerminalState(string(current.Status))
	}
	if err := e.outbox.Insert(ctx, db, domain.NewTransactionSettledEvent(updated)); err != nil {
		return nil, false, fmt.Errorf("insert outbox event: %w", err)
	}
	return updated, true, nil
}

// SetAccountStatus blocks or unblocks an account.
func (e *Engine) SetAccountStatus(ctx context.Context, db repository.DBTX, accountID uuid.UUID, status domain.AccountStatus) (*domain.Account, error) {
	if status != domain.AccountActive && status != domain.AccountBlocked {
		return nil, domain.ErrValidation(fmt.Sprintf("invalid account status: %s", status))
	}
	acct, err := e.accounts.SetStatus(ctx, db, accountID, status)
	if err != nil {
		return nil, fmt.Errorf("set account status: %w", err)
	}
	if acct == nil {
		return nil, domain.ErrAccountNotFound(accountID.String())
	}
	if err := e.outbox.Insert(ctx, db, domain.NewAccountStatusEvent(acct)); err != nil {
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}
	return acct, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
