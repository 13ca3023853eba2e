package ledger

import (
	"context"
	"fmt"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/repository"
	"github.com/google/uuid"
)

// AuditResult holds the invariant checks of one account.
type AuditResult struct {
	AccountID  uuid.UUID
	Balance    int64
	Sum        int64
	Movements  int
	Invariants []InvariantCheck
	AllPassed  bool
}

// InvariantCheck records a single invariant validation.
type InvariantCheck struct {
	Name   string
	Passed bool
	Detail string
}

// Auditor recomputes account balances from the transaction history.
//
// Invariants:
//  1. Balance non-negativity
//  2. Ledger sum: balance equals the sum of every movement amount
//  3. Chain: each movement starts where the previous one ended, from zero
//  4. Ledger parity: the last snapshot matches the account row
type Auditor struct {
	accounts     repository.AccountRepository
	transactions repository.TransactionRepository
}

// NewAuditor creates an auditor.
func NewAuditor(repos repository.Repositories) *Auditor {
	return &Auditor{accounts: repos.Accounts, transactions: repos.Transactions}
}

// AuditAccount checks one account. db should give a consistent snapshot.
func (a *Auditor) AuditAccount(ctx context.Context, db repository.DBTX, accountID uuid.UUID) (*AuditResult, error) {
	acct, err := a.accounts.FindByID(ctx, db, accountID)
	if err != nil {
		return nil, fmt.Errorf("audit find account: %w", err)
	}
	if acct == nil {
		return nil, domain.ErrAccountNotFound(accountID.String())
	}
	txs, err := a.transactions.ListByAccount(ctx, db, accountID)
	if err != nil {
		return nil, fmt.Errorf("audit list movements: %w", err)
	}
	return audit(acct, txs), nil
}

// AuditUser checks every account of the user.
func (a *Auditor) AuditUser(ctx context.Context, db repository.DBTX, userID uuid.UUID) ([]*AuditResult, error) {
	accts, err := a.accounts.ListByUser(ctx, db, userID)
	if err != nil {
		return nil, fmt.Errorf("audit list accounts: %w", err)
	}
	out := make([]*AuditResult, 0, len(accts))
	for _, acct := range accts {
		res, err := a.AuditAccount(ctx, db, acct.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func audit(acct *domain.Account, txs []domain.Transaction) *AuditResult {
	var sum, prev int64
	chainOK, broken := true, ""
	for _, tx := range txs {
		sum += tx.Amount
		if chainOK && (tx.BalanceBefore != prev || tx.BalanceAfter != tx.BalanceBefore+tx.Amount) {
			chainOK = false
			broken = tx.ID.String()
		}
		prev = tx.BalanceAfter
	}

	checks := []InvariantCheck{
		{
			Name:   "balance_non_negative",
			Passed: acct.Balance >= 0,
			Detail: fmt.Sprintf("balance=%d", acct.Balance),
		},
		{
			Name:   "ledger_sum",
			Passed: acct.Balance == sum,
			Detail: fmt.Sprintf("balance=%d sum=%d", acct.Balance, sum),
		},
		{
			Name:   "chain",
			Passed: chainOK,
			Detail: fmt.Sprintf("movements=%d broken_at=%s", len(txs), broken),
		},
		{
			Name:   "ledger_parity",
			Passed: prev == acct.Balance,
			Detail: fmt.Sprintf("account=%d last_snapshot=%d", acct.Balance, prev),
		},
	}

	all := true
	for _, c := range checks {
		all = all && c.Passed
	}
	return &AuditResult{
		AccountID:  acct.ID,
		Balance:    acct.Balance,
		Sum:        sum,
		Movements:  len(txs),
		Invariants: checks,
		AllPassed:  all,
	}
}
