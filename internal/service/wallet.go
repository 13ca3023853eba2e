package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/ledger"
	"github.com/carpoolhub/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Balance is one currency of a user's wallet.
type Balance struct {
	AccountID    uuid.UUID            `json:"account_id"`
	Currency     string               `json:"currency"`
	BalanceCents int64                `json:"balance_cents"`
	Status       domain.AccountStatus `json:"status"`
}

// TransactionPage is a page of ledger movements.
type TransactionPage struct {
	Items  []domain.Transaction `json:"items"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// WalletService serves wallet reads and account administration.
type WalletService struct {
	pool    repository.Pool
	repos   repository.Repositories
	engine  *ledger.Engine
	auditor *ledger.Auditor
	logger  *slog.Logger
}

// NewWalletService creates a new wallet service.
func NewWalletService(pool repository.Pool, repos repository.Repositories, engine *ledger.Engine, logger *slog.Logger) *WalletService {
	return &WalletService{
		pool:    pool,
		repos:   repos,
		engine:  engine,
		auditor: ledger.NewAuditor(repos),
		logger:  logger,
	}
}

// Balances returns the user's balance in every currency they hold.
func (s *WalletService) Balances(ctx context.Context, userID uuid.UUID) ([]Balance, error) {
	accounts, err := s.repos.Accounts.ListByUser(ctx, s.pool, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]Balance, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, Balance{AccountID: a.ID, Currency: a.Currency, BalanceCents: a.Balance, Status: a.Status})
	}
	return out, nil
}

// Transactions returns a page of the user's movements, newest first.
func (s *WalletService) Transactions(ctx context.Context, userID uuid.UUID, limit, offset int) (*TransactionPage, error) {
	limit, offset = clampPage(limit, offset)
	items, total, err := s.repos.Transactions.ListByUser(ctx, s.pool, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if items == nil {
		items = []domain.Transaction{}
	}
	return &TransactionPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Payouts returns a page of the user's payouts, newest first.
func (s *WalletService) Payouts(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Payout, error) {
	limit, offset = clampPage(limit, offset)
	out, err := s.repos.Payouts.ListByUser(ctx, s.pool, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	if out == nil {
		out = []domain.Payout{}
	}
	return out, nil
}

// Recharges returns a page of the user's recharges, newest first.
func (s *WalletService) Recharges(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Recharge, error) {
	limit, offset = clampPage(limit, offset)
	out, err := s.repos.Recharges.ListByUser(ctx, s.pool, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list recharges: %w", err)
	}
	if out == nil {
		out = []domain.Recharge{}
	}
	return out, nil
}

// SetAccountStatus blocks or unblocks the user's wallet in one currency.
func (s *WalletService) SetAccountStatus(ctx context.Context, userID uuid.UUID, currency string, status domain.AccountStatus) (*domain.Account, error) {
	currency = domain.NormalizeCurrency(currency)
	var out *domain.Account
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		acct, err := s.repos.Accounts.FindByUserCurrency(ctx, tx, userID, currency)
		if err != nil {
			return fmt.Errorf("find account: %w", err)
		}
		if acct == nil {
			return domain.ErrAccountNotFound(userID.String() + "/" + currency)
		}
		out, err = s.engine.SetAccountStatus(ctx, tx, acct.ID, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("account status changed", "account_id", out.ID, "user_id", userID, "status", status)
	return out, nil
}

// Audit checks the ledger invariants of every account of the user.
func (s *WalletService) Audit(ctx context.Context, userID uuid.UUID) ([]*ledger.AuditResult, error) {
	return s.auditor.AuditUser(ctx, s.pool, userID)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
