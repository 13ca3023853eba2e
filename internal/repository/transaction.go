package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type transactionRepo struct{}

// NewTransactionRepository returns a pgx-backed TransactionRepository.
func NewTransactionRepository() TransactionRepository {
	return &transactionRepo{}
}

const transactionColumns = `id, account_id, user_id, currency, reservation_id, type, amount,
	balance_before, balance_after, description, correlation_id, reversal_of, status,
	created_at, updated_at`

func (r *transactionRepo) Insert(ctx context.Context, db DBTX, tx *domain.Transaction) (*domain.Transaction, error) {
	row := db.QueryRow(ctx, `
		INSERT INTO transactions
		  (account_id, user_id, currency, reservation_id, type, amount,
		   balance_before, balance_after, description, correlation_id, reversal_of, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+transactionColumns,
		tx.AccountID,
		tx.UserID,
		tx.Currency,
		tx.ReservationID,
		string(tx.Type),
		infra.Int64ToNumeric(tx.Amount),
		infra.Int64ToNumeric(tx.BalanceBefore),
		infra.Int64ToNumeric(tx.BalanceAfter),
		tx.Description,
		tx.CorrelationID,
		tx.ReversalOf,
		string(tx.Status),
	)
	inserted, err := scanTransaction(row)
	if err != nil {
		return nil, mapWriteErr("insert transaction", err)
	}
	return inserted, nil
}

func (r *transactionRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Transaction, error) {
	row := db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (r *transactionRepo) FindByCorrelation(ctx context.Context, db DBTX, accountID uuid.UUID, txType domain.TransactionType, correlationID string) (*domain.Transaction, error) {
	row := db.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1 AND type = $2 AND correlation_id = $3`,
		accountID, string(txType), correlationID)
	return scanTransaction(row)
}

func (r *transactionRepo) FindReversal(ctx context.Context, db DBTX, originalID uuid.UUID) (*domain.Transaction, error) {
	row := db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reversal_of = $1`, originalID)
	return scanTransaction(row)
}

func (r *transactionRepo) UpdateStatus(ctx context.Context, db DBTX, id uuid.UUID, status domain.TransactionStatus) (*domain.Transaction, error) {
	row := db.QueryRow(ctx, `
		UPDATE transactions SET status = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+transactionColumns, id, string(status))
	return scanTransaction(row)
}

func (r *transactionRepo) ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit, offset int) ([]domain.Transaction, int, error) {
	limit = pageLimit(limit)
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.QueryRow(ctx, `SELECT count(*) FROM transactions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	rows, err := db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs, err := collectTransactions(rows)
	return txs, total, err
}

func (r *transactionRepo) ListByAccount(ctx context.Context, db DBTX, accountID uuid.UUID) ([]domain.Transaction, error) {
	rows, err := db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1
		ORDER BY seq ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query account transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID, &tx.AccountID, &tx.UserID, &tx.Currency, &tx.ReservationID, &tx.Type,
		money(&tx.Amount), money(&tx.BalanceBefore), money(&tx.BalanceAfter),
		&tx.Description, &tx.CorrelationID, &tx.ReversalOf, &tx.Status,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &tx, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}
