package transactions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/tcgpacks/internal/infra/pgutils"
	"github.com/fastprodman/tcgpacks/internal/repos/transactions"
	"github.com/fastprodman/tcgpacks/internal/repos/users"
)

var _ transactions.Transactions = (*transactionsRepo)(nil)

type transactionsRepo struct{ db *sql.DB }

func New(db *sql.DB) *transactionsRepo {
	return &transactionsRepo{db: db}
}

func (r *transactionsRepo) Reserve(ctx context.Context, tx *sql.Tx, key, userID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transaction_keys (key, user_id)
		VALUES ($1, $2)
	`, key, userID)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return transactions.ErrDuplicateTransaction
		}

		if pgutils.IsForeignKeyViolation(err) {
			return users.ErrUserNotFound
		}

		return fmt.Errorf("reserve transaction key: %w", err)
	}

	return nil
}
