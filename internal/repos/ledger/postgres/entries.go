package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/tcgpacks/internal/infra/pgutils"
	"github.com/fastprodman/tcgpacks/internal/repos/ledger"
)

func (r *ledgerRepo) AppendEntry(ctx context.Context, tx *sql.Tx, e ledger.Entry) (ledger.Entry, error) {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO credit_transactions (user_id, amount, description, type, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, clock_timestamp())
		RETURNING id, created_at
	`, e.UserID, e.Amount, e.Description, e.Type, e.BalanceAfter).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if pgutils.IsCheckViolation(err) {
			return ledger.Entry{}, fmt.Errorf("append entry: %w", ledger.ErrNegativeBalance)
		}

		return ledger.Entry{}, fmt.Errorf("append entry: %w", err)
	}

	return e, nil
}

// ListEntries returns a page of entries, newest first. Ids follow insert
// order, which created_at does not when the writing tx ran long.
func (r *ledgerRepo) ListEntries(ctx context.Context, userID string, limit, offset int) ([]ledger.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, amount, description, type, balance_after, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	//nolint:errcheck
	defer rows.Close()

	entries := make([]ledger.Entry, 0, limit)

	for rows.Next() {
		var e ledger.Entry

		err = rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Description, &e.Type, &e.BalanceAfter, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}

		entries = append(entries, e)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	return entries, nil
}

func (r *ledgerRepo) CountEntries(ctx context.Context, userID string) (int, error) {
	var n int

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM credit_transactions WHERE user_id = $1
	`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}

	return n, nil
}

func (r *ledgerRepo) SumEntries(ctx context.Context, userID string) (int64, error) {
	var sum int64

	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT FROM credit_transactions WHERE user_id = $1
	`, userID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum entries: %w", err)
	}

	return sum, nil
}
