package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/tcgpacks/internal/infra/pgutils"
	"github.com/fastprodman/tcgpacks/internal/repos/ledger"
)

// CompareAndSwap writes newBalance only if the account is still at version.
// Version 0 creates the row; losing that insert race is also a conflict.
// It returns the new version.
func (r *ledgerRepo) CompareAndSwap(
	ctx context.Context,
	tx *sql.Tx,
	userID string,
	version, newBalance int64,
) (int64, error) {
	if newBalance < 0 {
		return 0, ledger.ErrNegativeBalance
	}

	var (
		res sql.Result
		err error
	)

	if version == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO credit_accounts (user_id, balance, version, updated_at)
			VALUES ($1, $2, 1, now())
			ON CONFLICT (user_id) DO NOTHING
		`, userID, newBalance)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE credit_accounts
			SET balance = $3, version = version + 1, updated_at = now()
			WHERE user_id = $1 AND version = $2
		`, userID, version, newBalance)
	}

	if err != nil {
		if pgutils.IsCheckViolation(err) {
			return 0, ledger.ErrNegativeBalance
		}

		return 0, fmt.Errorf("swap balance: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		return 0, ledger.ErrConcurrentModification
	}

	return version + 1, nil
}
