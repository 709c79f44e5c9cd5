package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/tcgpacks/internal/repos/ledger"
)

const selectAccount = `
	SELECT balance, version
	FROM credit_accounts
	WHERE user_id = $1
`

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetAccount reads outside any transaction. A user without a row has
// balance 0 at version 0.
func (r *ledgerRepo) GetAccount(ctx context.Context, userID string) (ledger.Account, error) {
	return readAccount(ctx, r.db, userID)
}

func (r *ledgerRepo) ReadAccount(ctx context.Context, tx *sql.Tx, userID string) (ledger.Account, error) {
	return readAccount(ctx, tx, userID)
}

func readAccount(ctx context.Context, q rowQuerier, userID string) (ledger.Account, error) {
	acc := ledger.Account{UserID: userID}

	err := q.QueryRowContext(ctx, selectAccount, userID).Scan(&acc.Balance, &acc.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return acc, nil
		}

		return ledger.Account{}, fmt.Errorf("read account: %w", err)
	}

	return acc, nil
}
