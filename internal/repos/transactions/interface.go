package transactions

import (
	"context"
	"database/sql"
	"errors"
)

var ErrDuplicateTransaction = errors.New("duplicate transaction")

// Transactions records idempotency keys of balance changes.
type Transactions interface {
	// Reserve consumes key inside tx. A key that was already used returns
	// ErrDuplicateTransaction.
	Reserve(ctx context.Context, tx *sql.Tx, key, userID string) error
}
