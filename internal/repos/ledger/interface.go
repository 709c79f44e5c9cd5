package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrConcurrentModification is returned when a compare-and-swap finds the
	// account version moved since it was read.
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrNegativeBalance        = errors.New("balance would become negative")
	ErrDailyClaimExists       = errors.New("daily claim already recorded for this day")
)

// Account is a user's balance row. Version 0 means no row exists yet.
type Account struct {
	UserID  string
	Balance int64
	Version int64
}

type Entry struct {
	ID           int64
	UserID       string
	Amount       int64
	Description  string
	Type         string
	BalanceAfter int64
	CreatedAt    time.Time
}

type Ledger interface {
	GetAccount(ctx context.Context, userID string) (Account, error)
	ReadAccount(ctx context.Context, tx *sql.Tx, userID string) (Account, error)
	CompareAndSwap(ctx context.Context, tx *sql.Tx, userID string, version, newBalance int64) (int64, error)
	AppendEntry(ctx context.Context, tx *sql.Tx, e Entry) (Entry, error)
	ListEntries(ctx context.Context, userID string, limit, offset int) ([]Entry, error)
	CountEntries(ctx context.Context, userID string) (int, error)
	SumEntries(ctx context.Context, userID string) (int64, error)
	LastDailyClaim(ctx context.Context, userID string) (time.Time, bool, error)
	MarkDailyClaim(ctx context.Context, tx *sql.Tx, userID string, at time.Time) error
}
